package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openfunnel/maestro/pkg/llm"
	"github.com/openfunnel/maestro/pkg/models"
)

// ActiveEmailBuilder is the sticky-routing label for the builder agent.
const ActiveEmailBuilder = "email_builder_agent"

// NextActionSaveTemplate routes the builder into the save-template workflow.
const NextActionSaveTemplate = "save_template"

// exitKeywords drop the builder's sticky mode. Service names are included so
// "use salesforce" style requests fall back to the orchestrator.
var exitKeywords = []string{"stop", "exit", "done", "cancel", "salesforce", "linkly", "brevo", "main menu"}

const emailBuilderSystemPrompt = `You are an expert Email Marketing Copywriter.
Your task is to draft OR REFINE a professional, engaging email based on the user's request and conversation history.

CONTEXT:
If a 'Current Draft' is provided, you must REFINE it based on the user's latest feedback (e.g., "make it shorter", "add signature").
If no draft exists, create a new one.

OUTPUT FORMAT:
Return a JSON object with the following keys:
{
    "subject": "The email subject line",
    "body_html": "The email body in HTML format (clean, responsive, no extra css)",
    "body_text": "The plain text version of the email",
    "tone": "The tone used (e.g., Professional, Friendly)",
    "suggested_audience": "Who this email is good for"
}

RULES:
1. ONLY return JSON. No markdown blocking.
2. Be creative but professional.
3. Use placeholders like {{FirstName}} if appropriate for personalization.
4. If the user asks for a revision, keep the parts they didn't ask to change (unless improvements are needed).`

// EmailBuilder drafts and refines email content in a sticky conversation
// loop. A save intent hands off to the save-template workflow; exit keywords
// return control to the orchestrator.
type EmailBuilder struct {
	chat         llm.Chat
	draftModel   string
	summaryModel string
	logger       *slog.Logger
}

// NewEmailBuilder creates the builder agent.
func NewEmailBuilder(chat llm.Chat, draftModel, summaryModel string, logger *slog.Logger) *EmailBuilder {
	if draftModel == "" {
		draftModel = "gpt-4o"
	}
	if summaryModel == "" {
		summaryModel = "gpt-4o-mini"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EmailBuilder{chat: chat, draftModel: draftModel, summaryModel: summaryModel, logger: logger}
}

// Run executes one builder turn.
func (b *EmailBuilder) Run(ctx context.Context, state *models.SessionState) error {
	lastMsg := strings.ToLower(lastUserUtterance(state))

	if isSaveIntent(lastMsg) {
		if state.GeneratedEmailContent == nil {
			state.FinalResponse = "I don't have a draft to save yet. Let's create one first!"
			return nil
		}
		b.logger.Info("Save intent detected, handing off to save-template workflow")
		state.NextAction = NextActionSaveTemplate
		state.ActiveWorkflow = ""
		return nil
	}

	for _, kw := range exitKeywords {
		if strings.Contains(lastMsg, kw) {
			b.logger.Info("Exit intent detected, leaving builder mode", "keyword", kw)
			state.ActiveWorkflow = ""
			state.FinalResponse = "Exiting Email Builder. What else can I do for you?"
			return nil
		}
	}

	state.ActiveWorkflow = ActiveEmailBuilder

	content, err := b.draft(ctx, state)
	if err != nil {
		b.logger.Error("Email generation failed", "error", err)
		state.Error = fmt.Sprintf("Failed to generate email: %v", err)
		return nil
	}
	state.GeneratedEmailContent = content
	b.logger.Info("Email draft ready", "subject", content.Subject)

	state.FinalResponse = b.confirmation(ctx, state, content)
	return nil
}

func (b *EmailBuilder) draft(ctx context.Context, state *models.SessionState) (*models.EmailContent, error) {
	var history strings.Builder
	msgs := state.Messages
	if len(msgs) > 5 {
		msgs = msgs[len(msgs)-5:]
	}
	for _, msg := range msgs {
		role := "Assistant"
		if msg.Role == models.RoleHuman {
			role = "User"
		}
		fmt.Fprintf(&history, "%s: %s\n", role, msg.Content)
	}

	sessionCtx, _ := json.MarshalIndent(state.SessionContext, "", "  ")
	currentDraft := "None"
	if state.GeneratedEmailContent != nil {
		if data, err := json.MarshalIndent(state.GeneratedEmailContent, "", "  "); err == nil {
			currentDraft = string(data)
		}
	}

	userPrompt := fmt.Sprintf(`User Request: %s

Conversation History:
%s

Context:
%s

Current Draft (if any):
%s

Draft/Refine the email now.`, state.UserGoal, history.String(), sessionCtx, currentDraft)

	raw, err := b.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: emailBuilderSystemPrompt,
		UserPrompt:   userPrompt,
		Model:        b.draftModel,
		Temperature:  0.7,
	})
	if err != nil {
		return nil, err
	}

	var content models.EmailContent
	if err := json.Unmarshal([]byte(models.StripCodeFences(raw)), &content); err != nil {
		return nil, fmt.Errorf("parse draft response: %w", err)
	}
	return &content, nil
}

// confirmation generates the one-line reply shown alongside the draft.
func (b *EmailBuilder) confirmation(ctx context.Context, state *models.SessionState, content *models.EmailContent) string {
	prompt := fmt.Sprintf(`You just updated/created an email with subject: %q.
User's last request was: %q

Generate a short, friendly 1-sentence response to the user confirming the action (e.g., "I've added the signature for you." or "Here is the draft email.").`,
		content.Subject, lastUserUtterance(state))

	reply, err := b.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a helpful assistant.",
		UserPrompt:   prompt,
		Model:        b.summaryModel,
		Temperature:  0.7,
	})
	if err != nil {
		b.logger.Error("Draft confirmation generation failed", "error", err)
		return "Here is the draft email."
	}
	return strings.TrimSpace(reply)
}

func isSaveIntent(msg string) bool {
	if !strings.Contains(msg, "save") {
		return false
	}
	return strings.Contains(msg, "template") || strings.Contains(msg, "brevo")
}

// lastUserUtterance returns the most recent message content, falling back to
// the turn's goal when the log is empty.
func lastUserUtterance(state *models.SessionState) string {
	if len(state.Messages) > 0 {
		return state.Messages[len(state.Messages)-1].Content
	}
	return state.UserGoal
}
