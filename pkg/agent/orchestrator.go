package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/llm"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// NextActionComplete terminates the turn through the completion node.
const NextActionComplete = "complete"

const casualChatPrefix = "casual_chat:"

// casualFallback is sent when the conversational model call itself fails.
const casualFallback = "Hey there! I'm your Marketing Agent, ready to help with Salesforce campaigns, " +
	"Brevo emails, and Linkly tracking links. What can I do for you today?"

// Orchestrator is the per-turn decision node: it summarizes progress, asks
// the model for the next routing label, and validates the answer.
type Orchestrator struct {
	cfg    *config.Config
	tools  *mcp.Manager
	chat   llm.Chat
	logger *slog.Logger
}

// NewOrchestrator creates the decision node.
func NewOrchestrator(cfg *config.Config, tools *mcp.Manager, chat llm.Chat, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{cfg: cfg, tools: tools, chat: chat, logger: logger}
}

// Decide runs one orchestrator pass, mutating NextAction (and possibly
// FinalResponse / Error) on the state.
func (o *Orchestrator) Decide(ctx context.Context, state *models.SessionState) error {
	state.IterationCount++
	if state.IterationCount >= state.MaxIterations {
		o.logger.Warn("Max iterations reached, completing turn",
			"iterations", state.IterationCount, "max", state.MaxIterations)
		state.NextAction = NextActionComplete
		state.Error = "Maximum iterations reached"
		return nil
	}

	state.ServicesInfo = BuildServicesInfo(o.cfg.Services, o.tools)
	state.ProgressSummary = BuildProgressSummary(state)

	promptCfg, err := o.cfg.GetPrompt("orchestrator")
	if err != nil {
		state.NextAction = NextActionComplete
		state.Error = "orchestrator prompt template not found"
		return fmt.Errorf("orchestrator prompt: %w", err)
	}
	systemPrompt := RenderPrompt(promptCfg, state)

	validActions := o.validActions()
	userPrompt := o.buildUserPrompt(state, validActions)

	raw, err := o.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Model:        promptCfg.Model,
		Temperature:  promptCfg.Temperature,
	})
	if err != nil {
		o.logger.Error("Orchestrator model call failed", "error", err)
		state.Error = fmt.Sprintf("Orchestrator failed: %v", err)
		state.NextAction = NextActionComplete
		return nil
	}

	decision := strings.TrimSpace(raw)
	o.logger.Info("Orchestrator decision", "decision", decision)

	if strings.HasPrefix(decision, casualChatPrefix) {
		utterance := strings.TrimSpace(strings.TrimPrefix(decision, casualChatPrefix))
		state.FinalResponse = o.casualReply(ctx, promptCfg, utterance)
		state.NextAction = NextActionComplete
		return nil
	}

	if !contains(validActions, decision) {
		o.logger.Warn("Invalid routing decision, defaulting to complete", "decision", decision)
		decision = NextActionComplete
	}
	state.NextAction = decision
	state.CurrentAgent = "orchestrator"
	return nil
}

// validActions returns the routing labels the model may answer with.
func (o *Orchestrator) validActions() []string {
	actions := o.cfg.Services.Names()
	return append(actions,
		NextActionComplete,
		"EngagementWorkflow",
		"Email Builder Agent",
		"EmailBuilderAgent",
	)
}

func (o *Orchestrator) buildUserPrompt(state *models.SessionState, validActions []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "User Goal: %s\n\n", state.UserGoal)
	fmt.Fprintf(&b, "Progress So Far:\n%s\n\n", state.ProgressSummary)
	b.WriteString(`Based on the User Goal and Progress Summary above:
- If the goal is ALREADY realized by the completed operations, respond with 'complete'
- If there is NEW work to be done, choose the next agent
- PRIORITY: if the user asks to "track engagement", "check clicks", "find interested members", or "analyze links", route to 'EngagementWorkflow'.
- Do NOT repeat successful operations

`)
	fmt.Fprintf(&b, "What should we do next? Respond with ONLY one of: %s, casual_chat:<message>",
		strings.Join(validActions, ", "))
	return b.String()
}

// casualReply generates the conversational answer for a casual_chat escape.
// The elevated temperature keeps it from sounding canned.
func (o *Orchestrator) casualReply(ctx context.Context, promptCfg *config.PromptConfig, utterance string) string {
	userPrompt := fmt.Sprintf(`The user said: %q

Generate a fun, witty, clever response that:
1. Directly replies to their message in a playful way
2. Briefly mentions you're a Marketing Agent (1-2 sentences max)
3. Hints at your capabilities (Salesforce, Brevo, Linkly)

Keep it conversational, friendly, and engaging. No formal lists or bullet points.`, utterance)

	reply, err := o.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: "You are a friendly, witty Marketing Agent assistant.",
		UserPrompt:   userPrompt,
		Model:        promptCfg.Model,
		Temperature:  0.7,
	})
	if err != nil {
		o.logger.Error("Casual reply generation failed", "error", err)
		return casualFallback
	}
	return strings.TrimSpace(reply)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
