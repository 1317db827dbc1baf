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

// FieldCatalog supplies the editable-field metadata shown in review
// payloads. Implemented by the schema index; a nil catalog yields no fields.
type FieldCatalog interface {
	AvailableFields(object string) []map[string]any
}

// Completion is the terminal node: it shapes final_response, preferring
// specialized-workflow summaries over a generic model-generated one, and
// extracts created records for client hyperlinking.
type Completion struct {
	chat         llm.Chat
	fields       FieldCatalog
	summaryModel string
	emailModel   string
	logger       *slog.Logger
}

// NewCompletion creates the completion node. summaryModel drives the generic
// summary; emailModel the email-workflow one-liner.
func NewCompletion(chat llm.Chat, fields FieldCatalog, summaryModel, emailModel string, logger *slog.Logger) *Completion {
	if summaryModel == "" {
		summaryModel = "gpt-4o-mini"
	}
	if emailModel == "" {
		emailModel = "gpt-4o"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Completion{
		chat:         chat,
		fields:       fields,
		summaryModel: summaryModel,
		emailModel:   emailModel,
		logger:       logger,
	}
}

// Finish produces final_response through a priority tree: explicit response,
// engagement summary, email-workflow summary, proposal review, generic
// model summary.
func (c *Completion) Finish(ctx context.Context, state *models.SessionState) error {
	defer func() { state.CurrentAgent = "completion" }()

	if state.FinalResponse != "" {
		state.AppendMessage(models.RoleAssistant, state.FinalResponse)
		return nil
	}

	if summary, ok := engagementSummary(state); ok {
		c.logger.Info("Using engagement workflow summary")
		// The summary is already the last message; don't append it twice.
		state.FinalResponse = summary
		return nil
	}

	if done := c.emailWorkflowSummary(ctx, state); done {
		return nil
	}

	if len(state.MCPResults) == 0 {
		state.FinalResponse = "No operations were performed."
		state.AppendMessage(models.RoleAssistant, state.FinalResponse)
		return nil
	}

	if done := c.proposalReview(state); done {
		return nil
	}

	c.genericSummary(ctx, state)
	return nil
}

// engagementSummary detects a completed engagement workflow: its context
// keys are populated and the last message is a substantial assistant
// summary.
func engagementSummary(state *models.SessionState) (string, bool) {
	ctx := state.EngagementWorkflowContext
	if ctx == nil {
		return "", false
	}
	_, hasSummary := ctx["update_summary"]
	_, hasClicked := ctx["members_who_clicked"]
	_, hasTotal := ctx["total_clicks_found"]
	if !hasSummary && !hasClicked && !hasTotal {
		return "", false
	}

	last := models.ChatMessage{}
	if len(state.Messages) > 0 {
		last = state.Messages[len(state.Messages)-1]
	}
	if last.Role != models.RoleAssistant || len(last.Content) <= 50 {
		return "", false
	}
	return last.Content, true
}

// emailWorkflowSummary generates the one-line outcome of the email-send
// workflow and registers the campaign for client linking.
func (c *Completion) emailWorkflowSummary(ctx context.Context, state *models.SessionState) bool {
	wfCtx := state.EmailWorkflowContext
	if wfCtx == nil {
		return false
	}
	campaignID, _ := wfCtx["campaign_id"].(string)
	if campaignID == "" {
		return false
	}
	campaignName, _ := wfCtx["campaign_name"].(string)
	if campaignName == "" {
		campaignName = "Campaign"
	}

	var prompt string
	if state.Error != "" {
		prompt = fmt.Sprintf("The email campaign '%s' encountered an error: %s. Briefly summarize this failure in natural language.",
			campaignName, state.Error)
	} else {
		prompt = fmt.Sprintf("The email campaign '%s' was processed successfully (emails sent, Salesforce updated). "+
			"Generate a brief, natural, friendly success message. "+
			"Do NOT mention template IDs, recipient counts, or tracking details. "+
			"Do NOT say 'I have successfully processed...', just state it naturally.", campaignName)
	}

	summary, err := c.chat.Complete(ctx, llm.CompletionRequest{
		UserPrompt:  prompt,
		Model:       c.emailModel,
		Temperature: 0.7,
	})
	if err != nil {
		c.logger.Error("Email summary generation failed", "error", err)
		summary = fmt.Sprintf("Processed %s.", campaignName)
	}
	summary = strings.TrimSpace(summary)

	state.FinalResponse = summary
	state.AddCreatedRecord("Campaign", models.CreatedRecord{ID: campaignID, Name: campaignName})
	state.AppendMessage(models.RoleAssistant, summary)
	return true
}

// proposalReview handles the planner-fallback path where a propose_action
// tool output flowed through the generic loop: it emits a review_proposal
// control payload as the final response.
func (c *Completion) proposalReview(state *models.SessionState) bool {
	for _, serviceData := range state.MCPResults {
		if serviceData == nil {
			continue
		}

		var contacts []map[string]any
		for _, tr := range serviceData.ToolResults {
			toolName := strings.ToLower(tr.ToolName)
			if strings.Contains(toolName, "run_dynamic_soql") && tr.Status == models.CallStatusSuccess {
				contacts = contactsFromResponse(tr.ResponseText)
			}

			if !strings.Contains(toolName, "propose_action") {
				continue
			}

			objectName, _ := tr.Request["object_name"].(string)
			if objectName == "" {
				objectName = "Record"
			}
			actionType, _ := tr.Request["action_type"].(string)
			if actionType == "" {
				actionType = "create"
			}

			var fields []map[string]any
			if fm, ok := tr.Request["fields"].(map[string]any); ok {
				for k, v := range fm {
					if v == nil || strings.TrimSpace(models.Stringify(v)) == "" {
						continue
					}
					fields = append(fields, map[string]any{"name": k, "value": v, "label": k})
				}
			}

			var available []map[string]any
			if c.fields != nil {
				available = c.fields.AvailableFields(objectName)
			}

			message := fmt.Sprintf("I'm ready to %s the %s.", actionType, objectName)
			if len(contacts) > 0 {
				message += fmt.Sprintf(" Found %d related records.", len(contacts))
			}
			message += " Please review and confirm."

			payload := map[string]any{
				"type": "review_proposal",
				"proposal": map[string]any{
					"object":           objectName,
					"fields":           fields,
					"action_type":      actionType,
					"contact_count":    len(contacts),
					"related_records":  contacts,
					"available_fields": available,
					"generated_by":     "Agent",
				},
				"message": message,
			}

			data, err := json.Marshal(payload)
			if err != nil {
				c.logger.Error("Proposal payload marshal failed", "error", err)
				return false
			}
			c.logger.Info("Proposal detected, entering review mode", "object", objectName)
			state.FinalResponse = string(data)
			state.AppendMessage(models.RoleAssistant, state.FinalResponse)
			return true
		}
	}
	return false
}

// genericSummary asks the model for a natural-language wrap-up of the
// turn's operations, honoring a global error, then extracts created records.
func (c *Completion) genericSummary(ctx context.Context, state *models.SessionState) {
	type formattedResult struct {
		Tool       string         `json:"tool"`
		Status     string         `json:"status"`
		Object     string         `json:"object"`
		Fields     map[string]any `json:"fields"`
		RecordID   string         `json:"record_id,omitempty"`
		RecordName string         `json:"record_name,omitempty"`
	}
	type serviceContext struct {
		Service string                  `json:"service"`
		Summary models.ExecutionSummary `json:"summary"`
		Results []formattedResult       `json:"results"`
	}

	var operations []serviceContext
	for service, serviceData := range state.MCPResults {
		if serviceData == nil || len(serviceData.ToolResults) == 0 {
			continue
		}
		sc := serviceContext{Service: service, Summary: serviceData.ExecutionSummary}
		for _, tr := range serviceData.ToolResults {
			objectName, _ := tr.Request["object_name"].(string)
			recordID, recordName := createdRecordInfo(tr)

			fields, _ := tr.Request["fields"].(map[string]any)
			sc.Results = append(sc.Results, formattedResult{
				Tool:       tr.ToolName,
				Status:     string(tr.Status),
				Object:     objectName,
				Fields:     fields,
				RecordID:   recordID,
				RecordName: recordName,
			})
		}
		operations = append(operations, sc)
	}

	anyResults := false
	for _, sc := range operations {
		if len(sc.Results) > 0 {
			anyResults = true
			break
		}
	}

	var finalSummary string
	if !anyResults {
		finalSummary = fmt.Sprintf("I couldn't perform any operations for '%s'. This might be because the request "+
			"contained invalid values or missing information. Please check your request and try again with valid values.",
			state.UserGoal)
		c.logger.Warn("No operations performed", "goal", state.UserGoal)
	} else {
		contextText, _ := json.MarshalIndent(operations, "", "  ")
		prompt := fmt.Sprintf(`Generate a friendly, natural summary of what was accomplished.

User's Goal: %s

Operations Performed:
%s

Instructions:
- CRITICAL: check the "status" field of each operation in the results
- If status is "error" or an operation has an "error" field, it FAILED - do NOT report it as successful
- Only report operations that actually succeeded (status: "success" and no errors)
- For FAILED operations, explain what went wrong using the error message
- Write 1-2 sentences confirming what was ACTUALLY created/updated (not what was attempted)
- Mention the record name naturally in the sentence (the UI will automatically make it a clickable link)
- Include key field values (StartDate, EndDate, Status, etc.) naturally in the sentence
- Use plain text, no markdown formatting
- Be conversational and friendly
- If some operations failed, be honest about it
- CRITICAL: if 'Global Error' is provided below, you MUST mention it as the primary outcome.

Global Error: %s

Example (success): "Success! I've created the Campaign 'Summer Launch' scheduled from 2025-12-01 to 2026-01-01 with status 'Planned'."

Example (partial failure): "I've created the Campaign 'Summer Launch', but encountered an error creating CampaignMembers: Malformed request. The Draft status may not exist for this campaign."

Summary:`, state.UserGoal, contextText, state.Error)

		summary, err := c.chat.Complete(ctx, llm.CompletionRequest{
			UserPrompt: prompt,
			Model:      c.summaryModel,
		})
		if err != nil {
			c.logger.Error("Summary generation failed", "error", err)
			summary = c.statsFallback(state)
		}
		finalSummary = strings.TrimSpace(summary)

		if state.Error != "" && !strings.Contains(finalSummary, state.Error) {
			finalSummary = fmt.Sprintf("Encountered an error: %s\n\n%s", state.Error, finalSummary)
		}
	}

	state.FinalResponse = finalSummary

	for _, sc := range operations {
		for _, r := range sc.Results {
			if r.Status == string(models.CallStatusSuccess) && r.RecordID != "" && r.RecordName != "" {
				object := r.Object
				if object == "" {
					object = "Record"
				}
				state.AddCreatedRecord(object, models.CreatedRecord{ID: r.RecordID, Name: r.RecordName})
			}
		}
	}

	state.AppendMessage(models.RoleAssistant, finalSummary)
}

func (c *Completion) statsFallback(state *models.SessionState) string {
	var parts []string
	for service, serviceData := range state.MCPResults {
		if serviceData == nil || serviceData.ExecutionSummary.TotalCalls == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("%s: %d/%d operations successful",
			service, serviceData.ExecutionSummary.SuccessfulCalls, serviceData.ExecutionSummary.TotalCalls))
	}
	if len(parts) == 0 {
		return "Workflow completed."
	}
	return strings.Join(parts, ", ")
}

// createdRecordInfo pulls the created record's id from an upsert response
// and its name from the request payload.
func createdRecordInfo(tr models.ToolResult) (id, name string) {
	if strings.Contains(tr.ToolName, "upsert") && tr.ResponseText != "" {
		var parsed map[string]any
		if err := json.Unmarshal([]byte(tr.ResponseText), &parsed); err == nil {
			if results, ok := parsed["results"].([]any); ok && len(results) > 0 {
				if first, ok := results[0].(map[string]any); ok {
					id = models.Stringify(first["record_id"])
				}
			}
		}
	}
	if records, ok := tr.Request["records"].([]any); ok && len(records) > 0 {
		if first, ok := records[0].(map[string]any); ok {
			if fields, ok := first["fields"].(map[string]any); ok {
				if n, ok := fields["Name"].(string); ok {
					name = n
				}
			}
		}
	}
	return id, name
}

// contactsFromResponse parses a SOQL tool response into the lightweight
// contact entries shown in a review payload.
func contactsFromResponse(responseText string) []map[string]any {
	var parsed any
	if err := json.Unmarshal([]byte(responseText), &parsed); err != nil {
		return nil
	}

	var rows []any
	switch t := parsed.(type) {
	case map[string]any:
		rows, _ = t["records"].([]any)
	case []any:
		rows = t
	}

	var contacts []map[string]any
	for _, row := range rows {
		rec, ok := row.(map[string]any)
		if !ok {
			continue
		}
		name := "Unknown"
		if n, ok := rec["Name"].(string); ok && n != "" {
			name = n
		}
		contacts = append(contacts, map[string]any{
			"Id":    rec["Id"],
			"Name":  name,
			"Email": rec["Email"],
		})
	}
	return contacts
}
