package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/openfunnel/maestro/pkg/agent"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// ActiveSaveTemplate is the sticky-routing label for this workflow while it
// waits on the link confirmation.
const ActiveSaveTemplate = "save_template_workflow"

const toolingResultMarker = "Tooling Execute Result (JSON):"

// SaveTemplate persists the builder's email draft as a provider template,
// registers it on the Campaign.Email_template__c picklist and, after user
// confirmation, links it to the campaign in context.
type SaveTemplate struct {
	runner *Runner
	logger *slog.Logger
}

// NewSaveTemplate creates the save pipeline.
func NewSaveTemplate(runner *Runner, logger *slog.Logger) *SaveTemplate {
	if logger == nil {
		logger = slog.Default()
	}
	return &SaveTemplate{runner: runner, logger: logger}
}

// Run saves the draft and either finishes or suspends on the link
// confirmation. When it suspends, state.Interrupt is set and ActiveWorkflow
// keeps the next inbound message routed to Resume.
func (w *SaveTemplate) Run(ctx context.Context, state *models.SessionState) error {
	wctx := map[string]any{}
	state.SaveWorkflowContext = wctx
	state.NextAction = ""

	draft := state.GeneratedEmailContent
	if draft == nil {
		state.FinalResponse = "I don't have an email draft to save. Let's create one with the Email Builder first!"
		return nil
	}

	templateID, ok := w.createTemplate(ctx, state, draft)
	if !ok {
		return nil
	}
	state.GeneratedEmailContent = nil

	picklistValue := fmt.Sprintf("%s-%s", templateID, draft.Subject)
	wctx["template_id"] = templateID
	wctx["template_name"] = draft.Subject
	wctx["picklist_value"] = picklistValue

	picklistOK := w.ensurePicklistValue(ctx, state, picklistValue)
	wctx["picklist_ok"] = picklistOK

	campaign := w.campaignInContext(state)
	if campaign == nil {
		if picklistOK {
			state.FinalResponse = fmt.Sprintf(
				"I've saved '%s' as a Brevo template (ID: %s). I couldn't find a campaign in our conversation to link it to, but it's ready whenever you need it.",
				draft.Subject, templateID)
		} else {
			state.FinalResponse = fmt.Sprintf(
				"I've saved '%s' as a Brevo template (ID: %s), but I couldn't register it on the campaign template picklist. A Salesforce admin may need to add the value manually.",
				draft.Subject, templateID)
		}
		return nil
	}

	wctx["campaign_id"] = campaign.StringField("Id")
	wctx["campaign_name"] = campaign.StringField("Name")

	message := fmt.Sprintf("Template '%s' is saved (ID: %s). Should I link it to campaign '%s'?",
		draft.Subject, templateID, campaign.StringField("Name"))
	state.ActiveWorkflow = ActiveSaveTemplate
	state.Interrupt = &models.InterruptState{
		Node: ActiveSaveTemplate,
		Kind: models.InterruptConfirmation,
		Payload: map[string]any{
			"type":    "confirmation",
			"message": message,
			"options": []string{"Yes", "No"},
		},
	}
	w.logger.Info("Awaiting link confirmation",
		"template_id", templateID, "campaign", campaign.StringField("Name"))
	return nil
}

// Resume consumes the confirmation answer. The template is already saved at
// this point regardless of the answer.
func (w *SaveTemplate) Resume(ctx context.Context, state *models.SessionState, answer string) error {
	wctx := state.SaveWorkflowContext
	state.Interrupt = nil
	state.ActiveWorkflow = ""
	state.NextAction = ""

	templateName := ctxString(wctx, "template_name")
	templateID := ctxString(wctx, "template_id")
	campaignID := ctxString(wctx, "campaign_id")
	campaignName := ctxString(wctx, "campaign_name")

	if !agent.IsAffirmative(answer) {
		state.FinalResponse = fmt.Sprintf(
			"No problem, I won't link it. The template '%s' (ID: %s) is still saved in Brevo if you change your mind.",
			templateName, templateID)
		return nil
	}

	picklistValue := ctxString(wctx, "picklist_value")
	args := map[string]any{
		"object_name": "Campaign",
		"records": []map[string]any{{
			"record_id": campaignID,
			"fields":    map[string]any{"Email_template__c": picklistValue},
		}},
	}
	result, err := w.runner.Execute(ctx, SalesforceService, "upsert_salesforce_records", args)
	Record(state, SalesforceService, "upsert_salesforce_records", result, err,
		fmt.Sprintf("Linked template %s to campaign %s", templateID, campaignName))
	if err != nil || result.Failed() {
		state.FinalResponse = fmt.Sprintf(
			"The template '%s' (ID: %s) is saved, but I couldn't link it to campaign '%s'. You can set it on the campaign manually.",
			templateName, templateID, campaignName)
		return nil
	}

	state.FinalResponse = fmt.Sprintf(
		"All set! Template '%s' (ID: %s) is saved and linked to campaign '%s'.",
		templateName, templateID, campaignName)
	return nil
}

// createTemplate stores the draft in the email provider. Returns the new
// template id.
func (w *SaveTemplate) createTemplate(ctx context.Context, state *models.SessionState, draft *models.EmailContent) (string, bool) {
	args := map[string]any{
		"template_name": draft.Subject,
		"subject":       draft.Subject,
		"html_content":  draft.BodyHTML,
	}
	result, err := w.runner.Execute(ctx, BrevoService, "create_email_template", args)
	Record(state, BrevoService, "create_email_template", result, err,
		fmt.Sprintf("Saved template '%s'", draft.Subject))
	if err != nil || result.Failed() {
		state.Error = "Template creation failed"
		state.FinalResponse = fmt.Sprintf("I couldn't save '%s' as a template. Please try again in a moment.", draft.Subject)
		return "", false
	}

	data := toolData(result)
	id := models.Record(data).StringField("id")
	if id == "" {
		if rows := mcp.ExtractRows(result); len(rows) > 0 {
			id = rows[0].StringField("Id")
		}
	}
	if id == "" {
		state.FinalResponse = fmt.Sprintf("I couldn't save '%s' as a template. The provider did not return a template id.", draft.Subject)
		return "", false
	}

	state.AddCreatedRecord("Email Template", models.CreatedRecord{ID: id, Name: draft.Subject})
	w.logger.Info("Template created", "template_id", id, "subject", draft.Subject)
	return id, true
}

// ensurePicklistValue adds the template to the Email_template__c picklist via
// the Tooling API, unless it is already present. Returns false when the
// picklist cannot be extended (global value set, unexpected field type, or a
// tooling failure).
func (w *SaveTemplate) ensurePicklistValue(ctx context.Context, state *models.SessionState, value string) bool {
	query := "SELECT Id, Metadata FROM CustomField WHERE TableEnumOrId='Campaign' AND DeveloperName='Email_template'"
	endpoint := "query/?q=" + url.QueryEscape(query)

	result, err := w.runner.Execute(ctx, SalesforceService, "tooling_execute", map[string]any{
		"method":   "GET",
		"endpoint": endpoint,
	})
	Record(state, SalesforceService, "tooling_execute", result, err, "Read Email_template picklist metadata")
	if err != nil || result.Failed() {
		w.logger.Warn("Picklist metadata query failed")
		return false
	}

	fieldID, metadata := parseCustomField(result)
	if fieldID == "" || metadata == nil {
		w.logger.Warn("Email_template__c custom field not found")
		return false
	}

	fieldType, _ := metadata["type"].(string)
	if fieldType != "Picklist" && fieldType != "MultiselectPicklist" {
		w.logger.Warn("Email_template__c is not a picklist", "type", fieldType)
		return false
	}

	valueSet, _ := metadata["valueSet"].(map[string]any)
	if valueSet == nil {
		return false
	}
	if name, ok := valueSet["valueSetName"].(string); ok && name != "" {
		// Global value sets cannot be extended per-field.
		w.logger.Warn("Email_template__c uses a global value set", "set", name)
		return false
	}
	definition, _ := valueSet["valueSetDefinition"].(map[string]any)
	if definition == nil {
		definition = map[string]any{"sorted": false}
		valueSet["valueSetDefinition"] = definition
	}
	values, _ := definition["value"].([]any)
	if values == nil {
		values = []any{}
	}

	for _, v := range values {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if models.Record(entry).StringField("valueName") == value {
			return true
		}
	}

	values = append(values, map[string]any{
		"label":     value,
		"valueName": value,
		"default":   false,
	})
	definition["value"] = values

	patch := map[string]any{
		"FullName": "Campaign.Email_template__c",
		"Metadata": metadata,
	}
	patchResult, err := w.runner.Execute(ctx, SalesforceService, "tooling_execute", map[string]any{
		"method":   "PATCH",
		"endpoint": "sobjects/CustomField/" + fieldID,
		"data":     patch,
	})
	Record(state, SalesforceService, "tooling_execute", patchResult, err, "Added template to Email_template picklist")
	if err != nil || patchResult.Failed() {
		w.logger.Warn("Picklist update failed")
		return false
	}
	return true
}

// campaignInContext returns the campaign the conversation is working on.
func (w *SaveTemplate) campaignInContext(state *models.SessionState) models.Record {
	for _, key := range []string{"Campaign", "campaign", "campaigns"} {
		if rows := state.SharedResultSets[key]; len(rows) > 0 {
			if rows[0].StringField("Id") != "" {
				return rows[0]
			}
		}
	}
	return nil
}

// parseCustomField extracts the CustomField id and metadata from a tooling
// query response, which arrives either as raw JSON or behind a text marker.
func parseCustomField(result *mcp.CallResult) (string, map[string]any) {
	var payload map[string]any
	for _, part := range result.TextParts {
		text := part
		if idx := strings.Index(text, toolingResultMarker); idx >= 0 {
			text = text[idx+len(toolingResultMarker):]
		}
		text = strings.TrimSpace(text)
		var obj map[string]any
		if err := json.Unmarshal([]byte(text), &obj); err == nil {
			payload = obj
			break
		}
	}
	if payload == nil {
		payload = result.Structured
	}
	if payload == nil {
		return "", nil
	}

	records, _ := payload["records"].([]any)
	if len(records) == 0 {
		return "", nil
	}
	first, ok := records[0].(map[string]any)
	if !ok {
		return "", nil
	}
	id := models.Record(first).StringField("Id")
	metadata, _ := first["Metadata"].(map[string]any)
	return id, metadata
}
