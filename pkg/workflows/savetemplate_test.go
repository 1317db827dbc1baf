package workflows

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

const picklistMetadataReply = toolingResultMarker + ` {"records": [{
	"Id": "00N1a000001",
	"Metadata": {
		"type": "Picklist",
		"valueSet": {
			"valueSetDefinition": {
				"sorted": false,
				"value": [{"label": "1-Old Template", "valueName": "1-Old Template", "default": false}]
			}
		}
	}
}]}`

func saveTemplateOpener() *fakeOpener {
	return &fakeOpener{handler: func(_, tool string, args map[string]any) (*mcp.CallResult, error) {
		switch tool {
		case "create_email_template":
			return textResult(`{"id": "42", "status": "success"}`), nil
		case "tooling_execute":
			if method, _ := args["method"].(string); method == "GET" {
				return textResult(picklistMetadataReply), nil
			}
			return textResult(`{"status": "success"}`), nil
		case "upsert_salesforce_records":
			return textResult(`{"status": "success"}`), nil
		default:
			return textResult(`{"status": "error", "message": "unexpected tool"}`), nil
		}
	}}
}

func saveTemplateState() *models.SessionState {
	state := models.NewSessionState(15)
	state.GeneratedEmailContent = &models.EmailContent{
		Subject:  "Welcome Aboard",
		BodyHTML: "<p>Welcome!</p>",
	}
	state.SharedResultSets["campaign"] = []models.Record{{"Id": "701XX00000001AAA", "Name": "Spring Launch"}}
	return state
}

func TestSaveTemplateRun(t *testing.T) {
	opener := saveTemplateOpener()
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := saveTemplateState()

	require.NoError(t, w.Run(context.Background(), state))

	t.Run("template created and draft cleared", func(t *testing.T) {
		creates := opener.callsTo("create_email_template")
		require.Len(t, creates, 1)
		assert.Equal(t, "Welcome Aboard", creates[0].Args["template_name"])
		assert.Equal(t, "<p>Welcome!</p>", creates[0].Args["html_content"])
		assert.Nil(t, state.GeneratedEmailContent)
		require.Len(t, state.CreatedRecords["Email Template"], 1)
		assert.Equal(t, "42", state.CreatedRecords["Email Template"][0].ID)
	})

	t.Run("picklist extended through the tooling API", func(t *testing.T) {
		tooling := opener.callsTo("tooling_execute")
		require.Len(t, tooling, 2)
		assert.Equal(t, "GET", tooling[0].Args["method"])
		assert.Contains(t, tooling[0].Args["endpoint"], "query/?q=")

		assert.Equal(t, "PATCH", tooling[1].Args["method"])
		assert.Equal(t, "sobjects/CustomField/00N1a000001", tooling[1].Args["endpoint"])
		patch := tooling[1].Args["data"].(map[string]any)
		assert.Equal(t, "Campaign.Email_template__c", patch["FullName"])

		metadata := patch["Metadata"].(map[string]any)
		valueSet := metadata["valueSet"].(map[string]any)
		definition := valueSet["valueSetDefinition"].(map[string]any)
		values := definition["value"].([]any)
		require.Len(t, values, 2)
		added := values[1].(map[string]any)
		assert.Equal(t, "42-Welcome Aboard", added["valueName"])
	})

	t.Run("suspends on the link confirmation", func(t *testing.T) {
		require.NotNil(t, state.Interrupt)
		assert.Equal(t, models.InterruptConfirmation, state.Interrupt.Kind)
		assert.Equal(t, ActiveSaveTemplate, state.ActiveWorkflow)

		payload := state.Interrupt.Payload
		assert.Equal(t, "confirmation", payload["type"])
		assert.Equal(t, []string{"Yes", "No"}, payload["options"])
		assert.Contains(t, payload["message"], "Spring Launch")

		wctx := state.SaveWorkflowContext
		assert.Equal(t, "42", wctx["template_id"])
		assert.Equal(t, "42-Welcome Aboard", wctx["picklist_value"])
		assert.Equal(t, "701XX00000001AAA", wctx["campaign_id"])
	})
}

func TestSaveTemplateRunWithoutDraft(t *testing.T) {
	opener := saveTemplateOpener()
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := models.NewSessionState(15)

	require.NoError(t, w.Run(context.Background(), state))
	assert.Contains(t, state.FinalResponse, "don't have an email draft")
	assert.Empty(t, opener.calls)
}

func TestSaveTemplateRunWithoutCampaign(t *testing.T) {
	opener := saveTemplateOpener()
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := saveTemplateState()
	delete(state.SharedResultSets, "campaign")

	require.NoError(t, w.Run(context.Background(), state))
	assert.Nil(t, state.Interrupt)
	assert.Empty(t, state.ActiveWorkflow)
	assert.Contains(t, state.FinalResponse, "ready whenever you need it")
}

func TestSaveTemplateGlobalValueSet(t *testing.T) {
	opener := saveTemplateOpener()
	base := opener.handler
	opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
		if tool == "tooling_execute" {
			if method, _ := args["method"].(string); method == "GET" {
				return textResult(toolingResultMarker + ` {"records": [{
					"Id": "00N1a000001",
					"Metadata": {"type": "Picklist", "valueSet": {"valueSetName": "GlobalTemplates"}}
				}]}`), nil
			}
		}
		return base(service, tool, args)
	}
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := saveTemplateState()
	delete(state.SharedResultSets, "campaign")

	require.NoError(t, w.Run(context.Background(), state))
	// A global value set cannot be extended per-field: no PATCH is attempted
	// and the user is told the picklist needs an admin.
	require.Len(t, opener.callsTo("tooling_execute"), 1)
	assert.Contains(t, state.FinalResponse, "couldn't register it on the campaign template picklist")
}

func TestSaveTemplateValueAlreadyPresent(t *testing.T) {
	opener := saveTemplateOpener()
	base := opener.handler
	opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
		if tool == "tooling_execute" {
			if method, _ := args["method"].(string); method == "GET" {
				return textResult(toolingResultMarker + ` {"records": [{
					"Id": "00N1a000001",
					"Metadata": {"type": "Picklist", "valueSet": {"valueSetDefinition": {
						"value": [{"label": "42-Welcome Aboard", "valueName": "42-Welcome Aboard", "default": false}]
					}}}
				}]}`), nil
			}
		}
		return base(service, tool, args)
	}
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := saveTemplateState()

	require.NoError(t, w.Run(context.Background(), state))
	// Present already: the GET is enough.
	assert.Len(t, opener.callsTo("tooling_execute"), 1)
	assert.NotNil(t, state.Interrupt)
}

func TestSaveTemplateCreateFailure(t *testing.T) {
	opener := saveTemplateOpener()
	base := opener.handler
	opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
		if tool == "create_email_template" {
			return textResult(`{"status": "error", "message": "duplicate name"}`), nil
		}
		return base(service, tool, args)
	}
	w := NewSaveTemplate(NewRunner(opener, nil), nil)
	state := saveTemplateState()

	require.NoError(t, w.Run(context.Background(), state))
	assert.Contains(t, state.FinalResponse, "couldn't save 'Welcome Aboard'")
	// The draft survives a failed save so the user can retry.
	assert.NotNil(t, state.GeneratedEmailContent)
	assert.Empty(t, opener.callsTo("tooling_execute"))
}

func TestSaveTemplateResume(t *testing.T) {
	suspended := func() (*SaveTemplate, *fakeOpener, *models.SessionState) {
		opener := saveTemplateOpener()
		w := NewSaveTemplate(NewRunner(opener, nil), nil)
		state := saveTemplateState()
		require.NoError(t, w.Run(context.Background(), state))
		require.NotNil(t, state.Interrupt)
		opener.calls = nil
		return w, opener, state
	}

	t.Run("yes links the template", func(t *testing.T) {
		w, opener, state := suspended()

		require.NoError(t, w.Resume(context.Background(), state, "Yes"))
		assert.Nil(t, state.Interrupt)
		assert.Empty(t, state.ActiveWorkflow)

		upserts := opener.callsTo("upsert_salesforce_records")
		require.Len(t, upserts, 1)
		assert.Equal(t, "Campaign", upserts[0].Args["object_name"])
		records := upserts[0].Args["records"].([]map[string]any)
		assert.Equal(t, "701XX00000001AAA", records[0]["record_id"])
		fields := records[0]["fields"].(map[string]any)
		assert.Equal(t, "42-Welcome Aboard", fields["Email_template__c"])

		assert.Contains(t, state.FinalResponse, "saved and linked to campaign 'Spring Launch'")
	})

	t.Run("no keeps the template unlinked", func(t *testing.T) {
		w, opener, state := suspended()

		require.NoError(t, w.Resume(context.Background(), state, "no"))
		assert.Nil(t, state.Interrupt)
		assert.Empty(t, opener.calls)
		assert.Contains(t, state.FinalResponse, "still saved in Brevo")
	})

	t.Run("link failure keeps the template", func(t *testing.T) {
		w, opener, state := suspended()
		opener.handler = func(service, tool string, args map[string]any) (*mcp.CallResult, error) {
			return textResult(`{"status": "error", "message": "field integrity exception"}`), nil
		}

		require.NoError(t, w.Resume(context.Background(), state, "yes"))
		assert.Contains(t, state.FinalResponse, "couldn't link it to campaign 'Spring Launch'")
	})
}
