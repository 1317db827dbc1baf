package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBeginTurn(t *testing.T) {
	state := NewSessionState(15)
	state.AppendMessage(RoleHuman, "create a campaign")
	state.AppendMessage(RoleAssistant, "Done, Campaign created.")
	state.SessionContext["campaign"] = Record{"Id": "701xx0000000001", "Name": "Spring Launch"}
	state.SharedResultSets["contacts"] = []Record{{"Id": "003xx0000000001"}}
	state.ActiveWorkflow = "email_builder_agent"
	state.GeneratedEmailContent = &EmailContent{Subject: "Hello", BodyHTML: "<p>hi</p>"}

	// Transient residue from the previous turn.
	state.IterationCount = 7
	state.NextAction = "Brevo MCP"
	state.TaskDirective = "send the campaign emails"
	state.MCPResults["Salesforce MCP"] = &ServiceResult{Status: OutcomeSuccess}
	state.CalledServices = []string{"Salesforce MCP"}
	state.WorkflowFailed = true
	state.Error = "boom"
	state.FinalResponse = "previous answer"
	state.EmailWorkflowContext = map[string]any{"campaign_id": "701xx0000000001"}

	state.BeginTurn("now email the contacts")

	t.Run("transient fields reset", func(t *testing.T) {
		assert.Equal(t, 0, state.IterationCount)
		assert.Empty(t, state.NextAction)
		assert.Empty(t, state.TaskDirective)
		assert.Empty(t, state.MCPResults)
		assert.Empty(t, state.CalledServices)
		assert.False(t, state.WorkflowFailed)
		assert.Empty(t, state.Error)
		assert.Empty(t, state.FinalResponse)
		assert.Nil(t, state.EmailWorkflowContext)
	})

	t.Run("memory fields preserved", func(t *testing.T) {
		assert.Contains(t, state.SessionContext, "campaign")
		assert.Contains(t, state.SharedResultSets, "contacts")
		assert.Equal(t, "email_builder_agent", state.ActiveWorkflow)
		require.NotNil(t, state.GeneratedEmailContent)
		assert.Equal(t, "Hello", state.GeneratedEmailContent.Subject)
	})

	t.Run("new message appended", func(t *testing.T) {
		require.Len(t, state.Messages, 3)
		assert.Equal(t, RoleHuman, state.Messages[2].Role)
		assert.Equal(t, "now email the contacts", state.Messages[2].Content)
		assert.Equal(t, "now email the contacts", state.UserGoal)
	})
}

func TestMergeServiceResult(t *testing.T) {
	t.Run("first result stored as-is", func(t *testing.T) {
		state := NewSessionState(15)
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status:           OutcomeSuccess,
			ExecutionSummary: ExecutionSummary{TotalCalls: 2, SuccessfulCalls: 2, Iterations: 1},
			ToolResults:      []ToolResult{{ToolName: "execute_soql_query", Status: CallStatusSuccess}},
		})

		require.Contains(t, state.MCPResults, "Salesforce MCP")
		assert.Equal(t, 2, state.MCPResults["Salesforce MCP"].ExecutionSummary.TotalCalls)
	})

	t.Run("second result accumulates counters and tool results", func(t *testing.T) {
		state := NewSessionState(15)
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status:           OutcomeSuccess,
			ExecutionSummary: ExecutionSummary{TotalCalls: 1, SuccessfulCalls: 1, Iterations: 1},
			ToolResults:      []ToolResult{{ToolName: "execute_soql_query", Status: CallStatusSuccess}},
		})
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status:           OutcomeError,
			ExecutionSummary: ExecutionSummary{TotalCalls: 1, FailedCalls: 1, Iterations: 1},
			ToolResults:      []ToolResult{{ToolName: "upsert_salesforce_records", Status: CallStatusError}},
		})

		merged := state.MCPResults["Salesforce MCP"]
		assert.Equal(t, 2, merged.ExecutionSummary.TotalCalls)
		assert.Equal(t, 1, merged.ExecutionSummary.SuccessfulCalls)
		assert.Equal(t, 1, merged.ExecutionSummary.FailedCalls)
		assert.Equal(t, 2, merged.ExecutionSummary.Iterations)
		assert.Len(t, merged.ToolResults, 2)
		assert.Equal(t, OutcomeError, merged.Status)
	})

	t.Run("result sets published by replacement", func(t *testing.T) {
		state := NewSessionState(15)
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status: OutcomeSuccess,
			ResultSets: map[string][]Record{
				"contacts": {{"Id": "003A"}, {"Id": "003B"}},
			},
		})
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status: OutcomeSuccess,
			ResultSets: map[string][]Record{
				"contacts": {{"Id": "003C"}},
			},
		})

		require.Len(t, state.SharedResultSets["contacts"], 1)
		assert.Equal(t, "003C", state.SharedResultSets["contacts"][0].StringField("Id"))
	})

	t.Run("previous_result alias never persisted", func(t *testing.T) {
		state := NewSessionState(15)
		state.MergeServiceResult("Salesforce MCP", &ServiceResult{
			Status: OutcomeSuccess,
			ResultSets: map[string][]Record{
				PreviousResultSet: {{"Id": "003A"}},
				"campaigns":       {{"Id": "701A"}},
			},
		})

		assert.NotContains(t, state.SharedResultSets, PreviousResultSet)
		assert.Contains(t, state.SharedResultSets, "campaigns")
	})

	t.Run("nil result ignored", func(t *testing.T) {
		state := NewSessionState(15)
		state.MergeServiceResult("Salesforce MCP", nil)
		assert.Empty(t, state.MCPResults)
	})
}

func TestAddCreatedRecord(t *testing.T) {
	state := NewSessionState(15)
	state.AddCreatedRecord("Campaign", CreatedRecord{ID: "701A", Name: "Spring Launch"})
	state.AddCreatedRecord("Campaign", CreatedRecord{ID: "701A", Name: "Spring Launch"})
	state.AddCreatedRecord("Campaign", CreatedRecord{ID: "701B", Name: "Summer Launch"})

	require.Len(t, state.CreatedRecords["Campaign"], 2)
	assert.Equal(t, "701A", state.CreatedRecords["Campaign"][0].ID)
	assert.Equal(t, "701B", state.CreatedRecords["Campaign"][1].ID)
}

func TestMarkServiceCalled(t *testing.T) {
	state := NewSessionState(15)
	state.MarkServiceCalled("Salesforce MCP")
	state.MarkServiceCalled("Brevo MCP")
	state.MarkServiceCalled("Salesforce MCP")

	assert.Equal(t, []string{"Salesforce MCP", "Brevo MCP"}, state.CalledServices)
}

func TestClearProposalState(t *testing.T) {
	state := NewSessionState(15)
	state.PendingProposalPlan = &Plan{}
	state.PendingProposalDetails = &Proposal{ObjectName: "Campaign", ActionType: ActionCreate}
	state.PlanOverride = &Plan{}
	state.Interrupt = &InterruptState{Node: "dynamic_caller", Kind: InterruptReviewProposal}

	state.ClearProposalState()

	assert.Nil(t, state.PendingProposalPlan)
	assert.Nil(t, state.PendingProposalDetails)
	assert.Nil(t, state.PlanOverride)
	assert.Nil(t, state.Interrupt)
}
