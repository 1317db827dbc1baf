package models

// Record is one row extracted from a tool response. Records representing CRM
// entities carry a stable "Id" key.
type Record map[string]any

// StringField returns a field's value rendered as a string, or "" when the
// field is absent.
func (r Record) StringField(name string) string {
	v, ok := r[name]
	if !ok || v == nil {
		return ""
	}
	return Stringify(v)
}

// CallStatus is the outcome of a single tool invocation.
type CallStatus string

const (
	CallStatusSuccess CallStatus = "success"
	CallStatusError   CallStatus = "error"
)

// ToolResult records one tool invocation for progress reporting and
// completion summaries.
type ToolResult struct {
	ToolName     string         `json:"tool_name"`
	Request      map[string]any `json:"request,omitempty"`
	ResponseText string         `json:"response_text,omitempty"`
	Status       CallStatus     `json:"status"`
	Error        string         `json:"error,omitempty"`
	SourceItem   Record         `json:"source_item,omitempty"`
	BatchSize    int            `json:"batch_size,omitempty"`
}

// ExecutionSummary aggregates call counts across one planner/executor run.
type ExecutionSummary struct {
	TotalCalls      int `json:"total_calls"`
	SuccessfulCalls int `json:"successful_calls"`
	FailedCalls     int `json:"failed_calls"`
	Iterations      int `json:"iterations"`
}

// ServiceOutcome classifies the terminal state of one planner/executor run.
type ServiceOutcome string

const (
	OutcomeSuccess  ServiceOutcome = "success"
	OutcomeError    ServiceOutcome = "error"
	OutcomeProposal ServiceOutcome = "proposal"
)

// ServiceResult is the complete output of one dynamic-caller turn against a
// single service. When Status is OutcomeProposal, Proposal and GeneratedPlan
// carry the held-back mutating call and the remaining plan.
type ServiceResult struct {
	Status           ServiceOutcome      `json:"status"`
	ExecutionSummary ExecutionSummary    `json:"execution_summary"`
	ToolResults      []ToolResult        `json:"tool_results"`
	ResultSets       map[string][]Record `json:"result_sets,omitempty"`
	Proposal         *Proposal           `json:"proposal,omitempty"`
	GeneratedPlan    *Plan               `json:"generated_plan,omitempty"`
	Error            string              `json:"error,omitempty"`
}
