package models

// ActionType distinguishes the two mutating proposal shapes shown to users.
type ActionType string

const (
	ActionCreate ActionType = "create"
	ActionUpdate ActionType = "update"
)

// Proposal is a mutating tool call held back from execution until the client
// approves (and possibly edits) it.
type Proposal struct {
	ObjectName string         `json:"object_name"`
	Fields     map[string]any `json:"fields"`
	ActionType ActionType     `json:"action_type"`
	ToolCall   *PlannedCall   `json:"tool_call,omitempty"`
}

// ProposalField is one editable field row in the review payload sent to the
// client.
type ProposalField struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
	Label string `json:"label"`
}

// EmailContent is the email-builder agent's draft output.
type EmailContent struct {
	Subject           string `json:"subject"`
	BodyHTML          string `json:"body_html"`
	BodyText          string `json:"body_text"`
	Tone              string `json:"tone,omitempty"`
	SuggestedAudience string `json:"suggested_audience,omitempty"`
}

// CreatedRecord identifies a record created during a turn, used by the client
// UI for hyperlinking.
type CreatedRecord struct {
	ID   string `json:"Id"`
	Name string `json:"Name"`
}
