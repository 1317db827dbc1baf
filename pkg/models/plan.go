package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// PlannedCall is one tool invocation produced by a planning pass.
//
// IterateOver, when present, names the fan-out source: either a result-set
// name (string, possibly "previous_result") or a literal list of items.
type PlannedCall struct {
	Tool        string         `json:"tool"`
	Arguments   map[string]any `json:"arguments"`
	Reason      string         `json:"reason,omitempty"`
	StoreAs     string         `json:"store_as,omitempty"`
	IterateOver any            `json:"iterate_over,omitempty"`
}

// Plan is the output of one planning pass.
type Plan struct {
	Calls               []PlannedCall `json:"calls"`
	NeedsNextIteration  bool          `json:"needs_next_iteration"`
	NeedsSalesforceData bool          `json:"needs_salesforce_data,omitempty"`
}

// ParsePlan parses a model-emitted plan, tolerating markdown code fences
// around the JSON body. Any parse failure yields an empty plan so the
// executor loop degrades instead of failing the session.
func ParsePlan(raw string) (*Plan, error) {
	cleaned := StripCodeFences(raw)

	var plan Plan
	if err := json.Unmarshal([]byte(cleaned), &plan); err != nil {
		return &Plan{Calls: []PlannedCall{}}, fmt.Errorf("parse plan: %w", err)
	}
	if plan.Calls == nil {
		plan.Calls = []PlannedCall{}
	}
	return &plan, nil
}

// StripCodeFences removes a surrounding ```json ... ``` (or bare ```) fence.
func StripCodeFences(s string) string {
	cleaned := strings.TrimSpace(s)
	if strings.HasPrefix(cleaned, "```json") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
	} else if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```")
	}
	cleaned = strings.TrimSuffix(strings.TrimSpace(cleaned), "```")
	return strings.TrimSpace(cleaned)
}
