package agent

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/openfunnel/maestro/pkg/models"
)

// affirmativeTokens are the answers accepted as proposal approval.
var affirmativeTokens = []string{"yes", "y", "yeah", "yep", "sure", "ok", "okay", "confirm"}

var proposalEditRe = regexp.MustCompile(`(\w+)\s*=\s*'([^']*)'`)

// IsAffirmative reports whether an interrupt answer approves the pending
// action. Edits after "Details:" do not affect the decision.
func IsAffirmative(answer string) bool {
	normalized := strings.ToLower(strings.TrimSpace(answer))
	if idx := strings.Index(normalized, "details:"); idx >= 0 {
		normalized = strings.TrimSpace(normalized[:idx])
	}
	normalized = strings.TrimRight(normalized, ".!,")
	for _, token := range affirmativeTokens {
		if normalized == token {
			return true
		}
	}
	return false
}

// ParseProposalEdits extracts inline field edits of the form
// "Details: Field='value', Field2='value2'" from a resume answer.
func ParseProposalEdits(answer string) map[string]string {
	idx := strings.Index(answer, "Details:")
	if idx < 0 {
		return nil
	}
	edits := map[string]string{}
	for _, m := range proposalEditRe.FindAllStringSubmatch(answer[idx:], -1) {
		edits[m[1]] = m[2]
	}
	if len(edits) == 0 {
		return nil
	}
	return edits
}

// ResumeProposal consumes a review_proposal interrupt answer. Approval
// (optionally with inline edits) promotes the pending plan to plan_override
// so the dynamic caller executes it without re-planning; anything else
// cancels. Returns true when the plan should be executed.
func ResumeProposal(state *models.SessionState, answer string, logger *slog.Logger) bool {
	if logger == nil {
		logger = slog.Default()
	}

	if !IsAffirmative(answer) {
		logger.Info("Proposal declined", "answer", answer)
		state.ClearProposalState()
		state.FinalResponse = "Okay, I won't make that change. Let me know what you'd like to do instead."
		state.NextAction = NextActionComplete
		return false
	}

	plan := state.PendingProposalPlan
	details := state.PendingProposalDetails

	if edits := ParseProposalEdits(answer); edits != nil {
		logger.Info("Applying proposal edits", "count", len(edits))
		applyProposalEdits(plan, details, edits)
	}

	state.ClearProposalState()
	state.PlanOverride = plan
	state.NextAction = serviceForResume(state)
	return true
}

// applyProposalEdits mutates the mutating call's field map (and the proposal
// details shown to the user) with the requested values.
func applyProposalEdits(plan *models.Plan, details *models.Proposal, edits map[string]string) {
	if details != nil {
		if details.Fields == nil {
			details.Fields = map[string]any{}
		}
		for k, v := range edits {
			details.Fields[k] = v
		}
	}
	if plan == nil || len(plan.Calls) == 0 {
		return
	}

	args := plan.Calls[0].Arguments
	if args == nil {
		args = map[string]any{}
		plan.Calls[0].Arguments = args
	}
	if fields, ok := args["fields"].(map[string]any); ok {
		for k, v := range edits {
			fields[k] = v
		}
		return
	}
	// Some tools take fields at the top level of the arguments.
	for k, v := range edits {
		args[k] = v
	}
}

// BuildReviewPayload shapes the pending proposal into the review_proposal
// control object sent to the client.
func BuildReviewPayload(state *models.SessionState, catalog FieldCatalog) map[string]any {
	details := state.PendingProposalDetails
	if details == nil {
		return nil
	}

	var contacts []map[string]any
	for _, res := range state.MCPResults {
		if res == nil {
			continue
		}
		for _, tr := range res.ToolResults {
			if strings.Contains(strings.ToLower(tr.ToolName), "run_dynamic_soql") && tr.Status == models.CallStatusSuccess {
				if found := contactsFromResponse(tr.ResponseText); found != nil {
					contacts = found
				}
			}
		}
	}

	var fields []map[string]any
	for name, value := range details.Fields {
		if value == nil || strings.TrimSpace(models.Stringify(value)) == "" {
			continue
		}
		fields = append(fields, map[string]any{"name": name, "value": value, "label": name})
	}

	var available []map[string]any
	if catalog != nil {
		available = catalog.AvailableFields(details.ObjectName)
	}

	message := "I'm ready to " + string(details.ActionType) + " the " + details.ObjectName + "."
	if len(contacts) > 0 {
		message += " Found " + models.Stringify(len(contacts)) + " related records."
	}
	message += " Please review and confirm."

	return map[string]any{
		"type": "review_proposal",
		"proposal": map[string]any{
			"object":           details.ObjectName,
			"fields":           fields,
			"action_type":      string(details.ActionType),
			"contact_count":    len(contacts),
			"related_records":  contacts,
			"available_fields": available,
			"generated_by":     "Agent",
		},
		"message": message,
	}
}

// serviceForResume picks the service the override plan runs against: the
// service whose run produced the proposal.
func serviceForResume(state *models.SessionState) string {
	for _, service := range state.CalledServices {
		if res, ok := state.MCPResults[service]; ok && res != nil && res.Status == models.OutcomeProposal {
			return service
		}
	}
	if len(state.CalledServices) > 0 {
		return state.CalledServices[len(state.CalledServices)-1]
	}
	return state.CurrentAgent
}
