package agent

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

const (
	progressResultsPerService = 10
	progressResponseMaxChars  = 1000
)

// BuildServicesInfo renders the routing menu the decision prompt sees: one
// block per configured service with its description and cached tool names.
func BuildServicesInfo(registry *config.ServiceRegistry, tools *mcp.Manager) string {
	var b strings.Builder
	for _, name := range registry.Names() {
		svc, err := registry.Get(name)
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", name, svc.Description)
		descriptors := tools.Tools(name)
		if len(descriptors) == 0 {
			continue
		}
		names := make([]string, 0, len(descriptors))
		for _, d := range descriptors {
			names = append(names, d.Name)
		}
		fmt.Fprintf(&b, "  tools: %s\n", strings.Join(names, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}

// BuildProgressSummary renders what has happened so far this turn for the
// decision prompt: pending work directives first, then the draft email if
// one exists, then the recent tool activity per service.
func BuildProgressSummary(state *models.SessionState) string {
	var sections []string

	if pending := pendingWorkSection(state); pending != "" {
		sections = append(sections, pending)
	}

	if state.GeneratedEmailContent != nil && state.GeneratedEmailContent.Subject != "" {
		sections = append(sections,
			fmt.Sprintf("Generated email ready: %q", state.GeneratedEmailContent.Subject))
	}

	for _, service := range state.CalledServices {
		res := state.MCPResults[service]
		if res == nil {
			continue
		}
		sections = append(sections, serviceSection(service, res))
	}

	if len(sections) == 0 {
		return "No tool calls have been made yet."
	}
	return strings.Join(sections, "\n\n")
}

// pendingWorkSection surfaces directives left by a prior node. These lead
// the summary so the decision model acts on them before anything else.
func pendingWorkSection(state *models.SessionState) string {
	var lines []string
	if state.TaskDirective != "" {
		lines = append(lines, "PENDING WORK: "+state.TaskDirective)
	}
	if len(state.PendingUpdates) > 0 {
		data, err := json.Marshal(state.PendingUpdates)
		if err == nil {
			lines = append(lines, "PENDING UPDATES: "+string(data))
		}
	}
	return strings.Join(lines, "\n")
}

func serviceSection(service string, res *models.ServiceResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%d calls, %d ok, %d failed):\n",
		service,
		res.ExecutionSummary.TotalCalls,
		res.ExecutionSummary.SuccessfulCalls,
		res.ExecutionSummary.FailedCalls)

	results := res.ToolResults
	if len(results) > progressResultsPerService {
		results = results[len(results)-progressResultsPerService:]
	}
	for _, tr := range results {
		b.WriteString("  - " + tr.ToolName + ": ")
		switch {
		case tr.Status == models.CallStatusError:
			b.WriteString("ERROR " + truncate(tr.Error, progressResponseMaxChars))
		case tr.ResponseText != "":
			b.WriteString(truncate(tr.ResponseText, progressResponseMaxChars))
		default:
			// No response captured; show the request so the model still sees
			// what was attempted.
			data, err := json.Marshal(tr.Request)
			if err != nil {
				data = []byte("(no response)")
			}
			b.WriteString("called with " + truncate(string(data), progressResponseMaxChars))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "... (truncated)"
}
