// Package workflows implements the deterministic multi-stage pipelines that
// replace the generic planner loop for known high-value flows: email send,
// engagement tracking and template saving. They share state with the main
// graph and report through the same mcp_results channel so the completion
// node summarizes them uniformly.
package workflows

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/openfunnel/maestro/pkg/agent"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// Service names as registered in configuration.
const (
	BrevoService      = "Brevo MCP"
	LinklyService     = "Linkly MCP"
	SalesforceService = "Salesforce MCP"
)

// Runner executes single tool calls against a service with a short-lived
// session per call, recording each outcome into the session state so the
// orchestrator sees the work.
type Runner struct {
	opener agent.SessionOpener
	logger *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(opener agent.SessionOpener, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{opener: opener, logger: logger}
}

// Execute runs one tool call. The returned result is nil only when the
// session could not be established or the call transport failed.
func (r *Runner) Execute(ctx context.Context, service, tool string, args map[string]any) (*mcp.CallResult, error) {
	session, err := r.opener.OpenSession(ctx, service)
	if err != nil {
		return nil, fmt.Errorf("open session to %s: %w", service, err)
	}
	defer session.Close()

	result, err := session.CallTool(ctx, tool, args)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", service, tool, err)
	}
	return result, nil
}

// Record books one tool outcome into mcp_results. summaryText, when set, is
// surfaced through the request field so the progress summary shows it.
func Record(state *models.SessionState, service, tool string, result *mcp.CallResult, callErr error, summaryText string) {
	tr := models.ToolResult{ToolName: tool}
	switch {
	case callErr != nil:
		tr.Status = models.CallStatusError
		tr.Error = callErr.Error()
	case result != nil && result.Failed():
		tr.Status = models.CallStatusError
		tr.Error = result.ErrorMessage()
		tr.ResponseText = result.Text()
	case result != nil:
		tr.Status = models.CallStatusSuccess
		tr.ResponseText = result.Text()
	default:
		tr.Status = models.CallStatusError
		tr.Error = "no result"
	}
	if summaryText != "" {
		tr.Request = map[string]any{"Summary": summaryText}
	}

	res := &models.ServiceResult{
		Status:      models.OutcomeSuccess,
		ToolResults: []models.ToolResult{tr},
		ExecutionSummary: models.ExecutionSummary{
			TotalCalls: 1,
		},
	}
	if tr.Status == models.CallStatusSuccess {
		res.ExecutionSummary.SuccessfulCalls = 1
	} else {
		res.ExecutionSummary.FailedCalls = 1
	}
	state.MergeServiceResult(service, res)
}

// toolData parses the first JSON-object text part of a tool result.
func toolData(result *mcp.CallResult) map[string]any {
	if result == nil {
		return nil
	}
	for _, part := range result.TextParts {
		var obj map[string]any
		if err := json.Unmarshal([]byte(part), &obj); err == nil {
			return obj
		}
		// Tools occasionally double-encode their payload.
		var inner string
		if err := json.Unmarshal([]byte(part), &inner); err == nil {
			if err := json.Unmarshal([]byte(inner), &obj); err == nil {
				return obj
			}
		}
	}
	return result.Structured
}

// ctxString reads a string value from a workflow context map.
func ctxString(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	v, _ := ctx[key].(string)
	return v
}

// ctxRecords reads a record slice from a workflow context map, tolerating
// both typed and JSON-decoded shapes.
func ctxRecords(ctx map[string]any, key string) []models.Record {
	if ctx == nil {
		return nil
	}
	switch t := ctx[key].(type) {
	case []models.Record:
		return t
	case []any:
		var records []models.Record
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				records = append(records, models.Record(m))
			}
		}
		return records
	default:
		return nil
	}
}
