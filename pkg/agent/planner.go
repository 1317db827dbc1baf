package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/llm"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// previousResultsFullLimit caps how many rows of a result set are shown to
// the planner verbatim; larger sets are sampled.
const previousResultsFullLimit = 10

const planFormatInstructions = `Respond with ONLY a JSON object, no prose:
{
  "calls": [
    {
      "tool": "<tool name>",
      "arguments": { ... },
      "reason": "<why this call>",
      "store_as": "<optional result set name>",
      "iterate_over": "<optional: result set name, or a literal list of items>"
    }
  ],
  "needs_next_iteration": false,
  "needs_salesforce_data": false
}
Placeholders: {{field}} reads a field of the current iteration item;
{{set_name.field}} reads the first record of a named result set.
Set needs_next_iteration to true only when a later call depends on output you
cannot reference yet. Set needs_salesforce_data to true when CRM records must
be fetched before this service can act.`

// Planner produces tool-call plans for llm_planner services.
type Planner struct {
	chat   llm.Chat
	schema SchemaProvider
	logger *slog.Logger
}

// NewPlanner creates a Planner.
func NewPlanner(chat llm.Chat, logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{chat: chat, logger: logger}
}

// SetSchemaProvider wires the schema context builder into planning prompts.
func (p *Planner) SetSchemaProvider(provider SchemaProvider) {
	p.schema = provider
}

// PlanIteration asks the model for the next batch of calls against one
// service. A malformed response degrades to an empty plan; the executor loop
// treats that as "nothing left to do".
func (p *Planner) PlanIteration(ctx context.Context, svc *config.ServiceConfig, tools []mcp.ToolDescriptor, state *models.SessionState, resultSets map[string][]models.Record, priorResults []models.ToolResult, iteration int) (*models.Plan, error) {
	systemPrompt := p.buildSystemPrompt(svc, tools)
	if svc.UseSchemaContext && p.schema != nil {
		if schemaBlock, err := p.schema.PlanningContext(ctx, planningGoal(state), ""); err != nil {
			p.logger.Warn("Schema context unavailable", "service", svc.Name, "error", err)
		} else if schemaBlock != "" {
			systemPrompt += "\n\n" + schemaBlock
		}
	}
	userPrompt := p.buildUserPrompt(svc, state, resultSets, priorResults, iteration)

	raw, err := p.chat.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	})
	if err != nil {
		return nil, fmt.Errorf("planner completion for %q: %w", svc.Name, err)
	}

	plan, parseErr := models.ParsePlan(raw)
	if parseErr != nil {
		p.logger.Warn("Plan parse failed, continuing with empty plan",
			"service", svc.Name, "iteration", iteration, "error", parseErr)
	}
	return plan, nil
}

func (p *Planner) buildSystemPrompt(svc *config.ServiceConfig, tools []mcp.ToolDescriptor) string {
	var b strings.Builder
	if svc.PlanningPromptTemplate != "" {
		b.WriteString(svc.PlanningPromptTemplate)
		b.WriteString("\n\n")
	}

	b.WriteString("Available tools:\n")
	for _, tool := range tools {
		fmt.Fprintf(&b, "- %s: %s\n", tool.Name, tool.Description)
		if tool.Schema != nil {
			if data, err := json.Marshal(tool.Schema); err == nil {
				fmt.Fprintf(&b, "  input schema: %s\n", data)
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(planFormatInstructions)
	return b.String()
}

func (p *Planner) buildUserPrompt(svc *config.ServiceConfig, state *models.SessionState, resultSets map[string][]models.Record, priorResults []models.ToolResult, iteration int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal: %s\n", state.UserGoal)
	if state.TaskDirective != "" {
		fmt.Fprintf(&b, "Directive: %s\n", state.TaskDirective)
	}

	if ctxBlock := requiredContextBlock(state, svc.RequiredContext); ctxBlock != "" {
		b.WriteString("\nContext:\n")
		b.WriteString(ctxBlock)
	}

	if len(resultSets) > 0 {
		b.WriteString("\nAvailable result sets:\n")
		b.WriteString(summarizeResultSets(resultSets))
	}

	if iteration > 0 && len(priorResults) > 0 {
		fmt.Fprintf(&b, "\nIteration %d. Results from previous calls:\n", iteration+1)
		for _, tr := range priorResults {
			status := "ok"
			if tr.Status == models.CallStatusError {
				status = "ERROR: " + tr.Error
			}
			fmt.Fprintf(&b, "- %s: %s %s\n", tr.ToolName, status, truncate(tr.ResponseText, progressResponseMaxChars))
		}
		b.WriteString("\nPlan the remaining calls, or return an empty calls list if the goal is done.\n")
	}
	return b.String()
}

// requiredContextBlock resolves a service's required_context paths and
// renders each bound value. Paths that resolve empty are reported as missing
// so the planner can fetch prerequisites instead of guessing.
func requiredContextBlock(state *models.SessionState, paths []string) string {
	var b strings.Builder
	for _, path := range paths {
		v, ok := StatePathValue(state, path)
		if !ok || isEmptyValue(v) {
			fmt.Fprintf(&b, "- %s: (missing)\n", path)
			continue
		}
		fmt.Fprintf(&b, "- %s: %s\n", path, stringifyStateValue(v))
	}
	return b.String()
}

// summarizeResultSets renders each named set: full rows up to the limit,
// a sample plus row count beyond it.
func summarizeResultSets(resultSets map[string][]models.Record) string {
	var b strings.Builder
	for name, rows := range resultSets {
		if len(rows) <= previousResultsFullLimit {
			data, err := json.Marshal(rows)
			if err != nil {
				continue
			}
			fmt.Fprintf(&b, "- %s (%d rows): %s\n", name, len(rows), data)
			continue
		}
		sample, err := json.Marshal(rows[:previousResultsFullLimit])
		if err != nil {
			continue
		}
		fmt.Fprintf(&b, "- %s (%d rows, first %d shown): %s\n",
			name, len(rows), previousResultsFullLimit, sample)
	}
	return b.String()
}
