package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/mcp"
	"github.com/openfunnel/maestro/pkg/models"
)

// soqlFromRe extracts the primary object of a SOQL query for store_as
// auto-derivation.
var soqlFromRe = regexp.MustCompile(`(?i)\bFROM\s+(\w+)`)

// Executor runs planned tool calls against one service per turn: plan,
// resolve placeholders, fan out iterations, gate mutating calls behind a
// proposal.
type Executor struct {
	opener               SessionOpener
	planner              *Planner
	resolver             *Resolver
	schema               SchemaProvider
	maxPlannerIterations int
	logger               *slog.Logger
}

// NewExecutor creates an Executor.
func NewExecutor(opener SessionOpener, planner *Planner, resolver *Resolver, maxPlannerIterations int, logger *slog.Logger) *Executor {
	if maxPlannerIterations <= 0 {
		maxPlannerIterations = 10
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		opener:               opener,
		planner:              planner,
		resolver:             resolver,
		maxPlannerIterations: maxPlannerIterations,
		logger:               logger,
	}
}

// run-scoped execution state.
type execRun struct {
	session    ToolSession
	tools      map[string]*mcp.ToolDescriptor
	resultSets map[string][]models.Record
	results    []models.ToolResult
	summary    models.ExecutionSummary
	proposal   *models.Proposal
	remaining  *models.Plan
}

// Run executes one dynamic-caller turn against a service. Never returns a
// nil result; transport-level failures are reported through Status and
// Error so the graph can route to completion with a useful message.
func (e *Executor) Run(ctx context.Context, state *models.SessionState, svc *config.ServiceConfig) *models.ServiceResult {
	session, err := e.opener.OpenSession(ctx, svc.Name)
	if err != nil {
		return &models.ServiceResult{
			Status: models.OutcomeError,
			Error:  fmt.Sprintf("failed to reach %s: %v", svc.Name, err),
		}
	}
	defer session.Close()

	run := &execRun{
		session:    session,
		tools:      e.toolIndex(svc.Name),
		resultSets: copyResultSets(state.SharedResultSets),
	}

	// A confirmed proposal resumes with its stored plan; no re-planning.
	if state.PlanOverride != nil {
		plan := state.PlanOverride
		state.PlanOverride = nil
		e.executePlan(ctx, run, plan, true)
		return e.finish(run)
	}

	switch svc.PlanningStrategy {
	case config.PlanningInternalTool:
		e.runInternalTool(ctx, run, state, svc)
	default:
		e.runLLMPlanner(ctx, run, state, svc)
	}
	return e.finish(run)
}

// SetSchemaProvider wires the schema context builder into planning.
func (e *Executor) SetSchemaProvider(p SchemaProvider) {
	e.schema = p
	if e.planner != nil {
		e.planner.SetSchemaProvider(p)
	}
}

// runInternalTool delegates planning to a tool hosted by the service itself,
// then executes the returned plan with the mutation gate armed.
func (e *Executor) runInternalTool(ctx context.Context, run *execRun, state *models.SessionState, svc *config.ServiceConfig) {
	args := map[string]any{"user_request": planningGoal(state)}
	ctxBlock := requiredContextBlock(state, svc.RequiredContext)
	if svc.UseSchemaContext && e.schema != nil {
		if schemaBlock, err := e.schema.PlanningContext(ctx, planningGoal(state), ""); err != nil {
			e.logger.Warn("Schema context unavailable", "service", svc.Name, "error", err)
		} else if schemaBlock != "" {
			if ctxBlock != "" {
				ctxBlock += "\n\n"
			}
			ctxBlock += schemaBlock
		}
	}
	if ctxBlock != "" {
		args["context"] = ctxBlock
	}

	result, err := run.session.CallTool(ctx, svc.PlanningToolName, args)
	if err != nil {
		run.results = append(run.results, models.ToolResult{
			ToolName: svc.PlanningToolName,
			Request:  args,
			Status:   models.CallStatusError,
			Error:    err.Error(),
		})
		run.summary.TotalCalls++
		run.summary.FailedCalls++
		return
	}

	plan := planFromToolResult(result)
	if len(plan.Calls) == 0 {
		e.logger.Warn("Planning tool returned no calls", "service", svc.Name, "tool", svc.PlanningToolName)
	}
	run.summary.Iterations = 1
	e.executePlan(ctx, run, plan, false)
}

// runLLMPlanner loops plan-then-execute until the model stops asking for
// another iteration or the cap is hit.
func (e *Executor) runLLMPlanner(ctx context.Context, run *execRun, state *models.SessionState, svc *config.ServiceConfig) {
	tools, err := run.session.ListTools(ctx)
	if err != nil || len(tools) == 0 {
		cached := e.opener.Tools(svc.Name)
		if len(cached) > 0 {
			tools = cached
		}
	}
	for i := range tools {
		run.tools[tools[i].Name] = &tools[i]
	}

	for iteration := 0; iteration < e.maxPlannerIterations; iteration++ {
		plan, err := e.planner.PlanIteration(ctx, svc, tools, state, run.resultSets, run.results, iteration)
		if err != nil {
			e.logger.Error("Planner failed", "service", svc.Name, "iteration", iteration, "error", err)
			break
		}
		run.summary.Iterations++

		if len(plan.Calls) == 0 {
			break
		}
		e.executePlan(ctx, run, plan, false)
		// Continuation only makes sense when the next pass consumes freshly
		// produced rows; a plan that never chained previous_result is done
		// regardless of what the model asked for.
		if run.proposal != nil || !plan.NeedsNextIteration || !chainsPreviousResult(plan) {
			break
		}
	}
}

// chainsPreviousResult reports whether any call fans out over the ephemeral
// previous_result set.
func chainsPreviousResult(plan *models.Plan) bool {
	for _, call := range plan.Calls {
		if name, ok := call.IterateOver.(string); ok && name == models.PreviousResultSet {
			return true
		}
	}
	return false
}

// executePlan walks the plan's calls in order. With the mutation gate armed
// (skipGate false), the first mutating call is held back as a proposal and
// the rest of the plan is preserved for resume.
func (e *Executor) executePlan(ctx context.Context, run *execRun, plan *models.Plan, skipGate bool) {
	for i, call := range plan.Calls {
		call.StoreAs = deriveStoreAs(call)

		if !skipGate && mcp.IsMutatingTool(call.Tool) {
			run.proposal = e.buildProposal(run, call)
			run.remaining = &models.Plan{Calls: plan.Calls[i:]}
			return
		}
		e.executeCall(ctx, run, call)
	}
}

// executeCall dispatches one planned call: plain, batch, or per-item fan-out.
func (e *Executor) executeCall(ctx context.Context, run *execRun, call models.PlannedCall) {
	items, iterating := resolveIterationItems(call.IterateOver, run.resultSets)
	if !iterating {
		args := e.resolver.ResolveArgs(call.Arguments, nil, run.resultSets)
		e.invoke(ctx, run, call, args, nil, 0)
		return
	}
	if len(items) == 0 {
		e.logger.Warn("Iteration source resolved to no items", "tool", call.Tool, "source", call.IterateOver)
		run.summary.TotalCalls++
		run.summary.FailedCalls++
		run.results = append(run.results, models.ToolResult{
			ToolName: call.Tool,
			Request:  call.Arguments,
			Status:   models.CallStatusError,
			Error:    fmt.Sprintf("iteration source %v resolved to no items", call.IterateOver),
		})
		return
	}

	descriptor := run.tools[call.Tool]
	// Review-style tools always run individually so each item keeps its own
	// proposal payload.
	if !strings.Contains(call.Tool, "propose_action") {
		if param, ok := ClassifyBatch(descriptor); ok {
			args := AssembleBatchArgs(call.Tool, call.Arguments, param, items, e.resolver, run.resultSets)
			e.invoke(ctx, run, call, args, nil, len(items))
			return
		}
	}

	for _, item := range items {
		args := e.resolver.ResolveArgs(call.Arguments, item, run.resultSets)
		e.invoke(ctx, run, call, args, item, 0)
	}
}

// invoke performs one tool call and records its outcome and extracted rows.
func (e *Executor) invoke(ctx context.Context, run *execRun, call models.PlannedCall, args map[string]any, sourceItem models.Record, batchSize int) {
	run.summary.TotalCalls++

	tr := models.ToolResult{
		ToolName:   call.Tool,
		Request:    args,
		SourceItem: sourceItem,
		BatchSize:  batchSize,
	}

	result, err := run.session.CallTool(ctx, call.Tool, args)
	switch {
	case err != nil:
		tr.Status = models.CallStatusError
		tr.Error = err.Error()
	case result.Failed():
		tr.Status = models.CallStatusError
		tr.Error = result.ErrorMessage()
		tr.ResponseText = result.Text()
	default:
		tr.Status = models.CallStatusSuccess
		tr.ResponseText = result.Text()
	}

	if tr.Status == models.CallStatusSuccess {
		run.summary.SuccessfulCalls++
		if rows := mcp.ExtractRows(result); rows != nil {
			if call.StoreAs != "" {
				run.resultSets[call.StoreAs] = rows
			}
			run.resultSets[models.PreviousResultSet] = rows
		}
	} else {
		run.summary.FailedCalls++
		e.logger.Warn("Tool call failed", "tool", call.Tool, "error", tr.Error)
	}

	run.results = append(run.results, tr)
}

// buildProposal shapes the held-back mutating call for user review.
func (e *Executor) buildProposal(run *execRun, call models.PlannedCall) *models.Proposal {
	// Resolve against the first item of the iteration source so the user
	// reviews concrete values, not templates.
	items, _ := resolveIterationItems(call.IterateOver, run.resultSets)
	var item models.Record
	if len(items) > 0 {
		item = items[0]
	}
	resolved := e.resolver.ResolveArgs(call.Arguments, item, run.resultSets)

	actionType := models.ActionUpdate
	if strings.Contains(call.Tool, "create") {
		actionType = models.ActionCreate
	}

	objectName := proposalObjectName(call, resolved)

	fields := map[string]any{}
	if fm, ok := resolved["fields"].(map[string]any); ok {
		for k, v := range fm {
			fields[k] = v
		}
	} else {
		for k, v := range resolved {
			switch k {
			case "object_name", "sobject", "object", "record_id", "external_id_field":
				continue
			}
			fields[k] = v
		}
	}

	return &models.Proposal{
		ObjectName: objectName,
		Fields:     fields,
		ActionType: actionType,
		ToolCall: &models.PlannedCall{
			Tool:        call.Tool,
			Arguments:   resolved,
			Reason:      call.Reason,
			StoreAs:     call.StoreAs,
			IterateOver: call.IterateOver,
		},
	}
}

func (e *Executor) finish(run *execRun) *models.ServiceResult {
	res := &models.ServiceResult{
		ExecutionSummary: run.summary,
		ToolResults:      run.results,
		ResultSets:       run.resultSets,
		Proposal:         run.proposal,
		GeneratedPlan:    run.remaining,
	}

	switch {
	case run.proposal != nil:
		res.Status = models.OutcomeProposal
	case run.summary.FailedCalls > 0 && run.summary.SuccessfulCalls == 0:
		res.Status = models.OutcomeError
		res.Error = firstError(run.results)
	default:
		res.Status = models.OutcomeSuccess
		if run.summary.FailedCalls > 0 {
			res.Error = firstError(run.results)
		}
	}
	return res
}

func (e *Executor) toolIndex(service string) map[string]*mcp.ToolDescriptor {
	cached := e.opener.Tools(service)
	index := make(map[string]*mcp.ToolDescriptor, len(cached))
	for i := range cached {
		index[cached[i].Name] = &cached[i]
	}
	return index
}

// planningGoal prefers an inter-node directive over the raw user goal.
func planningGoal(state *models.SessionState) string {
	if state.TaskDirective != "" {
		return state.TaskDirective
	}
	return state.UserGoal
}

// planFromToolResult extracts a Plan from a planning tool's response,
// preferring the json_response envelope.
func planFromToolResult(result *mcp.CallResult) *models.Plan {
	if inner, ok := mcp.ExtractJSONResponse(result); ok {
		data, err := json.Marshal(inner)
		if err == nil {
			if plan, perr := models.ParsePlan(string(data)); perr == nil {
				return plan
			}
		}
	}
	for _, part := range result.TextParts {
		if plan, err := models.ParsePlan(part); err == nil && len(plan.Calls) > 0 {
			return plan
		}
	}
	return &models.Plan{Calls: []models.PlannedCall{}}
}

// deriveStoreAs fills a missing store_as from the call's SOQL query, naming
// the set after the queried object in plural lowercase (Contact becomes
// "contacts").
func deriveStoreAs(call models.PlannedCall) string {
	if call.StoreAs != "" {
		return call.StoreAs
	}
	for _, key := range []string{"query", "soql", "soql_query"} {
		q, ok := call.Arguments[key].(string)
		if !ok {
			continue
		}
		if m := soqlFromRe.FindStringSubmatch(q); m != nil {
			return pluralizeObjectName(m[1])
		}
	}
	return ""
}

func pluralizeObjectName(name string) string {
	lower := strings.ToLower(name)
	if strings.HasSuffix(lower, "s") {
		return lower
	}
	return lower + "s"
}

// resolveIterationItems turns an iterate_over directive into concrete items.
// A string names a result set (case-insensitive); a literal list is used
// directly, with bare strings normalized to {"Id": value} records.
func resolveIterationItems(source any, resultSets map[string][]models.Record) ([]models.Record, bool) {
	switch t := source.(type) {
	case nil:
		return nil, false
	case string:
		if t == "" {
			return nil, false
		}
		if rows, ok := resultSets[t]; ok {
			return rows, true
		}
		lower := strings.ToLower(t)
		for name, rows := range resultSets {
			if strings.ToLower(name) == lower {
				return rows, true
			}
		}
		return nil, true
	case []any:
		items := make([]models.Record, 0, len(t))
		for _, elem := range t {
			switch v := elem.(type) {
			case map[string]any:
				items = append(items, models.Record(v))
			case string:
				items = append(items, models.Record{"Id": v})
			default:
				items = append(items, models.Record{"Id": models.Stringify(v)})
			}
		}
		return items, true
	default:
		return nil, false
	}
}

func proposalObjectName(call models.PlannedCall, resolved map[string]any) string {
	for _, key := range []string{"object_name", "sobject", "object"} {
		if name, ok := resolved[key].(string); ok && name != "" {
			return name
		}
	}
	// Fall back to the tool name tail: upsert_campaign_member -> CampaignMember.
	parts := strings.Split(call.Tool, "_")
	for i, part := range parts {
		switch part {
		case "create", "update", "upsert", "delete":
			if i+1 < len(parts) {
				return titleJoin(parts[i+1:])
			}
		}
	}
	return "Record"
}

func titleJoin(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	return b.String()
}

func copyResultSets(src map[string][]models.Record) map[string][]models.Record {
	dst := make(map[string][]models.Record, len(src))
	for name, rows := range src {
		dst[name] = rows
	}
	return dst
}

func firstError(results []models.ToolResult) string {
	for _, tr := range results {
		if tr.Status == models.CallStatusError && tr.Error != "" {
			return tr.Error
		}
	}
	return ""
}
