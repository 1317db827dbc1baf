package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openfunnel/maestro/pkg/config"
	"github.com/openfunnel/maestro/pkg/models"
)

// DynamicCaller executes one turn against whichever service the orchestrator
// picked, then merges the outcome back into the session state.
type DynamicCaller struct {
	cfg    *config.Config
	exec   *Executor
	logger *slog.Logger
}

// NewDynamicCaller creates the generic caller node.
func NewDynamicCaller(cfg *config.Config, exec *Executor, logger *slog.Logger) *DynamicCaller {
	if logger == nil {
		logger = slog.Default()
	}
	return &DynamicCaller{cfg: cfg, exec: exec, logger: logger}
}

// Call runs the planner/executor against state.NextAction's service. A
// proposal outcome parks the remaining plan on the state; the graph then
// routes to the review interrupt.
func (d *DynamicCaller) Call(ctx context.Context, state *models.SessionState) error {
	service := state.NextAction
	if service == "" || service == NextActionComplete {
		return nil
	}

	svcCfg, err := d.cfg.Services.Get(service)
	if err != nil {
		msg := fmt.Sprintf("Service %s not found in registry", service)
		d.logger.Warn(msg)
		state.Error = msg
		state.NextAction = NextActionComplete
		return nil
	}

	d.logger.Info("Invoking service", "service", service)
	state.MarkServiceCalled(service)

	res := d.exec.Run(ctx, state, svcCfg)
	state.MergeServiceResult(service, res)
	state.CurrentAgent = service

	switch res.Status {
	case models.OutcomeProposal:
		state.PendingProposalPlan = res.GeneratedPlan
		state.PendingProposalDetails = res.Proposal
		d.logger.Info("Proposal produced, awaiting review",
			"service", service, "object", res.Proposal.ObjectName)
	case models.OutcomeError:
		state.Error = fmt.Sprintf("Error calling %s: %s", service, res.Error)
		d.logger.Error("Service run failed", "service", service, "error", res.Error)
	default:
		d.logger.Info("Service run complete",
			"service", service,
			"calls", res.ExecutionSummary.TotalCalls,
			"failed", res.ExecutionSummary.FailedCalls)
	}
	return nil
}

// HasPendingProposal reports whether the last caller run parked a proposal.
func HasPendingProposal(state *models.SessionState) bool {
	return state.PendingProposalDetails != nil && state.PendingProposalPlan != nil
}
