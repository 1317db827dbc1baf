// Package graph wires the agent nodes and deterministic workflows into the
// turn loop: an entry router honoring sticky workflow modes, the
// orchestrator/dynamic-caller cycle, workflow interception, and interrupt
// suspension/resumption.
package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/openfunnel/maestro/pkg/agent"
	"github.com/openfunnel/maestro/pkg/models"
	"github.com/openfunnel/maestro/pkg/workflows"
)

// Routing labels the orchestrator answers with that are intercepted before
// reaching the dynamic caller.
const (
	routeEngagement    = "EngagementWorkflow"
	routeEmailBuilder  = "EmailBuilderAgent"
	routeEmailBuilder2 = "Email Builder Agent"
)

// Engine drives one conversation turn through the node graph.
type Engine struct {
	orchestrator *agent.Orchestrator
	caller       *agent.DynamicCaller
	completion   *agent.Completion
	builder      *agent.EmailBuilder
	emailSend    *workflows.EmailSend
	engagement   *workflows.Engagement
	saveTemplate *workflows.SaveTemplate
	catalog      agent.FieldCatalog

	// emailService is the service label whose routing is intercepted into
	// the email pipeline instead of the generic caller.
	emailService string

	logger *slog.Logger
}

// Config collects the engine's nodes.
type Config struct {
	Orchestrator *agent.Orchestrator
	Caller       *agent.DynamicCaller
	Completion   *agent.Completion
	Builder      *agent.EmailBuilder
	EmailSend    *workflows.EmailSend
	Engagement   *workflows.Engagement
	SaveTemplate *workflows.SaveTemplate
	Catalog      agent.FieldCatalog
	EmailService string
	Logger       *slog.Logger
}

// New creates the engine.
func New(cfg Config) *Engine {
	emailService := cfg.EmailService
	if emailService == "" {
		emailService = workflows.BrevoService
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		orchestrator: cfg.Orchestrator,
		caller:       cfg.Caller,
		completion:   cfg.Completion,
		builder:      cfg.Builder,
		emailSend:    cfg.EmailSend,
		engagement:   cfg.Engagement,
		saveTemplate: cfg.SaveTemplate,
		catalog:      cfg.Catalog,
		emailService: emailService,
		logger:       logger,
	}
}

// RunTurn executes one inbound message to completion or suspension. When it
// returns with state.Interrupt set, the turn is suspended and the next
// message must go through Resume.
func (e *Engine) RunTurn(ctx context.Context, state *models.SessionState) error {
	switch state.ActiveWorkflow {
	case agent.ActiveEmailBuilder, routeEmailBuilder2:
		return e.builderTurn(ctx, state)
	case workflows.ActiveSaveTemplate:
		// A sticky save-template mode without a pending interrupt means the
		// previous turn was cut short; restart the workflow cleanly.
		state.ActiveWorkflow = ""
		return e.orchestratorLoop(ctx, state)
	default:
		return e.orchestratorLoop(ctx, state)
	}
}

// Resume consumes the answer to a pending interrupt and drives the turn to
// its next stop.
func (e *Engine) Resume(ctx context.Context, state *models.SessionState, answer string) error {
	interrupt := state.Interrupt
	if interrupt == nil {
		return fmt.Errorf("resume without a pending interrupt")
	}

	switch interrupt.Kind {
	case models.InterruptConfirmation:
		return e.saveTemplate.Resume(ctx, state, answer)

	case models.InterruptReviewProposal:
		approved := agent.ResumeProposal(state, answer, e.logger)
		if !approved {
			return e.completion.Finish(ctx, state)
		}
		if err := e.caller.Call(ctx, state); err != nil {
			return err
		}
		return e.orchestratorLoop(ctx, state)

	default:
		state.Interrupt = nil
		return fmt.Errorf("unknown interrupt kind %q", interrupt.Kind)
	}
}

// orchestratorLoop cycles decide-dispatch until the turn completes or a node
// suspends.
func (e *Engine) orchestratorLoop(ctx context.Context, state *models.SessionState) error {
	for {
		if err := e.orchestrator.Decide(ctx, state); err != nil {
			return err
		}

		switch state.NextAction {
		case agent.NextActionComplete:
			return e.completion.Finish(ctx, state)

		case e.emailService:
			e.logger.Info("Intercepting email service route into the send pipeline")
			if err := e.emailSend.Run(ctx, state); err != nil {
				return err
			}

		case routeEngagement:
			if err := e.engagement.Run(ctx, state); err != nil {
				return err
			}

		case routeEmailBuilder, routeEmailBuilder2:
			return e.builderTurn(ctx, state)

		default:
			if err := e.caller.Call(ctx, state); err != nil {
				return err
			}
			if agent.HasPendingProposal(state) {
				e.suspendForReview(state)
				return nil
			}
		}

		if state.Interrupt != nil {
			return nil
		}
	}
}

// builderTurn runs the email builder and, when it hands off a save intent,
// the save-template workflow.
func (e *Engine) builderTurn(ctx context.Context, state *models.SessionState) error {
	if err := e.builder.Run(ctx, state); err != nil {
		return err
	}
	if state.NextAction == agent.NextActionSaveTemplate {
		return e.saveTemplate.Run(ctx, state)
	}
	if state.FinalResponse != "" {
		state.AppendMessage(models.RoleAssistant, state.FinalResponse)
	}
	return nil
}

// suspendForReview parks the pending proposal behind a review_proposal
// interrupt.
func (e *Engine) suspendForReview(state *models.SessionState) {
	payload := agent.BuildReviewPayload(state, e.catalog)
	state.Interrupt = &models.InterruptState{
		Node:    "review_proposal",
		Kind:    models.InterruptReviewProposal,
		Payload: payload,
	}
	e.logger.Info("Suspended for proposal review",
		"object", state.PendingProposalDetails.ObjectName)
}
