package models

// InterruptKind identifies the two control payloads that suspend a turn.
type InterruptKind string

const (
	InterruptReviewProposal InterruptKind = "review_proposal"
	InterruptConfirmation   InterruptKind = "confirmation"
)

// InterruptState is the continuation marker persisted when a node suspends.
// The session manager holds it on the checkpoint until the next inbound
// message, which is delivered as the interrupt answer.
type InterruptState struct {
	Node    string         `json:"node"`
	Kind    InterruptKind  `json:"kind"`
	Payload map[string]any `json:"payload"`
}

// SessionState is the single mutable entity behind one client session.
// One instance per connection; mutated by each graph turn; checkpointed by
// thread id between turns.
type SessionState struct {
	UserGoal       string        `json:"user_goal"`
	Messages       []ChatMessage `json:"messages"`
	IterationCount int           `json:"iteration_count"`
	MaxIterations  int           `json:"max_iterations"`
	NextAction     string        `json:"next_action,omitempty"`
	CurrentAgent   string        `json:"current_agent,omitempty"`

	// Cross-step data plane. MCPResults accumulates per-service observations
	// (merged); SharedResultSets is replaced per named set so nodes can
	// retire stale context.
	MCPResults       map[string]*ServiceResult `json:"mcp_results,omitempty"`
	SharedResultSets map[string][]Record       `json:"shared_result_sets,omitempty"`
	SessionContext   map[string]any            `json:"session_context,omitempty"`
	CalledServices   []string                  `json:"called_services,omitempty"`

	// Directives left by one workflow for the next planning pass.
	TaskDirective  string         `json:"task_directive,omitempty"`
	PendingUpdates map[string]any `json:"pending_updates,omitempty"`

	CreatedRecords map[string][]CreatedRecord `json:"created_records,omitempty"`

	// Specialized workflow scratch state.
	EmailWorkflowContext      map[string]any `json:"email_workflow_context,omitempty"`
	EngagementWorkflowContext map[string]any `json:"engagement_workflow_context,omitempty"`
	SaveWorkflowContext       map[string]any `json:"save_workflow_context,omitempty"`

	ActiveWorkflow string `json:"active_workflow,omitempty"`

	// Proposal / resume state. At most one of PendingProposalPlan and
	// PlanOverride is set at any time.
	PlanOverride           *Plan          `json:"plan_override,omitempty"`
	PendingProposalPlan    *Plan          `json:"pending_proposal_plan,omitempty"`
	PendingProposalDetails *Proposal      `json:"pending_proposal_details,omitempty"`
	Interrupt              *InterruptState `json:"interrupt,omitempty"`

	WorkflowFailed bool   `json:"workflow_failed,omitempty"`
	Error          string `json:"error,omitempty"`
	FinalResponse  string `json:"final_response,omitempty"`

	GeneratedEmailContent *EmailContent `json:"generated_email_content,omitempty"`

	// Transient prompt-resolution values set by the orchestrator node.
	ServicesInfo    string `json:"-"`
	ProgressSummary string `json:"-"`
}

// NewSessionState returns a state ready for a first turn.
func NewSessionState(maxIterations int) *SessionState {
	return &SessionState{
		MaxIterations:    maxIterations,
		MCPResults:       make(map[string]*ServiceResult),
		SharedResultSets: make(map[string][]Record),
		SessionContext:   make(map[string]any),
		CreatedRecords:   make(map[string][]CreatedRecord),
	}
}

// BeginTurn applies the sanitized delta for a new inbound message: transient
// fields reset, memory fields (messages, session context, shared result
// sets, sticky workflow, draft email) preserved.
func (s *SessionState) BeginTurn(userGoal string) {
	s.UserGoal = userGoal
	s.IterationCount = 0
	s.NextAction = ""
	s.CurrentAgent = ""
	s.MCPResults = make(map[string]*ServiceResult)
	s.CalledServices = nil
	s.TaskDirective = ""
	s.PendingUpdates = nil
	s.CreatedRecords = make(map[string][]CreatedRecord)
	s.EmailWorkflowContext = nil
	s.EngagementWorkflowContext = nil
	s.SaveWorkflowContext = nil
	s.WorkflowFailed = false
	s.Error = ""
	s.FinalResponse = ""
	s.ServicesInfo = ""
	s.ProgressSummary = ""

	s.AppendMessage(RoleHuman, userGoal)
}

// AppendMessage appends to the conversation log (append-only reducer).
func (s *SessionState) AppendMessage(role Role, content string) {
	s.Messages = append(s.Messages, ChatMessage{Role: role, Content: content})
}

// MergeServiceResult merges one service's run output into MCPResults
// (accumulating reducer) and publishes its result sets into
// SharedResultSets. Named sets are replaced, never deep-merged, and the
// ephemeral "previous_result" alias is never persisted across turns.
func (s *SessionState) MergeServiceResult(service string, res *ServiceResult) {
	if res == nil {
		return
	}
	if s.MCPResults == nil {
		s.MCPResults = make(map[string]*ServiceResult)
	}
	if prev, ok := s.MCPResults[service]; ok && prev != nil {
		prev.ToolResults = append(prev.ToolResults, res.ToolResults...)
		prev.ExecutionSummary.TotalCalls += res.ExecutionSummary.TotalCalls
		prev.ExecutionSummary.SuccessfulCalls += res.ExecutionSummary.SuccessfulCalls
		prev.ExecutionSummary.FailedCalls += res.ExecutionSummary.FailedCalls
		prev.ExecutionSummary.Iterations += res.ExecutionSummary.Iterations
		prev.Status = res.Status
		prev.Proposal = res.Proposal
		prev.GeneratedPlan = res.GeneratedPlan
	} else {
		s.MCPResults[service] = res
	}
	s.PublishResultSets(res.ResultSets)
}

// PublishResultSets replaces named entries of SharedResultSets, skipping the
// ephemeral "previous_result" alias.
func (s *SessionState) PublishResultSets(sets map[string][]Record) {
	if len(sets) == 0 {
		return
	}
	if s.SharedResultSets == nil {
		s.SharedResultSets = make(map[string][]Record)
	}
	for name, rows := range sets {
		if name == PreviousResultSet {
			continue
		}
		s.SharedResultSets[name] = rows
	}
}

// AddCreatedRecord registers a created record under its entity type,
// deduplicating by id.
func (s *SessionState) AddCreatedRecord(objectName string, rec CreatedRecord) {
	if s.CreatedRecords == nil {
		s.CreatedRecords = make(map[string][]CreatedRecord)
	}
	for _, existing := range s.CreatedRecords[objectName] {
		if existing.ID == rec.ID {
			return
		}
	}
	s.CreatedRecords[objectName] = append(s.CreatedRecords[objectName], rec)
}

// MarkServiceCalled records a service name once in call order.
func (s *SessionState) MarkServiceCalled(service string) {
	for _, name := range s.CalledServices {
		if name == service {
			return
		}
	}
	s.CalledServices = append(s.CalledServices, service)
}

// ClearProposalState clears all proposal/resume fields as part of a resume
// step.
func (s *SessionState) ClearProposalState() {
	s.PlanOverride = nil
	s.PendingProposalPlan = nil
	s.PendingProposalDetails = nil
	s.Interrupt = nil
}

// PreviousResultSet is the ephemeral alias updated after each tool
// execution; it must never outlive a turn.
const PreviousResultSet = "previous_result"
