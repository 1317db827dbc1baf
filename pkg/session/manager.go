package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/openfunnel/maestro/pkg/graph"
	"github.com/openfunnel/maestro/pkg/models"
)

// Manager owns the live sessions: one state per thread, turns strictly
// serialized per thread, checkpointed after every turn.
type Manager struct {
	store         Store
	engine        *graph.Engine
	maxIterations int
	logger        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*liveSession
}

type liveSession struct {
	mu    sync.Mutex
	state *models.SessionState
}

// NewManager creates the session manager.
func NewManager(store Store, engine *graph.Engine, maxIterations int, logger *slog.Logger) *Manager {
	if maxIterations <= 0 {
		maxIterations = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:         store,
		engine:        engine,
		maxIterations: maxIterations,
		logger:        logger,
		sessions:      make(map[string]*liveSession),
	}
}

// NewThreadID mints a thread id for a connection that did not supply one.
func (m *Manager) NewThreadID() string {
	return uuid.New().String()
}

// HandleMessage runs one inbound message through the graph and returns the
// outbound payload. A pending interrupt consumes the message as its answer;
// otherwise the message starts a fresh turn over the retained conversation
// memory.
func (m *Manager) HandleMessage(ctx context.Context, threadID, message string) (map[string]any, error) {
	sess, err := m.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	state := sess.state
	if state.Interrupt != nil {
		m.logger.Info("Resuming suspended turn", "thread_id", threadID, "kind", state.Interrupt.Kind)
		err = m.engine.Resume(ctx, state, message)
	} else {
		state.BeginTurn(message)
		err = m.engine.RunTurn(ctx, state)
	}

	if saveErr := m.store.Save(ctx, threadID, state); saveErr != nil {
		m.logger.Error("Checkpoint save failed", "thread_id", threadID, "error", saveErr)
	}
	if err != nil {
		m.logger.Error("Turn failed", "thread_id", threadID, "error", err)
		return ErrorPayload(err.Error()), nil
	}
	return BuildPayload(state), nil
}

// Sessions lists the persisted checkpoints.
func (m *Manager) Sessions(ctx context.Context) ([]Info, error) {
	return m.store.List(ctx)
}

// SessionState returns the state behind one thread, loading it if necessary.
func (m *Manager) SessionState(ctx context.Context, threadID string) (*models.SessionState, error) {
	sess, err := m.acquire(ctx, threadID)
	if err != nil {
		return nil, err
	}
	return sess.state, nil
}

// Drop removes a session from memory and from the store.
func (m *Manager) Drop(ctx context.Context, threadID string) error {
	m.mu.Lock()
	delete(m.sessions, threadID)
	m.mu.Unlock()
	return m.store.Delete(ctx, threadID)
}

// acquire returns the live session for a thread, loading its checkpoint or
// creating a fresh state.
func (m *Manager) acquire(ctx context.Context, threadID string) (*liveSession, error) {
	m.mu.Lock()
	if sess, ok := m.sessions[threadID]; ok {
		m.mu.Unlock()
		return sess, nil
	}
	m.mu.Unlock()

	// Load outside the map lock; checkpoint reads can be slow.
	state, err := m.store.Load(ctx, threadID)
	if err != nil {
		if err != ErrNotFound {
			return nil, err
		}
		state = models.NewSessionState(m.maxIterations)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[threadID]; ok {
		return sess, nil
	}
	sess := &liveSession{state: state}
	m.sessions[threadID] = sess
	return sess, nil
}

// BuildPayload shapes the outbound message for a finished or suspended turn.
func BuildPayload(state *models.SessionState) map[string]any {
	if state.Interrupt != nil {
		return state.Interrupt.Payload
	}

	// A completion-produced control payload travels through final_response;
	// forward it verbatim instead of wrapping it.
	if control := controlPayload(state.FinalResponse); control != nil {
		return control
	}

	payload := map[string]any{
		"type":                    "response",
		"success":                 state.Error == "",
		"response":                state.FinalResponse,
		"iterations":              state.IterationCount,
		"salesforce_data":         len(state.SharedResultSets) > 0,
		"created_records":         filteredCreatedRecords(state),
		"generated_email_content": state.GeneratedEmailContent,
	}
	if state.Error != "" {
		payload["error"] = state.Error
	} else {
		payload["error"] = nil
	}
	return payload
}

// ErrorPayload shapes the error envelope.
func ErrorPayload(message string) map[string]any {
	return map[string]any{"type": "error", "message": message}
}

// controlPayload detects a JSON control object in final_response.
func controlPayload(finalResponse string) map[string]any {
	trimmed := strings.TrimSpace(finalResponse)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil
	}
	if t, _ := obj["type"].(string); t == "" {
		return nil
	}
	return obj
}

// filteredCreatedRecords drops placeholder entries whose display name is just
// "<Object> Record"; the client only links records with real names.
func filteredCreatedRecords(state *models.SessionState) map[string][]models.CreatedRecord {
	filtered := make(map[string][]models.CreatedRecord, len(state.CreatedRecords))
	for object, records := range state.CreatedRecords {
		var kept []models.CreatedRecord
		for _, rec := range records {
			if strings.HasSuffix(rec.Name, " Record") {
				continue
			}
			kept = append(kept, rec)
		}
		if len(kept) > 0 {
			filtered[object] = kept
		}
	}
	return filtered
}
