// Package session manages client sessions: serialized turn execution per
// thread, checkpoint persistence, and shaping of outbound payloads.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/openfunnel/maestro/pkg/database"
	"github.com/openfunnel/maestro/pkg/models"
)

// ErrNotFound is returned when no checkpoint exists for a thread.
var ErrNotFound = errors.New("session not found")

// Info is one checkpoint's listing entry.
type Info struct {
	ThreadID  string    `json:"thread_id"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Store persists session state snapshots keyed by thread id.
type Store interface {
	Load(ctx context.Context, threadID string) (*models.SessionState, error)
	Save(ctx context.Context, threadID string, state *models.SessionState) error
	Delete(ctx context.Context, threadID string) error
	List(ctx context.Context) ([]Info, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// SQLiteStore is the sqlite-backed checkpoint store.
type SQLiteStore struct {
	db *database.Client
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a store over an opened checkpoint database.
func NewSQLiteStore(db *database.Client) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Load reads one thread's checkpoint.
func (s *SQLiteStore) Load(ctx context.Context, threadID string) (*models.SessionState, error) {
	var blob []byte
	err := s.db.DB().QueryRowContext(ctx,
		`SELECT state FROM checkpoints WHERE thread_id = ?`, threadID).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}

	var state models.SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint %s: %w", threadID, err)
	}
	return &state, nil
}

// Save writes one thread's checkpoint, replacing any previous snapshot.
func (s *SQLiteStore) Save(ctx context.Context, threadID string, state *models.SessionState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode checkpoint %s: %w", threadID, err)
	}
	_, err = s.db.DB().ExecContext(ctx,
		`INSERT INTO checkpoints (thread_id, state, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(thread_id) DO UPDATE SET state = excluded.state, updated_at = CURRENT_TIMESTAMP`,
		threadID, blob)
	if err != nil {
		return fmt.Errorf("save checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Delete removes one thread's checkpoint.
func (s *SQLiteStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.DB().ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	return err
}

// List returns all checkpoints, most recently updated first.
func (s *SQLiteStore) List(ctx context.Context) ([]Info, error) {
	rows, err := s.db.DB().QueryContext(ctx,
		`SELECT thread_id, updated_at FROM checkpoints ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var infos []Info
	for rows.Next() {
		var info Info
		if err := rows.Scan(&info.ThreadID, &info.UpdatedAt); err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, rows.Err()
}

// DeleteOlderThan removes checkpoints not updated since the cutoff. Returns
// the number of rows removed.
func (s *SQLiteStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.DB().ExecContext(ctx,
		`DELETE FROM checkpoints WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// MemoryStore keeps checkpoints in memory; used when no checkpoint database
// is configured and in tests.
type MemoryStore struct {
	mu     sync.Mutex
	states map[string][]byte
	times  map[string]time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: map[string][]byte{}, times: map[string]time.Time{}}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (*models.SessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	blob, ok := s.states[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	var state models.SessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, err
	}
	return &state, nil
}

func (s *MemoryStore) Save(_ context.Context, threadID string, state *models.SessionState) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[threadID] = blob
	s.times[threadID] = time.Now()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, threadID)
	delete(s.times, threadID)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	infos := make([]Info, 0, len(s.states))
	for id := range s.states {
		infos = append(infos, Info{ThreadID: id, UpdatedAt: s.times[id]})
	}
	return infos, nil
}

func (s *MemoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for id, t := range s.times {
		if t.Before(cutoff) {
			delete(s.states, id)
			delete(s.times, id)
			removed++
		}
	}
	return removed, nil
}
