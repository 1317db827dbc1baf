package cleanup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfunnel/maestro/pkg/models"
	"github.com/openfunnel/maestro/pkg/session"
)

// sweepStore records DeleteOlderThan cutoffs.
type sweepStore struct {
	session.Store

	mu      sync.Mutex
	cutoffs []time.Time
	removed int64
	err     error
}

func (s *sweepStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffs = append(s.cutoffs, cutoff)
	return s.removed, s.err
}

func (s *sweepStore) sweepCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cutoffs)
}

func TestDefaultConfigApplied(t *testing.T) {
	s := NewService(Config{}, session.NewMemoryStore())
	assert.Equal(t, 30*24*time.Hour, s.config.Retention)
	assert.Equal(t, time.Hour, s.config.Interval)

	s = NewService(Config{Retention: time.Minute, Interval: time.Second}, session.NewMemoryStore())
	assert.Equal(t, time.Minute, s.config.Retention)
	assert.Equal(t, time.Second, s.config.Interval)
}

func TestSweepCutoff(t *testing.T) {
	store := &sweepStore{removed: 3}
	s := NewService(Config{Retention: 24 * time.Hour, Interval: time.Hour}, store)

	s.sweep(context.Background())

	require.Equal(t, 1, store.sweepCount())
	expected := time.Now().Add(-24 * time.Hour)
	assert.WithinDuration(t, expected, store.cutoffs[0], time.Minute)
}

func TestSweepErrorDoesNotAbortLoop(t *testing.T) {
	store := &sweepStore{err: errors.New("locked")}
	s := NewService(Config{Retention: time.Hour, Interval: 10 * time.Millisecond}, store)

	s.Start(context.Background())
	defer s.Stop()

	require.Eventually(t, func() bool { return store.sweepCount() >= 3 },
		time.Second, 5*time.Millisecond)
}

func TestStartStop(t *testing.T) {
	store := &sweepStore{}
	s := NewService(Config{Retention: time.Hour, Interval: time.Hour}, store)

	s.Start(context.Background())
	// An immediate sweep runs before the first tick.
	require.Eventually(t, func() bool { return store.sweepCount() == 1 },
		time.Second, 5*time.Millisecond)

	// Start is idempotent while running.
	s.Start(context.Background())
	s.Stop()

	// No further sweeps occur once stopped.
	count := store.sweepCount()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, count, store.sweepCount())
}

func TestSweepAgainstMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := session.NewMemoryStore()
	require.NoError(t, store.Save(ctx, "stale", models.NewSessionState(15)))

	// Zero retention is normalized to the default, so force a tiny one.
	s := NewService(Config{Retention: time.Nanosecond, Interval: time.Hour}, store)
	time.Sleep(time.Millisecond)
	s.sweep(ctx)

	_, err := store.Load(ctx, "stale")
	assert.ErrorIs(t, err, session.ErrNotFound)
}
