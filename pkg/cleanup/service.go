// Package cleanup enforces checkpoint retention: stale session checkpoints
// are removed on a background ticker so abandoned conversations do not
// accumulate forever.
package cleanup

import (
	"context"
	"log/slog"
	"time"

	"github.com/openfunnel/maestro/pkg/session"
)

// Config bounds the retention loop.
type Config struct {
	// Retention is how long an untouched checkpoint survives.
	Retention time.Duration
	// Interval is how often the sweep runs.
	Interval time.Duration
}

// DefaultConfig keeps checkpoints for thirty days, sweeping hourly.
func DefaultConfig() Config {
	return Config{
		Retention: 30 * 24 * time.Hour,
		Interval:  time.Hour,
	}
}

// Service periodically removes stale session checkpoints. Sweeps are
// idempotent and safe to run from multiple replicas.
type Service struct {
	config Config
	store  session.Store

	cancel context.CancelFunc
	done   chan struct{}
}

// NewService creates a cleanup service.
func NewService(cfg Config, store session.Store) *Service {
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultConfig().Interval
	}
	return &Service{config: cfg, store: store}
}

// Start launches the background sweep loop.
func (s *Service) Start(ctx context.Context) {
	if s.cancel != nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	go s.run(ctx)

	slog.Info("Cleanup service started",
		"retention", s.config.Retention,
		"interval", s.config.Interval)
}

// Stop signals the sweep loop to exit and waits for it to finish.
func (s *Service) Stop() {
	if s.cancel == nil {
		return
	}
	s.cancel()
	<-s.done
	slog.Info("Cleanup service stopped")
}

func (s *Service) run(ctx context.Context) {
	defer close(s.done)

	s.sweep(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-s.config.Retention)
	count, err := s.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		slog.Error("Retention: checkpoint sweep failed", "error", err)
		return
	}
	if count > 0 {
		slog.Info("Retention: removed stale checkpoints", "count", count)
	}
}
