// ABOUTME: Background loop that expires lapsed grants on an interval
// ABOUTME: Runs one sweep at start, then one per tick until the context ends

package entitlement

import (
	"context"
	"log/slog"
	"time"
)

// DefaultSweepInterval is used when the configured interval is not positive.
const DefaultSweepInterval = time.Hour

// Sweeper periodically calls Manager.SweepExpired.
type Sweeper struct {
	manager  *Manager
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper for m.
func NewSweeper(m *Manager, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	return &Sweeper{
		manager:  m,
		interval: interval,
		logger:   logger.With("component", "sweeper"),
	}
}

// Run blocks until ctx is cancelled. Sweep failures are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) {
	s.logger.Info("license sweeper started", "interval", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("license sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	n, err := s.manager.SweepExpired(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("sweep failed", "error", err)
		}
		return
	}
	if n > 0 {
		s.logger.Info("expired licenses", "count", n)
	}
}
