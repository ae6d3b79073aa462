// Package expiry wires up the cron job that sweeps overdue pending requests
// and advances jobs past their planned dates. Correctness does not depend on
// this timer: the read path applies the same expire transition lazily, and
// both paths go through lifecycle.Service so the invariant logic lives in one
// place.
package expiry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/crewboardhq/crewboard/internal/allocation"
	"github.com/crewboardhq/crewboard/internal/lifecycle"
)

// Scheduler wraps robfig/cron and manages the periodic sweep.
type Scheduler struct {
	cron      *cron.Cron
	lifecycle *lifecycle.Service
	alloc     *allocation.Manager
	spec      string // cron spec, e.g. "@every 2m"
	batchSize int
}

// New creates a Scheduler that fires every interval.
func New(lc *lifecycle.Service, am *allocation.Manager, interval time.Duration, batchSize int) *Scheduler {
	return &Scheduler{
		cron:      cron.New(),
		lifecycle: lc,
		alloc:     am,
		spec:      fmt.Sprintf("@every %s", interval),
		batchSize: batchSize,
	}
}

// Start registers the sweep and starts the timer. One sweep runs immediately
// so a restart never leaves overdue rows waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() {
		s.Sweep(ctx)
	})
	if err != nil {
		return fmt.Errorf("cron.AddFunc: %w", err)
	}

	s.cron.Start()
	slog.Info("expiry scheduler started", "spec", s.spec)

	go s.Sweep(ctx)
	return nil
}

// Stop shuts down the timer. Does not wait for an in-flight sweep.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	slog.Info("expiry scheduler stopped")
}

// Sweep runs one pass: expire overdue pending requests, then auto-advance
// jobs past their planned start/end dates.
func (s *Scheduler) Sweep(ctx context.Context) {
	now := time.Now().UTC()

	expired, err := s.lifecycle.ExpireDueRequests(ctx, now, s.batchSize)
	if err != nil {
		slog.Error("expiry sweep failed", "err", err)
	}

	started, completed := s.alloc.AutoAdvance(ctx, now, s.batchSize)

	if expired > 0 || started > 0 || completed > 0 {
		slog.Info("expiry sweep complete",
			"expired", expired, "started", started, "completed", completed)
	}
}
