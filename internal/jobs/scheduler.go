// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// Reconciler pulls the server balance while the engine is idle
type Reconciler interface {
	ReconcileIdle(ctx context.Context) error
}

// Scheduler manages background jobs.
type Scheduler struct {
	cron       *cron.Cron
	spec       string
	reconciler Reconciler

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler. spec is a standard cron expression or
// an @every descriptor.
func NewScheduler(spec string, reconciler Reconciler) (*Scheduler, error) {
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid reconcile schedule %q: %w", spec, err)
	}
	return &Scheduler{
		cron:       cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		spec:       spec,
		reconciler: reconciler,
	}, nil
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.spec, func() { s.reconcile(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule reconcile: %w", err)
	}

	s.cron.Start()
	s.running = true
	log.WithField("schedule", s.spec).Info("Job scheduler started")
	return nil
}

// Stop stops the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	log.Info("Job scheduler stopped")
}

func (s *Scheduler) reconcile(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	log.Debug("[CRON] Balance reconcile")
	if err := s.reconciler.ReconcileIdle(ctx); err != nil {
		log.WithError(err).Warn("[CRON] Balance reconcile failed")
	}
}
