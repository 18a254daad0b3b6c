// Package autoplay repeats spins up to a requested count.
//
// Decrementing the remaining count and scheduling the next spin are two
// independent operations, each claimed once per spin session through a
// session.Marker, so a settlement event delivered twice neither decrements
// twice nor schedules two spins.
package autoplay

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/alexbotov/spinflow/internal/turbo"
	log "github.com/sirupsen/logrus"
)

var (
	ErrAlreadyActive = errors.New("autoplay already active")
	ErrInvalidCount  = errors.New("autoplay spin count must be positive")
)

// DefaultDelay is the base pause between settled spins before turbo scaling
const DefaultDelay = 500 * time.Millisecond

// Spinner starts one spin with the current bet settings
type Spinner interface {
	AutoSpin(ctx context.Context) error
}

// State of the scheduler
type State int

const (
	StateInactive State = iota
	StateActive
	// StateStopping means autoplay was stopped while reels were spinning;
	// controls come back at that spin's REELS_STOP.
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateStopping:
		return "stopping"
	}
	return "inactive"
}

// Options configures a Scheduler
type Options struct {
	BaseDelay time.Duration
	// Spinning reports whether reels are physically in motion
	Spinning func() bool
	// DialogShowing reports whether a win dialog is visible
	DialogShowing func() bool
	// ControlsAllowed reports whether manual spin may be re-enabled; false
	// while a bonus round owns the controls
	ControlsAllowed func() bool
}

// Scheduler drives an autoplay session
type Scheduler struct {
	spinner Spinner
	scaler  *turbo.Scaler
	clock   clock.Clock
	bus     event.Bus
	audit   audit.Recorder
	opts    Options

	decremented session.Marker
	scheduled   session.Marker

	mu         sync.Mutex
	state      State
	total      int
	remaining  int
	timer      clock.Timer
	waitingFor session.ID
	ctx        context.Context
}

// New creates a scheduler
func New(spinner Spinner, scaler *turbo.Scaler, clk clock.Clock, bus event.Bus, rec audit.Recorder, opts Options) *Scheduler {
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = DefaultDelay
	}
	if opts.Spinning == nil {
		opts.Spinning = func() bool { return false }
	}
	if opts.DialogShowing == nil {
		opts.DialogShowing = func() bool { return false }
	}
	if opts.ControlsAllowed == nil {
		opts.ControlsAllowed = func() bool { return true }
	}
	return &Scheduler{
		spinner: spinner,
		scaler:  scaler,
		clock:   clk,
		bus:     bus,
		audit:   rec,
		opts:    opts,
		ctx:     context.Background(),
	}
}

// Start creates an autoplay session of n spins and triggers the first one
func (s *Scheduler) Start(ctx context.Context, n int) error {
	if n <= 0 {
		return ErrInvalidCount
	}

	s.mu.Lock()
	if s.state == StateActive {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.state = StateActive
	s.total = n
	s.remaining = n
	s.waitingFor = 0
	s.ctx = context.WithoutCancel(ctx)
	s.timer = s.clock.AfterFunc(0, s.fire)
	s.mu.Unlock()

	metrics.AutoplaySessions.Inc()
	log.WithField("spins", n).Info("Autoplay started")
	if err := s.audit.Log(ctx, audit.EventAutoplayStarted, domain.SeverityInfo, "autoplay started",
		map[string]int{"spins": n}, audit.WithComponent("autoplay")); err != nil {
		log.WithError(err).Warn("Failed to audit autoplay start")
	}

	s.publish(ctx, event.New(event.AutoStart, 0, event.AutoStartPayload{Total: n}))
	s.publish(ctx, event.New(event.AutoRemaining, 0, event.AutoRemainingPayload{Remaining: n}))
	return nil
}

// OnSpinSettled accounts for the settled spin id: it decrements the
// remaining count once and, if spins remain and no win dialog is showing,
// schedules the next spin after the turbo-scaled delay.
func (s *Scheduler) OnSpinSettled(ctx context.Context, id session.ID) {
	s.mu.Lock()
	active := s.state == StateActive
	s.mu.Unlock()
	if !active {
		return
	}

	if !s.decremented.Claim(id) {
		metrics.DuplicateEvents.WithLabelValues("autoplay").Inc()
		log.WithField("session_id", id).Debug("Duplicate settlement ignored by autoplay")
		return
	}

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.remaining--
	remaining := s.remaining
	s.mu.Unlock()

	s.publish(ctx, event.New(event.AutoRemaining, id, event.AutoRemainingPayload{Remaining: remaining}))

	if remaining <= 0 {
		s.stop(ctx, "completed")
		return
	}
	s.scheduleNext(id)
}

// OnWinFlowComplete schedules the spin that was held back by a win dialog
func (s *Scheduler) OnWinFlowComplete() {
	s.mu.Lock()
	id := s.waitingFor
	active := s.state == StateActive
	s.waitingFor = 0
	s.mu.Unlock()

	if active && id != 0 {
		s.scheduleNext(id)
	}
}

// Stop ends the autoplay session. It is idempotent: AUTO_STOP is emitted
// once per session. It cannot cancel a spin already in flight; if reels are
// spinning, controls are re-enabled at that spin's REELS_STOP instead.
func (s *Scheduler) Stop(ctx context.Context) {
	s.stop(ctx, "stopped")
}

func (s *Scheduler) stop(ctx context.Context, reason string) {
	spinning := s.opts.Spinning()

	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	remaining := s.remaining
	s.remaining = 0
	s.waitingFor = 0
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if spinning {
		s.state = StateStopping
	} else {
		s.state = StateInactive
	}
	s.mu.Unlock()

	log.WithFields(log.Fields{"reason": reason, "remaining": remaining, "deferred": spinning}).Info("Autoplay stopped")
	if err := s.audit.Log(ctx, audit.EventAutoplayStopped, domain.SeverityInfo, "autoplay "+reason,
		map[string]int{"remaining": remaining}, audit.WithComponent("autoplay")); err != nil {
		log.WithError(err).Warn("Failed to audit autoplay stop")
	}

	s.publish(ctx, event.New(event.AutoStop, 0, event.AutoStopPayload{Remaining: remaining, Deferred: spinning}))
	if remaining > 0 {
		s.publish(ctx, event.New(event.AutoRemaining, 0, event.AutoRemainingPayload{Remaining: 0}))
	}
	if !spinning {
		s.enableControls(ctx)
	}
}

// HandleReelsStop completes a deferred stop or accounts for a settled spin
func (s *Scheduler) HandleReelsStop(ctx context.Context, e event.Event) error {
	s.mu.Lock()
	if s.state == StateStopping {
		s.state = StateInactive
		s.mu.Unlock()
		s.enableControls(ctx)
		return nil
	}
	s.mu.Unlock()

	s.OnSpinSettled(ctx, e.Session)
	return nil
}

// HandleWinFlowComplete binds OnWinFlowComplete to the bus
func (s *Scheduler) HandleWinFlowComplete(_ context.Context, _ event.Event) error {
	s.OnWinFlowComplete()
	return nil
}

// Active reports whether autoplay is running
func (s *Scheduler) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateActive
}

// State returns the scheduler state
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Remaining returns the remaining spin count
func (s *Scheduler) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remaining
}

// Total returns the spin count the current or last session started with
func (s *Scheduler) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.total
}

func (s *Scheduler) scheduleNext(id session.ID) {
	if s.opts.DialogShowing() {
		s.mu.Lock()
		if s.state == StateActive {
			s.waitingFor = id
		}
		s.mu.Unlock()
		return
	}

	if !s.scheduled.Claim(id) {
		metrics.DuplicateEvents.WithLabelValues("autoplay").Inc()
		return
	}

	delay := s.scaler.Scale(s.opts.BaseDelay)
	s.mu.Lock()
	if s.state == StateActive {
		// at most one pending spin per session
		if s.timer != nil {
			s.timer.Stop()
		}
		s.timer = s.clock.AfterFunc(delay, s.fire)
	}
	s.mu.Unlock()
}

func (s *Scheduler) fire() {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.spinner.AutoSpin(ctx); err != nil {
		log.WithError(err).Warn("Autoplay spin was not accepted")
	}
}

func (s *Scheduler) enableControls(ctx context.Context) {
	if !s.opts.ControlsAllowed() {
		return
	}
	s.publish(ctx, event.New(event.SpinControls, 0, event.ControlsPayload{Enabled: true}))
}

func (s *Scheduler) publish(ctx context.Context, e event.Event) {
	if err := s.bus.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event", e.Type).Warn("Autoplay event handler failed")
	}
}
