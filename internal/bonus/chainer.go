// Package bonus drives the free-spin bonus round.
//
// The round continues while the server reports free spins left in the
// latest result and ends on the exact spin where it reports zero. No
// client-side counter decides when the round is over.
package bonus

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/alexbotov/spinflow/internal/turbo"
	"github.com/alexbotov/spinflow/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	// ErrStaleFreeSpinData is returned when a free-spin result carries no
	// usable remaining count
	ErrStaleFreeSpinData = errors.New("no usable free-spin payload")
	ErrAlreadyActive     = errors.New("bonus round already active")
	ErrNoFreeSpins       = errors.New("scatter trigger carries no free spins")
)

// Timing defaults before turbo scaling
const (
	DefaultTransitionDelay = 2 * time.Second
	DefaultSpinDelay       = 500 * time.Millisecond
	maxBusyRetries         = 3
)

// State of the bonus round
type State int

const (
	StateDormant State = iota
	StateEntering
	StateActive
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateEntering:
		return "entering"
	case StateActive:
		return "active"
	case StateExiting:
		return "exiting"
	}
	return "dormant"
}

// Spinner runs spins through the full lifecycle
type Spinner interface {
	// FreeSpin runs one free spin and returns its settled result
	FreeSpin(ctx context.Context) (*domain.SpinResult, error)
	// FallbackSpin runs a normal spin after the round was aborted
	FallbackSpin(ctx context.Context) error
}

// Wallet is the part of the balance reconciler the round needs
type Wallet interface {
	BeginBonus()
	FlushBonus(ctx context.Context) decimal.Decimal
	Reconcile(ctx context.Context) error
}

// Autoplay is stopped on entry and never resumed by the round
type Autoplay interface {
	Stop(ctx context.Context)
}

// Dialogs presents the round total and suppresses leftovers
type Dialogs interface {
	Present(ctx context.Context, payout, bet decimal.Decimal) dialog.Outcome
	SuppressUntilNextSpin()
	IsShowing() bool
}

// Trigger is the scatter hit that opens a round
type Trigger struct {
	RoundID   string
	FreeSpins int
	Bet       decimal.Decimal
}

// Options configures a Chainer
type Options struct {
	TransitionDelay time.Duration
	SpinDelay       time.Duration
	// Spinning reports whether a spin is still in flight
	Spinning func() bool
}

// Chainer owns the bonus round state machine
type Chainer struct {
	spinner  Spinner
	wallet   Wallet
	autoplay Autoplay
	dialogs  Dialogs
	scaler   *turbo.Scaler
	clock    clock.Clock
	bus      event.Bus
	audit    audit.Recorder
	opts     Options

	mu         sync.Mutex
	state      State
	trigger    Trigger
	played     int
	remaining  int
	lastTumble int
	busy       int
	waiting    bool
	timer      clock.Timer
	ctx        context.Context
}

// New creates a dormant chainer
func New(spinner Spinner, w Wallet, autoplay Autoplay, dialogs Dialogs, scaler *turbo.Scaler,
	clk clock.Clock, bus event.Bus, rec audit.Recorder, opts Options) *Chainer {
	if opts.TransitionDelay <= 0 {
		opts.TransitionDelay = DefaultTransitionDelay
	}
	if opts.SpinDelay <= 0 {
		opts.SpinDelay = DefaultSpinDelay
	}
	if opts.Spinning == nil {
		opts.Spinning = func() bool { return false }
	}
	return &Chainer{
		spinner:  spinner,
		wallet:   w,
		autoplay: autoplay,
		dialogs:  dialogs,
		scaler:   scaler,
		clock:    clk,
		bus:      bus,
		audit:    rec,
		opts:     opts,
		ctx:      context.Background(),
	}
}

// Enter opens a bonus round. Spin controls and autoplay are suspended
// immediately; the first free spin runs after the transition delay.
func (c *Chainer) Enter(ctx context.Context, t Trigger) error {
	if t.FreeSpins <= 0 {
		return ErrNoFreeSpins
	}

	c.mu.Lock()
	if c.state != StateDormant {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	c.state = StateEntering
	c.trigger = t
	c.played = 0
	c.remaining = t.FreeSpins
	c.lastTumble = 0
	c.busy = 0
	c.waiting = false
	c.ctx = context.WithoutCancel(ctx)
	c.mu.Unlock()

	c.autoplay.Stop(ctx)
	c.wallet.BeginBonus()

	logger := log.WithFields(log.Fields{"round_id": t.RoundID, "free_spins": t.FreeSpins})
	logger.Info("Bonus round entered")
	if err := c.audit.Log(ctx, audit.EventBonusEntered, domain.SeverityInfo, "bonus round entered",
		map[string]int{"free_spins": t.FreeSpins}, audit.WithRound(t.RoundID), audit.WithComponent("bonus")); err != nil {
		logger.WithError(err).Warn("Failed to audit bonus entry")
	}

	c.publish(ctx, event.New(event.SpinControls, 0, event.ControlsPayload{Enabled: false}))
	c.publish(ctx, event.New(event.ScatterBonusActivated, 0, event.ScatterPayload{FreeSpins: t.FreeSpins, RoundID: t.RoundID}))
	c.publish(ctx, event.New(event.SetBonusMode, 0, event.BonusModePayload{Active: true}))

	c.mu.Lock()
	if c.state == StateEntering {
		c.state = StateActive
		c.timer = c.clock.AfterFunc(c.scaler.Scale(c.opts.TransitionDelay), c.fire)
	}
	c.mu.Unlock()

	c.publish(ctx, event.New(event.FreeSpinAuto, 0, event.FreeSpinAutoPayload{Remaining: t.FreeSpins}))
	return nil
}

// OnFreeSpinSettled reads the server-reported remaining count from res and
// either schedules the next free spin or exits the round on this spin.
func (c *Chainer) OnFreeSpinSettled(ctx context.Context, res *domain.SpinResult) {
	remaining, ok := res.FreeSpin.RemainingSpins()
	if !ok {
		c.abortToNormal(ctx, ErrStaleFreeSpinData)
		return
	}

	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.played++
	c.remaining = remaining
	c.lastTumble = len(res.Tumbles)
	if remaining <= 0 {
		c.state = StateExiting
		c.mu.Unlock()
		c.exit(ctx)
		return
	}
	c.mu.Unlock()

	c.publish(ctx, event.New(event.FreeSpinAuto, 0, event.FreeSpinAutoPayload{Remaining: remaining}))
	c.schedule(c.opts.SpinDelay)
}

// OnWinFlowComplete resumes a loop held back by a visible win dialog
func (c *Chainer) OnWinFlowComplete() {
	c.mu.Lock()
	resume := c.waiting && c.state == StateActive
	c.waiting = false
	c.mu.Unlock()

	if resume {
		c.schedule(c.opts.SpinDelay)
	}
}

// HandleWinFlowComplete binds OnWinFlowComplete to the bus
func (c *Chainer) HandleWinFlowComplete(_ context.Context, _ event.Event) error {
	c.OnWinFlowComplete()
	return nil
}

// Abort ends the round early. Wins accumulated so far are still credited.
// It is a no-op when no round is running.
func (c *Chainer) Abort(ctx context.Context, cause error) bool {
	c.mu.Lock()
	if c.state == StateDormant {
		c.mu.Unlock()
		return false
	}
	c.stopTimerLocked()
	c.state = StateDormant
	c.waiting = false
	roundID := c.trigger.RoundID
	c.mu.Unlock()

	total := c.wallet.FlushBonus(ctx)

	metrics.BonusRounds.WithLabelValues("aborted").Inc()
	logger := log.WithFields(log.Fields{"round_id": roundID, "total_win": total.String()})
	logger.WithError(cause).Warn("Bonus round aborted")

	desc := "bonus round aborted"
	if cause != nil {
		desc += ": " + cause.Error()
	}
	if err := c.audit.Log(ctx, audit.EventBonusAborted, domain.SeverityWarning, desc,
		map[string]string{"total_win": total.String()}, audit.WithRound(roundID), audit.WithComponent("bonus")); err != nil {
		logger.WithError(err).Warn("Failed to audit bonus abort")
	}

	c.publish(ctx, event.New(event.BonusEnded, 0, event.BonusEndedPayload{TotalWin: total, Aborted: true}))
	c.publish(ctx, event.New(event.SetBonusMode, 0, event.BonusModePayload{Active: false}))
	c.publish(ctx, event.New(event.SpinControls, 0, event.ControlsPayload{Enabled: true}))
	return true
}

// State returns the round state
func (c *Chainer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Dormant reports whether no round is running
func (c *Chainer) Dormant() bool {
	return c.State() == StateDormant
}

// Remaining returns the last server-reported remaining count
func (c *Chainer) Remaining() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remaining
}

// View returns the read-only bonus state
func (c *Chainer) View() domain.BonusState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return domain.BonusState{
		IsBonus:              c.state == StateActive || c.state == StateExiting,
		IsScatterTransition:  c.state == StateEntering,
		IsFinished:           c.state == StateExiting,
		CurrentFreeSpinIndex: c.played,
		CurrentTumbleIndex:   c.lastTumble,
	}
}

func (c *Chainer) schedule(delay time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateActive {
		return
	}
	c.stopTimerLocked()
	c.timer = c.clock.AfterFunc(c.scaler.Scale(delay), c.fire)
}

func (c *Chainer) fire() {
	c.mu.Lock()
	if c.state != StateActive {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx := c.ctx
	c.mu.Unlock()

	if c.dialogs.IsShowing() {
		c.mu.Lock()
		c.waiting = true
		c.mu.Unlock()
		return
	}

	if c.opts.Spinning() {
		if c.retryBusy() {
			c.schedule(c.opts.SpinDelay)
			return
		}
		c.abortToNormal(ctx, errors.New("previous spin never settled"))
		return
	}

	res, err := c.spinner.FreeSpin(ctx)
	if err != nil {
		if errors.Is(err, ErrStaleFreeSpinData) {
			c.abortToNormal(ctx, err)
			return
		}
		if c.retryBusy() {
			log.WithError(err).Warn("Free spin not accepted, retrying")
			c.schedule(c.opts.SpinDelay)
			return
		}
		c.abortToNormal(ctx, err)
		return
	}

	c.mu.Lock()
	c.busy = 0
	c.mu.Unlock()
	c.OnFreeSpinSettled(ctx, res)
}

func (c *Chainer) retryBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.busy++
	return c.busy <= maxBusyRetries
}

func (c *Chainer) abortToNormal(ctx context.Context, cause error) {
	if !c.Abort(ctx, cause) {
		return
	}
	if err := c.spinner.FallbackSpin(ctx); err != nil {
		log.WithError(err).Warn("Fallback spin after bonus abort failed")
	}
}

func (c *Chainer) exit(ctx context.Context) {
	c.mu.Lock()
	t := c.trigger
	played := c.played
	c.mu.Unlock()

	total := c.wallet.FlushBonus(ctx)

	c.publish(ctx, event.New(event.BonusEnded, 0, event.BonusEndedPayload{TotalWin: total}))
	c.publish(ctx, event.New(event.SetBonusMode, 0, event.BonusModePayload{Active: false}))

	// shown while Exiting so the dialog closes by itself
	c.dialogs.Present(ctx, total, t.Bet)
	c.dialogs.SuppressUntilNextSpin()

	c.mu.Lock()
	c.state = StateDormant
	c.mu.Unlock()

	metrics.BonusRounds.WithLabelValues("completed").Inc()
	logger := log.WithFields(log.Fields{"round_id": t.RoundID, "spins_played": played, "total_win": total.String()})
	logger.Info("Bonus round finished")
	if err := c.audit.Log(ctx, audit.EventBonusExited, domain.SeverityInfo, "bonus round finished",
		map[string]interface{}{"spins_played": played, "total_win": total.String()},
		audit.WithRound(t.RoundID), audit.WithComponent("bonus")); err != nil {
		logger.WithError(err).Warn("Failed to audit bonus exit")
	}

	c.publish(ctx, event.New(event.SpinControls, 0, event.ControlsPayload{Enabled: true}))

	if err := c.wallet.Reconcile(ctx); err != nil && !errors.Is(err, wallet.ErrReconcileDeferred) {
		logger.WithError(err).Warn("Balance reconcile after bonus failed")
	}
}

func (c *Chainer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Chainer) publish(ctx context.Context, e event.Event) {
	if err := c.bus.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event", e.Type).Warn("Bonus event handler failed")
	}
}
