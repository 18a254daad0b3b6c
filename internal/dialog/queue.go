// Package dialog serializes win celebrations so that at most one is visible.
package dialog

import (
	"context"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// DefaultAutoCloseDelay is the wall-clock time an auto-closing dialog stays
// up. It is not scaled by turbo.
const DefaultAutoCloseDelay = 3 * time.Second

// DefaultReleaseInterval is how often a queue waiting behind a dialog it did
// not open checks whether the presenter is free again
const DefaultReleaseInterval = 250 * time.Millisecond

// ID identifies one win dialog. Closes name the dialog they close.
type ID uint64

// Presenter shows win dialogs
type Presenter interface {
	Show(ctx context.Context, id ID, tier game.Tier, amount decimal.Decimal) error
	IsShowing() bool
	Close(ctx context.Context) error
}

// State of the queue
type State int

const (
	StateIdle State = iota
	StateShowing
)

func (s State) String() string {
	if s == StateShowing {
		return "showing"
	}
	return "idle"
}

// Outcome of Present
type Outcome int

const (
	Shown Outcome = iota
	Queued
	Dropped
	BelowTier
)

func (o Outcome) String() string {
	switch o {
	case Shown:
		return "shown"
	case Queued:
		return "queued"
	case Dropped:
		return "dropped"
	}
	return "below_tier"
}

// Entry is one win waiting to be presented
type Entry struct {
	ID     ID              `json:"id"`
	Payout decimal.Decimal `json:"payout"`
	Bet    decimal.Decimal `json:"bet"`
	Tier   game.Tier       `json:"tier"`
}

// Options configures a Queue
type Options struct {
	// AutoClose reports whether a dialog shown now should close by itself
	// (autoplay or scatter transition in progress)
	AutoClose       func() bool
	AutoCloseDelay  time.Duration
	ReleaseInterval time.Duration
}

// Queue is a FIFO of wins with a single visible slot
type Queue struct {
	presenter Presenter
	evaluator *game.Evaluator
	clock     clock.Clock
	bus       event.Bus
	autoClose func() bool
	delay     time.Duration
	interval  time.Duration

	mu         sync.Mutex
	state      State
	current    *Entry
	entries    []Entry
	suppressed bool
	seq        ID
	timer      clock.Timer
	release    clock.Timer
}

// New creates a queue
func New(p Presenter, ev *game.Evaluator, clk clock.Clock, bus event.Bus, opts Options) *Queue {
	if opts.AutoClose == nil {
		opts.AutoClose = func() bool { return false }
	}
	if opts.AutoCloseDelay <= 0 {
		opts.AutoCloseDelay = DefaultAutoCloseDelay
	}
	if opts.ReleaseInterval <= 0 {
		opts.ReleaseInterval = DefaultReleaseInterval
	}
	return &Queue{
		presenter: p,
		evaluator: ev,
		clock:     clk,
		bus:       bus,
		autoClose: opts.AutoClose,
		delay:     opts.AutoCloseDelay,
		interval:  opts.ReleaseInterval,
	}
}

// Present shows the win if no dialog is visible, queues it otherwise. Wins
// below the first tier are not presented; wins arriving while suppressed
// are dropped. Older queued wins are always shown first.
func (q *Queue) Present(ctx context.Context, payout, bet decimal.Decimal) Outcome {
	tier := q.evaluator.Tier(payout, bet)
	otherVisible := q.presenter.IsShowing()

	q.mu.Lock()
	if q.suppressed {
		q.mu.Unlock()
		log.WithField("payout", payout.String()).Debug("Win dialog suppressed until next spin")
		return Dropped
	}
	if tier == game.TierNone {
		q.mu.Unlock()
		return BelowTier
	}

	q.seq++
	entry := Entry{ID: q.seq, Payout: payout, Bet: bet, Tier: tier}
	q.entries = append(q.entries, entry)
	if q.state == StateShowing || otherVisible {
		depth := len(q.entries)
		if q.state != StateShowing {
			q.watchLocked()
		}
		q.mu.Unlock()
		metrics.DialogQueueDepth.Set(float64(depth))
		return Queued
	}

	next := q.popLocked()
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.DialogQueueDepth.Set(float64(depth))
	q.show(ctx, next)
	if next.ID != entry.ID {
		return Queued
	}
	return Shown
}

// OnDialogClosed presents the next queued win or, when the queue is empty,
// signals that the win flow is complete. A close with nothing showing is
// ignored.
func (q *Queue) OnDialogClosed(ctx context.Context) {
	q.mu.Lock()
	if q.state != StateShowing {
		q.mu.Unlock()
		metrics.DuplicateEvents.WithLabelValues("dialog").Inc()
		return
	}
	q.stopTimerLocked()

	if len(q.entries) > 0 {
		next := q.popLocked()
		depth := len(q.entries)
		q.mu.Unlock()

		metrics.DialogQueueDepth.Set(float64(depth))
		q.publish(ctx, event.WinDialogClosed)
		q.show(ctx, next)
		return
	}

	q.state = StateIdle
	q.current = nil
	q.mu.Unlock()

	q.publish(ctx, event.WinDialogClosed)
	q.publish(ctx, event.DialogAnimationsComplete)
}

// Dismiss closes dialog id through the presenter and moves on to the next
// queued win. A close for a dialog that is no longer visible is ignored; it
// reports whether id was closed.
func (q *Queue) Dismiss(ctx context.Context, id ID) bool {
	if !q.visible(id) {
		metrics.DuplicateEvents.WithLabelValues("dialog").Inc()
		log.WithField("dialog_id", id).Debug("Close for a dialog that is not visible ignored")
		return false
	}
	if err := q.presenter.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to close win dialog")
	}
	return q.closeID(ctx, id)
}

// SuppressUntilNextSpin drops every Present until OnSpin
func (q *Queue) SuppressUntilNextSpin() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.suppressed = true
}

// OnSpin clears the suppression flag
func (q *Queue) OnSpin() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.suppressed = false
}

// HandleSpin binds OnSpin to the SPIN event
func (q *Queue) HandleSpin(_ context.Context, _ event.Event) error {
	q.OnSpin()
	return nil
}

// IsShowing reports whether a win dialog is visible
func (q *Queue) IsShowing() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state == StateShowing
}

// Suppressed reports whether wins are currently dropped
func (q *Queue) Suppressed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.suppressed
}

// Pending returns a copy of the queued entries in presentation order
func (q *Queue) Pending() []Entry {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Entry(nil), q.entries...)
}

// Current returns the visible entry, if any
func (q *Queue) Current() (Entry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.current == nil {
		return Entry{}, false
	}
	return *q.current, true
}

func (q *Queue) show(ctx context.Context, e Entry) {
	metrics.WinDialogs.WithLabelValues(e.Tier.String()).Inc()

	if err := q.presenter.Show(ctx, e.ID, e.Tier, e.Payout); err != nil {
		log.WithError(err).WithField("tier", e.Tier.String()).Warn("Win dialog failed to show, skipping")
		q.closeID(ctx, e.ID)
		return
	}

	if !q.autoClose() {
		return
	}

	q.mu.Lock()
	if q.visibleLocked(e.ID) {
		q.timer = q.clock.AfterFunc(q.delay, func() {
			q.autoCloseFired(context.Background(), e.ID)
		})
	}
	q.mu.Unlock()
}

func (q *Queue) autoCloseFired(ctx context.Context, id ID) {
	if !q.visible(id) {
		return
	}
	if err := q.presenter.Close(ctx); err != nil {
		log.WithError(err).Warn("Failed to auto-close win dialog")
	}
	q.closeID(ctx, id)
}

// closeID closes the dialog only if id is still the visible one
func (q *Queue) closeID(ctx context.Context, id ID) bool {
	if !q.visible(id) {
		return false
	}
	q.OnDialogClosed(ctx)
	return true
}

func (q *Queue) visible(id ID) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.visibleLocked(id)
}

func (q *Queue) visibleLocked(id ID) bool {
	return q.state == StateShowing && q.current != nil && q.current.ID == id
}

// popLocked makes the oldest queued entry the visible one
func (q *Queue) popLocked() Entry {
	next := q.entries[0]
	q.entries = q.entries[1:]
	q.state = StateShowing
	q.current = &next
	if q.release != nil {
		q.release.Stop()
		q.release = nil
	}
	return next
}

// watchLocked arms a check for the moment a dialog the queue did not open
// goes away
func (q *Queue) watchLocked() {
	if q.release != nil {
		return
	}
	q.release = q.clock.AfterFunc(q.interval, func() {
		q.releaseFired(context.Background())
	})
}

func (q *Queue) releaseFired(ctx context.Context) {
	otherVisible := q.presenter.IsShowing()

	q.mu.Lock()
	q.release = nil
	if q.state == StateShowing || len(q.entries) == 0 {
		q.mu.Unlock()
		return
	}
	if otherVisible {
		q.watchLocked()
		q.mu.Unlock()
		return
	}
	next := q.popLocked()
	depth := len(q.entries)
	q.mu.Unlock()

	metrics.DialogQueueDepth.Set(float64(depth))
	q.show(ctx, next)
}

func (q *Queue) stopTimerLocked() {
	if q.timer != nil {
		q.timer.Stop()
		q.timer = nil
	}
}

func (q *Queue) publish(ctx context.Context, t event.Type) {
	if err := q.bus.Publish(ctx, event.New(t, 0, nil)); err != nil {
		log.WithError(err).WithField("event", t).Warn("Dialog event handler failed")
	}
}
