// Package render provides headless rendering collaborators for running the
// engine without a client attached: the simulate command and local tests.
package render

import (
	"context"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/alexbotov/spinflow/internal/turbo"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// Reels plays spin and stop animations as plain turbo-scaled waits
type Reels struct {
	clock  clock.Clock
	scaler *turbo.Scaler
	spin   time.Duration
	stop   time.Duration

	mu    sync.Mutex
	spins int
	stops int
}

// NewReels creates a headless reel player. Zero durations complete immediately.
func NewReels(clk clock.Clock, scaler *turbo.Scaler, spin, stop time.Duration) *Reels {
	return &Reels{clock: clk, scaler: scaler, spin: spin, stop: stop}
}

// Spin waits for the spin animation
func (r *Reels) Spin(ctx context.Context, s session.Session, res *domain.SpinResult) error {
	r.mu.Lock()
	r.spins++
	r.mu.Unlock()
	return r.wait(ctx, r.spin)
}

// Stop waits for the stop animation
func (r *Reels) Stop(ctx context.Context, s session.Session, res *domain.SpinResult) error {
	r.mu.Lock()
	r.stops++
	r.mu.Unlock()
	log.WithFields(log.Fields{
		"session_id": s.ID,
		"round_id":   s.RoundID,
		"win":        res.TotalWin.String(),
	}).Debug("Reels stopped")
	return r.wait(ctx, r.stop)
}

// Counts returns how many spin and stop animations were played
func (r *Reels) Counts() (spins, stops int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.spins, r.stops
}

func (r *Reels) wait(ctx context.Context, base time.Duration) error {
	d := base
	if r.scaler != nil {
		d = r.scaler.Scale(base)
	}
	if d <= 0 {
		return ctx.Err()
	}

	done := make(chan struct{})
	t := r.clock.AfterFunc(d, func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.Stop()
		return ctx.Err()
	}
}

// Presenter keeps the visible dialog in memory
type Presenter struct {
	mu      sync.Mutex
	showing bool
	shown   []decimal.Decimal
}

// NewPresenter creates a headless dialog presenter
func NewPresenter() *Presenter {
	return &Presenter{}
}

// Show marks a dialog visible
func (p *Presenter) Show(ctx context.Context, id dialog.ID, tier game.Tier, amount decimal.Decimal) error {
	p.mu.Lock()
	p.showing = true
	p.shown = append(p.shown, amount)
	p.mu.Unlock()

	log.WithFields(log.Fields{"dialog_id": id, "tier": tier.String(), "amount": amount.String()}).Info("Win dialog shown")
	return nil
}

// IsShowing reports whether a dialog is visible
func (p *Presenter) IsShowing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.showing
}

// Close hides the visible dialog
func (p *Presenter) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.showing = false
	return nil
}

// Shown returns the amounts of every dialog shown so far
func (p *Presenter) Shown() []decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]decimal.Decimal(nil), p.shown...)
}

// Audio logs sound effects
type Audio struct{}

// Play never blocks
func (Audio) Play(name string) {
	log.WithField("sound", name).Debug("Sound effect")
}
