// Package limits provides autoplay stop limits
//
// Key Requirements:
//   - Autoplay stops once the session loss reaches the loss limit
//   - Autoplay stops after a single spin wins at least the single win limit
//   - Loss is measured from the displayed balance when autoplay started
//   - A zero limit is not enforced
package limits

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var ErrInvalidLimit = errors.New("invalid limit value")

// Audit event type
const EventLimitReached = "autoplay_limit_reached"

// Limit kinds, used as the metric label
const (
	KindLoss      = "loss"
	KindSingleWin = "single_win"
)

// Limits are the stop conditions of an autoplay session
type Limits struct {
	Loss      decimal.Decimal `json:"loss"`
	SingleWin decimal.Decimal `json:"single_win"`
}

// Validate rejects negative limits
func (l Limits) Validate() error {
	if l.Loss.IsNegative() {
		return fmt.Errorf("%w: loss limit %s", ErrInvalidLimit, l.Loss)
	}
	if l.SingleWin.IsNegative() {
		return fmt.Errorf("%w: single win limit %s", ErrInvalidLimit, l.SingleWin)
	}
	return nil
}

// Stopper ends the autoplay session
type Stopper interface {
	StopAutoplay(ctx context.Context)
}

// BalanceSource reads the displayed balance
type BalanceSource interface {
	Displayed() decimal.Decimal
}

// Guard watches an autoplay session and stops it when a limit is reached
type Guard struct {
	stopper Stopper
	balance BalanceSource
	audit   audit.Recorder

	mu     sync.Mutex
	limits Limits
	armed  bool
	start  decimal.Decimal
}

// New creates a guard
func New(l Limits, stopper Stopper, balance BalanceSource, rec audit.Recorder) (*Guard, error) {
	if err := l.Validate(); err != nil {
		return nil, err
	}
	if rec == nil {
		rec = audit.Discard{}
	}
	return &Guard{
		stopper: stopper,
		balance: balance,
		audit:   rec,
		limits:  l,
	}, nil
}

// Subscribe binds the guard to the autoplay and balance events of bus
func (g *Guard) Subscribe(bus event.Bus) {
	bus.Subscribe(event.AutoStart, g.HandleAutoStart)
	bus.Subscribe(event.AutoStop, g.HandleAutoStop)
	bus.Subscribe(event.WinStop, g.HandleWinStop)
	bus.Subscribe(event.BalanceUpdate, g.HandleBalanceUpdate)
}

// SetLimits replaces the limits. A running session keeps its start balance.
func (g *Guard) SetLimits(l Limits) error {
	if err := l.Validate(); err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.limits = l
	return nil
}

// GetLimits returns the current limits
func (g *Guard) GetLimits() Limits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.limits
}

// Armed reports whether a session is being watched
func (g *Guard) Armed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.armed
}

// HandleAutoStart records the start balance
func (g *Guard) HandleAutoStart(_ context.Context, _ event.Event) error {
	start := g.balance.Displayed()
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = true
	g.start = start
	return nil
}

// HandleAutoStop disarms the guard
func (g *Guard) HandleAutoStop(_ context.Context, _ event.Event) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armed = false
	return nil
}

// HandleWinStop checks the single win limit
func (g *Guard) HandleWinStop(ctx context.Context, e event.Event) error {
	p, ok := e.Payload.(event.WinPayload)
	if !ok {
		return nil
	}

	g.mu.Lock()
	limit := g.limits.SingleWin
	hit := g.armed && limit.IsPositive() && p.TotalWin.GreaterThanOrEqual(limit)
	g.mu.Unlock()

	if hit {
		g.trip(ctx, KindSingleWin, p.TotalWin, limit)
	}
	return nil
}

// HandleBalanceUpdate checks the loss limit
func (g *Guard) HandleBalanceUpdate(ctx context.Context, e event.Event) error {
	p, ok := e.Payload.(event.BalancePayload)
	if !ok {
		return nil
	}

	g.mu.Lock()
	limit := g.limits.Loss
	loss := g.start.Sub(p.Balance)
	hit := g.armed && limit.IsPositive() && loss.GreaterThanOrEqual(limit)
	g.mu.Unlock()

	if hit {
		g.trip(ctx, KindLoss, loss, limit)
	}
	return nil
}

func (g *Guard) trip(ctx context.Context, kind string, value, limit decimal.Decimal) {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.mu.Unlock()

	metrics.AutoplayLimitsReached.WithLabelValues(kind).Inc()
	log.WithFields(log.Fields{
		"limit": kind,
		"value": value.String(),
		"max":   limit.String(),
	}).Info("Autoplay limit reached")
	if err := g.audit.Log(ctx, EventLimitReached, domain.SeverityInfo,
		fmt.Sprintf("autoplay %s limit reached", kind),
		map[string]string{"value": value.String(), "limit": limit.String()},
		audit.WithComponent("limits")); err != nil {
		log.WithError(err).Warn("Failed to audit autoplay limit")
	}

	g.stopper.StopAutoplay(ctx)
}
