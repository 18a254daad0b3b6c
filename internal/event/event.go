// Package event is the single dispatcher for lifecycle messages between the
// orchestrator, its components and the rendering layer.
package event

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/shopspring/decimal"
)

// Type represents the type of an event
type Type string

// Lifecycle events
const (
	Spin            Type = "SPIN"
	ReelsStart      Type = "REELS_START"
	ReelsStop       Type = "REELS_STOP"
	WinStart        Type = "WIN_START"
	WinStop         Type = "WIN_STOP"
	WinDialogClosed Type = "WIN_DIALOG_CLOSED"
	AutoStart       Type = "AUTO_START"
	AutoStop        Type = "AUTO_STOP"
	AutoRemaining   Type = "AUTO_REMAINING"
	BetUpdate       Type = "BET_UPDATE"
	BalanceUpdate   Type = "BALANCE_UPDATE"
	BalanceInit     Type = "BALANCE_INITIALIZED"
	TurboOn         Type = "TURBO_ON"
	TurboOff        Type = "TURBO_OFF"
	FreeSpinAuto    Type = "FREE_SPIN_AUTOPLAY"
)

// Scene-level signals
const (
	SetBonusMode             Type = "setBonusMode"
	ScatterBonusActivated    Type = "scatterBonusActivated"
	DialogAnimationsComplete Type = "dialogAnimationsComplete"
	BonusEnded               Type = "BONUS_ENDED"
	SpinControls             Type = "SPIN_CONTROLS"
	InsufficientBalance      Type = "INSUFFICIENT_BALANCE"
	BackendFallback          Type = "BACKEND_FALLBACK"
)

// Event is one message on the bus. Session is zero for events not tied to a spin.
type Event struct {
	Type    Type        `json:"type"`
	Session session.ID  `json:"session_id,omitempty"`
	Payload interface{} `json:"payload,omitempty"`
	At      time.Time   `json:"at"`
}

// New builds an event stamped with the current time
func New(t Type, id session.ID, payload interface{}) Event {
	return Event{Type: t, Session: id, Payload: payload, At: time.Now().UTC()}
}

// Typed payloads

type SpinPayload struct {
	Request      domain.SpinRequest `json:"request"`
	EffectiveBet decimal.Decimal    `json:"effective_bet"`
}

type ReelsPayload struct {
	Session session.Session    `json:"session"`
	Result  *domain.SpinResult `json:"result,omitempty"`
}

type WinPayload struct {
	TotalWin   decimal.Decimal `json:"total_win"`
	Tier       string          `json:"tier"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

type AutoStartPayload struct {
	Total int `json:"total"`
}

type AutoStopPayload struct {
	Remaining int  `json:"remaining"`
	Deferred  bool `json:"deferred"`
}

type AutoRemainingPayload struct {
	Remaining int `json:"remaining"`
}

type BetPayload struct {
	Bet         decimal.Decimal `json:"bet"`
	EnhancedBet bool            `json:"enhanced_bet"`
}

type BalancePayload struct {
	Balance decimal.Decimal `json:"balance"`
	Reason  string          `json:"reason"`
}

type FreeSpinAutoPayload struct {
	Remaining int `json:"remaining"`
}

type BonusModePayload struct {
	Active bool `json:"active"`
}

type ScatterPayload struct {
	FreeSpins int    `json:"free_spins"`
	RoundID   string `json:"round_id"`
}

type BonusEndedPayload struct {
	TotalWin decimal.Decimal `json:"total_win"`
	Aborted  bool            `json:"aborted"`
}

type ControlsPayload struct {
	Enabled bool `json:"enabled"`
}

type InsufficientBalancePayload struct {
	Required decimal.Decimal `json:"required"`
	Balance  decimal.Decimal `json:"balance"`
}

type FallbackPayload struct {
	RoundID string `json:"round_id"`
	Cause   string `json:"cause"`
}

// Handler handles an event
type Handler func(ctx context.Context, e Event) error

// Bus publishes events to subscribers
type Bus interface {
	Publish(ctx context.Context, e Event) error
	Subscribe(t Type, h Handler)
	SubscribeAll(h Handler)
}

// MemoryBus delivers events synchronously, in subscription order, on the
// publishing goroutine. Type-specific handlers run before catch-all ones.
type MemoryBus struct {
	mu       sync.RWMutex
	handlers map[Type][]Handler
	all      []Handler
}

// NewMemoryBus creates an empty bus
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[Type][]Handler)}
}

// Subscribe registers h for events of type t
func (b *MemoryBus) Subscribe(t Type, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[t] = append(b.handlers[t], h)
}

// SubscribeAll registers h for every event
func (b *MemoryBus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Publish runs every handler and joins their errors. A failing handler does
// not stop later ones.
func (b *MemoryBus) Publish(ctx context.Context, e Event) error {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}

	b.mu.RLock()
	hs := make([]Handler, 0, len(b.handlers[e.Type])+len(b.all))
	hs = append(hs, b.handlers[e.Type]...)
	hs = append(hs, b.all...)
	b.mu.RUnlock()

	metrics.EventsPublished.WithLabelValues(string(e.Type)).Inc()

	var errs []error
	for _, h := range hs {
		if err := h(ctx, e); err != nil {
			metrics.EventHandlerErrors.WithLabelValues(string(e.Type)).Inc()
			errs = append(errs, fmt.Errorf("handler for %s: %w", e.Type, err))
		}
	}
	return errors.Join(errs...)
}
