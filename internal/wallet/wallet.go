// Package wallet owns the displayed balance.
//
// Bets are debited synchronously when a spin is accepted. Winnings are only
// credited after REELS_STOP for the spin that produced them, and inside a
// bonus round they accumulate until the round ends and land as one credit.
// The server balance is ground truth: Reconcile replaces the displayed value
// whenever the engine is quiescent.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrInvalidAmount       = errors.New("invalid amount")
	ErrReconcileDeferred   = errors.New("reconcile deferred while a spin or bonus is unsettled")
)

// Balance update reasons
const (
	ReasonInit      = "init"
	ReasonDebit     = "debit"
	ReasonWin       = "win"
	ReasonBonus     = "bonus"
	ReasonReconcile = "reconcile"
)

// BalanceSource returns the authoritative server balance
type BalanceSource interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

type pendingCredit struct {
	id     session.ID
	amount decimal.Decimal
}

// Reconciler owns the displayed balance
type Reconciler struct {
	source BalanceSource
	bus    event.Bus
	audit  audit.Recorder

	mu        sync.Mutex
	displayed decimal.Decimal
	pending   *pendingCredit
	inBonus   bool
	deferred  decimal.Decimal
	version   uint64
}

// New creates a reconciler starting from a zero balance until Init runs
func New(source BalanceSource, bus event.Bus, rec audit.Recorder) *Reconciler {
	return &Reconciler{
		source:    source,
		bus:       bus,
		audit:     rec,
		displayed: decimal.Zero,
		deferred:  decimal.Zero,
	}
}

// Init loads the server balance and emits BALANCE_INITIALIZED
func (r *Reconciler) Init(ctx context.Context) error {
	balance, err := r.source.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to load balance: %w", err)
	}
	balance = clamp(balance)

	r.mu.Lock()
	r.displayed = balance
	r.version++
	r.mu.Unlock()

	r.publish(ctx, event.BalanceInit, balance, ReasonInit)
	return nil
}

// Displayed returns the displayed balance
func (r *Reconciler) Displayed() decimal.Decimal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.displayed
}

// CanAfford reports whether amount can be debited
func (r *Reconciler) CanAfford(amount decimal.Decimal) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return amount.LessThanOrEqual(r.displayed)
}

// Debit subtracts a bet. It never lets the balance go negative.
func (r *Reconciler) Debit(ctx context.Context, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}

	r.mu.Lock()
	if amount.GreaterThan(r.displayed) {
		r.mu.Unlock()
		return ErrInsufficientBalance
	}
	r.displayed = r.displayed.Sub(amount)
	r.version++
	balance := r.displayed
	r.mu.Unlock()

	r.publish(ctx, event.BalanceUpdate, balance, ReasonDebit)
	return nil
}

// CreditAfterSettlement registers a win to be credited when REELS_STOP fires
// for id. Zero wins register nothing.
func (r *Reconciler) CreditAfterSettlement(id session.ID, amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending != nil && r.pending.id != id {
		log.WithFields(log.Fields{
			"session_id": r.pending.id,
			"amount":     r.pending.amount.String(),
		}).Warn("Dropping unsettled credit replaced by a newer spin")
	}
	r.pending = &pendingCredit{id: id, amount: amount}
}

// Settle applies the pending credit for id. A repeated or stale REELS_STOP
// applies nothing and returns false.
func (r *Reconciler) Settle(ctx context.Context, id session.ID) bool {
	r.mu.Lock()
	if r.pending == nil || r.pending.id != id {
		r.mu.Unlock()
		return false
	}
	amount := r.pending.amount
	r.pending = nil
	r.version++

	if r.inBonus {
		r.deferred = r.deferred.Add(amount)
		r.mu.Unlock()
		log.WithFields(log.Fields{
			"session_id": id,
			"amount":     amount.String(),
		}).Debug("Bonus win deferred")
		return true
	}

	r.displayed = r.displayed.Add(amount)
	balance := r.displayed
	r.mu.Unlock()

	r.publish(ctx, event.BalanceUpdate, balance, ReasonWin)
	return true
}

// HandleReelsStop binds Settle to the REELS_STOP event
func (r *Reconciler) HandleReelsStop(ctx context.Context, e event.Event) error {
	r.Settle(ctx, e.Session)
	return nil
}

// BeginBonus starts deferring credits until FlushBonus
func (r *Reconciler) BeginBonus() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inBonus = true
}

// InBonus reports whether credits are being deferred
func (r *Reconciler) InBonus() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inBonus
}

// FlushBonus credits every deferred win as one lump sum and stops deferring.
// It returns the lump sum.
func (r *Reconciler) FlushBonus(ctx context.Context) decimal.Decimal {
	r.mu.Lock()
	total := r.deferred
	r.deferred = decimal.Zero
	r.inBonus = false
	if !total.IsPositive() {
		r.mu.Unlock()
		return total
	}
	r.displayed = r.displayed.Add(total)
	r.version++
	balance := r.displayed
	r.mu.Unlock()

	r.publish(ctx, event.BalanceUpdate, balance, ReasonBonus)
	return total
}

// Reconcile replaces the displayed balance with the server value. It is a
// no-op returning ErrReconcileDeferred inside a bonus round or while a credit
// is pending, and it discards the server answer if the balance moved while
// the request was in flight.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	r.mu.Lock()
	if r.inBonus || r.pending != nil {
		r.mu.Unlock()
		return ErrReconcileDeferred
	}
	version := r.version
	r.mu.Unlock()

	server, err := r.source.GetBalance(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch server balance: %w", err)
	}
	server = clamp(server)

	r.mu.Lock()
	if r.version != version || r.inBonus || r.pending != nil {
		r.mu.Unlock()
		return ErrReconcileDeferred
	}
	previous := r.displayed
	r.displayed = server
	r.version++
	r.mu.Unlock()

	if previous.Equal(server) {
		return nil
	}

	delta := server.Sub(previous)
	metrics.BalanceCorrections.Inc()
	log.WithFields(log.Fields{
		"displayed": previous.String(),
		"server":    server.String(),
		"delta":     delta.String(),
	}).Info("Balance corrected toward server value")

	if err := r.audit.Log(ctx, audit.EventBalanceCorrected, domain.SeverityInfo,
		"displayed balance corrected toward server value",
		map[string]string{"displayed": previous.String(), "server": server.String(), "delta": delta.String()},
		audit.WithComponent("wallet")); err != nil {
		log.WithError(err).Warn("Failed to audit balance correction")
	}

	r.publish(ctx, event.BalanceUpdate, server, ReasonReconcile)
	return nil
}

// State returns a snapshot of the balance state
func (r *Reconciler) State() domain.BalanceState {
	r.mu.Lock()
	defer r.mu.Unlock()

	st := domain.BalanceState{Displayed: r.displayed, DeferredBonus: r.deferred}
	if r.pending != nil {
		amount := r.pending.amount
		st.PendingCredit = &amount
	}
	return st
}

func (r *Reconciler) publish(ctx context.Context, t event.Type, balance decimal.Decimal, reason string) {
	if err := r.bus.Publish(ctx, event.New(t, 0, event.BalancePayload{Balance: balance, Reason: reason})); err != nil {
		log.WithError(err).WithField("event", t).Warn("Balance event handler failed")
	}
}

func clamp(v decimal.Decimal) decimal.Decimal {
	if v.IsNegative() {
		log.WithField("balance", v.String()).Warn("Server reported a negative balance, clamping to zero")
		return decimal.Zero
	}
	return v
}
