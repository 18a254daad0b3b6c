// Package domain contains the core data model of the spin engine
//
// A spin travels through the engine as:
//   - SpinRequest: what the player (or autoplay/bonus) asked for
//   - SpinResult: what the backend answered, owned by the orchestrator for one spin
//   - SpinRecord: what the journal keeps once the spin is settled
package domain

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidBet  = errors.New("bet must be positive")
	ErrInvalidMode = errors.New("unknown spin mode")
)

// SpinMode selects the backend path used for a spin
type SpinMode string

const (
	SpinModeNormal     SpinMode = "normal"
	SpinModeBuyFeature SpinMode = "buy_feature"
	SpinModeFreeSpin   SpinMode = "free_spin"
)

// Paid reports whether the mode debits the player's balance
func (m SpinMode) Paid() bool {
	return m == SpinModeNormal || m == SpinModeBuyFeature
}

// SpinRequest is immutable once submitted
type SpinRequest struct {
	Bet         decimal.Decimal `json:"bet"`
	Mode        SpinMode        `json:"mode"`
	EnhancedBet bool            `json:"enhanced_bet"`
}

// Validate checks the request shape. Free spins carry the triggering bet
// for win evaluation but it may be zero.
func (r SpinRequest) Validate() error {
	switch r.Mode {
	case SpinModeNormal, SpinModeBuyFeature:
		if !r.Bet.IsPositive() {
			return ErrInvalidBet
		}
	case SpinModeFreeSpin:
		if r.Bet.IsNegative() {
			return ErrInvalidBet
		}
	default:
		return ErrInvalidMode
	}
	return nil
}

// Grid is rows x cols symbol ids
type Grid [][]int

// Rows returns the number of rows
func (g Grid) Rows() int { return len(g) }

// Cols returns the number of columns of the first row
func (g Grid) Cols() int {
	if len(g) == 0 {
		return 0
	}
	return len(g[0])
}

// Count returns how many cells hold symbol
func (g Grid) Count(symbol int) int {
	n := 0
	for _, row := range g {
		for _, s := range row {
			if s == symbol {
				n++
			}
		}
	}
	return n
}

// Payline is a winning line of matching symbols
type Payline struct {
	LineID    int             `json:"lineId"`
	Symbol    int             `json:"symbol"`
	Count     int             `json:"count"`
	Positions []int           `json:"positions,omitempty"`
	Win       decimal.Decimal `json:"win"`
}

// SymbolWin is one entry of a tumble step's "out" list
type SymbolWin struct {
	Symbol int             `json:"symbol"`
	Count  int             `json:"count"`
	Win    decimal.Decimal `json:"win"`
}

// TumbleItem is one win-remove-refill step of a cascade
type TumbleItem struct {
	Win decimal.Decimal `json:"win"`
	Out []SymbolWin     `json:"out"`
}

// FreeSpinItem is one pre-generated free spin inside a bonus payload
type FreeSpinItem struct {
	Grid     Grid            `json:"grid"`
	TotalWin decimal.Decimal `json:"totalWin"`
	Tumbles  []TumbleItem    `json:"tumbleItems,omitempty"`
}

// FreeSpinPayload is the bonus part of a spin result. Remaining is the
// server-reported number of free spins left after this result.
type FreeSpinPayload struct {
	Items     []FreeSpinItem  `json:"items,omitempty"`
	TotalWin  decimal.Decimal `json:"totalWin"`
	Count     int             `json:"count"`
	Remaining *int            `json:"remaining,omitempty"`
}

// RemainingSpins returns the server-reported remaining count
func (p *FreeSpinPayload) RemainingSpins() (int, bool) {
	if p == nil || p.Remaining == nil {
		return 0, false
	}
	return *p.Remaining, true
}

// SpinResult is the backend answer for one spin
type SpinResult struct {
	RoundID  string           `json:"roundId,omitempty"`
	TotalWin decimal.Decimal  `json:"totalWin"`
	Grid     Grid             `json:"grid"`
	Paylines []Payline        `json:"paylines,omitempty"`
	Tumbles  []TumbleItem     `json:"tumbleItems,omitempty"`
	FreeSpin *FreeSpinPayload `json:"freeSpin,omitempty"`
	Balance  *decimal.Decimal `json:"balance,omitempty"`

	// Fallback marks a locally generated result used when the backend failed
	Fallback bool `json:"fallback,omitempty"`
}

// UnmarshalJSON accepts both the "freeSpin" and the legacy "freespin" key.
// "freeSpin" wins when a payload carries both.
func (r *SpinResult) UnmarshalJSON(data []byte) error {
	type plain SpinResult
	var aux struct {
		plain
		Legacy *FreeSpinPayload `json:"freespin,omitempty"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*r = SpinResult(aux.plain)
	if r.FreeSpin == nil {
		r.FreeSpin = aux.Legacy
	}
	return nil
}

// ScatterTriggered reports whether the result awards a free-spin bonus
func (r *SpinResult) ScatterTriggered() bool {
	return r != nil && r.FreeSpin != nil && r.FreeSpin.Count > 0
}

// BonusState is a read-only view of the bonus round
type BonusState struct {
	IsBonus              bool `json:"is_bonus"`
	IsScatterTransition  bool `json:"is_scatter_transition"`
	IsFinished           bool `json:"is_finished"`
	CurrentFreeSpinIndex int  `json:"current_free_spin_index"`
	CurrentTumbleIndex   int  `json:"current_tumble_index"`
}

// BalanceState is a read-only view of the displayed balance
type BalanceState struct {
	Displayed     decimal.Decimal  `json:"displayed"`
	PendingCredit *decimal.Decimal `json:"pending_credit,omitempty"`
	DeferredBonus decimal.Decimal  `json:"deferred_bonus"`
}

// SpinRecord is a settled spin as kept by the journal
type SpinRecord struct {
	ID           string          `json:"id" db:"id"`
	RoundID      string          `json:"round_id" db:"round_id"`
	SessionID    uint64          `json:"session_id" db:"session_id"`
	Mode         SpinMode        `json:"mode" db:"mode"`
	Bet          decimal.Decimal `json:"bet" db:"bet"`
	EffectiveBet decimal.Decimal `json:"effective_bet" db:"effective_bet"`
	Win          decimal.Decimal `json:"win" db:"win"`
	Tier         string          `json:"tier" db:"tier"`
	Fallback     bool            `json:"fallback" db:"fallback"`
	BalanceAfter decimal.Decimal `json:"balance_after" db:"balance_after"`
	SettledAt    time.Time       `json:"settled_at" db:"settled_at"`
}

// EventSeverity represents audit event severity
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// AuditEvent is a significant orchestration event: fallbacks, balance
// corrections, bonus transitions, autoplay start/stop
type AuditEvent struct {
	ID          string          `json:"id" db:"id"`
	Type        string          `json:"type" db:"type"`
	Severity    EventSeverity   `json:"severity" db:"severity"`
	Timestamp   time.Time       `json:"timestamp" db:"timestamp"`
	RoundID     *string         `json:"round_id,omitempty" db:"round_id"`
	SessionID   *uint64         `json:"session_id,omitempty" db:"session_id"`
	Description string          `json:"description" db:"description"`
	Data        json.RawMessage `json:"data,omitempty" db:"data"`
	Component   string          `json:"component" db:"component"`
}
