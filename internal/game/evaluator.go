// Package game derives wins and win tiers from spin results and produces the
// offline fallback grid used when the backend cannot be reached.
package game

import (
	"errors"
	"fmt"
	"sort"

	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/shopspring/decimal"
)

var ErrInvalidThresholds = errors.New("tier thresholds must be positive and strictly ascending")

// Mode is the game mode a result is evaluated in
type Mode int

const (
	ModeBase Mode = iota
	ModeScatterTransition
	ModeBonusFreeSpin
)

func (m Mode) String() string {
	switch m {
	case ModeBase:
		return "base"
	case ModeScatterTransition:
		return "scatter_transition"
	case ModeBonusFreeSpin:
		return "bonus_free_spin"
	}
	return fmt.Sprintf("mode(%d)", int(m))
}

// Tier is the celebration level of a win
type Tier int

const (
	TierNone Tier = iota
	TierBig
	TierMega
	TierEpic
	TierSuper
)

func (t Tier) String() string {
	switch t {
	case TierNone:
		return "none"
	case TierBig:
		return "big"
	case TierMega:
		return "mega"
	case TierEpic:
		return "epic"
	case TierSuper:
		return "super"
	}
	return fmt.Sprintf("tier(%d)", int(t))
}

// MarshalText encodes the tier by name
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Threshold is the minimum bet multiple for a tier
type Threshold struct {
	Tier     Tier
	Multiple decimal.Decimal
}

// DefaultThresholds are 20x, 30x, 45x and 60x the bet
func DefaultThresholds() []Threshold {
	return []Threshold{
		{Tier: TierBig, Multiple: decimal.NewFromInt(20)},
		{Tier: TierMega, Multiple: decimal.NewFromInt(30)},
		{Tier: TierEpic, Multiple: decimal.NewFromInt(45)},
		{Tier: TierSuper, Multiple: decimal.NewFromInt(60)},
	}
}

// SymbolWin aggregates the wins of one symbol across a spin
type SymbolWin struct {
	Symbol int             `json:"symbol"`
	Count  int             `json:"count"`
	Win    decimal.Decimal `json:"win"`
}

// Evaluation is the outcome of evaluating one result
type Evaluation struct {
	Mode       Mode            `json:"-"`
	TotalWin   decimal.Decimal `json:"total_win"`
	Multiplier decimal.Decimal `json:"multiplier"`
	Tier       Tier            `json:"tier"`
	Breakdown  []SymbolWin     `json:"breakdown,omitempty"`
}

// Evaluator computes total win, tier and per-symbol breakdown
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator validates thresholds, which must ascend in both tier and multiple
func NewEvaluator(thresholds []Threshold) (*Evaluator, error) {
	if len(thresholds) == 0 {
		return nil, ErrInvalidThresholds
	}
	for i, th := range thresholds {
		if !th.Multiple.IsPositive() || th.Tier == TierNone {
			return nil, ErrInvalidThresholds
		}
		if i > 0 && (!th.Multiple.GreaterThan(thresholds[i-1].Multiple) || th.Tier <= thresholds[i-1].Tier) {
			return nil, ErrInvalidThresholds
		}
	}
	return &Evaluator{thresholds: append([]Threshold(nil), thresholds...)}, nil
}

// Tier returns the highest tier whose multiple payout reaches. A zero bet
// never produces a tier.
func (e *Evaluator) Tier(payout, bet decimal.Decimal) Tier {
	if !bet.IsPositive() || !payout.IsPositive() {
		return TierNone
	}
	multiple := payout.Div(bet)
	tier := TierNone
	for _, th := range e.thresholds {
		if multiple.GreaterThanOrEqual(th.Multiple) {
			tier = th.Tier
		}
	}
	return tier
}

// Evaluate derives the win of result in mode for bet. In the scatter
// transition only the base-game part of the win counts; the free-spin total
// is settled by the bonus round.
func (e *Evaluator) Evaluate(result *domain.SpinResult, mode Mode, bet decimal.Decimal) Evaluation {
	ev := Evaluation{Mode: mode, TotalWin: decimal.Zero, Multiplier: decimal.Zero}
	if result == nil {
		return ev
	}

	total := result.TotalWin
	if total.IsZero() {
		total = stepWins(result)
	}
	if mode == ModeScatterTransition && result.FreeSpin != nil {
		total = total.Sub(result.FreeSpin.TotalWin)
		if total.IsNegative() {
			total = decimal.Zero
		}
	}

	ev.TotalWin = total
	if bet.IsPositive() {
		ev.Multiplier = total.Div(bet)
	}
	ev.Tier = e.Tier(total, bet)
	ev.Breakdown = breakdown(result)
	return ev
}

func stepWins(result *domain.SpinResult) decimal.Decimal {
	sum := decimal.Zero
	for _, t := range result.Tumbles {
		sum = sum.Add(t.Win)
	}
	for _, p := range result.Paylines {
		sum = sum.Add(p.Win)
	}
	return sum
}

func breakdown(result *domain.SpinResult) []SymbolWin {
	bySymbol := make(map[int]*SymbolWin)
	add := func(symbol, count int, win decimal.Decimal) {
		sw, ok := bySymbol[symbol]
		if !ok {
			sw = &SymbolWin{Symbol: symbol, Win: decimal.Zero}
			bySymbol[symbol] = sw
		}
		sw.Count += count
		sw.Win = sw.Win.Add(win)
	}

	for _, t := range result.Tumbles {
		for _, out := range t.Out {
			add(out.Symbol, out.Count, out.Win)
		}
	}
	for _, p := range result.Paylines {
		add(p.Symbol, p.Count, p.Win)
	}

	if len(bySymbol) == 0 {
		return nil
	}
	out := make([]SymbolWin, 0, len(bySymbol))
	for _, sw := range bySymbol {
		out = append(out, *sw)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
