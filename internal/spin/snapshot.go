package spin

import (
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/shopspring/decimal"
)

// AutoplayView is the autoplay part of a snapshot
type AutoplayView struct {
	Active    bool   `json:"active"`
	State     string `json:"state"`
	Remaining int    `json:"remaining"`
	Total     int    `json:"total"`
}

// DialogView is the win dialog part of a snapshot
type DialogView struct {
	Showing    bool          `json:"showing"`
	Current    *dialog.Entry `json:"current,omitempty"`
	Pending    int           `json:"pending"`
	Suppressed bool          `json:"suppressed"`
}

// Snapshot is a read-only view of the whole engine
type Snapshot struct {
	Phase       Phase               `json:"phase"`
	Bet         decimal.Decimal     `json:"bet"`
	EnhancedBet bool                `json:"enhanced_bet"`
	Cost        decimal.Decimal     `json:"cost"`
	Turbo       bool                `json:"turbo"`
	Balance     domain.BalanceState `json:"balance"`
	Autoplay    AutoplayView        `json:"autoplay"`
	Bonus       domain.BonusState   `json:"bonus"`
	BonusPhase  string              `json:"bonus_phase"`
	Dialog      DialogView          `json:"dialog"`
	Session     *session.Session    `json:"session,omitempty"`
}

// Snapshot collects the state of every component. Each part is read under
// its owner's lock, so parts may be from slightly different instants.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := Snapshot{
		Phase:       o.phase,
		Bet:         o.bet,
		EnhancedBet: o.enhanced,
	}
	o.mu.Unlock()

	snap.Cost = o.Cost(domain.SpinRequest{Bet: snap.Bet, Mode: domain.SpinModeNormal, EnhancedBet: snap.EnhancedBet})
	snap.Turbo = o.scaler.Enabled()
	snap.Balance = o.wallet.State()
	snap.Autoplay = AutoplayView{
		Active:    o.autoplay.Active(),
		State:     o.autoplay.State().String(),
		Remaining: o.autoplay.Remaining(),
		Total:     o.autoplay.Total(),
	}
	snap.Bonus = o.bonus.View()
	snap.BonusPhase = o.bonus.State().String()
	snap.Dialog = DialogView{
		Showing:    o.dialogs.IsShowing(),
		Pending:    len(o.dialogs.Pending()),
		Suppressed: o.dialogs.Suppressed(),
	}
	if e, ok := o.dialogs.Current(); ok {
		snap.Dialog.Current = &e
	}
	if s, ok := o.tracker.Active(); ok {
		snap.Session = &s
	}
	return snap
}
