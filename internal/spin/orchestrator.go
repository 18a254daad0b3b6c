// Package spin sequences a spin from request to settlement and owns the
// autoplay scheduler, the bonus chainer, the win dialog queue and the
// balance reconciler.
//
// RequestSpin is one call chain: backend call, reel spin, reel stop,
// evaluation, settlement. Lifecycle events for a spin are always published
// in the order REELS_START, WIN_START, WIN_STOP, REELS_STOP.
package spin

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/autoplay"
	"github.com/alexbotov/spinflow/internal/bonus"
	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/domain"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/alexbotov/spinflow/internal/metrics"
	"github.com/alexbotov/spinflow/internal/session"
	"github.com/alexbotov/spinflow/internal/turbo"
	"github.com/alexbotov/spinflow/internal/wallet"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSpinInProgress      = errors.New("spin already in progress")
	ErrBonusActive         = errors.New("bonus round in progress")
	ErrNoBonus             = errors.New("no bonus round in progress")
	ErrInvalidBet          = domain.ErrInvalidBet
	ErrBetNotAllowed       = errors.New("bet is not one of the allowed bet levels")
	ErrAutoplayActive      = errors.New("autoplay in progress")
	ErrInvalidTransition   = errors.New("invalid spin phase transition")

	// ErrBackendUnavailable is reported in BACKEND_FALLBACK, never returned
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Sound effect names sent to the audio sink
const (
	SoundSpin     = "spin"
	SoundReelStop = "reel_stop"
	SoundWin      = "win"
	SoundBigWin   = "big_win"
)

// Backend is the game server
type Backend interface {
	DoSpin(ctx context.Context, bet decimal.Decimal, buyFeature, enhancedBet bool) (*domain.SpinResult, error)
	SimulateFreeSpin(ctx context.Context) (*domain.SpinResult, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	// GetCurrentSpinData returns nil when no round is unfinished
	GetCurrentSpinData(ctx context.Context) (*domain.SpinResult, error)
}

// ReelPlayer plays reel animations. Both calls block until the animation
// has completed.
type ReelPlayer interface {
	Spin(ctx context.Context, s session.Session, res *domain.SpinResult) error
	Stop(ctx context.Context, s session.Session, res *domain.SpinResult) error
}

// AudioSink plays sound effects. Play must not block.
type AudioSink interface {
	Play(name string)
}

// Journal records settled spins
type Journal interface {
	RecordSpin(ctx context.Context, rec *domain.SpinRecord) error
}

// FallbackSource produces a win-free result when the backend is down
type FallbackSource interface {
	Generate() (*domain.SpinResult, error)
}

// Gate decides whether paid play is allowed
type Gate interface {
	Check() error
}

type openGate struct{}

func (openGate) Check() error { return nil }

// Deps are the collaborators of an Orchestrator
type Deps struct {
	Backend   Backend
	Reels     ReelPlayer
	Presenter dialog.Presenter
	Audio     AudioSink
	Journal   Journal
	Fallback  FallbackSource
	Evaluator *game.Evaluator
	Scaler    *turbo.Scaler
	Clock     clock.Clock
	Bus       event.Bus
	Audit     audit.Recorder
	Gate      Gate
}

// Settings are the bet and timing parameters of a game
type Settings struct {
	DefaultBet            decimal.Decimal
	BetLevels             []decimal.Decimal
	EnhancedBetMultiplier decimal.Decimal
	BuyFeatureMultiplier  decimal.Decimal
	AutoplayDelay         time.Duration
	AutoCloseDelay        time.Duration
	BonusTransitionDelay  time.Duration
	FreeSpinDelay         time.Duration
}

// DefaultSettings returns a bet of 1 with the 1.25x enhanced bet and 100x
// buy feature
func DefaultSettings() Settings {
	return Settings{
		DefaultBet:            decimal.NewFromInt(1),
		EnhancedBetMultiplier: decimal.RequireFromString("1.25"),
		BuyFeatureMultiplier:  decimal.NewFromInt(100),
		AutoplayDelay:         autoplay.DefaultDelay,
		AutoCloseDelay:        dialog.DefaultAutoCloseDelay,
		BonusTransitionDelay:  bonus.DefaultTransitionDelay,
		FreeSpinDelay:         bonus.DefaultSpinDelay,
	}
}

// Orchestrator is the spin state machine
type Orchestrator struct {
	backend   Backend
	reels     ReelPlayer
	audio     AudioSink
	journal   Journal
	fallback  FallbackSource
	evaluator *game.Evaluator
	scaler    *turbo.Scaler
	clock     clock.Clock
	bus       event.Bus
	audit     audit.Recorder
	gate      Gate
	settings  Settings

	tracker  *session.Tracker
	wallet   *wallet.Reconciler
	dialogs  *dialog.Queue
	autoplay *autoplay.Scheduler
	bonus    *bonus.Chainer

	mu       sync.Mutex
	phase    Phase
	bet      decimal.Decimal
	enhanced bool
	// starting is set while StartAutoplay is between its checks and the
	// scheduler taking over
	starting bool
}

// New wires an orchestrator and the components it owns
func New(deps Deps, settings Settings) *Orchestrator {
	defaults := DefaultSettings()
	if !settings.DefaultBet.IsPositive() {
		settings.DefaultBet = defaults.DefaultBet
	}
	if !settings.EnhancedBetMultiplier.IsPositive() {
		settings.EnhancedBetMultiplier = defaults.EnhancedBetMultiplier
	}
	if !settings.BuyFeatureMultiplier.IsPositive() {
		settings.BuyFeatureMultiplier = defaults.BuyFeatureMultiplier
	}
	if deps.Audit == nil {
		deps.Audit = audit.Discard{}
	}
	if deps.Journal == nil {
		deps.Journal = audit.Discard{}
	}
	if deps.Gate == nil {
		deps.Gate = openGate{}
	}

	o := &Orchestrator{
		backend:   deps.Backend,
		reels:     deps.Reels,
		audio:     deps.Audio,
		journal:   deps.Journal,
		fallback:  deps.Fallback,
		evaluator: deps.Evaluator,
		scaler:    deps.Scaler,
		clock:     deps.Clock,
		bus:       deps.Bus,
		audit:     deps.Audit,
		gate:      deps.Gate,
		settings:  settings,
		tracker:   session.NewTracker(),
		bet:       settings.DefaultBet,
	}

	o.wallet = wallet.New(deps.Backend, deps.Bus, deps.Audit)
	o.dialogs = dialog.New(deps.Presenter, deps.Evaluator, deps.Clock, deps.Bus, dialog.Options{
		AutoClose:      func() bool { return o.autoplay.Active() || !o.bonus.Dormant() },
		AutoCloseDelay: settings.AutoCloseDelay,
	})
	o.autoplay = autoplay.New(o, deps.Scaler, deps.Clock, deps.Bus, deps.Audit, autoplay.Options{
		BaseDelay:       settings.AutoplayDelay,
		Spinning:        o.IsSpinning,
		DialogShowing:   o.dialogs.IsShowing,
		ControlsAllowed: func() bool { return o.bonus.Dormant() },
	})
	o.bonus = bonus.New(o, o.wallet, o.autoplay, o.dialogs, deps.Scaler, deps.Clock, deps.Bus, deps.Audit, bonus.Options{
		TransitionDelay: settings.BonusTransitionDelay,
		SpinDelay:       settings.FreeSpinDelay,
		Spinning:        o.IsSpinning,
	})

	// the wallet settles before autoplay looks at the spin
	deps.Bus.Subscribe(event.ReelsStop, o.wallet.HandleReelsStop)
	deps.Bus.Subscribe(event.ReelsStop, o.autoplay.HandleReelsStop)
	deps.Bus.Subscribe(event.Spin, o.dialogs.HandleSpin)
	deps.Bus.Subscribe(event.DialogAnimationsComplete, o.autoplay.HandleWinFlowComplete)
	deps.Bus.Subscribe(event.DialogAnimationsComplete, o.bonus.HandleWinFlowComplete)

	return o
}

// Init loads the balance and announces the current bet
func (o *Orchestrator) Init(ctx context.Context) error {
	if err := o.wallet.Init(ctx); err != nil {
		return err
	}
	o.mu.Lock()
	payload := event.BetPayload{Bet: o.bet, EnhancedBet: o.enhanced}
	o.mu.Unlock()
	o.publish(ctx, event.New(event.BetUpdate, 0, payload))
	return nil
}

// RequestSpin runs one spin from acceptance to REELS_STOP and returns the
// settled result. A spin that cannot be afforded is rejected before any
// backend call and stops autoplay. Paid spins are refused while autoplay
// runs. Once accepted the spin settles even if ctx is cancelled.
func (o *Orchestrator) RequestSpin(ctx context.Context, req domain.SpinRequest) (*domain.SpinResult, error) {
	return o.requestSpin(ctx, req, false)
}

// requestSpin is RequestSpin; internal marks spins started by autoplay or
// the bonus chainer
func (o *Orchestrator) requestSpin(ctx context.Context, req domain.SpinRequest, internal bool) (*domain.SpinResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if req.Mode.Paid() {
		if err := o.gate.Check(); err != nil {
			return nil, err
		}
		if !o.bonus.Dormant() {
			return nil, ErrBonusActive
		}
	}
	if req.Mode == domain.SpinModeFreeSpin && o.bonus.Dormant() {
		return nil, ErrNoBonus
	}

	cost := o.Cost(req)

	o.mu.Lock()
	if req.Mode.Paid() && !internal && (o.starting || o.autoplay.Active()) {
		o.mu.Unlock()
		return nil, ErrAutoplayActive
	}
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return nil, ErrSpinInProgress
	}
	o.phase = PhaseLocked
	o.mu.Unlock()

	// the backend call is not abortable: an accepted spin always settles
	ctx = context.WithoutCancel(ctx)

	if req.Mode.Paid() {
		if err := o.wallet.Debit(ctx, cost); err != nil {
			o.unlock()
			if errors.Is(err, wallet.ErrInsufficientBalance) {
				o.rejectInsufficient(ctx, cost)
				return nil, ErrInsufficientBalance
			}
			return nil, fmt.Errorf("failed to debit bet: %w", err)
		}
	}

	started := o.clock.Now()
	metrics.SpinsTotal.WithLabelValues(string(req.Mode)).Inc()
	o.publish(ctx, event.New(event.Spin, 0, event.SpinPayload{Request: req, EffectiveBet: cost}))
	o.play(SoundSpin)

	fetched, err := o.fetch(ctx, req)
	if err != nil {
		o.unlock()
		return nil, err
	}
	res := fetched.result

	sess := o.tracker.Open(res.RoundID)
	res.RoundID = sess.RoundID
	logger := log.WithFields(log.Fields{
		"session_id": sess.ID,
		"round_id":   sess.RoundID,
		"mode":       req.Mode,
	})
	if fetched.fallbackCause != nil {
		o.reportFallback(ctx, sess, fetched.fallbackCause)
	}

	o.transition(PhaseReelsSpinning)
	o.publish(ctx, event.New(event.ReelsStart, sess.ID, event.ReelsPayload{Session: sess, Result: res}))
	if err := o.reels.Spin(ctx, sess, res); err != nil {
		logger.WithError(err).Warn("Reel spin animation failed")
	}
	if err := o.reels.Stop(ctx, sess, res); err != nil {
		logger.WithError(err).Warn("Reel stop animation failed")
	}
	o.play(SoundReelStop)

	o.transition(PhaseEvaluating)
	mode := o.evaluationMode(req, res)
	o.publish(ctx, event.New(event.WinStart, sess.ID, nil))
	ev := o.evaluator.Evaluate(res, mode, req.Bet)
	o.publish(ctx, event.New(event.WinStop, sess.ID, event.WinPayload{
		TotalWin:   ev.TotalWin,
		Tier:       ev.Tier.String(),
		Multiplier: ev.Multiplier,
	}))

	o.transition(PhaseSettling)
	o.wallet.CreditAfterSettlement(sess.ID, ev.TotalWin)
	o.celebrate(ctx, sess, mode, ev, req.Bet)

	if mode == game.ModeScatterTransition {
		o.enterBonus(ctx, res, req.Bet)
	}

	o.tracker.Close(sess.ID)
	o.unlock()
	metrics.SpinDuration.WithLabelValues(string(req.Mode)).Observe(o.clock.Now().Sub(started).Seconds())
	o.publish(ctx, event.New(event.ReelsStop, sess.ID, event.ReelsPayload{Session: sess}))

	if mode == game.ModeBase {
		if err := o.wallet.Reconcile(ctx); err != nil && !errors.Is(err, wallet.ErrReconcileDeferred) {
			logger.WithError(err).Warn("Balance reconcile after spin failed")
		}
	}

	o.record(ctx, sess, req, cost, ev, res.Fallback)
	logger.WithFields(log.Fields{
		"win":      ev.TotalWin.String(),
		"tier":     ev.Tier.String(),
		"fallback": res.Fallback,
	}).Debug("Spin settled")
	return res, nil
}

// Spin requests a normal spin with the current bet settings
func (o *Orchestrator) Spin(ctx context.Context) (*domain.SpinResult, error) {
	return o.RequestSpin(ctx, o.request(domain.SpinModeNormal))
}

// BuyFeature requests a buy-feature spin with the current bet
func (o *Orchestrator) BuyFeature(ctx context.Context) (*domain.SpinResult, error) {
	return o.RequestSpin(ctx, o.request(domain.SpinModeBuyFeature))
}

// AutoSpin is the autoplay entry point. It refuses to spin past the
// player's means.
func (o *Orchestrator) AutoSpin(ctx context.Context) error {
	if o.CancelAutoSpinIfInsufficientBalance(ctx) {
		return ErrInsufficientBalance
	}
	_, err := o.requestSpin(ctx, o.request(domain.SpinModeNormal), true)
	return err
}

// FreeSpin runs one bonus free spin
func (o *Orchestrator) FreeSpin(ctx context.Context) (*domain.SpinResult, error) {
	o.mu.Lock()
	req := domain.SpinRequest{Bet: o.bet, Mode: domain.SpinModeFreeSpin}
	o.mu.Unlock()
	return o.requestSpin(ctx, req, true)
}

// FallbackSpin runs a paid normal spin after a bonus round was aborted
func (o *Orchestrator) FallbackSpin(ctx context.Context) error {
	_, err := o.requestSpin(ctx, o.request(domain.SpinModeNormal), true)
	return err
}

// CancelAutoSpinIfInsufficientBalance stops autoplay when the next spin
// cannot be afforded and reports whether it did
func (o *Orchestrator) CancelAutoSpinIfInsufficientBalance(ctx context.Context) bool {
	if !o.autoplay.Active() {
		return false
	}
	cost := o.Cost(o.request(domain.SpinModeNormal))
	if o.wallet.CanAfford(cost) {
		return false
	}
	o.rejectInsufficient(ctx, cost)
	return true
}

// Cost returns the amount debited for req: the bet, times the enhanced bet
// multiplier when set, or the buy feature price. Free spins cost nothing.
func (o *Orchestrator) Cost(req domain.SpinRequest) decimal.Decimal {
	switch req.Mode {
	case domain.SpinModeFreeSpin:
		return decimal.Zero
	case domain.SpinModeBuyFeature:
		return req.Bet.Mul(o.settings.BuyFeatureMultiplier)
	}
	if req.EnhancedBet {
		return req.Bet.Mul(o.settings.EnhancedBetMultiplier)
	}
	return req.Bet
}

// SetBet changes the bet. It is refused while a spin, autoplay or bonus
// round is running.
func (o *Orchestrator) SetBet(ctx context.Context, bet decimal.Decimal) error {
	if !bet.IsPositive() {
		return ErrInvalidBet
	}
	if !o.allowedBet(bet) {
		return ErrBetNotAllowed
	}
	return o.updateBet(ctx, func() { o.bet = bet })
}

// SetEnhancedBet toggles the enhanced bet
func (o *Orchestrator) SetEnhancedBet(ctx context.Context, on bool) error {
	return o.updateBet(ctx, func() { o.enhanced = on })
}

// SetTurbo switches turbo and emits TURBO_ON or TURBO_OFF on a change
func (o *Orchestrator) SetTurbo(ctx context.Context, on bool) {
	if !o.scaler.SetTurbo(on) {
		return
	}
	t := event.TurboOff
	if on {
		t = event.TurboOn
	}
	log.WithField("turbo", on).Info("Turbo switched")
	o.publish(ctx, event.New(t, 0, nil))
}

// StartAutoplay starts an autoplay session of n spins. It is refused while
// a spin is in flight.
func (o *Orchestrator) StartAutoplay(ctx context.Context, n int) error {
	if err := o.gate.Check(); err != nil {
		return err
	}
	if !o.bonus.Dormant() {
		return ErrBonusActive
	}

	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return ErrSpinInProgress
	}
	if o.starting {
		o.mu.Unlock()
		return ErrAutoplayActive
	}
	o.starting = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.starting = false
		o.mu.Unlock()
	}()

	cost := o.Cost(o.request(domain.SpinModeNormal))
	if !o.wallet.CanAfford(cost) {
		o.rejectInsufficient(ctx, cost)
		return ErrInsufficientBalance
	}
	return o.autoplay.Start(ctx, n)
}

// StopAutoplay stops autoplay; a spin in flight still completes
func (o *Orchestrator) StopAutoplay(ctx context.Context) {
	o.autoplay.Stop(ctx)
}

// CloseDialog reports that the player dismissed win dialog id. It reports
// whether that dialog was still visible.
func (o *Orchestrator) CloseDialog(ctx context.Context, id dialog.ID) bool {
	return o.dialogs.Dismiss(ctx, id)
}

// ReconcileIdle corrects the balance toward the server value when nothing
// is running. It is a no-op otherwise.
func (o *Orchestrator) ReconcileIdle(ctx context.Context) error {
	if o.IsSpinning() || o.autoplay.Active() || !o.bonus.Dormant() {
		return nil
	}
	if err := o.wallet.Reconcile(ctx); err != nil && !errors.Is(err, wallet.ErrReconcileDeferred) {
		return err
	}
	return nil
}

// Resume re-enters an unfinished free-spin round reported by the server. It
// reports whether a round was resumed.
func (o *Orchestrator) Resume(ctx context.Context) (bool, error) {
	data, err := o.backend.GetCurrentSpinData(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch current spin data: %w", err)
	}
	if data == nil {
		return false, nil
	}
	remaining, ok := data.FreeSpin.RemainingSpins()
	if !ok || remaining <= 0 {
		return false, nil
	}

	o.mu.Lock()
	bet := o.bet
	o.mu.Unlock()

	logger := log.WithFields(log.Fields{"round_id": data.RoundID, "remaining": remaining})
	logger.Info("Resuming unfinished bonus round")
	if err := o.audit.Log(ctx, audit.EventSessionResumed, domain.SeverityInfo, "unfinished bonus round resumed",
		map[string]int{"remaining": remaining}, audit.WithRound(data.RoundID), audit.WithComponent("orchestrator")); err != nil {
		logger.WithError(err).Warn("Failed to audit resume")
	}

	if err := o.bonus.Enter(ctx, bonus.Trigger{RoundID: data.RoundID, FreeSpins: remaining, Bet: bet}); err != nil {
		return false, err
	}
	return true, nil
}

// IsSpinning reports whether a spin holds the lock
func (o *Orchestrator) IsSpinning() bool {
	return o.Phase() != PhaseIdle
}

// Phase returns the current phase
func (o *Orchestrator) Phase() Phase {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.phase
}

// Wallet exposes the balance reconciler
func (o *Orchestrator) Wallet() *wallet.Reconciler { return o.wallet }

// Dialogs exposes the win dialog queue
func (o *Orchestrator) Dialogs() *dialog.Queue { return o.dialogs }

// Autoplay exposes the autoplay scheduler
func (o *Orchestrator) Autoplay() *autoplay.Scheduler { return o.autoplay }

// Bonus exposes the bonus chainer
func (o *Orchestrator) Bonus() *bonus.Chainer { return o.bonus }

func (o *Orchestrator) request(mode domain.SpinMode) domain.SpinRequest {
	o.mu.Lock()
	defer o.mu.Unlock()
	return domain.SpinRequest{Bet: o.bet, Mode: mode, EnhancedBet: o.enhanced && mode == domain.SpinModeNormal}
}

type fetched struct {
	result *domain.SpinResult
	// fallbackCause is set when result was generated locally
	fallbackCause error
}

// fetch calls the backend. Paid spins never fail: after one retry on the
// plain spin path they settle on a local win-free grid.
func (o *Orchestrator) fetch(ctx context.Context, req domain.SpinRequest) (fetched, error) {
	if req.Mode == domain.SpinModeFreeSpin {
		res, err := o.backend.SimulateFreeSpin(ctx)
		if err != nil {
			return fetched{}, fmt.Errorf("%w: %v", bonus.ErrStaleFreeSpinData, err)
		}
		if res == nil {
			return fetched{}, bonus.ErrStaleFreeSpinData
		}
		if _, ok := res.FreeSpin.RemainingSpins(); !ok {
			return fetched{}, bonus.ErrStaleFreeSpinData
		}
		return fetched{result: res}, nil
	}

	res, err := o.backend.DoSpin(ctx, req.Bet, req.Mode == domain.SpinModeBuyFeature, req.EnhancedBet)
	if err == nil && res != nil {
		return fetched{result: res}, nil
	}

	metrics.BackendRetries.Inc()
	log.WithError(err).WithField("mode", req.Mode).Warn("Backend spin failed, retrying on the plain spin path")
	if aerr := o.audit.Log(ctx, audit.EventBackendRetry, domain.SeverityWarning, "backend spin failed, retrying",
		map[string]string{"error": errString(err)}, audit.WithComponent("orchestrator")); aerr != nil {
		log.WithError(aerr).Warn("Failed to audit backend retry")
	}

	res, err = o.backend.DoSpin(ctx, req.Bet, false, false)
	if err == nil && res != nil {
		return fetched{result: res}, nil
	}

	cause := fmt.Errorf("%w: %s", ErrBackendUnavailable, errString(err))
	res, gerr := o.fallback.Generate()
	if gerr != nil {
		log.WithError(gerr).Error("Fallback grid generation failed, settling on an empty grid")
		res = &domain.SpinResult{}
	}
	res.Fallback = true
	res.TotalWin = decimal.Zero
	return fetched{result: res, fallbackCause: cause}, nil
}

func (o *Orchestrator) reportFallback(ctx context.Context, sess session.Session, cause error) {
	metrics.Fallbacks.Inc()
	logger := log.WithFields(log.Fields{"session_id": sess.ID, "round_id": sess.RoundID})
	logger.WithError(cause).Error("Backend unreachable, settling spin on a local fallback grid")
	if err := o.audit.Log(ctx, audit.EventBackendFallback, domain.SeverityError, "spin settled on local fallback grid",
		map[string]string{"cause": cause.Error()}, audit.WithRound(sess.RoundID), audit.WithSession(sess.ID),
		audit.WithComponent("orchestrator")); err != nil {
		logger.WithError(err).Warn("Failed to audit fallback")
	}
	o.publish(ctx, event.New(event.BackendFallback, sess.ID, event.FallbackPayload{RoundID: sess.RoundID, Cause: cause.Error()}))
}

func (o *Orchestrator) evaluationMode(req domain.SpinRequest, res *domain.SpinResult) game.Mode {
	if req.Mode == domain.SpinModeFreeSpin {
		return game.ModeBonusFreeSpin
	}
	if res.ScatterTriggered() {
		return game.ModeScatterTransition
	}
	return game.ModeBase
}

// celebrate presents a base-game win. Scatter and bonus wins are held for
// the bonus total.
func (o *Orchestrator) celebrate(ctx context.Context, sess session.Session, mode game.Mode, ev game.Evaluation, bet decimal.Decimal) {
	if !ev.TotalWin.IsPositive() {
		return
	}
	if ev.Tier == game.TierNone {
		o.play(SoundWin)
	} else {
		o.play(SoundBigWin)
		if err := o.audit.Log(ctx, audit.EventLargeWin, domain.SeverityInfo, "large win",
			map[string]string{"win": ev.TotalWin.String(), "tier": ev.Tier.String(), "multiplier": ev.Multiplier.String()},
			audit.WithRound(sess.RoundID), audit.WithSession(sess.ID), audit.WithComponent("orchestrator")); err != nil {
			log.WithError(err).Warn("Failed to audit large win")
		}
	}
	if mode != game.ModeBase {
		return
	}
	o.dialogs.Present(ctx, ev.TotalWin, bet)
}

func (o *Orchestrator) enterBonus(ctx context.Context, res *domain.SpinResult, bet decimal.Decimal) {
	spins, ok := res.FreeSpin.RemainingSpins()
	if !ok || spins <= 0 {
		spins = res.FreeSpin.Count
	}
	err := o.bonus.Enter(ctx, bonus.Trigger{RoundID: res.RoundID, FreeSpins: spins, Bet: bet})
	if err != nil {
		log.WithError(err).WithField("round_id", res.RoundID).Warn("Scatter hit did not open a bonus round")
	}
}

func (o *Orchestrator) rejectInsufficient(ctx context.Context, required decimal.Decimal) {
	balance := o.wallet.Displayed()
	metrics.SpinsRejected.WithLabelValues("insufficient_balance").Inc()

	logger := log.WithFields(log.Fields{"required": required.String(), "balance": balance.String()})
	logger.Warn("Spin rejected: insufficient balance")
	if err := o.audit.Log(ctx, audit.EventInsufficientBalance, domain.SeverityWarning, "spin rejected for insufficient balance",
		map[string]string{"required": required.String(), "balance": balance.String()},
		audit.WithComponent("orchestrator")); err != nil {
		logger.WithError(err).Warn("Failed to audit rejected spin")
	}

	o.publish(ctx, event.New(event.InsufficientBalance, 0, event.InsufficientBalancePayload{Required: required, Balance: balance}))
	o.autoplay.Stop(ctx)
	o.bonus.Abort(ctx, ErrInsufficientBalance)
}

func (o *Orchestrator) record(ctx context.Context, sess session.Session, req domain.SpinRequest, cost decimal.Decimal, ev game.Evaluation, fallback bool) {
	rec := &domain.SpinRecord{
		RoundID:      sess.RoundID,
		SessionID:    uint64(sess.ID),
		Mode:         req.Mode,
		Bet:          req.Bet,
		EffectiveBet: cost,
		Win:          ev.TotalWin,
		Tier:         ev.Tier.String(),
		Fallback:     fallback,
		BalanceAfter: o.wallet.Displayed(),
		SettledAt:    o.clock.Now().UTC(),
	}
	if err := o.journal.RecordSpin(ctx, rec); err != nil {
		log.WithError(err).WithField("round_id", sess.RoundID).Warn("Failed to record spin")
	}
}

func (o *Orchestrator) updateBet(ctx context.Context, apply func()) error {
	if !o.bonus.Dormant() {
		return ErrBonusActive
	}
	if o.autoplay.Active() {
		return ErrAutoplayActive
	}

	o.mu.Lock()
	if o.phase != PhaseIdle {
		o.mu.Unlock()
		return ErrSpinInProgress
	}
	apply()
	payload := event.BetPayload{Bet: o.bet, EnhancedBet: o.enhanced}
	o.mu.Unlock()

	o.publish(ctx, event.New(event.BetUpdate, 0, payload))
	return nil
}

func (o *Orchestrator) allowedBet(bet decimal.Decimal) bool {
	if len(o.settings.BetLevels) == 0 {
		return true
	}
	for _, level := range o.settings.BetLevels {
		if level.Equal(bet) {
			return true
		}
	}
	return false
}

// transition moves the spin lock one step. An illegal step is a bug in the
// call chain; it is logged and the phase is left unchanged.
func (o *Orchestrator) transition(to Phase) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !canTransition(o.phase, to) {
		log.WithFields(log.Fields{"from": o.phase, "to": to}).WithError(ErrInvalidTransition).Error("Spin phase transition refused")
		return
	}
	o.phase = to
}

func (o *Orchestrator) unlock() {
	o.transition(PhaseIdle)
}

func (o *Orchestrator) play(name string) {
	if o.audio != nil {
		o.audio.Play(name)
	}
}

func (o *Orchestrator) publish(ctx context.Context, e event.Event) {
	if err := o.bus.Publish(ctx, e); err != nil {
		log.WithError(err).WithField("event", e.Type).Warn("Lifecycle event handler failed")
	}
}

func errString(err error) string {
	if err == nil {
		return "empty result"
	}
	return err.Error()
}
