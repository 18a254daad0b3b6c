package main

import (
	"fmt"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/clock"
	"github.com/alexbotov/spinflow/internal/config"
	"github.com/alexbotov/spinflow/internal/dialog"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/game"
	"github.com/alexbotov/spinflow/internal/limits"
	"github.com/alexbotov/spinflow/internal/rng"
	"github.com/alexbotov/spinflow/internal/spin"
	"github.com/alexbotov/spinflow/internal/turbo"
	"github.com/alexbotov/spinflow/pkg/spinapi"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
)

// app holds what every command needs before the engine is wired
type app struct {
	cfg     *config.Config
	profile *config.Profile
	clock   clock.Clock
	scaler  *turbo.Scaler
	bus     *event.MemoryBus
}

// renderer is the presentation side of the engine
type renderer struct {
	reels     spin.ReelPlayer
	presenter dialog.Presenter
	audio     spin.AudioSink
}

func loadApp() (*app, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Log.Apply(); err != nil {
		return nil, err
	}

	profile, err := config.LoadProfile(cfg.Engine.ProfilePath)
	if err != nil {
		return nil, err
	}

	scaler, err := turbo.New(cfg.Engine.TurboFactor)
	if err != nil {
		return nil, err
	}

	log.WithFields(log.Fields{
		"profile": profile.Name,
		"grid":    fmt.Sprintf("%dx%d", profile.Grid.Rows, profile.Grid.Cols),
		"backend": cfg.Backend.URL,
		"turbo":   scaler.Factor(),
	}).Info("Configuration loaded")

	return &app{
		cfg:     cfg,
		profile: profile,
		clock:   clock.New(),
		scaler:  scaler,
		bus:     event.NewMemoryBus(),
	}, nil
}

func (a *app) backend() *spinapi.Client {
	b := a.cfg.Backend
	return spinapi.NewClient(&spinapi.ClientConfig{
		BaseURL:      b.URL,
		APIKey:       b.APIKey,
		APISecret:    b.APISecret,
		SessionToken: b.SessionToken,
		Timeout:      b.Timeout,
		RetryCount:   b.MaxRetries,
		RetryDelay:   b.RetryDelay,
	})
}

func (a *app) buildEngine(r renderer, rec audit.Recorder, journal spin.Journal, gate spin.Gate) (*spin.Orchestrator, error) {
	evaluator, err := game.NewEvaluator(a.profile.Thresholds())
	if err != nil {
		return nil, err
	}
	fallback, err := game.NewFallbackGenerator(a.profile.Layout(), rng.New())
	if err != nil {
		return nil, err
	}

	defaultBet, levels := a.profile.Bets()
	e := a.cfg.Engine
	settings := spin.Settings{
		DefaultBet:            defaultBet,
		BetLevels:             levels,
		EnhancedBetMultiplier: e.EnhancedMultiplier(),
		BuyFeatureMultiplier:  e.BuyMultiplier(),
		AutoplayDelay:         e.AutoplayDelay,
		AutoCloseDelay:        e.AutoCloseDelay,
		BonusTransitionDelay:  e.BonusTransitionDelay,
		FreeSpinDelay:         e.FreeSpinDelay,
	}

	return spin.New(spin.Deps{
		Backend:   a.backend(),
		Reels:     r.reels,
		Presenter: r.presenter,
		Audio:     r.audio,
		Journal:   journal,
		Fallback:  fallback,
		Evaluator: evaluator,
		Scaler:    a.scaler,
		Clock:     a.clock,
		Bus:       a.bus,
		Audit:     rec,
		Gate:      gate,
	}, settings), nil
}

// guardAutoplay stops autoplay sessions of engine at the configured limits
func (a *app) guardAutoplay(engine *spin.Orchestrator, rec audit.Recorder) (*limits.Guard, error) {
	g, err := limits.New(limits.Limits{
		Loss:      decimal.NewFromFloat(a.cfg.Engine.AutoplayLossLimit),
		SingleWin: decimal.NewFromFloat(a.cfg.Engine.AutoplayWinLimit),
	}, engine, engine.Wallet(), rec)
	if err != nil {
		return nil, err
	}
	g.Subscribe(a.bus)
	return g, nil
}
