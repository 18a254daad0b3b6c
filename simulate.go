package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/event"
	"github.com/alexbotov/spinflow/internal/render"
	"github.com/alexbotov/spinflow/internal/spin"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	simSpins int
	simTurbo bool
	simBet   string
	simLoss  float64
	simWin   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run an autoplay session against the backend with headless reels",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simSpins <= 0 {
			return errors.New("--spins must be positive")
		}
		return simulate(cmd.Context())
	},
}

func init() {
	simulateCmd.Flags().IntVar(&simSpins, "spins", 10, "Number of autoplay spins")
	simulateCmd.Flags().BoolVar(&simTurbo, "turbo", false, "Enable turbo mode")
	simulateCmd.Flags().StringVar(&simBet, "bet", "", "Bet level (defaults to the profile default)")
	simulateCmd.Flags().Float64Var(&simLoss, "loss-limit", -1, "Stop once the session loss reaches this amount (overrides config)")
	simulateCmd.Flags().Float64Var(&simWin, "win-limit", -1, "Stop after a single win of at least this amount (overrides config)")
}

func simulate(parent context.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	timings := a.profile.Reels
	reels := render.NewReels(a.clock, a.scaler, timings.Spin, timings.Stop)
	presenter := render.NewPresenter()

	engine, err := a.buildEngine(renderer{reels: reels, presenter: presenter, audio: render.Audio{}}, audit.Discard{}, audit.Discard{}, nil)
	if err != nil {
		return err
	}
	if simLoss >= 0 {
		a.cfg.Engine.AutoplayLossLimit = simLoss
	}
	if simWin >= 0 {
		a.cfg.Engine.AutoplayWinLimit = simWin
	}
	if _, err := a.guardAutoplay(engine, audit.Discard{}); err != nil {
		return err
	}

	done := make(chan string, 1)
	a.bus.Subscribe(event.AutoStop, func(_ context.Context, e event.Event) error {
		reason := "completed"
		if p, ok := e.Payload.(event.AutoStopPayload); ok && p.Remaining > 0 {
			reason = fmt.Sprintf("stopped with %d remaining", p.Remaining)
		}
		select {
		case done <- reason:
		default:
		}
		return nil
	})

	if err := engine.Init(ctx); err != nil {
		return err
	}
	if simBet != "" {
		bet, err := decimal.NewFromString(simBet)
		if err != nil {
			return fmt.Errorf("invalid --bet: %w", err)
		}
		if err := engine.SetBet(ctx, bet); err != nil {
			return err
		}
	}
	engine.SetTurbo(ctx, simTurbo)

	start := engine.Wallet().Displayed()
	began := time.Now()
	if err := engine.StartAutoplay(ctx, simSpins); err != nil {
		return err
	}

	var reason string
	select {
	case reason = <-done:
	case <-ctx.Done():
		engine.StopAutoplay(context.Background())
		reason = <-done
	}
	waitSettled(ctx, engine)

	spins, _ := reels.Counts()
	end := engine.Wallet().Displayed()
	fmt.Printf("Profile:   %s\n", a.profile.Name)
	fmt.Printf("Spins:     %d of %d (%s)\n", spins, simSpins, reason)
	fmt.Printf("Dialogs:   %d\n", len(presenter.Shown()))
	fmt.Printf("Balance:   %s -> %s (%s)\n", start.StringFixed(2), end.StringFixed(2), end.Sub(start).StringFixed(2))
	fmt.Printf("Duration:  %s\n", time.Since(began).Round(time.Millisecond))
	return nil
}

// waitSettled blocks until no spin, bonus round or dialog is in flight
func waitSettled(ctx context.Context, engine *spin.Orchestrator) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if !engine.IsSpinning() && engine.Bonus().Dormant() && !engine.Dialogs().IsShowing() {
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("Interrupted before the engine settled")
			return
		case <-ticker.C:
		}
	}
}
