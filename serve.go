package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/alexbotov/spinflow/internal/api"
	"github.com/alexbotov/spinflow/internal/audit"
	"github.com/alexbotov/spinflow/internal/auth"
	"github.com/alexbotov/spinflow/internal/control"
	"github.com/alexbotov/spinflow/internal/database"
	"github.com/alexbotov/spinflow/internal/jobs"
	"github.com/alexbotov/spinflow/internal/spin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the engine behind the HTTP control API and websocket renderer",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func serve(parent context.Context) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		recorder audit.Recorder = audit.Discard{}
		journal  spin.Journal   = audit.Discard{}
		history  api.History
		store    control.Store
	)
	if cfg.Database.Enabled {
		db, err := database.New(cfg.Database.Driver, cfg.Database.DSN)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.Migrate(); err != nil {
			return err
		}
		svc := audit.New(db.DB)
		recorder, journal, history = svc, svc, svc
		store = control.NewSQLStore(db.DB)
		log.Info("Spin journal enabled")
	} else {
		log.Warn("Database disabled, spins and audit events are not persisted")
	}

	gaming := control.New(store, recorder)
	if err := gaming.LoadState(ctx); err != nil {
		return err
	}
	if !gaming.IsGamingEnabled() {
		log.WithField("reason", gaming.GetStatus().DisabledReason).Warn("Gaming is disabled")
	}

	hub := api.NewHub(cfg.Server.RenderAckTimeout)
	a.bus.SubscribeAll(hub.HandleEvent)

	engine, err := a.buildEngine(renderer{reels: hub, presenter: hub, audio: hub}, recorder, journal, gaming)
	if err != nil {
		return err
	}
	gaming.OnDisable(engine.StopAutoplay)
	if _, err := a.guardAutoplay(engine, recorder); err != nil {
		return err
	}
	if err := engine.Init(ctx); err != nil {
		return err
	}
	if resumed, err := engine.Resume(ctx); err != nil {
		log.WithError(err).Warn("Could not check for an unfinished bonus round")
	} else if resumed {
		log.Info("Unfinished bonus round resumed")
	}

	scheduler, err := jobs.NewScheduler(cfg.Engine.ReconcileSchedule, engine)
	if err != nil {
		return err
	}
	if err := scheduler.Start(ctx); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.New(engine, auth.New(&cfg.Auth, recorder), history, hub, gaming)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.SetupRouter(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("port", cfg.Server.Port).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("Shutting down")
	engine.StopAutoplay(context.Background())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
