package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"realtime_go/internal/call"
	"realtime_go/internal/config"
	"realtime_go/internal/dedup"
	"realtime_go/internal/domain"
	"realtime_go/internal/httpserver"
	"realtime_go/internal/logging"
	"realtime_go/internal/metrics"
	"realtime_go/internal/notify"
	"realtime_go/internal/presence"
	"realtime_go/internal/push"
	"realtime_go/internal/router"
	"realtime_go/internal/security"
	"realtime_go/internal/service"
	"realtime_go/internal/store/postgres"
	"realtime_go/internal/store/sqlite"
	"realtime_go/internal/ws"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP and websocket server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, _, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		logging.Logger.Info().Str("driver", cfg.DatabaseDriver).Msg("schema up to date")
		return nil
	},
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, JSONOutput: cfg.LogJSON})
	return cfg, nil
}

// openStore opens the configured database and applies migrations.
func openStore(cfg *config.Config) (*sql.DB, domain.Store, error) {
	switch cfg.DatabaseDriver {
	case "sqlite":
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := sqlite.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, sqlite.NewStore(db), nil
	default:
		db, err := postgres.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := postgres.Migrate(db); err != nil {
			db.Close()
			return nil, nil, err
		}
		return db, postgres.NewStore(db), nil
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logging.WithComponent("server")
	metrics.MustRegister()

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	// Security components
	tokens := security.NewTokenService(cfg.JWTSecret, 24*time.Hour)
	sealer, err := security.NewEncryptor(cfg.EncryptKey)
	if err != nil {
		return fmt.Errorf("init encryptor: %w", err)
	}

	// Presence registry
	registry := presence.NewRegistry(store, presence.WithLogger(logging.WithComponent("presence")))
	go registry.Run(ctx)

	// One window shared by every duplicate-prone path.
	window := dedup.New(cfg.DedupWindow)

	dispatcher := notify.NewDispatcher(
		store,
		push.NewClient(cfg.PushGatewayURL, cfg.PushAccessToken),
		window,
		notify.Config{
			Workers:       cfg.PushWorkers,
			QueueSize:     cfg.PushQueueSize,
			RatePerSecond: cfg.PushRatePerSecond,
			AlwaysPush:    cfg.PushAlwaysCategories,
		},
		logging.WithComponent("notify"),
	)
	dispatcher.Start()
	defer dispatcher.Close()

	rt := router.New(registry, store, logging.WithComponent("router"))
	messages := service.NewMessageService(store, rt, dispatcher, sealer, window, logging.WithComponent("messages"))
	calls := call.NewManager(call.Deps{
		Signals:  registry,
		Logs:     store,
		Accounts: store,
		Members:  store,
		Notifier: dispatcher,
	}, logging.WithComponent("calls"), call.WithRingTimeout(cfg.RingTimeout))

	handler := httpserver.NewRouter(httpserver.Deps{
		Config:   cfg,
		Users:    store,
		Tokens:   tokens,
		Messages: messages,
		Presence: service.NewUserService(store, registry),
		Devices:  service.NewDeviceService(store),
		Calls:    calls,
		WS: ws.MakeHandler(ws.Deps{
			Registry:       registry,
			Tokens:         tokens,
			Messages:       messages,
			Calls:          calls,
			AllowedOrigins: cfg.CORSOrigins,
			SendBuffer:     cfg.SendBuffer,
			Log:            logging.WithComponent("ws"),
		}),
		Log: logging.WithComponent("http"),
	})

	srv := &http.Server{
		Addr:        cfg.HTTPAddr(),
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.HTTPAddr()).Str("driver", cfg.DatabaseDriver).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("graceful shutdown failed")
	}
	return nil
}
