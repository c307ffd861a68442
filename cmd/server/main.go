package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/DoyleJ11/combat-tracker/internal/config"
	"github.com/DoyleJ11/combat-tracker/internal/engine"
	"github.com/DoyleJ11/combat-tracker/internal/httpapi"
	"github.com/DoyleJ11/combat-tracker/internal/hub"
	"github.com/DoyleJ11/combat-tracker/internal/identity"
	"github.com/DoyleJ11/combat-tracker/internal/session"
	"github.com/DoyleJ11/combat-tracker/internal/store"
	"github.com/DoyleJ11/combat-tracker/internal/store/bolt"
	"github.com/DoyleJ11/combat-tracker/internal/store/postgres"
	"github.com/DoyleJ11/combat-tracker/internal/store/sqlite"
	"github.com/DoyleJ11/combat-tracker/internal/syncer"
	"github.com/DoyleJ11/combat-tracker/internal/ws"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	logger, err := cfg.Logger()
	if err != nil {
		log.Fatal(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	local, err := bolt.Open(cfg.StatePath)
	if err != nil {
		return err
	}
	defer local.Close()

	remote, closeRemote, err := openRemote(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRemote()

	var provider identity.Provider = identity.AnonymousProvider{}
	if cfg.AuthJWTSecret != "" {
		provider = identity.NewJWTProvider(cfg.AuthJWTSecret, cfg.AuthIssuer)
	}

	records := syncer.NewRecords(local, remote, logger)
	factory := hub.NewFactory(local, hub.FactoryOptions{
		Sync: syncer.Options{
			Delay:   cfg.AutosaveDelay,
			MaxWait: cfg.AutosaveMaxWait,
			Rules:   engine.Rules{MaxCombatants: cfg.MaxCombatants},
		},
		Session: session.Options{IdleTimeout: cfg.SessionIdleTimeout},
	}, logger)
	// Sessions outlive the signal context so the hub can flush them on the way out.
	h := hub.NewHub(context.Background(), factory, logger)

	// Routes share the hub and record service.
	handler := httpapi.SetupRoutes(httpapi.Deps{
		Hub:      h,
		Records:  records,
		Identity: provider,
		Logger:   logger,
		WS:       ws.Options{OriginPatterns: cfg.AllowedOrigins},
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.Bool("remote_records", remote != nil),
			zap.Bool("auth", cfg.AuthJWTSecret != ""),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := srv.Shutdown(shutdownCtx)
		if herr := h.Shutdown(shutdownCtx); herr != nil {
			err = errors.Join(err, fmt.Errorf("flush sessions: %w", herr))
		}
		return err
	})
	return g.Wait()
}

// openRemote opens the record store named by RECORDS_DSN, if any.
func openRemote(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.RecordStore, func(), error) {
	backend, dsn, err := cfg.RecordsBackend()
	if err != nil {
		return nil, func() {}, err
	}

	switch backend {
	case "postgres":
		pg, err := postgres.Open(ctx, dsn, logger)
		if err != nil {
			return nil, func() {}, err
		}
		return pg, func() { _ = pg.Close() }, nil
	case "sqlite":
		lite, err := sqlite.Open(dsn)
		if err != nil {
			return nil, func() {}, err
		}
		return lite, func() { _ = lite.Close() }, nil
	default:
		logger.Info("no remote record store configured; saved combats stay local")
		return nil, func() {}, nil
	}
}
