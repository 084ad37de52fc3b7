package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/config"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/domain"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/handler"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/cache"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/firebase"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/localstore"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/observability"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/infra/resilience"
	"github.com/emanuele79ottolini-collab/finanze-famiglia/internal/service"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// --- Load .env file (for local development) ---
	_ = config.LoadDotEnv(".env")

	// --- Config ---
	cfg := config.Load()

	// --- Logger ---
	logger := observability.NewLogger(cfg.LogLevel)
	defer logger.Sync()

	logger.Info("configuration loaded",
		zap.Int("port", cfg.Port),
		zap.String("log_level", cfg.LogLevel),
		zap.String("sqlite_path", cfg.SQLitePath),
		zap.String("device_name", cfg.DeviceName),
		zap.Bool("sync_enabled", cfg.FirebaseURL != ""),
		zap.Duration("http_timeout", cfg.HTTPTimeout),
		zap.Duration("cache_ttl", cfg.CacheTTL),
		zap.Int("max_retries", cfg.MaxRetries),
		zap.Duration("initial_backoff", cfg.InitialBackoff),
	)

	// --- Tracing ---
	shutdown, err := observability.InitTracer(cfg.OTLPEndpoint, "finanze-famiglia")
	if err != nil {
		logger.Fatal("failed to init tracer", zap.Error(err))
	}
	defer shutdown(context.Background())

	// --- Metrics ---
	metrics := observability.NewMetrics()

	// --- Local store ---
	store, err := localstore.Open(cfg.SQLitePath)
	if err != nil {
		logger.Fatal("failed to open local store", zap.Error(err))
	}

	snapshotCache := cache.New[*domain.Ledger](cfg.CacheTTL)

	// --- Services ---
	ledgerSvc := service.NewLedgerService(store, snapshotCache, metrics, logger)

	resilienceCfg := resilience.Config{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	}

	hub := handler.NewEventHub(logger)

	var syncSvc *service.SyncService
	if cfg.FirebaseURL != "" {
		logger.Info("remote sync enabled",
			zap.String("firebase_url", cfg.FirebaseURL),
			zap.String("root", cfg.FirebaseRoot),
		)
		httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
		cb := resilience.NewCircuitBreaker("firebase")
		remote := firebase.NewClient(httpClient, cfg.FirebaseURL, cfg.FirebaseRoot, cfg.FirebaseAuth, cb, logger)

		syncSvc = service.NewSyncService(remote, ledgerSvc, resilienceCfg, cfg.DeviceName, metrics, logger)
		ledgerSvc.AttachPublisher(syncSvc)
	} else {
		logger.Warn("remote sync: FIREBASE_URL not configured, running local only")
	}

	importSvc := service.NewImportService(ledgerSvc, metrics, logger)
	authSvc := service.NewAuthService(ledgerSvc, cfg.JWTSecret, cfg.JWTAccessTTL, cfg.PassphraseHash, logger)
	if authSvc.Enabled() {
		logger.Info("api auth enabled")
	} else {
		logger.Warn("api auth: AUTH_PASSPHRASE_HASH not set, mutating routes are open")
	}

	// --- Router ---
	router := handler.NewRouter(ledgerSvc, syncSvc, importSvc, authSvc, hub, metrics, logger)

	// --- Server ---
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	if syncSvc != nil {
		g.Go(func() error {
			err := syncSvc.Run(gctx)
			if err != nil && err != context.Canceled {
				return err
			}
			return nil
		})
		syncSvc.Subscribe(gctx, func(l *domain.Ledger) {
			hub.Notify("snapshot")
		})
	}

	g.Go(func() error {
		logger.Info("server starting", zap.Int("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		logger.Info("server shutting down...")
		if syncSvc != nil {
			syncSvc.Unsubscribe()
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error("server stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}
