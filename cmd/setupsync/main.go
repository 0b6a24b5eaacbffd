// setupsync mirrors purchased car setups to local or S3 storage.
//
// Features:
// - Scheduled credential refresh and catalog/setup sync (suture supervised)
// - Basic-auth control surface with SSE progress events
// - Prometheus metrics & structured logging (zap)
// - Local or S3 storage, optional Postgres run history
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/MichelGerding/remote-iracing-setups/internal/api"
	"github.com/MichelGerding/remote-iracing-setups/internal/catalog"
	"github.com/MichelGerding/remote-iracing-setups/internal/config"
	"github.com/MichelGerding/remote-iracing-setups/internal/credential"
	"github.com/MichelGerding/remote-iracing-setups/internal/events"
	"github.com/MichelGerding/remote-iracing-setups/internal/history"
	"github.com/MichelGerding/remote-iracing-setups/internal/logging"
	"github.com/MichelGerding/remote-iracing-setups/internal/metrics"
	"github.com/MichelGerding/remote-iracing-setups/internal/remote"
	"github.com/MichelGerding/remote-iracing-setups/internal/retry"
	"github.com/MichelGerding/remote-iracing-setups/internal/scheduler"
	"github.com/MichelGerding/remote-iracing-setups/internal/storage"
	"github.com/MichelGerding/remote-iracing-setups/internal/storage/local"
	s3storage "github.com/MichelGerding/remote-iracing-setups/internal/storage/s3"
	"github.com/MichelGerding/remote-iracing-setups/internal/syncengine"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	// Initialize structured logging
	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("setupsync starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.Bool("credential_file", cfg.ConfigFile != ""))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Storage backend
	store, err := storage.New(ctx, storage.Config{
		Backend: cfg.StorageBackend,
		Local:   local.Config{RootPath: cfg.SetupsDir},
		S3: s3storage.Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			Prefix:    cfg.S3Prefix,
		},
	})
	if err != nil {
		logging.Fatal("failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logging.Info("storage backend ready", zap.String("type", store.Type()), zap.String("root", store.Location("")))

	// Run history
	var runs history.Store
	if cfg.DatabaseURL != "" {
		pg, err := history.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logging.Fatal("failed to connect to history database", zap.Error(err))
		}
		runs = pg
		logging.Info("run history stored in postgres")
	} else {
		runs = history.NewMemoryStore(100)
	}
	defer runs.Close()

	broadcaster := events.NewBroadcaster()

	client := remote.New(remote.Config{
		AuthURL:    cfg.AuthURL,
		CatalogURL: cfg.CatalogURL,
		MemberURL:  cfg.MemberURL,
		Timeout:    cfg.RemoteTimeout,
	})

	engine := syncengine.New(syncengine.Options{
		Remote: client,
		Credentials: credential.NewStore(credential.Credential{
			AccessToken:  cfg.AccessToken,
			RefreshToken: cfg.RefreshToken,
		}, cfg.Persister()),
		Catalog:         catalog.NewCache(),
		Storage:         store,
		Publisher:       broadcaster,
		History:         runs,
		ContinueOnError: cfg.ContinueOnError,
	})

	// Bootstrap: a usable credential and a catalog are required before the
	// scheduler starts.
	if err := engine.RefreshCredential(ctx); err != nil {
		logging.Fatal("initial credential refresh failed; obtain a new refresh token and restart",
			zap.Error(err))
	}
	err = retry.Do(ctx, "initial catalog fetch", retry.DefaultConfig(), func() error {
		err := engine.RefreshCatalog(ctx)
		if re, ok := remote.AsRemote(err); ok && re.Temporary() {
			return retry.Retryable(err)
		}
		return err
	})
	if err != nil {
		logging.Fatal("initial catalog fetch failed", zap.Error(err))
	}

	srv := api.NewServer(engine, broadcaster, api.Config{
		Admin: api.AdminCredential{
			Username:     cfg.AdminUsername,
			Password:     cfg.AdminPassword,
			PasswordHash: cfg.AdminPasswordHash,
		},
		AuthFailuresPerMinute: cfg.AuthFailuresPerMinute,
	})

	sup := scheduler.NewSupervisor("setupsync")
	for _, job := range scheduler.New(engine, scheduler.Config{
		TokenInterval: cfg.TokenRefreshInterval,
		SyncInterval:  cfg.SyncInterval,
	}) {
		sup.Add(job)
	}

	sup.Add(scheduler.NewHTTPService("control-surface", &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}, 10*time.Second))

	if cfg.MetricsAddr != "" {
		sup.Add(scheduler.NewHTTPService("metrics", &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}, 5*time.Second))
	}

	if cfg.AuthFailuresPerMinute > 0 {
		sup.Add(&scheduler.LoopService{Name: "limiter-cleanup", Loop: srv.CleanupLoop})
	}

	logging.Info("control surface listening", zap.String("addr", cfg.ListenAddr))
	if err := sup.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logging.Fatal("supervisor stopped", zap.Error(err))
	}
	logging.Info("shutting down...")
}
