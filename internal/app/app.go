package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"edgecam/internal/bus"
	"edgecam/internal/config"
	"edgecam/internal/logger"
	"edgecam/internal/repository"
	"edgecam/internal/repository/sqlite"
	"edgecam/internal/route"
	"edgecam/internal/service"
	"edgecam/internal/service/storage"
	wshub "edgecam/internal/service/websocket"
	"edgecam/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App is the collection server: storage, optional ledger and bus, the live
// feed hub and the HTTP router.
type App struct {
	config  *config.Config
	logger  *logger.Logger
	db      *sqlite.DB
	bus     *bus.Bus
	hub     *wshub.HubService
	manager *service.Manager
	tracing func(context.Context) error
}

// NewApp opens every collaborator. Only the upload root is mandatory; the
// ledger, the bus and tracing are skipped with a warning when unavailable.
func NewApp(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*App, error) {
	store, err := storage.NewStore(cfg.UploadDirectory())
	if err != nil {
		return nil, err
	}

	a := &App{config: cfg, logger: logger}

	var ledger repository.ArtifactRepository
	if db, err := openLedger(cfg.DatabasePath); err != nil {
		logger.Warning("⚠️  Ledger unavailable, running without stats: %v", err)
	} else if db != nil {
		a.db = db
		ledger = sqlite.NewArtifactRepository(db)
	}

	var publisher service.Publisher
	if cfg.NATSURL != "" {
		b, err := bus.New(cfg.NATSURL)
		if err != nil {
			logger.Warning("⚠️  NATS unavailable, events will not be published: %v", err)
		} else {
			a.bus = b
			publisher = b
		}
	}

	a.tracing, err = telemetry.Init(ctx, route.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		logger.Warning("⚠️  Tracing disabled: %v", err)
		a.tracing = func(context.Context) error { return nil }
	}

	a.hub = wshub.NewHubService(cfg.BroadcastBuffer, logger)
	a.manager = service.NewManager(store, ledger, a.hub, publisher, logger)
	return a, nil
}

func openLedger(path string) (*sqlite.DB, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}
	return sqlite.New(path)
}

// Handler returns the HTTP router.
func (a *App) Handler() http.Handler {
	return route.SetupRoutes(a.manager, a.hub, a.config, a.logger)
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	go a.hub.Run(hubCtx)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.config.Port),
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.logger.Info("🚀 Edgecam collection server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("📁 Uploads: %s", a.config.UploadDirectory())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the ledger, the bus and the tracer.
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := a.tracing(ctx); err != nil {
		a.logger.Warning("Failed to flush traces: %v", err)
	}
	a.bus.Close()
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Error("Failed to close ledger: %v", err)
		}
	}
}
