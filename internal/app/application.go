// Package app wires configuration, storage, services and the HTTP transport into
// a runnable attendance server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/example/attendance-engine/internal/application"
	"github.com/example/attendance-engine/internal/config"
	httptransport "github.com/example/attendance-engine/internal/http"
	"github.com/example/attendance-engine/internal/live"
	"github.com/example/attendance-engine/internal/persistence"
	"github.com/example/attendance-engine/internal/persistence/memory"
	"github.com/example/attendance-engine/internal/persistence/sqlite"
)

const shutdownTimeout = 10 * time.Second

// Application owns every long lived component of the server.
type Application struct {
	cfg    config.Config
	logger *slog.Logger

	store      persistence.Store
	hub        *live.Hub
	attendance *application.AttendanceService
	reports    *application.ReportService
	handler    http.Handler
	server     *http.Server
}

// Option customises New. Tests use it to pin ids and time.
type Option func(*options)

type options struct {
	idGenerator func() string
	now         func() time.Time
}

// WithIDGenerator overrides the session id generator.
func WithIDGenerator(fn func() string) Option {
	return func(o *options) { o.idGenerator = fn }
}

// WithClock overrides the service clock.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the application in dependency order: store, catalog, hub, services, HTTP.
// Migrations and the catalog load run to completion even when ctx is already
// cancelled; only Run observes cancellation.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts ...Option) (*Application, error) {
	ctx = context.WithoutCancel(ctx)
	if logger == nil {
		logger = slog.Default()
	}
	var o options
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	store, err := openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	if cfg.CatalogFile != "" {
		loaded, err := LoadCatalogFile(ctx, cfg.CatalogFile, store)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		logger.Info("course catalog loaded", "file", cfg.CatalogFile, "courses", loaded)
	}

	hub := live.NewHub(cfg.EventBuffer, logger)

	sessions := newSessionStoreAdapter(store)
	records := newRecordStoreAdapter(store)
	catalog := newCatalogAdapter(store)

	attendance := application.NewAttendanceService(sessions, records, catalog, o.idGenerator, o.now,
		application.WithCourseDirectory(catalog),
		application.WithEventPublisher(hub),
		application.WithCloseAttempts(cfg.CloseMaxAttempts),
		application.WithAttendanceLogger(logger),
	)
	reports := application.NewReportServiceWithLogger(sessions, records, cfg.ReportConcurrency, logger)

	handler := httptransport.NewRouter(httptransport.RouterConfig{
		Sessions:   httptransport.NewSessionHandler(attendance, logger),
		Reports:    httptransport.NewReportHandler(reports, logger),
		Events:     httptransport.NewEventsHandler(hub, logger),
		Health:     httptransport.NewHealthHandler(store, logger),
		Logger:     logger,
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return &Application{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		hub:        hub,
		attendance: attendance,
		reports:    reports,
		handler:    handler,
		server:     server,
	}, nil
}

func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (persistence.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Info("using in-memory store")
		return memory.Open(), nil
	case config.StoreSQLite, "":
		storage, err := sqlite.Open(sqlite.DefaultConfig(cfg.SQLiteDSN), logger)
		if err != nil {
			return nil, fmt.Errorf("app: open sqlite: %w", err)
		}
		if err := storage.Migrate(ctx); err != nil {
			_ = storage.Close()
			return nil, err
		}
		logger.Info("using sqlite store", "path", cfg.SQLiteDSN)
		return storage, nil
	default:
		return nil, fmt.Errorf("app: unknown store %q", cfg.Store)
	}
}

// Handler returns the fully wired HTTP handler.
func (a *Application) Handler() http.Handler {
	return a.handler
}

// Addr returns the listen address.
func (a *Application) Addr() string {
	return a.server.Addr
}

// Run serves HTTP until ctx is cancelled, then shuts down gracefully and releases resources.
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		_ = a.Close()
		return fmt.Errorf("app: listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run over an existing listener.
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("attendance API listening", "addr", listener.Addr().String())
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case err := <-serveErr:
		runErr = err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// Websocket streams are hijacked and ignored by Shutdown; closing the hub ends them.
		a.hub.Close()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shutdown server", "error", err)
			runErr = err
		}
		if err := <-serveErr; err != nil && runErr == nil {
			runErr = err
		}
	}

	if err := a.Close(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Close releases the hub and the store. It is safe to call more than once.
func (a *Application) Close() error {
	a.hub.Close()
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	if err != nil {
		return fmt.Errorf("app: close store: %w", err)
	}
	return nil
}
