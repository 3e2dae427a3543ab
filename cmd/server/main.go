package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/p-n-ai/fr-k12/data"
	"github.com/p-n-ai/fr-k12/internal/catalog"
	"github.com/p-n-ai/fr-k12/internal/httpapi"
	"github.com/p-n-ai/fr-k12/internal/lesson"
	"github.com/p-n-ai/fr-k12/internal/platform/cache"
	"github.com/p-n-ai/fr-k12/internal/platform/config"
	"github.com/p-n-ai/fr-k12/internal/platform/database"
	"github.com/p-n-ai/fr-k12/internal/platform/logging"
	"github.com/p-n-ai/fr-k12/internal/progress"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	// Graceful shutdown on SIGTERM/SIGINT.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("server error", "error", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loader, err := catalog.NewLoader(catalogFS(cfg.CatalogPath))
	if err != nil {
		return err
	}

	backend, events, cleanup, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer cleanup()

	policy, err := progress.ParsePolicy(cfg.Progress.Policy)
	if err != nil {
		return err
	}

	svc, err := lesson.NewService(lesson.Config{
		Catalog:      loader,
		Backend:      backend,
		KeyPrefix:    cfg.Progress.KeyPrefix,
		Policy:       policy,
		Events:       events,
		AdvanceDelay: cfg.Player.AdvanceDelay(),
		Logger:       logger,
	})
	if err != nil {
		return err
	}

	mux := newMux(svc, httpapi.New(svc, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		// Hijacked player connections end with the process context.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() {
		slog.Info("server starting",
			"addr", srv.Addr,
			"progress_backend", cfg.Progress.Backend,
			"progress_policy", policy,
			"catalog", catalogSource(cfg.CatalogPath),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}
	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	return nil
}

func catalogFS(path string) fs.FS {
	if path == "" {
		return data.Catalog
	}
	return os.DirFS(path)
}

func catalogSource(path string) string {
	if path == "" {
		return "embedded"
	}
	return path
}

// openBackend connects the configured progress backend and, for postgres,
// the event logger. cleanup releases the connections.
func openBackend(ctx context.Context, cfg *config.Config) (progress.Backend, lesson.EventLogger, func(), error) {
	switch {
	case cfg.NeedsDatabase():
		db, err := database.New(ctx, database.Options{
			URL:      cfg.Database.URL,
			MaxConns: cfg.Database.MaxConns,
			MinConns: cfg.Database.MinConns,
		})
		if err != nil {
			return nil, nil, nil, err
		}
		backend, err := progress.NewPostgresBackend(ctx, db.Pool)
		if err != nil {
			db.Close()
			return nil, nil, nil, err
		}
		var events lesson.EventLogger = lesson.NopEventLogger{}
		if cfg.Events.Enabled {
			pg, err := lesson.NewPostgresEventLogger(ctx, db.Pool)
			if err != nil {
				db.Close()
				return nil, nil, nil, err
			}
			events = pg
		}
		return backend, events, db.Close, nil

	case cfg.NeedsCache():
		c, err := cache.New(ctx, cfg.Cache.URL)
		if err != nil {
			return nil, nil, nil, err
		}
		backend, err := progress.NewRedisBackend(c.Client)
		if err != nil {
			c.Close()
			return nil, nil, nil, err
		}
		return backend, lesson.NopEventLogger{}, func() { _ = c.Close() }, nil

	default:
		return progress.NewMemoryBackend(), lesson.NopEventLogger{}, func() {}, nil
	}
}

// healthChecker reports whether the service can handle requests.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// newMux creates the HTTP router with health check endpoints and the API.
func newMux(ready healthChecker, api *httpapi.Server) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(ready))
	api.Register(mux)
	return mux
}

func handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(`{"status":"ok"}`))
}

func handleReadyz(ready healthChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		w.Header().Set("Content-Type", "application/json")
		if err := ready.HealthCheck(ctx); err != nil {
			slog.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ready"}`))
	}
}
