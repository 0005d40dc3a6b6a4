// relay runs the WebSocket chat relay and its history REST API.
// Usage: go run ./cmd/relay --config configs/relay.example.yaml
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/chatrelay/internal/auth"
	"github.com/rickgao/chatrelay/internal/config"
	"github.com/rickgao/chatrelay/internal/database"
	"github.com/rickgao/chatrelay/internal/history"
	"github.com/rickgao/chatrelay/internal/httpapi"
	"github.com/rickgao/chatrelay/internal/metrics"
	"github.com/rickgao/chatrelay/internal/relay"
	"github.com/rickgao/chatrelay/internal/version"
)

func main() {
	configPath := flag.String("config", "configs/relay.example.yaml", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("relay exited", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.LoadAndValidate(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	logger.Info("starting relay",
		"version", version.Version,
		"commit", version.Commit,
		"instance_id", cfg.Instance.ID,
		"config", configPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()

	// History store
	var (
		pool  *pgxpool.Pool
		store history.Store
	)
	if cfg.Database.Enabled {
		logger.Info("connecting to database",
			"host", cfg.Database.Postgres.Host,
			"port", cfg.Database.Postgres.Port,
			"database", cfg.Database.Postgres.Name,
		)
		pool, err = database.Connect(ctx, cfg.Database.Postgres)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		if err := database.Migrate(ctx, pool, logger); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		store = history.NewPostgresStore(pool)
		logger.Info("database connected")
	} else {
		logger.Warn("database disabled, history kept in memory", "capacity", cfg.History.Capacity)
		store = history.NewMemoryStore(cfg.History.Capacity, nil)
	}
	store = history.NewGuardedStore(store, history.GuardConfig{
		Name:        "history",
		MaxFailures: uint32(cfg.History.BreakerFailures),
		OpenTimeout: cfg.History.BreakerTimeout,
	}, metrics.NewHistoryMetrics(reg), logger)

	// Relay
	authorize, err := newAuthorizer(cfg.Auth, logger)
	if err != nil {
		return err
	}
	rl := relay.New(relay.Config{
		HeartbeatInterval: cfg.Relay.HeartbeatInterval,
		WriteTimeout:      cfg.Relay.WriteTimeout,
		HandshakeTimeout:  cfg.Relay.HandshakeTimeout,
		ReadLimit:         cfg.Relay.ReadLimit,
		AllowedOrigins:    cfg.Relay.AllowedOrigins,
	},
		relay.WithLogger(logger),
		relay.WithMetrics(metrics.NewRelayMetrics(reg)),
		relay.WithAuthorizer(authorize),
	)
	if err := rl.Start(ctx); err != nil {
		return fmt.Errorf("start relay: %w", err)
	}

	api := httpapi.NewServer(httpapi.Config{
		HistoryLimit: cfg.History.Limit,
		StaticDir:    cfg.Server.StaticDir,
	}, store, nil, logger)

	publicServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           rl.Intercept(api.Handler()),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}
	healthServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
		Handler:           createHealthHandler(cfg.Metrics.Path, pool, rl, metrics.Handler(reg)),
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", "port", cfg.Server.Port, "auth_mode", cfg.Auth.Mode)
		return listen(publicServer)
	})
	g.Go(func() error {
		logger.Info("starting health server", "port", cfg.Metrics.Port, "metrics_path", cfg.Metrics.Path)
		return listen(healthServer)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down...")

		if err := rl.Close(); err != nil {
			logger.Warn("relay close failed", "error", err)
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return errors.Join(
			publicServer.Shutdown(shutdownCtx),
			healthServer.Shutdown(shutdownCtx),
		)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("relay stopped")
	return nil
}

func listen(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("listen %s: %w", srv.Addr, err)
	}
	return nil
}

// newAuthorizer builds the upgrade authorization hook for the configured mode.
func newAuthorizer(cfg config.AuthConfig, logger *slog.Logger) (relay.Authorizer, error) {
	switch cfg.Mode {
	case config.AuthModeReference:
		return relay.ReferenceAuthorizer(), nil
	case config.AuthModeHeader:
		return relay.RequireHeader(cfg.Header), nil
	case config.AuthModeSignature:
		v, err := auth.LoadVerifier(cfg.KeyID, cfg.PublicKeyPath, cfg.MaxSkew, logger)
		if err != nil {
			return nil, fmt.Errorf("load verifier: %w", err)
		}
		return v.Authorize, nil
	default:
		return nil, fmt.Errorf("unknown auth mode %q", cfg.Mode)
	}
}

// createHealthHandler serves /health and Prometheus metrics.
// pool may be nil when history is kept in memory.
func createHealthHandler(metricsPath string, pool *pgxpool.Pool, rl *relay.Relay, metricsHandler http.Handler) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		health := struct {
			Status     string         `json:"status"`
			Components map[string]any `json:"components"`
		}{
			Status:     "healthy",
			Components: make(map[string]any),
		}

		if pool == nil {
			health.Components["postgres"] = "disabled"
		} else if err := pool.Ping(ctx); err != nil {
			health.Status = "unhealthy"
			health.Components["postgres"] = map[string]string{
				"status": "disconnected",
				"error":  err.Error(),
			}
		} else {
			health.Components["postgres"] = "connected"
		}

		health.Components["relay"] = map[string]any{
			"connections": rl.Len(),
		}

		w.Header().Set("Content-Type", "application/json")
		if health.Status == "unhealthy" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(health)
	})

	mux.Handle(metricsPath, metricsHandler)
	return mux
}
