package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/rickgao/chatrelay/internal/metrics"
	"github.com/rickgao/chatrelay/internal/model"
)

// GuardConfig configures the circuit breaker around a Store.
type GuardConfig struct {
	Name        string        // Breaker name used in logs
	MaxFailures uint32        // Consecutive failures before opening
	OpenTimeout time.Duration // Time spent open before a half-open probe
}

// GuardedStore wraps a Store in a circuit breaker so a failing backend
// fails fast with ErrUnavailable instead of stalling callers.
type GuardedStore struct {
	next    Store
	cb      *gobreaker.CircuitBreaker
	logger  *slog.Logger
	metrics *metrics.HistoryMetrics
}

// NewGuardedStore wraps next. m may be nil.
func NewGuardedStore(next Store, cfg GuardConfig, m *metrics.HistoryMetrics, logger *slog.Logger) *GuardedStore {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Name == "" {
		cfg.Name = "history"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 5
	}
	logger = logger.With("component", "history", "breaker", cfg.Name)

	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		IsSuccessful: isBackendHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("history breaker state changed", "from", from.String(), "to", to.String())
		},
	}

	return &GuardedStore{
		next:    next,
		cb:      gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		metrics: m,
	}
}

// Fetch delegates to the wrapped store unless the breaker is open.
func (g *GuardedStore) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Fetch(ctx, limit)
	})
	err = g.translate(err)
	g.metrics.Observe("fetch", start, err)
	if err != nil {
		return nil, err
	}
	return res.([]model.Message), nil
}

// Append delegates to the wrapped store unless the breaker is open.
func (g *GuardedStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	start := time.Now()
	res, err := g.cb.Execute(func() (interface{}, error) {
		return g.next.Append(ctx, msg)
	})
	err = g.translate(err)
	g.metrics.Observe("append", start, err)
	if err != nil {
		return model.Message{}, err
	}
	return res.(model.Message), nil
}

// State returns the current breaker state.
func (g *GuardedStore) State() gobreaker.State {
	return g.cb.State()
}

func (g *GuardedStore) translate(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return err
}

// isBackendHealthy reports whether err should count as a success for the
// breaker. Caller mistakes and cancellations say nothing about the backend.
func isBackendHealthy(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, model.ErrEmptyText), errors.Is(err, model.ErrTextTooLong):
		return true
	case errors.Is(err, context.Canceled):
		return true
	default:
		return false
	}
}
