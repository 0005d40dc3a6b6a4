package relay

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/chatrelay/internal/metrics"
)

// DefaultHeartbeatInterval is the sweep period.
const DefaultHeartbeatInterval = 5 * time.Second

// dropFunc terminates and unregisters a connection, recording why.
type dropFunc func(c *Connection, reason string)

// Monitor probes registered connections and prunes the ones that stop
// answering.
type Monitor struct {
	registry *Registry
	interval time.Duration
	clock    clockwork.Clock
	drop     dropFunc
	logger   *slog.Logger
	metrics  *metrics.RelayMetrics
}

// NewMonitor creates a Monitor sweeping every interval.
func NewMonitor(registry *Registry, interval time.Duration, clock clockwork.Clock, drop dropFunc, logger *slog.Logger, m *metrics.RelayMetrics) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	return &Monitor{
		registry: registry,
		interval: interval,
		clock:    clock,
		drop:     drop,
		logger:   logger,
		metrics:  m,
	}
}

// Run sweeps on every tick until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := m.clock.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Debug("heartbeat monitor started", "interval", m.interval)

	for {
		select {
		case <-ctx.Done():
			m.logger.Debug("heartbeat monitor stopped")
			return
		case <-ticker.Chan():
			m.Sweep()
		}
	}
}

// Sweep terminates connections that did not answer the previous probe,
// then marks the rest not alive and probes them.
func (m *Monitor) Sweep() {
	var pruned, probed int

	for _, c := range m.registry.Snapshot() {
		if c.State() != StateOpen {
			continue
		}

		if !c.beginSweep() {
			c.logger.Info("heartbeat missed, terminating connection")
			m.drop(c, metrics.ReasonHeartbeatMiss)
			pruned++
			continue
		}

		if err := c.Send(HeartbeatFrame()); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				continue
			}
			c.logger.Warn("heartbeat send failed", "error", err)
			m.drop(c, metrics.ReasonWriteError)
			continue
		}
		probed++
	}

	m.metrics.Swept()
	m.logger.Debug("heartbeat sweep", "probed", probed, "pruned", pruned)
}
