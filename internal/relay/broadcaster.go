package relay

import (
	"errors"
	"log/slog"

	"github.com/rickgao/chatrelay/internal/metrics"
)

// Interest decides whether recipient should receive f from sender.
type Interest func(recipient, sender *Connection, f Frame) bool

// AllowAll delivers every frame to every recipient, the sender included.
func AllowAll(_, _ *Connection, _ Frame) bool { return true }

// Broadcaster fans frames out to every open registered connection.
type Broadcaster struct {
	registry *Registry
	interest Interest
	drop     dropFunc
	logger   *slog.Logger
	metrics  *metrics.RelayMetrics
}

// NewBroadcaster creates a Broadcaster. A nil interest uses AllowAll.
func NewBroadcaster(registry *Registry, interest Interest, drop dropFunc, logger *slog.Logger, m *metrics.RelayMetrics) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if interest == nil {
		interest = AllowAll
	}
	return &Broadcaster{
		registry: registry,
		interest: interest,
		drop:     drop,
		logger:   logger,
		metrics:  m,
	}
}

// Broadcast delivers f verbatim and returns the number of recipients
// written to. Heartbeat frames are never delivered. A failed recipient
// is terminated and removed without affecting the others.
func (b *Broadcaster) Broadcast(sender *Connection, f Frame) int {
	if f.IsHeartbeat() {
		return 0
	}

	delivered := 0
	for _, c := range b.registry.Snapshot() {
		if c.State() != StateOpen || !b.interest(c, sender, f) {
			continue
		}

		if err := c.Send(f); err != nil {
			if errors.Is(err, ErrConnectionClosed) {
				continue
			}
			b.metrics.DeliveryFailed()
			c.logger.Warn("delivery failed, terminating connection", "error", err)
			b.drop(c, metrics.ReasonWriteError)
			continue
		}
		delivered++
		b.metrics.Delivered()
	}
	return delivered
}
