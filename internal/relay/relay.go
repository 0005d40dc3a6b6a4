package relay

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/chatrelay/internal/metrics"
)

// Config holds the relay tuning knobs.
type Config struct {
	HeartbeatInterval time.Duration
	WriteTimeout      time.Duration
	HandshakeTimeout  time.Duration
	ReadLimit         int64
	AllowedOrigins    []string
}

// Option configures a Relay.
type Option func(*Relay)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) { r.logger = logger }
}

// WithMetrics records relay metrics on m.
func WithMetrics(m *metrics.RelayMetrics) Option {
	return func(r *Relay) { r.metrics = m }
}

// WithClock replaces the clock driving heartbeat sweeps.
func WithClock(clock clockwork.Clock) Option {
	return func(r *Relay) { r.clock = clock }
}

// WithAuthorizer sets the upgrade authorization hook.
func WithAuthorizer(a Authorizer) Option {
	return func(r *Relay) { r.authorize = a }
}

// WithInterest sets the fan-out filter.
func WithInterest(i Interest) Option {
	return func(r *Relay) { r.interest = i }
}

// Relay owns the registry and wires the gate, monitor and broadcaster.
type Relay struct {
	cfg       Config
	logger    *slog.Logger
	metrics   *metrics.RelayMetrics
	clock     clockwork.Clock
	authorize Authorizer
	interest  Interest

	registry    *Registry
	gate        *Gate
	monitor     *Monitor
	broadcaster *Broadcaster

	// Lifecycle
	lifecycleMu sync.Mutex
	closed      atomic.Bool
	started     bool
	cancel      context.CancelFunc
	monitorDone chan struct{}
	readers     sync.WaitGroup
}

// New creates a Relay. Call Start to begin heartbeat sweeps.
func New(cfg Config, opts ...Option) *Relay {
	r := &Relay{
		cfg:       cfg,
		authorize: ReferenceAuthorizer(),
		registry:  NewRegistry(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With("component", "relay")
	if r.clock == nil {
		r.clock = clockwork.NewRealClock()
	}

	r.gate = NewGate(GateConfig{
		HandshakeTimeout: cfg.HandshakeTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ReadLimit:        cfg.ReadLimit,
		CheckOrigin:      NewCheckOrigin(cfg.AllowedOrigins),
	}, r.authorize, r.register, r.logger, r.metrics)
	r.gate.isClosed = r.closed.Load
	r.gate.now = r.clock.Now

	r.monitor = NewMonitor(r.registry, cfg.HeartbeatInterval, r.clock, r.drop, r.logger, r.metrics)
	r.broadcaster = NewBroadcaster(r.registry, r.interest, r.drop, r.logger, r.metrics)
	return r
}

// Start launches the heartbeat monitor. It returns ErrRelayClosed after
// Close and is a no-op when already started.
func (r *Relay) Start(ctx context.Context) error {
	r.lifecycleMu.Lock()
	defer r.lifecycleMu.Unlock()

	if r.closed.Load() {
		return ErrRelayClosed
	}
	if r.started {
		return nil
	}
	r.started = true

	ctx, r.cancel = context.WithCancel(ctx)
	r.monitorDone = make(chan struct{})
	go func() {
		defer close(r.monitorDone)
		r.monitor.Run(ctx)
	}()

	r.logger.Info("relay started", "heartbeat_interval", r.monitor.interval)
	return nil
}

// ServeHTTP handles an upgrade request.
func (r *Relay) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.gate.ServeHTTP(w, req)
}

// Intercept routes upgrade requests on any path to the relay and
// everything else to next.
func (r *Relay) Intercept(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if websocket.IsWebSocketUpgrade(req) {
			r.gate.ServeHTTP(w, req)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Len returns the number of registered connections.
func (r *Relay) Len() int {
	return r.registry.Len()
}

// Close stops the monitor, closes every connection and waits for their
// read loops to exit. It is safe to call more than once.
func (r *Relay) Close() error {
	r.lifecycleMu.Lock()
	if r.closed.Load() {
		r.lifecycleMu.Unlock()
		return nil
	}
	r.closed.Store(true)
	cancel, done := r.cancel, r.monitorDone
	r.lifecycleMu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}

	conns := r.registry.Snapshot()
	for _, c := range conns {
		c.Close(websocket.CloseGoingAway, "server shutting down")
		r.drop(c, metrics.ReasonShutdown)
	}
	r.readers.Wait()

	r.logger.Info("relay closed", "connections_closed", len(conns))
	return nil
}

// register adds a handshaken connection and starts its read loop.
func (r *Relay) register(c *Connection) {
	r.lifecycleMu.Lock()
	if r.closed.Load() {
		r.lifecycleMu.Unlock()
		c.Close(websocket.CloseGoingAway, ErrRelayClosed.Error())
		return
	}
	c.markOpen()
	if err := r.registry.Add(c); err != nil {
		r.lifecycleMu.Unlock()
		c.logger.Error("register connection", "error", err)
		c.Terminate()
		return
	}
	r.readers.Add(1)
	r.lifecycleMu.Unlock()

	r.metrics.ConnectionOpened()
	c.logger.Info("connection established", "connections", r.registry.Len())

	go r.readLoop(c)
}

// readLoop consumes frames from one connection until it fails or closes.
func (r *Relay) readLoop(c *Connection) {
	defer r.readers.Done()

	for {
		messageType, data, err := c.stream.ReadMessage()
		if err != nil {
			r.drop(c, r.readFailure(c, err))
			return
		}

		f, ok := frameFromMessage(messageType, data)
		if !ok {
			continue
		}
		if f.IsHeartbeat() {
			c.MarkAlive()
			r.metrics.HeartbeatReceived()
			continue
		}

		r.metrics.MessageReceived(f.Binary)
		r.broadcaster.Broadcast(c, f)
	}
}

// readFailure logs a read error and classifies it for metrics.
func (r *Relay) readFailure(c *Connection, err error) string {
	switch {
	case c.State() == StateClosed || c.State() == StateClosing:
		// Closed locally; the reason was recorded by whoever closed it.
		return metrics.ReasonShutdown
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		c.logger.Debug("connection closed by peer", "error", err)
		return metrics.ReasonPeerClosed
	case errors.Is(err, net.ErrClosed):
		c.logger.Debug("connection stream closed", "error", err)
		return metrics.ReasonPeerClosed
	default:
		c.logger.Warn("connection read failed", "error", err)
		return metrics.ReasonReadError
	}
}

// drop terminates c and unregisters it. Only the first caller for a
// given connection records the close.
func (r *Relay) drop(c *Connection, reason string) {
	removed := r.registry.Remove(c.ID)
	c.Terminate()
	if !removed {
		return
	}
	r.metrics.ConnectionClosed(reason)
	c.logger.Info("connection closed",
		"reason", reason,
		"duration", r.clock.Since(c.ConnectedAt),
		"connections", r.registry.Len(),
	)
}
