package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/chatrelay/internal/model"
)

// HistoryClient is the REST surface the Manager needs.
type HistoryClient interface {
	GetHistory(ctx context.Context) ([]model.Message, error)
	PostMessage(ctx context.Context, text string) (model.Message, error)
}

// Manager pairs a relay connection with the history API.
type Manager interface {
	// Open loads history, then connects. A history failure is logged and
	// yields an empty history; a dial failure is returned.
	Open(ctx context.Context) ([]model.Message, error)

	// Send writes text to the relay, then appends it to history.
	Send(ctx context.Context, text string) error

	// Messages returns relayed messages from every connection the manager opens.
	Messages() <-chan Message

	// Errors returns terminal connection errors (reconnect disabled or exhausted).
	Errors() <-chan error

	// IsConnected reports whether a relay connection is currently up.
	IsConnected() bool

	// Close shuts the connection down and stops reconnecting.
	Close() error
}

// manager implements the Manager interface.
type manager struct {
	cfg     ManagerConfig
	history HistoryClient
	clock   clockwork.Clock
	logger  *slog.Logger

	// Output channels
	out    chan Message
	errors chan error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	client Client
	closed bool

	// newClient is swapped in tests
	newClient func(ClientConfig) Client
}

// NewManager creates a new Manager. A nil clock uses the real clock.
func NewManager(cfg ManagerConfig, history HistoryClient, clock clockwork.Clock, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = DefaultManagerConfig().MessageBufferSize
	}

	m := &manager{
		cfg:     cfg,
		history: history,
		clock:   clock,
		logger:  logger,
		out:     make(chan Message, cfg.MessageBufferSize),
		errors:  make(chan error, 1),
	}
	m.newClient = func(cc ClientConfig) Client {
		return NewClient(cc, m.clock, m.logger)
	}
	return m
}

// Open loads history and connects.
func (m *manager) Open(ctx context.Context) ([]model.Message, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrAlreadyClosed
	}
	if m.client != nil {
		m.mu.Unlock()
		return nil, errors.New("already open")
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.mu.Unlock()

	history, err := m.history.GetHistory(ctx)
	if err != nil {
		m.logger.Warn("failed to load message history", "error", err)
		history = []model.Message{}
	}

	client := m.newClient(m.cfg.Client)
	if err := client.Connect(ctx); err != nil {
		m.cancel()
		return history, fmt.Errorf("connect: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		client.Close()
		return history, ErrAlreadyClosed
	}
	m.client = client
	m.wg.Add(1)
	m.mu.Unlock()

	go m.forward(client)

	m.logger.Info("relay connection opened", "url", m.cfg.Client.URL, "history", len(history))
	return history, nil
}

// Send writes text over the socket, then posts it to history.
func (m *manager) Send(ctx context.Context, text string) error {
	m.mu.RLock()
	client := m.client
	m.mu.RUnlock()

	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}

	if err := client.SendText(text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}

	if _, err := m.history.PostMessage(ctx, text); err != nil {
		m.logger.Error("failed to post message", "error", err)
		return fmt.Errorf("post message: %w", err)
	}
	return nil
}

// Messages returns the output channel.
func (m *manager) Messages() <-chan Message {
	return m.out
}

// Errors returns the terminal error channel.
func (m *manager) Errors() <-chan error {
	return m.errors
}

// IsConnected reports whether the current client is connected.
func (m *manager) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.client != nil && m.client.IsConnected()
}

// Close stops reconnection and closes the connection.
func (m *manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	client := m.client
	cancel := m.cancel
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if client != nil {
		err = client.Close()
	}
	m.wg.Wait()

	m.logger.Info("relay connection closed")
	return err
}

// forward relays client messages until the client fails or the manager closes.
func (m *manager) forward(client Client) {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return

		case err := <-client.Errors():
			m.logger.Warn("connection error", "error", err)
			client.Close()
			if !m.cfg.Reconnect {
				m.reportError(err)
				return
			}
			m.wg.Add(1)
			go m.reconnect()
			return

		case msg := <-client.Messages():
			select {
			case m.out <- msg:
			case <-m.ctx.Done():
				return
			default:
				m.logger.Warn("message buffer full, dropping")
			}
		}
	}
}

// reconnect redials with exponential backoff until it succeeds or the
// manager closes.
func (m *manager) reconnect() {
	defer m.wg.Done()

	wait := m.cfg.ReconnectBaseWait
	maxWait := m.cfg.ReconnectMaxWait

	for attempt := 1; ; attempt++ {
		select {
		case <-m.ctx.Done():
			return
		case <-m.clock.After(wait):
		}

		m.logger.Info("attempting reconnection", "attempt", attempt)

		client := m.newClient(m.cfg.Client)
		if err := client.Connect(m.ctx); err != nil {
			m.logger.Warn("reconnection failed", "attempt", attempt, "error", err)

			// Exponential backoff
			wait *= 2
			if wait > maxWait {
				wait = maxWait
			}
			continue
		}

		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			client.Close()
			return
		}
		m.client = client
		m.wg.Add(1)
		m.mu.Unlock()

		m.logger.Info("reconnected", "attempt", attempt)

		go m.forward(client)
		return
	}
}

func (m *manager) reportError(err error) {
	select {
	case m.errors <- err:
	default:
	}
}
