package connection

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/rickgao/chatrelay/internal/version"
)

// Client represents a single WebSocket connection to the relay.
type Client interface {
	// Connect establishes the WebSocket connection.
	Connect(ctx context.Context) error

	// Close gracefully closes the connection.
	Close() error

	// SendText writes a text frame.
	SendText(text string) error

	// SendBinary writes a binary frame.
	SendBinary(data []byte) error

	// Messages returns a channel of non-heartbeat messages.
	Messages() <-chan Message

	// Errors returns a channel of connection errors.
	Errors() <-chan error

	// IsConnected returns current connection state.
	IsConnected() bool
}

// client implements the Client interface.
type client struct {
	cfg    ClientConfig
	logger *slog.Logger
	clock  clockwork.Clock

	conn *websocket.Conn

	// Output channels
	messages chan Message
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// Dead-man timer, armed on every heartbeat answered
	timerMu sync.Mutex
	deadman clockwork.Timer

	// State
	mu        sync.RWMutex
	connected bool
	closed    bool
	timedOut  bool
}

// NewClient creates a new WebSocket client. A nil clock uses the real clock.
func NewClient(cfg ClientConfig, clock clockwork.Clock, logger *slog.Logger) Client {
	return newClient(cfg, clock, logger)
}

func newClient(cfg ClientConfig, clock clockwork.Clock, logger *slog.Logger) *client {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultClientConfig().BufferSize
	}

	return &client{
		cfg:      cfg,
		logger:   logger,
		clock:    clock,
		messages: make(chan Message, cfg.BufferSize),
		errors:   make(chan error, 1),
		done:     make(chan struct{}),
	}
}

// Connect establishes the WebSocket connection.
func (c *client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrAlreadyClosed
	}
	c.mu.Unlock()

	header, err := c.upgradeHeader()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, c.cfg.URL, header)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.cfg.URL, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.cfg.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("websocket connected", "url", c.cfg.URL)

	return nil
}

// upgradeHeader builds the dial headers, signing them when credentials are set.
func (c *client) upgradeHeader() (http.Header, error) {
	header := http.Header{}
	for k, v := range c.cfg.Header {
		header[k] = append([]string(nil), v...)
	}
	header.Set("User-Agent", version.UserAgent())

	if c.cfg.Credentials == nil {
		return header, nil
	}

	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	signed, err := c.cfg.Credentials.SignUpgrade(u.Path)
	if err != nil {
		return nil, fmt.Errorf("sign upgrade: %w", err)
	}
	for k, v := range signed {
		header[k] = v
	}
	return header, nil
}

// Close gracefully closes the connection.
func (c *client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	c.stopDeadman()

	// Signal goroutines to stop
	close(c.done)

	if c.conn != nil {
		c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		return c.conn.Close()
	}

	return nil
}

// SendText writes a text frame.
func (c *client) SendText(text string) error {
	return c.write(websocket.TextMessage, []byte(text))
}

// SendBinary writes a binary frame.
func (c *client) SendBinary(data []byte) error {
	return c.write(websocket.BinaryMessage, data)
}

func (c *client) write(messageType int, data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	conn := c.conn
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.cfg.WriteTimeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	}
	return conn.WriteMessage(messageType, data)
}

// Messages returns the messages channel.
func (c *client) Messages() <-chan Message {
	return c.messages
}

// Errors returns the errors channel.
func (c *client) Errors() <-chan error {
	return c.errors
}

// IsConnected returns the current connection state.
func (c *client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// readLoop reads frames, answers heartbeats and forwards the rest.
func (c *client) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		c.stopDeadman()
	}()

	for {
		select {
		case <-c.done:
			return
		default:
		}

		messageType, data, err := c.conn.ReadMessage()
		receivedAt := time.Now() // Capture timestamp immediately

		if err != nil {
			c.mu.RLock()
			timedOut := c.timedOut
			c.mu.RUnlock()

			// Ignore errors after Close() or a heartbeat timeout
			select {
			case <-c.done:
				return
			default:
			}
			if !timedOut {
				c.reportError(err)
			}
			return
		}

		binary := messageType == websocket.BinaryMessage
		if isHeartbeat(binary, data) {
			c.answerHeartbeat()
			continue
		}

		msg := Message{
			Data:       data,
			Binary:     binary,
			ReceivedAt: receivedAt,
		}

		select {
		case c.messages <- msg:
		case <-c.done:
			return
		default:
			c.logger.Warn("message buffer full, dropping message")
		}
	}
}

// answerHeartbeat rearms the dead-man timer and echoes the marker.
func (c *client) answerHeartbeat() {
	c.timerMu.Lock()
	if c.deadman != nil {
		c.deadman.Stop()
	}
	c.deadman = c.clock.AfterFunc(c.cfg.HeartbeatTimeout(), c.heartbeatExpired)
	c.timerMu.Unlock()

	if err := c.write(websocket.BinaryMessage, []byte{HeartbeatByte}); err != nil {
		c.logger.Debug("heartbeat reply failed", "error", err)
	}
}

// heartbeatExpired closes the connection after a missed heartbeat.
func (c *client) heartbeatExpired() {
	c.mu.Lock()
	if c.closed || c.timedOut {
		c.mu.Unlock()
		return
	}
	c.timedOut = true
	c.connected = false
	conn := c.conn
	c.mu.Unlock()

	c.logger.Warn("no heartbeat received, closing connection",
		"timeout", c.cfg.HeartbeatTimeout(),
	)
	c.reportError(ErrHeartbeatTimeout)

	if conn != nil {
		conn.Close()
	}
}

func (c *client) stopDeadman() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if c.deadman != nil {
		c.deadman.Stop()
		c.deadman = nil
	}
}

func (c *client) reportError(err error) {
	select {
	case c.errors <- err:
	default:
	}
}
