package relay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Stream is the raw bidirectional message stream behind a Connection.
// *websocket.Conn satisfies it.
type Stream interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	RemoteAddr() net.Addr
	Close() error
}

// State is the lifecycle state of a Connection.
type State int32

const (
	StateHandshaking State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// closeGrace bounds the best-effort close frame write.
const closeGrace = time.Second

// Connection is one accepted peer. The relay owns its stream exclusively.
type Connection struct {
	ID          uuid.UUID
	RemoteAddr  string
	ConnectedAt time.Time

	stream       Stream
	writeTimeout time.Duration
	logger       *slog.Logger

	alive atomic.Bool
	state atomic.Int32

	// One writer per stream
	writeMu sync.Mutex

	closeOnce sync.Once
}

func newConnection(stream Stream, writeTimeout time.Duration, now time.Time, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()
	remote := ""
	if addr := stream.RemoteAddr(); addr != nil {
		remote = addr.String()
	}

	c := &Connection{
		ID:           id,
		RemoteAddr:   remote,
		ConnectedAt:  now,
		stream:       stream,
		writeTimeout: writeTimeout,
		logger:       logger.With("conn_id", id.String(), "remote", remote),
	}
	c.alive.Store(true)
	c.state.Store(int32(StateHandshaking))
	return c
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Alive reports whether the peer answered since the last sweep.
func (c *Connection) Alive() bool {
	return c.alive.Load()
}

// MarkAlive records a heartbeat from the peer.
func (c *Connection) MarkAlive() {
	c.alive.Store(true)
}

// beginSweep clears the alive flag and reports whether it was set.
func (c *Connection) beginSweep() bool {
	return c.alive.Swap(false)
}

func (c *Connection) markOpen() bool {
	return c.state.CompareAndSwap(int32(StateHandshaking), int32(StateOpen))
}

// Send writes f to the peer. It returns ErrConnectionClosed once the
// connection has left the open state.
func (c *Connection) Send(f Frame) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	if c.writeTimeout > 0 {
		if err := c.stream.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return c.writeFailure(fmt.Errorf("set write deadline: %w", err))
		}
	}
	if err := c.stream.WriteMessage(f.messageType(), f.Data); err != nil {
		return c.writeFailure(fmt.Errorf("write frame: %w", err))
	}
	return nil
}

// writeFailure reports a write that lost a race with Close or Terminate
// as ErrConnectionClosed.
func (c *Connection) writeFailure(err error) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	return err
}

// Close sends a close frame and then terminates the stream.
func (c *Connection) Close(code int, reason string) {
	if !c.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		c.Terminate()
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := c.stream.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGrace)); err != nil {
		c.logger.Debug("close frame not sent", "error", err)
	}
	c.Terminate()
}

// Terminate closes the stream immediately without a close handshake.
func (c *Connection) Terminate() {
	c.closeOnce.Do(func() {
		c.state.Store(int32(StateClosed))
		if err := c.stream.Close(); err != nil {
			c.logger.Debug("stream close failed", "error", err)
		}
	})
}
