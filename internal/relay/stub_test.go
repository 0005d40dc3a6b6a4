package relay

import (
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errStubWrite = errors.New("broken pipe")

// stubStream is an in-memory Stream for unit tests.
type stubStream struct {
	mu       sync.Mutex
	frames   []Frame
	controls []int
	writeErr error
	closed   bool

	// beforeWrite runs at the start of WriteMessage, outside mu.
	beforeWrite func()

	reads   chan Frame
	closeCh chan struct{}
}

func newStubStream() *stubStream {
	return &stubStream{
		reads:   make(chan Frame, 16),
		closeCh: make(chan struct{}),
	}
}

func (s *stubStream) ReadMessage() (int, []byte, error) {
	select {
	case f := <-s.reads:
		return f.messageType(), f.Data, nil
	case <-s.closeCh:
		return 0, nil, net.ErrClosed
	}
}

func (s *stubStream) WriteMessage(messageType int, data []byte) error {
	if s.beforeWrite != nil {
		s.beforeWrite()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return net.ErrClosed
	}
	if s.writeErr != nil {
		return s.writeErr
	}
	buf := append([]byte(nil), data...)
	s.frames = append(s.frames, Frame{Binary: messageType == websocket.BinaryMessage, Data: buf})
	return nil
}

func (s *stubStream) WriteControl(messageType int, _ []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.controls = append(s.controls, messageType)
	return nil
}

func (s *stubStream) SetWriteDeadline(time.Time) error { return nil }
func (s *stubStream) SetReadLimit(int64)               {}

func (s *stubStream) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000}
}

func (s *stubStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.closeCh)
	}
	return nil
}

func (s *stubStream) failWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

func (s *stubStream) written() []Frame {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Frame(nil), s.frames...)
}

func (s *stubStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// openConn returns an open connection over a fresh stub stream.
func openConn() (*Connection, *stubStream) {
	stream := newStubStream()
	c := newConnection(stream, time.Second, time.Now(), slog.Default())
	c.markOpen()
	return c, stream
}

// dropper records drops and mirrors Relay.drop on a bare registry.
type dropper struct {
	mu       sync.Mutex
	registry *Registry
	reasons  map[string]string
}

func newDropper(reg *Registry) *dropper {
	return &dropper{registry: reg, reasons: make(map[string]string)}
}

func (d *dropper) drop(c *Connection, reason string) {
	d.registry.Remove(c.ID)
	c.Terminate()
	d.mu.Lock()
	d.reasons[c.ID.String()] = reason
	d.mu.Unlock()
}

func (d *dropper) reason(c *Connection) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reasons[c.ID.String()]
}
