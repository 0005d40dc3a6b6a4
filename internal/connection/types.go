package connection

import (
	"errors"
	"net/http"
	"time"

	"github.com/rickgao/chatrelay/internal/auth"
)

// Errors
var (
	ErrNotConnected     = errors.New("not connected")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
	ErrAlreadyClosed    = errors.New("already closed")
)

// HeartbeatByte marks a heartbeat frame.
const HeartbeatByte byte = 0x01

// Message is one non-heartbeat frame received from the relay.
type Message struct {
	Data       []byte    // Raw payload
	Binary     bool      // Frame type as sent by the author
	ReceivedAt time.Time // Local timestamp when ReadMessage() returned
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// isHeartbeat reports whether a frame is a server heartbeat.
// Only the first byte is checked.
func isHeartbeat(binary bool, data []byte) bool {
	return binary && len(data) > 0 && data[0] == HeartbeatByte
}

// ClientConfig configures a relay client.
type ClientConfig struct {
	URL               string            // Relay URL (e.g., ws://localhost:4000)
	Header            http.Header       // Extra upgrade headers
	Credentials       *auth.Credentials // Signs the upgrade request (nil = unsigned)
	HeartbeatInterval time.Duration     // Server sweep period
	HeartbeatBuffer   time.Duration     // Grace added to the interval before giving up
	HandshakeTimeout  time.Duration     // Dial handshake deadline
	WriteTimeout      time.Duration     // Write deadline for sends
	BufferSize        int               // Message channel buffer size
}

// HeartbeatTimeout is how long the client waits for the next heartbeat.
func (c ClientConfig) HeartbeatTimeout() time.Duration {
	return c.HeartbeatInterval + c.HeartbeatBuffer
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		HeartbeatInterval: 5 * time.Second,
		HeartbeatBuffer:   time.Second,
		HandshakeTimeout:  10 * time.Second,
		WriteTimeout:      5 * time.Second,
		BufferSize:        100,
	}
}

// ManagerConfig configures the client Manager.
type ManagerConfig struct {
	Client            ClientConfig  // WebSocket client settings
	Reconnect         bool          // Redial when the connection dies
	ReconnectBaseWait time.Duration // Base wait time for reconnection
	ReconnectMaxWait  time.Duration // Max wait time for reconnection
	MessageBufferSize int           // Buffer size for output message channel
}

// DefaultManagerConfig returns sensible defaults.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		Client:            DefaultClientConfig(),
		ReconnectBaseWait: 1 * time.Second,
		ReconnectMaxWait:  30 * time.Second,
		MessageBufferSize: 1000,
	}
}
