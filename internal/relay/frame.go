package relay

import "github.com/gorilla/websocket"

// HeartbeatByte is the single payload byte of a heartbeat frame.
const HeartbeatByte byte = 0x01

// Frame is one WebSocket data message. Payloads are opaque.
type Frame struct {
	Binary bool
	Data   []byte
}

// TextFrame returns a text frame carrying s.
func TextFrame(s string) Frame {
	return Frame{Data: []byte(s)}
}

// HeartbeatFrame returns the liveness probe sent by the Monitor.
func HeartbeatFrame() Frame {
	return Frame{Binary: true, Data: []byte{HeartbeatByte}}
}

// IsHeartbeat reports whether f is exactly the one-byte binary marker.
func (f Frame) IsHeartbeat() bool {
	return f.Binary && len(f.Data) == 1 && f.Data[0] == HeartbeatByte
}

func (f Frame) messageType() int {
	if f.Binary {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// frameFromMessage converts a gorilla data message. Control frames are
// handled inside gorilla and never reach the read loop.
func frameFromMessage(messageType int, data []byte) (Frame, bool) {
	switch messageType {
	case websocket.TextMessage:
		return Frame{Data: data}, true
	case websocket.BinaryMessage:
		return Frame{Binary: true, Data: data}, true
	default:
		return Frame{}, false
	}
}
