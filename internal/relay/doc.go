// Package relay implements the WebSocket fan-out relay.
//
// Components:
//   - Gate: authorizes upgrade requests and completes the handshake
//   - Registry: the set of open connections
//   - Monitor: heartbeat sweeps that prune dead connections
//   - Broadcaster: delivers every non-heartbeat frame to all open connections
//
// Heartbeat protocol:
//
//	server ──► [0x01] (binary)   every sweep, after marking the connection not alive
//	client ──► [0x01] (binary)   marks the connection alive again
//
// A connection still not alive at the next sweep is terminated and removed.
// Heartbeat frames are never broadcast.
package relay
