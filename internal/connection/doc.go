// Package connection implements the chat relay client.
//
// The Client:
//   - Dials the relay over WebSocket (optionally with signed upgrade headers)
//   - Answers every server heartbeat (binary frame, first byte 0x01) with the same marker
//   - Closes itself when no heartbeat arrives within interval + buffer
//   - Surfaces every other frame on Messages()
//
// The Manager:
//   - Loads message history over REST, then connects
//   - Sends a message over the socket, then appends it to history
//   - Optionally reconnects with exponential backoff
package connection
