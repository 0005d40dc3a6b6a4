// Package httpapi serves the chat history REST API next to the relay.
//
// Routes:
//   - GET  /                          welcome text
//   - GET  /api/v1/database           latest messages, oldest first
//   - POST /api/v1/database/post      append {"text": "..."}
package httpapi
