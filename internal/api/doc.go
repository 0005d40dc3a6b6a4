// Package api provides the HTTP client for the chat history REST API.
//
// Endpoints:
//   - GET  /api/v1/database       latest messages, oldest first
//   - POST /api/v1/database/post  append a message ({"text": "..."})
//
// Reads are retried with jittered exponential backoff. Writes are not
// retried, so a message is never stored twice.
package api
