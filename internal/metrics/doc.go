// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Open relay connections and connection churn
//   - Upgrade rejections and handshake failures
//   - Broadcast fan-out volume and per-recipient delivery failures
//   - Heartbeat sweeps, acknowledgements and pruned connections
//   - History store requests by operation and outcome
package metrics
