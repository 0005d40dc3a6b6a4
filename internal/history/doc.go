// Package history stores and serves recent chat messages.
//
// Implementations:
//   - PostgresStore (pgx pool, messages table)
//   - MemoryStore (bounded, in-process)
//   - GuardedStore (circuit breaker around another Store)
//
// The relay core never touches the store. Only the REST API reads and
// appends history.
package history
