// Package database provides the PostgreSQL connection pool and schema migrations
// for message history.
//
// The relay itself never touches the database. Only the history store and the
// health endpoint use the pool, so the relay keeps running while the database is down.
package database
