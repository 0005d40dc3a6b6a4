// Package model defines shared data types used across the chat relay.
//
// All types mirror the database schema in internal/database/migrations.
//
// Conventions:
//   - Timestamps: time.Time, always UTC
//   - IDs: uuid.UUID, generated by the service before insert
package model
