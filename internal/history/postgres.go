package history

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/chatrelay/internal/model"
)

const (
	fetchSQL = `
		SELECT id, text, created_at
		FROM messages
		ORDER BY created_at DESC, seq DESC
		LIMIT $1`

	appendSQL = `
		INSERT INTO messages (id, text, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, text, created_at`
)

// PostgresStore persists messages in the messages table.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a store backed by the given pool.
// The schema is expected to be migrated already.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Fetch returns up to limit most recent messages, oldest first.
func (s *PostgresStore) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	if limit <= 0 {
		return []model.Message{}, nil
	}

	rows, err := s.db.Query(ctx, fetchSQL, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}

	messages, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Message, error) {
		return scanMessage(row)
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}

	// Newest first from the index; callers want chronological order.
	slices.Reverse(messages)
	return messages, nil
}

// Append inserts msg and returns the stored row.
func (s *PostgresStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := msg.Validate(); err != nil {
		return model.Message{}, err
	}
	msg = msg.Normalize(time.Now())

	row := s.db.QueryRow(ctx, appendSQL, msg.ID, msg.Text, msg.CreatedAt)
	stored, err := scanMessage(row)
	if err != nil {
		return model.Message{}, fmt.Errorf("insert message: %w", err)
	}
	return stored, nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func scanMessage(row pgx.Row) (model.Message, error) {
	var m model.Message
	if err := row.Scan(&m.ID, &m.Text, &m.CreatedAt); err != nil {
		return model.Message{}, err
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m, nil
}
