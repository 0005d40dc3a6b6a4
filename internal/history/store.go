package history

import (
	"context"
	"errors"

	"github.com/rickgao/chatrelay/internal/model"
)

// ErrUnavailable is returned when the backing store is failing fast.
var ErrUnavailable = errors.New("history store unavailable")

// Store is the narrow history seam.
type Store interface {
	// Fetch returns up to limit most recent messages, oldest first.
	Fetch(ctx context.Context, limit int) ([]model.Message, error)

	// Append stores msg and returns it with ID and CreatedAt assigned.
	Append(ctx context.Context, msg model.Message) (model.Message, error)
}
