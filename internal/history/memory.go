package history

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	"github.com/rickgao/chatrelay/internal/model"
)

// MemoryStore keeps the most recent messages in process.
// Once capacity is reached the oldest message is dropped.
type MemoryStore struct {
	mu       sync.RWMutex
	messages []model.Message
	capacity int
	clock    clockwork.Clock
}

// NewMemoryStore creates a MemoryStore holding at most capacity messages.
// A nil clock uses the real clock.
func NewMemoryStore(capacity int, clock clockwork.Clock) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{
		messages: make([]model.Message, 0, capacity),
		capacity: capacity,
		clock:    clock,
	}
}

// Fetch returns up to limit most recent messages, oldest first.
func (s *MemoryStore) Fetch(ctx context.Context, limit int) ([]model.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []model.Message{}, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	start := len(s.messages) - limit
	if start < 0 {
		start = 0
	}
	out := make([]model.Message, len(s.messages)-start)
	copy(out, s.messages[start:])
	return out, nil
}

// Append stores msg, assigning an ID and timestamp when missing.
func (s *MemoryStore) Append(ctx context.Context, msg model.Message) (model.Message, error) {
	if err := ctx.Err(); err != nil {
		return model.Message{}, err
	}
	if err := msg.Validate(); err != nil {
		return model.Message{}, err
	}
	msg = msg.Normalize(s.clock.Now())

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.messages) == s.capacity {
		copy(s.messages, s.messages[1:])
		s.messages = s.messages[:len(s.messages)-1]
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// Len returns the number of stored messages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}
