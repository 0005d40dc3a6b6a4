package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxTextLength bounds the size of a single stored chat message.
const MaxTextLength = 4096

// Message is one entry in the chat history.
type Message struct {
	ID        uuid.UUID `json:"id"`         // Primary key
	Text      string    `json:"text"`       // Message body, opaque to the relay
	CreatedAt time.Time `json:"created_at"` // Server-assigned insert time (UTC)
}

// NewMessage builds a Message with a fresh ID and the given timestamp.
func NewMessage(text string, now time.Time) Message {
	return Message{
		ID:        uuid.New(),
		Text:      text,
		CreatedAt: now.UTC(),
	}
}

// Normalize fills in a missing ID and timestamp and converts the timestamp to UTC.
func (m Message) Normalize(now time.Time) Message {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	m.CreatedAt = m.CreatedAt.UTC()
	return m
}

// Validate reports whether the message text is storable.
func (m Message) Validate() error {
	if strings.TrimSpace(m.Text) == "" {
		return ErrEmptyText
	}
	if len(m.Text) > MaxTextLength {
		return ErrTextTooLong
	}
	return nil
}
