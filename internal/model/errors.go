package model

import "errors"

// Validation errors
var (
	ErrEmptyText   = errors.New("text is required")
	ErrTextTooLong = errors.New("text exceeds maximum length")
)
