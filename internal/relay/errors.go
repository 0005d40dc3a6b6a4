package relay

import "errors"

var (
	ErrConnectionClosed    = errors.New("connection closed")
	ErrDuplicateConnection = errors.New("duplicate connection id")
	ErrRelayClosed         = errors.New("relay closed")
)
