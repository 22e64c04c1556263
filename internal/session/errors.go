package session

import "errors"

// Session registry error types
var (
	ErrSessionNotFound     = errors.New("session not found")
	ErrSessionNotAccepting = errors.New("session is no longer accepting frames")
	ErrInvalidSessionID    = errors.New("session ID must be 1-64 characters")
	ErrAlertsRequired      = errors.New("alert manager is required")
)
