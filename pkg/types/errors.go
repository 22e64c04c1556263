package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidKind      = errors.New("kind must be one of face, liveness, pavement")
	ErrInvalidEventType = errors.New("invalid inbound event type")
	ErrEmptyImage       = errors.New("image payload is empty")
	ErrInvalidImage     = errors.New("image payload could not be decoded")
	ErrInvalidFrameIdx  = errors.New("frame_index must be non-negative")
	ErrInvalidRequestID = errors.New("request_id must be at most 64 characters")
)
