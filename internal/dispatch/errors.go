package dispatch

import "errors"

// Frame dispatch error types
var (
	ErrClassifierUnavailable = errors.New("classifier is not available")
	ErrRateLimitExceeded     = errors.New("frame rate limit exceeded")
	ErrDependencyMissing     = errors.New("dispatcher dependency missing")
)
