package interfaces

import "errors"

// Common interface errors used across components
var (
	ErrAlertSessionNotFound = errors.New("alert session not found")
	ErrCapabilityNotReady   = errors.New("capability not ready")
)
