package alert

import "errors"

var (
	ErrStreamFinalized = errors.New("alert stream already finalized")
	ErrStoreRequired   = errors.New("alert store is required")
)
