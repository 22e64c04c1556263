package database

import "errors"

var (
	ErrStoreClosed  = errors.New("alert store is closed")
	ErrWriteTimeout = errors.New("write operation timeout")
	ErrShuttingDown = errors.New("alert store is shutting down")
)
