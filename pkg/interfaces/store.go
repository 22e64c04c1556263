package interfaces

import (
	"context"
	"time"

	"perceptor/pkg/types"
)

// AlertStore persists alert sessions and their frames
// ARCHITECTURAL DISCOVERY: Single interface for every write the engine makes
// so SQLite and PostgreSQL backends are interchangeable
type AlertStore interface {
	// CreateSession creates an open alert session and returns its ID
	CreateSession(ctx context.Context, kind types.StreamKind, name, location string) (string, error)

	// AppendFrame stores the frame image under the session location,
	// records the frame row and returns the image path
	AppendFrame(ctx context.Context, kind types.StreamKind, sessionID string, frame *types.AlertFrame) (string, error)

	// Finalize persists the final running counts and closes the session
	Finalize(ctx context.Context, kind types.StreamKind, sessionID string, totalFrames, alertFrames int) error

	// DeleteIfEmpty removes the session row and its storage location when
	// the session has no frames. Missing sessions are not an error.
	DeleteIfEmpty(ctx context.Context, kind types.StreamKind, sessionID string) error
}

// AlertReader serves alert history queries
type AlertReader interface {
	ListAlertSessions(ctx context.Context, query types.AlertQuery) ([]*types.AlertSessionRecord, int, error)
	GetAlertSession(ctx context.Context, sessionID string) (*types.AlertSessionRecord, error)
	ListAlertFrames(ctx context.Context, sessionID string) ([]*types.AlertFrameRecord, error)
}

// Store is a complete alert persistence backend
type Store interface {
	AlertStore
	AlertReader

	// PurgeStale removes open sessions without frames created before cutoff
	// and returns how many were removed
	PurgeStale(ctx context.Context, cutoff time.Time) (int, error)

	// HealthCheck verifies connectivity
	HealthCheck(ctx context.Context) error

	// Close releases resources
	Close() error
}
