// Package alert owns the lifecycle of the durable alert record of a stream.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// Stream is the alert state of one live stream.
// Owned by the stream's session; never shared between sessions.
type Stream struct {
	Kind        types.StreamKind
	RecordID    string
	Name        string
	Location    string
	TotalFrames int
	AlertFrames int
	CreatedAt   time.Time

	finalized bool
}

// NewStream returns the empty alert state of a stream of the given kind
func NewStream(kind types.StreamKind) *Stream {
	return &Stream{Kind: kind}
}

// Opened reports whether a durable record exists for the stream
func (s *Stream) Opened() bool {
	return s.RecordID != ""
}

// Finalized reports whether Finalize has completed
func (s *Stream) Finalized() bool {
	return s.finalized
}

// Manager creates, appends to and finalizes alert records
// ARCHITECTURAL DISCOVERY: Manager holds no per-stream state; every stream's
// counters live in its Stream so the session lock covers them
type Manager struct {
	store  interfaces.AlertStore
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates an alert manager storing frames below root
func NewManager(store interfaces.AlertStore, root string, logger *slog.Logger) (*Manager, error) {
	if store == nil {
		return nil, ErrStoreRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		store:  store,
		root:   root,
		logger: logger.With("component", "alert"),
		now:    time.Now,
	}, nil
}

// EnsureOpen creates the durable record on the first frame of a stream.
// Idempotent; liveness streams never open a record. A failed create is
// logged and retried on the next frame.
func (m *Manager) EnsureOpen(ctx context.Context, s *Stream) error {
	if s.Opened() || !s.Kind.KeepsAlerts() {
		return nil
	}
	if s.finalized {
		return ErrStreamFinalized
	}

	now := m.now()
	name := fmt.Sprintf("%s_%s_%s", s.Kind, now.Format("20060102_150405"), uuid.NewString()[:8])
	location := filepath.Join(m.root, string(s.Kind), name)

	id, err := m.store.CreateSession(ctx, s.Kind, name, location)
	if err != nil {
		m.logger.Warn("alert session create failed", "kind", s.Kind, "error", err)
		return fmt.Errorf("create alert session: %w", err)
	}

	s.RecordID = id
	s.Name = name
	s.Location = location
	s.CreatedAt = now
	m.logger.Debug("alert session opened", "alert_session_id", id, "kind", s.Kind, "location", location)
	return nil
}

// RecordFrame counts one processed frame and appends it when frame is
// non-nil. Counters advance even if persistence fails.
// FUNCTIONAL DISCOVERY: Persisted counts may lag the in-memory counts after
// a store failure; the stream keeps running rather than stalling on storage
func (m *Manager) RecordFrame(ctx context.Context, s *Stream, frame *types.AlertFrame) error {
	if s.finalized {
		return ErrStreamFinalized
	}
	s.TotalFrames++
	if frame == nil {
		return nil
	}
	s.AlertFrames++

	if !s.Opened() {
		if err := m.EnsureOpen(ctx, s); err != nil {
			return err
		}
	}

	path, err := m.store.AppendFrame(ctx, s.Kind, s.RecordID, frame)
	if err != nil {
		m.logger.Warn("alert frame append failed",
			"alert_session_id", s.RecordID, "frame_index", frame.FrameIndex, "error", err)
		return fmt.Errorf("append alert frame: %w", err)
	}
	m.logger.Debug("alert frame stored",
		"alert_session_id", s.RecordID, "frame_index", frame.FrameIndex, "label", frame.Label, "path", path)
	return nil
}

// Finalize persists the final counts, or removes the record and its storage
// when no frame qualified. Finalizing twice or finalizing a stream that was
// never opened is a no-op.
func (m *Manager) Finalize(ctx context.Context, s *Stream) (types.StreamSummary, error) {
	summary := Summary(s)
	if s.finalized {
		return summary, nil
	}

	// finalized is only set once the store agrees, so a failed cleanup is
	// retried by the next Finalize call
	if !s.Opened() {
		s.finalized = true
		return summary, nil
	}

	if s.AlertFrames == 0 {
		if err := m.store.DeleteIfEmpty(ctx, s.Kind, s.RecordID); err != nil {
			m.logger.Warn("empty alert session cleanup failed", "alert_session_id", s.RecordID, "error", err)
			return summary, fmt.Errorf("delete empty alert session: %w", err)
		}
		s.finalized = true
		m.logger.Debug("empty alert session removed", "alert_session_id", s.RecordID, "total_frames", s.TotalFrames)
		return summary, nil
	}

	if err := m.store.Finalize(ctx, s.Kind, s.RecordID, s.TotalFrames, s.AlertFrames); err != nil {
		m.logger.Warn("alert session finalize failed", "alert_session_id", s.RecordID, "error", err)
		return summary, fmt.Errorf("finalize alert session: %w", err)
	}
	s.finalized = true
	summary.Kept = true
	m.logger.Info("alert session finalized",
		"alert_session_id", s.RecordID, "kind", s.Kind,
		"total_frames", s.TotalFrames, "alert_frames", s.AlertFrames)
	return summary, nil
}

// Summary reports the running counts of a stream
func Summary(s *Stream) types.StreamSummary {
	return types.StreamSummary{
		AlertSessionID: s.RecordID,
		TotalFrames:    s.TotalFrames,
		AlertFrames:    s.AlertFrames,
		Kept:           s.finalized && s.Opened() && s.AlertFrames > 0,
	}
}
