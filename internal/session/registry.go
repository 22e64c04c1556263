// Package session keeps the process-wide map of live stream sessions.
package session

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"perceptor/internal/alert"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// finalizeTimeout bounds the store calls of one alert finalize
const finalizeTimeout = 10 * time.Second

// Registry maps session IDs to live stream state
// ARCHITECTURAL DISCOVERY: The map lock only guards membership; per-session
// state is guarded by each Session's own frame lock
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	alerts *alert.Manager
	window time.Duration
	logger *slog.Logger
}

// NewRegistry creates a registry; window configures each face session's
// consensus buffer
func NewRegistry(alerts *alert.Manager, window time.Duration, logger *slog.Logger) (*Registry, error) {
	if alerts == nil {
		return nil, ErrAlertsRequired
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		alerts:   alerts,
		window:   window,
		logger:   logger.With("component", "session"),
	}, nil
}

// Open creates an accepting session. Opening an existing ID replaces the
// previous stream after finalizing it.
func (r *Registry) Open(ctx context.Context, id string, kind types.StreamKind, outbox interfaces.Outbox) (*Session, error) {
	if id == "" || len(id) > 64 {
		return nil, ErrInvalidSessionID
	}
	if !kind.Valid() {
		return nil, types.ErrInvalidKind
	}

	s := newSession(id, kind, r.window, outbox)

	r.mu.Lock()
	prev := r.sessions[id]
	r.sessions[id] = s
	r.mu.Unlock()

	if prev != nil {
		r.teardown(ctx, prev)
		r.logger.Info("session replaced", "session_id", id, "previous_kind", prev.Kind, "kind", kind)
	} else {
		r.logger.Info("session opened", "session_id", id, "kind", kind)
	}
	return s, nil
}

// Get returns the live session for id
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// End stops the session from accepting frames, waits for the in-flight frame,
// finalizes its alert record and acknowledges with a stream_end event.
// Ending an already ended session is a no-op.
func (r *Registry) End(ctx context.Context, id string) error {
	s, ok := r.Get(id)
	if !ok {
		return ErrSessionNotFound
	}
	if !s.accepting.CompareAndSwap(true, false) {
		return nil
	}

	s.mu.Lock()
	summary := r.finalize(ctx, s)
	s.mu.Unlock()

	if err := s.Emit(&types.Event{
		Type:    types.EventStreamEnd,
		Success: true,
		Message: "stream ended",
		Summary: &summary,
	}); err != nil {
		r.logger.Debug("stream_end not delivered", "session_id", id, "error", err)
	}
	r.logger.Info("session ended", "session_id", id, "kind", s.Kind,
		"total_frames", summary.TotalFrames, "alert_frames", summary.AlertFrames)
	return nil
}

// Close removes the session, finalizing its alert record if that has not
// happened yet. Safe without a prior End and for unknown IDs.
func (r *Registry) Close(ctx context.Context, id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}
	r.teardown(ctx, s)
	r.logger.Info("session closed", "session_id", id, "kind", s.Kind)
}

// CloseAll closes every live session; used at shutdown
func (r *Registry) CloseAll(ctx context.Context) {
	r.mu.RLock()
	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	for _, id := range ids {
		r.Close(ctx, id)
	}
}

func (r *Registry) teardown(ctx context.Context, s *Session) {
	s.accepting.Store(false)

	s.mu.Lock()
	defer s.mu.Unlock()

	r.finalize(ctx, s)
	if s.Consensus != nil {
		s.Consensus.Reset()
	}
	if s.Liveness != nil {
		s.Liveness.Reset()
	}
}

// finalize must be called with s.mu held. Cleanup runs detached from the
// caller's cancellation so an aborted request or a dead connection cannot
// strand an empty alert record.
func (r *Registry) finalize(ctx context.Context, s *Session) types.StreamSummary {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	summary, err := r.alerts.Finalize(ctx, s.Alert)
	if err != nil {
		r.logger.Warn("alert finalize failed", "session_id", s.ID, "error", err)
	}
	return summary
}

// List returns snapshots of all live sessions, oldest first
func (r *Registry) List() []types.SessionSnapshot {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	snapshots := make([]types.SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		snapshots = append(snapshots, s.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].CreatedAt.Before(snapshots[j].CreatedAt)
	})
	return snapshots
}

// Count returns the number of live sessions
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// GetStats returns registry statistics
func (r *Registry) GetStats() map[string]interface{} {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byKind := map[types.StreamKind]int{}
	accepting := 0
	for _, s := range r.sessions {
		byKind[s.Kind]++
		if s.Accepting() {
			accepting++
		}
	}
	return map[string]interface{}{
		"live_sessions":      len(r.sessions),
		"accepting_sessions": accepting,
		"face_sessions":      byKind[types.KindFace],
		"liveness_sessions":  byKind[types.KindLiveness],
		"pavement_sessions":  byKind[types.KindPavement],
	}
}
