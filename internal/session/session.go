package session

import (
	"sync"
	"sync/atomic"
	"time"

	"perceptor/internal/alert"
	"perceptor/internal/consensus"
	"perceptor/internal/liveness"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// Session is the engine state of one live stream
// ARCHITECTURAL DISCOVERY: mu is held for the whole of one frame's pipeline,
// which serializes a session's frames without serializing across sessions
type Session struct {
	ID        string
	Kind      types.StreamKind
	CreatedAt time.Time

	// Per-kind state; nil when the kind does not use it
	Consensus *consensus.Buffer
	Liveness  *liveness.Tracker
	Alert     *alert.Stream

	mu         sync.Mutex
	accepting  atomic.Bool
	framesSeen int
	outbox     interfaces.Outbox

	// statMu guards stats, which is published after every frame so that
	// listing never waits behind a frame in progress
	statMu sync.Mutex
	stats  sessionStats
}

type sessionStats struct {
	framesSeen     int
	alertSessionID string
	alertFrames    int
}

func newSession(id string, kind types.StreamKind, window time.Duration, outbox interfaces.Outbox) *Session {
	s := &Session{
		ID:        id,
		Kind:      kind,
		CreatedAt: time.Now(),
		Alert:     alert.NewStream(kind),
		outbox:    outbox,
	}
	switch kind {
	case types.KindFace:
		s.Consensus = consensus.NewBuffer(window)
	case types.KindLiveness:
		s.Liveness = liveness.NewTracker()
	}
	s.accepting.Store(true)
	return s
}

// Accepting reports whether the session still takes frames
func (s *Session) Accepting() bool {
	return s.accepting.Load()
}

// Process runs fn with the session's frame lock held. Frames arriving after
// the end signal are rejected with ErrSessionNotAccepting and fn never runs.
func (s *Session) Process(fn func(*Session) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.accepting.Load() {
		return ErrSessionNotAccepting
	}
	s.framesSeen++
	defer s.publish()
	return fn(s)
}

// publish copies the counters shown by Snapshot; must be called with s.mu held
func (s *Session) publish() {
	s.statMu.Lock()
	s.stats = sessionStats{
		framesSeen:     s.framesSeen,
		alertSessionID: s.Alert.RecordID,
		alertFrames:    s.Alert.AlertFrames,
	}
	s.statMu.Unlock()
}

// FrameIndex returns the index of the frame being processed; only valid
// inside Process
func (s *Session) FrameIndex() int {
	return s.framesSeen - 1
}

// Emit writes an event to the session's outbox, stamping the session ID
func (s *Session) Emit(event *types.Event) error {
	if s.outbox == nil {
		return nil
	}
	event.SessionID = s.ID
	if event.Kind == "" {
		event.Kind = s.Kind
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	return s.outbox.Emit(event)
}

// Snapshot returns a read-only view of the session as of its last
// completed frame
func (s *Session) Snapshot() types.SessionSnapshot {
	s.statMu.Lock()
	stats := s.stats
	s.statMu.Unlock()

	return types.SessionSnapshot{
		ID:             s.ID,
		Kind:           s.Kind,
		Accepting:      s.accepting.Load(),
		CreatedAt:      s.CreatedAt,
		FramesSeen:     stats.framesSeen,
		AlertSessionID: stats.alertSessionID,
		AlertFrames:    stats.alertFrames,
	}
}
