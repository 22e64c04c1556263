// Package dispatch routes each inbound frame through classification and the
// kind-specific session pipeline.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"perceptor/internal/alert"
	"perceptor/internal/metrics"
	"perceptor/internal/session"
	"perceptor/pkg/interfaces"
	"perceptor/pkg/types"
)

// DefaultClassifyTimeout bounds one classifier or landmark call
const DefaultClassifyTimeout = 5 * time.Second

// Config tunes the dispatcher
type Config struct {
	ClassifyTimeout time.Duration
	FrameRateLimit  int
}

// Dispatcher runs the per-frame pipeline of every session
// ARCHITECTURAL DISCOVERY: Input checks run before the session lock is taken
// so rejected frames never wait behind a slow classifier call
type Dispatcher struct {
	registry   *session.Registry
	alerts     *alert.Manager
	classifier interfaces.Classifier
	landmarks  interfaces.LandmarkExtractor
	limiter    *FrameLimiter
	metrics    *metrics.Metrics
	timeout    time.Duration
	logger     *slog.Logger
}

// NewDispatcher creates a dispatcher. classifier and landmarks may be nil;
// frames of kinds that need them are then rejected as unavailable.
func NewDispatcher(
	registry *session.Registry,
	alerts *alert.Manager,
	classifier interfaces.Classifier,
	landmarks interfaces.LandmarkExtractor,
	m *metrics.Metrics,
	cfg Config,
	logger *slog.Logger,
) (*Dispatcher, error) {
	if registry == nil || alerts == nil {
		return nil, ErrDependencyMissing
	}
	if m == nil {
		m = metrics.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.ClassifyTimeout
	if timeout <= 0 {
		timeout = DefaultClassifyTimeout
	}
	return &Dispatcher{
		registry:   registry,
		alerts:     alerts,
		classifier: classifier,
		landmarks:  landmarks,
		limiter:    NewFrameLimiter(cfg.FrameRateLimit, DefaultFrameWindow),
		metrics:    m,
		timeout:    timeout,
		logger:     logger.With("component", "dispatch"),
	}, nil
}

// Ready reports whether the capability a kind needs is available
func (d *Dispatcher) Ready(kind types.StreamKind) bool {
	if kind == types.KindLiveness {
		return d.landmarks != nil && d.landmarks.Ready()
	}
	return d.classifier != nil && d.classifier.Ready()
}

// Forget drops per-session dispatch state after the session closes
func (d *Dispatcher) Forget(sessionID string) {
	d.limiter.Forget(sessionID)
}

// CleanupLimiter removes idle rate limiter entries
func (d *Dispatcher) CleanupLimiter() {
	d.limiter.Cleanup()
}

// HandleFrame processes one frame of a live session. Unknown sessions return
// session.ErrSessionNotFound with nothing emitted; frames for a session that
// no longer accepts are dropped silently. Every other rejection is emitted to
// the session as an error event and returned without touching session state.
func (d *Dispatcher) HandleFrame(ctx context.Context, req types.FrameRequest) error {
	s, ok := d.registry.Get(req.SessionID)
	if !ok {
		return session.ErrSessionNotFound
	}
	if !s.Accepting() {
		d.metrics.IncrementDropped()
		return nil
	}

	if !d.Ready(s.Kind) {
		d.reject(s, req, ErrClassifierUnavailable)
		return ErrClassifierUnavailable
	}
	if !d.limiter.Allow(s.ID) {
		d.metrics.IncrementRateLimited()
		d.reject(s, req, ErrRateLimitExceeded)
		return ErrRateLimitExceeded
	}
	img, err := DecodeImage(req.Image)
	if err != nil {
		d.reject(s, req, err)
		return err
	}

	start := time.Now()
	err = s.Process(func(s *session.Session) error {
		index := s.FrameIndex()
		if req.FrameIndex != nil {
			index = *req.FrameIndex
		}
		switch s.Kind {
		case types.KindFace:
			return d.handleFace(ctx, s, req, index, img)
		case types.KindLiveness:
			return d.handleLiveness(ctx, s, req, img)
		case types.KindPavement:
			return d.handlePavement(ctx, s, req, index, img)
		default:
			return types.ErrInvalidKind
		}
	})
	if errors.Is(err, session.ErrSessionNotAccepting) {
		d.metrics.IncrementDropped()
		return nil
	}
	d.metrics.ObserveFrame(time.Since(start))
	return err
}

func (d *Dispatcher) handleFace(ctx context.Context, s *session.Session, req types.FrameRequest, index int, img []byte) error {
	switch r := d.classify(ctx, s, img).(type) {
	case types.Failed:
		d.failed(s, req, r.Message)
		return nil

	case types.NoFace:
		d.noFace(ctx, s, req)
		return nil

	case types.Detected:
		primary, ok := r.Primary()
		if !ok {
			d.noFace(ctx, s, req)
			return nil
		}
		d.echoBoxes(s, req, r.Detections)

		label := primary.Label
		if label == "" {
			label = types.LabelUnknown
		}
		s.Consensus.Observe(label, time.Now())
		verdict, decided := s.Consensus.TryVerdict()
		if !decided {
			d.emit(s, req, &types.Event{
				Type:       types.EventFaceResult,
				Success:    true,
				Message:    "awaiting consensus",
				Detections: r.Detections,
			})
			d.record(ctx, s, nil)
			return nil
		}

		d.metrics.IncrementVerdicts()
		alarming := types.IsAlertLabel(verdict)
		if alarming {
			d.logger.Warn("alert identity verdict",
				"session_id", s.ID, "verdict", verdict, "frame_index", index)
		}
		d.emit(s, req, &types.Event{
			Type:       types.EventFaceResult,
			Success:    true,
			Message:    fmt.Sprintf("identified: %s", verdict),
			Verdict:    verdict,
			Alert:      alarming,
			Detections: r.Detections,
		})
		d.record(ctx, s, alert.FaceFrame(index, verdict, primary, img))
		return nil

	default:
		d.failed(s, req, "unrecognized classifier result")
		return nil
	}
}

func (d *Dispatcher) noFace(ctx context.Context, s *session.Session, req types.FrameRequest) {
	d.emit(s, req, &types.Event{
		Type:    types.EventFaceResult,
		Success: false,
		Message: "no face detected",
	})
	d.record(ctx, s, nil)
}

func (d *Dispatcher) handleLiveness(ctx context.Context, s *session.Session, req types.FrameRequest, img []byte) error {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	points, err := d.landmarks.ExtractLandmarks(cctx, img)
	cancel()
	if err != nil {
		d.failed(s, req, capabilityMessage("landmark extraction", err))
		return nil
	}

	if points == nil {
		current := s.Liveness.Progress()
		d.emit(s, req, &types.Event{
			Type:     types.EventLivenessProgress,
			Success:  false,
			Message:  "no face detected",
			Liveness: &current,
		})
		return nil
	}

	progress, err := s.Liveness.Update(points)
	if err != nil {
		d.failed(s, req, err.Error())
		return nil
	}
	if progress.Passed {
		d.metrics.IncrementLivenessPasses()
		d.logger.Info("liveness challenge passed", "session_id", s.ID)
	}
	d.emit(s, req, &types.Event{
		Type:     types.EventLivenessProgress,
		Success:  true,
		Message:  progress.NextAction,
		Liveness: &progress,
	})
	d.record(ctx, s, nil)
	return nil
}

func (d *Dispatcher) handlePavement(ctx context.Context, s *session.Session, req types.FrameRequest, index int, img []byte) error {
	var detections []types.Detection
	switch r := d.classify(ctx, s, img).(type) {
	case types.Failed:
		d.failed(s, req, r.Message)
		return nil
	case types.NoFace:
	case types.Detected:
		detections = r.Detections
	default:
		d.failed(s, req, "unrecognized classifier result")
		return nil
	}

	d.echoBoxes(s, req, detections)

	frame := alert.PavementFrame(index, detections, img)
	d.emit(s, req, &types.Event{
		Type:       types.EventPavementResult,
		Success:    true,
		Message:    fmt.Sprintf("%d detections", len(detections)),
		Detections: detections,
		Alert:      frame != nil,
	})
	d.record(ctx, s, frame)
	return nil
}

// classify calls the classifier with the configured timeout; transport
// errors and timeouts become Failed results
func (d *Dispatcher) classify(ctx context.Context, s *session.Session, img []byte) types.Result {
	cctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := d.classifier.Classify(cctx, s.Kind, img)
	if err != nil {
		d.logger.Warn("classifier call failed", "session_id", s.ID, "kind", s.Kind, "error", err)
		return types.Failed{Message: capabilityMessage("classification", err)}
	}
	if res == nil {
		return types.Failed{Message: "classifier returned no result"}
	}
	return res
}

func capabilityMessage(what string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return what + " timed out"
	}
	return fmt.Sprintf("%s failed: %v", what, err)
}

// echoBoxes emits the detections that carry a bounding box ahead of the
// rest of the pipeline
func (d *Dispatcher) echoBoxes(s *session.Session, req types.FrameRequest, detections []types.Detection) {
	var boxed []types.Detection
	for _, det := range detections {
		if det.BBox != nil {
			boxed = append(boxed, det)
		}
	}
	if len(boxed) == 0 {
		return
	}
	d.emit(s, req, &types.Event{
		Type:       types.EventDetections,
		Success:    true,
		Detections: boxed,
	})
}

// record opens the alert record on first use and counts the frame
func (d *Dispatcher) record(ctx context.Context, s *session.Session, frame *types.AlertFrame) {
	// failures are logged by the alert manager; the stream keeps going
	if err := d.alerts.EnsureOpen(ctx, s.Alert); err != nil {
		d.logger.Debug("alert session not open yet", "session_id", s.ID, "error", err)
	}
	if err := d.alerts.RecordFrame(ctx, s.Alert, frame); err == nil && frame != nil {
		d.metrics.IncrementAlertFrames()
	}
}

func (d *Dispatcher) failed(s *session.Session, req types.FrameRequest, message string) {
	d.metrics.IncrementErrors()
	d.emit(s, req, &types.Event{
		Type:    types.EventError,
		Success: false,
		Message: message,
	})
}

func (d *Dispatcher) reject(s *session.Session, req types.FrameRequest, err error) {
	d.failed(s, req, err.Error())
}

func (d *Dispatcher) emit(s *session.Session, req types.FrameRequest, event *types.Event) {
	event.RequestID = req.RequestID
	event.FrameIndex = req.FrameIndex
	if err := s.Emit(event); err != nil {
		d.logger.Debug("event not delivered", "session_id", s.ID, "type", event.Type, "error", err)
	}
}
