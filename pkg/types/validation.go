package types

// ParseKind validates a stream kind string
func ParseKind(s string) (StreamKind, error) {
	kind := StreamKind(s)
	if !kind.Valid() {
		return "", ErrInvalidKind
	}
	return kind, nil
}

// Valid reports whether k is a known stream kind
func (k StreamKind) Valid() bool {
	switch k {
	case KindFace, KindLiveness, KindPavement:
		return true
	default:
		return false
	}
}

// KeepsAlerts reports whether streams of this kind own an alert session.
// Liveness challenges never persist frames.
func (k StreamKind) KeepsAlerts() bool {
	return k == KindFace || k == KindPavement
}

// Validate checks the envelope fields of an inbound message
// FUNCTIONAL DISCOVERY: Image payload is checked by the dispatcher, not here,
// so malformed images surface as per-frame errors rather than protocol errors
func (in *Inbound) Validate() error {
	switch in.Type {
	case InboundFrame:
		if in.FrameIndex != nil && *in.FrameIndex < 0 {
			return ErrInvalidFrameIdx
		}
		if len(in.RequestID) > 64 {
			return ErrInvalidRequestID
		}
		return nil
	case InboundEnd:
		return nil
	case InboundStart:
		if !in.Kind.Valid() {
			return ErrInvalidKind
		}
		return nil
	default:
		return ErrInvalidEventType
	}
}

// IsAlertLabel reports whether a face verdict label should raise an alert
func IsAlertLabel(label string) bool {
	return label == LabelStranger || label == LabelDeepfake
}

// Alert listing page bounds
const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// Normalize clamps paging to sane bounds and returns the row offset
func (q *AlertQuery) Normalize() int {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PerPage <= 0 {
		q.PerPage = DefaultPerPage
	}
	if q.PerPage > MaxPerPage {
		q.PerPage = MaxPerPage
	}
	return (q.Page - 1) * q.PerPage
}
