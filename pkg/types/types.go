package types

import (
	"time"
)

// StreamKind selects the per-frame pipeline a session runs
type StreamKind string

// ARCHITECTURAL DISCOVERY: Stream kinds fixed at compile time so every
// pipeline switch in the dispatcher can be exhaustive
const (
	KindFace     StreamKind = "face"
	KindLiveness StreamKind = "liveness"
	KindPavement StreamKind = "pavement"
)

// Labels the model service emits with special meaning for the engine
const (
	LabelStranger = "stranger"
	LabelDeepfake = "deepfake"
	LabelUnknown  = "unknown"
)

// Inbound event types read from a stream connection
const (
	InboundFrame = "frame"
	InboundEnd   = "end"
	InboundStart = "start"
)

// Outbound event types written to a stream connection
const (
	EventSessionOpened    = "session_opened"
	EventDetections       = "detections"
	EventFaceResult       = "face_result"
	EventLivenessProgress = "liveness_progress"
	EventPavementResult   = "pavement_result"
	EventError            = "error"
	EventStreamEnd        = "stream_end"
)

// BBox is an axis-aligned box in image pixels: [x1, y1, x2, y2]
type BBox [4]float64

// Point is a single landmark coordinate
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Detection is one labeled region reported by the classifier
// FUNCTIONAL DISCOVERY: Score is a distance for face matches and a confidence
// for object detections; nil when the model could not compute one
type Detection struct {
	Label string   `json:"label"`
	Score *float64 `json:"score,omitempty"`
	BBox  *BBox    `json:"bbox,omitempty"`
}

// Result is the outcome of classifying one frame.
// Exactly one of Detected, NoFace, Failed.
type Result interface {
	isResult()
}

// Detected carries zero or more detections. An empty list means the model
// ran successfully and found nothing (pavement frames with no damage).
type Detected struct {
	Detections []Detection
}

// NoFace reports that no face was present in the frame
type NoFace struct{}

// Failed reports a classifier-side processing error for this frame only
type Failed struct {
	Message string
}

func (Detected) isResult() {}
func (NoFace) isResult()   {}
func (Failed) isResult()   {}

// Primary returns the first detection, if any
func (d Detected) Primary() (Detection, bool) {
	if len(d.Detections) == 0 {
		return Detection{}, false
	}
	return d.Detections[0], true
}

// Inbound is a client message on the stream connection
type Inbound struct {
	Type       string     `json:"type"`
	Image      string     `json:"image,omitempty"`
	FrameIndex *int       `json:"frame_index,omitempty"`
	RequestID  string     `json:"request_id,omitempty"`
	Kind       StreamKind `json:"kind,omitempty"`
}

// FrameRequest is one inbound frame bound to its session
type FrameRequest struct {
	SessionID  string
	Image      string
	FrameIndex *int
	RequestID  string
}

// Event is a server message on the stream connection
// ARCHITECTURAL DISCOVERY: One flat envelope for every outbound type keeps
// transport framing out of the engine; unused fields are omitted
type Event struct {
	Type       string            `json:"type"`
	SessionID  string            `json:"session_id"`
	Kind       StreamKind        `json:"kind,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
	FrameIndex *int              `json:"frame_index,omitempty"`
	Success    bool              `json:"success"`
	Message    string            `json:"message,omitempty"`
	Detections []Detection       `json:"detections,omitempty"`
	Verdict    string            `json:"verdict,omitempty"`
	Alert      bool              `json:"alert,omitempty"`
	Liveness   *LivenessProgress `json:"liveness,omitempty"`
	Summary    *StreamSummary    `json:"summary,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// LivenessCounters are the raw gesture counters of a liveness challenge
type LivenessCounters struct {
	ClosedEyeFrames int  `json:"closed_eye_frames"`
	Blinks          int  `json:"blinks"`
	OpenMouthFrames int  `json:"open_mouth_frames"`
	MouthOpens      int  `json:"mouth_opens"`
	TurnLeftFrames  int  `json:"turn_left_frames"`
	TurnRightFrames int  `json:"turn_right_frames"`
	HeadTurns       int  `json:"head_turns"`
	Nodding         bool `json:"nodding"`
	Nods            int  `json:"nods"`
}

// LivenessProgress is reported after every liveness frame
type LivenessProgress struct {
	Progress   int              `json:"progress"`
	NextAction string           `json:"next_action"`
	Passed     bool             `json:"passed"`
	Counters   LivenessCounters `json:"counters"`
}

// StreamSummary is attached to the stream-end acknowledgement
type StreamSummary struct {
	AlertSessionID string `json:"alert_session_id,omitempty"`
	TotalFrames    int    `json:"total_frames"`
	AlertFrames    int    `json:"alert_frames"`
	Kept           bool   `json:"kept"`
}

// AlertFrame is the payload appended to an alert session
type AlertFrame struct {
	FrameIndex int
	Label      string
	Confidence float64
	Image      []byte
	BBoxes     []BBox
}

// AlertSessionRecord is a persisted alert session
type AlertSessionRecord struct {
	ID              string     `json:"id"`
	Kind            StreamKind `json:"kind"`
	Name            string     `json:"name"`
	SaveDir         string     `json:"save_dir"`
	TotalFrames     int        `json:"total_frames"`
	AlertFrameCount int        `json:"alert_frame_count"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	FinalizedAt     *time.Time `json:"finalized_at,omitempty"`
}

// AlertFrameRecord is a persisted alert frame
type AlertFrameRecord struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	FrameIndex int       `json:"frame_index"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	BBoxes     []BBox    `json:"bboxes,omitempty"`
	ImagePath  string    `json:"image_path"`
	Checksum   string    `json:"checksum"`
	CreatedAt  time.Time `json:"created_at"`
}

// Alert session status values
const (
	AlertStatusOpen  = "open"
	AlertStatusFinal = "final"
)

// AlertQuery filters alert session listings
type AlertQuery struct {
	Kind    StreamKind
	Page    int
	PerPage int
}

// SessionSnapshot is a read-only view of a live stream session
type SessionSnapshot struct {
	ID             string     `json:"id"`
	Kind           StreamKind `json:"kind"`
	Accepting      bool       `json:"accepting"`
	CreatedAt      time.Time  `json:"created_at"`
	FramesSeen     int        `json:"frames_seen"`
	AlertSessionID string     `json:"alert_session_id,omitempty"`
	AlertFrames    int        `json:"alert_frames"`
}
