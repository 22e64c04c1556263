package alert

import (
	"math"

	"perceptor/pkg/types"
)

// DefaultFaceConfidence is persisted when the model reported no distance
const DefaultFaceConfidence = 0.1

// FaceConfidence converts a face-match distance into the persisted alert
// confidence: 1 - distance, rounded to three decimals and clamped to [0, 1].
// FUNCTIONAL DISCOVERY: Face scores are distances (lower is closer) while
// every other alert stores a confidence, so history stays comparable
func FaceConfidence(distance *float64) float64 {
	if distance == nil {
		return DefaultFaceConfidence
	}
	c := math.Round((1-*distance)*1000) / 1000
	return math.Max(0, math.Min(1, c))
}

// FaceFrame returns the alert frame for a face verdict, or nil when the
// verdict label does not warrant an alert
func FaceFrame(frameIndex int, verdict string, primary types.Detection, image []byte) *types.AlertFrame {
	if !types.IsAlertLabel(verdict) {
		return nil
	}
	frame := &types.AlertFrame{
		FrameIndex: frameIndex,
		Label:      verdict,
		Confidence: FaceConfidence(primary.Score),
		Image:      image,
	}
	if primary.BBox != nil {
		frame.BBoxes = []types.BBox{*primary.BBox}
	}
	return frame
}

// PavementFrame returns the alert frame for a pavement frame, or nil when
// the frame has no detections. The first detection names the frame; every
// box is kept.
func PavementFrame(frameIndex int, detections []types.Detection, image []byte) *types.AlertFrame {
	if len(detections) == 0 {
		return nil
	}
	first := detections[0]
	frame := &types.AlertFrame{
		FrameIndex: frameIndex,
		Label:      first.Label,
		Image:      image,
	}
	if first.Score != nil {
		frame.Confidence = *first.Score
	}
	for _, d := range detections {
		if d.BBox != nil {
			frame.BBoxes = append(frame.BBoxes, *d.BBox)
		}
	}
	return frame
}
