package liveness

import (
	"math"

	"perceptor/pkg/types"
)

// LandmarkCount is the size of the ordered landmark set (68-point layout)
const LandmarkCount = 68

// 68-point layout index ranges, [start, end)
var (
	jawRange         = [2]int{0, 17}
	rightEyeRange    = [2]int{36, 42}
	leftEyeRange     = [2]int{42, 48}
	leftEyebrowRange = [2]int{22, 27}
	noseRange        = [2]int{27, 36}
	mouthRange       = [2]int{48, 68}
)

// Geometry holds the per-frame ratios and distances the challenge uses
type Geometry struct {
	EAR float64 // mean eye aspect ratio of both eyes
	MAR float64 // mouth aspect ratio

	// nose-to-jaw distances at the nose bridge and nose tip
	NoseJawLeftUpper  float64
	NoseJawRightUpper float64
	NoseJawLeftLower  float64
	NoseJawRightLower float64

	// eyebrow-to-jaw-corner distances and jaw width
	EyebrowJawLeft  float64
	EyebrowJawRight float64
	JawWidth        float64
}

func dist(a, b types.Point) float64 {
	return math.Hypot(a.X-b.X, a.Y-b.Y)
}

func part(points []types.Point, r [2]int) []types.Point {
	return points[r[0]:r[1]]
}

// eyeAspectRatio expects the six eye points in contour order
func eyeAspectRatio(eye []types.Point) float64 {
	a := dist(eye[1], eye[5])
	b := dist(eye[2], eye[4])
	c := dist(eye[0], eye[3])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// mouthAspectRatio expects the twenty mouth points in contour order
func mouthAspectRatio(mouth []types.Point) float64 {
	a := dist(mouth[2], mouth[9])
	b := dist(mouth[4], mouth[7])
	c := dist(mouth[0], mouth[6])
	if c == 0 {
		return 0
	}
	return (a + b) / (2.0 * c)
}

// Measure computes the frame geometry from a full landmark set
func Measure(points []types.Point) (Geometry, error) {
	if len(points) != LandmarkCount {
		return Geometry{}, ErrLandmarkCount
	}

	jaw := part(points, jawRange)
	nose := part(points, noseRange)
	brow := part(points, leftEyebrowRange)

	return Geometry{
		EAR: (eyeAspectRatio(part(points, leftEyeRange)) + eyeAspectRatio(part(points, rightEyeRange))) / 2.0,
		MAR: mouthAspectRatio(part(points, mouthRange)),

		NoseJawLeftUpper:  dist(nose[0], jaw[0]),
		NoseJawRightUpper: dist(nose[0], jaw[16]),
		NoseJawLeftLower:  dist(nose[3], jaw[2]),
		NoseJawRightLower: dist(nose[3], jaw[14]),

		EyebrowJawLeft:  dist(brow[2], jaw[0]),
		EyebrowJawRight: dist(brow[2], jaw[16]),
		JawWidth:        dist(jaw[0], jaw[16]),
	}, nil
}

// turnedLeft reports the left-side distances exceeding the right-side ones
// by HeadTurnMargin on both pairs
func (g Geometry) turnedLeft() bool {
	return g.NoseJawLeftUpper >= g.NoseJawRightUpper+HeadTurnMargin &&
		g.NoseJawLeftLower >= g.NoseJawRightLower+HeadTurnMargin
}

func (g Geometry) turnedRight() bool {
	return g.NoseJawRightUpper >= g.NoseJawLeftUpper+HeadTurnMargin &&
		g.NoseJawRightLower >= g.NoseJawLeftLower+HeadTurnMargin
}

// nodDown reports the eyebrow dropping toward the jaw line
func (g Geometry) nodDown() bool {
	return g.EyebrowJawLeft+g.EyebrowJawRight <= g.JawWidth+NodMargin
}
