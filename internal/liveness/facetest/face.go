// Package facetest builds synthetic 68-point landmark sets for tests.
package facetest

import "perceptor/pkg/types"

// Pose selects the gesture a synthetic face shows
type Pose struct {
	EyesClosed bool
	MouthOpen  bool
	Turn       int // -1 right, 0 straight, +1 left
	Nod        bool
}

// Neutral is a straight face with open eyes and a closed mouth
var Neutral = Pose{}

// Face returns a landmark set whose geometry matches the pose:
// EAR 0.4 open / 0.1 closed, MAR 0.1 closed / 0.75 open,
// nose offset of 10px for turns, eyebrow on the jaw line for a nod.
func Face(p Pose) []types.Point {
	pts := make([]types.Point, 68)
	for i := range pts {
		pts[i] = types.Point{X: 100, Y: 100}
	}

	// jaw corners and lower jaw pair
	pts[0] = types.Point{X: 0, Y: 100}
	pts[16] = types.Point{X: 200, Y: 100}
	pts[2] = types.Point{X: 10, Y: 150}
	pts[14] = types.Point{X: 190, Y: 150}

	shift := float64(10 * p.Turn)
	pts[27] = types.Point{X: 100 + shift, Y: 100}
	pts[30] = types.Point{X: 100 + shift, Y: 150}

	browY := 40.0
	if p.Nod {
		browY = 95
	}
	pts[24] = types.Point{X: 100, Y: browY}

	eyeHeight := 12.0
	if p.EyesClosed {
		eyeHeight = 3
	}
	eye(pts[36:42], 60, 80, eyeHeight)
	eye(pts[42:48], 110, 80, eyeHeight)

	mouthHeight := 4.0
	if p.MouthOpen {
		mouthHeight = 30
	}
	mouth(pts[48:68], 80, 170, mouthHeight)

	return pts
}

// eye lays out six points 30px wide so EAR = h / 30
func eye(e []types.Point, x, y, h float64) {
	const w = 30.0
	e[0] = types.Point{X: x, Y: y}
	e[1] = types.Point{X: x + w/3, Y: y - h/2}
	e[2] = types.Point{X: x + 2*w/3, Y: y - h/2}
	e[3] = types.Point{X: x + w, Y: y}
	e[4] = types.Point{X: x + 2*w/3, Y: y + h/2}
	e[5] = types.Point{X: x + w/3, Y: y + h/2}
}

// mouth lays out the points the ratio uses 40px wide so MAR = h / 40
func mouth(m []types.Point, x, y, h float64) {
	const w = 40.0
	m[0] = types.Point{X: x, Y: y}
	m[6] = types.Point{X: x + w, Y: y}
	m[2] = types.Point{X: x + 13, Y: y - h/2}
	m[9] = types.Point{X: x + 13, Y: y + h/2}
	m[4] = types.Point{X: x + 27, Y: y - h/2}
	m[7] = types.Point{X: x + 27, Y: y + h/2}
}

// Blink returns the frames of one counted blink
func Blink() [][]types.Point {
	closed := Face(Pose{EyesClosed: true})
	return [][]types.Point{closed, closed, Face(Neutral)}
}

// MouthOpen returns the frames of one counted mouth opening
func MouthOpen() [][]types.Point {
	return [][]types.Point{Face(Pose{MouthOpen: true}), Face(Neutral)}
}

// HeadTurn returns the frames of one counted left-then-right turn
func HeadTurn() [][]types.Point {
	return [][]types.Point{Face(Pose{Turn: 1}), Face(Pose{Turn: -1}), Face(Neutral)}
}

// Nod returns the frames of one counted nod
func Nod() [][]types.Point {
	return [][]types.Point{Face(Pose{Nod: true}), Face(Neutral)}
}

// Repeat concatenates n copies of a gesture
func Repeat(n int, gesture func() [][]types.Point) [][]types.Point {
	var frames [][]types.Point
	for i := 0; i < n; i++ {
		frames = append(frames, gesture()...)
	}
	return frames
}

// FullChallenge returns frames that complete every stage in order
func FullChallenge() [][]types.Point {
	var frames [][]types.Point
	frames = append(frames, Repeat(5, Blink)...)
	frames = append(frames, Repeat(3, MouthOpen)...)
	frames = append(frames, Repeat(2, HeadTurn)...)
	frames = append(frames, Repeat(2, Nod)...)
	return frames
}
