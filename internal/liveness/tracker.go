// Package liveness drives the blink / mouth / head-turn / nod challenge.
package liveness

import (
	"fmt"

	"perceptor/pkg/types"
)

// Thresholds and targets of the challenge
const (
	EyeAspectThreshold   = 0.27
	EyeConsecutiveFrames = 2
	MouthAspectThreshold = 0.5
	HeadTurnMargin       = 2.0
	NodMargin            = 3.0

	BlinkTarget     = 5
	MouthOpenTarget = 3
	HeadTurnTarget  = 2
	NodTarget       = 2

	stageWeight = 25
)

// PassedAction is the prompt once every stage is complete
const PassedAction = "Liveness check passed"

// Tracker holds the gesture counters of one session's challenge.
// Not safe for concurrent use; the owning session serializes access.
type Tracker struct {
	c types.LivenessCounters
}

// NewTracker returns a tracker at the start of a challenge
func NewTracker() *Tracker {
	return &Tracker{}
}

// Update folds one frame's landmarks into the counters and returns the
// progress after the frame. Counters accrue for every gesture each frame
// regardless of which stage is prompted. Reaching 100% clears the counters
// so the next frame starts a fresh challenge.
func (t *Tracker) Update(points []types.Point) (types.LivenessProgress, error) {
	g, err := Measure(points)
	if err != nil {
		return t.Progress(), err
	}

	t.apply(g)

	progress := t.Progress()
	if progress.Passed {
		t.Reset()
	}
	return progress, nil
}

func (t *Tracker) apply(g Geometry) {
	c := &t.c

	// blink counts on reopening after enough closed frames
	if g.EAR < EyeAspectThreshold {
		c.ClosedEyeFrames++
	} else {
		if c.ClosedEyeFrames >= EyeConsecutiveFrames {
			c.Blinks++
		}
		c.ClosedEyeFrames = 0
	}

	// mouth-open counts on the closing transition
	if g.MAR > MouthAspectThreshold {
		c.OpenMouthFrames++
	} else {
		if c.OpenMouthFrames != 0 {
			c.MouthOpens++
		}
		c.OpenMouthFrames = 0
	}

	// a head turn needs both sides seen before it counts
	if g.turnedLeft() {
		c.TurnLeftFrames++
	}
	if g.turnedRight() {
		c.TurnRightFrames++
	}
	if c.TurnLeftFrames != 0 && c.TurnRightFrames != 0 {
		c.HeadTurns++
		c.TurnLeftFrames = 0
		c.TurnRightFrames = 0
	}

	// nod counts when the eyebrow rises back above the jaw threshold
	if g.nodDown() {
		c.Nodding = true
	} else if c.Nodding {
		c.Nods++
		c.Nodding = false
	}
}

// Progress maps the counters to a percentage and the next prompt
func (t *Tracker) Progress() types.LivenessProgress {
	c := t.c
	p := types.LivenessProgress{Counters: c}

	switch {
	case c.Blinks < BlinkTarget:
		p.Progress = stageProgress(0, c.Blinks, BlinkTarget)
		p.NextAction = fmt.Sprintf("Please blink (%d/%d)", c.Blinks, BlinkTarget)
	case c.MouthOpens < MouthOpenTarget:
		p.Progress = stageProgress(1, c.MouthOpens, MouthOpenTarget)
		p.NextAction = fmt.Sprintf("Please open your mouth (%d/%d)", c.MouthOpens, MouthOpenTarget)
	case c.HeadTurns < HeadTurnTarget:
		p.Progress = stageProgress(2, c.HeadTurns, HeadTurnTarget)
		p.NextAction = fmt.Sprintf("Please turn your head left and right (%d/%d)", c.HeadTurns, HeadTurnTarget)
	case c.Nods < NodTarget:
		p.Progress = stageProgress(3, c.Nods, NodTarget)
		p.NextAction = fmt.Sprintf("Please nod (%d/%d)", c.Nods, NodTarget)
	default:
		p.Progress = 100
		p.NextAction = PassedAction
		p.Passed = true
	}
	return p
}

func stageProgress(stage, done, target int) int {
	return stage*stageWeight + done*stageWeight/target
}

// Counters returns a copy of the raw counters
func (t *Tracker) Counters() types.LivenessCounters {
	return t.c
}

// Reset starts a fresh challenge
func (t *Tracker) Reset() {
	t.c = types.LivenessCounters{}
}
