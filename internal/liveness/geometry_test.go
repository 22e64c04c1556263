package liveness

import (
	"math"
	"testing"

	"perceptor/internal/liveness/facetest"
	"perceptor/pkg/types"
)

func near(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestMeasure_RejectsWrongPointCount(t *testing.T) {
	if _, err := Measure(make([]types.Point, 10)); err != ErrLandmarkCount {
		t.Errorf("Expected ErrLandmarkCount, got %v", err)
	}
}

func TestMeasure_AspectRatios(t *testing.T) {
	open, err := Measure(facetest.Face(facetest.Neutral))
	if err != nil {
		t.Fatalf("Measure failed: %v", err)
	}
	if !near(open.EAR, 0.4) {
		t.Errorf("Expected open EAR 0.4, got %f", open.EAR)
	}
	if !near(open.MAR, 0.1) {
		t.Errorf("Expected closed MAR 0.1, got %f", open.MAR)
	}

	gesture, _ := Measure(facetest.Face(facetest.Pose{EyesClosed: true, MouthOpen: true}))
	if !near(gesture.EAR, 0.1) {
		t.Errorf("Expected closed EAR 0.1, got %f", gesture.EAR)
	}
	if !near(gesture.MAR, 0.75) {
		t.Errorf("Expected open MAR 0.75, got %f", gesture.MAR)
	}
}

func TestMeasure_HeadTurnSides(t *testing.T) {
	straight, _ := Measure(facetest.Face(facetest.Neutral))
	if straight.turnedLeft() || straight.turnedRight() {
		t.Error("Straight face must not register a turn")
	}

	left, _ := Measure(facetest.Face(facetest.Pose{Turn: 1}))
	if !left.turnedLeft() || left.turnedRight() {
		t.Errorf("Expected left turn only: %+v", left)
	}

	right, _ := Measure(facetest.Face(facetest.Pose{Turn: -1}))
	if !right.turnedRight() || right.turnedLeft() {
		t.Errorf("Expected right turn only: %+v", right)
	}
}

func TestMeasure_Nod(t *testing.T) {
	straight, _ := Measure(facetest.Face(facetest.Neutral))
	if straight.nodDown() {
		t.Error("Straight face must not register a nod")
	}
	down, _ := Measure(facetest.Face(facetest.Pose{Nod: true}))
	if !down.nodDown() {
		t.Errorf("Expected nod geometry: %+v", down)
	}
}
