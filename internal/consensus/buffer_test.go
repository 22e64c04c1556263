package consensus

import (
	"testing"
	"time"
)

var base = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func TestBuffer_DefaultWindow(t *testing.T) {
	b := NewBuffer(0)
	if b.Window() != DefaultWindow {
		t.Errorf("Expected window %v, got %v", DefaultWindow, b.Window())
	}
}

func TestBuffer_VerdictAfterThreeAgreeingLabels(t *testing.T) {
	b := NewBuffer(2 * time.Second)
	labels := []string{"A", "B", "A", "A", "A"}

	for i, label := range labels {
		b.Observe(label, at(time.Duration(i)*100*time.Millisecond))
		verdict, ok := b.TryVerdict()

		if i < len(labels)-1 {
			if ok {
				t.Fatalf("Unexpected verdict %q after label %d", verdict, i+1)
			}
			continue
		}

		if !ok || verdict != "A" {
			t.Fatalf("Expected verdict A after 5th label, got %q (ok=%v)", verdict, ok)
		}
	}

	if b.Len() != 0 {
		t.Errorf("Buffer should be empty after verdict, has %d entries", b.Len())
	}
}

func TestBuffer_NoVerdictWithFewerThanThree(t *testing.T) {
	b := NewBuffer(time.Second)
	b.Observe("A", at(0))
	b.Observe("A", at(10*time.Millisecond))

	if _, ok := b.TryVerdict(); ok {
		t.Error("Two labels must not produce a verdict")
	}
	if b.Len() != 2 {
		t.Errorf("Failed verdict attempt must not clear buffer, has %d", b.Len())
	}
}

func TestBuffer_VerdictIffLastThreeIdentical(t *testing.T) {
	tests := []struct {
		labels []string
		want   bool
	}{
		{[]string{"A", "A", "A"}, true},
		{[]string{"A", "A", "B"}, false},
		{[]string{"B", "A", "A", "A"}, true},
		{[]string{"A", "A", "B", "A"}, false},
		{[]string{"A", "B", "C"}, false},
	}

	for _, tt := range tests {
		b := NewBuffer(10 * time.Second)
		for i, label := range tt.labels {
			b.Observe(label, at(time.Duration(i)*time.Millisecond))
		}
		_, ok := b.TryVerdict()
		if ok != tt.want {
			t.Errorf("labels %v: expected verdict=%v, got %v", tt.labels, tt.want, ok)
		}
	}
}

func TestBuffer_EvictsStaleEntries(t *testing.T) {
	b := NewBuffer(2 * time.Second)
	b.Observe("A", at(0))
	b.Observe("A", at(500*time.Millisecond))

	// Third label arrives well after the first two expired
	b.Observe("A", at(3*time.Second))

	if b.Len() != 1 {
		t.Fatalf("Expected 1 live entry, got %d", b.Len())
	}
	if _, ok := b.TryVerdict(); ok {
		t.Error("Stale entries must not contribute to a verdict")
	}
}

func TestBuffer_EntryExactlyOneWindowOldIsEvicted(t *testing.T) {
	b := NewBuffer(2 * time.Second)
	b.Observe("A", at(0))
	b.Observe("A", at(time.Second))
	b.Observe("A", at(2*time.Second))

	if b.Len() != 2 {
		t.Fatalf("Entry at now-W should be evicted, have %d entries", b.Len())
	}
	if _, ok := b.TryVerdict(); ok {
		t.Error("Verdict must not include an entry exactly one window old")
	}
}

func TestBuffer_EntryJustInsideWindowKept(t *testing.T) {
	b := NewBuffer(2 * time.Second)
	b.Observe("A", at(0))
	b.Observe("A", at(time.Second))
	b.Observe("A", at(2*time.Second-time.Millisecond))

	verdict, ok := b.TryVerdict()
	if !ok || verdict != "A" {
		t.Errorf("Expected verdict A, got %q (ok=%v)", verdict, ok)
	}
}

func TestBuffer_Pending(t *testing.T) {
	b := NewBuffer(time.Second)
	if b.Pending() != 0 {
		t.Errorf("Empty buffer pending should be 0, got %d", b.Pending())
	}

	b.Observe("A", at(0))
	b.Observe("B", at(time.Millisecond))
	b.Observe("B", at(2*time.Millisecond))

	if b.Pending() != 2 {
		t.Errorf("Expected 2 pending agreeing labels, got %d", b.Pending())
	}
}

func TestBuffer_VerdictNotRepeated(t *testing.T) {
	b := NewBuffer(2 * time.Second)
	for i := 0; i < 3; i++ {
		b.Observe("A", at(time.Duration(i)*100*time.Millisecond))
	}
	if _, ok := b.TryVerdict(); !ok {
		t.Fatal("Expected first verdict")
	}

	b.Observe("A", at(400*time.Millisecond))
	if _, ok := b.TryVerdict(); ok {
		t.Error("A single new label after a verdict must not re-emit it")
	}
}
