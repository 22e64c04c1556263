// Package consensus debounces per-frame identity labels into stable verdicts.
package consensus

import "time"

// DefaultWindow is how long a label stays eligible for a verdict.
// Historical deployments used both 1s and 2s; 2s is the value in effect.
const DefaultWindow = 2 * time.Second

// RequiredAgreement is how many most-recent labels must match
const RequiredAgreement = 3

type entry struct {
	at    time.Time
	label string
}

// Buffer is a sliding time window over recent labels of one session.
// It is not safe for concurrent use; the owning session serializes access.
type Buffer struct {
	window  time.Duration
	entries []entry // oldest first
}

// NewBuffer creates a buffer; a non-positive window selects DefaultWindow
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window:  window,
		entries: make([]entry, 0, RequiredAgreement*2),
	}
}

// Observe appends a label seen at now and evicts stale entries.
// An entry exactly one window old is stale.
func (b *Buffer) Observe(label string, now time.Time) {
	b.entries = append(b.entries, entry{at: now, label: label})
	b.evict(now)
}

func (b *Buffer) evict(now time.Time) {
	drop := 0
	for drop < len(b.entries) && now.Sub(b.entries[drop].at) >= b.window {
		drop++
	}
	if drop > 0 {
		b.entries = append(b.entries[:0], b.entries[drop:]...)
	}
}

// TryVerdict returns the stable label when the most recent
// RequiredAgreement entries agree, clearing the buffer so the same verdict
// is not emitted again on the next frame.
func (b *Buffer) TryVerdict() (string, bool) {
	n := len(b.entries)
	if n < RequiredAgreement {
		return "", false
	}

	label := b.entries[n-1].label
	for _, e := range b.entries[n-RequiredAgreement:] {
		if e.label != label {
			return "", false
		}
	}

	b.Reset()
	return label, true
}

// Pending returns how many of the trailing entries agree with the newest one
func (b *Buffer) Pending() int {
	n := len(b.entries)
	if n == 0 {
		return 0
	}
	label := b.entries[n-1].label
	count := 0
	for i := n - 1; i >= 0 && b.entries[i].label == label; i-- {
		count++
	}
	return count
}

// Len returns the number of live entries
func (b *Buffer) Len() int {
	return len(b.entries)
}

// Reset drops every entry
func (b *Buffer) Reset() {
	b.entries = b.entries[:0]
}

// Window returns the configured window
func (b *Buffer) Window() time.Duration {
	return b.window
}
