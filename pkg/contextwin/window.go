// Package contextwin holds the bounded history of recent observations.
package contextwin

import (
	"strings"

	"github.com/nstogner/companion/pkg/domain"
)

const (
	// SummaryEntries is how many of the newest entries Summary renders.
	SummaryEntries = 5

	// NoActivity is returned by Summary for an empty window.
	NoActivity = "No recent activity recorded."

	noVisualSummary = "No visual summary"
)

// Window is a fixed-capacity FIFO of context entries, oldest first.
// It is not safe for concurrent use; the controller serializes access.
type Window struct {
	capacity int
	entries  []domain.ContextEntry
}

// New returns an empty window holding at most capacity entries.
// A non-positive capacity is treated as 1.
func New(capacity int) *Window {
	if capacity < 1 {
		capacity = 1
	}
	return &Window{
		capacity: capacity,
		entries:  make([]domain.ContextEntry, 0, capacity+1),
	}
}

// Append adds e as the newest entry, evicting the oldest entry when the
// window is over capacity. A timestamp older than the current newest entry
// is raised to it so the sequence stays non-decreasing.
func (w *Window) Append(e domain.ContextEntry) {
	if n := len(w.entries); n > 0 && e.Timestamp.Before(w.entries[n-1].Timestamp) {
		e.Timestamp = w.entries[n-1].Timestamp
	}
	w.entries = append(w.entries, e)
	if len(w.entries) > w.capacity {
		// Shift rather than reslice so the backing array does not grow forever.
		copy(w.entries, w.entries[1:])
		w.entries = w.entries[:w.capacity]
	}
}

// Len returns the number of entries held.
func (w *Window) Len() int { return len(w.entries) }

// Capacity returns the configured maximum.
func (w *Window) Capacity() int { return w.capacity }

// Entries returns a copy of the entries, oldest first.
func (w *Window) Entries() []domain.ContextEntry {
	out := make([]domain.ContextEntry, len(w.entries))
	copy(out, w.entries)
	return out
}

// Summary renders up to the SummaryEntries newest entries, one per line:
//
//	[HH:MM] <class>-<title>: <vision summary>
func (w *Window) Summary() string {
	if len(w.entries) == 0 {
		return NoActivity
	}
	start := len(w.entries) - SummaryEntries
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for i, e := range w.entries[start:] {
		if i > 0 {
			b.WriteByte('\n')
		}
		vision := e.VisionSummary
		if vision == "" {
			vision = noVisualSummary
		}
		b.WriteString("[" + e.Timestamp.Format("15:04") + "] ")
		b.WriteString(e.ClassName + "-" + e.WindowTitle + ": " + vision)
	}
	return b.String()
}
