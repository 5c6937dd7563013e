package trace

import (
	"sync"
	"time"
)

// Entry is one step of an acquisition run.
type Entry struct {
	Step string         `json:"step"`
	At   time.Time      `json:"timestamp"`
	Data map[string]any `json:"data,omitempty"`
}

// Recorder accumulates entries for a single run. Entries are only ever appended.
//
// A Recorder is safe for concurrent use, although lanes record sequentially in practice.
type Recorder struct {
	now func() time.Time

	mu      sync.Mutex
	entries []Entry
}

// NewRecorder returns a Recorder stamped with the wall clock.
func NewRecorder() *Recorder {
	return &Recorder{now: time.Now}
}

// NewRecorderWithClock returns a Recorder stamped by now. Tests use it for stable timestamps.
func NewRecorderWithClock(now func() time.Time) *Recorder {
	if now == nil {
		now = time.Now
	}
	return &Recorder{now: now}
}

// Add appends a step. data may be nil.
func (r *Recorder) Add(step string, data map[string]any) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, Entry{Step: step, At: r.now().UTC(), Data: data})
}

// Append copies already-recorded entries onto the end of r, preserving their order.
func (r *Recorder) Append(entries ...Entry) {
	if r == nil || len(entries) == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

// Entries returns a snapshot.
func (r *Recorder) Entries() []Entry {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of recorded entries.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Steps returns the step names in order.
func Steps(entries []Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Step)
	}
	return out
}
