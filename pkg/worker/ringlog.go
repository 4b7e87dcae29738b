package worker

import "sync"

// RingLog is a small tail-bounded append-only log buffer backing
// worker_log (spec.md §3.3): once full, the oldest line is dropped to
// make room for the newest.
type RingLog struct {
	mu    sync.Mutex
	lines []string
	cap   int
}

// NewRingLog constructs a buffer holding at most capacity lines.
func NewRingLog(capacity int) *RingLog {
	if capacity <= 0 {
		capacity = 200
	}
	return &RingLog{cap: capacity}
}

// Append adds line, evicting the oldest entry if the buffer is full.
func (r *RingLog) Append(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if len(r.lines) > r.cap {
		r.lines = r.lines[len(r.lines)-r.cap:]
	}
}

// Lines returns a snapshot of the buffered lines, oldest first.
func (r *RingLog) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
