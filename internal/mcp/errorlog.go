package mcp

import (
	"fmt"
	"sync"
	"time"
)

// errorLogCap bounds how many entries a client retains.
const errorLogCap = 100

// errorLog is a fixed-capacity ring of human-readable failure lines: stderr
// output from process servers, transport faults, and decode errors. Oldest
// entries are dropped first.
type errorLog struct {
	mu      sync.Mutex
	entries []string
	cap     int
}

func newErrorLog() *errorLog {
	return &errorLog{cap: errorLogCap}
}

// Add appends one entry, stamped with the current time.
func (l *errorLog) Add(format string, args ...any) {
	line := fmt.Sprintf("%s %s", time.Now().Format(time.RFC3339), fmt.Sprintf(format, args...))

	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, line)
	if len(l.entries) > l.cap {
		l.entries = l.entries[len(l.entries)-l.cap:]
	}
}

// Snapshot returns a copy of the current entries, oldest first.
func (l *errorLog) Snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the current entry count.
func (l *errorLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
