package syncer

import (
	"fmt"
	"sync"
	"time"
)

// errorLog keeps the most recent engine errors for the status surface and
// diagnostic payloads.
type errorLog struct {
	mu      sync.Mutex
	entries []string
	max     int
}

func newErrorLog(max int) *errorLog {
	return &errorLog{max: max}
}

func (l *errorLog) Record(at time.Time, err error) {
	if err == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, fmt.Sprintf("%s %v", at.UTC().Format(time.RFC3339), err))
	if len(l.entries) > l.max {
		l.entries = l.entries[len(l.entries)-l.max:]
	}
}

func (l *errorLog) Recent() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.entries))
	copy(out, l.entries)
	return out
}
