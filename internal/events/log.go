package events

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Entry is one line of the shared operation log.
type Entry struct {
	Seq  uint64    `json:"seq"`
	Time time.Time `json:"time"`
	Line string    `json:"line"`
}

// Log is the append-only operator log shared by every operation. Appends are
// atomic; entries are never reordered or edited, only cleared as a whole.
type Log struct {
	mu      sync.RWMutex
	entries []Entry
	next    uint64
	now     func() time.Time
}

// NewLog returns an empty log.
func NewLog() *Log {
	return &Log{next: 1, now: time.Now}
}

// Append adds line and returns the stored entry.
func (l *Log) Append(line string) Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := Entry{Seq: l.next, Time: l.now(), Line: line}
	l.next++
	l.entries = append(l.entries, e)
	return e
}

// Since returns the entries whose sequence number is greater than seq.
func (l *Log) Since(seq uint64) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	// Sequence numbers are dense from the first retained entry.
	if len(l.entries) == 0 {
		return nil
	}
	first := l.entries[0].Seq
	idx := 0
	if seq >= first {
		idx = int(seq - first + 1)
	}
	if idx >= len(l.entries) {
		return nil
	}
	return append([]Entry(nil), l.entries[idx:]...)
}

// Lines returns every retained line in append order.
func (l *Log) Lines() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Line
	}
	return out
}

// Len reports the number of retained entries.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// Clear drops every entry. Sequence numbers keep increasing so pollers that
// remember a position never see old numbers reused.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// WriteTo writes the log as plain text, one line per entry.
func (l *Log) WriteTo(w io.Writer) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, e := range l.entries {
		n, err := fmt.Fprintln(w, e.Line)
		total += int64(n)
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
