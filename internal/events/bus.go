// Package events carries progress from background operations to the single
// consumer that owns the shared log and the latest status report.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nkrypt-xyz/bootstrapper/internal/status"
)

// Kind discriminates Event payloads.
type Kind string

const (
	KindLog      Kind = "log"
	KindStatus   Kind = "status"
	KindStarted  Kind = "started"
	KindFinished Kind = "finished"

	kindFlush Kind = "flush"
)

// Event is a typed message from a worker to the consumer.
type Event struct {
	Kind      Kind
	Time      time.Time
	Line      string
	Statuses  []status.ServiceStatus
	Operation string
	// Err is the failure text of a finished operation; empty on success.
	Err string

	ack chan struct{}
}

// Operation summarises the most recent operation seen by the consumer.
type Operation struct {
	Name       string    `json:"name"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt,omitempty"`
	Running    bool      `json:"running"`
	Error      string    `json:"error,omitempty"`
}

// Handler observes events after the consumer has applied them.
type Handler func(Event)

// Bus is a buffered channel of events drained by exactly one Run loop.
// Publishers never touch the log or status cache directly.
type Bus struct {
	ch   chan Event
	done chan struct{}
	once sync.Once

	log *Log

	mu       sync.RWMutex
	statuses []status.ServiceStatus
	last     *Operation
	handlers []Handler
}

// NewBus returns a bus applying log events to log.
func NewBus(log *Log, buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
		log:  log,
	}
}

// OnEvent registers h. Handlers run on the consumer goroutine.
func (b *Bus) OnEvent(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues e. Once the consumer has stopped, events are dropped.
func (b *Bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	select {
	case b.ch <- e:
	case <-b.done:
	}
}

// Line publishes one log line.
func (b *Bus) Line(line string) {
	b.Publish(Event{Kind: KindLog, Line: line})
}

// Linef publishes a formatted log line.
func (b *Bus) Linef(format string, args ...any) {
	b.Line(fmt.Sprintf(format, args...))
}

// Flush blocks until every event published before the call has been
// applied, the consumer has stopped, or ctx is done.
func (b *Bus) Flush(ctx context.Context) {
	ack := make(chan struct{})
	b.Publish(Event{Kind: kindFlush, ack: ack})
	select {
	case <-ack:
	case <-b.done:
	case <-ctx.Done():
	}
}

// PublishStatus publishes a fresh status report.
func (b *Bus) PublishStatus(statuses []status.ServiceStatus) {
	b.Publish(Event{Kind: KindStatus, Statuses: statuses})
}

// Run consumes events until ctx is done, then applies whatever is already
// queued and returns.
func (b *Bus) Run(ctx context.Context) {
	defer b.once.Do(func() { close(b.done) })
	for {
		select {
		case e := <-b.ch:
			b.apply(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-b.ch:
					b.apply(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Bus) apply(e Event) {
	switch e.Kind {
	case kindFlush:
		close(e.ack)
		return
	case KindLog:
		b.log.Append(e.Line)
	case KindStatus:
		b.mu.Lock()
		b.statuses = e.Statuses
		b.mu.Unlock()
	case KindStarted:
		b.mu.Lock()
		b.last = &Operation{Name: e.Operation, StartedAt: e.Time, Running: true}
		b.mu.Unlock()
	case KindFinished:
		b.mu.Lock()
		if b.last == nil || b.last.Name != e.Operation || !b.last.Running {
			b.last = &Operation{Name: e.Operation, StartedAt: e.Time}
		}
		b.last.Running = false
		b.last.FinishedAt = e.Time
		b.last.Error = e.Err
		b.mu.Unlock()
	}

	b.mu.RLock()
	handlers := b.handlers
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

// Statuses returns the most recent status report, or nil before the first.
func (b *Bus) Statuses() []status.ServiceStatus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]status.ServiceStatus(nil), b.statuses...)
}

// LastOperation returns the most recent operation, if any.
func (b *Bus) LastOperation() (Operation, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.last == nil {
		return Operation{}, false
	}
	return *b.last, true
}

// Log exposes the shared log for readers.
func (b *Bus) Log() *Log { return b.log }
