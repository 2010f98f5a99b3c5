package status

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"nkrypt-xyz/bootstrapper/internal/engine"
)

// Lister is satisfied by *engine.Engine.
type Lister interface {
	ListContainers(ctx context.Context, prefix string) (engine.Result, error)
}

// Refresher produces status reports from the live container listing.
type Refresher struct {
	lister      Lister
	prefix      string
	descriptors []Descriptor
}

// NewRefresher returns a Refresher listing containers whose names start
// with prefix.
func NewRefresher(lister Lister, prefix string, descriptors []Descriptor) *Refresher {
	return &Refresher{lister: lister, prefix: prefix, descriptors: descriptors}
}

// Descriptors returns the managed services in display order.
func (r *Refresher) Descriptors() []Descriptor { return r.descriptors }

// Refresh lists containers and aggregates them. A listing that cannot be
// started or exits non-zero yields a full report of "not found" entries.
func (r *Refresher) Refresh(ctx context.Context) ([]ServiceStatus, error) {
	res, err := r.lister.ListContainers(ctx, r.prefix)
	switch {
	case err != nil:
		slog.WarnContext(ctx, "container listing could not start", "err", err)
		return Aggregate(r.descriptors, nil), nil
	case !res.OK():
		slog.WarnContext(ctx, "container listing failed",
			"exit_code", res.ExitCode, "stderr", strings.TrimSpace(res.Stderr))
		return Aggregate(r.descriptors, nil), nil
	}
	return Aggregate(r.descriptors, ParseListing(res.Stdout)), nil
}

// Publisher is satisfied by *events.Bus.
type Publisher interface {
	PublishStatus(statuses []ServiceStatus)
}

// Gate reports whether an operation is running. Satisfied by
// *orchestrator.Orchestrator.
type Gate interface {
	InProgress() bool
}

// Monitor refreshes status on a fixed interval, skipping ticks while an
// operation is in progress; the operation publishes its own final report.
type Monitor struct {
	refresher *Refresher
	publisher Publisher
	gate      Gate
	interval  time.Duration
}

// NewMonitor returns a Monitor. interval defaults to 10s.
func NewMonitor(r *Refresher, p Publisher, g Gate, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 10 * time.Second
	}
	return &Monitor{refresher: r, publisher: p, gate: g, interval: interval}
}

// Run publishes one report immediately, then one per tick, until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	m.tick(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.tick(ctx)
		}
	}
}

func (m *Monitor) tick(ctx context.Context) {
	if m.gate != nil && m.gate.InProgress() {
		slog.DebugContext(ctx, "status refresh skipped, operation in progress")
		return
	}
	statuses, err := m.refresher.Refresh(ctx)
	if err != nil {
		slog.WarnContext(ctx, "status refresh failed", "err", err)
		return
	}
	m.publisher.PublishStatus(statuses)
}
