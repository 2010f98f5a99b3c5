package orchestrator

import "time"

// Status values used across RunResult and PhaseResult.
const (
	StatusOK         = "ok"
	StatusError      = "error"
	StatusInProgress = "in-progress"
	StatusSkipped    = "skipped"
)

// Operation names an operator action on the stack.
type Operation string

const (
	OpStart   Operation = "start"
	OpStop    Operation = "stop"
	OpRemove  Operation = "remove"
	OpCompose Operation = "compose"
)

// ParseOperation validates an operation name coming from a CLI or HTTP caller.
func ParseOperation(s string) (Operation, bool) {
	switch op := Operation(s); op {
	case OpStart, OpStop, OpRemove, OpCompose:
		return op, true
	}
	return "", false
}

// RunResult is the outcome of one operation.
type RunResult struct {
	ID         string        `json:"id" yaml:"id"`
	Operation  Operation     `json:"operation" yaml:"operation"`
	Status     string        `json:"status" yaml:"status"` // "ok", "error", "in-progress"
	Phases     []PhaseResult `json:"phases" yaml:"phases"`
	Error      string        `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time     `json:"startedAt" yaml:"startedAt"`
	FinishedAt time.Time     `json:"finishedAt" yaml:"finishedAt"`
}

// PhaseResult represents the outcome of a single phase.
type PhaseResult struct {
	Index      int       `json:"index" yaml:"index"`
	Name       string    `json:"name" yaml:"name"`
	Command    string    `json:"command" yaml:"command"`
	Status     string    `json:"status" yaml:"status"` // "ok", "error", "skipped"
	Error      string    `json:"error,omitempty" yaml:"error,omitempty"`
	StartedAt  time.Time `json:"startedAt" yaml:"startedAt"`
	DurationMs int64     `json:"durationMs" yaml:"durationMs"`
}

// ProbeResult is returned by RunDeepHealth for each dependency.
type ProbeResult struct {
	Name      string `json:"name" yaml:"name"`
	OK        bool   `json:"ok" yaml:"ok"`
	LatencyMs int64  `json:"latencyMs" yaml:"latencyMs"`
	Error     string `json:"error,omitempty" yaml:"error,omitempty"`
}
