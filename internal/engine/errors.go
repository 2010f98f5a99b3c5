package engine

import (
	"errors"
	"fmt"
	"strings"
)

// ErrToolMissing is returned when neither docker nor podman is on PATH.
var ErrToolMissing = errors.New("docker or podman not found, install Docker to continue")

// ErrEngineUnreachable matches every *UnreachableError via errors.Is.
var ErrEngineUnreachable = errors.New("container engine unreachable")

// Reason classifies why the engine could not be used.
type Reason string

const (
	ReasonPermissionDenied Reason = "permission-denied"
	ReasonDaemonDown       Reason = "daemon-not-running"
	ReasonComposeMissing   Reason = "compose-missing"
	ReasonFailed           Reason = "failed"
)

// stderrPolicy maps substrings of `info` stderr to a reason. Matching is a
// plain substring test because the engine's error text is free-form; the
// first matching row wins.
var stderrPolicy = []struct {
	marker string
	reason Reason
}{
	{"permission denied", ReasonPermissionDenied},
	{"permissions", ReasonPermissionDenied},
	{"Cannot connect", ReasonDaemonDown},
	{"Is the docker daemon running", ReasonDaemonDown},
}

// Classify applies the stderr policy table.
func Classify(stderr string) Reason {
	for _, row := range stderrPolicy {
		if strings.Contains(stderr, row.marker) {
			return row.reason
		}
	}
	return ReasonFailed
}

// UnreachableError reports an engine that exists but cannot be used.
type UnreachableError struct {
	Engine string
	Reason Reason
	Detail string
}

func (e *UnreachableError) Error() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return fmt.Sprintf("%s found but permission denied", e.Engine)
	case ReasonDaemonDown:
		return fmt.Sprintf("%s found but daemon not running", e.Engine)
	case ReasonComposeMissing:
		return fmt.Sprintf("%s found but compose is not available", e.Engine)
	default:
		return fmt.Sprintf("%s check failed: %s", e.Engine, e.Detail)
	}
}

func (e *UnreachableError) Unwrap() error { return ErrEngineUnreachable }

// Hint is the remediation shown to the operator.
func (e *UnreachableError) Hint() string {
	switch e.Reason {
	case ReasonPermissionDenied:
		return "Add your user to the 'docker' group:\n  sudo usermod -aG docker $USER\nThen log out and back in."
	case ReasonDaemonDown:
		return fmt.Sprintf("Start the %s service.", e.Engine)
	case ReasonComposeMissing:
		return "Install: sudo apt-get install docker-compose-plugin"
	default:
		return ""
	}
}
