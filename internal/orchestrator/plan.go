package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/engine"
	"nkrypt-xyz/bootstrapper/internal/phase"
)

// Services the start sequence brings up before and after migrating.
var (
	dependencyServices  = []string{"postgres", "redis", "minio"}
	applicationServices = []string{"web-server", "web-client"}
)

// StepKind distinguishes external commands from the in-process schema step.
type StepKind string

const (
	StepCommand StepKind = "command"
	StepMigrate StepKind = "migrate"
)

// Step is one entry of an operation plan.
type Step struct {
	Name  string
	Kind  StepKind
	Phase phase.Phase
	// Settle is waited before the step runs.
	Settle time.Duration
}

// Describe is the operator-facing one-liner for the step.
func (s Step) Describe() string {
	if s.Kind == StepMigrate {
		return "migrate (via psql inside container)"
	}
	return s.Phase.Label
}

// Plan builds the ordered steps for op. args are the compose arguments of a
// pass-through operation and are ignored otherwise.
func Plan(op Operation, snap config.StackConfig, engineName string, args []string) ([]Step, error) {
	compose := func(name string, sub ...string) Step {
		return Step{
			Name: name,
			Kind: StepCommand,
			Phase: phase.Phase{
				Label: engineName + " " + strings.Join(sub, " "),
				Name:  engineName,
				Args:  engine.ComposeArgs(snap.ComposeFile, sub...),
				Dir:   snap.ComposeDir(),
				Env:   snap.Environment(),
			},
		}
	}

	switch op {
	case OpStart:
		upDeps := compose("up-dependencies", append([]string{"up", "-d"}, dependencyServices...)...)
		upDeps.Settle = snap.SettleDelay
		return []Step{
			compose("stop-dependencies", append([]string{"stop"}, dependencyServices...)...),
			upDeps,
			{Name: "migrate", Kind: StepMigrate},
			compose("up-applications", append([]string{"up", "-d"}, applicationServices...)...),
		}, nil
	case OpStop:
		return []Step{compose("down", "down")}, nil
	case OpRemove:
		return []Step{compose("remove-all", "down", "-v", "--rmi", "all")}, nil
	case OpCompose:
		if len(args) == 0 {
			return nil, errors.New("compose pass-through needs at least one argument")
		}
		return []Step{compose("compose", args...)}, nil
	default:
		return nil, fmt.Errorf("unknown operation %q", op)
	}
}

// CommandLine is the full invocation an operation corresponds to when run by
// hand, used for the opening "Running:" log line.
func CommandLine(op Operation, snap config.StackConfig, engineName string, args []string) string {
	var sub []string
	switch op {
	case OpStart:
		sub = []string{"up", "-d"}
	case OpStop:
		sub = []string{"down"}
	case OpRemove:
		sub = []string{"down", "-v", "--rmi", "all"}
	default:
		sub = args
	}
	return engineName + " " + strings.Join(engine.ComposeArgs(snap.ComposeFile, sub...), " ")
}
