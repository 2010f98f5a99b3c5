// Package composefile loads the stack's compose file with compose-go and
// checks it declares what the bootstrapper relies on.
package composefile

import (
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/compose-spec/compose-go/v2/cli"
	"github.com/compose-spec/compose-go/v2/types"

	"nkrypt-xyz/bootstrapper/internal/config"
)

// ManagedServices are the compose services every operation refers to.
var ManagedServices = []string{"postgres", "redis", "minio", "web-server", "web-client"}

// Problem is one mismatch between the compose file and the configuration.
type Problem struct {
	Service string `json:"service"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	if p.Service == "" {
		return p.Message
	}
	return p.Service + ": " + p.Message
}

// Load parses the compose file the way the engine would, interpolating the
// same environment the compose phases receive.
func Load(ctx context.Context, s config.StackConfig) (*types.Project, error) {
	env := make([]string, 0, len(s.Environment()))
	for k, v := range s.Environment() {
		env = append(env, k+"="+v)
	}
	sort.Strings(env)

	options, err := cli.NewProjectOptions(
		[]string{s.ComposeFile},
		cli.WithOsEnv,
		cli.WithEnv(env),
		cli.WithWorkingDirectory(s.ComposeDir()),
		cli.WithName(projectName(s.ComposeFile)),
	)
	if err != nil {
		return nil, fmt.Errorf("creating project options: %w", err)
	}

	project, err := options.LoadProject(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading compose project %s: %w", s.ComposeFile, err)
	}
	return project, nil
}

// Check reports every managed service that is missing, named differently
// from the container status lookups, or published on a port other than the
// configured one.
func Check(project *types.Project, s config.StackConfig) []Problem {
	var problems []Problem

	wantPorts := map[string][]int{
		"postgres":   {s.Ports.Postgres},
		"redis":      {s.Ports.Redis},
		"minio":      {s.Ports.MinIO, s.Ports.MinIOConsole},
		"web-server": {s.Ports.WebServer},
		"web-client": {s.Ports.WebClient},
	}

	for _, name := range ManagedServices {
		svc, ok := project.Services[name]
		if !ok {
			problems = append(problems, Problem{Service: name, Message: "service is not declared"})
			continue
		}

		if want := s.ContainerName(name); svc.ContainerName != want {
			problems = append(problems, Problem{
				Service: name,
				Message: fmt.Sprintf("container_name is %q, expected %q", svc.ContainerName, want),
			})
		}

		published := publishedPorts(svc)
		for _, port := range wantPorts[name] {
			if !slices.Contains(published, port) {
				problems = append(problems, Problem{
					Service: name,
					Message: fmt.Sprintf("port %d is not published", port),
				})
			}
		}
	}
	return problems
}

func publishedPorts(svc types.ServiceConfig) []int {
	var out []int
	for _, p := range svc.Ports {
		if p.Published == "" {
			continue
		}
		// Ranges publish their first port.
		n, err := strconv.Atoi(strings.Split(p.Published, "-")[0])
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	return out
}

func projectName(composeFile string) string {
	return filepath.Base(filepath.Dir(composeFile))
}
