// Package status reconciles the engine's container listing against the fixed
// list of managed services.
package status

import (
	"strconv"
	"strings"

	"nkrypt-xyz/bootstrapper/internal/config"
)

// NotFound is the status text of a declared service with no container.
const NotFound = "not found"

// Descriptor is one managed service, fixed at configuration time.
type Descriptor struct {
	Container string `json:"container"`
	Service   string `json:"service"`
	Name      string `json:"name"`
	Port      string `json:"port"`
	URL       string `json:"url,omitempty"`
}

// ServiceStatus is the derived, never-persisted state of one Descriptor.
type ServiceStatus struct {
	Name      string `json:"name" yaml:"name"`
	Container string `json:"container" yaml:"container"`
	Status    string `json:"status" yaml:"status"`
	Healthy   bool   `json:"healthy" yaml:"healthy"`
	Port      string `json:"port" yaml:"port"`
	URL       string `json:"url,omitempty" yaml:"url,omitempty"`
}

// Descriptors returns the five managed services in display order.
func Descriptors(s config.StackConfig) []Descriptor {
	p := s.Ports
	console := strconv.Itoa(p.MinIOConsole)
	client := strconv.Itoa(p.WebClient)
	return []Descriptor{
		{Container: s.ContainerName("postgres"), Service: "postgres", Name: "PostgreSQL", Port: strconv.Itoa(p.Postgres)},
		{Container: s.ContainerName("redis"), Service: "redis", Name: "Redis", Port: strconv.Itoa(p.Redis)},
		{
			Container: s.ContainerName("minio"), Service: "minio", Name: "MinIO",
			Port: strconv.Itoa(p.MinIO) + ", " + console + " (console)",
			URL:  "http://localhost:" + console,
		},
		{Container: s.ContainerName("web-server"), Service: "web-server", Name: "Web Server", Port: strconv.Itoa(p.WebServer)},
		{
			Container: s.ContainerName("web-client"), Service: "web-client", Name: "Web Client",
			Port: client,
			URL:  "http://localhost:" + client,
		},
	}
}

// ParseListing parses "<name>\t<status>" lines. Lines without a tab are
// ignored; a repeated name keeps its last status.
func ParseListing(out string) map[string]string {
	listing := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		name, text, ok := strings.Cut(strings.TrimRight(line, "\r"), "\t")
		if !ok {
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		listing[name] = strings.TrimSpace(text)
	}
	return listing
}

// Aggregate returns one status per descriptor, in descriptor order, whether
// or not the listing mentions it.
func Aggregate(descriptors []Descriptor, listing map[string]string) []ServiceStatus {
	out := make([]ServiceStatus, 0, len(descriptors))
	for _, d := range descriptors {
		st := ServiceStatus{
			Name:      d.Name,
			Container: d.Container,
			Status:    NotFound,
			Port:      d.Port,
			URL:       d.URL,
		}
		if text, ok := listing[d.Container]; ok {
			st.Status = text
			st.Healthy = IsHealthy(text)
		}
		out = append(out, st)
	}
	return out
}

// AllHealthy reports whether every status is healthy.
func AllHealthy(statuses []ServiceStatus) bool {
	if len(statuses) == 0 {
		return false
	}
	for _, s := range statuses {
		if !s.Healthy {
			return false
		}
	}
	return true
}
