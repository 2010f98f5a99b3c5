package status

import "strings"

// Health is derived from the engine's free-form status text, so it is a
// substring policy rather than a parsed field. All markers compare
// case-insensitively.
//
//	marker       position  effect
//	(healthy)    anywhere  healthy
//	up           prefix    healthy, unless "unhealthy" appears anywhere
//	unhealthy    anywhere  vetoes the "up" rule only
//
// "(healthy)" keeps its parentheses so that "(unhealthy)" never matches it.
const (
	healthyMarker   = "(healthy)"
	runningPrefix   = "up"
	unhealthyMarker = "unhealthy"
)

// IsHealthy applies the policy table to one status text.
func IsHealthy(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if strings.Contains(t, healthyMarker) {
		return true
	}
	return strings.HasPrefix(t, runningPrefix) && !strings.Contains(t, unhealthyMarker)
}
