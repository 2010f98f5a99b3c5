package migrate

import "strings"

// toleratedErrors lists database client messages that mean a migration's
// objects are already in place, e.g. applied by hand without a tracking row.
// A match marks the version clean instead of failing the run. Matching is a
// case-sensitive substring test on the client's error text.
//
// Only "already exists" is listed. Other idempotency failures, such as a
// duplicate key on a seed INSERT, still abort the run.
var toleratedErrors = []struct {
	marker string
	reason string
}{
	{marker: "already exists", reason: "objects already exist"},
}

// tolerated reports whether msg matches a tolerated error, and why.
func tolerated(msg string) (string, bool) {
	for _, t := range toleratedErrors {
		if strings.Contains(msg, t.marker) {
			return t.reason, true
		}
	}
	return "", false
}
