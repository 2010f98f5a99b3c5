package clients

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"nkrypt-xyz/bootstrapper/internal/config"
)

func fixedHandler(statusCode int) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(statusCode)
	}
}

func TestHTTPProbe(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		wantOK     bool
		wantErrSub string
	}{
		{name: "200", status: http.StatusOK, wantOK: true},
		{name: "204", status: http.StatusNoContent, wantOK: true},
		{name: "503", status: http.StatusServiceUnavailable, wantErrSub: "HTTP 503"},
		{name: "404", status: http.StatusNotFound, wantErrSub: "HTTP 404"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			srv := httptest.NewServer(fixedHandler(tc.status))
			defer srv.Close()

			probe := NewHTTPProbe("web-server", srv.URL+"/healthz", NewCircuitBreaker("http-"+tc.name))
			probe.httpDo = srv.Client().Do

			result := probe.Probe(context.Background())
			assert.Equal(t, "web-server", result.Name)
			assert.Equal(t, tc.wantOK, result.OK)
			if tc.wantErrSub != "" {
				assert.Contains(t, result.Error, tc.wantErrSub)
			}
		})
	}
}

func TestHTTPProbe_Unreachable(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(fixedHandler(http.StatusOK))
	url := srv.URL
	srv.Close()

	result := NewHTTPProbe("web-client", url, NewCircuitBreaker("http-down")).Probe(context.Background())
	assert.False(t, result.OK)
	assert.Contains(t, result.Error, "probe request")
}

func TestWebProbeURLs(t *testing.T) {
	t.Parallel()

	s := config.StackConfig{Ports: config.PortsConfig{WebServer: 9204, WebClient: 9205}}
	assert.Equal(t, "http://localhost:9204/healthz", NewWebServerProbe(s, NewCircuitBreaker("ws")).url)
	assert.Equal(t, "http://localhost:9205/", NewWebClientProbe(s, NewCircuitBreaker("wc")).url)
}
