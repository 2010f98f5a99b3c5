package clients

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/sony/gobreaker"

	"nkrypt-xyz/bootstrapper/internal/config"
	"nkrypt-xyz/bootstrapper/internal/orchestrator"
)

// HTTPProbe checks that an application container answers on its published
// port.
type HTTPProbe struct {
	name   string
	url    string
	cb     *gobreaker.CircuitBreaker
	httpDo func(req *http.Request) (*http.Response, error)
}

// NewHTTPProbe constructs an HTTPProbe. No request is made until Probe.
func NewHTTPProbe(name, url string, cb *gobreaker.CircuitBreaker) *HTTPProbe {
	return &HTTPProbe{
		name:   name,
		url:    url,
		cb:     cb,
		httpDo: http.DefaultClient.Do,
	}
}

// NewWebServerProbe targets the web server's liveness endpoint.
func NewWebServerProbe(s config.StackConfig, cb *gobreaker.CircuitBreaker) *HTTPProbe {
	return NewHTTPProbe("web-server", s.ServerURL()+"/healthz", cb)
}

// NewWebClientProbe targets the web client's index page.
func NewWebClientProbe(s config.StackConfig, cb *gobreaker.CircuitBreaker) *HTTPProbe {
	return NewHTTPProbe("web-client", "http://localhost:"+strconv.Itoa(s.Ports.WebClient)+"/", cb)
}

// Probe issues a GET and expects a 2xx response.
func (c *HTTPProbe) Probe(ctx context.Context) orchestrator.ProbeResult {
	return guardedProbe(c.cb, c.name, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
		if err != nil {
			return fmt.Errorf("building probe request: %w", err)
		}

		resp, err := c.httpDo(req)
		if err != nil {
			return fmt.Errorf("probe request: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return fmt.Errorf("probe returned HTTP %d", resp.StatusCode)
		}
		return nil
	})
}
