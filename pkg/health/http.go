package health

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cuemby/airbyte-operator/pkg/types"
)

// HTTPChecker issues a request and accepts a range of status codes
type HTTPChecker struct {
	URL    string
	Method string
	Header http.Header
	// MinStatus and MaxStatus bound the accepted codes, inclusive
	MinStatus int
	MaxStatus int
	Client    *http.Client
}

// NewHTTPChecker checks url with GET, accepting 2xx and 3xx
func NewHTTPChecker(url string, timeout time.Duration) *HTTPChecker {
	return &HTTPChecker{
		URL:       url,
		Method:    http.MethodGet,
		Header:    http.Header{},
		MinStatus: http.StatusOK,
		MaxStatus: 399,
		Client: &http.Client{
			Timeout: timeout,
			// a redirect is an answer; the process is up
			CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse },
		},
	}
}

// ForHealthCheck builds the checker for a plan's liveness check on host.
// The check period doubles as the request timeout.
func ForHealthCheck(host string, hc types.HealthCheck) *HTTPChecker {
	timeout := hc.Period
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	return NewHTTPChecker(fmt.Sprintf("http://%s:%d%s", host, hc.Port, hc.Path), timeout)
}

// Check performs one request
func (h *HTTPChecker) Check(ctx context.Context) Result {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, h.Method, h.URL, nil)
	if err != nil {
		return finish(start, false, "invalid request: %v", err)
	}
	for k, vs := range h.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := h.Client.Do(req)
	if err != nil {
		return finish(start, false, "request failed: %v", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))

	if resp.StatusCode < h.MinStatus || resp.StatusCode > h.MaxStatus {
		return finish(start, false, "%s %s answered %d, want %d-%d", h.Method, h.URL, resp.StatusCode, h.MinStatus, h.MaxStatus)
	}
	return finish(start, true, "%s %s answered %d", h.Method, h.URL, resp.StatusCode)
}

// Target returns the checked URL
func (h *HTTPChecker) Target() string { return h.URL }
