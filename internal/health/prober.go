// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Prober performs one asynchronous health check against a backend.
// Implementations may fail; callers must map failures to StatusUnhealthy
// observations instead of propagating them as faults.
type Prober interface {
	Probe(ctx context.Context) (Status, error)
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context) (Status, error)

func (f ProberFunc) Probe(ctx context.Context) (Status, error) { return f(ctx) }

// HTTPProber checks a backend health endpoint returning {"status": "..."}.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber builds a prober for the given health URL. A nil client gets a
// dedicated one with the supplied timeout.
func NewHTTPProber(url string, timeout time.Duration, client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPProber{url: url, client: client}
}

func (p *HTTPProber) Probe(ctx context.Context) (Status, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return StatusUnhealthy, fmt.Errorf("build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return StatusUnhealthy, fmt.Errorf("probe %s: %w", p.url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return StatusUnhealthy, fmt.Errorf("probe %s: unexpected status %d", p.url, resp.StatusCode)
	}

	var body struct {
		Status Status `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return StatusUnhealthy, fmt.Errorf("decode health response: %w", err)
	}

	switch body.Status {
	case StatusHealthy, StatusDegraded, StatusUnhealthy:
		return body.Status, nil
	default:
		return StatusUnhealthy, fmt.Errorf("probe %s: unknown status %q", p.url, body.Status)
	}
}

// BackendChecker adapts a Prober into a readiness Checker so the daemon's
// /readyz reflects backend reachability.
type BackendChecker struct {
	name   string
	prober Prober
}

// NewBackendChecker wraps prober under the given component name.
func NewBackendChecker(name string, prober Prober) *BackendChecker {
	return &BackendChecker{name: name, prober: prober}
}

func (c *BackendChecker) Name() string { return c.name }

func (c *BackendChecker) Check(ctx context.Context) CheckResult {
	status, err := c.prober.Probe(ctx)
	if err != nil {
		return CheckResult{Status: StatusUnhealthy, Error: err.Error()}
	}
	return CheckResult{Status: status}
}
