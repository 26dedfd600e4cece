// Package health polls running services with their declared readiness
// probes, applies consecutive success/failure thresholds and keeps the
// per-service health records that gate dependent startups.
package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"fhirstack/internal/config"
)

// Probe performs one readiness check against a running service. The check
// is protocol-opaque: only success or failure is interpreted.
type Probe interface {
	Check(ctx context.Context) error
}

// HTTPProbe checks readiness with a GET request; any 2xx or 3xx status
// counts as success.
type HTTPProbe struct {
	URL     string
	Timeout time.Duration
}

// NewHTTPProbe creates an HTTP readiness probe.
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	return &HTTPProbe{URL: url, Timeout: timeout}
}

// Check performs the HTTP readiness check.
func (p *HTTPProbe) Check(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	client := &http.Client{Timeout: p.Timeout}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s returned status %d", p.URL, resp.StatusCode)
	}
	return nil
}

// TCPProbe checks readiness by opening a TCP connection.
type TCPProbe struct {
	Address string
	Timeout time.Duration
}

// NewTCPProbe creates a TCP connect probe.
func NewTCPProbe(address string, timeout time.Duration) *TCPProbe {
	return &TCPProbe{Address: address, Timeout: timeout}
}

// Check performs the TCP connect check.
func (p *TCPProbe) Check(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: p.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Address)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.Address, err)
	}
	defer conn.Close()
	return nil
}

// NewProbe builds the probe declared by a health check definition.
func NewProbe(def config.HealthCheckDefinition) (Probe, error) {
	switch def.Protocol {
	case config.ProbeHTTP:
		return NewHTTPProbe(def.Target, def.Timeout), nil
	case config.ProbeTCP:
		return NewTCPProbe(def.Target, def.Timeout), nil
	default:
		return nil, fmt.Errorf("unsupported probe protocol %q", def.Protocol)
	}
}
