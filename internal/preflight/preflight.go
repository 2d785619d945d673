// Package preflight probes the target server before any session connects.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coderunner/loadtest/internal/tracing"
)

// HealthPath is appended to the target base URL.
const HealthPath = "/health"

// ErrUnhealthy is returned when the server answers with a non-2xx status.
var ErrUnhealthy = errors.New("server health check failed")

// Prober issues health requests.
type Prober struct {
	client  *http.Client
	headers http.Header
}

// New creates a Prober. The timeout bounds the whole request; headers are
// sent with every probe.
func New(timeout time.Duration, headers http.Header) *Prober {
	if timeout < 0 {
		timeout = 0
	}
	dialer := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: 30 * time.Second,
	}
	return &Prober{
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		headers: headers.Clone(),
	}
}

// Check performs a single GET <baseURL>/health with a fresh Prober.
func Check(ctx context.Context, baseURL string, timeout time.Duration) error {
	return New(timeout, nil).Check(ctx, baseURL)
}

// Check requests the health endpoint and succeeds on any 2xx status.
func (p *Prober) Check(ctx context.Context, baseURL string) error {
	target, err := HealthURL(baseURL)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	for key, values := range p.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: %s returned %s", ErrUnhealthy, target, resp.Status)
	}
	return nil
}

// HealthURL maps the target base URL to its health endpoint. WebSocket
// schemes are rewritten to their HTTP equivalents.
func HealthURL(baseURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("invalid target URL %q: %w", baseURL, err)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("invalid target URL %q: unsupported scheme", baseURL)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid target URL %q: missing host", baseURL)
	}
	u.Path = strings.TrimRight(u.Path, "/") + HealthPath
	u.RawQuery = ""
	u.Fragment = ""
	return u.String(), nil
}
