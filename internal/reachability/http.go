// Package reachability fetches candidate links over HTTP for validation and content scanning
package reachability

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/commjoen/leakscan/internal/validator"
)

const (
	defaultTimeout   = 10 * time.Second
	dialTimeout      = 30 * time.Second
	defaultUserAgent = "leakscan/1.0"
	maxRedirects     = 10
)

// FetchError is a transport failure with a short human-readable reason
type FetchError struct {
	URL    string
	Reason string
	Err    error
}

func (e *FetchError) Error() string { return e.Reason }

func (e *FetchError) Unwrap() error { return e.Err }

// Client performs HEAD and GET requests with per-request timeouts.
// It implements validator.Fetcher.
type Client struct {
	transport http.RoundTripper
	timeout   time.Duration
	userAgent string
}

// NewClient creates a client. timeout is the fallback for requests that set none;
// it never caps a request that carries its own timeout.
func NewClient(timeout time.Duration, userAgent string) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	return &Client{
		transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			TLSClientConfig: &tls.Config{
				MinVersion: tls.VersionTLS12,
			},
			// Per-request deadlines come from the context in Fetch
			DialContext: (&net.Dialer{
				Timeout:   dialTimeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConnsPerHost: 4,
		},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Fetch issues req and returns the status, headers, redirect chain and
// (for GET) at most req.MaxBytes of body.
func (c *Client) Fetch(ctx context.Context, req validator.Request) (*validator.Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = c.timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URL, nil)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Reason: fmt.Sprintf("failed to create request: %v", err), Err: err}
	}
	httpReq.Header.Set("User-Agent", c.userAgent)

	// Redirects are tracked per request
	var redirects []string
	client := &http.Client{
		Transport: c.transport,
		CheckRedirect: func(r *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			redirects = append(redirects, r.URL.String())
			return nil
		},
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, &FetchError{URL: req.URL, Reason: categorizeError(err), Err: err}
	}
	defer resp.Body.Close()

	out := &validator.Response{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Redirects:  redirects,
	}

	if method != http.MethodHead {
		var body io.Reader = resp.Body
		if req.MaxBytes > 0 {
			body = io.LimitReader(resp.Body, req.MaxBytes)
		}
		data, err := io.ReadAll(body)
		if err != nil {
			return nil, &FetchError{URL: req.URL, Reason: categorizeError(err), Err: err}
		}
		out.Body = data
	}

	return out, nil
}

// categorizeError converts various network errors into user-friendly messages
func categorizeError(err error) string {
	errStr := err.Error()

	switch {
	case strings.Contains(errStr, "connection refused"):
		return "connection refused"
	case strings.Contains(errStr, "no such host"):
		return "DNS resolution failed"
	case strings.Contains(errStr, "i/o timeout"):
		return "connection timeout"
	case strings.Contains(errStr, "context deadline exceeded"):
		return "request timeout"
	case strings.Contains(errStr, "context canceled"):
		return "request cancelled"
	case strings.Contains(errStr, "stopped after"):
		return "too many redirects"
	case strings.Contains(errStr, "x509"):
		return fmt.Sprintf("certificate error: %s", errStr)
	case strings.Contains(errStr, "certificate"):
		return fmt.Sprintf("TLS error: %s", errStr)
	default:
		return errStr
	}
}
