// Package validator checks that candidate links are live and memoizes the outcome per URL
package validator

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/commjoen/leakscan/pkg/models"
)

const (
	DefaultHeadTimeout = 10 * time.Second
	DefaultGetTimeout  = 5 * time.Second

	corroborateMaxBytes = 256 << 10
)

// Hosts whose pages are read back to confirm a repository exists
var codeHosts = map[string]bool{
	"github.com":                true,
	"gist.github.com":           true,
	"raw.githubusercontent.com": true,
	"gitlab.com":                true,
	"bitbucket.org":             true,
}

var repositoryMarkers = []string{"repository", "blob", "commit"}

// Request is a single fetch
type Request struct {
	Method   string
	URL      string
	Timeout  time.Duration
	MaxBytes int64
}

// Response is the result of a fetch. Body is empty for HEAD.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	Redirects  []string
}

// Fetcher performs HTTP requests for the validator and content scanner
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Validator probes links and caches the result for the life of the instance
type Validator struct {
	fetcher     Fetcher
	headTimeout time.Duration
	getTimeout  time.Duration
	logger      *slog.Logger

	mu    sync.RWMutex
	cache map[string]models.ValidationResult
	group singleflight.Group
}

// Option configures a Validator
type Option func(*Validator)

// WithTimeouts overrides the HEAD and corroboration GET timeouts. Zero keeps the default.
func WithTimeouts(head, get time.Duration) Option {
	return func(v *Validator) {
		if head > 0 {
			v.headTimeout = head
		}
		if get > 0 {
			v.getTimeout = get
		}
	}
}

// WithLogger sets the validator logger
func WithLogger(l *slog.Logger) Option {
	return func(v *Validator) {
		if l != nil {
			v.logger = l
		}
	}
}

// New creates a validator backed by f
func New(f Fetcher, opts ...Option) *Validator {
	v := &Validator{
		fetcher:     f,
		headTimeout: DefaultHeadTimeout,
		getTimeout:  DefaultGetTimeout,
		logger:      slog.New(slog.DiscardHandler),
		cache:       make(map[string]models.ValidationResult),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate returns the cached result for link or probes it.
// Concurrent callers for the same link share a single probe.
func (v *Validator) Validate(ctx context.Context, link string) models.ValidationResult {
	if r, ok := v.lookup(link); ok {
		return r
	}

	res, _, _ := v.group.Do(link, func() (interface{}, error) {
		if r, ok := v.lookup(link); ok {
			return r, nil
		}

		r := v.probe(ctx, link)
		// A probe cut short by the caller says nothing about the link.
		if ctx.Err() == nil {
			v.mu.Lock()
			v.cache[link] = r
			v.mu.Unlock()
		}
		return r, nil
	})
	return res.(models.ValidationResult)
}

func (v *Validator) lookup(link string) (models.ValidationResult, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.cache[link]
	return r, ok
}

func (v *Validator) probe(ctx context.Context, link string) models.ValidationResult {
	result := models.ValidationResult{URL: link}

	resp, err := v.fetcher.Fetch(ctx, Request{Method: http.MethodHead, URL: link, Timeout: v.headTimeout})
	if err != nil {
		result.Reason = err.Error()
		v.logger.Debug("link validation failed", "url", link, "reason", result.Reason)
		return result
	}

	result.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		result.Reason = reasonFor(resp.StatusCode)
		v.logger.Debug("link validation failed", "url", link, "status", resp.StatusCode, "reason", result.Reason)
		return result
	}

	result.IsValid = true
	result.IsAccessible = true

	if isCodeHost(link) {
		result.RepositoryExists = v.corroborate(ctx, link)
	}
	v.logger.Debug("link validated", "url", link, "status", resp.StatusCode)
	return result
}

// corroborate reads the page back and looks for repository markers.
// A failed read leaves the HEAD result standing.
func (v *Validator) corroborate(ctx context.Context, link string) *bool {
	resp, err := v.fetcher.Fetch(ctx, Request{
		Method:   http.MethodGet,
		URL:      link,
		Timeout:  v.getTimeout,
		MaxBytes: corroborateMaxBytes,
	})
	if err != nil || resp.StatusCode < 200 || resp.StatusCode > 299 {
		v.logger.Debug("could not read content back, keeping HEAD result", "url", link)
		return nil
	}

	body := strings.ToLower(string(resp.Body))
	exists := false
	for _, m := range repositoryMarkers {
		if strings.Contains(body, m) {
			exists = true
			break
		}
	}
	return &exists
}

func reasonFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not found or deleted"
	case http.StatusForbidden:
		return "forbidden/private"
	case http.StatusTooManyRequests:
		return "rate limited"
	default:
		return fmt.Sprintf("HTTP %d", status)
	}
}

func isCodeHost(link string) bool {
	u, err := url.Parse(link)
	if err != nil {
		return false
	}
	return codeHosts[strings.ToLower(u.Hostname())]
}

// Stats counts cached results
func (v *Validator) Stats() models.ValidationStats {
	v.mu.RLock()
	defer v.mu.RUnlock()
	s := models.ValidationStats{Total: len(v.cache)}
	for _, r := range v.cache {
		if r.IsValid {
			s.Valid++
		} else {
			s.Invalid++
		}
	}
	return s
}

// Len returns the number of cached entries
func (v *Validator) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.cache)
}

// Reset drops every cached result
func (v *Validator) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cache = make(map[string]models.ValidationResult)
}
