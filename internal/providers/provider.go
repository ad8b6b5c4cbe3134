// Package providers integrates the code-hosting and search platforms a scan queries
package providers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/pkg/models"
)

// Adapter defines the interface for a searchable platform
type Adapter interface {
	// Name returns the platform identifier
	Name() string

	// Dialect returns the query syntax the platform accepts
	Dialect() models.Dialect

	// Search runs q and returns the raw hits. Failures are *AdapterError.
	Search(ctx context.Context, q models.SearchQuery, d domain.Name) ([]models.PlatformHit, error)
}

// ErrorKind classifies an adapter failure
type ErrorKind string

const (
	KindUnauthorized ErrorKind = "unauthorized"
	KindRateLimited  ErrorKind = "rate_limited"
	KindInvalidQuery ErrorKind = "invalid_query"
	KindNetwork      ErrorKind = "network_error"
)

// Sentinels matched with errors.Is against an *AdapterError
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
	ErrInvalidQuery = errors.New("invalid query")
	ErrNetwork      = errors.New("network error")
)

var kindSentinels = map[ErrorKind]error{
	KindUnauthorized: ErrUnauthorized,
	KindRateLimited:  ErrRateLimited,
	KindInvalidQuery: ErrInvalidQuery,
	KindNetwork:      ErrNetwork,
}

// AdapterError carries what a platform answered when a search failed
type AdapterError struct {
	Platform   string
	Kind       ErrorKind
	StatusCode int
	Headers    http.Header
	Redirects  []string
	Err        error
}

func (e *AdapterError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Platform, e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *AdapterError) Unwrap() error { return e.Err }

// Is reports whether target is the sentinel for e.Kind
func (e *AdapterError) Is(target error) bool {
	s, ok := kindSentinels[e.Kind]
	return ok && s == target
}

// errorForStatus maps a non-2xx search response to an AdapterError
func errorForStatus(platform string, resp *http.Response, redirects []string, detail string) *AdapterError {
	e := &AdapterError{
		Platform:   platform,
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Redirects:  redirects,
	}
	if detail != "" {
		e.Err = errors.New(detail)
	}

	switch resp.StatusCode {
	case http.StatusUnauthorized:
		e.Kind = KindUnauthorized
	case http.StatusForbidden:
		// Exhausted quotas come back as 403 with accounting headers
		if resp.Header.Get("X-RateLimit-Remaining") == "0" || resp.Header.Get("Retry-After") != "" {
			e.Kind = KindRateLimited
		} else {
			e.Kind = KindUnauthorized
		}
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		e.Kind = KindRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		e.Kind = KindInvalidQuery
	default:
		e.Kind = KindNetwork
	}
	return e
}

// Registry holds the configured adapters by name
type Registry struct {
	adapters map[string]Adapter
	mu       sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		adapters: make(map[string]Adapter),
	}
}

// Register adds an adapter, replacing any with the same name
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
}

// Get returns an adapter by name
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered adapter names, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Select returns the adapters for names in the given order. Unknown names are reported as an error.
func (r *Registry) Select(names []string) ([]Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, ok := r.adapters[name]
		if !ok {
			return nil, fmt.Errorf("unknown platform %q", name)
		}
		out = append(out, a)
	}
	return out, nil
}
