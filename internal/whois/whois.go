// Package whois looks up registration data for a scanned domain
package whois

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/likexian/whois"
	whoisparser "github.com/likexian/whois-parser"
	"golang.org/x/net/publicsuffix"
)

const (
	defaultTimeout = 30 * time.Second
	defaultTTL     = 24 * time.Hour
)

// ErrInvalidDomain is returned for names without a registrable part
var ErrInvalidDomain = errors.New("invalid domain")

// Registration is the registration data attached to a report footprint
type Registration struct {
	Domain         string
	Registrar      string
	CreationDate   *time.Time
	ExpirationDate *time.Time
	Nameservers    []string
}

type entry struct {
	reg     *Registration
	err     error
	fetched time.Time
}

// Client performs WHOIS lookups and caches them per registrable domain
type Client struct {
	timeout time.Duration
	ttl     time.Duration
	query   func(domain string) (string, error)
	now     func() time.Time

	mu    sync.RWMutex
	cache map[string]entry
}

// NewClient creates a new WHOIS client with the specified timeout
func NewClient(timeout time.Duration) *Client {
	if timeout == 0 {
		timeout = defaultTimeout
	}
	wc := whois.NewClient().SetTimeout(timeout)
	return &Client{
		timeout: timeout,
		ttl:     defaultTTL,
		query:   func(d string) (string, error) { return wc.Whois(d) },
		now:     time.Now,
		cache:   make(map[string]entry),
	}
}

// Lookup returns the registration for the registrable part of name
func (c *Client) Lookup(ctx context.Context, name string) (*Registration, error) {
	base, err := BaseDomain(name)
	if err != nil {
		return nil, err
	}

	if e, ok := c.cached(base); ok {
		return e.reg, e.err
	}

	reg, err := c.lookup(ctx, base)
	// Cancellation says nothing about the domain
	if ctx.Err() == nil {
		c.mu.Lock()
		c.cache[base] = entry{reg: reg, err: err, fetched: c.now()}
		c.mu.Unlock()
	}
	return reg, err
}

func (c *Client) cached(base string) (entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.cache[base]
	if !ok || c.now().Sub(e.fetched) > c.ttl {
		return entry{}, false
	}
	return e, true
}

// ClearCache removes all cached entries
func (c *Client) ClearCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cache = make(map[string]entry)
}

func (c *Client) lookup(ctx context.Context, base string) (*Registration, error) {
	type answer struct {
		raw string
		err error
	}
	done := make(chan answer, 1)
	go func() {
		raw, err := c.query(base)
		done <- answer{raw, err}
	}()

	var a answer
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("WHOIS lookup cancelled: %w", ctx.Err())
	case <-time.After(c.timeout):
		return nil, errors.New("WHOIS lookup timeout")
	case a = <-done:
	}

	if a.err != nil {
		return nil, errors.New(categorizeError(a.err))
	}

	parsed, err := whoisparser.Parse(a.raw)
	if err != nil {
		return nil, fmt.Errorf("parsing WHOIS response: %w", err)
	}

	reg := &Registration{Domain: base}
	if parsed.Registrar != nil {
		reg.Registrar = parsed.Registrar.Name
	}
	if d := parsed.Domain; d != nil {
		reg.Nameservers = d.NameServers
		reg.CreationDate = parseDate(d.CreatedDate)
		reg.ExpirationDate = parseDate(d.ExpirationDate)
	}
	return reg, nil
}

// BaseDomain returns the registrable domain (eTLD+1) of name,
// e.g. "www.example.co.uk" -> "example.co.uk"
func BaseDomain(name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.TrimPrefix(name, "http://")
	name = strings.TrimPrefix(name, "https://")
	if idx := strings.IndexAny(name, "/:"); idx != -1 {
		name = name[:idx]
	}
	name = strings.TrimSuffix(name, ".")

	base, err := publicsuffix.EffectiveTLDPlusOne(name)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrInvalidDomain, name)
	}
	return base, nil
}

var dateFormats = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"January 02, 2006",
	"2006/01/02",
}

// parseDate returns nil for empty or unrecognised dates
func parseDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	for _, f := range dateFormats {
		if t, err := time.Parse(f, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// categorizeError converts WHOIS errors to user-friendly messages
func categorizeError(err error) string {
	errStr := err.Error()
	switch {
	case strings.Contains(errStr, "timeout"):
		return "WHOIS server timeout"
	case strings.Contains(errStr, "connection refused"):
		return "WHOIS server connection refused"
	case strings.Contains(errStr, "no whois server"):
		return "no WHOIS server found for this TLD"
	case strings.Contains(errStr, "rate limit"):
		return "rate limited by WHOIS server"
	default:
		return errStr
	}
}
