// Package presence decides whether a domain is referenced on a platform at all
package presence

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/internal/providers"
	"github.com/commjoen/leakscan/internal/query"
	"github.com/commjoen/leakscan/pkg/models"
)

// verifyPerQuery bounds how many links per presence query are validated
const verifyPerQuery = 3

// LinkValidator validates a candidate link
type LinkValidator interface {
	Validate(ctx context.Context, link string) models.ValidationResult
}

// Prober runs the presence query set and memoizes the outcome per platform and domain
type Prober struct {
	validator LinkValidator
	pacers    *providers.Pacers
	logger    *slog.Logger

	mu    sync.RWMutex
	cache map[string]models.DomainPresenceResult
}

// New creates a prober. Links are verified through v; calls are spaced by pacers.
func New(v LinkValidator, pacers *providers.Pacers, logger *slog.Logger) *Prober {
	if pacers == nil {
		pacers = providers.NewPacers(providers.DefaultBaseDelay, providers.DefaultJitter)
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Prober{
		validator: v,
		pacers:    pacers,
		logger:    logger,
		cache:     make(map[string]models.DomainPresenceResult),
	}
}

// Check reports whether d is referenced on the adapter's platform.
// API failures are counted in Errors and never set Found.
func (p *Prober) Check(ctx context.Context, d domain.Name, a providers.Adapter) models.DomainPresenceResult {
	key := a.Name() + "|" + d.String()

	p.mu.RLock()
	cached, ok := p.cache[key]
	p.mu.RUnlock()
	if ok {
		return cached
	}

	result := models.DomainPresenceResult{Platform: a.Name()}
	repos := make(map[string]struct{})
	verified := make(map[string]struct{})
	pacer := p.pacers.For(a.Name())
	interrupted := false

	for _, q := range query.PresenceQueries(d, a.Dialect()) {
		if err := pacer.Wait(ctx); err != nil {
			interrupted = true
			break
		}

		hits, err := a.Search(ctx, q, d)
		if err != nil {
			result.Errors++
			p.logger.Warn("presence query failed", "platform", a.Name(), "query", q.Text, "error", err)
			continue
		}
		if len(hits) == 0 {
			continue
		}

		result.Found = true
		result.TotalReferences += len(hits)
		for i, h := range hits {
			if h.Repository != "" {
				repos[h.Repository] = struct{}{}
			}
			if i >= verifyPerQuery || p.validator == nil || h.Link == "" {
				continue
			}
			if _, done := verified[h.Link]; done {
				continue
			}
			if v := p.validator.Validate(ctx, h.Link); v.IsValid && v.IsAccessible {
				verified[h.Link] = struct{}{}
			}
		}
	}

	result.Repositories = sortedKeys(repos)
	result.VerifiedLinks = sortedKeys(verified)

	p.logger.Debug("presence check finished",
		"platform", a.Name(),
		"domain", d.String(),
		"found", result.Found,
		"references", result.TotalReferences,
		"errors", result.Errors)

	// An interrupted probe is incomplete and must not satisfy later checks.
	if !interrupted {
		p.mu.Lock()
		p.cache[key] = result
		p.mu.Unlock()
	}
	return result
}

// Len returns the number of cached results
func (p *Prober) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.cache)
}

// Reset drops every cached result
func (p *Prober) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache = make(map[string]models.DomainPresenceResult)
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
