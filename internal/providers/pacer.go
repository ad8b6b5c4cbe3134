package providers

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	DefaultBaseDelay = 800 * time.Millisecond
	DefaultJitter    = 1200 * time.Millisecond
)

// Pacer spaces calls to one platform. Each gap, measured from the end of the
// previous Wait, is the base delay plus a fresh random jitter.
type Pacer struct {
	base   time.Duration
	jitter time.Duration

	// sem serializes waiters; limiter is only touched while it is held
	sem     chan struct{}
	limiter *rate.Limiter
}

// NewPacer creates a pacer. A zero base delay and jitter disable pacing.
func NewPacer(base, jitter time.Duration) *Pacer {
	return &Pacer{
		base:    base,
		jitter:  jitter,
		sem:     make(chan struct{}, 1),
		limiter: rate.NewLimiter(rate.Inf, 1),
	}
}

// Wait blocks until the next call is allowed or ctx is done
func (p *Pacer) Wait(ctx context.Context) error {
	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-p.sem }()

	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	p.limiter = p.restart(time.Now())
	return nil
}

// restart returns an empty single-token bucket that refills after the next gap
func (p *Pacer) restart(now time.Time) *rate.Limiter {
	gap := p.base
	if p.jitter > 0 {
		gap += rand.N(p.jitter)
	}
	if gap <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	l := rate.NewLimiter(rate.Every(gap), 1)
	l.AllowN(now, 1)
	return l
}

// Pacers hands out one Pacer per platform
type Pacers struct {
	base   time.Duration
	jitter time.Duration
	pacers map[string]*Pacer
	mu     sync.Mutex
}

// NewPacers creates a per-platform pacer set sharing base and jitter
func NewPacers(base, jitter time.Duration) *Pacers {
	return &Pacers{
		base:   base,
		jitter: jitter,
		pacers: make(map[string]*Pacer),
	}
}

// For returns the pacer for platform, creating it on first use
func (ps *Pacers) For(platform string) *Pacer {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	p, ok := ps.pacers[platform]
	if !ok {
		p = NewPacer(ps.base, ps.jitter)
		ps.pacers[platform] = p
	}
	return p
}
