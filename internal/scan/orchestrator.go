// Package scan runs a leak scan for one domain across the configured platforms
package scan

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/commjoen/leakscan/internal/entropy"
	"github.com/commjoen/leakscan/internal/failures"
	"github.com/commjoen/leakscan/internal/presence"
	"github.com/commjoen/leakscan/internal/providers"
	"github.com/commjoen/leakscan/internal/secrets"
	"github.com/commjoen/leakscan/internal/validator"
	"github.com/commjoen/leakscan/pkg/models"
)

// RetryConfig bounds retries of rate-limited searches
type RetryConfig struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Config holds the scan tunables
type Config struct {
	Budget          time.Duration
	FetchContent    bool
	MaxContentBytes int64
	HeadTimeout     time.Duration
	GetTimeout      time.Duration
	BaseDelay       time.Duration
	Jitter          time.Duration
	Retry           RetryConfig
	Thresholds      entropy.Thresholds
}

// DefaultConfig returns the stock scan configuration
func DefaultConfig() Config {
	return Config{
		Budget:          10 * time.Minute,
		MaxContentBytes: 1 << 20,
		HeadTimeout:     validator.DefaultHeadTimeout,
		GetTimeout:      validator.DefaultGetTimeout,
		BaseDelay:       providers.DefaultBaseDelay,
		Jitter:          providers.DefaultJitter,
		Retry: RetryConfig{
			MaxAttempts:     3,
			InitialInterval: 2 * time.Second,
			MaxInterval:     30 * time.Second,
		},
		Thresholds: entropy.DefaultThresholds(),
	}
}

// FalsePositiveJudge is an external check that may flag a validated result
type FalsePositiveJudge interface {
	IsFalsePositive(ctx context.Context, r models.LeakResult) (bool, error)
}

// Orchestrator drives the scan pipeline. The validator and presence caches
// outlive a single Run until Reset is called.
type Orchestrator struct {
	cfg       Config
	adapters  []providers.Adapter
	fetcher   validator.Fetcher
	validator *validator.Validator
	presence  *presence.Prober
	scanner   *secrets.Scanner
	pacers    *providers.Pacers
	judge     FalsePositiveJudge
	logger    *slog.Logger
	newID     func() string
	now       func() time.Time

	mu       sync.Mutex
	failures *failures.Log
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithValidator injects a validator, typically to share its cache across orchestrators
func WithValidator(v *validator.Validator) Option {
	return func(o *Orchestrator) { o.validator = v }
}

// WithPresence injects a presence prober
func WithPresence(p *presence.Prober) Option {
	return func(o *Orchestrator) { o.presence = p }
}

// WithScanner replaces the default content scanner
func WithScanner(s *secrets.Scanner) Option {
	return func(o *Orchestrator) { o.scanner = s }
}

// WithPacers injects the per-platform pacers
func WithPacers(p *providers.Pacers) Option {
	return func(o *Orchestrator) { o.pacers = p }
}

// WithJudge sets the external false-positive judge
func WithJudge(j FalsePositiveJudge) Option {
	return func(o *Orchestrator) { o.judge = j }
}

// WithLogger sets the orchestrator logger
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// New creates an orchestrator over adapters. fetcher backs link validation
// and raw content retrieval.
func New(cfg Config, adapters []providers.Adapter, fetcher validator.Fetcher, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		adapters: adapters,
		fetcher:  fetcher,
		logger:   slog.New(slog.DiscardHandler),
		newID:    uuid.NewString,
		now:      time.Now,
		failures: failures.NewLog(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.validator == nil {
		o.validator = validator.New(fetcher,
			validator.WithTimeouts(cfg.HeadTimeout, cfg.GetTimeout),
			validator.WithLogger(o.logger))
	}
	if o.pacers == nil {
		o.pacers = providers.NewPacers(cfg.BaseDelay, cfg.Jitter)
	}
	if o.presence == nil {
		o.presence = presence.New(o.validator, o.pacers, o.logger)
	}
	if o.scanner == nil {
		o.scanner = secrets.NewScanner(nil, secrets.WithLogger(o.logger))
	}
	return o
}

// Validator returns the link validator and its cache
func (o *Orchestrator) Validator() *validator.Validator {
	return o.validator
}

// Presence returns the presence prober and its cache
func (o *Orchestrator) Presence() *presence.Prober {
	return o.presence
}

// Failures returns the failure log of the most recent Run
func (o *Orchestrator) Failures() *failures.Log {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failures
}

// Reset clears the validator and presence caches between unrelated domains
func (o *Orchestrator) Reset() {
	o.validator.Reset()
	o.presence.Reset()
}
