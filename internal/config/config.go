// Package config loads leakscan settings from defaults, an optional file and the environment
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/commjoen/leakscan/internal/entropy"
	"github.com/commjoen/leakscan/internal/providers"
	"github.com/commjoen/leakscan/internal/rules"
	"github.com/commjoen/leakscan/internal/scan"
)

// EnvPrefix is prepended to every environment override, e.g. LEAKSCAN_RETRY_MAX_ATTEMPTS
const EnvPrefix = "LEAKSCAN"

// ErrInvalidConfig is wrapped by every Validate failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the full settings tree
type Config struct {
	Scan       ScanConfig         `mapstructure:"scan"`
	HTTP       HTTPConfig         `mapstructure:"http"`
	Pacing     PacingConfig       `mapstructure:"pacing"`
	Retry      RetryConfig        `mapstructure:"retry"`
	Thresholds entropy.Thresholds `mapstructure:"thresholds"`
	Platforms  []string           `mapstructure:"platforms"`
	GitHub     GitHubConfig       `mapstructure:"github"`
	GitLab     GitLabConfig       `mapstructure:"gitlab"`
	SerpAPI    SerpAPIConfig      `mapstructure:"serpapi"`
	Rules      []rules.Spec       `mapstructure:"rules"`
	Gitleaks   bool               `mapstructure:"gitleaks"`
}

type ScanConfig struct {
	Budget          time.Duration `mapstructure:"budget"`
	FetchContent    bool          `mapstructure:"fetch_content"`
	MaxContentBytes int64         `mapstructure:"max_content_bytes"`
}

type HTTPConfig struct {
	HeadTimeout   time.Duration `mapstructure:"head_timeout"`
	GetTimeout    time.Duration `mapstructure:"get_timeout"`
	SearchTimeout time.Duration `mapstructure:"search_timeout"`
	UserAgent     string        `mapstructure:"user_agent"`
}

type PacingConfig struct {
	BaseDelay time.Duration `mapstructure:"base_delay"`
	Jitter    time.Duration `mapstructure:"jitter"`
}

type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max_attempts"`
	InitialInterval time.Duration `mapstructure:"initial_interval"`
	MaxInterval     time.Duration `mapstructure:"max_interval"`
}

type GitHubConfig struct {
	Token   string `mapstructure:"token"` // #nosec G117
	BaseURL string `mapstructure:"base_url"`
	PerPage int    `mapstructure:"per_page"`
}

type GitLabConfig struct {
	Token   string `mapstructure:"token"` // #nosec G117
	BaseURL string `mapstructure:"base_url"`
	PerPage int    `mapstructure:"per_page"`
}

type SerpAPIConfig struct {
	Key     string `mapstructure:"key"` // #nosec G117
	BaseURL string `mapstructure:"base_url"`
	Results int    `mapstructure:"results"`
}

// New returns a viper instance with every default and environment binding in place.
// Callers bind their flags onto it before calling Load.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// The conventional variable names work too
	_ = v.BindEnv("github.token", EnvPrefix+"_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("gitlab.token", EnvPrefix+"_GITLAB_TOKEN", "GITLAB_TOKEN")
	_ = v.BindEnv("serpapi.key", EnvPrefix+"_SERPAPI_KEY", "SERPAPI_KEY")
	return v
}

func setDefaults(v *viper.Viper) {
	d := scan.DefaultConfig()

	v.SetDefault("scan.budget", d.Budget)
	v.SetDefault("scan.fetch_content", d.FetchContent)
	v.SetDefault("scan.max_content_bytes", d.MaxContentBytes)

	v.SetDefault("http.head_timeout", d.HeadTimeout)
	v.SetDefault("http.get_timeout", d.GetTimeout)
	v.SetDefault("http.search_timeout", 15*time.Second)
	v.SetDefault("http.user_agent", "leakscan/1.0")

	v.SetDefault("pacing.base_delay", d.BaseDelay)
	v.SetDefault("pacing.jitter", d.Jitter)

	v.SetDefault("retry.max_attempts", d.Retry.MaxAttempts)
	v.SetDefault("retry.initial_interval", d.Retry.InitialInterval)
	v.SetDefault("retry.max_interval", d.Retry.MaxInterval)

	v.SetDefault("thresholds.password_entropy", d.Thresholds.PasswordEntropy)
	v.SetDefault("thresholds.confidence_floor", d.Thresholds.ConfidenceFloor)
	v.SetDefault("thresholds.min_confidence", d.Thresholds.MinConfidence)
	v.SetDefault("thresholds.low_entropy", d.Thresholds.LowEntropy)
	v.SetDefault("thresholds.low_entropy_penalty", d.Thresholds.LowEntropyPenalty)

	v.SetDefault("platforms", []string{"github", "serpapi"})

	v.SetDefault("github.token", "")
	v.SetDefault("github.base_url", "https://api.github.com")
	v.SetDefault("github.per_page", 30)

	v.SetDefault("gitlab.token", "")
	v.SetDefault("gitlab.base_url", "https://gitlab.com")
	v.SetDefault("gitlab.per_page", 20)

	v.SetDefault("serpapi.key", "")
	v.SetDefault("serpapi.base_url", "https://serpapi.com")
	v.SetDefault("serpapi.results", 10)

	v.SetDefault("rules", []rules.Spec{})
	v.SetDefault("gitleaks", false)
}

// Load reads file (if not empty) into v, decodes the result and validates it
func Load(v *viper.Viper, file string) (*Config, error) {
	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Platforms = normalizePlatforms(cfg.Platforms)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// normalizePlatforms lowercases names and splits comma lists coming from the environment
func normalizePlatforms(in []string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, p := range in {
		for _, name := range strings.Split(p, ",") {
			name = strings.ToLower(strings.TrimSpace(name))
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

// Validate rejects values the scanner cannot run with
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.Scan.Budget >= 0, "scan.budget must not be negative")
	check(c.Scan.MaxContentBytes > 0, "scan.max_content_bytes must be positive")
	check(c.HTTP.HeadTimeout > 0, "http.head_timeout must be positive")
	check(c.HTTP.GetTimeout > 0, "http.get_timeout must be positive")
	check(c.HTTP.SearchTimeout > 0, "http.search_timeout must be positive")
	check(c.Pacing.BaseDelay >= 0, "pacing.base_delay must not be negative")
	check(c.Pacing.Jitter >= 0, "pacing.jitter must not be negative")
	check(c.Retry.MaxAttempts >= 1, "retry.max_attempts must be at least 1")
	check(c.Retry.InitialInterval >= 0, "retry.initial_interval must not be negative")
	check(c.Retry.MaxInterval >= c.Retry.InitialInterval, "retry.max_interval must not be below retry.initial_interval")
	check(c.Thresholds.MinConfidence >= 0 && c.Thresholds.MinConfidence <= 100, "thresholds.min_confidence must be within 0..100")
	check(c.Thresholds.ConfidenceFloor >= 0 && c.Thresholds.ConfidenceFloor <= 100, "thresholds.confidence_floor must be within 0..100")
	check(c.Thresholds.LowEntropyPenalty >= 0, "thresholds.low_entropy_penalty must not be negative")
	check(len(c.Platforms) > 0, "at least one platform is required")
	check(c.GitHub.PerPage >= 1 && c.GitHub.PerPage <= 100, "github.per_page must be within 1..100")
	check(c.GitLab.PerPage >= 1 && c.GitLab.PerPage <= 100, "gitlab.per_page must be within 1..100")
	check(c.SerpAPI.Results >= 1 && c.SerpAPI.Results <= 100, "serpapi.results must be within 1..100")

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// ScanConfig converts the settings into orchestrator tunables
func (c *Config) ScanConfig() scan.Config {
	return scan.Config{
		Budget:          c.Scan.Budget,
		FetchContent:    c.Scan.FetchContent,
		MaxContentBytes: c.Scan.MaxContentBytes,
		HeadTimeout:     c.HTTP.HeadTimeout,
		GetTimeout:      c.HTTP.GetTimeout,
		BaseDelay:       c.Pacing.BaseDelay,
		Jitter:          c.Pacing.Jitter,
		Retry: scan.RetryConfig{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
		},
		Thresholds: c.Thresholds,
	}
}

// GitHubAdapter returns the GitHub adapter settings
func (c *Config) GitHubAdapter() providers.GitHubConfig {
	return providers.GitHubConfig{
		Token:     c.GitHub.Token,
		BaseURL:   c.GitHub.BaseURL,
		Timeout:   c.HTTP.SearchTimeout,
		PerPage:   c.GitHub.PerPage,
		UserAgent: c.HTTP.UserAgent,
	}
}

// GitLabAdapter returns the GitLab adapter settings
func (c *Config) GitLabAdapter() providers.GitLabConfig {
	return providers.GitLabConfig{
		Token:     c.GitLab.Token,
		BaseURL:   c.GitLab.BaseURL,
		Timeout:   c.HTTP.SearchTimeout,
		PerPage:   c.GitLab.PerPage,
		UserAgent: c.HTTP.UserAgent,
	}
}

// SerpAPIAdapter returns the SerpAPI adapter settings
func (c *Config) SerpAPIAdapter() providers.SerpAPIConfig {
	return providers.SerpAPIConfig{
		APIKey:  c.SerpAPI.Key,
		BaseURL: c.SerpAPI.BaseURL,
		Timeout: c.HTTP.SearchTimeout,
		Results: c.SerpAPI.Results,
	}
}
