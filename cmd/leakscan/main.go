// leakscan is a command-line tool that searches public code hosts and search engines for leaked secrets of a domain
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/commjoen/leakscan/internal/config"
	"github.com/commjoen/leakscan/internal/dns"
	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/internal/output"
	"github.com/commjoen/leakscan/internal/providers"
	"github.com/commjoen/leakscan/internal/reachability"
	"github.com/commjoen/leakscan/internal/rules"
	"github.com/commjoen/leakscan/internal/scan"
	"github.com/commjoen/leakscan/internal/secrets"
	"github.com/commjoen/leakscan/internal/whois"
	"github.com/commjoen/leakscan/pkg/models"
)

const maxDomains = 100

var (
	// CLI flags
	domains     string
	format      string
	outputFile  string
	cfgFile     string
	verbose     bool
	progress    bool
	enableDig   bool
	enableWhois bool

	// settings holds defaults, environment and the flags bound below
	settings = config.New()

	// Version information (set during build)
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "leakscan",
	Short: "Leaked secret discovery for domains",
	Long: `leakscan searches public code hosts and search engines for content that
leaks a domain's credentials, keys and configuration. It first checks
whether the domain is referenced on each platform at all, then runs
targeted queries, validates every hit, scans the content for secrets
and scores each finding.

Platforms:
  --platforms github,gitlab,serpapi (default github,serpapi)
    - github   (GitHub code search) requires GITHUB_TOKEN in environment
    - gitlab   (GitLab blob search) requires GITLAB_TOKEN in environment
    - serpapi  (Google via SerpAPI) requires SERPAPI_KEY in environment
If you request a platform without the required key set, the command will fail with a clear error.`,
	Example: `  # Scan one domain on GitHub
  export GITHUB_TOKEN=your_token
  leakscan --domains example.com --platforms github

  # Multiple domains with JSON output
  leakscan --domains example.com,example.org --format json

  # Save results to file, fetching raw file content and using gitleaks rules
  leakscan --domains example.com --format csv --out results.csv --fetch-content --gitleaks

  # Attach DNS and WHOIS context to the report
  leakscan --domains example.com --dig --whois

  # Load settings from a file
  leakscan --domains example.com --config leakscan.yaml`,
	RunE: run,
}

func init() {
	initVersion()
	rootCmd.Version = version

	flags := rootCmd.Flags()
	flags.StringVarP(&domains, "domains", "d", "", "Comma-separated list of target domains (required)")
	flags.StringVarP(&format, "format", "f", "text", "Output format: text, json, csv or yaml")
	flags.StringVarP(&outputFile, "out", "o", "", "Write output to file (default: stdout)")
	flags.StringVar(&cfgFile, "config", "", "Config file (YAML, JSON or TOML)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	flags.BoolVarP(&progress, "progress", "p", false, "Show progress bar during scan")
	flags.BoolVar(&enableDig, "dig", false, "Attach DNS records (A/MX/NS/TXT) to the report")
	flags.BoolVar(&enableWhois, "whois", false, "Attach WHOIS registration data to the report")

	// These override the config file and environment
	flags.StringSlice("platforms", nil, "Comma-separated platforms to search: github,gitlab,serpapi")
	flags.DurationP("timeout", "t", 0, "Time budget per domain (default 10m)")
	flags.Bool("fetch-content", false, "Fetch raw file content for hits that expose it")
	flags.Bool("gitleaks", false, "Also scan content with the gitleaks default ruleset")
	flags.Int("max-attempts", 0, "Attempts per rate-limited query (default 3)")

	bindings := map[string]string{
		"platforms":          "platforms",
		"scan.budget":        "timeout",
		"scan.fetch_content": "fetch-content",
		"gitleaks":           "gitleaks",
		"retry.max_attempts": "max-attempts",
	}
	for key, name := range bindings {
		if err := settings.BindPFlag(key, flags.Lookup(name)); err != nil {
			fmt.Fprintf(os.Stderr, "Fatal: failed to bind --%s: %v\n", name, err)
			os.Exit(1)
		}
	}

	rootCmd.SetVersionTemplate("leakscan version {{.Version}}\n")

	// MarkFlagRequired only returns an error if the flag doesn't exist.
	if err := rootCmd.MarkFlagRequired("domains"); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal: failed to mark 'domains' flag as required: %v\n", err)
		os.Exit(1)
	}
}

// initVersion fills version from the module build info unless it was set with -ldflags
func initVersion() {
	if version != "dev" && version != "" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

func run(cmd *cobra.Command, args []string) error {
	domainList := parseDomains(domains)
	if len(domainList) == 0 {
		return fmt.Errorf("no valid domains provided")
	}

	// Security: Limit domain list size to prevent abuse
	if len(domainList) > maxDomains {
		return fmt.Errorf("too many domains specified (max %d, got %d)", maxDomains, len(domainList))
	}

	for _, d := range domainList {
		if err := domain.Validate(d); err != nil {
			return fmt.Errorf("invalid domain %q: %w", d, err)
		}
	}

	formatter, err := output.NewFormatter(format)
	if err != nil {
		return err
	}

	cfg, err := config.Load(settings, cfgFile)
	if err != nil {
		return err
	}

	logger := newLogger(os.Stderr, verbose)
	logger.Debug("parsed domains", "domains", domainList)

	adapters, err := buildAdapters(cfg)
	if err != nil {
		return err
	}

	scanner, err := buildScanner(cfg, logger)
	if err != nil {
		return err
	}

	// Set up context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		select {
		case <-sigChan:
			logger.Warn("received interrupt, finishing with partial results")
			cancel()
		case <-ctx.Done():
		}
	}()

	// The fallback covers requests without their own timeout, so take the longer one
	fetcher := reachability.NewClient(max(cfg.HTTP.HeadTimeout, cfg.HTTP.GetTimeout), cfg.HTTP.UserAgent)
	orch := scan.New(cfg.ScanConfig(), adapters, fetcher,
		scan.WithScanner(scanner),
		scan.WithLogger(logger))

	var dnsClient *dns.Client
	if enableDig {
		dnsClient = dns.NewClient(0)
	}
	var whoisClient *whois.Client
	if enableWhois {
		whoisClient = whois.NewClient(0)
	}

	reports := scanDomains(ctx, orch, domainList, logger, dnsClient, whoisClient)

	if progress {
		printProgress("done", len(domainList), len(domainList))
		fmt.Fprintf(os.Stderr, "\r%s\r", strings.Repeat(" ", 80))
	}

	if err := outputResults(formatter, reports); err != nil {
		return err
	}
	if ctx.Err() != nil {
		return errors.New("scan interrupted, results are partial")
	}
	return nil
}

// scanDomains scans each domain in turn. The orchestrator caches are reset
// before every domain so validation results never leak across targets.
func scanDomains(ctx context.Context, orch *scan.Orchestrator, domainList []string, logger *slog.Logger, dnsClient *dns.Client, whoisClient *whois.Client) []*models.Report {
	reports := make([]*models.Report, 0, len(domainList))
	for i, d := range domainList {
		if ctx.Err() != nil {
			break
		}
		if progress {
			printProgress(d, i, len(domainList))
		}

		orch.Reset()
		rep, err := orch.Run(ctx, d)
		if err != nil {
			logger.Error("scan failed", "domain", d, "error", err)
			continue
		}
		if dnsClient != nil || whoisClient != nil {
			rep.Footprint = footprint(ctx, d, dnsClient, whoisClient)
		}
		reports = append(reports, rep)
	}
	return reports
}

func parseDomains(input string) []string {
	result := []string{}
	for _, d := range strings.Split(input, ",") {
		if d = domain.Normalize(d); d != "" {
			result = append(result, d)
		}
	}
	return result
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// credentialEnv names the variable each platform needs
var credentialEnv = map[string]string{
	"github":  "GITHUB_TOKEN",
	"gitlab":  "GITLAB_TOKEN",
	"serpapi": "SERPAPI_KEY",
}

// buildAdapters registers every supported platform and selects the configured ones
func buildAdapters(cfg *config.Config) ([]providers.Adapter, error) {
	registry := providers.NewRegistry()
	registry.Register(providers.NewGitHub(cfg.GitHubAdapter()))
	registry.Register(providers.NewGitLab(cfg.GitLabAdapter()))
	registry.Register(providers.NewSerpAPI(cfg.SerpAPIAdapter()))

	adapters, err := registry.Select(cfg.Platforms)
	if err != nil {
		return nil, fmt.Errorf("%w. Supported: %s", err, strings.Join(registry.Names(), ","))
	}

	for _, a := range adapters {
		if av, ok := a.(interface{ IsAvailable() bool }); ok && !av.IsAvailable() {
			return nil, fmt.Errorf("%s is required for platform '%s'", credentialEnv[a.Name()], a.Name())
		}
	}
	return adapters, nil
}

// buildScanner loads custom rules on top of the built-in set and adds gitleaks when enabled
func buildScanner(cfg *config.Config, logger *slog.Logger) (*secrets.Scanner, error) {
	reg := rules.Default()
	if n := reg.Load(cfg.Rules, logger); n > 0 {
		logger.Debug("loaded custom rules", "count", n)
	}

	opts := []secrets.Option{secrets.WithLogger(logger)}
	if cfg.Gitleaks {
		d, err := secrets.NewGitleaksDetector()
		if err != nil {
			return nil, fmt.Errorf("failed to set up gitleaks: %w", err)
		}
		opts = append(opts, secrets.WithDetector(d))
	}
	return secrets.NewScanner(reg, opts...), nil
}

// footprint gathers the optional DNS and WHOIS context. Lookup failures are
// recorded on the footprint and never fail the scan.
func footprint(ctx context.Context, name string, dnsClient *dns.Client, whoisClient *whois.Client) *models.Footprint {
	fp := &models.Footprint{}
	var problems []string

	if dnsClient != nil {
		rec, err := dnsClient.Lookup(ctx, name)
		if rec != nil {
			fp.Resolves = rec.Resolves()
			fp.A, fp.MX, fp.NS, fp.TXT = rec.A, rec.MX, rec.NS, rec.TXT
		}
		if err != nil {
			problems = append(problems, "dns: "+err.Error())
		}
	}

	if whoisClient != nil {
		reg, err := whoisClient.Lookup(ctx, name)
		if err != nil {
			problems = append(problems, "whois: "+err.Error())
		} else {
			applyRegistration(fp, reg)
		}
	}

	fp.Error = strings.Join(problems, "; ")
	return fp
}

// applyRegistration copies the WHOIS registration into fp
func applyRegistration(fp *models.Footprint, reg *whois.Registration) {
	fp.Registrar = reg.Registrar
	fp.CreationDate = reg.CreationDate
	fp.ExpirationDate = reg.ExpirationDate
	fp.Nameservers = reg.Nameservers
}

// printProgress displays a progress bar
func printProgress(label string, current, total int) {
	if total <= 0 {
		return
	}
	percentage := float64(current) / float64(total) * 100
	barWidth := 40
	filled := barWidth * current / total
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)
	fmt.Fprintf(os.Stderr, "\r[%s] %3.0f%% (%d/%d) %s", bar, percentage, current, total, label)
}

// validateOutputPath performs security validation on the output file path
func validateOutputPath(path string) error {
	if path == "" {
		return nil
	}

	cleanPath := filepath.Clean(path)
	if filepath.IsAbs(cleanPath) {
		sensitivePatterns := []string{"/etc/", "/var/", "/usr/", "/bin/", "/sbin/", "/root/"}
		for _, pattern := range sensitivePatterns {
			if strings.HasPrefix(cleanPath, pattern) {
				return fmt.Errorf("refusing to write to sensitive system location: %s", cleanPath)
			}
		}
	}
	return nil
}

func outputResults(formatter output.Formatter, reports []*models.Report) error {
	if outputFile == "" {
		return formatter.Write(os.Stdout, reports)
	}

	if err := validateOutputPath(outputFile); err != nil {
		return err
	}

	// #nosec G304 -- User-provided output file path is intentional for CLI tool
	f, err := os.Create(filepath.Clean(outputFile))
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() { _ = f.Close() }()

	return formatter.Write(f, reports)
}
