// Package secrets scans text content for leaked credentials
package secrets

import (
	"fmt"
	"log/slog"
	"strings"

	regexp "github.com/wasilibs/go-re2"

	"github.com/commjoen/leakscan/internal/rules"
	"github.com/commjoen/leakscan/pkg/models"
)

const (
	confidenceDefault   = 80
	confidenceComment   = 40
	confidenceConfig    = 95
	confidenceSensitive = 99

	maxSnippetRunes = 200
)

var (
	commentLine = regexp.MustCompile(`^\s*(#|//|/\*|\*|<!--)`)
	configFile  = regexp.MustCompile(`(?i)(\.(env|json|ya?ml|ini|conf|config)|settings\.py)$`)
)

// Match is a raw hit produced by a Detector
type Match struct {
	Line        int // 1-based
	Text        string
	Type        string
	Severity    rules.Severity
	Explanation string
	Fix         string
}

// Detector is a supplementary secret detector run alongside the rule registry
type Detector interface {
	Name() string
	Detect(content string) []Match
}

// Scanner evaluates every rule against every line of content
type Scanner struct {
	rules     *rules.Registry
	detectors []Detector
	logger    *slog.Logger
}

// Option configures a Scanner
type Option func(*Scanner)

// WithDetector adds a supplementary detector
func WithDetector(d Detector) Option {
	return func(s *Scanner) {
		if d != nil {
			s.detectors = append(s.detectors, d)
		}
	}
}

// WithLogger sets the scanner logger
func WithLogger(l *slog.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewScanner creates a scanner over reg. A nil registry uses the built-in rules.
func NewScanner(reg *rules.Registry, opts ...Option) *Scanner {
	if reg == nil {
		reg = rules.Default()
	}
	s := &Scanner{
		rules:  reg,
		logger: slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Scan returns one finding per (line, rule) match. Line numbers are 1-based.
func (s *Scanner) Scan(url, file, content string) []models.SecretFinding {
	if content == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	registered := s.rules.Rules()
	isConfig := configFile.MatchString(file)

	var findings []models.SecretFinding
	seen := make(map[string]struct{})

	for idx, line := range lines {
		for _, rule := range registered {
			m, ok := rule.Find(line)
			if !ok {
				continue
			}
			seen[findingKey(idx+1, m)] = struct{}{}
			findings = append(findings, models.SecretFinding{
				URL:         url,
				File:        file,
				Line:        idx + 1,
				Match:       m,
				Type:        rule.Type,
				Severity:    strings.ToLower(string(rule.Severity)),
				Explanation: rule.Explanation(m),
				Fix:         rule.Remediation(m),
				Confidence:  confidence(line, isConfig, rule.Type),
				Snippet:     snippet(line),
			})
		}
	}

	for _, d := range s.detectors {
		for _, m := range s.detect(d, content) {
			if m.Line < 1 || m.Line > len(lines) {
				continue
			}
			key := findingKey(m.Line, m.Text)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}

			line := lines[m.Line-1]
			severity := m.Severity
			if severity == "" {
				severity = rules.SeverityMedium
			}
			findings = append(findings, models.SecretFinding{
				URL:         url,
				File:        file,
				Line:        m.Line,
				Match:       m.Text,
				Type:        m.Type,
				Severity:    strings.ToLower(string(severity)),
				Explanation: m.Explanation,
				Fix:         m.Fix,
				Confidence:  confidence(line, isConfig, m.Type),
				Snippet:     snippet(line),
			})
		}
	}

	return findings
}

// detect runs one detector, isolating the scan from a detector panic
func (s *Scanner) detect(d Detector, content string) (matches []Match) {
	defer func() {
		if r := recover(); r != nil {
			err := &rules.RuleEvaluationError{Type: d.Name(), Err: fmt.Errorf("panic: %v", r)}
			s.logger.Warn("detector failed", "detector", d.Name(), "error", err)
			matches = nil
		}
	}()
	return d.Detect(content)
}

// confidence applies the line and file heuristics; later checks win
func confidence(line string, isConfig bool, typ string) int {
	c := confidenceDefault
	if commentLine.MatchString(line) {
		c = confidenceComment
	}
	if isConfig {
		c = confidenceConfig
	}
	if typ == rules.TypeSensitiveFileName {
		c = confidenceSensitive
	}
	return c
}

func snippet(line string) string {
	trimmed := strings.TrimSpace(line)
	r := []rune(trimmed)
	if len(r) > maxSnippetRunes {
		return string(r[:maxSnippetRunes])
	}
	return trimmed
}

func findingKey(line int, match string) string {
	return fmt.Sprintf("%d:%s", line, match)
}
