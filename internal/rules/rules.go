// Package rules holds the secret detection ruleset
package rules

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	regexp "github.com/wasilibs/go-re2"
)

// Severity is the intrinsic severity of a rule
type Severity string

const (
	SeverityLow    Severity = "Low"
	SeverityMedium Severity = "Medium"
	SeverityHigh   Severity = "High"
)

// TypeSensitiveFileName is matched by the scanner to pin confidence at 99
const TypeSensitiveFileName = "Sensitive File Name"

// Rule is a single named detection pattern
type Rule struct {
	Type     string
	Pattern  *regexp.Regexp
	Severity Severity
	Explain  func(match string) string
	Fix      func(match string) string
}

// Find returns the first match of the rule on line
func (r Rule) Find(line string) (string, bool) {
	loc := r.Pattern.FindStringIndex(line)
	if loc == nil {
		return "", false
	}
	return line[loc[0]:loc[1]], true
}

// Explanation returns the rule's explanation for match, or a generic one
func (r Rule) Explanation(match string) string {
	if r.Explain == nil {
		return fmt.Sprintf("%s pattern matched.", r.Type)
	}
	return r.Explain(match)
}

// Remediation returns the fix for match, empty when the rule has none
func (r Rule) Remediation(match string) string {
	if r.Fix == nil {
		return ""
	}
	return r.Fix(match)
}

// RuleEvaluationError reports a rule that could not be compiled or evaluated
type RuleEvaluationError struct {
	Type    string
	Pattern string
	Err     error
}

func (e *RuleEvaluationError) Error() string {
	return fmt.Sprintf("rule %q (%s): %v", e.Type, e.Pattern, e.Err)
}

func (e *RuleEvaluationError) Unwrap() error { return e.Err }

var (
	errMissingType    = errors.New("rule type is required")
	errMissingPattern = errors.New("rule pattern is required")
)

// Registry is an ordered, concurrency-safe collection of rules
type Registry struct {
	mu    sync.RWMutex
	rules []Rule
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{}
}

// Default returns a registry preloaded with the built-in rules
func Default() *Registry {
	r := NewRegistry()
	for _, rule := range builtin() {
		// Built-ins are compiled with MustCompile and always valid.
		_ = r.Add(rule)
	}
	return r
}

// Add appends a rule after checking it is usable
func (r *Registry) Add(rule Rule) error {
	if strings.TrimSpace(rule.Type) == "" {
		return &RuleEvaluationError{Err: errMissingType}
	}
	if rule.Pattern == nil {
		return &RuleEvaluationError{Type: rule.Type, Err: errMissingPattern}
	}
	if rule.Severity == "" {
		rule.Severity = SeverityMedium
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
	return nil
}

// AddPattern compiles expr and appends it as a rule with static explanation text
func (r *Registry) AddPattern(typ, expr string, severity Severity, explanation, fix string) error {
	re, err := regexp.Compile(expr)
	if err != nil {
		return &RuleEvaluationError{Type: typ, Pattern: expr, Err: err}
	}

	rule := Rule{Type: typ, Pattern: re, Severity: severity}
	if explanation != "" {
		rule.Explain = static(explanation)
	}
	if fix != "" {
		rule.Fix = static(fix)
	}
	return r.Add(rule)
}

// Rules returns a snapshot of the registered rules in insertion order
func (r *Registry) Rules() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, len(r.rules))
	copy(out, r.rules)
	return out
}

// Len returns the number of registered rules
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules)
}

// Spec is a rule definition loaded from configuration
type Spec struct {
	Type        string `mapstructure:"type" json:"type" yaml:"type"`
	Pattern     string `mapstructure:"pattern" json:"pattern" yaml:"pattern"`
	Severity    string `mapstructure:"severity" json:"severity" yaml:"severity"`
	Explanation string `mapstructure:"explanation" json:"explanation" yaml:"explanation"`
	Fix         string `mapstructure:"fix" json:"fix" yaml:"fix"`
}

// Load adds every spec to the registry. Bad specs are logged and skipped;
// the number of rules added is returned.
func (r *Registry) Load(specs []Spec, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	added := 0
	for _, s := range specs {
		if err := r.AddPattern(s.Type, s.Pattern, ParseSeverity(s.Severity), s.Explanation, s.Fix); err != nil {
			logger.Warn("skipping custom rule", "type", s.Type, "error", err)
			continue
		}
		added++
	}
	return added
}

// ParseSeverity reads a case-insensitive severity, defaulting to Medium
func ParseSeverity(s string) Severity {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SeverityLow
	case "high":
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func static(s string) func(string) string {
	return func(string) string { return s }
}
