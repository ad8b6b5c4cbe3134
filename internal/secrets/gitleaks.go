package secrets

import (
	"fmt"
	"strings"

	"github.com/zricethezav/gitleaks/v8/detect"
	"github.com/zricethezav/gitleaks/v8/report"

	"github.com/commjoen/leakscan/internal/rules"
)

// GitleaksDetector runs the gitleaks default ruleset over content
type GitleaksDetector struct {
	detector *detect.Detector
}

// NewGitleaksDetector loads the embedded gitleaks configuration
func NewGitleaksDetector() (*GitleaksDetector, error) {
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to create gitleaks detector: %w", err)
	}
	return &GitleaksDetector{detector: d}, nil
}

// Name returns the detector name
func (g *GitleaksDetector) Name() string {
	return "gitleaks"
}

// Detect scans content with gitleaks
func (g *GitleaksDetector) Detect(content string) []Match {
	return fromGitleaks(content, g.detector.DetectString(content))
}

// fromGitleaks maps gitleaks findings onto 1-based lines of content.
// The line is located by searching for the match text; StartLine is the fallback.
func fromGitleaks(content string, found []report.Finding) []Match {
	if len(found) == 0 {
		return nil
	}

	lines := strings.Split(content, "\n")
	out := make([]Match, 0, len(found))
	for _, f := range found {
		text := f.Match
		if text == "" {
			text = f.Secret
		}
		if text == "" {
			continue
		}

		line := 0
		for i, l := range lines {
			if strings.Contains(l, text) {
				line = i + 1
				break
			}
		}
		if line == 0 {
			line = f.StartLine + 1
		}

		out = append(out, Match{
			Line:        line,
			Text:        text,
			Type:        ruleType(f.RuleID),
			Severity:    rules.SeverityHigh,
			Explanation: f.Description,
			Fix:         "Revoke the credential and remove it from the published content.",
		})
	}
	return out
}

// ruleType turns a gitleaks rule id like "aws-access-token" into "aws access token"
func ruleType(id string) string {
	if id == "" {
		return "gitleaks finding"
	}
	return strings.ReplaceAll(id, "-", " ")
}
