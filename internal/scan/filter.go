package scan

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/commjoen/leakscan/pkg/models"
)

const minTitleRunes = 10

// Link fragments that mark error or placeholder pages
var deadLinkMarkers = []string{"404", "not-found", "access-denied"}

// dedup keeps the first result for each URL
func dedup(results []models.LeakResult) []models.LeakResult {
	seen := make(map[string]struct{}, len(results))
	out := make([]models.LeakResult, 0, len(results))
	for _, r := range results {
		if _, dup := seen[r.URL]; dup {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r)
	}
	return out
}

// filter flags false positives in place. Flagged results stay in the report.
func (o *Orchestrator) filter(ctx context.Context, results []models.LeakResult) []models.LeakResult {
	for i := range results {
		r := &results[i]
		if reason := structuralFalsePositive(*r); reason != "" {
			r.IsFalsePositive = true
			o.logger.Info("result flagged as false positive", "url", r.URL, "title", r.Title, "reason", reason)
			continue
		}

		if o.judge == nil || ctx.Err() != nil {
			continue
		}
		fp, err := o.judge.IsFalsePositive(ctx, *r)
		if err != nil {
			o.logger.Warn("false positive judge failed", "url", r.URL, "error", err)
			continue
		}
		if fp {
			r.IsFalsePositive = true
			o.logger.Info("result flagged as false positive", "url", r.URL, "reason", "judge")
		}
	}
	return results
}

// structuralFalsePositive returns why r looks bogus, or "" if it does not
func structuralFalsePositive(r models.LeakResult) string {
	if len([]rune(strings.TrimSpace(r.Title))) < minTitleRunes {
		return "title too short"
	}

	lower := strings.ToLower(r.URL)
	for _, m := range deadLinkMarkers {
		if strings.Contains(lower, m) {
			return "link looks like an error page"
		}
	}

	u, err := url.Parse(r.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "link is not an absolute http(s) URL"
	}
	return ""
}

// summarize counts the report. False positives count only as such.
func summarize(rep *models.Report) *models.ScanSummary {
	s := &models.ScanSummary{
		TotalFindings: len(rep.Results),
		Failures:      len(rep.Failures),
		Rejected:      len(rep.Rejected),
	}

	for _, r := range rep.Results {
		if r.IsFalsePositive {
			s.FalsePositives++
			continue
		}
		switch r.Severity {
		case models.SeverityCritical:
			s.CriticalRisks++
		case models.SeverityHigh:
			s.HighRisks++
		case models.SeverityMedium:
			s.MediumRisks++
		default:
			s.LowRisks++
		}
	}

	if rep.State == models.StateSkipped {
		s.SummaryText = fmt.Sprintf("Scan completed for %s. The domain was not found on any platform, so no vulnerability queries were run.", rep.Domain)
	} else {
		s.SummaryText = fmt.Sprintf("Scan completed for %s. Found %d total findings: %d critical, %d high, %d medium and %d low risk. %d false positives flagged.",
			rep.Domain, s.TotalFindings, s.CriticalRisks, s.HighRisks, s.MediumRisks, s.LowRisks, s.FalsePositives)
	}
	if rep.Cancelled {
		s.SummaryText += " The scan was interrupted and the results are partial."
	}
	return s
}
