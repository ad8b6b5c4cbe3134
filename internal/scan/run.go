package scan

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/internal/entropy"
	"github.com/commjoen/leakscan/internal/failures"
	"github.com/commjoen/leakscan/internal/providers"
	"github.com/commjoen/leakscan/internal/query"
	"github.com/commjoen/leakscan/internal/validator"
	"github.com/commjoen/leakscan/pkg/models"
)

// Pipeline states, logged on every transition
const (
	stateInit            = "INIT"
	statePresenceCheck   = "PRESENCE_CHECK"
	stateSkipped         = "SKIPPED"
	stateQuerying        = "QUERYING"
	stateValidating      = "VALIDATING"
	stateScanningContent = "SCANNING_CONTENT"
	stateScoring         = "SCORING"
	stateDedupFilter     = "DEDUP_FILTER"
	stateSummarized      = "SUMMARIZED"
)

// run is the per-scan working set
type run struct {
	id       string
	domain   domain.Name
	failures *failures.Log
	report   *models.Report
}

// candidate is a validated hit moving through scanning and scoring
type candidate struct {
	hit      models.PlatformHit
	findings []models.SecretFinding
}

// Run scans input. Only an invalid domain returns an error; cancellation and
// budget exhaustion yield a partial report with Cancelled set.
func (o *Orchestrator) Run(ctx context.Context, input string) (*models.Report, error) {
	d, err := domain.Parse(input)
	if err != nil {
		return nil, err
	}

	if o.cfg.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.Budget)
		defer cancel()
	}

	r := &run{
		id:       o.newID(),
		domain:   d,
		failures: failures.NewLog(),
	}
	r.report = &models.Report{
		ScanID:    r.id,
		Domain:    d.String(),
		StartedAt: o.now().UTC(),
	}
	o.mu.Lock()
	o.failures = r.failures
	o.mu.Unlock()

	o.transition(r, stateInit)

	o.transition(r, statePresenceCheck)
	found := o.checkPresence(ctx, r)

	if len(found) == 0 {
		o.transition(r, stateSkipped)
		return o.finish(ctx, r, models.StateSkipped), nil
	}

	o.transition(r, stateQuerying)
	hits := o.query(ctx, r, found)

	o.transition(r, stateValidating)
	valid := o.validate(ctx, r, hits)

	o.transition(r, stateScanningContent)
	o.scanContent(ctx, valid)

	o.transition(r, stateScoring)
	results := o.score(valid)

	o.transition(r, stateDedupFilter)
	r.report.Results = o.filter(ctx, dedup(results))

	o.transition(r, stateSummarized)
	return o.finish(ctx, r, models.StateSummarized), nil
}

func (o *Orchestrator) transition(r *run, state string) {
	o.logger.Debug("scan state", "scan_id", r.id, "domain", r.domain.String(), "state", state)
}

// checkPresence probes every adapter concurrently and returns those that found the domain
func (o *Orchestrator) checkPresence(ctx context.Context, r *run) []providers.Adapter {
	results := make([]models.DomainPresenceResult, len(o.adapters))

	var g errgroup.Group
	for i, a := range o.adapters {
		g.Go(func() error {
			results[i] = o.presence.Check(ctx, r.domain, a)
			return nil
		})
	}
	_ = g.Wait()

	r.report.Presence = results

	var found []providers.Adapter
	for i, a := range o.adapters {
		if results[i].Found {
			found = append(found, a)
		}
	}
	return found
}

// query runs each found platform's dialect queries; platforms run concurrently,
// queries within a platform run sequentially through its pacer
func (o *Orchestrator) query(ctx context.Context, r *run, adapters []providers.Adapter) []models.PlatformHit {
	all := query.Generate(r.domain)
	perAdapter := make([][]models.PlatformHit, len(adapters))

	dialects := make(map[models.Dialect]bool)
	for _, a := range adapters {
		dialects[a.Dialect()] = true
	}
	for _, q := range all {
		if dialects[q.Dialect] {
			r.report.Queries = append(r.report.Queries, q)
		}
	}

	var g errgroup.Group
	for i, a := range adapters {
		g.Go(func() error {
			for _, q := range query.ForDialect(all, a.Dialect()) {
				if ctx.Err() != nil {
					return nil
				}
				perAdapter[i] = append(perAdapter[i], o.search(ctx, r, a, q)...)
			}
			return nil
		})
	}
	_ = g.Wait()

	var hits []models.PlatformHit
	for _, h := range perAdapter {
		hits = append(hits, h...)
	}
	return hits
}

// search runs one query, retrying only failures that classify as rate limited
func (o *Orchestrator) search(ctx context.Context, r *run, a providers.Adapter, q models.SearchQuery) []models.PlatformHit {
	pacer := o.pacers.For(a.Name())

	var (
		hits     []models.PlatformHit
		attempts int
		last     models.FailureRecord
	)

	operation := func() error {
		if err := pacer.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		attempts++

		var err error
		hits, err = a.Search(ctx, q, r.domain)
		if err == nil {
			return nil
		}

		last = failureRecord(a.Name(), q.Text, err)
		if last.ErrorType == models.ErrorRateLimited && ctx.Err() == nil {
			o.logger.Info("search rate limited, will retry",
				"platform", a.Name(), "query", q.Text, "attempt", attempts)
			return err
		}
		return backoff.Permanent(err)
	}

	err := backoff.Retry(operation, o.backOff(ctx))
	if err == nil {
		o.logger.Debug("search completed", "platform", a.Name(), "query", q.Text, "hits", len(hits))
		return hits
	}

	// Waiting on the pacer was interrupted before any attempt was made
	if attempts == 0 {
		return nil
	}

	last.Attempts = attempts
	r.failures.Append(last)
	o.logger.Warn("search failed",
		"platform", a.Name(),
		"query", q.Text,
		"error_type", last.ErrorType,
		"attempts", attempts,
		"error", err)
	return nil
}

func (o *Orchestrator) backOff(ctx context.Context) backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	if o.cfg.Retry.InitialInterval > 0 {
		exp.InitialInterval = o.cfg.Retry.InitialInterval
	}
	if o.cfg.Retry.MaxInterval > 0 {
		exp.MaxInterval = o.cfg.Retry.MaxInterval
	}
	exp.MaxElapsedTime = 0

	retries := 0
	if o.cfg.Retry.MaxAttempts > 1 {
		retries = o.cfg.Retry.MaxAttempts - 1
	}
	return backoff.WithContext(backoff.WithMaxRetries(exp, uint64(retries)), ctx)
}

// failureRecord turns a search error into a FailureRecord
func failureRecord(platform, q string, err error) models.FailureRecord {
	rec := models.FailureRecord{
		Query:    q,
		Platform: platform,
		Message:  err.Error(),
	}

	var ae *providers.AdapterError
	if !errors.As(err, &ae) {
		rec.Kind = string(providers.KindNetwork)
		rec.ErrorType = models.ErrorValidResponse
		return rec
	}

	rec.Kind = string(ae.Kind)
	rec.StatusCode = ae.StatusCode
	rec.Headers = failures.FlattenHeaders(ae.Headers)
	rec.RedirectPath = ae.Redirects
	rec.ErrorType = failures.Classify(ae.StatusCode, ae.Headers, ae.Redirects)

	// The adapter knows about quota signals the status alone cannot show
	if ae.Kind == providers.KindRateLimited && rec.ErrorType != models.ErrorBotBlocked {
		rec.ErrorType = models.ErrorRateLimited
	}
	return rec
}

// validate keeps hits whose link is live and records the rest as rejected
func (o *Orchestrator) validate(ctx context.Context, r *run, hits []models.PlatformHit) []*candidate {
	var valid []*candidate
	for _, h := range hits {
		if ctx.Err() != nil {
			break
		}

		res := o.validator.Validate(ctx, h.Link)
		if res.IsValid && res.IsAccessible {
			valid = append(valid, &candidate{hit: h})
			continue
		}

		r.report.Rejected = append(r.report.Rejected, models.RejectedHit{
			Platform:   h.Platform,
			Link:       h.Link,
			Title:      h.Title,
			Reason:     res.Reason,
			StatusCode: res.StatusCode,
		})
		o.logger.Info("result rejected",
			"platform", h.Platform,
			"title", h.Title,
			"url", h.Link,
			"reason", res.Reason)
	}
	return valid
}

// scanContent runs the secret scanner over each candidate's snippet and, when enabled, its raw body
func (o *Orchestrator) scanContent(ctx context.Context, cands []*candidate) {
	var wg sync.WaitGroup
	for _, c := range cands {
		content := c.hit.Snippet
		if o.cfg.FetchContent && c.hit.RawURL != "" && ctx.Err() == nil {
			if body, ok := o.fetchRaw(ctx, c.hit.RawURL); ok {
				content = strings.TrimSpace(content + "\n" + body)
			}
		}

		file := c.hit.File
		if file == "" {
			file = lastSegment(c.hit.Link)
		}

		wg.Add(1)
		go func(c *candidate, file, content string) {
			defer wg.Done()
			c.findings = o.scanner.Scan(c.hit.Link, file, content)
		}(c, file, content)
	}
	wg.Wait()
}

func (o *Orchestrator) fetchRaw(ctx context.Context, rawURL string) (string, bool) {
	if o.fetcher == nil {
		return "", false
	}
	resp, err := o.fetcher.Fetch(ctx, validator.Request{
		Method:   http.MethodGet,
		URL:      rawURL,
		Timeout:  o.cfg.GetTimeout,
		MaxBytes: o.cfg.MaxContentBytes,
	})
	if err != nil {
		o.logger.Debug("raw content fetch failed", "url", rawURL, "error", err)
		return "", false
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		o.logger.Debug("raw content fetch failed", "url", rawURL, "status", resp.StatusCode)
		return "", false
	}
	return string(resp.Body), true
}

// score refines each finding with entropy, drops weak ones and grades the result
func (o *Orchestrator) score(cands []*candidate) []models.LeakResult {
	th := o.cfg.Thresholds
	results := make([]models.LeakResult, 0, len(cands))

	for _, c := range cands {
		var kept []models.SecretFinding
		worst := ""
		for _, f := range c.findings {
			e := entropy.Shannon(f.Match)
			f.Entropy = e
			f.Confidence = entropy.Refine(f.Confidence, e, th)
			if f.Confidence < th.MinConfidence {
				continue
			}
			f.RiskScore = entropy.RiskScore(f.Type, f.Confidence, e, th)
			f.Severity = entropy.SeverityForScore(f.RiskScore)
			if entropy.SeverityRank(f.Severity) > entropy.SeverityRank(worst) {
				worst = f.Severity
			}
			kept = append(kept, f)
		}

		if worst == "" {
			worst = query.AssessRisk(c.hit.Query)
		}

		results = append(results, models.LeakResult{
			Source:      c.hit.Platform,
			URL:         c.hit.Link,
			Title:       c.hit.Title,
			Severity:    worst,
			Description: describe(c.hit, kept),
			Repository:  c.hit.Repository,
			Query:       c.hit.Query,
			Findings:    kept,
		})
	}
	return results
}

func describe(h models.PlatformHit, findings []models.SecretFinding) string {
	if len(findings) == 0 {
		return fmt.Sprintf("Matched query %s on %s", h.Query, h.Platform)
	}

	var types []string
	seen := make(map[string]bool)
	for _, f := range findings {
		if !seen[f.Type] {
			seen[f.Type] = true
			types = append(types, f.Type)
		}
	}
	return fmt.Sprintf("%d potential secret(s): %s", len(findings), strings.Join(types, ", "))
}

func (o *Orchestrator) finish(ctx context.Context, r *run, state models.ScanState) *models.Report {
	rep := r.report
	rep.State = state
	rep.Cancelled = ctx.Err() != nil
	rep.Failures = r.failures.Records()
	rep.ValidationStats = o.validator.Stats()
	if rep.Results == nil {
		rep.Results = []models.LeakResult{}
	}
	rep.Summary = summarize(rep)
	rep.FinishedAt = o.now().UTC()

	o.logger.Info("scan finished",
		"scan_id", rep.ScanID,
		"domain", rep.Domain,
		"state", rep.State,
		"results", len(rep.Results),
		"rejected", len(rep.Rejected),
		"failures", len(rep.Failures),
		"cancelled", rep.Cancelled,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	return rep
}

func lastSegment(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(u.Path)
}
