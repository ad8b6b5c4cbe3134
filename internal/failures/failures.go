// Package failures classifies failed platform requests and keeps an append-only log of them
package failures

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/commjoen/leakscan/pkg/models"
)

// Classify maps a response status, headers and redirect chain to a failure type.
// Header lookups are case-insensitive.
func Classify(status int, headers http.Header, redirects []string) models.ErrorType {
	switch status {
	case http.StatusNotFound:
		return classify404(headers, redirects)
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return models.ErrorRateLimited
	case http.StatusForbidden:
		return models.ErrorAccessRestricted
	default:
		return models.ErrorValidResponse
	}
}

func classify404(headers http.Header, redirects []string) models.ErrorType {
	if headers.Get("X-RateLimit-Remaining") == "0" ||
		headers.Get("Cf-Ray") != "" ||
		headers.Get("X-Amzn-Requestid") != "" ||
		challenged(redirects) {
		return models.ErrorBotBlocked
	}

	// GitHub answers a real 404 without rate-limit accounting.
	if strings.Contains(headers.Get("Server"), "GitHub") && headers.Get("X-RateLimit-Limit") == "" {
		return models.ErrorGenuine404
	}
	return models.ErrorAccessRestricted
}

func challenged(redirects []string) bool {
	for _, r := range redirects {
		lr := strings.ToLower(r)
		if strings.Contains(lr, "captcha") || strings.Contains(lr, "challenge") {
			return true
		}
	}
	return false
}

// Log is a concurrency-safe, append-only list of failure records
type Log struct {
	mu      sync.Mutex
	records []models.FailureRecord
	now     func() time.Time
}

// NewLog creates an empty failure log
func NewLog() *Log {
	return &Log{now: time.Now}
}

// Append stores rec, stamping it when Timestamp is zero
func (l *Log) Append(rec models.FailureRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if rec.Timestamp.IsZero() {
		rec.Timestamp = l.now().UTC()
	}
	l.records = append(l.records, rec)
}

// Records returns a copy of every record in append order
func (l *Log) Records() []models.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.FailureRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Reportable returns the records worth surfacing; genuine 404s are dropped
func (l *Log) Reportable() []models.FailureRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []models.FailureRecord
	for _, r := range l.records {
		if r.ErrorType != models.ErrorGenuine404 {
			out = append(out, r)
		}
	}
	return out
}

// Len returns the number of records
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.records)
}

// FlattenHeaders keeps the first value of each header under its lowercased name
func FlattenHeaders(h http.Header) map[string]string {
	if len(h) == 0 {
		return nil
	}
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[strings.ToLower(k)] = v[0]
		}
	}
	return out
}
