// Package models contains shared data structures used across the application
package models

import "time"

// Category groups search queries by the kind of leak they target
type Category string

const (
	CategoryCredentials Category = "credentials"
	CategoryConfig      Category = "config"
	CategoryBackup      Category = "backup"
	CategoryPII         Category = "pii"
	CategoryGeneric     Category = "generic"
)

// Dialect is the query syntax a platform understands
type Dialect string

const (
	// DialectCode is code-hosting search syntax (filename:, in:file)
	DialectCode Dialect = "code"
	// DialectWeb is search-engine dork syntax (site:, ext:, filetype:)
	DialectWeb Dialect = "web"
)

// SearchQuery is a single generated dork
type SearchQuery struct {
	Text     string   `json:"text" yaml:"text"`
	Category Category `json:"category" yaml:"category"`
	Dialect  Dialect  `json:"dialect" yaml:"dialect"`
}

// PlatformHit is a raw candidate returned by a platform adapter
type PlatformHit struct {
	Platform   string `json:"platform" yaml:"platform"`
	Query      string `json:"query" yaml:"query"`
	Title      string `json:"title" yaml:"title"`
	Link       string `json:"link" yaml:"link"`
	Snippet    string `json:"snippet,omitempty" yaml:"snippet,omitempty"`
	Repository string `json:"repository,omitempty" yaml:"repository,omitempty"`
	File       string `json:"file,omitempty" yaml:"file,omitempty"`
	RawURL     string `json:"raw_url,omitempty" yaml:"raw_url,omitempty"`
}

// ValidationResult is the outcome of probing a candidate URL
type ValidationResult struct {
	URL              string `json:"url" yaml:"url"`
	IsValid          bool   `json:"is_valid" yaml:"is_valid"`
	StatusCode       int    `json:"status_code" yaml:"status_code"`
	IsAccessible     bool   `json:"is_accessible" yaml:"is_accessible"`
	Reason           string `json:"reason,omitempty" yaml:"reason,omitempty"`
	RepositoryExists *bool  `json:"repository_exists,omitempty" yaml:"repository_exists,omitempty"`
}

// ValidationStats summarizes the validator cache
type ValidationStats struct {
	Total   int `json:"total" yaml:"total"`
	Valid   int `json:"valid" yaml:"valid"`
	Invalid int `json:"invalid" yaml:"invalid"`
}

// ErrorType classifies a failed platform request
type ErrorType string

const (
	ErrorGenuine404       ErrorType = "genuine_404"
	ErrorBotBlocked       ErrorType = "bot_blocked"
	ErrorRateLimited      ErrorType = "rate_limited"
	ErrorAccessRestricted ErrorType = "access_restricted"
	ErrorValidResponse    ErrorType = "valid_response"
)

// FailureRecord describes one failed adapter call. Records are never mutated.
type FailureRecord struct {
	Query        string            `json:"query" yaml:"query"`
	Platform     string            `json:"platform" yaml:"platform"`
	StatusCode   int               `json:"status_code" yaml:"status_code"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Timestamp    time.Time         `json:"timestamp" yaml:"timestamp"`
	RedirectPath []string          `json:"redirect_path,omitempty" yaml:"redirect_path,omitempty"`
	ErrorType    ErrorType         `json:"error_type" yaml:"error_type"`
	Kind         string            `json:"kind,omitempty" yaml:"kind,omitempty"`
	Message      string            `json:"message,omitempty" yaml:"message,omitempty"`
	Attempts     int               `json:"attempts" yaml:"attempts"`
}

// SecretFinding is a rule match inside fetched content
type SecretFinding struct {
	URL         string  `json:"url" yaml:"url"`
	File        string  `json:"file" yaml:"file"`
	Line        int     `json:"line" yaml:"line"`
	Match       string  `json:"match" yaml:"match"`
	Type        string  `json:"type" yaml:"type"`
	Severity    string  `json:"severity" yaml:"severity"`
	Explanation string  `json:"explanation" yaml:"explanation"`
	Fix         string  `json:"fix,omitempty" yaml:"fix,omitempty"`
	Confidence  int     `json:"confidence" yaml:"confidence"`
	Snippet     string  `json:"snippet" yaml:"snippet"`
	Entropy     float64 `json:"entropy,omitempty" yaml:"entropy,omitempty"`
	RiskScore   int     `json:"risk_score,omitempty" yaml:"risk_score,omitempty"`
}

// Severity levels reported on a LeakResult
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// LeakResult is the externally visible unit of a scan
type LeakResult struct {
	Source          string          `json:"source" yaml:"source"`
	URL             string          `json:"url" yaml:"url"`
	Title           string          `json:"title" yaml:"title"`
	Severity        string          `json:"severity" yaml:"severity"`
	Description     string          `json:"description" yaml:"description"`
	IsFalsePositive bool            `json:"is_false_positive" yaml:"is_false_positive"`
	Repository      string          `json:"repository,omitempty" yaml:"repository,omitempty"`
	Query           string          `json:"query,omitempty" yaml:"query,omitempty"`
	Findings        []SecretFinding `json:"findings,omitempty" yaml:"findings,omitempty"`
}

// RejectedHit is a hit dropped because its link failed validation
type RejectedHit struct {
	Platform   string `json:"platform" yaml:"platform"`
	Link       string `json:"link" yaml:"link"`
	Title      string `json:"title" yaml:"title"`
	Reason     string `json:"reason" yaml:"reason"`
	StatusCode int    `json:"status_code" yaml:"status_code"`
}

// DomainPresenceResult records whether a domain is referenced on a platform
type DomainPresenceResult struct {
	Found           bool     `json:"found" yaml:"found"`
	Platform        string   `json:"platform" yaml:"platform"`
	Repositories    []string `json:"repositories" yaml:"repositories"`
	TotalReferences int      `json:"total_references" yaml:"total_references"`
	VerifiedLinks   []string `json:"verified_links" yaml:"verified_links"`
	Errors          int      `json:"errors" yaml:"errors"`
}

// ScanSummary provides aggregate statistics
type ScanSummary struct {
	TotalFindings  int    `json:"total_findings" yaml:"total_findings"`
	CriticalRisks  int    `json:"critical_risks" yaml:"critical_risks"`
	HighRisks      int    `json:"high_risks" yaml:"high_risks"`
	MediumRisks    int    `json:"medium_risks" yaml:"medium_risks"`
	LowRisks       int    `json:"low_risks" yaml:"low_risks"`
	FalsePositives int    `json:"false_positives" yaml:"false_positives"`
	Failures       int    `json:"failures" yaml:"failures"`
	Rejected       int    `json:"rejected" yaml:"rejected"`
	SummaryText    string `json:"summary_text" yaml:"summary_text"`
}

// ScanState is the terminal state a scan reached
type ScanState string

const (
	StateSkipped    ScanState = "skipped"
	StateSummarized ScanState = "summarized"
)

// Footprint is optional DNS/WHOIS context for the scanned domain
type Footprint struct {
	Resolves       bool       `json:"resolves" yaml:"resolves"`
	A              []string   `json:"a,omitempty" yaml:"a,omitempty"`
	MX             []string   `json:"mx,omitempty" yaml:"mx,omitempty"`
	NS             []string   `json:"ns,omitempty" yaml:"ns,omitempty"`
	TXT            []string   `json:"txt,omitempty" yaml:"txt,omitempty"`
	Registrar      string     `json:"registrar,omitempty" yaml:"registrar,omitempty"`
	CreationDate   *time.Time `json:"creation_date,omitempty" yaml:"creation_date,omitempty"`
	ExpirationDate *time.Time `json:"expiration_date,omitempty" yaml:"expiration_date,omitempty"`
	Nameservers    []string   `json:"nameservers,omitempty" yaml:"nameservers,omitempty"`
	Error          string     `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is the top-level result of one scan
type Report struct {
	ScanID          string                 `json:"scan_id" yaml:"scan_id"`
	Domain          string                 `json:"domain" yaml:"domain"`
	StartedAt       time.Time              `json:"started_at" yaml:"started_at"`
	FinishedAt      time.Time              `json:"finished_at" yaml:"finished_at"`
	State           ScanState              `json:"state" yaml:"state"`
	Cancelled       bool                   `json:"cancelled" yaml:"cancelled"`
	Presence        []DomainPresenceResult `json:"presence" yaml:"presence"`
	Queries         []SearchQuery          `json:"queries,omitempty" yaml:"queries,omitempty"`
	Results         []LeakResult           `json:"results" yaml:"results"`
	Rejected        []RejectedHit          `json:"rejected,omitempty" yaml:"rejected,omitempty"`
	Failures        []FailureRecord        `json:"failures,omitempty" yaml:"failures,omitempty"`
	ValidationStats ValidationStats        `json:"validation_stats" yaml:"validation_stats"`
	Summary         *ScanSummary           `json:"summary" yaml:"summary"`
	Footprint       *Footprint             `json:"footprint,omitempty" yaml:"footprint,omitempty"`
}

// Found reports whether any platform corroborated the domain
func (r *Report) Found() bool {
	for _, p := range r.Presence {
		if p.Found {
			return true
		}
	}
	return false
}
