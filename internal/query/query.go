// Package query generates the search dorks run against each platform
package query

import (
	"strings"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/pkg/models"
)

// template is a query with {d} standing for the domain
type template struct {
	text     string
	category models.Category
}

var codeTemplates = []template{
	{`"{d}" filename:.env`, models.CategoryConfig},
	{`"{d}" filename:config.json`, models.CategoryConfig},
	{`"{d}" filename:database.yml`, models.CategoryConfig},
	{`"{d}" filename:.htaccess`, models.CategoryConfig},
	{`"{d}" filename:wp-config.php`, models.CategoryConfig},
	{`"{d}" "api_key" OR "apikey"`, models.CategoryCredentials},
	{`"{d}" "secret_key" OR "secretkey"`, models.CategoryCredentials},
	{`"{d}" "access_token"`, models.CategoryCredentials},
	{`"{d}" "private_key"`, models.CategoryCredentials},
	{`"{d}" "jwt_secret"`, models.CategoryCredentials},
	{`"{d}" "database_password" OR "db_password"`, models.CategoryCredentials},
	{`"{d}" "mysql_password" OR "postgres_password"`, models.CategoryCredentials},
	{`"{d}" "mongodb_uri" OR "mongo_url"`, models.CategoryCredentials},
	{`"{d}" "aws_access_key_id"`, models.CategoryCredentials},
	{`"{d}" "aws_secret_access_key"`, models.CategoryCredentials},
	{`"{d}" "azure_client_secret"`, models.CategoryCredentials},
	{`"{d}" "google_api_key"`, models.CategoryCredentials},
	{`"@{d}" filetype:txt OR filetype:csv`, models.CategoryPII},
	{`"{d}" "smtp_password" OR "email_password"`, models.CategoryCredentials},
	{`"{d}" "internal" OR "confidential"`, models.CategoryPII},
	{`"{d}" "meeting" OR "schedule"`, models.CategoryPII},
	{`"{d}" "project plan" OR "roadmap"`, models.CategoryPII},
	{`"{d}" filetype:sql`, models.CategoryBackup},
	{`"{d}" filetype:dump`, models.CategoryBackup},
	{`"{d}" "backup" OR "dump"`, models.CategoryBackup},
	{`"{d}" "TODO" OR "FIXME" OR "HACK"`, models.CategoryGeneric},
	{`"{d}" "password" -"password_hash"`, models.CategoryCredentials},
	{`"{d}" "hardcoded" OR "embedded"`, models.CategoryGeneric},
}

var webTemplates = []template{
	{`site:github.com "{d}"`, models.CategoryGeneric},
	{`site:gitlab.com "{d}"`, models.CategoryGeneric},
	{`site:bitbucket.org "{d}"`, models.CategoryGeneric},
	{`site:pastebin.com "{d}"`, models.CategoryGeneric},
	{`site:trello.com "{d}"`, models.CategoryGeneric},
	{`site:{d} ext:env | ext:git | ext:xml | ext:json | ext:conf | ext:log`, models.CategoryConfig},
	{`site:{d} inurl:wp-content | inurl:wp-includes`, models.CategoryConfig},
	{`site:{d} intitle:index.of`, models.CategoryConfig},
	{`site:{d} filetype:sql`, models.CategoryBackup},
	{`site:{d} filetype:xls | filetype:xlsx | filetype:csv`, models.CategoryBackup},
	{`site:{d} password | credentials | secret`, models.CategoryCredentials},
	{`site:{d} "confidential" | "internal use only"`, models.CategoryPII},
	{`site:{d} "ssn" | "social security number"`, models.CategoryPII},
	{`site:{d} "passport" | "driver license"`, models.CategoryPII},
	{`site:{d} "phone number" | "email address"`, models.CategoryPII},
	{`site:{d} "credit card" | "bank account"`, models.CategoryPII},
}

var presenceTemplates = map[models.Dialect][]string{
	models.DialectCode: {
		`"{d}"`,
		`"{d}" in:file`,
		`"@{d}"`,
		`"{d}" filename:.env`,
		`"{d}" filename:config`,
	},
	models.DialectWeb: {
		`"{d}"`,
		`"@{d}"`,
		`site:github.com "{d}"`,
		`site:gitlab.com "{d}"`,
		`site:pastebin.com "{d}"`,
	},
}

// Generate returns every vulnerability query for d, code dialect first.
// The order is stable.
func Generate(d domain.Name) []models.SearchQuery {
	out := make([]models.SearchQuery, 0, len(codeTemplates)+len(webTemplates))
	out = appendTemplates(out, codeTemplates, d, models.DialectCode)
	return appendTemplates(out, webTemplates, d, models.DialectWeb)
}

// ForDialect keeps the queries written in dialect, preserving order
func ForDialect(qs []models.SearchQuery, dialect models.Dialect) []models.SearchQuery {
	var out []models.SearchQuery
	for _, q := range qs {
		if q.Dialect == dialect {
			out = append(out, q)
		}
	}
	return out
}

// PresenceQueries returns the cheap queries used to decide whether d is referenced at all
func PresenceQueries(d domain.Name, dialect models.Dialect) []models.SearchQuery {
	tpls := presenceTemplates[dialect]
	out := make([]models.SearchQuery, 0, len(tpls))
	for _, t := range tpls {
		out = append(out, models.SearchQuery{
			Text:     expand(t, d),
			Category: models.CategoryGeneric,
			Dialect:  dialect,
		})
	}
	return out
}

var (
	criticalKeywords = []string{"password", "secret_key", "private_key", "aws_access_key", "jwt_secret", "database_password"}
	highKeywords     = []string{"api_key", "access_token", "smtp_password", "mysql_password"}
	mediumKeywords   = []string{"config", ".env", "backup", "internal"}
)

// AssessRisk grades a query by the keywords it targets
func AssessRisk(q string) string {
	lq := strings.ToLower(q)
	switch {
	case containsAny(lq, criticalKeywords):
		return models.SeverityCritical
	case containsAny(lq, highKeywords):
		return models.SeverityHigh
	case containsAny(lq, mediumKeywords):
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

func appendTemplates(out []models.SearchQuery, tpls []template, d domain.Name, dialect models.Dialect) []models.SearchQuery {
	for _, t := range tpls {
		out = append(out, models.SearchQuery{
			Text:     expand(t.text, d),
			Category: t.category,
			Dialect:  dialect,
		})
	}
	return out
}

func expand(tpl string, d domain.Name) string {
	return strings.ReplaceAll(tpl, "{d}", d.String())
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
