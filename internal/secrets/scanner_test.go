package secrets

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zricethezav/gitleaks/v8/report"

	"github.com/commjoen/leakscan/internal/rules"
)

type fakeDetector struct {
	matches []Match
	panics  bool
}

func (f *fakeDetector) Name() string { return "fake" }

func (f *fakeDetector) Detect(string) []Match {
	if f.panics {
		panic("boom")
	}
	return f.matches
}

func TestScanPasswordInConfigFile(t *testing.T) {
	s := NewScanner(nil)
	findings := s.Scan("https://github.com/acme/app/blob/main/config.env", "config.env", `password = "hunter2"`)

	require.Len(t, findings, 1)
	f := findings[0]
	assert.Equal(t, "Password Assignment", f.Type)
	assert.Equal(t, 95, f.Confidence)
	assert.Equal(t, 1, f.Line)
	assert.Equal(t, `password = "hunter2"`, f.Match)
	assert.Equal(t, "high", f.Severity)
	assert.NotEmpty(t, f.Fix)
}

func TestScanConfidence(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		want    int
	}{
		{"plain source line", "main.go", `password = "x"`, 80},
		{"hash comment", "main.py", `# password = "x"`, 40},
		{"slash comment", "main.js", `  // password = "x"`, 40},
		{"html comment", "index.html", `<!-- password = "x" -->`, 40},
		{"config file beats comment", "settings.yaml", `# password = "x"`, 95},
		{"settings.py", "settings.py", `password = "x"`, 95},
		{"ini file", "app.ini", `password = "x"`, 95},
	}

	s := NewScanner(nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			findings := s.Scan("u", tt.file, tt.content)
			require.NotEmpty(t, findings)
			assert.Equal(t, tt.want, findings[0].Confidence)
		})
	}
}

func TestScanSensitiveFileNameConfidence(t *testing.T) {
	findings := NewScanner(nil).Scan("u", "notes.txt", "see backup at prod/.env")
	require.Len(t, findings, 1)
	assert.Equal(t, rules.TypeSensitiveFileName, findings[0].Type)
	assert.Equal(t, 99, findings[0].Confidence)
}

func TestScanMultipleRulesAndLines(t *testing.T) {
	content := strings.Join([]string{
		"# header",
		`DEBUG = true`,
		"",
		`admin@example.com:hunter2 password = "hunter2"`,
	}, "\n")

	findings := NewScanner(nil).Scan("u", "dump.txt", content)
	require.Len(t, findings, 3)

	assert.Equal(t, 2, findings[0].Line)
	assert.Equal(t, "DEBUG True in Production", findings[0].Type)

	types := []string{findings[1].Type, findings[2].Type}
	assert.ElementsMatch(t, []string{"Password Assignment", "Email + Password Combo"}, types)
	assert.Equal(t, 4, findings[1].Line)
	assert.Equal(t, 4, findings[2].Line)
}

func TestScanSnippetTruncated(t *testing.T) {
	line := `   password = "` + strings.Repeat("é", 300) + `"`
	findings := NewScanner(nil).Scan("u", "a.txt", line)
	require.NotEmpty(t, findings)

	assert.Len(t, []rune(findings[0].Snippet), maxSnippetRunes)
	assert.True(t, strings.HasPrefix(findings[0].Snippet, "password"))
}

func TestScanEmptyContent(t *testing.T) {
	assert.Empty(t, NewScanner(nil).Scan("u", "a.env", ""))
}

func TestScanCustomRuleNeedsNoScannerChange(t *testing.T) {
	reg := rules.NewRegistry()
	require.NoError(t, reg.AddPattern("Acme Key", `acme_[0-9a-f]{8}`, rules.SeverityLow, "Acme key leaked.", ""))

	findings := NewScanner(reg).Scan("u", "a.txt", "token acme_deadbeef")
	require.Len(t, findings, 1)
	assert.Equal(t, "Acme Key", findings[0].Type)
	assert.Equal(t, "low", findings[0].Severity)
	assert.Equal(t, "Acme key leaked.", findings[0].Explanation)
}

func TestScanDetectorFindingsDeduplicated(t *testing.T) {
	det := &fakeDetector{matches: []Match{
		{Line: 1, Text: `password = "hunter2"`, Type: "generic password"},
		{Line: 2, Text: "xyz-secret", Type: "generic api key", Severity: rules.SeverityHigh},
		{Line: 9, Text: "out of range", Type: "bogus"},
	}}

	s := NewScanner(nil, WithDetector(det))
	findings := s.Scan("u", "a.txt", "password = \"hunter2\"\nkey xyz-secret")

	require.Len(t, findings, 2)
	assert.Equal(t, "Password Assignment", findings[0].Type)
	assert.Equal(t, "generic api key", findings[1].Type)
	assert.Equal(t, 2, findings[1].Line)
	assert.Equal(t, "high", findings[1].Severity)
	assert.Equal(t, 80, findings[1].Confidence)
}

func TestScanSurvivesPanickingDetector(t *testing.T) {
	s := NewScanner(nil, WithDetector(&fakeDetector{panics: true}))
	findings := s.Scan("u", "a.txt", `password = "hunter2"`)
	require.Len(t, findings, 1)
}

func TestFromGitleaks(t *testing.T) {
	content := "first\nexport TOKEN=ghp_abc\nlast"
	got := fromGitleaks(content, []report.Finding{
		{RuleID: "github-pat", Description: "GitHub Personal Access Token", Match: "TOKEN=ghp_abc", Secret: "ghp_abc", StartLine: 1},
		{RuleID: "", Secret: "missing", StartLine: 2},
		{RuleID: "empty"},
	})

	require.Len(t, got, 2)
	assert.Equal(t, 2, got[0].Line)
	assert.Equal(t, "github pat", got[0].Type)
	assert.Equal(t, "GitHub Personal Access Token", got[0].Explanation)
	assert.Equal(t, rules.SeverityHigh, got[0].Severity)

	assert.Equal(t, 3, got[1].Line, "falls back to StartLine")
	assert.Equal(t, "gitleaks finding", got[1].Type)
}

func TestGitleaksDetectorCleanContent(t *testing.T) {
	d, err := NewGitleaksDetector()
	require.NoError(t, err)
	assert.Equal(t, "gitleaks", d.Name())
	assert.Empty(t, d.Detect("nothing to see here"))
}
