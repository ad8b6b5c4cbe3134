// Package output provides formatting options for scan reports
package output

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/commjoen/leakscan/pkg/models"
)

// Formatter defines the interface for output formatters
type Formatter interface {
	Format(reports []*models.Report) (string, error)
	Write(w io.Writer, reports []*models.Report) error
}

// TextFormatter formats reports as human-readable text tables
type TextFormatter struct{}

// JSONFormatter formats reports as JSON
type JSONFormatter struct {
	Pretty bool
}

// CSVFormatter writes one row per finding
type CSVFormatter struct{}

// YAMLFormatter formats reports as YAML
type YAMLFormatter struct{}

// document is the envelope shared by the structured formats
type document struct {
	Reports []*models.Report `json:"reports" yaml:"reports"`
}

// NewFormatter creates a new formatter based on the format type
func NewFormatter(format string) (Formatter, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return &TextFormatter{}, nil
	case "json":
		return &JSONFormatter{Pretty: true}, nil
	case "csv":
		return &CSVFormatter{}, nil
	case "yaml", "yml":
		return &YAMLFormatter{}, nil
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func format(f Formatter, reports []*models.Report) (string, error) {
	var sb strings.Builder
	if err := f.Write(&sb, reports); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Format returns the formatted string
func (f *TextFormatter) Format(reports []*models.Report) (string, error) {
	return format(f, reports)
}

// Write writes the formatted output to the writer
func (f *TextFormatter) Write(w io.Writer, reports []*models.Report) error {
	separator := strings.Repeat("=", 80)
	lineSeparator := strings.Repeat("-", 80)

	findings, falsePositives := 0, 0
	for _, rep := range reports {
		fmt.Fprintf(w, "Domain: %s (scan %s)\n", rep.Domain, rep.ScanID)
		fmt.Fprintln(w, separator)

		for _, p := range rep.Presence {
			mark := "✗"
			if p.Found {
				mark = "✓"
			}
			fmt.Fprintf(w, "Presence %-10s %s  %d references, %d repositories, %d errors\n",
				p.Platform, mark, p.TotalReferences, len(p.Repositories), p.Errors)
		}
		if fp := rep.Footprint; fp != nil {
			writeFootprint(w, fp)
		}
		fmt.Fprintln(w, lineSeparator)

		if len(rep.Results) > 0 {
			fmt.Fprintf(w, "%-9s %-10s %-40s %s\n", "Severity", "Source", "Title", "URL")
			fmt.Fprintln(w, lineSeparator)
		}
		for _, r := range rep.Results {
			severity := strings.ToUpper(r.Severity)
			if r.IsFalsePositive {
				severity = "FP"
			}
			fmt.Fprintf(w, "%-9s %-10s %-40s %s\n", severity, r.Source, truncate(r.Title, 38), r.URL)
			for _, fd := range r.Findings {
				fmt.Fprintf(w, "          line %-4d %-28s confidence %d%%, risk %d\n",
					fd.Line, truncate(fd.Type, 28), fd.Confidence, fd.RiskScore)
			}
		}

		if len(rep.Failures) > 0 {
			fmt.Fprintln(w, lineSeparator)
			for _, fr := range rep.Failures {
				fmt.Fprintf(w, "Failed  %-10s %-17s %s\n", fr.Platform, fr.ErrorType, truncate(fr.Query, 50))
			}
		}

		fmt.Fprintln(w, separator)
		if rep.Summary != nil {
			fmt.Fprintln(w, rep.Summary.SummaryText)
			findings += rep.Summary.TotalFindings
			falsePositives += rep.Summary.FalsePositives
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Scanned %d domains | %d findings | %d false positives\n", len(reports), findings, falsePositives)
	return nil
}

func writeFootprint(w io.Writer, fp *models.Footprint) {
	if fp.Error != "" {
		fmt.Fprintf(w, "Footprint error: %s\n", fp.Error)
	}
	if len(fp.A) > 0 {
		fmt.Fprintf(w, "A:   %s\n", strings.Join(fp.A, ", "))
	}
	if len(fp.MX) > 0 {
		fmt.Fprintf(w, "MX:  %s\n", strings.Join(fp.MX, ", "))
	}
	if len(fp.NS) > 0 {
		fmt.Fprintf(w, "NS:  %s\n", strings.Join(fp.NS, ", "))
	}
	if fp.Registrar != "" {
		created := "-"
		if fp.CreationDate != nil {
			created = fp.CreationDate.Format("2006-01-02")
		}
		if fp.ExpirationDate != nil {
			fmt.Fprintf(w, "Registrar: %s (created %s, expires %s)\n", fp.Registrar, created, fp.ExpirationDate.Format("2006-01-02"))
		} else {
			fmt.Fprintf(w, "Registrar: %s (created %s)\n", fp.Registrar, created)
		}
	}
	if len(fp.Nameservers) > 0 {
		fmt.Fprintf(w, "Nameservers: %s\n", strings.Join(fp.Nameservers, ", "))
	}
}

// truncate shortens s to at most n runes, marking the cut with an ellipsis
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// Format returns the formatted string
func (f *JSONFormatter) Format(reports []*models.Report) (string, error) {
	return format(f, reports)
}

// Write writes the formatted output to the writer
func (f *JSONFormatter) Write(w io.Writer, reports []*models.Report) error {
	encoder := json.NewEncoder(w)
	if f.Pretty {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(document{Reports: nonNil(reports)})
}

// Format returns the formatted string
func (f *YAMLFormatter) Format(reports []*models.Report) (string, error) {
	return format(f, reports)
}

// Write writes the formatted output to the writer
func (f *YAMLFormatter) Write(w io.Writer, reports []*models.Report) error {
	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	if err := encoder.Encode(document{Reports: nonNil(reports)}); err != nil {
		return err
	}
	return encoder.Close()
}

func nonNil(reports []*models.Report) []*models.Report {
	if reports == nil {
		return []*models.Report{}
	}
	return reports
}

// Format returns the formatted string
func (f *CSVFormatter) Format(reports []*models.Report) (string, error) {
	return format(f, reports)
}

// Write writes the formatted output to the writer. Results without findings
// get a single row with the finding columns left empty.
func (f *CSVFormatter) Write(w io.Writer, reports []*models.Report) error {
	writer := csv.NewWriter(w)

	header := []string{"domain", "source", "url", "title", "severity", "false_positive",
		"finding_type", "line", "confidence", "risk_score"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, rep := range reports {
		for _, r := range rep.Results {
			base := []string{rep.Domain, r.Source, r.URL, r.Title, r.Severity, strconv.FormatBool(r.IsFalsePositive)}
			if len(r.Findings) == 0 {
				if err := writer.Write(append(base, "", "", "", "")); err != nil {
					return err
				}
				continue
			}
			for _, fd := range r.Findings {
				row := append(append([]string{}, base...),
					fd.Type, strconv.Itoa(fd.Line), strconv.Itoa(fd.Confidence), strconv.Itoa(fd.RiskScore))
				if err := writer.Write(row); err != nil {
					return err
				}
			}
		}
	}

	writer.Flush()
	return writer.Error()
}
