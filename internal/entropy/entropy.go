// Package entropy provides Shannon entropy and risk scoring for secret matches
package entropy

import (
	"math"
	"strings"

	"github.com/commjoen/leakscan/pkg/models"
)

// Thresholds holds the tunable cut-offs used by RiskScore and Refine.
// The defaults are empirical and have not been calibrated.
type Thresholds struct {
	// PasswordEntropy is the entropy above which a password match scores 4
	PasswordEntropy float64 `mapstructure:"password_entropy" json:"password_entropy" yaml:"password_entropy"`
	// ConfidenceFloor is the confidence below which a match scores 2
	ConfidenceFloor int `mapstructure:"confidence_floor" json:"confidence_floor" yaml:"confidence_floor"`
	// MinConfidence is the refined confidence below which a finding is discarded
	MinConfidence int `mapstructure:"min_confidence" json:"min_confidence" yaml:"min_confidence"`
	// LowEntropy marks matches that look like placeholders
	LowEntropy float64 `mapstructure:"low_entropy" json:"low_entropy" yaml:"low_entropy"`
	// LowEntropyPenalty is subtracted from confidence for placeholder-like matches
	LowEntropyPenalty int `mapstructure:"low_entropy_penalty" json:"low_entropy_penalty" yaml:"low_entropy_penalty"`
}

// DefaultThresholds returns the stock thresholds
func DefaultThresholds() Thresholds {
	return Thresholds{
		PasswordEntropy:   3.5,
		ConfidenceFloor:   50,
		MinConfidence:     30,
		LowEntropy:        2.5,
		LowEntropyPenalty: 25,
	}
}

// Shannon returns the Shannon entropy of s in bits per symbol
func Shannon(s string) float64 {
	if s == "" {
		return 0
	}

	counts := make(map[rune]int)
	n := 0
	for _, r := range s {
		counts[r]++
		n++
	}

	var h float64
	for _, c := range counts {
		p := float64(c) / float64(n)
		h -= p * math.Log2(p)
	}
	return h
}

// RiskScore maps a finding to a 1..5 priority. The first matching tier wins.
func RiskScore(typ string, confidence int, entropy float64, t Thresholds) int {
	lt := strings.ToLower(typ)
	switch {
	case strings.Contains(lt, "aws") || strings.Contains(lt, "private key"):
		return 5
	case confidence < t.ConfidenceFloor:
		return 2
	case strings.Contains(lt, "password") && entropy > t.PasswordEntropy:
		return 4
	case strings.Contains(lt, "token") || strings.Contains(lt, "api"):
		return 4
	case strings.Contains(lt, "debug") || strings.Contains(lt, "smtp"):
		return 3
	default:
		return 1
	}
}

// Refine revises a scanner confidence once the match entropy is known
func Refine(confidence int, entropy float64, t Thresholds) int {
	if entropy < t.LowEntropy {
		confidence -= t.LowEntropyPenalty
	}
	return clamp(confidence, 0, 100)
}

// SeverityForScore converts a risk score to a reported severity
func SeverityForScore(score int) string {
	switch {
	case score >= 5:
		return models.SeverityCritical
	case score == 4:
		return models.SeverityHigh
	case score == 3:
		return models.SeverityMedium
	default:
		return models.SeverityLow
	}
}

// SeverityRank orders severities so callers can pick the worst
func SeverityRank(severity string) int {
	switch severity {
	case models.SeverityCritical:
		return 4
	case models.SeverityHigh:
		return 3
	case models.SeverityMedium:
		return 2
	case models.SeverityLow:
		return 1
	default:
		return 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
