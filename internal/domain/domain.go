// Package domain validates and normalizes scan target domains
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/publicsuffix"
)

const maxLength = 253

// ErrInvalidDomain is the sentinel wrapped by every validation failure
var ErrInvalidDomain = errors.New("invalid domain")

// domainRegex validates RFC 1035 compliant domain names
var domainRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// inputWildcardRegex matches user input wildcard patterns like *.domain.com or *domain.com
var inputWildcardRegex = regexp.MustCompile(`^\*\.?`)

// Special-use names from RFC 2606 and RFC 6761 that never resolve publicly.
var reservedTLDs = map[string]bool{
	"invalid":   true,
	"test":      true,
	"localhost": true,
	"local":     true,
	"example":   true,
}

// Name is a validated domain. Only Parse produces one.
type Name string

func (n Name) String() string { return string(n) }

// InvalidDomainError reports why an input was rejected
type InvalidDomainError struct {
	Input  string
	Reason string
}

func (e *InvalidDomainError) Error() string {
	return fmt.Sprintf("invalid domain %q: %s", e.Input, e.Reason)
}

func (e *InvalidDomainError) Unwrap() error { return ErrInvalidDomain }

// Parse normalizes the input and validates it as a public domain name
func Parse(input string) (Name, error) {
	d := Normalize(input)
	if err := Validate(d); err != nil {
		return "", err
	}
	return Name(d), nil
}

// Normalize trims, lowercases and strips wildcard prefixes (* or *.)
func Normalize(input string) string {
	d := strings.ToLower(strings.TrimSpace(input))
	d = inputWildcardRegex.ReplaceAllString(d, "")
	return strings.TrimSuffix(d, ".")
}

// Validate checks length, label grammar and that the TLD is publicly delegated
func Validate(d string) error {
	if d == "" {
		return &InvalidDomainError{Input: d, Reason: "domain cannot be empty"}
	}
	if len(d) > maxLength {
		return &InvalidDomainError{Input: d, Reason: fmt.Sprintf("domain name too long (max %d characters)", maxLength)}
	}
	if !domainRegex.MatchString(d) {
		return &InvalidDomainError{Input: d, Reason: "invalid domain format"}
	}

	tld := d[strings.LastIndex(d, ".")+1:]
	if reservedTLDs[tld] {
		return &InvalidDomainError{Input: d, Reason: fmt.Sprintf("reserved top-level domain %q", tld)}
	}

	// Unknown TLDs come back as a single unmanaged label.
	suffix, icann := publicsuffix.PublicSuffix(d)
	if !icann && !strings.Contains(suffix, ".") {
		return &InvalidDomainError{Input: d, Reason: fmt.Sprintf("unknown top-level domain %q", suffix)}
	}
	if suffix == d {
		return &InvalidDomainError{Input: d, Reason: "domain is a bare public suffix"}
	}
	return nil
}
