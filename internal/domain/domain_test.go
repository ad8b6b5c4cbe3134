package domain

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		domain  string
		wantErr bool
	}{
		{"valid domain", "example.com", false},
		{"valid subdomain", "sub.example.com", false},
		{"valid multi-level subdomain", "a.b.c.example.com", false},
		{"valid second-level suffix", "example.co.uk", false},
		{"empty domain", "", true},
		{"domain too long", strings.Repeat("a", 250) + ".com", true},
		{"invalid chars", "example.com/<script>", true},
		{"just TLD", "com", true},
		{"starts with hyphen", "-example.com", true},
		{"ends with hyphen", "example-.com", true},
		{"double dot", "example..com", true},
		{"with port", "example.com:8080", true},
		{"with path", "example.com/path", true},
		{"with scheme", "https://example.com", true},
		{"with spaces", "example .com", true},
		{"reserved invalid TLD", "nowhere.invalid", true},
		{"reserved test TLD", "foo.test", true},
		{"unknown TLD", "example.notarealtld", true},
		{"bare public suffix", "co.uk", true},
		{"valid with numbers", "example123.com", false},
		{"valid with hyphens", "ex-ample.com", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.domain)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDomain), "error should wrap ErrInvalidDomain")
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseNormalizes(t *testing.T) {
	tests := []struct {
		input string
		want  Name
	}{
		{"EXAMPLE.COM", "example.com"},
		{"  example.com  ", "example.com"},
		{"*.example.com", "example.com"},
		{"*example.com", "example.com"},
		{"example.com.", "example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseInvalidDomainError(t *testing.T) {
	_, err := Parse("nowhere.invalid")
	require.Error(t, err)

	var ide *InvalidDomainError
	require.True(t, errors.As(err, &ide))
	assert.Equal(t, "nowhere.invalid", ide.Input)
	assert.Contains(t, ide.Reason, "reserved")
}
