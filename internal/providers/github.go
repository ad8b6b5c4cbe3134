package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/pkg/models"
)

const (
	defaultGitHubBaseURL = "https://api.github.com"
	defaultSearchTimeout = 15 * time.Second
	defaultPerPage       = 10
)

// GitHub searches public code through the GitHub REST API
type GitHub struct {
	baseURL   string
	token     string
	perPage   int
	userAgent string
	client    *http.Client
}

// GitHubConfig contains configuration for the GitHub adapter
type GitHubConfig struct {
	Token     string // #nosec G117
	BaseURL   string
	Timeout   time.Duration
	PerPage   int
	UserAgent string
}

// NewGitHub creates a new GitHub adapter
func NewGitHub(config GitHubConfig) *GitHub {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultSearchTimeout
	}
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGitHubBaseURL
	}
	perPage := config.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	ua := config.UserAgent
	if ua == "" {
		ua = "leakscan/1.0"
	}

	return &GitHub{
		baseURL:   baseURL,
		token:     config.Token,
		perPage:   perPage,
		userAgent: ua,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the platform identifier
func (g *GitHub) Name() string {
	return "github"
}

// Dialect returns the code search dialect
func (g *GitHub) Dialect() models.Dialect {
	return models.DialectCode
}

// IsAvailable returns true if a token is configured. Code search rejects anonymous calls.
func (g *GitHub) IsAvailable() bool {
	return g.token != ""
}

// Search runs a code search for q
func (g *GitHub) Search(ctx context.Context, q models.SearchQuery, d domain.Name) ([]models.PlatformHit, error) {
	reqURL := fmt.Sprintf("%s/search/code?q=%s&per_page=%d", g.baseURL, url.QueryEscape(q.Text), g.perPage)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &AdapterError{Platform: g.Name(), Kind: KindInvalidQuery, Err: err}
	}
	req.Header.Set("Accept", "application/vnd.github.text-match+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", g.userAgent)
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	var redirects []string
	client := *g.client
	client.CheckRedirect = func(r *http.Request, via []*http.Request) error {
		redirects = append(redirects, r.URL.String())
		if len(via) >= 10 {
			return fmt.Errorf("stopped after %d redirects", len(via))
		}
		return nil
	}

	// #nosec G107 - URL is built from the configured API base and an escaped query
	resp, err := client.Do(req)
	if err != nil {
		return nil, &AdapterError{Platform: g.Name(), Kind: KindNetwork, Redirects: redirects, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &AdapterError{Platform: g.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr githubError
		_ = json.Unmarshal(body, &apiErr)
		return nil, errorForStatus(g.Name(), resp, redirects, apiErr.Message)
	}

	var sr githubSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, &AdapterError{Platform: g.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}

	hits := make([]models.PlatformHit, 0, len(sr.Items))
	for _, item := range sr.Items {
		var fragments []string
		for _, tm := range item.TextMatches {
			if tm.Fragment != "" {
				fragments = append(fragments, tm.Fragment)
			}
		}

		hits = append(hits, models.PlatformHit{
			Platform:   g.Name(),
			Query:      q.Text,
			Title:      fmt.Sprintf("%s: %s", item.Repository.FullName, item.Path),
			Link:       item.HTMLURL,
			Snippet:    strings.Join(fragments, "\n"),
			Repository: item.Repository.FullName,
			File:       item.Name,
			RawURL:     rawGitHubURL(item.HTMLURL),
		})
	}
	return hits, nil
}

type githubError struct {
	Message string `json:"message"`
}

// githubSearchResponse represents the code search response structure
type githubSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Name       string `json:"name"`
		Path       string `json:"path"`
		HTMLURL    string `json:"html_url"`
		Repository struct {
			FullName string `json:"full_name"`
		} `json:"repository"`
		TextMatches []struct {
			Fragment string `json:"fragment"`
		} `json:"text_matches"`
	} `json:"items"`
}
