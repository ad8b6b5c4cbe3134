package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/pkg/models"
)

const defaultGitLabBaseURL = "https://gitlab.com"

// GitLab searches public code through the GitLab blob search API
type GitLab struct {
	baseURL   string
	token     string
	perPage   int
	userAgent string
	client    *http.Client

	// project id -> project, resolved once per adapter
	mu       sync.Mutex
	projects map[int]gitlabProject
}

// GitLabConfig contains configuration for the GitLab adapter
type GitLabConfig struct {
	Token     string // #nosec G117
	BaseURL   string
	Timeout   time.Duration
	PerPage   int
	UserAgent string
}

// NewGitLab creates a new GitLab adapter
func NewGitLab(config GitLabConfig) *GitLab {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultSearchTimeout
	}
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultGitLabBaseURL
	}
	perPage := config.PerPage
	if perPage <= 0 {
		perPage = defaultPerPage
	}
	ua := config.UserAgent
	if ua == "" {
		ua = "leakscan/1.0"
	}

	return &GitLab{
		baseURL:   baseURL,
		token:     config.Token,
		perPage:   perPage,
		userAgent: ua,
		client:    &http.Client{Timeout: timeout},
		projects:  make(map[int]gitlabProject),
	}
}

// Name returns the platform identifier
func (g *GitLab) Name() string {
	return "gitlab"
}

// Dialect returns the code search dialect. GitLab accepts the same filename: qualifiers.
func (g *GitLab) Dialect() models.Dialect {
	return models.DialectCode
}

// IsAvailable returns true if a token is configured. Blob search needs an authenticated user.
func (g *GitLab) IsAvailable() bool {
	return g.token != ""
}

// Search runs a blob search for q
func (g *GitLab) Search(ctx context.Context, q models.SearchQuery, d domain.Name) ([]models.PlatformHit, error) {
	reqURL := fmt.Sprintf("%s/api/v4/search?scope=blobs&search=%s&per_page=%d", g.baseURL, url.QueryEscape(q.Text), g.perPage)

	var blobs []gitlabBlob
	if err := g.get(ctx, reqURL, &blobs); err != nil {
		return nil, err
	}

	hits := make([]models.PlatformHit, 0, len(blobs))
	for _, b := range blobs {
		p, err := g.project(ctx, b.ProjectID)
		if err != nil {
			return nil, err
		}

		escaped := (&url.URL{Path: b.Path}).EscapedPath()
		hits = append(hits, models.PlatformHit{
			Platform:   g.Name(),
			Query:      q.Text,
			Title:      fmt.Sprintf("%s: %s", p.PathWithNamespace, b.Path),
			Link:       fmt.Sprintf("%s/-/blob/%s/%s", p.WebURL, b.Ref, escaped),
			Snippet:    strings.TrimSpace(b.Data),
			Repository: p.PathWithNamespace,
			File:       b.basename(),
			RawURL:     fmt.Sprintf("%s/-/raw/%s/%s", p.WebURL, b.Ref, escaped),
		})
	}
	return hits, nil
}

// project resolves a project id to its path and web URL
func (g *GitLab) project(ctx context.Context, id int) (gitlabProject, error) {
	g.mu.Lock()
	p, ok := g.projects[id]
	g.mu.Unlock()
	if ok {
		return p, nil
	}

	if err := g.get(ctx, fmt.Sprintf("%s/api/v4/projects/%d", g.baseURL, id), &p); err != nil {
		return gitlabProject{}, err
	}

	g.mu.Lock()
	g.projects[id] = p
	g.mu.Unlock()
	return p, nil
}

// get issues an authenticated GET and decodes a 200 body into out
func (g *GitLab) get(ctx context.Context, reqURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return &AdapterError{Platform: g.Name(), Kind: KindInvalidQuery, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", g.userAgent)
	req.Header.Set("PRIVATE-TOKEN", g.token)

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
		return &AdapterError{Platform: g.Name(), Kind: KindNetwork, Redirects: redirects, Err: err}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &AdapterError{Platform: g.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr gitlabError
		_ = json.Unmarshal(body, &apiErr)
		return errorForStatus(g.Name(), resp, redirects, apiErr.detail())
	}

	if err := json.Unmarshal(body, out); err != nil {
		return &AdapterError{Platform: g.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", err)}
	}
	return nil
}

type gitlabBlob struct {
	Filename  string `json:"filename"`
	Path      string `json:"path"`
	Ref       string `json:"ref"`
	Data      string `json:"data"`
	ProjectID int    `json:"project_id"`
}

// basename returns the file name without its directory
func (b gitlabBlob) basename() string {
	if i := strings.LastIndex(b.Path, "/"); i >= 0 {
		return b.Path[i+1:]
	}
	if b.Path != "" {
		return b.Path
	}
	return b.Filename
}

type gitlabProject struct {
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

// gitlabError covers both error shapes the API returns
type gitlabError struct {
	Message any    `json:"message"`
	Error   string `json:"error"`
}

func (e gitlabError) detail() string {
	if s, ok := e.Message.(string); ok && s != "" {
		return s
	}
	if e.Message != nil {
		return fmt.Sprint(e.Message)
	}
	return e.Error
}
