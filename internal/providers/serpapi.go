package providers

import (
	"context"
	"encoding/json"
	"errors"
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
	defaultSerpAPIBaseURL = "https://serpapi.com"
	defaultSerpResults    = 10
)

// SerpAPI runs Google dorks through serpapi.com
type SerpAPI struct {
	baseURL string
	apiKey  string
	results int
	client  *http.Client
}

// SerpAPIConfig contains configuration for the SerpAPI adapter
type SerpAPIConfig struct {
	APIKey  string // #nosec G117
	BaseURL string
	Timeout time.Duration
	Results int
}

// NewSerpAPI creates a new SerpAPI adapter
func NewSerpAPI(config SerpAPIConfig) *SerpAPI {
	timeout := config.Timeout
	if timeout == 0 {
		timeout = defaultSearchTimeout
	}
	baseURL := strings.TrimSuffix(config.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultSerpAPIBaseURL
	}
	results := config.Results
	if results <= 0 {
		results = defaultSerpResults
	}

	return &SerpAPI{
		baseURL: baseURL,
		apiKey:  config.APIKey,
		results: results,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the platform identifier
func (s *SerpAPI) Name() string {
	return "serpapi"
}

// Dialect returns the web dork dialect
func (s *SerpAPI) Dialect() models.Dialect {
	return models.DialectWeb
}

// IsAvailable returns true if the API key is configured
func (s *SerpAPI) IsAvailable() bool {
	return s.apiKey != ""
}

// Search runs q as a Google query
func (s *SerpAPI) Search(ctx context.Context, q models.SearchQuery, d domain.Name) ([]models.PlatformHit, error) {
	if !s.IsAvailable() {
		return nil, &AdapterError{Platform: s.Name(), Kind: KindUnauthorized, Err: errors.New("SerpAPI key not configured")}
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", q.Text)
	params.Set("api_key", s.apiKey)
	params.Set("num", fmt.Sprintf("%d", s.results))
	reqURL := s.baseURL + "/search.json?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, &AdapterError{Platform: s.Name(), Kind: KindInvalidQuery, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	// #nosec G107 - URL is built from the configured API base and encoded parameters
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &AdapterError{Platform: s.Name(), Kind: KindNetwork, Err: redactKey(err, s.apiKey)}
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &AdapterError{Platform: s.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: err}
	}

	var sr serpAPIResponse
	parseErr := json.Unmarshal(body, &sr)

	if resp.StatusCode != http.StatusOK {
		return nil, errorForStatus(s.Name(), resp, nil, sr.Error)
	}
	if parseErr != nil {
		return nil, &AdapterError{Platform: s.Name(), Kind: KindNetwork, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to parse response: %w", parseErr)}
	}

	if sr.Error != "" {
		lower := strings.ToLower(sr.Error)
		switch {
		case strings.Contains(lower, "hasn't returned any results"):
			return nil, nil
		case strings.Contains(lower, "api key"):
			return nil, &AdapterError{Platform: s.Name(), Kind: KindUnauthorized, StatusCode: resp.StatusCode, Err: errors.New(sr.Error)}
		case strings.Contains(lower, "run out of searches"):
			return nil, &AdapterError{Platform: s.Name(), Kind: KindRateLimited, StatusCode: resp.StatusCode, Err: errors.New(sr.Error)}
		default:
			return nil, &AdapterError{Platform: s.Name(), Kind: KindInvalidQuery, StatusCode: resp.StatusCode, Err: errors.New(sr.Error)}
		}
	}

	hits := make([]models.PlatformHit, 0, len(sr.OrganicResults))
	for _, r := range sr.OrganicResults {
		if r.Link == "" {
			continue
		}
		hits = append(hits, models.PlatformHit{
			Platform:   s.Name(),
			Query:      q.Text,
			Title:      r.Title,
			Link:       r.Link,
			Snippet:    r.Snippet,
			Repository: repositoryFromLink(r.Link),
			File:       fileFromLink(r.Link),
			RawURL:     rawGitHubURL(r.Link),
		})
	}
	return hits, nil
}

// redactKey keeps the API key out of transport errors, which quote the request URL
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}

// serpAPIResponse represents the SerpAPI search response structure
type serpAPIResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}
