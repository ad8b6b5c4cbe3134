package providers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commjoen/leakscan/internal/domain"
	"github.com/commjoen/leakscan/pkg/models"
)

const testDomain = domain.Name("example.com")

var codeQuery = models.SearchQuery{Text: `"example.com" filename:.env`, Category: models.CategoryConfig, Dialect: models.DialectCode}

type mockAdapter struct {
	name    string
	dialect models.Dialect
}

func (m *mockAdapter) Name() string             { return m.name }
func (m *mockAdapter) Dialect() models.Dialect { return m.dialect }
func (m *mockAdapter) Search(context.Context, models.SearchQuery, domain.Name) ([]models.PlatformHit, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(&mockAdapter{name: "zeta"})
	r.Register(&mockAdapter{name: "alpha"})

	a, ok := r.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, "alpha", a.Name())
	assert.Equal(t, []string{"alpha", "zeta"}, r.Names())

	sel, err := r.Select([]string{"zeta", "alpha"})
	require.NoError(t, err)
	require.Len(t, sel, 2)
	assert.Equal(t, "zeta", sel[0].Name())

	_, err = r.Select([]string{"nope"})
	assert.Error(t, err)
}

func TestAdapterErrorIs(t *testing.T) {
	err := error(&AdapterError{Platform: "github", Kind: KindRateLimited, StatusCode: 429})
	assert.True(t, errors.Is(err, ErrRateLimited))
	assert.False(t, errors.Is(err, ErrUnauthorized))
	assert.Equal(t, "github: rate_limited (HTTP 429)", err.Error())

	wrapped := &AdapterError{Platform: "serpapi", Kind: KindNetwork, Err: context.DeadlineExceeded}
	assert.True(t, errors.Is(wrapped, ErrNetwork))
	assert.True(t, errors.Is(wrapped, context.DeadlineExceeded))
}

func TestPacerDisabled(t *testing.T) {
	p := NewPacer(0, 0)
	start := time.Now()
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestPacerSpacesCalls(t *testing.T) {
	p := NewPacer(50*time.Millisecond, 0)
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	// First call is free, the next two wait one interval each
	assert.GreaterOrEqual(t, time.Since(start), 90*time.Millisecond)
}

func TestPacerGapIncludesJitter(t *testing.T) {
	const base = 40 * time.Millisecond
	p := NewPacer(base, 60*time.Millisecond)

	require.NoError(t, p.Wait(context.Background()))
	last := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, p.Wait(context.Background()))
		now := time.Now()
		assert.GreaterOrEqual(t, now.Sub(last), base, "call %d came too early", i+1)
		last = now
	}
}

func TestPacerSerializesConcurrentWaiters(t *testing.T) {
	const base = 30 * time.Millisecond
	p := NewPacer(base, 0)

	start := time.Now()
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Wait(context.Background()))
		}()
	}
	wg.Wait()
	assert.GreaterOrEqual(t, time.Since(start), 3*base-time.Millisecond)
}

func TestPacerHonoursContext(t *testing.T) {
	p := NewPacer(time.Hour, 0)
	require.NoError(t, p.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestPacerJitterHonoursContext(t *testing.T) {
	p := NewPacer(0, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, p.Wait(ctx))
}

func TestPacersPerPlatform(t *testing.T) {
	ps := NewPacers(0, 0)
	assert.Same(t, ps.For("github"), ps.For("github"))
	assert.NotSame(t, ps.For("github"), ps.For("serpapi"))
}

func TestGitHubSearch(t *testing.T) {
	var gotQuery, gotAuth, gotAccept string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/code", r.URL.Path)
		gotQuery = r.URL.Query().Get("q")
		gotAuth = r.Header.Get("Authorization")
		gotAccept = r.Header.Get("Accept")
		assert.Equal(t, "10", r.URL.Query().Get("per_page"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"total_count": 1,
			"items": [{
				"name": "config.env",
				"path": "deploy/config.env",
				"html_url": "https://github.com/acme/app/blob/abc123/deploy/config.env",
				"repository": {"full_name": "acme/app"},
				"text_matches": [{"fragment": "password = \"hunter2\""}]
			}]
		}`))
	}))
	defer server.Close()

	gh := NewGitHub(GitHubConfig{Token: "t0ken", BaseURL: server.URL})
	assert.Equal(t, "github", gh.Name())
	assert.Equal(t, models.DialectCode, gh.Dialect())
	assert.True(t, gh.IsAvailable())

	hits, err := gh.Search(context.Background(), codeQuery, testDomain)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	assert.Equal(t, codeQuery.Text, gotQuery)
	assert.Equal(t, "Bearer t0ken", gotAuth)
	assert.Contains(t, gotAccept, "text-match")

	h := hits[0]
	assert.Equal(t, "github", h.Platform)
	assert.Equal(t, codeQuery.Text, h.Query)
	assert.Equal(t, "acme/app: deploy/config.env", h.Title)
	assert.Equal(t, "https://github.com/acme/app/blob/abc123/deploy/config.env", h.Link)
	assert.Equal(t, `password = "hunter2"`, h.Snippet)
	assert.Equal(t, "acme/app", h.Repository)
	assert.Equal(t, "config.env", h.File)
	assert.Equal(t, "https://raw.githubusercontent.com/acme/app/abc123/deploy/config.env", h.RawURL)
}

func TestGitHubSearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		headers map[string]string
		want    error
	}{
		{"unauthorized", 401, nil, ErrUnauthorized},
		{"forbidden", 403, nil, ErrUnauthorized},
		{"quota exhausted", 403, map[string]string{"X-RateLimit-Remaining": "0"}, ErrRateLimited},
		{"secondary limit", 403, map[string]string{"Retry-After": "60"}, ErrRateLimited},
		{"too many requests", 429, nil, ErrRateLimited},
		{"unavailable", 503, nil, ErrRateLimited},
		{"bad query", 422, nil, ErrInvalidQuery},
		{"server error", 500, nil, ErrNetwork},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			_, err := NewGitHub(GitHubConfig{Token: "t", BaseURL: server.URL}).Search(context.Background(), codeQuery, testDomain)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ae *AdapterError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, tt.status, ae.StatusCode)
			assert.Contains(t, ae.Error(), "nope")
			for k, v := range tt.headers {
				assert.Equal(t, v, ae.Headers.Get(k))
			}
		})
	}
}

func TestGitHubSearchNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewGitHub(GitHubConfig{Token: "t", BaseURL: url, Timeout: time.Second}).Search(context.Background(), codeQuery, testDomain)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestGitHubSearchMalformedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer server.Close()

	_, err := NewGitHub(GitHubConfig{BaseURL: server.URL}).Search(context.Background(), codeQuery, testDomain)
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestGitLabSearch(t *testing.T) {
	var server *httptest.Server
	var gotQuery, gotToken string
	projectCalls := 0
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/v4/search":
			assert.Equal(t, "blobs", r.URL.Query().Get("scope"))
			assert.Equal(t, "10", r.URL.Query().Get("per_page"))
			gotQuery = r.URL.Query().Get("search")
			gotToken = r.Header.Get("PRIVATE-TOKEN")
			_, _ = w.Write([]byte(`[
				{"filename": "deploy/config.env", "path": "deploy/config.env", "ref": "main", "data": "  password = \"hunter2\"\n", "project_id": 7},
				{"filename": ".env", "path": ".env", "ref": "dev", "data": "API_KEY=abc", "project_id": 7}
			]`))
		case "/api/v4/projects/7":
			projectCalls++
			_, _ = w.Write([]byte(`{"path_with_namespace": "acme/app", "web_url": "` + server.URL + `/acme/app"}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	gl := NewGitLab(GitLabConfig{Token: "glpat", BaseURL: server.URL})
	assert.Equal(t, "gitlab", gl.Name())
	assert.Equal(t, models.DialectCode, gl.Dialect())
	assert.True(t, gl.IsAvailable())
	assert.False(t, NewGitLab(GitLabConfig{}).IsAvailable())

	hits, err := gl.Search(context.Background(), codeQuery, testDomain)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, codeQuery.Text, gotQuery)
	assert.Equal(t, "glpat", gotToken)
	assert.Equal(t, 1, projectCalls, "project lookups are cached")

	h := hits[0]
	assert.Equal(t, "gitlab", h.Platform)
	assert.Equal(t, codeQuery.Text, h.Query)
	assert.Equal(t, "acme/app: deploy/config.env", h.Title)
	assert.Equal(t, server.URL+"/acme/app/-/blob/main/deploy/config.env", h.Link)
	assert.Equal(t, server.URL+"/acme/app/-/raw/main/deploy/config.env", h.RawURL)
	assert.Equal(t, `password = "hunter2"`, h.Snippet)
	assert.Equal(t, "acme/app", h.Repository)
	assert.Equal(t, "config.env", h.File)
	assert.Equal(t, ".env", hits[1].File)

	_, err = gl.Search(context.Background(), codeQuery, testDomain)
	require.NoError(t, err)
	assert.Equal(t, 1, projectCalls)
}

func TestGitLabSearchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		headers map[string]string
		want    error
		detail  string
	}{
		{"unauthorized", 401, `{"message":"401 Unauthorized"}`, nil, ErrUnauthorized, "401 Unauthorized"},
		{"forbidden", 403, `{"message":"403 Forbidden"}`, nil, ErrUnauthorized, "403 Forbidden"},
		{"too many requests", 429, `{"message":"Retry later"}`, map[string]string{"Retry-After": "60"}, ErrRateLimited, "Retry later"},
		{"bad scope", 400, `{"error":"scope does not have a valid value"}`, nil, ErrInvalidQuery, "scope does not have a valid value"},
		{"server error", 500, `{"message":"500 Internal Server Error"}`, nil, ErrNetwork, "500 Internal Server Error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				for k, v := range tt.headers {
					w.Header().Set(k, v)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewGitLab(GitLabConfig{Token: "t", BaseURL: server.URL}).Search(context.Background(), codeQuery, testDomain)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var ae *AdapterError
			require.True(t, errors.As(err, &ae))
			assert.Equal(t, "gitlab", ae.Platform)
			assert.Equal(t, tt.status, ae.StatusCode)
			assert.Contains(t, ae.Error(), tt.detail)
		})
	}
}

func TestGitLabProjectLookupFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v4/search" {
			_, _ = w.Write([]byte(`[{"path": "a.env", "ref": "main", "data": "x", "project_id": 9}]`))
			return
		}
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	_, err := NewGitLab(GitLabConfig{Token: "t", BaseURL: server.URL}).Search(context.Background(), codeQuery, testDomain)
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestSerpAPISearch(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "/search.json", r.URL.Path)
		assert.Equal(t, "google", q.Get("engine"))
		assert.Equal(t, `site:github.com "example.com"`, q.Get("q"))
		assert.Equal(t, "k3y", q.Get("api_key"))
		assert.Equal(t, "3", q.Get("num"))

		_, _ = w.Write([]byte(`{"organic_results":[
			{"position":1,"title":"acme/app config leak","link":"https://github.com/acme/app/blob/main/.env","snippet":"DB_PASSWORD=..."},
			{"position":2,"title":"no link"},
			{"position":3,"title":"Paste about example.com","link":"https://pastebin.com/raw/abc123","snippet":"x"}
		]}`))
	}))
	defer server.Close()

	s := NewSerpAPI(SerpAPIConfig{APIKey: "k3y", BaseURL: server.URL, Results: 3})
	assert.Equal(t, models.DialectWeb, s.Dialect())

	hits, err := s.Search(context.Background(), models.SearchQuery{Text: `site:github.com "example.com"`, Dialect: models.DialectWeb}, testDomain)
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, "serpapi", hits[0].Platform)
	assert.Equal(t, "acme/app", hits[0].Repository)
	assert.Equal(t, ".env", hits[0].File)
	assert.Equal(t, "https://raw.githubusercontent.com/acme/app/main/.env", hits[0].RawURL)

	assert.Empty(t, hits[1].Repository)
	assert.Equal(t, "abc123", hits[1].File)
	assert.Empty(t, hits[1].RawURL)
}

func TestSerpAPIErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"invalid key", 401, `{"error":"Invalid API key."}`, ErrUnauthorized},
		{"quota", 429, `{"error":"Your account has run out of searches."}`, ErrRateLimited},
		{"key in 200 body", 200, `{"error":"Invalid API key. Your API key should be here"}`, ErrUnauthorized},
		{"out of searches in 200 body", 200, `{"error":"Your account has run out of searches."}`, ErrRateLimited},
		{"other error", 200, `{"error":"Unsupported parameter"}`, ErrInvalidQuery},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			_, err := NewSerpAPI(SerpAPIConfig{APIKey: "k", BaseURL: server.URL}).Search(context.Background(), models.SearchQuery{Text: "q"}, testDomain)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestSerpAPINoResults(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"error":"Google hasn't returned any results for this query."}`))
	}))
	defer server.Close()

	hits, err := NewSerpAPI(SerpAPIConfig{APIKey: "k", BaseURL: server.URL}).Search(context.Background(), models.SearchQuery{Text: "q"}, testDomain)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSerpAPIWithoutKey(t *testing.T) {
	s := NewSerpAPI(SerpAPIConfig{})
	assert.False(t, s.IsAvailable())

	_, err := s.Search(context.Background(), models.SearchQuery{Text: "q"}, testDomain)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestRedactKey(t *testing.T) {
	err := redactKey(errors.New(`Get "https://serpapi.com/search.json?api_key=s3cret": dial tcp`), "s3cret")
	assert.NotContains(t, err.Error(), "s3cret")
	assert.True(t, strings.Contains(err.Error(), "REDACTED"))
}

func TestLinkHelpers(t *testing.T) {
	assert.Equal(t, "https://raw.githubusercontent.com/o/r/main/a/b.txt", rawGitHubURL("https://github.com/o/r/blob/main/a/b.txt"))
	assert.Empty(t, rawGitHubURL("https://github.com/o/r"))
	assert.Empty(t, rawGitHubURL("https://gitlab.com/o/r/blob/main/a"))

	assert.Equal(t, "o/r", repositoryFromLink("https://gitlab.com/o/r/-/blob/main/x"))
	assert.Empty(t, repositoryFromLink("https://github.com/o"))
	assert.Empty(t, repositoryFromLink("https://example.com/o/r"))

	assert.Equal(t, "b.txt", fileFromLink("https://x.org/a/b.txt"))
	assert.Empty(t, fileFromLink("https://x.org/"))
}
