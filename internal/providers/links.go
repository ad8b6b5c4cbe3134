package providers

import (
	"net/url"
	"path"
	"strings"
)

const maxResponseBytes = 4 << 20

// rawGitHubURL turns a github.com blob link into its raw.githubusercontent.com form
func rawGitHubURL(link string) string {
	u, err := url.Parse(link)
	if err != nil || !strings.EqualFold(u.Hostname(), "github.com") {
		return ""
	}

	// /owner/repo/blob/ref/path...
	parts := strings.SplitN(strings.TrimPrefix(u.Path, "/"), "/", 5)
	if len(parts) < 5 || parts[2] != "blob" {
		return ""
	}
	return "https://raw.githubusercontent.com/" + parts[0] + "/" + parts[1] + "/" + parts[3] + "/" + parts[4]
}

// repositoryFromLink extracts owner/repo from a code-host URL
func repositoryFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	switch strings.ToLower(u.Hostname()) {
	case "github.com", "gitlab.com", "bitbucket.org":
	default:
		return ""
	}

	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return parts[0] + "/" + parts[1]
}

// fileFromLink returns the last path segment of link
func fileFromLink(link string) string {
	u, err := url.Parse(link)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return path.Base(u.Path)
}
