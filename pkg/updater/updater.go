package updater

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	GitHubRepo = "aeolun/wschat"
)

// DefaultReleaseURL is the GitHub endpoint describing the latest release
var DefaultReleaseURL = fmt.Sprintf("https://api.github.com/repos/%s/releases/latest", GitHubRepo)

// Release represents a GitHub release
type Release struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	HTMLURL string `json:"html_url"`
}

// Checker looks up the latest published release
type Checker struct {
	URL    string
	Client *http.Client
}

// NewChecker returns a checker for the project's GitHub releases
func NewChecker() *Checker {
	return &Checker{
		URL:    DefaultReleaseURL,
		Client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Latest fetches the latest release
func (c *Checker) Latest(ctx context.Context) (Release, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.URL, nil)
	if err != nil {
		return Release{}, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := c.Client.Do(req)
	if err != nil {
		return Release{}, fmt.Errorf("failed to fetch release info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Release{}, fmt.Errorf("release API returned status %d", resp.StatusCode)
	}

	var release Release
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return Release{}, fmt.Errorf("failed to parse release info: %w", err)
	}
	if release.TagName == "" {
		return Release{}, fmt.Errorf("release has no tag")
	}

	return release, nil
}

// CheckLatestVersion fetches the latest version tag from GitHub
func CheckLatestVersion(ctx context.Context) (string, error) {
	release, err := NewChecker().Latest(ctx)
	if err != nil {
		return "", err
	}
	return release.TagName, nil
}

// CompareVersions returns true if newVersion is newer than currentVersion.
// Versions are compared numerically per dot-separated component; a "v"
// prefix and any pre-release suffix are ignored. "dev" builds never report
// an update.
func CompareVersions(currentVersion, newVersion string) bool {
	if currentVersion == "" || currentVersion == "dev" {
		return false
	}

	current := parseVersion(currentVersion)
	latest := parseVersion(newVersion)
	if latest == nil {
		return false
	}

	for i := 0; i < max(len(current), len(latest)); i++ {
		var a, b int
		if i < len(current) {
			a = current[i]
		}
		if i < len(latest) {
			b = latest[i]
		}
		if a != b {
			return b > a
		}
	}
	return false
}

func parseVersion(v string) []int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexAny(v, "-+"); i >= 0 {
		v = v[:i]
	}
	if v == "" {
		return nil
	}

	parts := strings.Split(v, ".")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil
		}
		out = append(out, n)
	}
	return out
}
