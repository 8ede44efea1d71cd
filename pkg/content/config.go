// Package content resolves ComplianceAsCode benchmark content for a distro.
//
// A Store keeps an on-disk cache under CacheDir:
//
//	<cache>/metadata.json        index of resolved paths per product
//	<cache>/releases/<version>/  extracted release archives (online mode)
//	<cache>/repo/                git working copy (offline mode)
//
// Resolve reads the index only. EnsureContent refreshes it from the network
// and falls back to whatever is already on disk when that fails.
package content

import (
	"path/filepath"
	"strings"
	"time"
)

// Config configures a Store.
type Config struct {
	CacheDir string

	// Owner and Repo name the GitHub repository holding the content.
	Owner string
	Repo  string

	// RepoURL and Branch are used by the offline clone.
	RepoURL string
	Branch  string

	// ReleaseVersion pins a release; "latest" (or empty) asks the remote.
	ReleaseVersion string

	// ReleaseURLTemplate has {version} replaced by the release version.
	ReleaseURLTemplate string

	GitHubToken string

	// APIBaseURL overrides the GitHub API endpoint (tests, enterprise).
	APIBaseURL string

	RequestTimeout  time.Duration
	DownloadTimeout time.Duration

	// DownloadAttempts bounds retries of a transient archive download.
	DownloadAttempts int

	// CacheTTL bounds the age of in-memory product and profile lists.
	CacheTTL time.Duration

	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns a Config pointed at ComplianceAsCode/content.
func DefaultConfig() Config {
	return Config{
		CacheDir:           "cache/cac",
		Owner:              "ComplianceAsCode",
		Repo:               "content",
		RepoURL:            "https://github.com/ComplianceAsCode/content.git",
		Branch:             "master",
		ReleaseVersion:     "latest",
		ReleaseURLTemplate: "https://github.com/ComplianceAsCode/content/releases/download/v{version}/scap-security-guide-{version}.zip",
		RequestTimeout:     60 * time.Second,
		DownloadTimeout:    300 * time.Second,
		DownloadAttempts:   3,
		CacheTTL:           10 * time.Minute,
		RequestsPerSecond:  5,
		Burst:              10,
	}
}

func (c Config) releasesDir() string { return filepath.Join(c.CacheDir, "releases") }
func (c Config) repoDir() string     { return filepath.Join(c.CacheDir, "repo") }
func (c Config) indexPath() string   { return filepath.Join(c.CacheDir, "metadata.json") }

func (c Config) releaseDir(version string) string {
	return filepath.Join(c.releasesDir(), version)
}

func (c Config) releaseURL(version string) string {
	return strings.ReplaceAll(c.ReleaseURLTemplate, "{version}", version)
}

// pinnedVersion returns the configured release, or "" when the latest
// release must be looked up.
func (c Config) pinnedVersion() string {
	if c.ReleaseVersion == "" || c.ReleaseVersion == "latest" {
		return ""
	}
	return c.ReleaseVersion
}
