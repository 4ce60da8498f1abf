// Package update checks GitHub releases for a newer tally binary and
// installs it in place of the running executable.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultAPIBase is the GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

// ErrDevBuild is returned when the running binary has no release version.
var ErrDevBuild = errors.New("development build; nothing to compare against")

// Release is a newer release with an asset for this platform.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Option configures an Updater.
type Option func(*Updater)

// WithAPIBase points the updater at another releases API, such as a mirror
// or a test server.
func WithAPIBase(base string) Option {
	return func(u *Updater) { u.apiBase = strings.TrimRight(base, "/") }
}

// WithHTTPClient replaces the default client.
func WithHTTPClient(hc *http.Client) Option { return func(u *Updater) { u.httpClient = hc } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(u *Updater) { u.logger = l } }

// Updater checks for and applies self-updates.
type Updater struct {
	CurrentVersion string
	RepoOwner      string
	RepoName       string
	GOOS, GOARCH   string

	apiBase    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New returns an Updater for the GoCodeAlone/tally repository.
func New(currentVersion string, opts ...Option) *Updater {
	u := &Updater{
		CurrentVersion: currentVersion,
		RepoOwner:      "GoCodeAlone",
		RepoName:       "tally",
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		apiBase:        DefaultAPIBase,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
		logger:         slog.New(slog.DiscardHandler),
	}
	for _, o := range opts {
		o(u)
	}
	return u
}

// CheckForUpdate queries the latest release. It returns nil, nil when the
// running version is already the latest.
func (u *Updater) CheckForUpdate(ctx context.Context) (*Release, error) {
	current := strings.TrimPrefix(u.CurrentVersion, "v")
	if current == "" || current == "dev" {
		return nil, ErrDevBuild
	}

	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", u.apiBase, u.RepoOwner, u.RepoName)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "tally/"+current)

	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}

	latest := strings.TrimPrefix(rel.TagName, "v")
	u.logger.Debug("latest release", "tag", rel.TagName, "current", u.CurrentVersion)
	if latest == current {
		return nil, nil
	}

	dlURL := u.assetURL(rel.Assets)
	if dlURL == "" {
		return nil, fmt.Errorf("no asset found for %s/%s", u.GOOS, u.GOARCH)
	}
	return &Release{Version: rel.TagName, URL: dlURL}, nil
}

// assetURL picks the asset built for this platform. amd64 assets may be
// named x86_64.
func (u *Updater) assetURL(assets []githubAsset) string {
	arches := []string{u.GOARCH}
	if u.GOARCH == "amd64" {
		arches = append(arches, "x86_64")
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		if !strings.Contains(name, u.GOOS) {
			continue
		}
		for _, arch := range arches {
			if strings.Contains(name, arch) {
				return a.BrowserDownloadURL
			}
		}
	}
	return ""
}

// ApplyUpdate downloads the release binary and replaces the running
// executable.
func (u *Updater) ApplyUpdate(ctx context.Context, release *Release) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locate executable: %w", err)
	}
	return u.install(ctx, release, exe)
}

// install downloads release to a temp file beside dest and renames it over
// dest. The temp file shares dest's directory so the rename stays on one
// filesystem.
func (u *Updater) install(ctx context.Context, release *Release, dest string) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(dest), ".tally-update-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		tmpFile.Close()    //nolint:errcheck
		os.Remove(tmpPath) //nolint:errcheck
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, release.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}

	n, err := io.Copy(tmpFile, resp.Body)
	if err != nil {
		return fmt.Errorf("write download: %w", err)
	}
	if n == 0 {
		return errors.New("download was empty")
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		return fmt.Errorf("replace binary: %w", err)
	}
	u.logger.Info("installed update", "version", release.Version, "path", dest)
	return nil
}
