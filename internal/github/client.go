package github

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"apworldmgr/internal/cache"
)

// Options configures a Client. Zero-value fields fall back to the public
// GitHub endpoints.
type Options struct {
	APIBase      string // release-listing API, default https://api.github.com
	DownloadBase string // asset downloads, default https://github.com
	Token        string // optional bearer token
	PerPage      int    // page size for release listing, default 100
}

// Client talks to the GitHub REST API. It implements cache.ReleaseLister.
type Client struct {
	httpClient   *http.Client
	apiBase      string
	downloadBase string
	token        string
	perPage      int
	logger       *slog.Logger
}

// NewClient creates a release client.
func NewClient(opts Options, logger *slog.Logger) *Client {
	if opts.APIBase == "" {
		opts.APIBase = "https://api.github.com"
	}
	if opts.DownloadBase == "" {
		opts.DownloadBase = "https://github.com"
	}
	if opts.PerPage <= 0 {
		opts.PerPage = 100
	}
	return &Client{
		httpClient:   &http.Client{},
		apiBase:      strings.TrimRight(opts.APIBase, "/"),
		downloadBase: strings.TrimRight(opts.DownloadBase, "/"),
		token:        opts.Token,
		perPage:      opts.PerPage,
		logger:       logger,
	}
}

// ListReleases fetches every page of a repository's releases and returns them
// in API order, newest first. Pages are chained through the Link header's
// "next" relation.
func (c *Client) ListReleases(ctx context.Context, repo string) ([]cache.Release, error) {
	url := fmt.Sprintf("%s/repos/%s/releases?per_page=%d", c.apiBase, repo, c.perPage)

	var releases []cache.Release
	for url != "" {
		page, next, err := c.fetchPage(ctx, url)
		if err != nil {
			return nil, err
		}
		for _, rel := range page {
			releases = append(releases, rel.toCache())
		}
		url = next
	}

	c.logger.Debug("fetched releases", "repo", repo, "count", len(releases))
	return releases, nil
}

// fetchPage retrieves one page of releases plus the URL of the next page,
// if any.
func (c *Client) fetchPage(ctx context.Context, url string) ([]releaseJSON, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list releases: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkRateLimit(resp); err != nil {
		return nil, "", err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	var page []releaseJSON
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, "", fmt.Errorf("failed to decode releases page: %w", err)
	}

	return page, nextLink(resp.Header.Get("Link")), nil
}

// DownloadAsset streams one release asset into w. The caller owns the
// destination; nothing is written on a non-200 response.
func (c *Client) DownloadAsset(ctx context.Context, repo, tag, asset string, w io.Writer) error {
	url := fmt.Sprintf("%s/%s/releases/download/%s/%s", c.downloadBase, repo, tag, asset)
	c.logger.Info("downloading", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if err := checkRateLimit(resp); err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	return nil
}

var linkRelPattern = regexp.MustCompile(`<(.*?)>; rel="(.*?)"`)

// nextLink extracts the "next" relation from a Link header, or "" when the
// last page has been reached.
func nextLink(header string) string {
	for _, m := range linkRelPattern.FindAllStringSubmatch(header, -1) {
		if m[2] == "next" {
			return m[1]
		}
	}
	return ""
}

// releaseJSON is the wire shape of one release object. Null string fields
// decode to "".
type releaseJSON struct {
	TagName     string      `json:"tag_name"`
	Name        string      `json:"name"`
	Body        string      `json:"body"`
	CreatedAt   string      `json:"created_at"`
	UpdatedAt   string      `json:"updated_at"`
	PublishedAt string      `json:"published_at"`
	Assets      []assetJSON `json:"assets"`
}

type assetJSON struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	Digest string `json:"digest"`
}

func (r releaseJSON) toCache() cache.Release {
	assets := make(map[string]cache.Asset, len(r.Assets))
	for _, a := range r.Assets {
		assets[a.Name] = cache.Asset{Size: a.Size, SHA256: parseDigest(a.Digest)}
	}
	return cache.Release{
		TagName:   r.TagName,
		Timestamp: newestTimestamp(r.CreatedAt, r.UpdatedAt, r.PublishedAt),
		Name:      r.Name,
		Body:      r.Body,
		Assets:    assets,
	}
}

var sha256DigestPattern = regexp.MustCompile(`^sha256:([0-9a-f]{64})$`)

// parseDigest extracts the hex digest from an "algorithm:hex" string. Only
// sha256 digests are trusted; anything else is recorded as absent.
func parseDigest(digest string) *string {
	m := sha256DigestPattern.FindStringSubmatch(digest)
	if m == nil {
		return nil
	}
	return &m[1]
}

// newestTimestamp picks the largest of the given ISO-8601 timestamps.
// Lexicographic order is chronological order for this format, and missing
// values arrive as "" so they never win.
func newestTimestamp(values ...string) string {
	newest := ""
	for _, v := range values {
		if v > newest {
			newest = v
		}
	}
	return newest
}
