//go:build integration

package tier1

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// releaseFixture describes one release served by the fake forge.
type releaseFixture struct {
	Tag    string
	Assets map[string]string // asset name -> content
}

// forge is a fake GitHub serving a release listing and asset downloads for a
// single repository, from in-memory fixtures.
type forge struct {
	t        *testing.T
	repo     string
	releases []releaseFixture // newest first
	server   *httptest.Server
}

// newForge starts the fake forge. The server is shut down with the test.
func newForge(t *testing.T, repo string, releases []releaseFixture) *forge {
	t.Helper()
	f := &forge{t: t, repo: repo, releases: releases}

	mux := http.NewServeMux()
	mux.HandleFunc(fmt.Sprintf("/repos/%s/releases", repo), f.handleList)
	mux.HandleFunc(fmt.Sprintf("/%s/releases/download/", repo), f.handleDownload)

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

// URL doubles as both API base and download base.
func (f *forge) URL() string {
	return f.server.URL
}

func (f *forge) handleList(w http.ResponseWriter, r *http.Request) {
	type assetJSON struct {
		Name   string `json:"name"`
		Size   int64  `json:"size"`
		Digest string `json:"digest"`
	}
	type releaseJSON struct {
		TagName   string      `json:"tag_name"`
		CreatedAt string      `json:"created_at"`
		Assets    []assetJSON `json:"assets"`
	}

	payload := make([]releaseJSON, 0, len(f.releases))
	for i, rel := range f.releases {
		out := releaseJSON{
			TagName:   rel.Tag,
			CreatedAt: fmt.Sprintf("2024-01-%02dT00:00:00Z", len(f.releases)-i),
		}
		for name, content := range rel.Assets {
			sum := sha256.Sum256([]byte(content))
			out.Assets = append(out.Assets, assetJSON{
				Name:   name,
				Size:   int64(len(content)),
				Digest: "sha256:" + hex.EncodeToString(sum[:]),
			})
		}
		payload = append(payload, out)
	}

	if err := json.NewEncoder(w).Encode(payload); err != nil {
		f.t.Errorf("encode releases: %v", err)
	}
}

func (f *forge) handleDownload(w http.ResponseWriter, r *http.Request) {
	// Path shape: /{owner}/{repo}/releases/download/{tag}/{asset}
	rest := strings.TrimPrefix(r.URL.Path, fmt.Sprintf("/%s/releases/download/", f.repo))
	tag, asset, ok := strings.Cut(rest, "/")
	if !ok {
		http.NotFound(w, r)
		return
	}

	for _, rel := range f.releases {
		if rel.Tag != tag {
			continue
		}
		if content, ok := rel.Assets[asset]; ok {
			_, _ = w.Write([]byte(content))
			return
		}
	}
	http.NotFound(w, r)
}
