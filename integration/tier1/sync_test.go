//go:build integration

package tier1

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"apworldmgr/internal/cache"
	"apworldmgr/internal/config"
	"apworldmgr/internal/github"
	"apworldmgr/internal/manager"
	"apworldmgr/internal/resolve"
	"apworldmgr/internal/testutil"
)

// TestFullSyncCycle exercises the whole loop against a fake forge: check
// ingests the release list, update downloads the newest asset, a second
// update is a no-op, and a newer release published later is picked up.
func TestFullSyncCycle(t *testing.T) {
	forge := newForge(t, "alice/ootr-apworld", []releaseFixture{
		{Tag: "v2.0", Assets: map[string]string{"ootr.apworld": "payload v2"}},
		{Tag: "v1.0", Assets: map[string]string{"ootr.apworld": "payload v1"}},
	})

	dir := t.TempDir()
	world, err := config.NewRepoWorld("ootr", "alice/ootr-apworld", "ootr.apworld")
	if err != nil {
		t.Fatalf("NewRepoWorld() error = %v", err)
	}
	cfg := &config.Config{Worlds: []config.World{world}}

	engine := newEngine(t, cfg, dir, forge)
	scope := manager.Scope{}
	ctx := context.Background()

	// Before any check, list reports the repo as never checked.
	rows, err := engine.Check(ctx, scope)
	if err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	want := []manager.Row{{Name: "ootr", Version: "", Status: resolve.StatusNotDownloaded}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows after check mismatch (-want +got):\n%s", diff)
	}

	summary, err := engine.Update(ctx, scope)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if diff := cmp.Diff([]string{"ootr"}, summary.Downloaded); diff != "" {
		t.Errorf("downloaded mismatch (-want +got):\n%s", diff)
	}

	got, err := os.ReadFile(filepath.Join(dir, "ootr.apworld"))
	if err != nil {
		t.Fatalf("read downloaded file: %v", err)
	}
	if string(got) != "payload v2" {
		t.Errorf("downloaded content = %q, want %q", got, "payload v2")
	}

	// The cache now knows the file and reports it as current.
	rows = engine.List(scope)
	want = []manager.Row{{Name: "ootr", Version: "v2.0", Status: resolve.StatusUpToDate}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows after update mismatch (-want +got):\n%s", diff)
	}

	// Running update again changes nothing.
	summary, err = engine.Update(ctx, scope)
	if err != nil {
		t.Fatalf("second Update() error = %v", err)
	}
	if len(summary.Downloaded) != 0 || len(summary.Deleted) != 0 {
		t.Errorf("second update did work: %+v", summary)
	}

	// A newer release shows up. The cached record is still fresh, so a new
	// engine must be forced past the freshness window before it sees it.
	forge.releases = append([]releaseFixture{
		{Tag: "v3.0", Assets: map[string]string{"ootr.apworld": "payload v3"}},
	}, forge.releases...)

	expireRepoRecords(t, dir)
	engine = newEngine(t, cfg, dir, forge)
	rows, err = engine.Check(ctx, scope)
	if err != nil {
		t.Fatalf("Check() after new release error = %v", err)
	}
	want = []manager.Row{{Name: "ootr", Version: "v2.0", Status: resolve.StatusUpdateAvailable}}
	if diff := cmp.Diff(want, rows); diff != "" {
		t.Errorf("rows after new release mismatch (-want +got):\n%s", diff)
	}

	if _, err := engine.Update(ctx, scope); err != nil {
		t.Fatalf("Update() to v3 error = %v", err)
	}
	got, err = os.ReadFile(filepath.Join(dir, "ootr.apworld"))
	if err != nil {
		t.Fatalf("read updated file: %v", err)
	}
	if string(got) != "payload v3" {
		t.Errorf("updated content = %q, want %q", got, "payload v3")
	}
}

// TestOrphanRemoval checks that a full-scope update removes every
// unreferenced file, apworld or not, while manual worlds survive.
func TestOrphanRemoval(t *testing.T) {
	forge := newForge(t, "alice/ootr-apworld", []releaseFixture{
		{Tag: "v1.0", Assets: map[string]string{"ootr.apworld": "payload v1"}},
	})

	dir := t.TempDir()
	testutil.WriteFile(t, dir, "stray.apworld", "left over")
	testutil.WriteFile(t, dir, "kept.apworld", "manual content")
	testutil.WriteFile(t, dir, "notes.txt", "unreferenced, not an apworld")

	repoWorld, err := config.NewRepoWorld("ootr", "alice/ootr-apworld", "ootr.apworld")
	if err != nil {
		t.Fatalf("NewRepoWorld() error = %v", err)
	}
	manualWorld, err := config.NewManualWorld("kept", "kept.apworld")
	if err != nil {
		t.Fatalf("NewManualWorld() error = %v", err)
	}
	cfg := &config.Config{Worlds: []config.World{repoWorld, manualWorld}}

	engine := newEngine(t, cfg, dir, forge)
	ctx := context.Background()
	scope := manager.Scope{}

	if _, err := engine.Check(ctx, scope); err != nil {
		t.Fatalf("Check() error = %v", err)
	}
	summary, err := engine.Update(ctx, scope)
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if diff := cmp.Diff([]string{"notes.txt", "stray.apworld"}, summary.Deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	var names []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		names = append(names, d.Name())
		return nil
	})
	if err != nil {
		t.Fatalf("walk managed dir: %v", err)
	}
	wantNames := []string{".cache_state.json", "kept.apworld", "ootr.apworld"}
	if diff := cmp.Diff(wantNames, names); diff != "" {
		t.Errorf("directory contents mismatch (-want +got):\n%s", diff)
	}
}

func newEngine(t *testing.T, cfg *config.Config, dir string, forge *forge) *manager.Engine {
	t.Helper()

	c, err := cache.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatalf("RefreshFiles() error = %v", err)
	}

	logger := testutil.Logger()
	client := github.NewClient(github.Options{
		APIBase:      forge.URL(),
		DownloadBase: forge.URL(),
	}, logger)

	return manager.NewEngine(cfg, c, client, logger)
}

// expireRepoRecords rewrites the cache on disk with every repo record pushed
// outside the freshness window, so the next check refetches.
func expireRepoRecords(t *testing.T, dir string) {
	t.Helper()

	c, err := cache.Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	for repo, record := range c.Repos {
		record.LastChecked -= int64(cache.FreshWindow.Seconds()) + 1
		c.Repos[repo] = record
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
}
