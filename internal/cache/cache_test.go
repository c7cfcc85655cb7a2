package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"apworldmgr/internal/testutil"

	"github.com/google/go-cmp/cmp"
)

func sha256Hex(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// fakeLister implements ReleaseLister and counts invocations.
type fakeLister struct {
	calls    int
	releases []Release
	err      error
}

func (f *fakeLister) ListReleases(_ context.Context, _ string) ([]Release, error) {
	f.calls++
	return f.releases, f.err
}

func TestRefreshFiles_NewFile(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ootr.apworld", "release content")

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatalf("RefreshFiles failed: %v", err)
	}

	rec, ok := c.Files["ootr.apworld"]
	if !ok {
		t.Fatal("expected a record for ootr.apworld")
	}
	if rec.SHA256 != sha256Hex("release content") {
		t.Errorf("unexpected digest: %s", rec.SHA256)
	}
	if rec.Size != int64(len("release content")) {
		t.Errorf("unexpected size: %d", rec.Size)
	}
	if rec.Inode == 0 {
		t.Error("expected a nonzero inode")
	}
}

func TestRefreshFiles_FastPathSkipsHashing(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ootr.apworld", "release content")

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}

	// Poison the stored digest. If the fast path holds, the poison survives
	// a second refresh because the file is never re-read.
	rec := c.Files["ootr.apworld"]
	rec.SHA256 = "poisoned"
	c.Files["ootr.apworld"] = rec

	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	if c.Files["ootr.apworld"].SHA256 != "poisoned" {
		t.Error("digest was recomputed despite unchanged stat fingerprint")
	}
}

func TestRefreshFiles_RehashOnMTimeChange(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "ootr.apworld", "release content")

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}

	rec := c.Files["ootr.apworld"]
	rec.SHA256 = "poisoned"
	c.Files["ootr.apworld"] = rec

	newTime := time.Now().Add(time.Hour)
	if err := os.Chtimes(path, newTime, newTime); err != nil {
		t.Fatal(err)
	}

	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	if got := c.Files["ootr.apworld"].SHA256; got != sha256Hex("release content") {
		t.Errorf("expected recomputed digest, got %s", got)
	}
}

func TestRefreshFiles_RehashOnSizeChange(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ootr.apworld", "release content")

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}

	testutil.WriteFile(t, dir, "ootr.apworld", "release content v2, longer")

	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	rec := c.Files["ootr.apworld"]
	if rec.SHA256 != sha256Hex("release content v2, longer") {
		t.Errorf("expected recomputed digest, got %s", rec.SHA256)
	}
	if rec.Size != int64(len("release content v2, longer")) {
		t.Errorf("unexpected size: %d", rec.Size)
	}
}

func TestRefreshFiles_RehashOnInodeChange(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "ootr.apworld", "release content")
	mtime := time.Unix(1700000000, 0)
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}

	rec := c.Files["ootr.apworld"]
	rec.SHA256 = "poisoned"
	c.Files["ootr.apworld"] = rec

	// Same name, content, size and mtime, but a different inode.
	replacement := testutil.WriteFile(t, dir, "_replacement", "release content")
	if err := os.Rename(replacement, path); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}

	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	if got := c.Files["ootr.apworld"].SHA256; got != sha256Hex("release content") {
		t.Errorf("expected recomputed digest, got %s", got)
	}
}

func TestRefreshFiles_DropsVanishedFiles(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "ootr.apworld", "release content")

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(path); err != nil {
		t.Fatal(err)
	}

	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}
	if _, ok := c.Files["ootr.apworld"]; ok {
		t.Error("record for a removed file should be dropped")
	}
}

func TestRefreshFiles_SkipsIgnoredNames(t *testing.T) {
	dir := t.TempDir()
	testutil.WriteFile(t, dir, "ootr.apworld", "kept")
	testutil.WriteFile(t, dir, "_disabled.apworld", "ignored")
	testutil.WriteFile(t, dir, ".hidden", "ignored")
	if err := os.Mkdir(filepath.Join(dir, "subdir"), 0755); err != nil {
		t.Fatal(err)
	}

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := c.RefreshFiles(); err != nil {
		t.Fatal(err)
	}

	if len(c.Files) != 1 {
		t.Fatalf("expected 1 record, got %d: %v", len(c.Files), c.Files)
	}
	if _, ok := c.Files["ootr.apworld"]; !ok {
		t.Error("expected a record for ootr.apworld")
	}
}

func TestSaveAndOpen_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	digest := sha256Hex("v2 content")
	c.Files["ootr.apworld"] = FileRecord{MTime: 1234567890000000000, Size: 42, Inode: 99, SHA256: sha256Hex("local")}
	c.Repos["espeon65536/Archipelago"] = RepoRecord{
		LastChecked: 1700000000,
		Releases: []Release{
			{
				TagName:   "v2",
				Timestamp: "2024-01-02T00:00:00Z",
				Name:      "Version 2",
				Body:      "changelog",
				Assets: map[string]Asset{
					"ootr.apworld":  {Size: 42, SHA256: &digest},
					"extra.apworld": {Size: 7}, // digest absent
				},
			},
			{TagName: "v1", Timestamp: "2024-01-01T00:00:00Z", Assets: map[string]Asset{}},
		},
	}
	if err := c.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if diff := cmp.Diff(c.Files, reloaded.Files); diff != "" {
		t.Errorf("files mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(c.Repos, reloaded.Repos); diff != "" {
		t.Errorf("repos mismatch (-want +got):\n%s", diff)
	}
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()

	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c.Files["ootr.apworld"] = FileRecord{Size: 1}
	if err := c.Save(); err != nil {
		t.Fatal(err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", entry.Name())
		}
	}
	if _, err := os.Stat(filepath.Join(dir, stateFileName)); err != nil {
		t.Errorf("state file missing: %v", err)
	}
}

func TestRefreshRepo_FreshRecordSkipsNetwork(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c.Repos["a/b"] = RepoRecord{LastChecked: time.Now().Unix()}

	lister := &fakeLister{}
	if err := c.RefreshRepo(context.Background(), lister, "a/b"); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 0 {
		t.Errorf("expected no fetch for a fresh record, got %d", lister.calls)
	}
}

func TestRefreshRepo_StaleRecordIsReplacedAndPersisted(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	c.Repos["a/b"] = RepoRecord{
		LastChecked: time.Now().Add(-2 * time.Hour).Unix(),
		Releases:    []Release{{TagName: "old"}},
	}

	lister := &fakeLister{releases: []Release{{TagName: "v3", Assets: map[string]Asset{}}}}
	if err := c.RefreshRepo(context.Background(), lister, "a/b"); err != nil {
		t.Fatal(err)
	}
	if lister.calls != 1 {
		t.Fatalf("expected 1 fetch, got %d", lister.calls)
	}

	rec := c.Repos["a/b"]
	if len(rec.Releases) != 1 || rec.Releases[0].TagName != "v3" {
		t.Errorf("record not replaced wholesale: %+v", rec.Releases)
	}
	if !rec.Fresh(time.Now()) {
		t.Error("refreshed record should be fresh")
	}

	reloaded, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Repos["a/b"].Releases) != 1 {
		t.Error("refreshed record was not persisted")
	}
}

func TestRefreshRepo_FetchErrorPropagates(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}

	wantErr := errors.New("boom")
	lister := &fakeLister{err: wantErr}
	err = c.RefreshRepo(context.Background(), lister, "a/b")
	if !errors.Is(err, wantErr) {
		t.Errorf("expected fetch error to propagate, got %v", err)
	}
	if _, ok := c.Repos["a/b"]; ok {
		t.Error("no record should be stored on fetch failure")
	}
}
