package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"apworldmgr/internal/apworld"
)

const (
	stateFileName = ".cache_state.json"
	hashChunkSize = 32 * 1024
)

// ReleaseLister fetches the complete release list for a repository,
// newest first.
type ReleaseLister interface {
	ListReleases(ctx context.Context, repo string) ([]Release, error)
}

// Cache is the synchronization state for one managed directory: a stat+digest
// fingerprint per local file and the cached release list per repository. It
// is persisted as a single JSON document inside the directory it manages.
type Cache struct {
	Files map[string]FileRecord `json:"files"`
	Repos map[string]RepoRecord `json:"repos"`

	dir string
}

// Open loads the cache document from dir, or returns an empty cache when no
// document exists yet.
func Open(dir string) (*Cache, error) {
	c := &Cache{
		Files: make(map[string]FileRecord),
		Repos: make(map[string]RepoRecord),
		dir:   dir,
	}

	data, err := os.ReadFile(c.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return c, nil
		}
		return nil, fmt.Errorf("failed to read cache state: %w", err)
	}

	if err := json.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("failed to parse cache state: %w", err)
	}
	if c.Files == nil {
		c.Files = make(map[string]FileRecord)
	}
	if c.Repos == nil {
		c.Repos = make(map[string]RepoRecord)
	}

	return c, nil
}

// Dir returns the managed directory.
func (c *Cache) Dir() string {
	return c.dir
}

// Save persists the cache document atomically: the new document is written to
// a temp file in the managed directory and renamed over the old one, so a
// crash leaves either the previous document or the new one, never a mix.
func (c *Cache) Save() error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache state: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(c.dir, stateFileName+"-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp cache state: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("failed to write cache state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close cache state: %w", err)
	}

	if err := os.Rename(tmpPath, c.statePath()); err != nil {
		return fmt.Errorf("failed to replace cache state: %w", err)
	}
	return nil
}

// RefreshFiles rebuilds the file map from a non-recursive directory scan.
// Names the world loader ignores (leading "_" or ".") are skipped. A file
// whose mtime, size and inode all match the stored record keeps its digest;
// anything new or changed is rehashed, and records for vanished files are
// dropped. The document is persisted only when something changed.
func (c *Cache) RefreshFiles() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", c.dir, err)
	}

	dirty := false
	seen := make(map[string]bool, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || apworld.IsIgnoredFile(name) {
			continue
		}
		seen[name] = true

		info, err := entry.Info()
		if err != nil {
			return fmt.Errorf("failed to stat %s: %w", name, err)
		}
		mtime := info.ModTime().UnixNano()
		size := info.Size()
		inode := inodeOf(info)

		if prev, ok := c.Files[name]; ok && prev.sameStat(mtime, size, inode) {
			continue
		}

		digest, err := hashFile(filepath.Join(c.dir, name))
		if err != nil {
			return err
		}
		c.Files[name] = FileRecord{MTime: mtime, Size: size, Inode: inode, SHA256: digest}
		dirty = true
	}

	for name := range c.Files {
		if !seen[name] {
			delete(c.Files, name)
			dirty = true
		}
	}

	if dirty {
		return c.Save()
	}
	return nil
}

// RefreshRepo re-fetches a repository's releases unless the cached record is
// still fresh. A successful fetch replaces the record wholesale and persists
// the document before returning, so progress across repositories survives a
// later failure.
func (c *Cache) RefreshRepo(ctx context.Context, lister ReleaseLister, repo string) error {
	if rec, ok := c.Repos[repo]; ok && rec.Fresh(time.Now()) {
		return nil
	}

	releases, err := lister.ListReleases(ctx, repo)
	if err != nil {
		return err
	}

	c.Repos[repo] = RepoRecord{
		LastChecked: time.Now().Unix(),
		Releases:    releases,
	}
	return c.Save()
}

func (c *Cache) statePath() string {
	return filepath.Join(c.dir, stateFileName)
}

// hashFile computes the SHA256 digest of a file, reading in fixed-size
// chunks so large assets never get loaded whole.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() {
		_ = f.Close()
	}()

	h := sha256.New()
	buf := make([]byte, hashChunkSize)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("failed to hash %s: %w", path, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
