package manager

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"apworldmgr/internal/cache"
	"apworldmgr/internal/config"
	"apworldmgr/internal/resolve"
)

// Downloader streams release assets.
type Downloader interface {
	DownloadAsset(ctx context.Context, repo, tag, asset string, w io.Writer) error
}

// Client is the remote surface the engine needs: release listing for check
// and asset downloads for update.
type Client interface {
	cache.ReleaseLister
	Downloader
}

// Engine composes the configuration, the cache and the release client into
// the list, check and update operations. Strictly sequential; one Engine per
// invocation.
type Engine struct {
	cfg    *config.Config
	cache  *cache.Cache
	client Client
	logger *slog.Logger
}

// NewEngine creates an engine over an already-opened cache.
func NewEngine(cfg *config.Config, c *cache.Cache, client Client, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:    cfg,
		cache:  c,
		client: client,
		logger: logger,
	}
}

// Scope restricts an operation to a subset of configured world names. An
// empty scope means every configured world, and additionally authorizes the
// housekeeping passes (orphan deletion, stale repo pruning).
type Scope map[string]bool

// NewScope validates the given names against the configuration. Unknown
// names are fatal.
func NewScope(names []string, cfg *config.Config) (Scope, error) {
	scope := make(Scope, len(names))
	var unknown []string
	for _, name := range names {
		if _, ok := cfg.World(name); !ok {
			unknown = append(unknown, name)
			continue
		}
		scope[name] = true
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return nil, &UnknownWorldsError{Names: unknown}
	}
	return scope, nil
}

// All reports whether the scope is unrestricted.
func (s Scope) All() bool {
	return len(s) == 0
}

// Contains reports whether the named world is in scope.
func (s Scope) Contains(name string) bool {
	return s.All() || s[name]
}

// Row is one line of the classification table.
type Row struct {
	Name    string
	Version string
	Status  resolve.Status
}

// List classifies every in-scope world against cached state, in
// configuration order. Under an unrestricted scope, files referenced by no
// world are appended as orphan rows.
func (e *Engine) List(scope Scope) []Row {
	orphans := make(map[string]bool, len(e.cache.Files))
	for name := range e.cache.Files {
		orphans[name] = true
	}

	rows := make([]Row, 0, len(e.cfg.Worlds))
	for _, world := range e.cfg.Worlds {
		delete(orphans, world.LocalFile())
		if !scope.Contains(world.Name) {
			continue
		}

		var repoRec *cache.RepoRecord
		if src, ok := world.RepoSource(); ok {
			if rec, ok := e.cache.Repos[src.Repo]; ok {
				repoRec = &rec
			}
		}
		var fileRec *cache.FileRecord
		if rec, ok := e.cache.Files[world.LocalFile()]; ok {
			fileRec = &rec
		}

		res := resolve.Resolve(world, repoRec, fileRec)
		rows = append(rows, Row{Name: world.Name, Version: res.Version, Status: res.Status})
	}

	if scope.All() {
		for _, name := range sortedKeys(orphans) {
			rows = append(rows, Row{Name: name, Status: resolve.StatusUnlisted})
		}
	}

	return rows
}

// Check refreshes remote release metadata for every in-scope repo-sourced
// world (each already-fresh record is a no-op), then returns the refreshed
// classification table. Under an unrestricted scope, repository records no
// world references anymore are pruned.
func (e *Engine) Check(ctx context.Context, scope Scope) ([]Row, error) {
	var targets []config.RepoSource
	for _, world := range e.cfg.Worlds {
		if !scope.Contains(world.Name) {
			continue
		}
		if src, ok := world.RepoSource(); ok {
			targets = append(targets, src)
		}
	}

	for i, src := range targets {
		// Progress is cosmetic; each successful fetch is persisted by the
		// cache before the next one starts.
		e.logger.Info("checking", "repo", src.Repo, "progress", fmt.Sprintf("%d/%d", i+1, len(targets)))
		if err := e.cache.RefreshRepo(ctx, e.client, src.Repo); err != nil {
			return nil, err
		}
	}

	if scope.All() {
		if err := e.pruneRepos(); err != nil {
			return nil, err
		}
	}

	return e.List(scope), nil
}

// pruneRepos drops cached repository records that no configured world
// references anymore.
func (e *Engine) pruneRepos() error {
	referenced := make(map[string]bool, len(e.cfg.Worlds))
	for _, world := range e.cfg.Worlds {
		if src, ok := world.RepoSource(); ok {
			referenced[src.Repo] = true
		}
	}

	dirty := false
	for repo := range e.cache.Repos {
		if !referenced[repo] {
			e.logger.Info("dropping stale repo record", "repo", repo)
			delete(e.cache.Repos, repo)
			dirty = true
		}
	}
	if dirty {
		return e.cache.Save()
	}
	return nil
}

// Summary describes what an update run did.
type Summary struct {
	Downloaded []string // world names that got a new file
	Deleted    []string // orphan files removed
}

// Update brings every in-scope repo-sourced world to its newest release.
// Manual worlds are skipped (and their files always protected). A repository
// without a cached record is fatal: update never fetches metadata itself.
// Downloads go to a temp file and are renamed into place only once complete,
// so a crash mid-transfer never leaves a file the cache would mistake for
// valid content. Under an unrestricted scope, files referenced by no world
// are deleted afterwards, reconciling the directory against the
// configuration.
func (e *Engine) Update(ctx context.Context, scope Scope) (*Summary, error) {
	summary := &Summary{}

	orphans := make(map[string]bool, len(e.cache.Files))
	for name := range e.cache.Files {
		orphans[name] = true
	}

	for _, world := range e.cfg.Worlds {
		delete(orphans, world.LocalFile())
		if !scope.Contains(world.Name) {
			continue
		}
		src, ok := world.RepoSource()
		if !ok {
			continue
		}

		repoRec, ok := e.cache.Repos[src.Repo]
		if !ok {
			return nil, &StaleDataError{Repo: src.Repo}
		}

		release, ok := resolve.NewestWithAsset(repoRec.Releases, src.Asset)
		if !ok {
			return nil, &AssetNotFoundError{Repo: src.Repo, Asset: src.Asset}
		}

		if local, ok := e.cache.Files[src.Asset]; ok && resolve.AssetMatches(release.Assets[src.Asset], local) {
			e.logger.Debug("already current", "world", world.Name, "tag", release.TagName)
			continue
		}

		if err := e.download(ctx, src, release.TagName); err != nil {
			return nil, err
		}
		summary.Downloaded = append(summary.Downloaded, world.Name)
	}

	if len(summary.Downloaded) > 0 {
		// Pick up the stat fingerprints and digests of the new files.
		if err := e.cache.RefreshFiles(); err != nil {
			return nil, err
		}
	}

	if scope.All() {
		for _, name := range sortedKeys(orphans) {
			path := filepath.Join(e.cache.Dir(), name)
			e.logger.Info("deleting", "file", path)
			if err := os.Remove(path); err != nil {
				return nil, fmt.Errorf("failed to delete %s: %w", path, err)
			}
			summary.Deleted = append(summary.Deleted, name)
		}
	}

	return summary, nil
}

// download streams one asset into the managed directory with an atomic
// rename. The temp name starts with "." so a leftover from a crash is
// invisible to both the cache and the world loader.
func (e *Engine) download(ctx context.Context, src config.RepoSource, tag string) error {
	destPath := filepath.Join(e.cache.Dir(), src.Asset)

	tmp, err := os.CreateTemp(e.cache.Dir(), ".apworldmgr-dl-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}() // cleanup on error

	if err := e.client.DownloadAsset(ctx, src.Repo, tag, src.Asset, tmp); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	return nil
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
