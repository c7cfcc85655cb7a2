// Package resolve classifies a tracked world's currency from cached local
// and remote state. Filenames are never trusted to encode a version: the
// content digest identifies a release asset, with size as the fallback for
// publishers that omit digests.
package resolve

import (
	"apworldmgr/internal/cache"
	"apworldmgr/internal/config"
)

// Status classifies one tracked world.
type Status string

const (
	StatusUpToDate        Status = "up to date"
	StatusUpdateAvailable Status = "update available"
	StatusUnknownVersion  Status = "unknown version"

	StatusNotDownloaded             Status = "(not downloaded)"
	StatusNeverChecked              Status = "(never checked)"
	StatusNotDownloadedNeverChecked Status = "(not downloaded, never checked)"

	StatusManual        Status = "(manually managed)"
	StatusManualMissing Status = "manual file missing from disk"

	// StatusUnlisted marks an orphan file present on disk but referenced by
	// no configured world.
	StatusUnlisted Status = "not listed in config"
)

// Resolution is the classification of one world for listing.
type Resolution struct {
	Version string
	Status  Status
}

// Match is a confirmed identification of the local file within a release
// list. Current is true when the matched release is the newest one carrying
// the asset; otherwise newer versions exist.
type Match struct {
	Tag     string
	Current bool
}

// AssetMatches reports whether a release asset corresponds to the local file.
// Digests are compared when the publisher supplied one; otherwise sizes.
func AssetMatches(asset cache.Asset, local cache.FileRecord) bool {
	if asset.SHA256 != nil {
		return *asset.SHA256 == local.SHA256
	}
	return asset.Size == local.Size
}

// FindMatch scans releases newest-first for the one whose copy of assetName
// corresponds to the local file. Releases without the asset are irrelevant
// and skipped entirely. Returns ok=false when the scan exhausts without a
// match (the local content is unconfirmed against any known release).
func FindMatch(releases []cache.Release, assetName string, local cache.FileRecord) (Match, bool) {
	mismatches := 0
	for _, release := range releases {
		asset, ok := release.Assets[assetName]
		if !ok {
			continue
		}
		if AssetMatches(asset, local) {
			return Match{Tag: release.TagName, Current: mismatches == 0}, true
		}
		// Same asset name, different content. Assume a newer version.
		mismatches++
	}
	return Match{}, false
}

// NewestWithAsset returns the newest release carrying assetName, or ok=false
// when no known release has it.
func NewestWithAsset(releases []cache.Release, assetName string) (cache.Release, bool) {
	for _, release := range releases {
		if _, ok := release.Assets[assetName]; ok {
			return release, true
		}
	}
	return cache.Release{}, false
}

// Resolve classifies one world. repo and file may be nil when the repository
// was never checked or the file is not on disk.
func Resolve(world config.World, repo *cache.RepoRecord, file *cache.FileRecord) Resolution {
	if _, ok := world.ManualFile(); ok {
		if file == nil {
			return Resolution{Status: StatusManualMissing}
		}
		return Resolution{Status: StatusManual}
	}

	src, _ := world.RepoSource()
	switch {
	case repo == nil && file == nil:
		return Resolution{Status: StatusNotDownloadedNeverChecked}
	case file == nil:
		return Resolution{Status: StatusNotDownloaded}
	case repo == nil:
		return Resolution{Status: StatusNeverChecked}
	}

	match, ok := FindMatch(repo.Releases, src.Asset, *file)
	if !ok {
		return Resolution{Status: StatusUnknownVersion}
	}
	if match.Current {
		return Resolution{Version: match.Tag, Status: StatusUpToDate}
	}
	return Resolution{Version: match.Tag, Status: StatusUpdateAvailable}
}
