package manager

import (
	"fmt"
	"strings"
)

// UnknownWorldsError reports scope names that match no configured world.
type UnknownWorldsError struct {
	Names []string // sorted
}

func (e *UnknownWorldsError) Error() string {
	plural := ""
	if len(e.Names) > 1 {
		plural = "s"
	}
	return fmt.Sprintf("apworld name%s not found in config: %s", plural, strings.Join(e.Names, ", "))
}

// StaleDataError means update was invoked without cached release data for a
// repository. Update never fetches on its own; a check run must come first.
type StaleDataError struct {
	Repo string
}

func (e *StaleDataError) Error() string {
	return fmt.Sprintf("no cached release data for %s: run 'check' first", e.Repo)
}

// AssetNotFoundError means the configured asset name appears in no known
// release of the repository, which is a configuration problem.
type AssetNotFoundError struct {
	Repo  string
	Asset string
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset name %q not found in any release from https://github.com/%s/releases", e.Asset, e.Repo)
}
