package apworld

import (
	"path/filepath"
	"strings"
)

// Extension is the file extension the Archipelago world loader recognizes.
const Extension = ".apworld"

// IsAPWorldFile returns true if the file has the .apworld extension.
func IsAPWorldFile(name string) bool {
	return filepath.Ext(name) == Extension
}

// IsIgnoredFile returns true if the world loader skips this file name.
// The loader ignores names starting with "_" or "." (e.g. __pycache__,
// .cache_state.json), so the cache must too.
func IsIgnoredFile(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

// WorldName returns the file name without the .apworld extension.
// For example: ootr.apworld -> ootr
func WorldName(fileName string) string {
	return strings.TrimSuffix(filepath.Base(fileName), Extension)
}
