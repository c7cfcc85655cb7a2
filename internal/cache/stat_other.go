//go:build !unix

package cache

import "os"

// inodeOf returns 0 on platforms without inodes; the stat fast path then
// falls back to mtime and size alone.
func inodeOf(info os.FileInfo) uint64 {
	return 0
}
