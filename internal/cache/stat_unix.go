//go:build unix

package cache

import (
	"os"
	"syscall"
)

// inodeOf returns the file's inode number.
func inodeOf(info os.FileInfo) uint64 {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return st.Ino
	}
	return 0
}
