package cache

import "time"

// FreshWindow is how long a repository record satisfies a refresh without
// hitting the network again.
const FreshWindow = 3600 * time.Second

// FileRecord fingerprints one file in the managed directory.
type FileRecord struct {
	MTime  int64  `json:"mtime"` // UnixNano
	Size   int64  `json:"size"`
	Inode  uint64 `json:"inode"`
	SHA256 string `json:"sha256"` // hex content digest
}

// sameStat reports whether the stored stat fingerprint still matches. When it
// does, the content is assumed unchanged and the digest is kept as-is.
func (r FileRecord) sameStat(mtime, size int64, inode uint64) bool {
	return r.MTime == mtime && r.Size == size && r.Inode == inode
}

// Asset is a downloadable file attached to a release. SHA256 is nil when the
// publisher did not attach a digest; size is then the only identity available.
type Asset struct {
	Size   int64   `json:"size"`
	SHA256 *string `json:"sha256,omitempty"`
}

// Release is one tagged publication and its assets, keyed by asset name.
type Release struct {
	TagName   string           `json:"tag_name"`
	Timestamp string           `json:"timestamp"` // newest of created/updated/published
	Name      string           `json:"name"`
	Body      string           `json:"body"`
	Assets    map[string]Asset `json:"assets"`
}

// RepoRecord caches the full release list of one repository, newest first.
// The order comes from the API and is authoritative.
type RepoRecord struct {
	LastChecked int64     `json:"last_checked"` // Unix seconds
	Releases    []Release `json:"releases"`
}

// Fresh reports whether the record is recent enough to skip a re-fetch.
func (r RepoRecord) Fresh(now time.Time) bool {
	return now.Sub(time.Unix(r.LastChecked, 0)) < FreshWindow
}
