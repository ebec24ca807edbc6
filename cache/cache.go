// Package cache provides a path-keyed metadata cache over a remote
// filesystem. Stat results and listing-derived stubs are cached with TTL
// expiry in a bounded LRU store; every mutating call invalidates the
// affected entries only after the underlying call has succeeded, so a
// failed mutation never corrupts cache state. Rename, move and copy
// carry every cached descendant from the source prefix to the
// destination prefix instead of dropping them.
package cache

import (
	"os"
	"path"
	"strings"
	"time"
)

const defaultMaxSize = 65536

// Options configures a cache filesystem.
type Options struct {
	// Timeout is how long a cached entry is a valid substitute for a
	// fresh backend call. Zero or negative means entries never expire.
	Timeout time.Duration

	// MaxSize bounds the number of resident entries. Zero or negative
	// selects a large default bound; the store always has a fixed
	// capacity.
	MaxSize int
}

// entry is the cached metadata for one path.
//
// info may be nil for a stub created from a name-only listing: the path
// is known to exist but nothing else about it is. fullInfo marks info as
// a complete substitute for a fresh stat call. fullChildren marks the
// cached children of a directory as the complete, authoritative set; it
// is cleared on every ancestor whenever any entry is evicted.
type entry struct {
	info         os.FileInfo
	fetched      time.Time
	fullInfo     bool
	fullChildren bool
}

func (e *entry) valid(timeout time.Duration, now time.Time) bool {
	if timeout <= 0 {
		return true
	}
	return now.Sub(e.fetched) <= timeout
}

// renamedInfo re-labels a cached FileInfo after its path was re-keyed by
// a rename, move or copy.
type renamedInfo struct {
	os.FileInfo
	name string
}

func (r renamedInfo) Name() string { return r.name }

// normalize maps every path spelling to a canonical cache key: clean,
// absolute, no trailing slash, "/" for the root.
func normalize(name string) string {
	name = path.Clean("/" + strings.ReplaceAll(name, `\`, "/"))
	return name
}

// parentOf returns the normalized parent directory, and false at the
// root.
func parentOf(name string) (string, bool) {
	if name == "/" {
		return "", false
	}
	return path.Dir(name), true
}

// isDescendant reports whether name sits strictly below dir.
func isDescendant(dir, name string) bool {
	if dir == "/" {
		return name != "/"
	}
	return strings.HasPrefix(name, dir+"/")
}

// rekeyed maps a path under src to the matching path under dst.
func rekeyed(name, src, dst string) string {
	if name == src {
		return dst
	}
	return dst + strings.TrimPrefix(name, src)
}
