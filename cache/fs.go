package cache

import (
	"io"
	"log/slog"
	"os"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/javi11/remotefs"
)

// FS wraps a remote filesystem with metadata caching. It exposes the
// identical operation surface, so it composes with any other wrapper.
//
// The entry table is only mutated under the cache mutex; the backend
// call behind a cache miss happens outside it. Concurrent misses for the
// same path may both hit the backend, and their results are merged
// keeping the newest timestamp.
type FS struct {
	inner   remotefs.FS
	timeout time.Duration

	mu      sync.Mutex
	entries *lru.Cache[string, *entry]

	log *slog.Logger
}

var _ remotefs.FS = (*FS)(nil)

// New creates a caching wrapper around inner.
func New(inner remotefs.FS, opts Options) (*FS, error) {
	size := opts.MaxSize
	if size <= 0 {
		size = defaultMaxSize
	}

	fs := &FS{
		inner:   inner,
		timeout: opts.Timeout,
		log:     slog.Default().With("component", "metacache"),
	}

	// Capacity evictions invalidate the authoritative-children marker of
	// every ancestor: a listing can no longer be trusted to be complete
	// once any entry under it is gone. The callback runs on the
	// goroutine that triggered the eviction, with fs.mu already held.
	entries, err := lru.NewWithEvict(size, func(key string, _ *entry) {
		fs.clearAncestorsLocked(key)
	})
	if err != nil {
		return nil, err
	}
	fs.entries = entries

	return fs, nil
}

// lookupLocked returns the resident, unexpired entry for key, evicting
// it lazily if the TTL has passed.
func (fs *FS) lookupLocked(key string, now time.Time) *entry {
	e, ok := fs.entries.Get(key)
	if !ok {
		return nil
	}
	if !e.valid(fs.timeout, now) {
		fs.entries.Remove(key)
		return nil
	}
	return e
}

// storeLocked ingests a backend result fetched at the given time,
// merging with whatever is already resident and keeping the newest data.
func (fs *FS) storeLocked(key string, info os.FileInfo, fullInfo bool, at time.Time) {
	if e, ok := fs.entries.Peek(key); ok {
		if e.fetched.After(at) {
			// A concurrent miss already stored fresher data; only fill
			// in what it did not know.
			if e.info == nil && info != nil {
				e.info = info
				e.fullInfo = fullInfo
			}
			return
		}
		e.fetched = at
		if info != nil {
			e.info = info
			e.fullInfo = fullInfo
		}
		fs.entries.Add(key, e)
		return
	}

	fs.entries.Add(key, &entry{
		info:     info,
		fetched:  at,
		fullInfo: fullInfo && info != nil,
	})
}

func (fs *FS) clearAncestorsLocked(key string) {
	for {
		parent, ok := parentOf(key)
		if !ok {
			return
		}
		if e, ok := fs.entries.Peek(parent); ok {
			e.fullChildren = false
		}
		key = parent
	}
}

// invalidateLocked drops the entry for key and marks every ancestor's
// children set as no longer authoritative.
func (fs *FS) invalidateLocked(key string) {
	fs.entries.Remove(key)
	fs.clearAncestorsLocked(key)
}

// invalidateSubtreeLocked drops key and every cached descendant.
func (fs *FS) invalidateSubtreeLocked(key string) {
	for _, k := range fs.entries.Keys() {
		if k == key || isDescendant(key, k) {
			fs.entries.Remove(k)
		}
	}
	fs.clearAncestorsLocked(key)
}

func (fs *FS) invalidate(key string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.invalidateLocked(key)
}

// rekeyLocked carries every cached entry at or below src over to the
// matching path below dst. With move set, the source entries are
// dropped; a copy keeps both sides.
func (fs *FS) rekeyLocked(src, dst string, move bool) {
	fs.invalidateSubtreeLocked(dst)

	for _, k := range fs.entries.Keys() {
		if k != src && !isDescendant(src, k) {
			continue
		}
		e, ok := fs.entries.Peek(k)
		if !ok {
			continue
		}

		nk := rekeyed(k, src, dst)
		ne := &entry{
			info:         e.info,
			fetched:      e.fetched,
			fullInfo:     e.fullInfo,
			fullChildren: e.fullChildren,
		}
		if ne.info != nil && ne.info.Name() != path.Base(nk) {
			ne.info = renamedInfo{FileInfo: ne.info, name: path.Base(nk)}
		}

		if move {
			fs.entries.Remove(k)
		}
		fs.entries.Add(nk, ne)
	}

	fs.clearAncestorsLocked(src)
	fs.clearAncestorsLocked(dst)
}

// Open delegates to the wrapped filesystem. Opening for writing or
// appending invalidates the path immediately (its size is unknown while
// the handle is live) and returns an adapter that re-invalidates on
// every write and truncate, not only at close.
func (fs *FS) Open(name string, flag int) (remotefs.File, error) {
	f, err := fs.inner.Open(name, flag)
	if err != nil {
		return nil, err
	}

	if remotefs.Writable(flag) {
		key := normalize(name)
		fs.invalidate(key)
		return &invalidatingFile{File: f, fs: fs, key: key}, nil
	}

	return f, nil
}

func (fs *FS) Stat(name string) (os.FileInfo, error) {
	key := normalize(name)

	fs.mu.Lock()
	if e := fs.lookupLocked(key, time.Now()); e != nil && e.fullInfo && e.info != nil {
		info := e.info
		fs.mu.Unlock()
		return info, nil
	}
	fs.mu.Unlock()

	at := time.Now()
	info, err := fs.inner.Stat(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.storeLocked(key, info, true, at)
	fs.mu.Unlock()

	return info, nil
}

// knownLocked classifies a path from resident metadata: existing with
// mode bits, existing as a bare stub, authoritatively absent, or
// unknown.
func (fs *FS) knownLocked(key string, now time.Time) (info os.FileInfo, exists, known bool) {
	if e := fs.lookupLocked(key, now); e != nil {
		return e.info, true, true
	}

	// A valid parent listing is the complete children set: a child with
	// no entry is known not to exist.
	if parent, ok := parentOf(key); ok {
		if pe := fs.lookupLocked(parent, now); pe != nil && pe.fullChildren {
			return nil, false, true
		}
	}

	return nil, false, false
}

func (fs *FS) Exists(name string) (bool, error) {
	fs.mu.Lock()
	_, exists, known := fs.knownLocked(normalize(name), time.Now())
	fs.mu.Unlock()

	if known {
		return exists, nil
	}
	return fs.inner.Exists(name)
}

func (fs *FS) IsDir(name string) (bool, error) {
	fs.mu.Lock()
	info, exists, known := fs.knownLocked(normalize(name), time.Now())
	fs.mu.Unlock()

	if known && !exists {
		return false, nil
	}
	if known && info != nil {
		return info.IsDir(), nil
	}
	return fs.inner.IsDir(name)
}

func (fs *FS) IsFile(name string) (bool, error) {
	fs.mu.Lock()
	info, exists, known := fs.knownLocked(normalize(name), time.Now())
	fs.mu.Unlock()

	if known && !exists {
		return false, nil
	}
	if known && info != nil {
		return !info.IsDir(), nil
	}
	return fs.inner.IsFile(name)
}

// reconcileLocked replaces the cached children of key with the freshly
// listed set: stale children are dropped, listed ones are (re)populated,
// and the directory's children set becomes authoritative again.
func (fs *FS) reconcileLocked(key string, names []string, infos []os.FileInfo, at time.Time) {
	present := make(map[string]struct{}, len(names))
	for _, n := range names {
		present[n] = struct{}{}
	}

	for _, k := range fs.entries.Keys() {
		if parent, ok := parentOf(k); ok && parent == key {
			if _, ok := present[path.Base(k)]; !ok {
				fs.entries.Remove(k)
			}
		}
	}

	for i, n := range names {
		var info os.FileInfo
		if infos != nil {
			info = infos[i]
		}
		fs.storeLocked(path.Join(key, n), info, info != nil, at)
	}

	fs.storeLocked(key, nil, false, at)
	if e, ok := fs.entries.Peek(key); ok {
		e.fullChildren = true
	}
}

func (fs *FS) ReadDirNames(name string) ([]string, error) {
	at := time.Now()
	names, err := fs.inner.ReadDirNames(name)
	if err != nil {
		return nil, err
	}

	fs.mu.Lock()
	fs.reconcileLocked(normalize(name), names, nil, at)
	fs.mu.Unlock()

	return names, nil
}

func (fs *FS) ReadDir(name string) ([]os.FileInfo, error) {
	at := time.Now()
	infos, err := fs.inner.ReadDir(name)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}

	fs.mu.Lock()
	fs.reconcileLocked(normalize(name), names, infos, at)
	fs.mu.Unlock()

	return infos, nil
}

func (fs *FS) Mkdir(name string) error {
	if err := fs.inner.Mkdir(name); err != nil {
		return err
	}
	fs.invalidate(normalize(name))
	return nil
}

func (fs *FS) Create(name string) error {
	if err := fs.inner.Create(name); err != nil {
		return err
	}
	fs.invalidate(normalize(name))
	return nil
}

func (fs *FS) Remove(name string) error {
	if err := fs.inner.Remove(name); err != nil {
		return err
	}
	fs.invalidate(normalize(name))
	return nil
}

func (fs *FS) RemoveDir(name string) error {
	if err := fs.inner.RemoveDir(name); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.invalidateSubtreeLocked(normalize(name))
	fs.mu.Unlock()

	return nil
}

func (fs *FS) Rename(oldname, newname string) error {
	if err := fs.inner.Rename(oldname, newname); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.rekeyLocked(normalize(oldname), normalize(newname), true)
	fs.mu.Unlock()

	return nil
}

func (fs *FS) Move(src, dst string) error {
	if err := fs.inner.Move(src, dst); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.rekeyLocked(normalize(src), normalize(dst), true)
	fs.mu.Unlock()

	return nil
}

func (fs *FS) MoveDir(src, dst string) error {
	if err := fs.inner.MoveDir(src, dst); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.rekeyLocked(normalize(src), normalize(dst), true)
	fs.mu.Unlock()

	return nil
}

func (fs *FS) Copy(src, dst string) error {
	if err := fs.inner.Copy(src, dst); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.rekeyLocked(normalize(src), normalize(dst), false)
	fs.mu.Unlock()

	return nil
}

func (fs *FS) CopyDir(src, dst string) error {
	if err := fs.inner.CopyDir(src, dst); err != nil {
		return err
	}

	fs.mu.Lock()
	fs.rekeyLocked(normalize(src), normalize(dst), false)
	fs.mu.Unlock()

	return nil
}

func (fs *FS) SetContents(name string, data io.Reader) (int64, error) {
	n, err := fs.inner.SetContents(name, data)
	if err != nil {
		return n, err
	}
	fs.invalidate(normalize(name))
	return n, nil
}

func (fs *FS) Chtimes(name string, atime, mtime time.Time) error {
	if err := fs.inner.Chtimes(name, atime, mtime); err != nil {
		return err
	}
	fs.invalidate(normalize(name))
	return nil
}

// ClearCache drops the entry for name and everything below it. An empty
// name clears the whole cache.
func (fs *FS) ClearCache(name string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if name == "" {
		fs.log.Debug("Clearing metadata cache", "entries", fs.entries.Len())
		fs.entries.Purge()
		return
	}
	fs.invalidateSubtreeLocked(normalize(name))
}

// Len reports the number of resident entries.
func (fs *FS) Len() int {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.entries.Len()
}

func (fs *FS) Close() error {
	err := fs.inner.Close()

	fs.mu.Lock()
	fs.entries.Purge()
	fs.mu.Unlock()

	return err
}
