// Package memback provides an in-memory remote filesystem backend over
// an afero memory filesystem. It demonstrates the intended backend
// pattern: Open hands a sequential read stream to a remotefile.Buffer,
// and SetContents receives the buffered content back on flush or close.
// It also serves as the test substrate for the wrapper packages.
package memback

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"

	"github.com/javi11/remotefs"
	"github.com/javi11/remotefs/fserrors"
	"github.com/javi11/remotefs/remotefile"
)

const copyWorkers = 8

// Options configures the backend.
type Options struct {
	// Buffer configures the handles returned by Open.
	Buffer remotefile.Options
}

// FS is an in-memory implementation of remotefs.FS.
type FS struct {
	fs   afero.Fs
	opts Options

	mu     sync.Mutex
	open   map[string]*handle // open handles by id, for force-close on Close
	closed bool

	log *slog.Logger
}

var _ remotefs.FS = (*FS)(nil)

// New creates an empty in-memory backend.
func New(opts Options) *FS {
	return &FS{
		fs:   afero.NewMemMapFs(),
		opts: opts,
		open: map[string]*handle{},
		log:  slog.Default().With("component", "memback"),
	}
}

// handle tracks an open buffer in the registry so Close can force-close
// whatever the caller left open.
type handle struct {
	*remotefile.Buffer

	owner *FS
	id    string
}

func (h *handle) Close() error {
	h.owner.forget(h.id)
	return h.Buffer.Close()
}

func (f *FS) forget(id string) {
	f.mu.Lock()
	delete(f.open, id)
	f.mu.Unlock()
}

// Open returns a buffered handle over the named file. Reads stream the
// stored content sequentially into the buffer; writes come back through
// SetContents.
func (f *FS) Open(name string, flag int) (remotefs.File, error) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil, fserrors.ErrClosed
	}
	f.mu.Unlock()

	info, err := f.fs.Stat(name)
	exists := err == nil
	if exists && info.IsDir() {
		return nil, &os.PathError{Op: "open", Path: name, Err: syscall.EISDIR}
	}
	if !exists {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}
	} else if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
	}

	// A truncated or brand-new file needs no remote stream: the buffer
	// starts empty, at EOF, and dirty.
	var stream io.ReadCloser
	if exists && flag&os.O_TRUNC == 0 {
		stream, err = f.fs.Open(name)
		if err != nil {
			return nil, err
		}
	}

	buf, err := remotefile.New(f, name, flag, stream, f.opts.Buffer)
	if err != nil {
		if stream != nil {
			_ = stream.Close()
		}
		return nil, err
	}

	h := &handle{Buffer: buf, owner: f, id: uuid.NewString()}

	f.mu.Lock()
	f.open[h.id] = h
	f.mu.Unlock()

	f.log.Debug("Opened handle", "file_path", name, "handle_id", h.id)

	return h, nil
}

// SetContents replaces the named file's content with everything read
// from data.
func (f *FS) SetContents(name string, data io.Reader) (int64, error) {
	dst, err := f.fs.Create(name)
	if err != nil {
		return 0, err
	}

	n, err := io.Copy(dst, data)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}

	return n, err
}

func (f *FS) Stat(name string) (os.FileInfo, error) {
	return f.fs.Stat(name)
}

func (f *FS) Exists(name string) (bool, error) {
	return afero.Exists(f.fs, name)
}

func (f *FS) IsDir(name string) (bool, error) {
	info, err := f.fs.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return info.IsDir(), nil
}

func (f *FS) IsFile(name string) (bool, error) {
	info, err := f.fs.Stat(name)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (f *FS) ReadDir(name string) ([]os.FileInfo, error) {
	infos, err := afero.ReadDir(f.fs, name)
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (f *FS) ReadDirNames(name string) ([]string, error) {
	infos, err := afero.ReadDir(f.fs, name)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	sort.Strings(names)

	return names, nil
}

func (f *FS) Mkdir(name string) error {
	if ok, _ := afero.Exists(f.fs, name); ok {
		return &os.PathError{Op: "mkdir", Path: name, Err: os.ErrExist}
	}
	return f.fs.Mkdir(name, 0o755)
}

func (f *FS) Create(name string) error {
	if ok, _ := afero.Exists(f.fs, name); ok {
		return &os.PathError{Op: "create", Path: name, Err: os.ErrExist}
	}

	file, err := f.fs.Create(name)
	if err != nil {
		return err
	}
	return file.Close()
}

func (f *FS) Remove(name string) error {
	if ok, err := f.IsDir(name); err != nil {
		return err
	} else if ok {
		return &os.PathError{Op: "remove", Path: name, Err: syscall.EISDIR}
	}

	if ok, _ := afero.Exists(f.fs, name); !ok {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrNotExist}
	}

	return f.fs.Remove(name)
}

func (f *FS) RemoveDir(name string) error {
	if ok, err := f.IsDir(name); err != nil {
		return err
	} else if !ok {
		if exists, _ := afero.Exists(f.fs, name); !exists {
			return &os.PathError{Op: "removedir", Path: name, Err: os.ErrNotExist}
		}
		return &os.PathError{Op: "removedir", Path: name, Err: syscall.ENOTDIR}
	}

	children, err := afero.ReadDir(f.fs, name)
	if err != nil {
		return err
	}
	if len(children) > 0 {
		return &os.PathError{Op: "removedir", Path: name, Err: syscall.ENOTEMPTY}
	}

	return f.fs.RemoveAll(name)
}

func (f *FS) Rename(oldname, newname string) error {
	return f.fs.Rename(oldname, newname)
}

func (f *FS) Move(src, dst string) error {
	if ok, err := f.IsFile(src); err != nil {
		return err
	} else if !ok {
		return &os.PathError{Op: "move", Path: src, Err: os.ErrNotExist}
	}
	return f.fs.Rename(src, dst)
}

func (f *FS) MoveDir(src, dst string) error {
	if ok, err := f.IsDir(src); err != nil {
		return err
	} else if !ok {
		return &os.PathError{Op: "movedir", Path: src, Err: os.ErrNotExist}
	}
	return f.fs.Rename(src, dst)
}

func (f *FS) Copy(src, dst string) error {
	in, err := f.fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	if _, err := f.SetContents(dst, in); err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", src, dst, err)
	}
	return nil
}

// CopyDir replicates the directory tree sequentially, then copies the
// files concurrently.
func (f *FS) CopyDir(src, dst string) error {
	if ok, err := f.IsDir(src); err != nil {
		return err
	} else if !ok {
		return &os.PathError{Op: "copydir", Path: src, Err: os.ErrNotExist}
	}

	var files []string
	err := afero.Walk(f.fs, src, func(name string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		target := path.Join(dst, strings.TrimPrefix(name, src))
		if info.IsDir() {
			return f.fs.MkdirAll(target, 0o755)
		}
		files = append(files, name)
		return nil
	})
	if err != nil {
		return err
	}

	p := pool.New().WithMaxGoroutines(copyWorkers).WithErrors()
	for _, name := range files {
		name := name
		p.Go(func() error {
			return f.Copy(name, path.Join(dst, strings.TrimPrefix(name, src)))
		})
	}

	return p.Wait()
}

func (f *FS) Chtimes(name string, atime, mtime time.Time) error {
	return f.fs.Chtimes(name, atime, mtime)
}

// Close force-closes every handle still open and shuts the backend
// down. It is idempotent.
func (f *FS) Close() error {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	f.closed = true

	stale := make([]*handle, 0, len(f.open))
	for _, h := range f.open {
		stale = append(stale, h)
	}
	f.open = map[string]*handle{}
	f.mu.Unlock()

	var firstErr error
	for _, h := range stale {
		f.log.Debug("Force-closing handle", "file_path", h.Name(), "handle_id", h.id)
		if err := h.Buffer.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}
