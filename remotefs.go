// Package remotefs defines the capability surface shared by remote
// filesystem backends and the support layer that wraps them.
//
// A backend exposes the narrow operation set below and signals backend
// unreachability with fserrors.ConnectionLostError. The wrappers in the
// cache and health packages consume an FS and expose the identical
// surface outward, so they compose transparently in any order:
//
//	backend := memback.New()
//	fs, _ := cache.New(health.New(backend, health.Options{}), cache.Options{})
package remotefs

import (
	"io"
	"os"
	"time"
)

// File is a single open handle. Implementations must be safe for
// concurrent use by multiple goroutines; operations on one handle are
// serialized, distinct handles are independent.
//
// The current offset is obtained with Seek(0, io.SeekCurrent).
type File interface {
	io.Reader
	io.Writer
	io.Seeker
	io.Closer

	// Name returns the path the handle was opened with.
	Name() string

	// Truncate changes the size of the buffered content. Growing past
	// the loaded extent first loads the missing remote bytes so no data
	// beyond the truncation point is silently lost.
	Truncate(size int64) error

	// Sync flushes buffered writes. Whether this pushes content to the
	// backend depends on the handle's write-on-flush setting.
	Sync() error
}

// FS is the operation surface of a remote filesystem backend and of
// every wrapper in this module.
type FS interface {
	// Open opens the named file with os.O_* flags and returns a fully
	// seekable handle, regardless of how limited the backend's native
	// read primitive is.
	Open(name string, flag int) (File, error)

	Stat(name string) (os.FileInfo, error)
	Exists(name string) (bool, error)
	IsDir(name string) (bool, error)
	IsFile(name string) (bool, error)

	// ReadDirNames lists the names of the entries of a directory.
	ReadDirNames(name string) ([]string, error)
	// ReadDir lists a directory with full stat information per entry.
	ReadDir(name string) ([]os.FileInfo, error)

	Mkdir(name string) error
	// Create makes an empty file, failing if it already exists.
	Create(name string) error
	Remove(name string) error
	RemoveDir(name string) error

	Rename(oldname, newname string) error
	Move(src, dst string) error
	MoveDir(src, dst string) error
	Copy(src, dst string) error
	CopyDir(src, dst string) error

	// SetContents replaces the named file's content with everything read
	// from data and reports the number of bytes stored.
	SetContents(name string, data io.Reader) (int64, error)

	Chtimes(name string, atime, mtime time.Time) error

	// Close releases the filesystem. It must be idempotent.
	Close() error
}

// Readable reports whether the open flags permit reading.
func Readable(flag int) bool {
	return flag&os.O_WRONLY == 0
}

// Writable reports whether the open flags permit writing.
func Writable(flag int) bool {
	return flag&(os.O_WRONLY|os.O_RDWR|os.O_APPEND|os.O_CREATE|os.O_TRUNC) != 0
}
