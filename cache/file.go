package cache

import (
	"github.com/javi11/remotefs"
)

// invalidatingFile composes over a writable handle and drops the path's
// cache entry after every successful mutation, so cached metadata never
// outlives content the handle already changed.
type invalidatingFile struct {
	remotefs.File

	fs  *FS
	key string
}

func (f *invalidatingFile) Write(p []byte) (int, error) {
	n, err := f.File.Write(p)
	if n > 0 {
		f.fs.invalidate(f.key)
	}
	return n, err
}

func (f *invalidatingFile) Truncate(size int64) error {
	if err := f.File.Truncate(size); err != nil {
		return err
	}
	f.fs.invalidate(f.key)
	return nil
}

func (f *invalidatingFile) Sync() error {
	if err := f.File.Sync(); err != nil {
		return err
	}
	f.fs.invalidate(f.key)
	return nil
}

func (f *invalidatingFile) Close() error {
	err := f.File.Close()
	f.fs.invalidate(f.key)
	return err
}
