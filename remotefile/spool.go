package remotefile

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/afero"
)

const defaultMaxMemory = 8 * 1024 * 1024 // spill to disk past 8MB

// spool is the local scratch buffer behind a Buffer. Content lives in an
// in-memory afero file until it grows past maxMemory, at which point it
// spills into a temp file on the OS filesystem. Offsets beyond the
// current size are zero-filled on write, matching regular file
// semantics.
//
// spool is not safe for concurrent use; the owning Buffer serializes
// access.
type spool struct {
	file      afero.File
	size      int64
	maxMemory int64
	spilled   bool
	closed    bool
}

func newSpool(maxMemory int64) (*spool, error) {
	if maxMemory <= 0 {
		maxMemory = defaultMaxMemory
	}

	f, err := afero.NewMemMapFs().Create("scratch")
	if err != nil {
		return nil, fmt.Errorf("failed to create scratch buffer: %w", err)
	}

	return &spool{
		file:      f,
		maxMemory: maxMemory,
	}, nil
}

// spill moves the in-memory content into a temp file once the memory
// budget is exceeded. A failure to spill keeps the memory file usable.
func (s *spool) spill() error {
	tmp, err := afero.TempFile(afero.NewOsFs(), "", "remotefile-*.spool")
	if err != nil {
		return fmt.Errorf("failed to create spill file: %w", err)
	}

	if _, err := io.Copy(tmp, io.NewSectionReader(s.file, 0, s.size)); err != nil {
		tmpName := tmp.Name()
		_ = tmp.Close()
		_ = afero.NewOsFs().Remove(tmpName)
		return fmt.Errorf("failed to spill scratch buffer: %w", err)
	}

	_ = s.file.Close()
	s.file = tmp
	s.spilled = true

	return nil
}

func (s *spool) WriteAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, errors.New("scratch buffer is closed")
	}

	end := off + int64(len(p))
	if !s.spilled && end > s.maxMemory {
		if err := s.spill(); err != nil {
			return 0, err
		}
	}

	n, err := s.file.WriteAt(p, off)
	if written := off + int64(n); written > s.size {
		s.size = written
	}

	return n, err
}

func (s *spool) ReadAt(p []byte, off int64) (int, error) {
	if s.closed {
		return 0, errors.New("scratch buffer is closed")
	}
	if off >= s.size {
		return 0, io.EOF
	}

	if max := s.size - off; int64(len(p)) > max {
		p = p[:max]
	}

	n, err := s.file.ReadAt(p, off)
	if err == nil && off+int64(n) == s.size {
		// Callers only ever see the logical size.
		return n, io.EOF
	}

	return n, err
}

func (s *spool) Truncate(size int64) error {
	if s.closed {
		return errors.New("scratch buffer is closed")
	}

	if err := s.file.Truncate(size); err != nil {
		return err
	}
	s.size = size

	return nil
}

func (s *spool) Size() int64 {
	return s.size
}

// Reader returns a reader over the full current content.
func (s *spool) Reader() io.Reader {
	return io.NewSectionReader(s, 0, s.size)
}

func (s *spool) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true

	name := s.file.Name()
	err := s.file.Close()
	if s.spilled {
		if rmErr := afero.NewOsFs().Remove(name); rmErr != nil && err == nil {
			err = rmErr
		}
	}

	return err
}
