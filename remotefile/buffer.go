// Package remotefile provides a per-handle buffering wrapper that makes
// a backend offering only a sequential read stream and a bulk
// set-contents primitive behave like a fully seekable, truncatable,
// read/write file.
//
// A backend returns a Buffer from its open call and supplies the upload
// logic through the Sink it passes in:
//
//	func (b *myBackend) Open(name string, flag int) (remotefs.File, error) {
//		stream, err := b.fetch(name)
//		if err != nil {
//			return nil, err
//		}
//		return remotefile.New(b, name, flag, stream, remotefile.Options{})
//	}
//
// Reads pull remote bytes into a local scratch buffer on demand and
// never request more than the current operation needs. Writes are
// buffered locally and pushed back with a single SetContents call on
// flush or close.
package remotefile

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"sync"

	"github.com/javi11/remotefs"
	"github.com/javi11/remotefs/fserrors"
)

// chunkSize bounds a single pull from the remote stream.
const chunkSize = 256 * 1024

// Sink receives the buffered content on write-back. It is a non-owning
// reference to the filesystem that opened the handle.
type Sink interface {
	SetContents(name string, data io.Reader) (int64, error)
}

// Options configures a Buffer.
type Options struct {
	// WriteOnFlush pushes the content to the Sink on every Sync call.
	// When false, content is pushed once, from Close.
	WriteOnFlush bool

	// MaxMemory is the scratch-buffer size past which content spills to
	// a temp file on disk. Zero selects the default of 8MB.
	MaxMemory int64
}

// Buffer is one open handle's buffering state. All operations on one
// Buffer are serialized by its mutex; distinct Buffers are independent.
type Buffer struct {
	mu sync.Mutex

	sink   Sink
	name   string
	flag   int
	remote io.ReadCloser

	scratch *spool
	pos     int64
	copied  int64 // remote bytes consumed so far; next fill lands here
	eof     bool  // remote stream fully consumed, scratch is authoritative
	changed bool
	closed  bool

	writeOnFlush bool
	log          *slog.Logger
}

var _ remotefs.File = (*Buffer)(nil)

// New creates a buffered handle over the given remote stream. A nil
// remote means a new or write-truncated file: the handle starts at EOF
// with an empty scratch buffer and is marked dirty so an empty
// write-back still happens on close.
func New(sink Sink, name string, flag int, remote io.ReadCloser, opts Options) (*Buffer, error) {
	scratch, err := newSpool(opts.MaxMemory)
	if err != nil {
		return nil, err
	}

	b := &Buffer{
		sink:         sink,
		name:         name,
		flag:         flag,
		remote:       remote,
		scratch:      scratch,
		writeOnFlush: opts.WriteOnFlush,
		log:          slog.Default().With("component", "remotefile", "file_path", name),
	}

	if remote == nil {
		b.eof = true
		b.changed = true
	}

	return b, nil
}

// Name returns the path the handle was opened with.
func (b *Buffer) Name() string {
	return b.name
}

// fillTo pulls remote bytes into the scratch buffer until at least
// target bytes are loaded or the stream is exhausted. Each pull is
// capped at what the caller actually needs.
func (b *Buffer) fillTo(target int64) error {
	buf := make([]byte, 0)
	for b.copied < target && !b.eof {
		want := target - b.copied
		if want > chunkSize {
			want = chunkSize
		}
		if int64(len(buf)) < want {
			buf = make([]byte, want)
		}

		n, err := b.remote.Read(buf[:want])
		if n > 0 {
			if _, werr := b.scratch.WriteAt(buf[:n], b.copied); werr != nil {
				return werr
			}
			b.copied += int64(n)
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				b.eof = true
				return nil
			}
			return err
		}
	}

	return nil
}

// drain consumes the remote stream to exhaustion.
func (b *Buffer) drain() error {
	return b.fillTo(math.MaxInt64)
}

// skip consumes n remote bytes without storing them; the span is about
// to be overwritten, but the remote cursor must stay aligned with the
// scratch buffer.
func (b *Buffer) skip(n int64) error {
	if b.eof || n <= 0 {
		return nil
	}

	copied, err := io.CopyN(io.Discard, b.remote, n)
	b.copied += copied
	if err != nil {
		if errors.Is(err, io.EOF) {
			b.eof = true
			return nil
		}
		return err
	}

	return nil
}

// Read reads from the local buffer, pulling the missing span from the
// remote stream first.
func (b *Buffer) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fserrors.ErrClosed
	}
	if !remotefs.Readable(b.flag) {
		return 0, fserrors.ErrNotReadable
	}
	if len(p) == 0 {
		return 0, nil
	}

	if err := b.fillTo(b.pos + int64(len(p))); err != nil {
		return 0, err
	}

	n, err := b.scratch.ReadAt(p, b.pos)
	b.pos += int64(n)
	if err != nil && !errors.Is(err, io.EOF) {
		return n, err
	}
	if n == 0 {
		return 0, io.EOF
	}

	return n, nil
}

// Write stores data in the local buffer at the current offset and marks
// the handle dirty. If the write would overwrite remote bytes that were
// never loaded, the to-be-overwritten span is first discarded from the
// remote stream so later fills stay consistent.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fserrors.ErrClosed
	}
	if !remotefs.Writable(b.flag) {
		return 0, fserrors.ErrNotWritable
	}

	if b.flag&os.O_APPEND != 0 {
		if err := b.drain(); err != nil {
			return 0, err
		}
		b.pos = b.scratch.Size()
	}

	end := b.pos + int64(len(p))
	if end > b.copied && !b.eof {
		// Load everything up to the write position, then throw away the
		// remote bytes the write replaces.
		if err := b.fillTo(b.pos); err != nil {
			return 0, err
		}
		if err := b.skip(end - b.copied); err != nil {
			return 0, err
		}
	}

	n, err := b.scratch.WriteAt(p, b.pos)
	b.pos += int64(n)
	if n > 0 {
		b.changed = true
	}

	return n, err
}

// Seek repositions the handle. Seeking relative to the end with an
// unknown length drains the remote stream once; seeking forward past
// the loaded extent fills only the missing span.
func (b *Buffer) Seek(offset int64, whence int) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return 0, fserrors.ErrClosed
	}

	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = b.pos + offset
	case io.SeekEnd:
		if err := b.drain(); err != nil {
			return 0, err
		}
		abs = b.scratch.Size() + offset
	default:
		return 0, fmt.Errorf("seek %s: invalid whence %d", b.name, whence)
	}

	if abs < 0 {
		return 0, fmt.Errorf("seek %s: negative position", b.name)
	}

	if abs > b.copied && !b.eof {
		if err := b.fillTo(abs); err != nil {
			return 0, err
		}
	}

	b.pos = abs
	return abs, nil
}

// Truncate resizes the buffered content. Growing past the loaded extent
// first loads the remainder up to size so nothing beyond the truncation
// point is lost, then the local buffer becomes authoritative.
func (b *Buffer) Truncate(size int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fserrors.ErrClosed
	}
	if !remotefs.Writable(b.flag) {
		return fserrors.ErrNotWritable
	}
	if size < 0 {
		return fmt.Errorf("truncate %s: negative size", b.name)
	}

	if size > b.copied && !b.eof {
		if err := b.fillTo(size); err != nil {
			return err
		}
	}

	if err := b.scratch.Truncate(size); err != nil {
		return err
	}

	b.eof = true
	b.changed = true

	return nil
}

// push drains the unread remote tail and hands the full buffered content
// to the sink. A short write-back is a hard failure.
func (b *Buffer) push() error {
	if err := b.drain(); err != nil {
		return err
	}

	size := b.scratch.Size()
	n, err := b.sink.SetContents(b.name, b.scratch.Reader())
	if err != nil {
		return err
	}
	if n != size {
		return &fserrors.IncompleteWriteError{Path: b.name, Written: n, Expected: size}
	}

	return nil
}

// Sync flushes buffered writes. With WriteOnFlush set, a dirty handle is
// pushed to the sink; otherwise the push is deferred to Close.
func (b *Buffer) Sync() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fserrors.ErrClosed
	}

	if b.changed && b.writeOnFlush && remotefs.Writable(b.flag) {
		return b.push()
	}

	return nil
}

// Close pushes a dirty handle's content, releases the remote stream and
// the scratch buffer. It is idempotent; any other operation on a closed
// handle fails with fserrors.ErrClosed.
func (b *Buffer) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}

	var pushErr error
	if b.changed && remotefs.Writable(b.flag) {
		if pushErr = b.push(); pushErr != nil {
			b.log.Error("Write-back failed on close", "error", pushErr)
		}
	}

	b.closed = true

	var closeErr error
	if b.remote != nil {
		closeErr = b.remote.Close()
		b.remote = nil
	}
	if err := b.scratch.Close(); err != nil && closeErr == nil {
		closeErr = err
	}

	if pushErr != nil {
		return pushErr
	}

	return closeErr
}
