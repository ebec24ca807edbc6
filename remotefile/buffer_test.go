package remotefile

import (
	"bytes"
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/remotefs/fserrors"
)

// countingSource wraps a reader and records how many bytes the buffer
// actually pulled from it.
type countingSource struct {
	r         io.Reader
	bytesRead int64
	reads     int
	closed    bool
}

func (c *countingSource) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.bytesRead += int64(n)
	c.reads++
	return n, err
}

func (c *countingSource) Close() error {
	c.closed = true
	return nil
}

// memSink collects SetContents calls.
type memSink struct {
	contents map[string][]byte
	pushes   int
	failAt   int   // fail the nth push (1-based), 0 = never
	short    int64 // report this many bytes instead of the real count, -1 = real
}

func newMemSink() *memSink {
	return &memSink{contents: map[string][]byte{}, short: -1}
}

func (s *memSink) SetContents(name string, data io.Reader) (int64, error) {
	s.pushes++
	if s.failAt != 0 && s.pushes == s.failAt {
		return 0, io.ErrClosedPipe
	}

	buf, err := io.ReadAll(data)
	if err != nil {
		return 0, err
	}
	s.contents[name] = buf

	if s.short >= 0 {
		return s.short, nil
	}
	return int64(len(buf)), nil
}

func source(data []byte) *countingSource {
	return &countingSource{r: bytes.NewReader(data)}
}

func TestRoundTrip(t *testing.T) {
	payloads := map[string][]byte{
		"empty": {},
		"small": []byte("hello remote world"),
		"large": bytes.Repeat([]byte("0123456789abcdef"), 64*1024), // 1MiB, forces spill
	}

	for name, payload := range payloads {
		t.Run(name, func(t *testing.T) {
			sink := newMemSink()

			w, err := New(sink, "/f", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, nil, Options{MaxMemory: 64 * 1024})
			require.NoError(t, err)
			n, err := w.Write(payload)
			require.NoError(t, err)
			require.Equal(t, len(payload), n)
			require.NoError(t, w.Close())

			assert.Equal(t, 1, sink.pushes)

			r, err := New(sink, "/f", os.O_RDONLY, source(sink.contents["/f"]), Options{MaxMemory: 64 * 1024})
			require.NoError(t, err)
			got, err := io.ReadAll(r)
			require.NoError(t, err)
			require.NoError(t, r.Close())

			assert.Equal(t, payload, got)
		})
	}
}

func TestLazyFill(t *testing.T) {
	src := source(bytes.Repeat([]byte("x"), 100*1024))

	b, err := New(newMemSink(), "/f", os.O_RDONLY, src, Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	p := make([]byte, 1000)
	n, err := b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, 1000, n)

	// Only the requested span was pulled from the remote stream.
	assert.Equal(t, int64(1000), src.bytesRead)
}

func TestSeekEndDrainsOnce(t *testing.T) {
	data := bytes.Repeat([]byte("y"), 10*1024)
	src := source(data)

	b, err := New(newMemSink(), "/f", os.O_RDONLY, src, Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	end, err := b.Seek(0, io.SeekEnd)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), end)
	drained := src.bytesRead
	assert.Equal(t, int64(len(data)), drained)

	// Further reads and seeks are served from the scratch buffer.
	_, err = b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, data, got)
	assert.Equal(t, drained, src.bytesRead)
}

func TestSeekForwardPartialFill(t *testing.T) {
	src := source(bytes.Repeat([]byte("z"), 50*1024))

	b, err := New(newMemSink(), "/f", os.O_RDONLY, src, Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, err = b.Seek(4096, io.SeekStart)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), src.bytesRead)

	p := make([]byte, 10)
	_, err = b.Read(p)
	require.NoError(t, err)
	assert.Equal(t, int64(4106), src.bytesRead)
}

func TestWriteSkipsOverwrittenRemoteSpan(t *testing.T) {
	data := []byte("aaaaaaaaaabbbbbbbbbbcccccccccc")
	src := source(data)

	b, err := New(newMemSink(), "/f", os.O_RDWR, src, Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	// Overwrite the middle third without ever reading it.
	_, err = b.Seek(10, io.SeekStart)
	require.NoError(t, err)
	_, err = b.Write([]byte("BBBBBBBBBB"))
	require.NoError(t, err)

	// The tail must still line up with the remote stream.
	_, err = b.Seek(0, io.SeekStart)
	require.NoError(t, err)
	got, err := io.ReadAll(b)
	require.NoError(t, err)
	assert.Equal(t, []byte("aaaaaaaaaaBBBBBBBBBBcccccccccc"), got)
}

func TestAppend(t *testing.T) {
	sink := newMemSink()

	b, err := New(sink, "/f", os.O_WRONLY|os.O_APPEND, source([]byte("base-")), Options{})
	require.NoError(t, err)
	_, err = b.Write([]byte("tail"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.Equal(t, []byte("base-tail"), sink.contents["/f"])
}

func TestWriteOnFlush(t *testing.T) {
	t.Run("enabled pushes on every sync", func(t *testing.T) {
		sink := newMemSink()

		b, err := New(sink, "/f", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, nil, Options{WriteOnFlush: true})
		require.NoError(t, err)

		_, err = b.Write([]byte("one"))
		require.NoError(t, err)
		require.NoError(t, b.Sync())
		assert.Equal(t, 1, sink.pushes)
		assert.Equal(t, []byte("one"), sink.contents["/f"])

		_, err = b.Write([]byte("+two"))
		require.NoError(t, err)
		require.NoError(t, b.Sync())
		assert.Equal(t, 2, sink.pushes)

		require.NoError(t, b.Close())
	})

	t.Run("disabled pushes only at close", func(t *testing.T) {
		sink := newMemSink()
		sink.failAt = 1 // a premature push would fail loudly

		b, err := New(sink, "/f", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, nil, Options{})
		require.NoError(t, err)

		_, err = b.Write([]byte("deferred"))
		require.NoError(t, err)
		require.NoError(t, b.Sync())
		assert.Zero(t, sink.pushes)

		sink.failAt = 0
		require.NoError(t, b.Close())
		assert.Equal(t, 1, sink.pushes)
		assert.Equal(t, []byte("deferred"), sink.contents["/f"])
	})
}

func TestFlushDrainsUnreadTail(t *testing.T) {
	sink := newMemSink()

	// Touch only the first byte; the untouched tail must survive the
	// write-back.
	b, err := New(sink, "/f", os.O_RDWR, source([]byte("Xrest-of-file")), Options{})
	require.NoError(t, err)
	_, err = b.Write([]byte("Y"))
	require.NoError(t, err)
	require.NoError(t, b.Close())

	assert.Equal(t, []byte("Yrest-of-file"), sink.contents["/f"])
}

func TestTruncate(t *testing.T) {
	t.Run("beyond loaded extent loads remainder first", func(t *testing.T) {
		sink := newMemSink()

		b, err := New(sink, "/f", os.O_RDWR, source([]byte("0123456789")), Options{})
		require.NoError(t, err)
		require.NoError(t, b.Truncate(7))
		require.NoError(t, b.Close())

		assert.Equal(t, []byte("0123456"), sink.contents["/f"])
	})

	t.Run("growing zero-fills", func(t *testing.T) {
		sink := newMemSink()

		b, err := New(sink, "/f", os.O_RDWR, source([]byte("abc")), Options{})
		require.NoError(t, err)
		require.NoError(t, b.Truncate(5))
		require.NoError(t, b.Close())

		assert.Equal(t, []byte{'a', 'b', 'c', 0, 0}, sink.contents["/f"])
	})
}

func TestIncompleteWriteBackFails(t *testing.T) {
	sink := newMemSink()
	sink.short = 2

	b, err := New(sink, "/f", os.O_WRONLY|os.O_CREATE|os.O_TRUNC, nil, Options{})
	require.NoError(t, err)
	_, err = b.Write([]byte("full payload"))
	require.NoError(t, err)

	err = b.Close()
	require.Error(t, err)
	assert.ErrorIs(t, err, &fserrors.IncompleteWriteError{})
}

func TestClosedHandle(t *testing.T) {
	src := source([]byte("data"))

	b, err := New(newMemSink(), "/f", os.O_RDWR, src, Options{})
	require.NoError(t, err)
	require.NoError(t, b.Close())
	assert.True(t, src.closed)

	// Close is idempotent, everything else fails fast.
	require.NoError(t, b.Close())

	_, err = b.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fserrors.ErrClosed)
	_, err = b.Write([]byte("x"))
	assert.ErrorIs(t, err, fserrors.ErrClosed)
	_, err = b.Seek(0, io.SeekStart)
	assert.ErrorIs(t, err, fserrors.ErrClosed)
	assert.ErrorIs(t, b.Truncate(0), fserrors.ErrClosed)
	assert.ErrorIs(t, b.Sync(), fserrors.ErrClosed)
}

func TestModeEnforcement(t *testing.T) {
	b, err := New(newMemSink(), "/f", os.O_RDONLY, source([]byte("data")), Options{})
	require.NoError(t, err)
	defer func() { _ = b.Close() }()

	_, err = b.Write([]byte("x"))
	assert.ErrorIs(t, err, fserrors.ErrNotWritable)

	w, err := New(newMemSink(), "/f", os.O_WRONLY, source(nil), Options{})
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	_, err = w.Read(make([]byte, 1))
	assert.ErrorIs(t, err, fserrors.ErrNotReadable)
}
