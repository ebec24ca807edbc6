package memback

import (
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/javi11/remotefs/fserrors"
)

func newFS(t *testing.T) *FS {
	t.Helper()
	fs := New(Options{})
	t.Cleanup(func() { _ = fs.Close() })
	return fs
}

func write(t *testing.T, fs *FS, name, content string) {
	t.Helper()
	n, err := fs.SetContents(name, strings.NewReader(content))
	require.NoError(t, err)
	require.Equal(t, int64(len(content)), n)
}

func TestOpenMissingFile(t *testing.T) {
	fs := newFS(t)

	_, err := fs.Open("/missing.txt", os.O_RDONLY)
	assert.ErrorIs(t, err, os.ErrNotExist)

	// O_CREATE makes the handle; close materializes the empty file.
	f, err := fs.Open("/missing.txt", os.O_RDWR|os.O_CREATE)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	ok, err := fs.IsFile("/missing.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestOpenExclusive(t *testing.T) {
	fs := newFS(t)
	write(t, fs, "/f.txt", "content")

	_, err := fs.Open("/f.txt", os.O_WRONLY|os.O_CREATE|os.O_EXCL)
	assert.ErrorIs(t, err, os.ErrExist)
}

func TestReadWriteRoundTrip(t *testing.T) {
	fs := newFS(t)

	f, err := fs.Open("/f.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, err = f.Write([]byte("round trip"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	f, err = fs.Open("/f.txt", os.O_RDONLY)
	require.NoError(t, err)
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "round trip", string(got))
}

func TestDirectoryOps(t *testing.T) {
	fs := newFS(t)

	require.NoError(t, fs.Mkdir("/dir"))
	assert.ErrorIs(t, fs.Mkdir("/dir"), os.ErrExist)

	write(t, fs, "/dir/a.txt", "a")

	ok, err := fs.IsDir("/dir")
	require.NoError(t, err)
	assert.True(t, ok)

	names, err := fs.ReadDirNames("/dir")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt"}, names)

	// A populated directory cannot be removed.
	err = fs.RemoveDir("/dir")
	require.Error(t, err)

	require.NoError(t, fs.Remove("/dir/a.txt"))
	require.NoError(t, fs.RemoveDir("/dir"))

	ok, err = fs.Exists("/dir")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRemoveRejectsDirectories(t *testing.T) {
	fs := newFS(t)
	require.NoError(t, fs.Mkdir("/dir"))

	require.Error(t, fs.Remove("/dir"))
	assert.ErrorIs(t, fs.Remove("/missing"), os.ErrNotExist)
}

func TestCopyDir(t *testing.T) {
	fs := newFS(t)

	require.NoError(t, fs.Mkdir("/src"))
	require.NoError(t, fs.Mkdir("/src/sub"))
	write(t, fs, "/src/a.txt", "aaa")
	write(t, fs, "/src/sub/b.txt", "bbbb")

	require.NoError(t, fs.CopyDir("/src", "/dst"))

	for _, tc := range []struct {
		path string
		size int64
	}{
		{"/dst/a.txt", 3},
		{"/dst/sub/b.txt", 4},
	} {
		info, err := fs.Stat(tc.path)
		require.NoError(t, err, tc.path)
		assert.Equal(t, tc.size, info.Size(), tc.path)
	}

	// The source is untouched.
	ok, err := fs.Exists("/src/a.txt")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMoveDir(t *testing.T) {
	fs := newFS(t)

	require.NoError(t, fs.Mkdir("/src"))
	write(t, fs, "/src/a.txt", "aaa")

	require.NoError(t, fs.MoveDir("/src", "/dst"))

	ok, err := fs.Exists("/src")
	require.NoError(t, err)
	assert.False(t, ok)

	info, err := fs.Stat("/dst/a.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(3), info.Size())
}

func TestChtimes(t *testing.T) {
	fs := newFS(t)
	write(t, fs, "/f.txt", "content")

	mtime := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, fs.Chtimes("/f.txt", mtime, mtime))

	info, err := fs.Stat("/f.txt")
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(mtime))
}

func TestCloseForcesOpenHandles(t *testing.T) {
	fs := New(Options{})

	f, err := fs.Open("/f.txt", os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, err = f.Write([]byte("pending"))
	require.NoError(t, err)

	// The handle was never closed by the caller; Close pushes it.
	require.NoError(t, fs.Close())

	_, err = f.Write([]byte("more"))
	assert.ErrorIs(t, err, fserrors.ErrClosed)

	// And further opens are refused.
	_, err = fs.Open("/f.txt", os.O_RDONLY)
	assert.ErrorIs(t, err, fserrors.ErrClosed)
}
