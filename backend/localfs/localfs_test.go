package localfs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	fs9 "github.com/fs9fs/fs9/fs"
)

var ctx = context.Background()

func newTestFs(t *testing.T) *Fs {
	t.Helper()
	f, err := NewFs(t.TempDir())
	require.NoError(t, err)
	return f
}

func writeFile(t *testing.T, f *Fs, path, content string) {
	t.Helper()
	h, _, err := f.Open(ctx, path, fs9.FlagsCreateFile)
	require.NoError(t, err)
	_, err = f.Write(ctx, h, 0, []byte(content))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, true))
}

func TestNewFsRequiresDirectory(t *testing.T) {
	_, err := NewFs("/no/such/dir")
	assert.True(t, fs9.IsNotFound(err))

	file := filepath.Join(t.TempDir(), "f")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))
	_, err = NewFs(file)
	assert.ErrorIs(t, err, fs9.ErrNotDirectory)
}

func TestWriteReadStat(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/hello.txt", "hello world")

	info, err := f.Stat(ctx, "/hello.txt")
	require.NoError(t, err)
	assert.Equal(t, "/hello.txt", info.Path)
	assert.Equal(t, uint64(11), info.Size)
	assert.True(t, info.IsRegular())
	assert.NotEmpty(t, info.ETag)

	h, _, err := f.Open(ctx, "/hello.txt", fs9.FlagsRead)
	require.NoError(t, err)
	defer func() { _ = f.Close(ctx, h, false) }()
	data, err := f.Read(ctx, h, 6, 5)
	require.NoError(t, err)
	assert.Equal(t, "world", string(data))

	data, err = f.Read(ctx, h, 11, 5)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestPathConfinement(t *testing.T) {
	f := newTestFs(t)
	// ".." is cleaned away rather than escaping the root
	_, err := f.Stat(ctx, "/../../../etc/passwd")
	assert.True(t, fs9.IsNotFound(err))
}

func TestMkdirReaddir(t *testing.T) {
	f := newTestFs(t)
	_, info, err := f.Open(ctx, "/sub", fs9.FlagsCreateDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	writeFile(t, f, "/sub/b", "b")
	writeFile(t, f, "/sub/a", "a")

	entries, err := f.ReadDir(ctx, "/sub")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "/sub/a", entries[0].Path)
	assert.Equal(t, "/sub/b", entries[1].Path)
}

func TestSymlinks(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/target", "content")

	target := "/target"
	require.NoError(t, f.WStat(ctx, "/link", fs9.StatChanges{SymlinkTarget: &target}))

	info, err := f.Stat(ctx, "/link")
	require.NoError(t, err)
	assert.True(t, info.IsSymlink())
	assert.Equal(t, "/target", info.SymlinkTarget)
	assert.True(t, f.Capabilities().Has(fs9.CapSymlink))
}

func TestWStatTruncateChmod(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/f", "0123456789")

	size := uint64(4)
	mode := uint32(0o640)
	require.NoError(t, f.WStat(ctx, "/f", fs9.StatChanges{Size: &size, Mode: &mode}))

	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.Size)
	assert.Equal(t, uint32(0o640), info.Mode)
}

func TestRename(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/old", "data")

	name := "new"
	require.NoError(t, f.WStat(ctx, "/old", fs9.StatChanges{Name: &name}))

	_, err := f.Stat(ctx, "/old")
	assert.True(t, fs9.IsNotFound(err))
	info, err := f.Stat(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.Size)
}

func TestAppendMode(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/log", "one")

	h, _, err := f.Open(ctx, "/log", fs9.FlagsAppend)
	require.NoError(t, err)
	_, err = f.Write(ctx, h, 0, []byte("two"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, false))

	info, err := f.Stat(ctx, "/log")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.Size)
}

func TestRemove(t *testing.T) {
	f := newTestFs(t)
	writeFile(t, f, "/f", "x")
	require.NoError(t, f.Remove(ctx, "/f"))
	assert.True(t, fs9.IsNotFound(f.Remove(ctx, "/f")))

	_, _, err := f.Open(ctx, "/dir", fs9.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/dir/f", "x")
	assert.ErrorIs(t, f.Remove(ctx, "/dir"), fs9.ErrDirectoryNotEmpty)
}

func TestStatFS(t *testing.T) {
	f := newTestFs(t)
	stats, err := f.StatFS(ctx, "/")
	require.NoError(t, err)
	assert.NotZero(t, stats.TotalBytes)
	assert.NotZero(t, stats.BlockSize)
}
