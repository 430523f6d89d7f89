package memfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9fs/fs9/fs"
)

var ctx = context.Background()

func mustOpen(t *testing.T, f *Fs, path string, flags fs.OpenFlags) fs.Handle {
	t.Helper()
	h, _, err := f.Open(ctx, path, flags)
	require.NoError(t, err)
	return h
}

func writeFile(t *testing.T, f *Fs, path, content string) {
	t.Helper()
	h := mustOpen(t, f, path, fs.FlagsCreateFile)
	n, err := f.Write(ctx, h, 0, []byte(content))
	require.NoError(t, err)
	require.Equal(t, len(content), n)
	require.NoError(t, f.Close(ctx, h, false))
}

func TestCreateWriteRead(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/a.txt", "hello")

	info, err := f.Stat(ctx, "/a.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Size)
	assert.Equal(t, "/a.txt", info.Path)
	assert.True(t, info.IsRegular())

	h := mustOpen(t, f, "/a.txt", fs.FlagsRead)
	data, err := f.Read(ctx, h, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	// read at EOF is empty
	data, err = f.Read(ctx, h, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, data)
	require.NoError(t, f.Close(ctx, h, false))
}

func TestReadAfterWriteSameHandle(t *testing.T) {
	f := NewFs()
	h := mustOpen(t, f, "/f", fs.FlagsCreateFile)
	_, err := f.Write(ctx, h, 3, []byte("xyz"))
	require.NoError(t, err)

	data, err := f.Read(ctx, h, 3, 3)
	require.NoError(t, err)
	assert.Equal(t, "xyz", string(data))

	// the gap reads back as zeros
	data, err = f.Read(ctx, h, 0, 3)
	require.NoError(t, err)
	assert.Equal(t, []byte{0, 0, 0}, data)
}

func TestOpenMissingWithoutCreate(t *testing.T) {
	f := NewFs()
	_, _, err := f.Open(ctx, "/missing", fs.FlagsRead)
	assert.True(t, fs.IsNotFound(err))
}

func TestCreateInMissingParent(t *testing.T) {
	f := NewFs()
	_, _, err := f.Open(ctx, "/no/such/dir/file", fs.FlagsCreateFile)
	assert.True(t, fs.IsNotFound(err))
}

func TestMkdirAndReaddir(t *testing.T) {
	f := NewFs()
	_, info, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	writeFile(t, f, "/dir/b.txt", "b")
	writeFile(t, f, "/dir/a.txt", "a")
	_, _, err = f.Open(ctx, "/dir/sub", fs.FlagsCreateDir)
	require.NoError(t, err)

	entries, err := f.ReadDir(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	// sorted by full path, no . or ..
	assert.Equal(t, "/dir/a.txt", entries[0].Path)
	assert.Equal(t, "/dir/b.txt", entries[1].Path)
	assert.Equal(t, "/dir/sub", entries[2].Path)
}

func TestReaddirOnFile(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "x")
	_, err := f.ReadDir(ctx, "/f")
	assert.ErrorIs(t, err, fs.ErrNotDirectory)
}

func TestTruncateOnOpen(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "some content")

	h := mustOpen(t, f, "/f", fs.OpenFlags{Read: true, Write: true, Truncate: true})
	defer func() { _ = f.Close(ctx, h, false) }()

	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(0), info.Size)
}

func TestWStatTruncateAndExtend(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "hello world")

	size := uint64(5)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))
	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Size)

	// nothing past the new size
	h := mustOpen(t, f, "/f", fs.FlagsRead)
	data, err := f.Read(ctx, h, 5, 10)
	require.NoError(t, err)
	assert.Empty(t, data)

	// extend zero fills
	size = 8
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))
	data, err = f.Read(ctx, h, 0, 8)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello\x00\x00\x00"), data)
}

func TestWStatChmodChown(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "x")

	mode := uint32(0o600)
	uid := uint32(42)
	gid := uint32(43)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Mode: &mode, UID: &uid, GID: &gid}))

	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), info.Mode)
	assert.Equal(t, uint32(42), info.UID)
	assert.Equal(t, uint32(43), info.GID)
}

func TestRenameRelative(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/old.txt", "content")

	name := "new.txt"
	require.NoError(t, f.WStat(ctx, "/old.txt", fs.StatChanges{Name: &name}))

	_, err := f.Stat(ctx, "/old.txt")
	assert.True(t, fs.IsNotFound(err))

	info, err := f.Stat(ctx, "/new.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), info.Size)
}

func TestRenameDirectoryMovesChildren(t *testing.T) {
	f := NewFs()
	_, _, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/dir/f.txt", "inside")

	name := "/moved"
	require.NoError(t, f.WStat(ctx, "/dir", fs.StatChanges{Name: &name}))

	info, err := f.Stat(ctx, "/moved/f.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.Size)

	_, err = f.Stat(ctx, "/dir/f.txt")
	assert.True(t, fs.IsNotFound(err))
}

func TestRenameOverExisting(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/src", "source")
	writeFile(t, f, "/dst", "target")

	name := "/dst"
	require.NoError(t, f.WStat(ctx, "/src", fs.StatChanges{Name: &name}))

	info, err := f.Stat(ctx, "/dst")
	require.NoError(t, err)
	assert.Equal(t, uint64(6), info.Size)
}

func TestRenameFileOverNonEmptyDir(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/src", "s")
	_, _, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/dir/f", "x")

	name := "/dir"
	err = f.WStat(ctx, "/src", fs.StatChanges{Name: &name})
	assert.ErrorIs(t, err, fs.ErrIsDirectory)
}

func TestAppendIgnoresOffset(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/log", "one")

	h := mustOpen(t, f, "/log", fs.FlagsAppend)
	_, err := f.Write(ctx, h, 0, []byte("two"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, false))

	h = mustOpen(t, f, "/log", fs.FlagsRead)
	data, err := f.Read(ctx, h, 0, 100)
	require.NoError(t, err)
	assert.Equal(t, "onetwo", string(data))
}

func TestWriteEmptyIsZero(t *testing.T) {
	f := NewFs()
	h := mustOpen(t, f, "/f", fs.FlagsCreateFile)
	n, err := f.Write(ctx, h, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRemove(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "x")
	require.NoError(t, f.Remove(ctx, "/f"))
	_, err := f.Stat(ctx, "/f")
	assert.True(t, fs.IsNotFound(err))

	assert.True(t, fs.IsNotFound(f.Remove(ctx, "/f")))
}

func TestRemoveNonEmptyDir(t *testing.T) {
	f := NewFs()
	_, _, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/dir/f", "x")

	err = f.Remove(ctx, "/dir")
	assert.ErrorIs(t, err, fs.ErrDirectoryNotEmpty)

	require.NoError(t, f.Remove(ctx, "/dir/f"))
	require.NoError(t, f.Remove(ctx, "/dir"))
}

func TestSymlinkNotSupported(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/x", "x")
	target := "/y"
	err := f.WStat(ctx, "/x", fs.StatChanges{SymlinkTarget: &target})
	assert.ErrorIs(t, err, fs.ErrNotImplemented)
	assert.False(t, f.Capabilities().Has(fs.CapSymlink))
}

func TestStatFS(t *testing.T) {
	f := NewFs()
	writeFile(t, f, "/f", "12345")
	stats, err := f.StatFS(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stats.UsedBytes())
	assert.NotZero(t, stats.BlockSize)
}
