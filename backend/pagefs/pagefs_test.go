package pagefs

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/lib/kv"
)

var ctx = context.Background()

func newTestFs(t *testing.T) (*Fs, kv.Store) {
	t.Helper()
	store := kv.NewMemory()
	f, err := NewFs(ctx, store, Options{})
	require.NoError(t, err)
	return f, store
}

func writeFile(t *testing.T, f *Fs, path string, data []byte) {
	t.Helper()
	h, _, err := f.Open(ctx, path, fs.FlagsCreateFile)
	require.NoError(t, err)
	n, err := f.Write(ctx, h, 0, data)
	require.NoError(t, err)
	require.Equal(t, len(data), n)
	require.NoError(t, f.Close(ctx, h, false))
}

func readFile(t *testing.T, f *Fs, path string, offset uint64, size int) []byte {
	t.Helper()
	h, _, err := f.Open(ctx, path, fs.FlagsRead)
	require.NoError(t, err)
	defer func() { require.NoError(t, f.Close(ctx, h, false)) }()
	data, err := f.Read(ctx, h, offset, size)
	require.NoError(t, err)
	return data
}

func inodeOf(t *testing.T, f *Fs, path string) *Inode {
	t.Helper()
	_, inode, err := f.resolvePath(ctx, path)
	require.NoError(t, err)
	return inode
}

func TestBootstrapFresh(t *testing.T) {
	f, _ := newTestFs(t)

	info, err := f.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	sb, err := f.loadSuperblock(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), sb.NextInode)
	assert.Equal(t, uint32(PageSize), sb.PageSize)
}

func TestBootstrapRecreatesMissingRoot(t *testing.T) {
	f, store := newTestFs(t)

	// simulate stale data: superblock present, root inode gone
	require.NoError(t, store.Delete(ctx, inodeKey(RootInode)))
	_, err := f.Stat(ctx, "/")
	require.Error(t, err)

	f2, err := NewFs(ctx, store, Options{})
	require.NoError(t, err)
	info, err := f2.Stat(ctx, "/")
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCreateEmptyFileHasOnePage(t *testing.T) {
	f, _ := newTestFs(t)
	h, info, err := f.Open(ctx, "/empty", fs.FlagsCreateFile)
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, false))
	assert.Equal(t, uint64(0), info.Size)

	inode := inodeOf(t, f, "/empty")
	assert.Equal(t, uint64(1), inode.PageCount)

	// the zero page really exists
	_, found, err := f.readPage(ctx, inode.ID, 0)
	require.NoError(t, err)
	assert.True(t, found)
}

func TestWriteReadRoundTrip(t *testing.T) {
	f, _ := newTestFs(t)
	content := []byte("hello pagefs")
	writeFile(t, f, "/f.txt", content)

	assert.Equal(t, content, readFile(t, f, "/f.txt", 0, 100))

	info, err := f.Stat(ctx, "/f.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(len(content)), info.Size)
}

func TestWriteSpansPages(t *testing.T) {
	f, _ := newTestFs(t)
	content := bytes.Repeat([]byte("abcdefgh"), PageSize/2) // 4 pages
	writeFile(t, f, "/big", content)

	inode := inodeOf(t, f, "/big")
	assert.Equal(t, uint64(4), inode.PageCount)
	assert.Equal(t, content, readFile(t, f, "/big", 0, len(content)))

	// offset read across a page boundary
	got := readFile(t, f, "/big", PageSize-4, 8)
	assert.Equal(t, content[PageSize-4:PageSize+4], got)
}

func TestSparseWrite(t *testing.T) {
	f, _ := newTestFs(t)
	h, _, err := f.Open(ctx, "/sparse", fs.FlagsCreateFile)
	require.NoError(t, err)

	payload := []byte("sparse data")
	n, err := f.Write(ctx, h, 16384, payload)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	require.NoError(t, f.Close(ctx, h, false))

	info, err := f.Stat(ctx, "/sparse")
	require.NoError(t, err)
	assert.Equal(t, uint64(16395), info.Size)

	inode := inodeOf(t, f, "/sparse")
	assert.Equal(t, uint64(2), inode.PageCount)

	// the first page reads as all zeros
	zeros := readFile(t, f, "/sparse", 0, 16384)
	assert.Equal(t, make([]byte, 16384), zeros)

	assert.Equal(t, payload, readFile(t, f, "/sparse", 16384, 11))
}

func TestReadPastEOF(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", []byte("data"))
	assert.Empty(t, readFile(t, f, "/f", 4, 10))
	assert.Empty(t, readFile(t, f, "/f", 100, 10))
}

func TestWriteEmptyIsZero(t *testing.T) {
	f, _ := newTestFs(t)
	h, _, err := f.Open(ctx, "/f", fs.FlagsCreateFile)
	require.NoError(t, err)
	n, err := f.Write(ctx, h, 0, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestAppendHandle(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/log", []byte("first"))

	h, _, err := f.Open(ctx, "/log", fs.FlagsAppend)
	require.NoError(t, err)
	_, err = f.Write(ctx, h, 0, []byte(" second"))
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, false))

	assert.Equal(t, []byte("first second"), readFile(t, f, "/log", 0, 100))
}

func TestOpenTruncate(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", bytes.Repeat([]byte("x"), PageSize*2+5))

	h, info, err := f.Open(ctx, "/f", fs.OpenFlags{Read: true, Write: true, Truncate: true})
	require.NoError(t, err)
	require.NoError(t, f.Close(ctx, h, false))
	assert.Equal(t, uint64(0), info.Size)

	inode := inodeOf(t, f, "/f")
	assert.Equal(t, uint64(1), inode.PageCount)
}

func TestTruncateShrinkGrow(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", bytes.Repeat([]byte("y"), PageSize+100))

	// shrink within a page zeroes the tail
	size := uint64(10)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))
	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(10), info.Size)
	assert.Equal(t, uint64(1), inodeOf(t, f, "/f").PageCount)
	assert.Empty(t, readFile(t, f, "/f", 10, 100))

	// grow re-extends with zero fill
	size = PageSize * 3
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))
	assert.Equal(t, uint64(3), inodeOf(t, f, "/f").PageCount)
	data := readFile(t, f, "/f", 10, 20)
	assert.Equal(t, make([]byte, 20), data)
}

func TestTruncateToPageBoundary(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", bytes.Repeat([]byte("z"), PageSize+50))

	size := uint64(PageSize)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))

	inode := inodeOf(t, f, "/f")
	assert.Equal(t, uint64(PageSize), inode.Size)
	assert.Equal(t, uint64(1), inode.PageCount)

	// content up to the boundary is intact
	data := readFile(t, f, "/f", PageSize-5, 10)
	assert.Equal(t, []byte("zzzzz"), data)
}

func TestTruncateThenStatAndRead(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", []byte("hello world"))

	size := uint64(5)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Size: &size}))

	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint64(5), info.Size)
	for _, k := range []int{1, 10, PageSize} {
		assert.Empty(t, readFile(t, f, "/f", 5, k))
	}
}

func TestMkdirAndReaddirSorted(t *testing.T) {
	f, _ := newTestFs(t)
	_, info, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())

	writeFile(t, f, "/dir/c", []byte("c"))
	writeFile(t, f, "/dir/a", []byte("a"))
	writeFile(t, f, "/dir/b", []byte("b"))

	entries, err := f.ReadDir(ctx, "/dir")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "/dir/a", entries[0].Path)
	assert.Equal(t, "/dir/b", entries[1].Path)
	assert.Equal(t, "/dir/c", entries[2].Path)
}

func TestResolveThroughFileFails(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", []byte("x"))
	_, err := f.Stat(ctx, "/f/child")
	assert.ErrorIs(t, err, fs.ErrNotDirectory)
}

func TestRenameSameDir(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/old", []byte("content"))

	name := "new"
	require.NoError(t, f.WStat(ctx, "/old", fs.StatChanges{Name: &name}))

	_, err := f.Stat(ctx, "/old")
	assert.True(t, fs.IsNotFound(err))
	info, err := f.Stat(ctx, "/new")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), info.Size)
	assert.Equal(t, []byte("content"), readFile(t, f, "/new", 0, 100))
}

func TestRenameAbsoluteAcrossDirs(t *testing.T) {
	f, _ := newTestFs(t)
	_, _, err := f.Open(ctx, "/dst", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/src.txt", []byte("data"))

	name := "/dst/moved.txt"
	require.NoError(t, f.WStat(ctx, "/src.txt", fs.StatChanges{Name: &name}))

	info, err := f.Stat(ctx, "/dst/moved.txt")
	require.NoError(t, err)
	assert.Equal(t, uint64(4), info.Size)
}

func TestRenameOverExistingFile(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/src", []byte("source"))
	writeFile(t, f, "/dst", []byte("old target"))

	name := "/dst"
	require.NoError(t, f.WStat(ctx, "/src", fs.StatChanges{Name: &name}))
	assert.Equal(t, []byte("source"), readFile(t, f, "/dst", 0, 100))
	_, err := f.Stat(ctx, "/src")
	assert.True(t, fs.IsNotFound(err))
}

func TestRenameOverNonEmptyDirFails(t *testing.T) {
	f, _ := newTestFs(t)
	_, _, err := f.Open(ctx, "/d1", fs.FlagsCreateDir)
	require.NoError(t, err)
	_, _, err = f.Open(ctx, "/d2", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/d2/f", []byte("x"))

	name := "/d2"
	err = f.WStat(ctx, "/d1", fs.StatChanges{Name: &name})
	assert.ErrorIs(t, err, fs.ErrDirectoryNotEmpty)
}

func TestRemoveFileDropsPages(t *testing.T) {
	f, store := newTestFs(t)
	writeFile(t, f, "/f", bytes.Repeat([]byte("x"), PageSize*2))
	inode := inodeOf(t, f, "/f")

	require.NoError(t, f.Remove(ctx, "/f"))

	pairs, err := store.Scan(ctx, pagePrefix(inode.ID))
	require.NoError(t, err)
	assert.Empty(t, pairs)
	_, found, err := store.Get(ctx, inodeKey(inode.ID))
	require.NoError(t, err)
	assert.False(t, found)
}

func TestRemoveNonEmptyDir(t *testing.T) {
	f, _ := newTestFs(t)
	_, _, err := f.Open(ctx, "/dir", fs.FlagsCreateDir)
	require.NoError(t, err)
	writeFile(t, f, "/dir/f", []byte("x"))

	assert.ErrorIs(t, f.Remove(ctx, "/dir"), fs.ErrDirectoryNotEmpty)
	require.NoError(t, f.Remove(ctx, "/dir/f"))
	require.NoError(t, f.Remove(ctx, "/dir"))
}

func TestChmodAndUtime(t *testing.T) {
	f, _ := newTestFs(t)
	writeFile(t, f, "/f", []byte("x"))

	mode := uint32(0o600)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Mode: &mode}))
	info, err := f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, uint32(0o600), info.Mode)

	mtime := time.Unix(1_000_000, 0)
	require.NoError(t, f.WStat(ctx, "/f", fs.StatChanges{Mtime: &mtime}))
	info, err = f.Stat(ctx, "/f")
	require.NoError(t, err)
	assert.Equal(t, int64(1_000_000), info.Mtime.Unix())
}

func TestStatFS(t *testing.T) {
	f, _ := newTestFs(t)
	stats, err := f.StatFS(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, uint32(PageSize), stats.BlockSize)
	assert.NotZero(t, stats.TotalBytes)

	writeFile(t, f, "/f", bytes.Repeat([]byte("x"), PageSize*3))
	stats, err = f.StatFS(ctx, "/")
	require.NoError(t, err)
	assert.Equal(t, uint64(3*PageSize), stats.UsedBytes())
}

func TestPersistenceOverBolt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pagefs.db")
	store, err := kv.NewBolt(path)
	require.NoError(t, err)

	f, err := NewFs(ctx, store, Options{})
	require.NoError(t, err)
	writeFile(t, f, "/persist", []byte("still here"))
	require.NoError(t, store.Close())

	store, err = kv.NewBolt(path)
	require.NoError(t, err)
	defer func() { require.NoError(t, store.Close()) }()

	f, err = NewFs(ctx, store, Options{})
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), readFile(t, f, "/persist", 0, 100))
}

func TestProviderRegistered(t *testing.T) {
	p, err := fs.NewProvider(ctx, "pagefs", map[string]interface{}{"backend": "memory", "ns": "tenant-1"})
	require.NoError(t, err)
	assert.True(t, p.Capabilities().Has(fs.CapTruncate|fs.CapRename|fs.CapChmod|fs.CapUtime))
	assert.False(t, p.Capabilities().Has(fs.CapSymlink))
}
