package vfs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fs9fs/fs9/backend/memfs"
	"github.com/fs9fs/fs9/fs"
)

func TestNormalizePath(t *testing.T) {
	for _, test := range []struct {
		in, want string
	}{
		{"", "/"},
		{"/", "/"},
		{"data", "/data"},
		{"/data", "/data"},
		{"/data/", "/data"},
		{"/data///", "/data"},
		{"  /data ", "/data"},
		{"///", "/"},
	} {
		assert.Equal(t, test.want, NormalizePath(test.in), "input %q", test.in)
	}
}

func TestMountAndResolveRoot(t *testing.T) {
	table := NewMountTable()
	root := memfs.NewFs()
	require.NoError(t, table.Mount("/", "root", root))

	provider, relative, err := table.Resolve("/test/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/test/file.txt", relative)
	assert.Same(t, root, provider)
}

func TestNestedMounts(t *testing.T) {
	table := NewMountTable()
	rootFs := memfs.NewFs()
	dataFs := memfs.NewFs()
	require.NoError(t, table.Mount("/", "root", rootFs))
	require.NoError(t, table.Mount("/data", "data", dataFs))

	_, relative, err := table.Resolve("/config.txt")
	require.NoError(t, err)
	assert.Equal(t, "/config.txt", relative)

	provider, relative, err := table.Resolve("/data/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "/file.txt", relative)
	assert.Same(t, dataFs, provider)

	// a sibling with the mount path as a string prefix stays on root
	provider, relative, err = table.Resolve("/database")
	require.NoError(t, err)
	assert.Equal(t, "/database", relative)
	assert.Same(t, rootFs, provider)
}

func TestResolveExactMountPath(t *testing.T) {
	table := NewMountTable()
	require.NoError(t, table.Mount("/data", "data", memfs.NewFs()))

	_, relative, err := table.Resolve("/data")
	require.NoError(t, err)
	assert.Equal(t, "/", relative)

	// unnormalized spellings resolve identically
	_, relative2, err := table.Resolve("/data/")
	require.NoError(t, err)
	assert.Equal(t, relative, relative2)
}

func TestDeeplyNestedMounts(t *testing.T) {
	table := NewMountTable()
	for _, p := range []string{"/", "/a", "/a/b", "/a/b/c"} {
		require.NoError(t, table.Mount(p, p, memfs.NewFs()))
	}
	for _, test := range []struct{ in, want string }{
		{"/a/b/c/file.txt", "/file.txt"},
		{"/a/b/file.txt", "/file.txt"},
		{"/a/file.txt", "/file.txt"},
		{"/file.txt", "/file.txt"},
	} {
		_, relative, err := table.Resolve(test.in)
		require.NoError(t, err)
		assert.Equal(t, test.want, relative, "path %q", test.in)
	}
}

func TestResolveWithoutRootMount(t *testing.T) {
	table := NewMountTable()
	require.NoError(t, table.Mount("/data", "data", memfs.NewFs()))

	_, _, err := table.Resolve("/other/file.txt")
	assert.True(t, fs.IsNotFound(err))
}

func TestDuplicateMountFails(t *testing.T) {
	table := NewMountTable()
	require.NoError(t, table.Mount("/data", "one", memfs.NewFs()))
	err := table.Mount("/data", "two", memfs.NewFs())
	assert.ErrorIs(t, err, fs.ErrAlreadyExists)
}

func TestUnmount(t *testing.T) {
	table := NewMountTable()
	mounted := memfs.NewFs()
	require.NoError(t, table.Mount("/data", "data", mounted))
	assert.Equal(t, 1, table.Count())

	provider, err := table.Unmount("/data")
	require.NoError(t, err)
	assert.Same(t, mounted, provider)
	assert.Equal(t, 0, table.Count())

	_, err = table.Unmount("/data")
	assert.True(t, fs.IsNotFound(err))

	// the path is free for a new mount
	require.NoError(t, table.Mount("/data", "again", memfs.NewFs()))
}

func TestListMountsOrdered(t *testing.T) {
	table := NewMountTable()
	for _, p := range []string{"/z", "/", "/a"} {
		require.NoError(t, table.Mount(p, "m"+p, memfs.NewFs()))
	}
	mounts := table.ListMounts()
	require.Len(t, mounts, 3)
	assert.Equal(t, "/", mounts[0].Path)
	assert.Equal(t, "/a", mounts[1].Path)
	assert.Equal(t, "/z", mounts[2].Path)
}

func TestGetMountInfo(t *testing.T) {
	table := NewMountTable()
	require.NoError(t, table.Mount("/data", "data", memfs.NewFs()))

	point, caps, ok := table.GetMountInfo("/data")
	require.True(t, ok)
	assert.Equal(t, "data", point.ProviderName)
	assert.True(t, caps.Has(fs.CapRead))

	_, _, ok = table.GetMountInfo("/data/sub")
	assert.False(t, ok)
}
