package fs

import "context"

// Provider is the uniform contract every filesystem backend implements. The
// router calls it after mount resolution with mount-relative paths.
//
// Optional operation families are gated by the router against
// Capabilities(), so a provider only has to behave for the bits it
// advertises.
type Provider interface {
	// Stat describes the entry at path. The returned Path echoes the path
	// as supplied.
	Stat(ctx context.Context, path string) (FileInfo, error)

	// WStat atomically applies the sparse patch. A Name change renames; a
	// Size change truncates or extends with zero fill.
	WStat(ctx context.Context, path string, changes StatChanges) error

	// StatFS describes the capacity of the filesystem behind path.
	StatFS(ctx context.Context, path string) (FsStats, error)

	// Open returns a provider handle and the entry's metadata. With Create
	// set an existing entry is opened, a missing one created; with
	// Create+Directory a directory is made; with Truncate the size is
	// reset to zero before returning.
	Open(ctx context.Context, path string, flags OpenFlags) (Handle, FileInfo, error)

	// Read returns up to size bytes at offset. An empty result means EOF.
	// Providers with CapStatefulRead may treat offset as advisory.
	Read(ctx context.Context, h Handle, offset uint64, size int) ([]byte, error)

	// Write stores data at offset and returns the number of bytes written.
	// Handles opened with Append ignore offset and write at current size.
	Write(ctx context.Context, h Handle, offset uint64, data []byte) (int, error)

	// Close releases the handle. With sync set, in-flight durability is
	// flushed before returning.
	Close(ctx context.Context, h Handle, sync bool) error

	// ReadDir lists path's entries sorted lexicographically by full path,
	// without "." or "..".
	ReadDir(ctx context.Context, path string) ([]FileInfo, error)

	// Remove deletes the entry. Non-empty directories fail with
	// ErrDirectoryNotEmpty; Remove is never recursive.
	Remove(ctx context.Context, path string) error

	// Capabilities is constant for the lifetime of the provider.
	Capabilities() Capabilities
}
