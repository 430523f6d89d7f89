package vfs

import (
	"context"
	"path"

	"github.com/fs9fs/fs9/fs"
)

// Router implements fs.Provider over a mount table, adding capability
// gating, path rewriting across the mount boundary, and handle indirection
// through a HandleRegistry.
type Router struct {
	mounts  *MountTable
	handles *HandleRegistry
}

// NewRouter wires a mount table and handle registry together.
func NewRouter(mounts *MountTable, handles *HandleRegistry) *Router {
	return &Router{mounts: mounts, handles: handles}
}

// MountTable returns the underlying table.
func (r *Router) MountTable() *MountTable { return r.mounts }

// HandleRegistry returns the underlying registry.
func (r *Router) HandleRegistry() *HandleRegistry { return r.handles }

// Stat resolves and delegates, rewriting the result path back to the
// absolute VFS path.
func (r *Router) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return fs.FileInfo{}, err
	}
	info, err := provider.Stat(ctx, relative)
	if err != nil {
		return fs.FileInfo{}, err
	}
	info.Path = NormalizePath(p)
	return info, nil
}

// WStat gates each requested field against the provider's capabilities,
// translates absolute rename targets to mount-relative ones, and delegates.
func (r *Router) WStat(ctx context.Context, p string, changes fs.StatChanges) error {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return err
	}
	caps := provider.Capabilities()

	if changes.Mode != nil && !caps.Has(fs.CapChmod) {
		return fs.NotImplemented("chmod")
	}
	if (changes.UID != nil || changes.GID != nil) && !caps.Has(fs.CapChown) {
		return fs.NotImplemented("chown")
	}
	if changes.Size != nil && !caps.Has(fs.CapTruncate) {
		return fs.NotImplemented("truncate")
	}
	if (changes.Atime != nil || changes.Mtime != nil) && !caps.Has(fs.CapUtime) {
		return fs.NotImplemented("utime")
	}
	if changes.Name != nil && !caps.Has(fs.CapRename) {
		return fs.NotImplemented("rename")
	}
	if changes.SymlinkTarget != nil && !caps.Has(fs.CapSymlink) {
		return fs.NotImplemented("symlink")
	}

	// An absolute rename target must land on the same mounted provider;
	// it is then rewritten relative to that mount.
	if changes.Name != nil && path.IsAbs(*changes.Name) {
		targetProvider, targetRelative, err := r.mounts.Resolve(*changes.Name)
		if err != nil {
			return err
		}
		if targetProvider != provider {
			return fs.WrapError(fs.ErrInvalidArgument, "cannot rename across mount points")
		}
		changes.Name = &targetRelative
	}

	return provider.WStat(ctx, relative, changes)
}

// StatFS resolves and delegates.
func (r *Router) StatFS(ctx context.Context, p string) (fs.FsStats, error) {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return fs.FsStats{}, err
	}
	return provider.StatFS(ctx, relative)
}

// Open gates the flags, delegates, and registers the provider handle,
// returning the registry id as the external handle.
func (r *Router) Open(ctx context.Context, p string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return 0, fs.FileInfo{}, err
	}
	caps := provider.Capabilities()

	if flags.Read && !caps.Has(fs.CapRead) {
		return 0, fs.FileInfo{}, fs.NotImplemented("read")
	}
	if flags.Write && !caps.Has(fs.CapWrite) {
		return 0, fs.FileInfo{}, fs.NotImplemented("write")
	}
	if flags.Create && !caps.Has(fs.CapCreate) {
		return 0, fs.FileInfo{}, fs.NotImplemented("create")
	}

	providerHandle, info, err := provider.Open(ctx, relative, flags)
	if err != nil {
		return 0, fs.FileInfo{}, err
	}
	info.Path = NormalizePath(p)

	id := r.handles.Register(provider, info.Path, flags, info, providerHandle)
	return fs.Handle(id), info, nil
}

// Read delegates to the provider bound to the handle.
func (r *Router) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	var provider fs.Provider
	var providerHandle fs.Handle
	err := r.handles.WithHandle(uint64(h), func(state *HandleState) error {
		provider = state.Provider
		providerHandle = state.ProviderHandle
		return nil
	})
	if err != nil {
		return nil, err
	}
	return provider.Read(ctx, providerHandle, offset, size)
}

// Write delegates to the provider bound to the handle.
func (r *Router) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	var provider fs.Provider
	var providerHandle fs.Handle
	err := r.handles.WithHandle(uint64(h), func(state *HandleState) error {
		provider = state.Provider
		providerHandle = state.ProviderHandle
		return nil
	})
	if err != nil {
		return 0, err
	}
	return provider.Write(ctx, providerHandle, offset, data)
}

// Close removes the handle from the registry, closing it on its provider.
func (r *Router) Close(ctx context.Context, h fs.Handle, sync bool) error {
	return r.handles.Close(ctx, uint64(h), sync)
}

// ReadDir resolves and delegates, rewriting every entry path to the
// absolute VFS path.
func (r *Router) ReadDir(ctx context.Context, p string) ([]fs.FileInfo, error) {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return nil, err
	}
	entries, err := provider.ReadDir(ctx, relative)
	if err != nil {
		return nil, err
	}

	base := NormalizePath(p)
	if base == "/" {
		base = ""
	}
	for i := range entries {
		entries[i].Path = base + "/" + path.Base(entries[i].Path)
	}
	return entries, nil
}

// Remove gates DELETE and delegates.
func (r *Router) Remove(ctx context.Context, p string) error {
	provider, relative, err := r.mounts.Resolve(p)
	if err != nil {
		return err
	}
	if !provider.Capabilities().Has(fs.CapDelete) {
		return fs.NotImplemented("delete")
	}
	return provider.Remove(ctx, relative)
}

// Capabilities returns the union of the mounted providers' capability sets.
// It is synthetic: individual paths are still gated by the owning mount.
func (r *Router) Capabilities() fs.Capabilities {
	var caps fs.Capabilities
	for _, provider := range r.mounts.providers() {
		caps |= provider.Capabilities()
	}
	return caps
}
