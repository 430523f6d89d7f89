// Package localfs provides a filesystem backend rooted at a host directory.
package localfs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"

	"github.com/mitchellh/mapstructure"

	fs9 "github.com/fs9fs/fs9/fs"
)

// Register with fs
func init() {
	fs9.Register(&fs9.RegInfo{
		Name:        "localfs",
		Description: "Local disk rooted at a directory",
		NewProvider: NewProvider,
	})
}

// Options is the mount config for localfs.
type Options struct {
	// Root is the host directory all paths are confined to.
	Root string `mapstructure:"root"`
}

type localHandle struct {
	file  *os.File // nil for directories
	path  string   // provider-relative
	flags fs9.OpenFlags
}

// Fs serves a subtree of the host filesystem. Every request path is
// confined to the root: it is cleaned as an absolute path first, so ".."
// segments stop at the root instead of climbing above it.
type Fs struct {
	root       string
	mu         sync.RWMutex
	handles    map[fs9.Handle]*localHandle
	nextHandle atomic.Uint64
}

// NewFs makes a provider rooted at root, which must be an existing
// directory.
func NewFs(root string) (*Fs, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, translateError(err, root)
	}
	if !info.IsDir() {
		return nil, fs9.NotDirectory(root)
	}
	// resolve symlinks once so confinement checks compare stable paths
	resolved, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root %q: %w", root, err)
	}
	return &Fs{
		root:    resolved,
		handles: make(map[fs9.Handle]*localHandle),
	}, nil
}

// NewProvider instantiates the backend from a mount config.
func NewProvider(ctx context.Context, config map[string]interface{}) (fs9.Provider, error) {
	var opt Options
	if err := mapstructure.WeakDecode(config, &opt); err != nil {
		return nil, fs9.InvalidArgument(fmt.Sprintf("bad localfs config: %v", err))
	}
	if opt.Root == "" {
		return nil, fs9.InvalidArgument("localfs needs a root")
	}
	return NewFs(opt.Root)
}

// String implements fmt.Stringer for logging.
func (f *Fs) String() string {
	return fmt.Sprintf("localfs{%s}", f.root)
}

// hostPath maps a provider path onto the host, rejecting escapes from the
// root.
func (f *Fs) hostPath(p string) (string, error) {
	cleaned := path.Clean("/" + strings.TrimPrefix(p, "/"))
	full := filepath.Join(f.root, filepath.FromSlash(cleaned))
	if full != f.root && !strings.HasPrefix(full, f.root+string(filepath.Separator)) {
		return "", fs9.PermissionDenied("path escapes filesystem root")
	}
	return full, nil
}

// translateError maps OS errors onto the fs taxonomy.
func translateError(err error, p string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return fs9.NotFound(p)
	case errors.Is(err, syscall.ENOTEMPTY):
		// checked before ErrExist: ENOTEMPTY also matches fs.ErrExist
		return fs9.DirectoryNotEmpty(p)
	case errors.Is(err, fs.ErrExist):
		return fs9.AlreadyExists(p)
	case errors.Is(err, fs.ErrPermission):
		return fs9.PermissionDenied(p)
	case errors.Is(err, syscall.ENOTDIR):
		return fs9.NotDirectory(p)
	case errors.Is(err, syscall.EISDIR):
		return fs9.IsDirectoryErr(p)
	default:
		return fmt.Errorf("%s: %w", p, err)
	}
}

func (f *Fs) lstatInfo(providerPath, host string) (fs9.FileInfo, error) {
	osInfo, err := os.Lstat(host)
	if err != nil {
		return fs9.FileInfo{}, translateError(err, providerPath)
	}
	info := fs9.FileInfo{
		Path: providerPath,
		Size: uint64(osInfo.Size()),
		Mode: uint32(osInfo.Mode().Perm()),
		Type: fs9.TypeRegular,
		ETag: fmt.Sprintf("%x-%x", osInfo.ModTime().UnixNano(), osInfo.Size()),
	}
	switch {
	case osInfo.IsDir():
		info.Type = fs9.TypeDirectory
	case osInfo.Mode()&os.ModeSymlink != 0:
		info.Type = fs9.TypeSymlink
		if target, err := os.Readlink(host); err == nil {
			info.SymlinkTarget = target
		}
	}
	fillSysInfo(&info, osInfo)
	return info, nil
}

// Stat implements fs9.Provider.
func (f *Fs) Stat(ctx context.Context, p string) (fs9.FileInfo, error) {
	p = normalize(p)
	host, err := f.hostPath(p)
	if err != nil {
		return fs9.FileInfo{}, err
	}
	return f.lstatInfo(p, host)
}

func normalize(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
		if p == "" {
			return "/"
		}
	}
	return p
}

// WStat implements fs9.Provider.
func (f *Fs) WStat(ctx context.Context, p string, changes fs9.StatChanges) error {
	p = normalize(p)
	host, err := f.hostPath(p)
	if err != nil {
		return err
	}

	if changes.Name != nil {
		return f.rename(p, host, *changes.Name)
	}

	if changes.SymlinkTarget != nil {
		// replace whatever is there with a symlink to the target
		if err := os.Remove(host); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return translateError(err, p)
		}
		if err := os.Symlink(*changes.SymlinkTarget, host); err != nil {
			return translateError(err, p)
		}
	}

	if changes.Mode != nil {
		if err := os.Chmod(host, os.FileMode(*changes.Mode&0o7777)); err != nil {
			return translateError(err, p)
		}
	}
	if changes.UID != nil || changes.GID != nil {
		uid, gid := -1, -1
		if changes.UID != nil {
			uid = int(*changes.UID)
		}
		if changes.GID != nil {
			gid = int(*changes.GID)
		}
		if err := os.Chown(host, uid, gid); err != nil {
			return translateError(err, p)
		}
	}
	if changes.Size != nil {
		if err := os.Truncate(host, int64(*changes.Size)); err != nil {
			return translateError(err, p)
		}
	}
	if changes.Atime != nil || changes.Mtime != nil {
		info, err := f.lstatInfo(p, host)
		if err != nil {
			return err
		}
		atime := info.Atime
		mtime := info.Mtime
		if changes.Atime != nil {
			atime = *changes.Atime
		}
		if changes.Mtime != nil {
			mtime = *changes.Mtime
		}
		if err := os.Chtimes(host, atime, mtime); err != nil {
			return translateError(err, p)
		}
	}
	return nil
}

func (f *Fs) rename(p, host, newName string) error {
	newPath := newName
	if !strings.HasPrefix(newName, "/") {
		newPath = path.Join(path.Dir(p), newName)
	}
	newHost, err := f.hostPath(newPath)
	if err != nil {
		return err
	}
	if err := os.Rename(host, newHost); err != nil {
		return translateError(err, p)
	}
	return nil
}

// Open implements fs9.Provider.
func (f *Fs) Open(ctx context.Context, p string, flags fs9.OpenFlags) (fs9.Handle, fs9.FileInfo, error) {
	p = normalize(p)
	host, err := f.hostPath(p)
	if err != nil {
		return 0, fs9.FileInfo{}, err
	}

	state := &localHandle{path: p, flags: flags}

	if flags.Directory && flags.Create {
		if err := os.Mkdir(host, 0o755); err != nil && !errors.Is(err, fs.ErrExist) {
			return 0, fs9.FileInfo{}, translateError(err, p)
		}
	} else if existing, err := os.Lstat(host); err == nil && existing.IsDir() {
		// directory handles have no byte stream
	} else {
		mode := os.O_RDONLY
		switch {
		case flags.Read && flags.Write:
			mode = os.O_RDWR
		case flags.Write:
			mode = os.O_WRONLY
		}
		if flags.Create {
			mode |= os.O_CREATE
		}
		if flags.Truncate {
			mode |= os.O_TRUNC
		}
		if flags.Append {
			mode |= os.O_APPEND
		}
		file, err := os.OpenFile(host, mode, 0o644)
		if err != nil {
			return 0, fs9.FileInfo{}, translateError(err, p)
		}
		state.file = file
	}

	info, err := f.lstatInfo(p, host)
	if err != nil {
		if state.file != nil {
			_ = state.file.Close()
		}
		return 0, fs9.FileInfo{}, err
	}

	h := fs9.Handle(f.nextHandle.Add(1))
	f.mu.Lock()
	f.handles[h] = state
	f.mu.Unlock()
	return h, info, nil
}

func (f *Fs) handleFor(h fs9.Handle) (*localHandle, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	state, ok := f.handles[h]
	if !ok {
		return nil, fs9.InvalidHandle(h)
	}
	return state, nil
}

// Read implements fs9.Provider.
func (f *Fs) Read(ctx context.Context, h fs9.Handle, offset uint64, size int) ([]byte, error) {
	state, err := f.handleFor(h)
	if err != nil {
		return nil, err
	}
	if state.file == nil {
		return nil, fs9.IsDirectoryErr(state.path)
	}
	buf := make([]byte, size)
	n, err := state.file.ReadAt(buf, int64(offset))
	if err != nil && err != io.EOF {
		return nil, translateError(err, state.path)
	}
	return buf[:n], nil
}

// Write implements fs9.Provider.
func (f *Fs) Write(ctx context.Context, h fs9.Handle, offset uint64, data []byte) (int, error) {
	state, err := f.handleFor(h)
	if err != nil {
		return 0, err
	}
	if state.file == nil {
		return 0, fs9.IsDirectoryErr(state.path)
	}
	var n int
	if state.flags.Append {
		// O_APPEND positions every write at EOF regardless of offset
		n, err = state.file.Write(data)
	} else {
		n, err = state.file.WriteAt(data, int64(offset))
	}
	if err != nil {
		return n, translateError(err, state.path)
	}
	return n, nil
}

// Close implements fs9.Provider. With sync set the file is fsynced before
// closing.
func (f *Fs) Close(ctx context.Context, h fs9.Handle, sync bool) error {
	f.mu.Lock()
	state, ok := f.handles[h]
	if ok {
		delete(f.handles, h)
	}
	f.mu.Unlock()
	if !ok {
		return fs9.InvalidHandle(h)
	}
	if state.file == nil {
		return nil
	}
	if sync {
		if err := state.file.Sync(); err != nil {
			_ = state.file.Close()
			return translateError(err, state.path)
		}
	}
	if err := state.file.Close(); err != nil {
		return translateError(err, state.path)
	}
	return nil
}

// ReadDir implements fs9.Provider.
func (f *Fs) ReadDir(ctx context.Context, p string) ([]fs9.FileInfo, error) {
	p = normalize(p)
	host, err := f.hostPath(p)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(host)
	if err != nil {
		return nil, translateError(err, p)
	}

	entries := make([]fs9.FileInfo, 0, len(dirEntries))
	for _, entry := range dirEntries {
		childPath := p + "/" + entry.Name()
		if p == "/" {
			childPath = "/" + entry.Name()
		}
		info, err := f.lstatInfo(childPath, filepath.Join(host, entry.Name()))
		if err != nil {
			fs9.Debugf(f, "skipping unreadable entry %q: %v", childPath, err)
			continue
		}
		entries = append(entries, info)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Remove implements fs9.Provider. os.Remove is never recursive, matching
// the contract.
func (f *Fs) Remove(ctx context.Context, p string) error {
	p = normalize(p)
	host, err := f.hostPath(p)
	if err != nil {
		return err
	}
	if err := os.Remove(host); err != nil {
		return translateError(err, p)
	}
	return nil
}

// Capabilities implements fs9.Provider.
func (f *Fs) Capabilities() fs9.Capabilities {
	return fs9.CapPOSIXLike | fs9.CapETag | fs9.CapAtomicRename |
		fs9.CapHardlink | fs9.CapAppend
}

// check interface
var _ fs9.Provider = (*Fs)(nil)
