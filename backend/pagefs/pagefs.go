// Package pagefs provides the page-addressed filesystem backend: inodes,
// directory entries and fixed-size pages stored in a pluggable byte KV.
package pagefs

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/lib/kv"
)

// PageSize is the fixed page size. Files store ceil(size/PageSize) pages,
// minimum one for regular files: an empty file is one zero page.
const PageSize = 16 * 1024

// Register with fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "pagefs",
		Description: "Page addressed filesystem over a key/value store",
		NewProvider: NewProvider,
	})
}

// Options is the mount config for pagefs.
type Options struct {
	// Backend selects the KV store: "memory" (default) or "bolt".
	Backend string `mapstructure:"backend"`
	// Path is the database file for the bolt backend.
	Path string `mapstructure:"path"`
	UID  uint32 `mapstructure:"uid"`
	GID  uint32 `mapstructure:"gid"`
}

type handleState struct {
	inode uint64
	path  string
	flags fs.OpenFlags
}

// Fs is a pagefs provider over one KV store.
type Fs struct {
	store kv.Store
	opt   Options

	// hmu guards the handle map and serializes read-modify-write page
	// cycles on inodes.
	hmu        sync.Mutex
	handles    map[fs.Handle]*handleState
	nextHandle uint64
}

// NewFs builds a provider over store and bootstraps the filesystem if the
// superblock is absent.
func NewFs(ctx context.Context, store kv.Store, opt Options) (*Fs, error) {
	f := &Fs{
		store:   store,
		opt:     opt,
		handles: make(map[fs.Handle]*handleState),
	}
	if err := f.bootstrap(ctx); err != nil {
		return nil, err
	}
	return f, nil
}

// NewProvider instantiates the backend from a mount config.
func NewProvider(ctx context.Context, config map[string]interface{}) (fs.Provider, error) {
	var opt Options
	if err := mapstructure.WeakDecode(config, &opt); err != nil {
		return nil, fs.InvalidArgument(fmt.Sprintf("bad pagefs config: %v", err))
	}
	var store kv.Store
	switch opt.Backend {
	case "", "memory":
		store = kv.NewMemory()
	case "bolt":
		if opt.Path == "" {
			return nil, fs.InvalidArgument("pagefs bolt backend needs a path")
		}
		var err error
		store, err = kv.NewBolt(opt.Path)
		if err != nil {
			return nil, fs.BackendUnavailable(err.Error())
		}
	default:
		return nil, fs.InvalidArgument("unknown pagefs backend " + opt.Backend)
	}
	return NewFs(ctx, store, opt)
}

// String implements fmt.Stringer for logging.
func (f *Fs) String() string { return "pagefs" }

func kvErr(op string, err error) error {
	return fs.WrapError(fs.ErrBackendUnavailable, fmt.Sprintf("kv %s: %v", op, err))
}

// bootstrap initializes a fresh filesystem, or recreates the root inode if
// the superblock survived but the root record did not.
func (f *Fs) bootstrap(ctx context.Context) error {
	_, found, err := f.store.Get(ctx, superblockKey())
	if err != nil {
		return kvErr("get", err)
	}
	if !found {
		fs.Infof(f, "no superblock found, creating fresh filesystem")
		if err := f.saveSuperblock(ctx, defaultSuperblock()); err != nil {
			return err
		}
		return f.saveInode(ctx, newDirInode(RootInode, 0o755))
	}
	if _, err := f.loadInode(ctx, RootInode); fs.IsNotFound(err) {
		fs.Logf(f, "superblock exists but root inode missing, recreating")
		return f.saveInode(ctx, newDirInode(RootInode, 0o755))
	} else if err != nil {
		return err
	}
	return nil
}

func (f *Fs) loadSuperblock(ctx context.Context) (*Superblock, error) {
	data, found, err := f.store.Get(ctx, superblockKey())
	if err != nil {
		return nil, kvErr("get", err)
	}
	if !found {
		return defaultSuperblock(), nil
	}
	sb := new(Superblock)
	if err := json.Unmarshal(data, sb); err != nil {
		return nil, fs.Internal(fmt.Sprintf("corrupt superblock: %v", err))
	}
	return sb, nil
}

func (f *Fs) saveSuperblock(ctx context.Context, sb *Superblock) error {
	data, err := json.Marshal(sb)
	if err != nil {
		return fs.Internal(err.Error())
	}
	if err := f.store.Set(ctx, superblockKey(), data); err != nil {
		return kvErr("set", err)
	}
	return nil
}

func (f *Fs) allocInode(ctx context.Context) (uint64, error) {
	sb, err := f.loadSuperblock(ctx)
	if err != nil {
		return 0, err
	}
	id := sb.NextInode
	sb.NextInode++
	if err := f.saveSuperblock(ctx, sb); err != nil {
		return 0, err
	}
	return id, nil
}

func (f *Fs) loadInode(ctx context.Context, id uint64) (*Inode, error) {
	data, found, err := f.store.Get(ctx, inodeKey(id))
	if err != nil {
		return nil, kvErr("get", err)
	}
	if !found {
		return nil, fs.NotFound(fmt.Sprintf("inode %d", id))
	}
	inode := new(Inode)
	if err := json.Unmarshal(data, inode); err != nil {
		return nil, fs.Internal(fmt.Sprintf("corrupt inode %d: %v", id, err))
	}
	return inode, nil
}

func (f *Fs) saveInode(ctx context.Context, inode *Inode) error {
	data, err := json.Marshal(inode)
	if err != nil {
		return fs.Internal(err.Error())
	}
	if err := f.store.Set(ctx, inodeKey(inode.ID), data); err != nil {
		return kvErr("set", err)
	}
	return nil
}

func (f *Fs) deleteInode(ctx context.Context, id uint64) error {
	if err := f.store.Delete(ctx, inodeKey(id)); err != nil {
		return kvErr("delete", err)
	}
	return nil
}

func (f *Fs) lookup(ctx context.Context, parent uint64, name string) (uint64, bool, error) {
	value, found, err := f.store.Get(ctx, dirEntryKey(parent, name))
	if err != nil {
		return 0, false, kvErr("get", err)
	}
	if !found {
		return 0, false, nil
	}
	child, err := decodeChild(value)
	if err != nil {
		return 0, false, fs.Internal(err.Error())
	}
	return child, true, nil
}

func (f *Fs) link(ctx context.Context, parent uint64, name string, child uint64) error {
	if err := f.store.Set(ctx, dirEntryKey(parent, name), encodeChild(child)); err != nil {
		return kvErr("set", err)
	}
	return nil
}

func (f *Fs) unlink(ctx context.Context, parent uint64, name string) error {
	if err := f.store.Delete(ctx, dirEntryKey(parent, name)); err != nil {
		return kvErr("delete", err)
	}
	return nil
}

func (f *Fs) listDir(ctx context.Context, parent uint64) ([]kv.Pair, error) {
	pairs, err := f.store.Scan(ctx, dirPrefix(parent))
	if err != nil {
		return nil, kvErr("scan", err)
	}
	return pairs, nil
}

func (f *Fs) readPage(ctx context.Context, inode, page uint64) ([]byte, bool, error) {
	data, found, err := f.store.Get(ctx, pageKey(inode, page))
	if err != nil {
		return nil, false, kvErr("get", err)
	}
	return data, found, nil
}

// writePage stores data as exactly PageSize bytes, zero padding short input.
func (f *Fs) writePage(ctx context.Context, inode, page uint64, data []byte) error {
	if len(data) < PageSize {
		padded := make([]byte, PageSize)
		copy(padded, data)
		data = padded
	}
	if err := f.store.Set(ctx, pageKey(inode, page), data); err != nil {
		return kvErr("set", err)
	}
	return nil
}

func (f *Fs) deletePages(ctx context.Context, inode uint64) error {
	pairs, err := f.store.Scan(ctx, pagePrefix(inode))
	if err != nil {
		return kvErr("scan", err)
	}
	for _, pair := range pairs {
		if err := f.store.Delete(ctx, pair.Key); err != nil {
			return kvErr("delete", err)
		}
	}
	return nil
}

func normalize(p string) string {
	if p == "" || p == "/" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return strings.TrimRight(p, "/")
}

func pagesNeeded(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	return (size + PageSize - 1) / PageSize
}

// resolvePath walks the directory index from the root inode.
func (f *Fs) resolvePath(ctx context.Context, p string) (uint64, *Inode, error) {
	p = normalize(p)
	if p == "/" {
		inode, err := f.loadInode(ctx, RootInode)
		if err != nil {
			return 0, nil, fs.Internal("root inode missing")
		}
		return RootInode, inode, nil
	}

	parts := strings.Split(strings.Trim(p, "/"), "/")
	current := uint64(RootInode)
	for i, part := range parts {
		child, found, err := f.lookup(ctx, current, part)
		if err != nil {
			return 0, nil, err
		}
		if !found {
			return 0, nil, fs.NotFound(p)
		}
		if i < len(parts)-1 {
			inode, err := f.loadInode(ctx, child)
			if err != nil {
				return 0, nil, fs.NotFound(p)
			}
			if !inode.isDir() {
				return 0, nil, fs.NotDirectory(part)
			}
		}
		current = child
	}

	inode, err := f.loadInode(ctx, current)
	if err != nil {
		return 0, nil, fs.NotFound(p)
	}
	return current, inode, nil
}

// resolveParent returns the parent directory's inode id and the final path
// segment.
func (f *Fs) resolveParent(ctx context.Context, p string) (uint64, string, error) {
	p = normalize(p)
	if p == "/" {
		return 0, "", fs.InvalidArgument("cannot get parent of root")
	}
	parentPath := path.Dir(p)
	name := path.Base(p)

	parentID, parentInode, err := f.resolvePath(ctx, parentPath)
	if err != nil {
		return 0, "", err
	}
	if !parentInode.isDir() {
		return 0, "", fs.NotDirectory(parentPath)
	}
	return parentID, name, nil
}

func (f *Fs) infoFor(p string, inode *Inode) fs.FileInfo {
	return fs.FileInfo{
		Path:  p,
		Size:  inode.Size,
		Type:  inode.fileType(),
		Mode:  inode.Mode,
		UID:   f.opt.UID,
		GID:   f.opt.GID,
		Atime: time.Unix(inode.Atime, 0).UTC(),
		Mtime: time.Unix(inode.Mtime, 0).UTC(),
		Ctime: time.Unix(inode.Ctime, 0).UTC(),
	}
}

// Stat implements fs.Provider.
func (f *Fs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	p = normalize(p)
	_, inode, err := f.resolvePath(ctx, p)
	if err != nil {
		return fs.FileInfo{}, err
	}
	return f.infoFor(p, inode), nil
}

// StatFS implements fs.Provider from the superblock.
func (f *Fs) StatFS(ctx context.Context, p string) (fs.FsStats, error) {
	sb, err := f.loadSuperblock(ctx)
	if err != nil {
		return fs.FsStats{}, err
	}
	return fs.FsStats{
		TotalBytes:  sb.TotalPages * uint64(sb.PageSize),
		FreeBytes:   (sb.TotalPages - sb.UsedPages) * uint64(sb.PageSize),
		TotalInodes: 1_000_000,
		FreeInodes:  1_000_000 - sb.NextInode,
		BlockSize:   sb.PageSize,
		MaxNameLen:  255,
	}, nil
}

// Open implements fs.Provider.
func (f *Fs) Open(ctx context.Context, p string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	p = normalize(p)

	var inodeID uint64
	if flags.Create {
		id, _, err := f.resolvePath(ctx, p)
		switch {
		case err == nil:
			inodeID = id
		case fs.IsNotFound(err):
			id, err = f.create(ctx, p, flags.Directory)
			if err != nil {
				return 0, fs.FileInfo{}, err
			}
			inodeID = id
		default:
			return 0, fs.FileInfo{}, err
		}
	} else {
		id, _, err := f.resolvePath(ctx, p)
		if err != nil {
			return 0, fs.FileInfo{}, err
		}
		inodeID = id
	}

	if flags.Truncate {
		if err := f.truncateToZero(ctx, inodeID); err != nil {
			return 0, fs.FileInfo{}, err
		}
	}

	inode, err := f.loadInode(ctx, inodeID)
	if err != nil {
		return 0, fs.FileInfo{}, err
	}

	f.hmu.Lock()
	f.nextHandle++
	h := fs.Handle(f.nextHandle)
	f.handles[h] = &handleState{inode: inodeID, path: p, flags: flags}
	f.hmu.Unlock()

	return h, f.infoFor(p, inode), nil
}

// create allocates an inode, seeds its first zero page for files, and links
// it into the parent directory.
func (f *Fs) create(ctx context.Context, p string, directory bool) (uint64, error) {
	parentID, name, err := f.resolveParent(ctx, p)
	if err != nil {
		return 0, err
	}
	id, err := f.allocInode(ctx)
	if err != nil {
		return 0, err
	}

	var inode *Inode
	if directory {
		inode = newDirInode(id, 0o755)
	} else {
		inode = newFileInode(id, 0o644)
		inode.PageCount = 1
		if err := f.writePage(ctx, id, 0, nil); err != nil {
			return 0, err
		}
		if err := f.adjustUsedPages(ctx, 1); err != nil {
			return 0, err
		}
	}
	if err := f.saveInode(ctx, inode); err != nil {
		return 0, err
	}
	if err := f.link(ctx, parentID, name, id); err != nil {
		return 0, err
	}
	return id, nil
}

func (f *Fs) adjustUsedPages(ctx context.Context, delta int64) error {
	sb, err := f.loadSuperblock(ctx)
	if err != nil {
		return err
	}
	if delta < 0 && sb.UsedPages < uint64(-delta) {
		sb.UsedPages = 0
	} else {
		sb.UsedPages = uint64(int64(sb.UsedPages) + delta)
	}
	return f.saveSuperblock(ctx, sb)
}

func (f *Fs) truncateToZero(ctx context.Context, inodeID uint64) error {
	inode, err := f.loadInode(ctx, inodeID)
	if err != nil {
		return err
	}
	if inode.isDir() {
		return nil
	}
	oldPages := int64(inode.PageCount)
	if err := f.deletePages(ctx, inodeID); err != nil {
		return err
	}
	inode.Size = 0
	inode.PageCount = 1
	if err := f.writePage(ctx, inodeID, 0, nil); err != nil {
		return err
	}
	if err := f.adjustUsedPages(ctx, 1-oldPages); err != nil {
		return err
	}
	inode.touchMtime()
	return f.saveInode(ctx, inode)
}

func (f *Fs) handleFor(h fs.Handle) (*handleState, error) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	state, ok := f.handles[h]
	if !ok {
		return nil, fs.InvalidHandle(h)
	}
	// copy so callers hold no reference into the locked map
	out := *state
	return &out, nil
}

// Read implements fs.Provider. Missing pages read as zeros (the sparse
// case); the result is bounded by current size.
func (f *Fs) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	state, err := f.handleFor(h)
	if err != nil {
		return nil, err
	}
	inode, err := f.loadInode(ctx, state.inode)
	if err != nil {
		return nil, fs.NotFound(state.path)
	}
	if inode.isDir() {
		return nil, fs.IsDirectoryErr(state.path)
	}

	if offset >= inode.Size {
		return nil, nil
	}
	readEnd := offset + uint64(size)
	if readEnd > inode.Size {
		readEnd = inode.Size
	}
	total := int(readEnd - offset)

	result := make([]byte, total)
	read := 0
	current := offset
	for read < total {
		pageNum := current / PageSize
		pageOffset := int(current % PageSize)
		n := PageSize - pageOffset
		if n > total-read {
			n = total - read
		}
		page, found, err := f.readPage(ctx, state.inode, pageNum)
		if err != nil {
			return nil, err
		}
		if found {
			avail := len(page) - pageOffset
			if avail > 0 {
				copy(result[read:read+min(n, avail)], page[pageOffset:])
			}
		}
		read += n
		current += uint64(n)
	}

	inode.touchAtime()
	if err := f.saveInode(ctx, inode); err != nil {
		return nil, err
	}
	return result, nil
}

// Write implements fs.Provider. The handle-map lock is held for the whole
// read-modify-write cycle so concurrent writes to one inode serialize.
func (f *Fs) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	f.hmu.Lock()
	defer f.hmu.Unlock()

	state, ok := f.handles[h]
	if !ok {
		return 0, fs.InvalidHandle(h)
	}
	inode, err := f.loadInode(ctx, state.inode)
	if err != nil {
		return 0, fs.NotFound(state.path)
	}
	if inode.isDir() {
		return 0, fs.IsDirectoryErr(state.path)
	}

	writeOffset := offset
	if state.flags.Append {
		writeOffset = inode.Size
	}

	written := 0
	current := writeOffset
	for written < len(data) {
		pageNum := current / PageSize
		pageOffset := int(current % PageSize)
		n := PageSize - pageOffset
		if n > len(data)-written {
			n = len(data) - written
		}

		page, found, err := f.readPage(ctx, state.inode, pageNum)
		if err != nil {
			return written, err
		}
		if !found || len(page) < PageSize {
			full := make([]byte, PageSize)
			copy(full, page)
			page = full
		}
		copy(page[pageOffset:pageOffset+n], data[written:written+n])
		if err := f.writePage(ctx, state.inode, pageNum, page); err != nil {
			return written, err
		}

		written += n
		current += uint64(n)
	}

	newSize := writeOffset + uint64(len(data))
	if newSize > inode.Size {
		inode.Size = newSize
		newPages := pagesNeeded(newSize)
		if newPages < 1 {
			newPages = 1
		}
		if newPages != inode.PageCount {
			if err := f.adjustUsedPages(ctx, int64(newPages)-int64(inode.PageCount)); err != nil {
				return written, err
			}
			inode.PageCount = newPages
		}
	}
	inode.touchMtime()
	if err := f.saveInode(ctx, inode); err != nil {
		return written, err
	}
	return len(data), nil
}

// Close implements fs.Provider. All writes go straight to the KV store so
// sync has nothing extra to flush.
func (f *Fs) Close(ctx context.Context, h fs.Handle, sync bool) error {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	if _, ok := f.handles[h]; !ok {
		return fs.InvalidHandle(h)
	}
	delete(f.handles, h)
	return nil
}

// ReadDir implements fs.Provider.
func (f *Fs) ReadDir(ctx context.Context, p string) ([]fs.FileInfo, error) {
	p = normalize(p)
	inodeID, inode, err := f.resolvePath(ctx, p)
	if err != nil {
		return nil, err
	}
	if !inode.isDir() {
		return nil, fs.NotDirectory(p)
	}

	pairs, err := f.listDir(ctx, inodeID)
	if err != nil {
		return nil, err
	}

	entries := make([]fs.FileInfo, 0, len(pairs))
	for _, pair := range pairs {
		_, name, err := decodeDirEntryKey(pair.Key)
		if err != nil {
			continue
		}
		childID, err := decodeChild(pair.Value)
		if err != nil {
			continue
		}
		child, err := f.loadInode(ctx, childID)
		if err != nil {
			continue
		}
		childPath := p + "/" + name
		if p == "/" {
			childPath = "/" + name
		}
		entries = append(entries, f.infoFor(childPath, child))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Remove implements fs.Provider. Directories must be empty; files drop all
// their pages.
func (f *Fs) Remove(ctx context.Context, p string) error {
	p = normalize(p)
	if p == "/" {
		return fs.PermissionDenied("cannot remove root")
	}

	inodeID, inode, err := f.resolvePath(ctx, p)
	if err != nil {
		return err
	}

	if inode.isDir() {
		children, err := f.listDir(ctx, inodeID)
		if err != nil {
			return err
		}
		if len(children) > 0 {
			return fs.DirectoryNotEmpty(p)
		}
	} else {
		if err := f.deletePages(ctx, inodeID); err != nil {
			return err
		}
		if err := f.adjustUsedPages(ctx, -int64(inode.PageCount)); err != nil {
			return err
		}
	}

	parentID, name, err := f.resolveParent(ctx, p)
	if err != nil {
		return err
	}
	if err := f.unlink(ctx, parentID, name); err != nil {
		return err
	}
	return f.deleteInode(ctx, inodeID)
}

// WStat implements fs.Provider.
func (f *Fs) WStat(ctx context.Context, p string, changes fs.StatChanges) error {
	p = normalize(p)

	if changes.SymlinkTarget != nil {
		return fs.NotImplemented("symlink")
	}
	if changes.Name != nil {
		return f.rename(ctx, p, *changes.Name)
	}

	inodeID, inode, err := f.resolvePath(ctx, p)
	if err != nil {
		return err
	}

	if changes.Mode != nil {
		inode.Mode = *changes.Mode
	}

	if changes.Size != nil {
		if inode.isDir() {
			return fs.IsDirectoryErr(p)
		}
		if err := f.resize(ctx, inodeID, inode, *changes.Size); err != nil {
			return err
		}
	}

	if changes.Atime != nil {
		inode.Atime = changes.Atime.Unix()
	}
	if changes.Mtime != nil {
		inode.Mtime = changes.Mtime.Unix()
	} else {
		inode.touchMtime()
	}

	return f.saveInode(ctx, inode)
}

// resize truncates or extends the file to newSize, dropping or zero filling
// whole pages and zeroing the tail of the new last page on shrink.
func (f *Fs) resize(ctx context.Context, inodeID uint64, inode *Inode, newSize uint64) error {
	f.hmu.Lock()
	defer f.hmu.Unlock()

	oldPages := inode.PageCount
	newPages := pagesNeeded(newSize)
	if newPages < 1 {
		newPages = 1
	}

	if newPages < oldPages {
		for pageNum := newPages; pageNum < oldPages; pageNum++ {
			if err := f.store.Delete(ctx, pageKey(inodeID, pageNum)); err != nil {
				return kvErr("delete", err)
			}
		}
	} else if newPages > oldPages {
		for pageNum := oldPages; pageNum < newPages; pageNum++ {
			if err := f.writePage(ctx, inodeID, pageNum, nil); err != nil {
				return err
			}
		}
	}

	if newSize < inode.Size {
		tail := int(newSize % PageSize)
		if tail > 0 {
			lastPage := newPages - 1
			page, found, err := f.readPage(ctx, inodeID, lastPage)
			if err != nil {
				return err
			}
			if found {
				for i := tail; i < len(page); i++ {
					page[i] = 0
				}
				if err := f.writePage(ctx, inodeID, lastPage, page); err != nil {
					return err
				}
			}
		}
	}

	if newPages != oldPages {
		if err := f.adjustUsedPages(ctx, int64(newPages)-int64(oldPages)); err != nil {
			return err
		}
	}
	inode.Size = newSize
	inode.PageCount = newPages
	return nil
}

// rename moves the directory entry, replacing a compatible destination.
// Cross-mount renames never reach pagefs; the router rejects them first.
func (f *Fs) rename(ctx context.Context, oldPath, newName string) error {
	newPath := newName
	if !strings.HasPrefix(newName, "/") {
		parent := path.Dir(oldPath)
		newPath = path.Join(parent, newName)
	}
	newPath = normalize(newPath)
	if oldPath == newPath {
		return nil
	}

	srcID, srcInode, err := f.resolvePath(ctx, oldPath)
	if err != nil {
		return err
	}

	if dstID, dstInode, err := f.resolvePath(ctx, newPath); err == nil {
		if dstInode.isDir() {
			if !srcInode.isDir() {
				return fs.IsDirectoryErr(newPath)
			}
			children, err := f.listDir(ctx, dstID)
			if err != nil {
				return err
			}
			if len(children) > 0 {
				return fs.DirectoryNotEmpty(newPath)
			}
		} else if srcInode.isDir() {
			return fs.NotDirectory(newPath)
		}
		if !dstInode.isDir() {
			if err := f.deletePages(ctx, dstID); err != nil {
				return err
			}
			if err := f.adjustUsedPages(ctx, -int64(dstInode.PageCount)); err != nil {
				return err
			}
		}
		if err := f.deleteInode(ctx, dstID); err != nil {
			return err
		}
	} else if !fs.IsNotFound(err) {
		return err
	}

	oldParent, oldName, err := f.resolveParent(ctx, oldPath)
	if err != nil {
		return err
	}
	if err := f.unlink(ctx, oldParent, oldName); err != nil {
		return err
	}
	newParent, newEntryName, err := f.resolveParent(ctx, newPath)
	if err != nil {
		return err
	}
	return f.link(ctx, newParent, newEntryName, srcID)
}

// Capabilities implements fs.Provider.
func (f *Fs) Capabilities() fs.Capabilities {
	return fs.CapBasicRW | fs.CapTruncate | fs.CapRename | fs.CapChmod | fs.CapUtime
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// check interface
var _ fs.Provider = (*Fs)(nil)
