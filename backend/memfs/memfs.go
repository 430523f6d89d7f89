// Package memfs provides an in-memory filesystem backend.
package memfs

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fs9fs/fs9/fs"
)

// Register with fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "memfs",
		Description: "In memory filesystem",
		NewProvider: NewProvider,
	})
}

// node is one entry in the tree. Directories carry no data.
type node struct {
	typ    fs.FileType
	mode   uint32
	uid    uint32
	gid    uint32
	atime  time.Time
	mtime  time.Time
	ctime  time.Time
	data   []byte
	version uint64
}

func (n *node) isDir() bool { return n.typ == fs.TypeDirectory }

type handleState struct {
	path  string
	flags fs.OpenFlags
}

// Fs is an in-memory provider. All entries live in a single path-keyed map
// guarded by one RWMutex; the root directory always exists.
type Fs struct {
	mu         sync.RWMutex
	nodes      map[string]*node
	handles    map[fs.Handle]*handleState
	nextHandle atomic.Uint64
}

// NewFs makes an empty in-memory filesystem.
func NewFs() *Fs {
	now := time.Now()
	return &Fs{
		nodes: map[string]*node{
			"/": {typ: fs.TypeDirectory, mode: 0o755, atime: now, mtime: now, ctime: now},
		},
		handles: make(map[fs.Handle]*handleState),
	}
}

// NewProvider instantiates the backend from a mount config.
func NewProvider(ctx context.Context, config map[string]interface{}) (fs.Provider, error) {
	return NewFs(), nil
}

// String implements fmt.Stringer for logging.
func (f *Fs) String() string { return "memfs" }

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

func parentOf(p string) string {
	parent := path.Dir(p)
	if parent == "." {
		return "/"
	}
	return parent
}

func (f *Fs) infoFor(p string, n *node) fs.FileInfo {
	return fs.FileInfo{
		Path:  p,
		Size:  uint64(len(n.data)),
		Type:  n.typ,
		Mode:  n.mode,
		UID:   n.uid,
		GID:   n.gid,
		Atime: n.atime,
		Mtime: n.mtime,
		Ctime: n.ctime,
		ETag:  fmt.Sprintf("%d", n.version),
	}
}

// Stat implements fs.Provider.
func (f *Fs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	p = normalize(p)
	f.mu.RLock()
	defer f.mu.RUnlock()
	n, ok := f.nodes[p]
	if !ok {
		return fs.FileInfo{}, fs.NotFound(p)
	}
	return f.infoFor(p, n), nil
}

// WStat implements fs.Provider.
func (f *Fs) WStat(ctx context.Context, p string, changes fs.StatChanges) error {
	p = normalize(p)

	if changes.SymlinkTarget != nil {
		return fs.NotImplemented("symlink")
	}
	if changes.Name != nil {
		return f.rename(p, *changes.Name)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.nodes[p]
	if !ok {
		return fs.NotFound(p)
	}
	if changes.Mode != nil {
		n.mode = *changes.Mode
	}
	if changes.UID != nil {
		n.uid = *changes.UID
	}
	if changes.GID != nil {
		n.gid = *changes.GID
	}
	if changes.Size != nil {
		if n.isDir() {
			return fs.IsDirectoryErr(p)
		}
		newSize := int(*changes.Size)
		if newSize <= len(n.data) {
			n.data = n.data[:newSize]
		} else {
			n.data = append(n.data, make([]byte, newSize-len(n.data))...)
		}
		n.version++
	}
	if changes.Atime != nil {
		n.atime = *changes.Atime
	}
	if changes.Mtime != nil {
		n.mtime = *changes.Mtime
	} else {
		n.mtime = time.Now()
	}
	return nil
}

func (f *Fs) rename(oldPath, newName string) error {
	newPath := newName
	if !strings.HasPrefix(newName, "/") {
		newPath = path.Join(parentOf(oldPath), newName)
	}
	newPath = normalize(newPath)
	if oldPath == newPath {
		return nil
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	src, ok := f.nodes[oldPath]
	if !ok {
		return fs.NotFound(oldPath)
	}
	if parent, ok := f.nodes[parentOf(newPath)]; !ok {
		return fs.NotFound(parentOf(newPath))
	} else if !parent.isDir() {
		return fs.NotDirectory(parentOf(newPath))
	}

	if dst, ok := f.nodes[newPath]; ok {
		if dst.isDir() {
			if !src.isDir() {
				return fs.IsDirectoryErr(newPath)
			}
			if f.hasChildrenLocked(newPath) {
				return fs.DirectoryNotEmpty(newPath)
			}
		} else if src.isDir() {
			return fs.NotDirectory(newPath)
		}
		delete(f.nodes, newPath)
	}

	delete(f.nodes, oldPath)
	f.nodes[newPath] = src

	// a directory rename drags its descendants along
	if src.isDir() {
		oldPrefix := oldPath + "/"
		var moves [][2]string
		for p := range f.nodes {
			if strings.HasPrefix(p, oldPrefix) {
				moves = append(moves, [2]string{p, newPath + "/" + p[len(oldPrefix):]})
			}
		}
		for _, mv := range moves {
			f.nodes[mv[1]] = f.nodes[mv[0]]
			delete(f.nodes, mv[0])
		}
	}

	// handles follow the entry they were opened on
	for _, h := range f.handles {
		if h.path == oldPath {
			h.path = newPath
		} else if src.isDir() && strings.HasPrefix(h.path, oldPath+"/") {
			h.path = newPath + "/" + h.path[len(oldPath)+1:]
		}
	}
	return nil
}

// StatFS implements fs.Provider with synthetic capacity numbers.
func (f *Fs) StatFS(ctx context.Context, p string) (fs.FsStats, error) {
	f.mu.RLock()
	var used uint64
	for _, n := range f.nodes {
		used += uint64(len(n.data))
	}
	inodes := uint64(len(f.nodes))
	f.mu.RUnlock()

	const total = 1 << 40
	return fs.FsStats{
		TotalBytes:  total,
		FreeBytes:   total - used,
		TotalInodes: 1_000_000,
		FreeInodes:  1_000_000 - inodes,
		BlockSize:   4096,
		MaxNameLen:  255,
	}, nil
}

// Open implements fs.Provider.
func (f *Fs) Open(ctx context.Context, p string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	p = normalize(p)

	f.mu.Lock()
	defer f.mu.Unlock()

	n, exists := f.nodes[p]
	if !exists {
		if !flags.Create {
			return 0, fs.FileInfo{}, fs.NotFound(p)
		}
		parent, ok := f.nodes[parentOf(p)]
		if !ok {
			return 0, fs.FileInfo{}, fs.NotFound(parentOf(p))
		}
		if !parent.isDir() {
			return 0, fs.FileInfo{}, fs.NotDirectory(parentOf(p))
		}
		now := time.Now()
		n = &node{typ: fs.TypeRegular, mode: 0o644, atime: now, mtime: now, ctime: now}
		if flags.Directory {
			n.typ = fs.TypeDirectory
			n.mode = 0o755
		}
		f.nodes[p] = n
	}

	if flags.Truncate && !n.isDir() {
		n.data = nil
		n.mtime = time.Now()
		n.version++
	}

	h := fs.Handle(f.nextHandle.Add(1))
	f.handles[h] = &handleState{path: p, flags: flags}
	return h, f.infoFor(p, n), nil
}

func (f *Fs) handleNode(h fs.Handle) (*handleState, *node, error) {
	state, ok := f.handles[h]
	if !ok {
		return nil, nil, fs.InvalidHandle(h)
	}
	n, ok := f.nodes[state.path]
	if !ok {
		return nil, nil, fs.NotFound(state.path)
	}
	return state, n, nil
}

// Read implements fs.Provider.
func (f *Fs) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, n, err := f.handleNode(h)
	if err != nil {
		return nil, err
	}
	if n.isDir() {
		return nil, fs.IsDirectoryErr(state.path)
	}
	if offset >= uint64(len(n.data)) {
		return nil, nil
	}
	end := offset + uint64(size)
	if end > uint64(len(n.data)) {
		end = uint64(len(n.data))
	}
	out := make([]byte, end-offset)
	copy(out, n.data[offset:end])
	n.atime = time.Now()
	return out, nil
}

// Write implements fs.Provider.
func (f *Fs) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	state, n, err := f.handleNode(h)
	if err != nil {
		return 0, err
	}
	if n.isDir() {
		return 0, fs.IsDirectoryErr(state.path)
	}

	if state.flags.Append {
		offset = uint64(len(n.data))
	}
	end := offset + uint64(len(data))
	if end > uint64(len(n.data)) {
		grown := make([]byte, end)
		copy(grown, n.data)
		n.data = grown
	}
	copy(n.data[offset:end], data)
	n.mtime = time.Now()
	n.version++
	return len(data), nil
}

// Close implements fs.Provider. There is nothing to flush, so sync is a
// no-op.
func (f *Fs) Close(ctx context.Context, h fs.Handle, sync bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.handles[h]; !ok {
		return fs.InvalidHandle(h)
	}
	delete(f.handles, h)
	return nil
}

func (f *Fs) hasChildrenLocked(p string) bool {
	prefix := p + "/"
	if p == "/" {
		prefix = "/"
	}
	for other := range f.nodes {
		if other != p && strings.HasPrefix(other, prefix) {
			return true
		}
	}
	return false
}

// ReadDir implements fs.Provider.
func (f *Fs) ReadDir(ctx context.Context, p string) ([]fs.FileInfo, error) {
	p = normalize(p)
	f.mu.RLock()
	defer f.mu.RUnlock()

	dir, ok := f.nodes[p]
	if !ok {
		return nil, fs.NotFound(p)
	}
	if !dir.isDir() {
		return nil, fs.NotDirectory(p)
	}

	var entries []fs.FileInfo
	for other, n := range f.nodes {
		if other == p || parentOf(other) != p {
			continue
		}
		entries = append(entries, f.infoFor(other, n))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Remove implements fs.Provider.
func (f *Fs) Remove(ctx context.Context, p string) error {
	p = normalize(p)
	if p == "/" {
		return fs.PermissionDenied("cannot remove root")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	n, ok := f.nodes[p]
	if !ok {
		return fs.NotFound(p)
	}
	if n.isDir() && f.hasChildrenLocked(p) {
		return fs.DirectoryNotEmpty(p)
	}
	delete(f.nodes, p)
	return nil
}

// Capabilities implements fs.Provider. Symlinks are deliberately absent.
func (f *Fs) Capabilities() fs.Capabilities {
	return fs.CapBasicRW | fs.CapRename | fs.CapTruncate | fs.CapChmod |
		fs.CapChown | fs.CapUtime | fs.CapRandomWrite | fs.CapAppend
}

// check interface
var _ fs.Provider = (*Fs)(nil)
