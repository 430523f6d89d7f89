// Package streamfs provides append-only broadcast streams. Multiple writers
// append chunks, multiple readers consume independently, and a ring buffer
// of recent chunks serves late joiners.
package streamfs

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/fs9fs/fs9/fs"
)

// DefaultRingSize is how many recent chunks a stream retains for late
// joining readers.
const DefaultRingSize = 100

const readmeName = "README.txt"

const readmeContent = `StreamFS - streaming files

Files here are append-only streams. Writers append chunks; readers consume
them independently, each from its own cursor. A ring buffer of recent
chunks serves readers that join late. Offsets are advisory: reads always
return the next unread chunk. Data is memory only and not persistent.
`

// Register with fs
func init() {
	fs.Register(&fs.RegInfo{
		Name:        "streamfs",
		Description: "In memory broadcast streams",
		NewProvider: NewProvider,
	})
}

// Options is the mount config for streamfs.
type Options struct {
	// RingSize overrides the per-stream chunk retention.
	RingSize int `mapstructure:"ring_size"`
}

// stream is one append-only broadcast file.
type stream struct {
	mu       sync.Mutex
	name     string
	ring     [][]byte
	ringSize int
	start    uint64 // absolute index of ring[0]
	total    uint64 // chunks ever appended
	written  uint64 // bytes ever appended
	closed   bool
	mtime    time.Time
	notify   chan struct{} // closed and replaced on every append
}

func newStream(name string, ringSize int) *stream {
	return &stream{
		name:     name,
		ringSize: ringSize,
		mtime:    time.Now(),
		notify:   make(chan struct{}),
	}
}

func (s *stream) info(path string) fs.FileInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fs.FileInfo{
		Path:  path,
		Size:  s.written,
		Type:  fs.TypeRegular,
		Mode:  0o644,
		Atime: s.mtime,
		Mtime: s.mtime,
		Ctime: s.mtime,
		ETag:  fmt.Sprintf("stream-%d", s.total),
	}
}

// append adds one chunk and wakes every waiting reader.
func (s *stream) append(data []byte) {
	chunk := make([]byte, len(data))
	copy(chunk, data)

	s.mu.Lock()
	s.ring = append(s.ring, chunk)
	if len(s.ring) > s.ringSize {
		drop := len(s.ring) - s.ringSize
		s.ring = s.ring[drop:]
		s.start += uint64(drop)
	}
	s.total++
	s.written += uint64(len(data))
	s.mtime = time.Now()
	notify := s.notify
	s.notify = make(chan struct{})
	s.mu.Unlock()

	close(notify)
}

// next returns the chunk at the reader cursor, advancing past dropped
// history. ok=false means the cursor is at the head and the caller should
// wait on the returned channel.
func (s *stream) next(cursor uint64) (chunk []byte, newCursor uint64, dropped uint64, wait chan struct{}, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cursor < s.start {
		dropped = s.start - cursor
		cursor = s.start
	}
	if cursor >= s.total {
		return nil, cursor, dropped, s.notify, false
	}
	return s.ring[cursor-s.start], cursor + 1, dropped, nil, true
}

type handleState struct {
	name   string
	flags  fs.OpenFlags
	cursor uint64
}

// Fs is a flat namespace of streams plus a synthetic README.
type Fs struct {
	ringSize   int
	mu         sync.RWMutex
	streams    map[string]*stream
	hmu        sync.Mutex
	handles    map[fs.Handle]*handleState
	nextHandle atomic.Uint64
}

// NewFs makes an empty stream filesystem.
func NewFs(ringSize int) *Fs {
	if ringSize <= 0 {
		ringSize = DefaultRingSize
	}
	return &Fs{
		ringSize: ringSize,
		streams:  make(map[string]*stream),
		handles:  make(map[fs.Handle]*handleState),
	}
}

// NewProvider instantiates the backend from a mount config.
func NewProvider(ctx context.Context, config map[string]interface{}) (fs.Provider, error) {
	var opt Options
	if err := mapstructure.WeakDecode(config, &opt); err != nil {
		return nil, fs.InvalidArgument(fmt.Sprintf("bad streamfs config: %v", err))
	}
	return NewFs(opt.RingSize), nil
}

// String implements fmt.Stringer for logging.
func (f *Fs) String() string { return "streamfs" }

// streamName maps a provider path to a stream key. Streams live flat under
// the root.
func streamName(p string) (string, error) {
	name := strings.Trim(p, "/")
	if name == "" || strings.Contains(name, "/") {
		return "", fs.InvalidArgument("streams live directly under the mount root")
	}
	return name, nil
}

// Stat implements fs.Provider.
func (f *Fs) Stat(ctx context.Context, p string) (fs.FileInfo, error) {
	if p == "/" || p == "" {
		now := time.Now()
		return fs.FileInfo{Path: "/", Type: fs.TypeDirectory, Mode: 0o755, Atime: now, Mtime: now, Ctime: now}, nil
	}
	name, err := streamName(p)
	if err != nil {
		return fs.FileInfo{}, err
	}
	if name == readmeName {
		now := time.Now()
		return fs.FileInfo{Path: p, Size: uint64(len(readmeContent)), Type: fs.TypeRegular,
			Mode: 0o444, Atime: now, Mtime: now, Ctime: now}, nil
	}
	f.mu.RLock()
	s, ok := f.streams[name]
	f.mu.RUnlock()
	if !ok {
		return fs.FileInfo{}, fs.NotFound(p)
	}
	return s.info(p), nil
}

// WStat implements fs.Provider. Streams have no mutable metadata.
func (f *Fs) WStat(ctx context.Context, p string, changes fs.StatChanges) error {
	if changes.Empty() {
		return nil
	}
	return fs.NotImplemented("wstat on streams")
}

// StatFS implements fs.Provider with synthetic numbers.
func (f *Fs) StatFS(ctx context.Context, p string) (fs.FsStats, error) {
	f.mu.RLock()
	streams := uint64(len(f.streams))
	f.mu.RUnlock()
	const total = 1 << 32
	return fs.FsStats{
		TotalBytes:  total,
		FreeBytes:   total,
		TotalInodes: 65536,
		FreeInodes:  65536 - streams,
		BlockSize:   4096,
		MaxNameLen:  255,
	}, nil
}

// Open implements fs.Provider. Create touches the stream into existence;
// readers start at the oldest retained chunk.
func (f *Fs) Open(ctx context.Context, p string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	name, err := streamName(p)
	if err != nil {
		return 0, fs.FileInfo{}, err
	}

	var info fs.FileInfo
	var cursor uint64
	if name == readmeName {
		if flags.Write {
			return 0, fs.FileInfo{}, fs.PermissionDenied(p)
		}
		info, _ = f.Stat(ctx, p)
	} else {
		f.mu.Lock()
		s, ok := f.streams[name]
		if !ok {
			if !flags.Create {
				f.mu.Unlock()
				return 0, fs.FileInfo{}, fs.NotFound(p)
			}
			s = newStream(name, f.ringSize)
			f.streams[name] = s
		}
		f.mu.Unlock()
		s.mu.Lock()
		cursor = s.start
		s.mu.Unlock()
		info = s.info(p)
	}

	h := fs.Handle(f.nextHandle.Add(1))
	f.hmu.Lock()
	f.handles[h] = &handleState{name: name, flags: flags, cursor: cursor}
	f.hmu.Unlock()
	return h, info, nil
}

func (f *Fs) handleFor(h fs.Handle) (*handleState, error) {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	state, ok := f.handles[h]
	if !ok {
		return nil, fs.InvalidHandle(h)
	}
	return state, nil
}

// Read implements fs.Provider. The offset is advisory: each handle owns a
// chunk cursor and reads block until data arrives or the context ends.
func (f *Fs) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	state, err := f.handleFor(h)
	if err != nil {
		return nil, err
	}

	if state.name == readmeName {
		content := []byte(readmeContent)
		if offset >= uint64(len(content)) {
			return nil, nil
		}
		end := offset + uint64(size)
		if end > uint64(len(content)) {
			end = uint64(len(content))
		}
		return content[offset:end], nil
	}

	f.mu.RLock()
	s, ok := f.streams[state.name]
	f.mu.RUnlock()
	if !ok {
		return nil, fs.NotFound(state.name)
	}

	for {
		chunk, newCursor, dropped, wait, ok := s.next(state.cursor)
		if ok {
			if dropped > 0 {
				fs.Debugf(f, "reader on %q skipped %d dropped chunks", state.name, dropped)
			}
			f.hmu.Lock()
			state.cursor = newCursor
			f.hmu.Unlock()
			if size > 0 && len(chunk) > size {
				chunk = chunk[:size]
			}
			return chunk, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return nil, nil
		}

		select {
		case <-wait:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Write implements fs.Provider. Streams are append-only so offset is
// ignored.
func (f *Fs) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	state, err := f.handleFor(h)
	if err != nil {
		return 0, err
	}
	if state.name == readmeName {
		return 0, fs.PermissionDenied(readmeName)
	}
	f.mu.RLock()
	s, ok := f.streams[state.name]
	f.mu.RUnlock()
	if !ok {
		return 0, fs.NotFound(state.name)
	}
	if len(data) == 0 {
		return 0, nil
	}
	s.append(data)
	return len(data), nil
}

// Close implements fs.Provider.
func (f *Fs) Close(ctx context.Context, h fs.Handle, sync bool) error {
	f.hmu.Lock()
	defer f.hmu.Unlock()
	if _, ok := f.handles[h]; !ok {
		return fs.InvalidHandle(h)
	}
	delete(f.handles, h)
	return nil
}

// ReadDir implements fs.Provider. Only the root is a directory.
func (f *Fs) ReadDir(ctx context.Context, p string) ([]fs.FileInfo, error) {
	if p != "/" && p != "" {
		return nil, fs.NotDirectory(p)
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	entries := make([]fs.FileInfo, 0, len(f.streams)+1)
	now := time.Now()
	entries = append(entries, fs.FileInfo{
		Path: "/" + readmeName, Size: uint64(len(readmeContent)),
		Type: fs.TypeRegular, Mode: 0o444, Atime: now, Mtime: now, Ctime: now,
	})
	for name, s := range f.streams {
		entries = append(entries, s.info("/"+name))
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// Remove implements fs.Provider. Removing a stream wakes its readers with
// EOF.
func (f *Fs) Remove(ctx context.Context, p string) error {
	name, err := streamName(p)
	if err != nil {
		return err
	}
	if name == readmeName {
		return fs.PermissionDenied(readmeName)
	}
	f.mu.Lock()
	s, ok := f.streams[name]
	if ok {
		delete(f.streams, name)
	}
	f.mu.Unlock()
	if !ok {
		return fs.NotFound(p)
	}
	s.mu.Lock()
	s.closed = true
	notify := s.notify
	s.notify = make(chan struct{})
	s.mu.Unlock()
	close(notify)
	return nil
}

// Capabilities implements fs.Provider.
func (f *Fs) Capabilities() fs.Capabilities {
	return fs.CapQueueLike | fs.CapStreaming | fs.CapAppend
}

// check interface
var _ fs.Provider = (*Fs)(nil)
