package vfs

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fs9fs/fs9/fs"
)

// DefaultHandleTTL is how long an untouched handle survives before the
// sweeper reclaims it.
const DefaultHandleTTL = 5 * time.Minute

// HandleState is the registry's record of one open handle. The provider
// reference keeps the backend alive even after its mount is detached.
type HandleState struct {
	Provider       fs.Provider
	Path           string
	Flags          fs.OpenFlags
	CreatedAt      time.Time
	Info           fs.FileInfo
	ProviderHandle fs.Handle

	accessMu   sync.Mutex
	lastAccess time.Time
}

// LastAccess returns the last touch time.
func (s *HandleState) LastAccess() time.Time {
	s.accessMu.Lock()
	defer s.accessMu.Unlock()
	return s.lastAccess
}

func (s *HandleState) touch(now time.Time) {
	s.accessMu.Lock()
	s.lastAccess = now
	s.accessMu.Unlock()
}

// HandleInfo is the listing form of a handle.
type HandleInfo struct {
	ID         uint64       `json:"id"`
	Path       string       `json:"path"`
	Flags      fs.OpenFlags `json:"flags"`
	CreatedAt  time.Time    `json:"created_at"`
	LastAccess time.Time    `json:"last_access"`
}

// HandleRegistry owns the server-side handles of one namespace. Ids are
// monotonic and never reused within a process lifetime.
type HandleRegistry struct {
	mu      sync.RWMutex
	handles map[uint64]*HandleState
	nextID  atomic.Uint64
	ttl     time.Duration
}

// NewHandleRegistry makes a registry with the given idle TTL.
func NewHandleRegistry(ttl time.Duration) *HandleRegistry {
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}
	return &HandleRegistry{
		handles: make(map[uint64]*HandleState),
		ttl:     ttl,
	}
}

// Register records a freshly opened provider handle and returns the
// registry id for it.
func (r *HandleRegistry) Register(provider fs.Provider, path string, flags fs.OpenFlags, info fs.FileInfo, providerHandle fs.Handle) uint64 {
	id := r.nextID.Add(1)
	now := time.Now()
	state := &HandleState{
		Provider:       provider,
		Path:           path,
		Flags:          flags,
		CreatedAt:      now,
		Info:           info,
		ProviderHandle: providerHandle,
		lastAccess:     now,
	}
	r.mu.Lock()
	r.handles[id] = state
	r.mu.Unlock()
	return id
}

// WithHandle touches the handle's last access time and invokes f on its
// state under the registry read lock.
func (r *HandleRegistry) WithHandle(id uint64, f func(*HandleState) error) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.handles[id]
	if !ok {
		return fs.InvalidHandle(fs.Handle(id))
	}
	state.touch(time.Now())
	return f(state)
}

// Get returns the state for id, touching its last access time.
func (r *HandleRegistry) Get(id uint64) (*HandleState, bool) {
	r.mu.RLock()
	state, ok := r.handles[id]
	r.mu.RUnlock()
	if ok {
		state.touch(time.Now())
	}
	return state, ok
}

// Close removes the handle and closes it on its provider.
func (r *HandleRegistry) Close(ctx context.Context, id uint64, sync bool) error {
	r.mu.Lock()
	state, ok := r.handles[id]
	if ok {
		delete(r.handles, id)
	}
	r.mu.Unlock()
	if !ok {
		return fs.InvalidHandle(fs.Handle(id))
	}
	return state.Provider.Close(ctx, state.ProviderHandle, sync)
}

// CleanupStale removes every handle idle for longer than the TTL, closes
// each on its provider (sync=false) and returns the reclaimed ids.
func (r *HandleRegistry) CleanupStale(ctx context.Context) []uint64 {
	now := time.Now()

	r.mu.Lock()
	var stale []*HandleState
	var ids []uint64
	for id, state := range r.handles {
		if now.Sub(state.LastAccess()) > r.ttl {
			delete(r.handles, id)
			stale = append(stale, state)
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for i, state := range stale {
		if err := state.Provider.Close(ctx, state.ProviderHandle, false); err != nil {
			fs.Debugf(nil, "stale handle %d close failed: %v", ids[i], err)
		}
	}
	return ids
}

// Count returns the number of live handles.
func (r *HandleRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// ListHandles returns a snapshot of every live handle.
func (r *HandleRegistry) ListHandles() []HandleInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]HandleInfo, 0, len(r.handles))
	for id, state := range r.handles {
		out = append(out, HandleInfo{
			ID:         id,
			Path:       state.Path,
			Flags:      state.Flags,
			CreatedAt:  state.CreatedAt,
			LastAccess: state.LastAccess(),
		})
	}
	return out
}

// TTL returns the configured idle TTL.
func (r *HandleRegistry) TTL() time.Duration {
	return r.ttl
}
