package vfs

import (
	"strconv"
	"sync"
	"time"
)

// Namespace is one tenant's isolated view: its own mount table, handle
// registry and router. Handles opened in one namespace are invisible in any
// other.
type Namespace struct {
	Name    string
	Router  *Router
	Mounts  *MountTable
	Handles *HandleRegistry
	Map     *HandleMap
}

// NewNamespace builds an empty namespace with the given handle TTL.
func NewNamespace(name string, handleTTL time.Duration) *Namespace {
	mounts := NewMountTable()
	handles := NewHandleRegistry(handleTTL)
	return &Namespace{
		Name:    name,
		Router:  NewRouter(mounts, handles),
		Mounts:  mounts,
		Handles: handles,
		Map:     NewHandleMap(),
	}
}

// String implements fmt.Stringer for logging.
func (ns *Namespace) String() string {
	return "ns:" + ns.Name
}

// HandleMap tracks which registry ids a namespace has handed out. Clients
// hold the id's decimal string; lookups parse it back and check
// membership, so a stale or foreign handle string never resolves.
type HandleMap struct {
	mu     sync.RWMutex
	active map[uint64]struct{}
}

// NewHandleMap makes an empty map.
func NewHandleMap() *HandleMap {
	return &HandleMap{active: make(map[uint64]struct{})}
}

// Insert records id and returns its wire form.
func (m *HandleMap) Insert(id uint64) string {
	m.mu.Lock()
	m.active[id] = struct{}{}
	m.mu.Unlock()
	return strconv.FormatUint(id, 10)
}

// Lookup resolves a client-supplied handle string.
func (m *HandleMap) Lookup(handle string) (uint64, bool) {
	id, err := strconv.ParseUint(handle, 10, 64)
	if err != nil {
		return 0, false
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.active[id]
	return id, ok
}

// Remove forgets a handle string and returns the id it mapped to.
func (m *HandleMap) Remove(handle string) (uint64, bool) {
	id, err := strconv.ParseUint(handle, 10, 64)
	if err != nil {
		return 0, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; !ok {
		return 0, false
	}
	delete(m.active, id)
	return id, true
}

// RemoveID forgets an id, e.g. after the sweeper reclaimed its handle.
func (m *HandleMap) RemoveID(id uint64) {
	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
}
