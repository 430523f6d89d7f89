// Package vfs routes filesystem operations through a table of mounted
// providers, rewriting paths across the mount boundary and gating optional
// operations on provider capabilities.
package vfs

import (
	"sort"
	"strings"
	"sync"

	"github.com/fs9fs/fs9/fs"
)

// MountPoint identifies one mount for listings.
type MountPoint struct {
	Path         string `json:"path"`
	ProviderName string `json:"provider"`
}

type mountEntry struct {
	MountPoint
	provider fs.Provider
}

// MountTable maps normalized mount paths to providers. Mount paths are kept
// sorted so resolution can walk candidates in reverse order.
type MountTable struct {
	mu     sync.RWMutex
	keys   []string // sorted mount paths
	mounts map[string]*mountEntry
}

// NewMountTable makes an empty table.
func NewMountTable() *MountTable {
	return &MountTable{mounts: make(map[string]*mountEntry)}
}

// NormalizePath canonicalizes a mount or request path: empty becomes "/",
// a leading "/" is added if missing and trailing "/" stripped except for
// root.
func NormalizePath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	if len(path) > 1 {
		path = strings.TrimRight(path, "/")
		if path == "" {
			return "/"
		}
	}
	return path
}

// Mount attaches provider at path. It fails with ErrAlreadyExists if the
// path is already a mount point.
func (t *MountTable) Mount(path, providerName string, provider fs.Provider) error {
	path = NormalizePath(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.mounts[path]; ok {
		return fs.AlreadyExists(path)
	}
	t.mounts[path] = &mountEntry{
		MountPoint: MountPoint{Path: path, ProviderName: providerName},
		provider:   provider,
	}
	i := sort.SearchStrings(t.keys, path)
	t.keys = append(t.keys, "")
	copy(t.keys[i+1:], t.keys[i:])
	t.keys[i] = path
	return nil
}

// Unmount detaches the mount at path and returns its provider. Handles
// opened through the mount keep working against the detached provider.
func (t *MountTable) Unmount(path string) (fs.Provider, error) {
	path = NormalizePath(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.mounts[path]
	if !ok {
		return nil, fs.NotFound(path)
	}
	delete(t.mounts, path)
	i := sort.SearchStrings(t.keys, path)
	t.keys = append(t.keys[:i], t.keys[i+1:]...)
	return entry.provider, nil
}

// Resolve finds the provider responsible for path by longest-prefix match
// and returns it together with the mount-relative path.
func (t *MountTable) Resolve(path string) (fs.Provider, string, error) {
	path = NormalizePath(path)
	t.mu.RLock()
	defer t.mu.RUnlock()

	// Walk mount paths <= path in reverse so the longest prefix wins.
	i := sort.SearchStrings(t.keys, path)
	if i < len(t.keys) && t.keys[i] == path {
		i++
	}
	for j := i - 1; j >= 0; j-- {
		mountPath := t.keys[j]
		entry := t.mounts[mountPath]
		switch {
		case path == mountPath:
			return entry.provider, "/", nil
		case mountPath == "/":
			return entry.provider, path, nil
		case strings.HasPrefix(path, mountPath) && path[len(mountPath)] == '/':
			return entry.provider, path[len(mountPath):], nil
		}
	}

	if entry, ok := t.mounts["/"]; ok {
		return entry.provider, path, nil
	}
	return nil, "", fs.NotFound(path)
}

// ListMounts returns all mount points in path order.
func (t *MountTable) ListMounts() []MountPoint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]MountPoint, 0, len(t.keys))
	for _, key := range t.keys {
		out = append(out, t.mounts[key].MountPoint)
	}
	return out
}

// GetMountInfo returns the mount point and capabilities for an exact-match
// path.
func (t *MountTable) GetMountInfo(path string) (MountPoint, fs.Capabilities, bool) {
	path = NormalizePath(path)
	t.mu.RLock()
	defer t.mu.RUnlock()
	entry, ok := t.mounts[path]
	if !ok {
		return MountPoint{}, 0, false
	}
	return entry.MountPoint, entry.provider.Capabilities(), true
}

// Count returns the number of mounts.
func (t *MountTable) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.mounts)
}

// providers returns the mounted providers in path order.
func (t *MountTable) providers() []fs.Provider {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]fs.Provider, 0, len(t.keys))
	for _, key := range t.keys {
		out = append(out, t.mounts[key].provider)
	}
	return out
}
