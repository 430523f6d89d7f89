package fs

import (
	"context"
	"sort"
	"sync"
)

// RegInfo describes a registered provider type.
type RegInfo struct {
	// Name is the config name, e.g. "memfs".
	Name string
	// Description is a short human description.
	Description string
	// NewProvider instantiates the provider from a mount's JSON config
	// (already decoded to a map).
	NewProvider func(ctx context.Context, config map[string]interface{}) (Provider, error)
}

var (
	registryMu sync.RWMutex
	registry   = map[string]*RegInfo{}
)

// Register adds a provider type to the registry. Backends call this from
// init().
func Register(info *RegInfo) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[info.Name] = info
}

// Find looks up a provider type by name.
func Find(name string) (*RegInfo, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	info, ok := registry[name]
	if !ok {
		return nil, NotFound("provider '" + name + "' not registered")
	}
	return info, nil
}

// MustFind is like Find but panics on unknown names. For use in tests and
// init paths where the backend is known to be linked in.
func MustFind(name string) *RegInfo {
	info, err := Find(name)
	if err != nil {
		panic(err)
	}
	return info
}

// NewProvider instantiates a registered provider type with the given config.
func NewProvider(ctx context.Context, name string, config map[string]interface{}) (Provider, error) {
	info, err := Find(name)
	if err != nil {
		return nil, err
	}
	return info.NewProvider(ctx, config)
}

// Providers returns the registered names, sorted.
func Providers() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
