package plugin

import (
	"context"
	"path/filepath"
	"sync"

	"github.com/fs9fs/fs9/fs"
)

// Manager loads plugin libraries and registers each as a provider type
// under the name the plugin reports.
type Manager struct {
	mu     sync.Mutex
	loaded []*Provider
}

// NewManager makes an empty manager.
func NewManager() *Manager {
	return &Manager{}
}

// LoadDir loads every shared library in dir. Individual failures are
// logged and skipped.
func (m *Manager) LoadDir(dir string) error {
	matches, err := filepath.Glob(filepath.Join(dir, "*"+libSuffix))
	if err != nil {
		return err
	}
	for _, path := range matches {
		if err := m.LoadAndRegister(path); err != nil {
			fs.Errorf(nil, "skipping plugin %q: %v", path, err)
		}
	}
	return nil
}

// LoadAndRegister loads one library and registers its provider type. The
// library is instantiated once to learn its name and then unloaded; each
// mount creates a fresh instance.
func (m *Manager) LoadAndRegister(path string) error {
	probe, err := Load(path, nil)
	if err != nil {
		return err
	}
	name := probe.Name()
	probe.Unload()
	if name == "" {
		return fs.InvalidArgument("plugin reported an empty name")
	}

	fs.Register(&fs.RegInfo{
		Name:        name,
		Description: "Plugin provider from " + filepath.Base(path),
		NewProvider: func(ctx context.Context, config map[string]interface{}) (fs.Provider, error) {
			loaded, err := Load(path, config)
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			m.loaded = append(m.loaded, loaded)
			m.mu.Unlock()
			return loaded, nil
		},
	})
	return nil
}

// UnloadAll tears down every instantiated plugin provider.
func (m *Manager) UnloadAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.loaded {
		p.Unload()
	}
	m.loaded = nil
}
