package server

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/vfs"
)

// NamespaceManager owns every tenant's namespace, creating them lazily.
type NamespaceManager struct {
	mu         sync.RWMutex
	namespaces map[string]*vfs.Namespace
	handleTTL  time.Duration
}

// NewNamespaceManager makes an empty manager.
func NewNamespaceManager(handleTTL time.Duration) *NamespaceManager {
	return &NamespaceManager{
		namespaces: make(map[string]*vfs.Namespace),
		handleTTL:  handleTTL,
	}
}

// Get returns an existing namespace without creating one.
func (m *NamespaceManager) Get(name string) (*vfs.Namespace, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ns, ok := m.namespaces[name]
	return ns, ok
}

// GetOrCreate returns the namespace, creating an empty one on first use.
// Fast path is a read lock; the write path double-checks.
func (m *NamespaceManager) GetOrCreate(name string) *vfs.Namespace {
	m.mu.RLock()
	ns, ok := m.namespaces[name]
	m.mu.RUnlock()
	if ok {
		return ns
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ns, ok := m.namespaces[name]; ok {
		return ns
	}
	ns = vfs.NewNamespace(name, m.handleTTL)
	m.namespaces[name] = ns
	fs.Infof(ns, "created namespace")
	return ns
}

// List returns every namespace name.
func (m *NamespaceManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.namespaces))
	for name := range m.namespaces {
		names = append(names, name)
	}
	return names
}

// all returns every namespace for the sweeper.
func (m *NamespaceManager) all() []*vfs.Namespace {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*vfs.Namespace, 0, len(m.namespaces))
	for _, ns := range m.namespaces {
		out = append(out, ns)
	}
	return out
}

// ProvisionConfig enables auto-provisioning of unknown namespaces with a
// root mount of the given provider.
type ProvisionConfig struct {
	Provider string
	Config   map[string]interface{}
}

// resolveNS maps a request context to its namespace, materializing it from
// the metadata service when missing. Failures are uniform Forbidden so
// callers cannot probe for namespace existence.
func (s *Server) resolveNS(ctx context.Context, rc *RequestContext) (*vfs.Namespace, error) {
	if ns, ok := s.namespaces.Get(rc.Namespace); ok {
		return ns, nil
	}

	if s.meta == nil {
		if s.opt.DisableAuth || rc.Namespace == DefaultNamespace {
			// standalone mode: materialize on demand
			return s.namespaces.GetOrCreate(rc.Namespace), nil
		}
		return nil, fs.PermissionDenied("namespace not found or access denied")
	}

	info, err := s.meta.GetNamespace(ctx, rc.Namespace)
	switch {
	case err == nil:
		if info.Status != "active" {
			return nil, fs.PermissionDenied("namespace not found or access denied")
		}
	case s.opt.DefaultProvision != nil:
		if err := s.provisionNamespace(ctx, rc.Namespace); err != nil {
			fs.Errorf(nil, "auto-provisioning namespace %q failed: %v", rc.Namespace, err)
			return nil, fs.PermissionDenied("namespace not found or access denied")
		}
	default:
		fs.Debugf(nil, "namespace %q not found in meta: %v", rc.Namespace, err)
		return nil, fs.PermissionDenied("namespace not found or access denied")
	}

	ns := s.namespaces.GetOrCreate(rc.Namespace)
	s.loadMountsFromMeta(ctx, ns)
	return ns, nil
}

// provisionNamespace creates the namespace and a root mount in the
// metadata service.
func (s *Server) provisionNamespace(ctx context.Context, name string) error {
	provision := s.opt.DefaultProvision
	fs.Infof(nil, "auto-provisioning namespace %q with %s root", name, provision.Provider)

	if _, err := s.meta.CreateNamespace(ctx, name); err != nil {
		// racing creators are fine; anything else is logged and tolerated
		fs.Debugf(nil, "create namespace %q in meta: %v", name, err)
	}
	config := make(map[string]interface{}, len(provision.Config))
	for k, v := range provision.Config {
		config[k] = v
	}
	if _, err := s.meta.CreateMount(ctx, name, "/", provision.Provider, config); err != nil {
		fs.Debugf(nil, "create mount for %q in meta: %v", name, err)
	}
	return nil
}

// loadMountsFromMeta instantiates and mounts every provider the metadata
// service declares for the namespace. Providers are created concurrently;
// individual mount failures are logged, not fatal: a namespace with one
// broken mount still serves the rest.
func (s *Server) loadMountsFromMeta(ctx context.Context, ns *vfs.Namespace) {
	mounts, err := s.meta.GetNamespaceMounts(ctx, ns.Name)
	if err != nil {
		fs.Logf(ns, "failed to fetch mounts from meta: %v", err)
		return
	}

	providers := make([]fs.Provider, len(mounts))
	g, gctx := errgroup.WithContext(ctx)
	for i, mount := range mounts {
		i, mount := i, mount
		g.Go(func() error {
			config := make(map[string]interface{}, len(mount.Config)+1)
			for k, v := range mount.Config {
				config[k] = v
			}
			config["ns"] = ns.Name
			provider, err := fs.NewProvider(gctx, mount.Provider, config)
			if err != nil {
				fs.Errorf(ns, "failed to create provider %q for %q: %v", mount.Provider, mount.Path, err)
				return nil
			}
			providers[i] = provider
			return nil
		})
	}
	_ = g.Wait()

	for i, mount := range mounts {
		if providers[i] == nil {
			continue
		}
		if err := ns.Mounts.Mount(mount.Path, mount.Provider, providers[i]); err != nil {
			if !errors.Is(err, fs.ErrAlreadyExists) {
				fs.Errorf(ns, "failed to mount %q: %v", mount.Path, err)
			}
			continue
		}
		fs.Infof(ns, "mounted %s at %s from meta", mount.Provider, mount.Path)
	}
}
