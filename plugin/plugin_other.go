//go:build !cgo || (!linux && !darwin)

package plugin

import (
	"context"

	"github.com/fs9fs/fs9/fs"
)

// Provider is unavailable without cgo on a dlopen platform; every
// operation reports not implemented.
type Provider struct{}

// Load fails on platforms without dynamic loading support.
func Load(path string, config map[string]interface{}) (*Provider, error) {
	return nil, errUnsupported()
}

func errUnsupported() error {
	return fs.NotImplemented("plugin loading requires cgo on linux or darwin")
}

// Name implements the loaded-plugin surface.
func (p *Provider) Name() string { return "" }

// Unload is a no-op.
func (p *Provider) Unload() {}

// Stat implements fs.Provider.
func (p *Provider) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	return fs.FileInfo{}, errUnsupported()
}

// WStat implements fs.Provider.
func (p *Provider) WStat(ctx context.Context, path string, changes fs.StatChanges) error {
	return errUnsupported()
}

// StatFS implements fs.Provider.
func (p *Provider) StatFS(ctx context.Context, path string) (fs.FsStats, error) {
	return fs.FsStats{}, errUnsupported()
}

// Open implements fs.Provider.
func (p *Provider) Open(ctx context.Context, path string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	return 0, fs.FileInfo{}, errUnsupported()
}

// Read implements fs.Provider.
func (p *Provider) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	return nil, errUnsupported()
}

// Write implements fs.Provider.
func (p *Provider) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	return 0, errUnsupported()
}

// Close implements fs.Provider.
func (p *Provider) Close(ctx context.Context, h fs.Handle, sync bool) error {
	return errUnsupported()
}

// ReadDir implements fs.Provider.
func (p *Provider) ReadDir(ctx context.Context, path string) ([]fs.FileInfo, error) {
	return nil, errUnsupported()
}

// Remove implements fs.Provider.
func (p *Provider) Remove(ctx context.Context, path string) error {
	return errUnsupported()
}

// Capabilities implements fs.Provider.
func (p *Provider) Capabilities() fs.Capabilities { return 0 }

// check interface
var _ fs.Provider = (*Provider)(nil)
