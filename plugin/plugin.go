//go:build cgo && (linux || darwin)

package plugin

/*
#cgo LDFLAGS: -ldl
#include <dlfcn.h>
#include <stdint.h>
#include <stdlib.h>
#include <string.h>
#include "include/fs9_plugin.h"

typedef uint32_t (*fs9_version_fn)(void);
typedef const fs9_plugin_vtable_t *(*fs9_vtable_fn)(void);

static uint32_t call_version(void *fn) {
	return ((fs9_version_fn)fn)();
}

static const fs9_plugin_vtable_t *call_vtable(void *fn) {
	return ((fs9_vtable_fn)fn)();
}

static void *vt_create(const fs9_plugin_vtable_t *vt, const char *config, size_t len) {
	return vt->create(config, len);
}

static void vt_destroy(const fs9_plugin_vtable_t *vt, void *p) {
	vt->destroy(p);
}

static uint64_t vt_capabilities(const fs9_plugin_vtable_t *vt, void *p) {
	return vt->get_capabilities(p);
}

static fs9_result_t vt_stat(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len, fs9_file_info_t *out) {
	return vt->stat(p, path, path_len, out);
}

static fs9_result_t vt_wstat(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len, const fs9_stat_changes_t *changes) {
	return vt->wstat(p, path, path_len, changes);
}

static fs9_result_t vt_statfs(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len, fs9_fs_stats_t *out) {
	return vt->statfs(p, path, path_len, out);
}

static fs9_result_t vt_open(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len, const fs9_open_flags_t *flags,
		uint64_t *out_handle, fs9_file_info_t *out_info) {
	return vt->open(p, path, path_len, flags, out_handle, out_info);
}

static fs9_result_t vt_read(const fs9_plugin_vtable_t *vt, void *p,
		uint64_t handle, uint64_t offset, size_t size, fs9_bytes_t *out) {
	return vt->read(p, handle, offset, size, out);
}

static fs9_result_t vt_write(const fs9_plugin_vtable_t *vt, void *p,
		uint64_t handle, uint64_t offset, const uint8_t *data, size_t len,
		size_t *out_written) {
	return vt->write(p, handle, offset, data, len, out_written);
}

static fs9_result_t vt_close(const fs9_plugin_vtable_t *vt, void *p,
		uint64_t handle, uint8_t sync) {
	return vt->close(p, handle, sync);
}

static fs9_result_t vt_remove(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len) {
	return vt->remove(p, path, path_len);
}

static void vt_bytes_free(const fs9_plugin_vtable_t *vt, fs9_bytes_t data) {
	if (vt->bytes_free) {
		vt->bytes_free(data);
	}
}

/* readdir collection: the C-side callback copies entries into a growable
 * array so no Go function crosses the boundary. */
typedef struct {
	fs9_file_info_t *items;
	char **paths;
	size_t len;
	size_t cap;
} readdir_acc;

static int32_t readdir_collect(const fs9_file_info_t *info, void *user_data) {
	readdir_acc *acc = (readdir_acc *)user_data;
	if (acc->len == acc->cap) {
		size_t cap = acc->cap ? acc->cap * 2 : 16;
		fs9_file_info_t *items = realloc(acc->items, cap * sizeof(*items));
		char **paths = realloc(acc->paths, cap * sizeof(*paths));
		if (!items || !paths) {
			free(items ? items : acc->items);
			free(paths ? paths : acc->paths);
			acc->items = NULL;
			acc->paths = NULL;
			return 1;
		}
		acc->items = items;
		acc->paths = paths;
		acc->cap = cap;
	}
	acc->items[acc->len] = *info;
	/* the span is only valid during the callback, take a copy */
	char *path = malloc(info->path_len + 1);
	if (!path) {
		return 1;
	}
	memcpy(path, info->path, info->path_len);
	path[info->path_len] = 0;
	acc->paths[acc->len] = path;
	acc->items[acc->len].path = path;
	acc->len++;
	return 0;
}

static fs9_result_t vt_readdir(const fs9_plugin_vtable_t *vt, void *p,
		const char *path, size_t path_len, readdir_acc *acc) {
	return vt->readdir(p, path, path_len, readdir_collect, acc);
}

static void readdir_acc_free(readdir_acc *acc) {
	for (size_t i = 0; i < acc->len; i++) {
		free(acc->paths[i]);
	}
	free(acc->paths);
	free(acc->items);
}
*/
import "C"

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unsafe"

	"github.com/fs9fs/fs9/fs"
)

// Provider adapts a loaded plugin to the fs.Provider contract. The cgo
// calls run on their own OS threads, so a slow plugin never stalls the
// scheduler.
type Provider struct {
	name     string
	version  string
	lib      unsafe.Pointer
	vtable   *C.fs9_plugin_vtable_t
	instance unsafe.Pointer
	caps     fs.Capabilities
}

// Load dlopens the library at path, verifies the ABI version and
// instantiates a provider with the given config.
func Load(path string, config map[string]interface{}) (*Provider, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	lib := C.dlopen(cPath, C.RTLD_NOW|C.RTLD_LOCAL)
	if lib == nil {
		return nil, fs.WrapError(fs.ErrBackendUnavailable,
			fmt.Sprintf("failed to load plugin %q: %s", path, dlError()))
	}

	versionFn, err := symbol(lib, "fs9_plugin_version")
	if err != nil {
		C.dlclose(lib)
		return nil, err
	}
	if got := uint32(C.call_version(versionFn)); got != SDKVersion {
		C.dlclose(lib)
		return nil, fs.InvalidArgument(fmt.Sprintf(
			"plugin %q has SDK version %d, host requires %d", path, got, SDKVersion))
	}

	vtableFn, err := symbol(lib, "fs9_plugin_vtable")
	if err != nil {
		C.dlclose(lib)
		return nil, err
	}
	vtable := C.call_vtable(vtableFn)
	if vtable == nil || uint32(vtable.sdk_version) != SDKVersion {
		C.dlclose(lib)
		return nil, fs.InvalidArgument(fmt.Sprintf("plugin %q returned an incompatible vtable", path))
	}

	configJSON, err := json.Marshal(config)
	if err != nil {
		C.dlclose(lib)
		return nil, fs.InvalidArgument(err.Error())
	}
	var cConfig *C.char
	if len(configJSON) > 0 {
		cConfig = C.CString(string(configJSON))
		defer C.free(unsafe.Pointer(cConfig))
	}
	instance := C.vt_create(vtable, cConfig, C.size_t(len(configJSON)))
	if instance == nil {
		C.dlclose(lib)
		return nil, fs.WrapError(fs.ErrBackendUnavailable,
			fmt.Sprintf("plugin %q failed to instantiate", path))
	}

	p := &Provider{
		name:     goStr(vtable.name),
		version:  goStr(vtable.version),
		lib:      lib,
		vtable:   vtable,
		instance: instance,
		caps:     fs.Capabilities(C.vt_capabilities(vtable, instance)),
	}
	fs.Infof(p, "loaded plugin from %s", path)
	return p, nil
}

func symbol(lib unsafe.Pointer, name string) (unsafe.Pointer, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))
	sym := C.dlsym(lib, cName)
	if sym == nil {
		return nil, fs.InvalidArgument(fmt.Sprintf("plugin missing symbol %q: %s", name, dlError()))
	}
	return sym, nil
}

func dlError() string {
	err := C.dlerror()
	if err == nil {
		return "unknown dlopen error"
	}
	return C.GoString(err)
}

func goStr(s C.fs9_str_t) string {
	if s.data == nil || s.len == 0 {
		return ""
	}
	return C.GoStringN(s.data, C.int(s.len))
}

// String implements fmt.Stringer for logging.
func (p *Provider) String() string {
	return fmt.Sprintf("plugin{%s %s}", p.name, p.version)
}

// Name returns the provider name the plugin reported.
func (p *Provider) Name() string { return p.name }

// Unload destroys the instance and closes the library. The provider must
// not be used afterwards.
func (p *Provider) Unload() {
	if p.instance != nil {
		C.vt_destroy(p.vtable, p.instance)
		p.instance = nil
	}
	if p.lib != nil {
		C.dlclose(p.lib)
		p.lib = nil
	}
}

func resultErr(result C.fs9_result_t) error {
	message := ""
	if result.error_msg != nil && result.error_msg_len > 0 {
		message = C.GoStringN(result.error_msg, C.int(result.error_msg_len))
	}
	return codeToError(int32(result.code), message)
}

func withPath(path string, f func(*C.char, C.size_t) error) error {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))
	return f(cPath, C.size_t(len(path)))
}

func infoFromC(path string, c *C.fs9_file_info_t) fs.FileInfo {
	info := fs.FileInfo{
		Path:  path,
		Size:  uint64(c.size),
		Type:  fileTypeFromWire(uint8(c.file_type)),
		Mode:  uint32(c.mode),
		UID:   uint32(c.uid),
		GID:   uint32(c.gid),
		Atime: time.Unix(int64(c.atime), 0).UTC(),
		Mtime: time.Unix(int64(c.mtime), 0).UTC(),
		Ctime: time.Unix(int64(c.ctime), 0).UTC(),
	}
	if c.path != nil && c.path_len > 0 {
		info.Path = C.GoStringN(c.path, C.int(c.path_len))
	}
	return info
}

// Stat implements fs.Provider.
func (p *Provider) Stat(ctx context.Context, path string) (fs.FileInfo, error) {
	var out C.fs9_file_info_t
	err := withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_stat(p.vtable, p.instance, cPath, cLen, &out))
	})
	if err != nil {
		return fs.FileInfo{}, err
	}
	info := infoFromC(path, &out)
	info.Path = path
	return info, nil
}

// WStat implements fs.Provider.
func (p *Provider) WStat(ctx context.Context, path string, changes fs.StatChanges) error {
	var c C.fs9_stat_changes_t
	if changes.Mode != nil {
		c.has_mode = 1
		c.mode = C.uint32_t(*changes.Mode)
	}
	if changes.UID != nil {
		c.has_uid = 1
		c.uid = C.uint32_t(*changes.UID)
	}
	if changes.GID != nil {
		c.has_gid = 1
		c.gid = C.uint32_t(*changes.GID)
	}
	if changes.Size != nil {
		c.has_size = 1
		c.size = C.uint64_t(*changes.Size)
	}
	if changes.Atime != nil {
		c.has_atime = 1
		c.atime = C.int64_t(changes.Atime.Unix())
	}
	if changes.Mtime != nil {
		c.has_mtime = 1
		c.mtime = C.int64_t(changes.Mtime.Unix())
	}
	var cName *C.char
	if changes.Name != nil {
		c.has_name = 1
		cName = C.CString(*changes.Name)
		defer C.free(unsafe.Pointer(cName))
		c.name = cName
		c.name_len = C.size_t(len(*changes.Name))
	}
	if changes.SymlinkTarget != nil {
		return fs.NotImplemented("symlink through plugin boundary")
	}
	return withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_wstat(p.vtable, p.instance, cPath, cLen, &c))
	})
}

// StatFS implements fs.Provider.
func (p *Provider) StatFS(ctx context.Context, path string) (fs.FsStats, error) {
	var out C.fs9_fs_stats_t
	err := withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_statfs(p.vtable, p.instance, cPath, cLen, &out))
	})
	if err != nil {
		return fs.FsStats{}, err
	}
	return fs.FsStats{
		TotalBytes:  uint64(out.total_bytes),
		FreeBytes:   uint64(out.free_bytes),
		TotalInodes: uint64(out.total_inodes),
		FreeInodes:  uint64(out.free_inodes),
		BlockSize:   uint32(out.block_size),
		MaxNameLen:  uint32(out.max_name_len),
	}, nil
}

// Open implements fs.Provider.
func (p *Provider) Open(ctx context.Context, path string, flags fs.OpenFlags) (fs.Handle, fs.FileInfo, error) {
	cFlags := C.fs9_open_flags_t{
		read:      boolByte(flags.Read),
		write:     boolByte(flags.Write),
		create:    boolByte(flags.Create),
		truncate:  boolByte(flags.Truncate),
		append:    boolByte(flags.Append),
		directory: boolByte(flags.Directory),
	}
	var handle C.uint64_t
	var out C.fs9_file_info_t
	err := withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_open(p.vtable, p.instance, cPath, cLen, &cFlags, &handle, &out))
	})
	if err != nil {
		return 0, fs.FileInfo{}, err
	}
	info := infoFromC(path, &out)
	info.Path = path
	return fs.Handle(handle), info, nil
}

func boolByte(b bool) C.uint8_t {
	if b {
		return 1
	}
	return 0
}

// Read implements fs.Provider. The plugin's buffer is copied out and freed
// via the reciprocal bytes_free.
func (p *Provider) Read(ctx context.Context, h fs.Handle, offset uint64, size int) ([]byte, error) {
	var out C.fs9_bytes_t
	err := resultErr(C.vt_read(p.vtable, p.instance, C.uint64_t(h), C.uint64_t(offset), C.size_t(size), &out))
	if err != nil {
		return nil, err
	}
	if out.data == nil || out.len == 0 {
		return nil, nil
	}
	data := C.GoBytes(unsafe.Pointer(out.data), C.int(out.len))
	C.vt_bytes_free(p.vtable, out)
	return data, nil
}

// Write implements fs.Provider.
func (p *Provider) Write(ctx context.Context, h fs.Handle, offset uint64, data []byte) (int, error) {
	var written C.size_t
	var dataPtr *C.uint8_t
	if len(data) > 0 {
		dataPtr = (*C.uint8_t)(unsafe.Pointer(&data[0]))
	}
	err := resultErr(C.vt_write(p.vtable, p.instance, C.uint64_t(h), C.uint64_t(offset),
		dataPtr, C.size_t(len(data)), &written))
	if err != nil {
		return 0, err
	}
	return int(written), nil
}

// Close implements fs.Provider.
func (p *Provider) Close(ctx context.Context, h fs.Handle, sync bool) error {
	return resultErr(C.vt_close(p.vtable, p.instance, C.uint64_t(h), boolByte(sync)))
}

// ReadDir implements fs.Provider. Entries are collected C-side so the
// callback never crosses into Go.
func (p *Provider) ReadDir(ctx context.Context, path string) ([]fs.FileInfo, error) {
	var acc C.readdir_acc
	err := withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_readdir(p.vtable, p.instance, cPath, cLen, &acc))
	})
	if err != nil {
		C.readdir_acc_free(&acc)
		return nil, err
	}
	defer C.readdir_acc_free(&acc)

	count := int(acc.len)
	entries := make([]fs.FileInfo, 0, count)
	if count > 0 {
		items := (*[1 << 28]C.fs9_file_info_t)(unsafe.Pointer(acc.items))[:count:count]
		for i := range items {
			entries = append(entries, infoFromC("", &items[i]))
		}
	}
	return entries, nil
}

// Remove implements fs.Provider.
func (p *Provider) Remove(ctx context.Context, path string) error {
	return withPath(path, func(cPath *C.char, cLen C.size_t) error {
		return resultErr(C.vt_remove(p.vtable, p.instance, cPath, cLen))
	})
}

// Capabilities implements fs.Provider.
func (p *Provider) Capabilities() fs.Capabilities {
	return p.caps
}

// check interface
var _ fs.Provider = (*Provider)(nil)
