package fs

import "strings"

// Capabilities is a bit set describing which operation families a provider
// supports. The router gates optional operations against it.
type Capabilities uint64

// Individual capability bits.
const (
	CapRead     Capabilities = 1 << 0
	CapWrite    Capabilities = 1 << 1
	CapCreate   Capabilities = 1 << 2
	CapDelete   Capabilities = 1 << 3
	CapRename   Capabilities = 1 << 4
	CapTruncate Capabilities = 1 << 5

	CapChmod Capabilities = 1 << 10
	CapChown Capabilities = 1 << 11
	CapUtime Capabilities = 1 << 12

	CapHardlink Capabilities = 1 << 20
	CapSymlink  Capabilities = 1 << 21

	CapSync         Capabilities = 1 << 30
	CapAppend       Capabilities = 1 << 31
	CapRandomWrite  Capabilities = 1 << 32
	CapStreaming    Capabilities = 1 << 33
	CapBlockingRead Capabilities = 1 << 34

	CapVersioning   Capabilities = 1 << 40
	CapETag         Capabilities = 1 << 41
	CapAtomicRename Capabilities = 1 << 42
	CapDirectory    Capabilities = 1 << 43
	CapXattr        Capabilities = 1 << 44

	CapSynthetic     Capabilities = 1 << 50
	CapStatefulRead  Capabilities = 1 << 51
	CapStatefulWrite Capabilities = 1 << 52
)

// Presets used by the built-in providers.
const (
	CapReadOnly = CapRead | CapDirectory

	CapBasicRW = CapRead | CapWrite | CapCreate | CapDelete | CapDirectory

	CapPOSIXLike = CapBasicRW | CapRename | CapTruncate | CapChmod | CapChown |
		CapUtime | CapSymlink | CapXattr | CapSync | CapRandomWrite

	CapQueueLike = CapRead | CapWrite | CapCreate | CapDelete | CapDirectory |
		CapSynthetic | CapStatefulRead | CapStatefulWrite | CapBlockingRead
)

// Has reports whether every bit in want is present.
func (c Capabilities) Has(want Capabilities) bool {
	return c&want == want
}

// IsReadOnly reports whether the set permits no mutation at all.
func (c Capabilities) IsReadOnly() bool {
	return !c.Has(CapWrite) && !c.Has(CapCreate) && !c.Has(CapDelete)
}

// IsSynthetic reports whether the provider fabricates its entries.
func (c Capabilities) IsSynthetic() bool {
	return c.Has(CapSynthetic)
}

var capNames = []struct {
	bit  Capabilities
	name string
}{
	{CapRead, "READ"},
	{CapWrite, "WRITE"},
	{CapCreate, "CREATE"},
	{CapDelete, "DELETE"},
	{CapRename, "RENAME"},
	{CapTruncate, "TRUNCATE"},
	{CapChmod, "CHMOD"},
	{CapChown, "CHOWN"},
	{CapUtime, "UTIME"},
	{CapHardlink, "HARDLINK"},
	{CapSymlink, "SYMLINK"},
	{CapSync, "SYNC"},
	{CapAppend, "APPEND"},
	{CapRandomWrite, "RANDOM_WRITE"},
	{CapStreaming, "STREAMING"},
	{CapBlockingRead, "BLOCKING_READ"},
	{CapVersioning, "VERSIONING"},
	{CapETag, "ETAG"},
	{CapAtomicRename, "ATOMIC_RENAME"},
	{CapDirectory, "DIRECTORY"},
	{CapXattr, "XATTR"},
	{CapSynthetic, "SYNTHETIC"},
	{CapStatefulRead, "STATEFUL_READ"},
	{CapStatefulWrite, "STATEFUL_WRITE"},
}

// String returns the set as "READ|WRITE|..." for logs and the capabilities
// endpoint.
func (c Capabilities) String() string {
	if c == 0 {
		return "NONE"
	}
	var names []string
	for _, e := range capNames {
		if c.Has(e.bit) {
			names = append(names, e.name)
		}
	}
	return strings.Join(names, "|")
}
