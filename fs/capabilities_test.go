package fs

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilityPresets(t *testing.T) {
	assert.True(t, CapReadOnly.Has(CapRead))
	assert.True(t, CapReadOnly.Has(CapDirectory))
	assert.False(t, CapReadOnly.Has(CapWrite))
	assert.True(t, CapReadOnly.IsReadOnly())

	assert.True(t, CapBasicRW.Has(CapRead|CapWrite|CapCreate|CapDelete|CapDirectory))
	assert.False(t, CapBasicRW.Has(CapRename))
	assert.False(t, CapBasicRW.IsReadOnly())

	assert.True(t, CapPOSIXLike.Has(CapRename|CapTruncate|CapChmod|CapChown|CapUtime))
	assert.True(t, CapPOSIXLike.Has(CapSymlink|CapXattr|CapSync|CapRandomWrite))

	assert.True(t, CapQueueLike.IsSynthetic())
	assert.True(t, CapQueueLike.Has(CapStatefulRead|CapStatefulWrite|CapBlockingRead))
	assert.False(t, CapQueueLike.Has(CapRandomWrite))
}

func TestCapabilityCombination(t *testing.T) {
	caps := CapBasicRW | CapETag | CapAtomicRename
	assert.True(t, caps.Has(CapETag))
	assert.True(t, caps.Has(CapAtomicRename))
	assert.True(t, caps.Has(CapRead))
	assert.False(t, caps.Has(CapSymlink))
}

func TestCapabilityString(t *testing.T) {
	assert.Equal(t, "NONE", Capabilities(0).String())
	assert.Equal(t, "READ|WRITE", (CapRead | CapWrite).String())
	assert.Contains(t, CapPOSIXLike.String(), "RANDOM_WRITE")
}
