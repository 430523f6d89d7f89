package plugin

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fs9fs/fs9/fs"
)

func TestCodeToError(t *testing.T) {
	assert.NoError(t, codeToError(codeOK, ""))

	for _, test := range []struct {
		code int32
		kind error
	}{
		{codeNotFound, fs.ErrNotFound},
		{codePermissionDenied, fs.ErrPermissionDenied},
		{codeAlreadyExists, fs.ErrAlreadyExists},
		{codeInvalidArgument, fs.ErrInvalidArgument},
		{codeNotDirectory, fs.ErrNotDirectory},
		{codeIsDirectory, fs.ErrIsDirectory},
		{codeDirectoryNotEmpty, fs.ErrDirectoryNotEmpty},
		{codeInvalidHandle, fs.ErrInvalidHandle},
		{codeInternal, fs.ErrInternal},
		{codeNotImplemented, fs.ErrNotImplemented},
		{codeBackendUnavailable, fs.ErrBackendUnavailable},
	} {
		err := codeToError(test.code, "detail")
		assert.ErrorIs(t, err, test.kind, "code %d", test.code)
		assert.Equal(t, "detail", err.Error())
	}

	// unknown codes classify as internal
	assert.ErrorIs(t, codeToError(-99, ""), fs.ErrInternal)
}

func TestFileTypeFromWire(t *testing.T) {
	assert.Equal(t, fs.TypeRegular, fileTypeFromWire(0))
	assert.Equal(t, fs.TypeDirectory, fileTypeFromWire(1))
	assert.Equal(t, fs.TypeSymlink, fileTypeFromWire(2))
	assert.Equal(t, fs.TypeRegular, fileTypeFromWire(77))
}
