package server

import (
	"encoding/json"
	"net/http"

	"github.com/fs9fs/fs9/fs"
	"github.com/fs9fs/fs9/vfs"
)

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

// OpenRequest asks to open or create an entry.
type OpenRequest struct {
	Path  string       `json:"path"`
	Flags fs.OpenFlags `json:"flags"`
}

// OpenResponse returns the opaque handle and the entry's metadata.
type OpenResponse struct {
	HandleID string      `json:"handle_id"`
	Metadata fs.FileInfo `json:"metadata"`
}

// WstatRequest applies a sparse metadata patch.
type WstatRequest struct {
	Path    string         `json:"path"`
	Changes fs.StatChanges `json:"changes"`
}

// ReadRequest asks for bytes from an open handle.
type ReadRequest struct {
	HandleID string `json:"handle_id"`
	Offset   uint64 `json:"offset"`
	Size     int    `json:"size"`
}

// CloseRequest releases an open handle.
type CloseRequest struct {
	HandleID string `json:"handle_id"`
	Sync     bool   `json:"sync"`
}

// WriteResponse reports how much a streamed write stored.
type WriteResponse struct {
	BytesWritten int `json:"bytes_written"`
}

// CapabilitiesResponse describes what a path's mount supports.
type CapabilitiesResponse struct {
	Path         string   `json:"path"`
	Capabilities []string `json:"capabilities"`
	Raw          uint64   `json:"raw"`
}

// MountRequest attaches a provider in the request namespace.
type MountRequest struct {
	Path     string                 `json:"path"`
	Provider string                 `json:"provider"`
	Config   map[string]interface{} `json:"config"`
}

// UnmountRequest detaches a mount point.
type UnmountRequest struct {
	Path string `json:"path"`
}

// MountsResponse lists a namespace's mounts.
type MountsResponse struct {
	Mounts []vfs.MountPoint `json:"mounts"`
}

// RevokeRequest marks a token as dead.
type RevokeRequest struct {
	Token string `json:"token"`
}

// writeJSON writes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		fs.Debugf(nil, "failed to encode response: %v", err)
	}
}

// writeError writes the uniform error envelope.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Code: status})
}

// writeFsError maps an error through the taxonomy's status table.
func writeFsError(w http.ResponseWriter, err error) {
	writeError(w, fs.HTTPStatus(err), err.Error())
}
