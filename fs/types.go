// Package fs defines the core filesystem types, the provider contract and
// the provider registry shared by every backend and by the VFS layer.
package fs

import (
	"encoding/json"
	"fmt"
	"time"
)

// FileType is the kind of entry a FileInfo describes.
type FileType int

// File types understood on the wire.
const (
	TypeRegular FileType = iota
	TypeDirectory
	TypeSymlink
)

// String returns the wire encoding of the file type.
func (t FileType) String() string {
	switch t {
	case TypeDirectory:
		return "directory"
	case TypeSymlink:
		return "symlink"
	default:
		return "regular"
	}
}

// ParseFileType parses the wire encoding of a file type.
func ParseFileType(s string) (FileType, error) {
	switch s {
	case "regular":
		return TypeRegular, nil
	case "directory":
		return TypeDirectory, nil
	case "symlink":
		return TypeSymlink, nil
	}
	return TypeRegular, fmt.Errorf("unknown file type %q", s)
}

// MarshalJSON encodes the file type as its wire string.
func (t FileType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON decodes the file type from its wire string.
func (t *FileType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseFileType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// FileInfo describes a single filesystem entry.
//
// Timestamps travel as Unix seconds on the wire. SymlinkTarget is set iff
// Type == TypeSymlink.
type FileInfo struct {
	Path          string
	Size          uint64
	Type          FileType
	Mode          uint32
	UID           uint32
	GID           uint32
	Atime         time.Time
	Mtime         time.Time
	Ctime         time.Time
	ETag          string
	SymlinkTarget string
}

// IsDir reports whether the entry is a directory.
func (fi *FileInfo) IsDir() bool { return fi.Type == TypeDirectory }

// IsSymlink reports whether the entry is a symlink.
func (fi *FileInfo) IsSymlink() bool { return fi.Type == TypeSymlink }

// IsRegular reports whether the entry is a regular file.
func (fi *FileInfo) IsRegular() bool { return fi.Type == TypeRegular }

// fileInfoJSON is the wire shape of FileInfo.
type fileInfoJSON struct {
	Path          string   `json:"path"`
	Size          uint64   `json:"size"`
	Type          FileType `json:"file_type"`
	Mode          uint32   `json:"mode"`
	UID           uint32   `json:"uid"`
	GID           uint32   `json:"gid"`
	Atime         int64    `json:"atime"`
	Mtime         int64    `json:"mtime"`
	Ctime         int64    `json:"ctime"`
	ETag          string   `json:"etag"`
	SymlinkTarget string   `json:"symlink_target,omitempty"`
}

// MarshalJSON encodes the FileInfo with Unix second timestamps.
func (fi FileInfo) MarshalJSON() ([]byte, error) {
	return json.Marshal(fileInfoJSON{
		Path:          fi.Path,
		Size:          fi.Size,
		Type:          fi.Type,
		Mode:          fi.Mode,
		UID:           fi.UID,
		GID:           fi.GID,
		Atime:         unixSeconds(fi.Atime),
		Mtime:         unixSeconds(fi.Mtime),
		Ctime:         unixSeconds(fi.Ctime),
		ETag:          fi.ETag,
		SymlinkTarget: fi.SymlinkTarget,
	})
}

// UnmarshalJSON decodes the FileInfo from its wire shape.
func (fi *FileInfo) UnmarshalJSON(data []byte) error {
	var w fileInfoJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*fi = FileInfo{
		Path:          w.Path,
		Size:          w.Size,
		Type:          w.Type,
		Mode:          w.Mode,
		UID:           w.UID,
		GID:           w.GID,
		Atime:         time.Unix(w.Atime, 0).UTC(),
		Mtime:         time.Unix(w.Mtime, 0).UTC(),
		Ctime:         time.Unix(w.Ctime, 0).UTC(),
		ETag:          w.ETag,
		SymlinkTarget: w.SymlinkTarget,
	}
	return nil
}

func unixSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

// StatChanges is a sparse metadata patch applied by WStat. Nil fields are
// left untouched. A Name change is a rename: absolute names are resolved
// against the mount the entry lives in, relative names against the entry's
// current parent directory.
type StatChanges struct {
	Mode          *uint32
	UID           *uint32
	GID           *uint32
	Size          *uint64
	Atime         *time.Time
	Mtime         *time.Time
	Name          *string
	SymlinkTarget *string
}

// Empty reports whether the patch changes nothing.
func (c *StatChanges) Empty() bool {
	return c.Mode == nil && c.UID == nil && c.GID == nil && c.Size == nil &&
		c.Atime == nil && c.Mtime == nil && c.Name == nil && c.SymlinkTarget == nil
}

type statChangesJSON struct {
	Mode          *uint32 `json:"mode,omitempty"`
	UID           *uint32 `json:"uid,omitempty"`
	GID           *uint32 `json:"gid,omitempty"`
	Size          *uint64 `json:"size,omitempty"`
	Atime         *int64  `json:"atime,omitempty"`
	Mtime         *int64  `json:"mtime,omitempty"`
	Name          *string `json:"name,omitempty"`
	SymlinkTarget *string `json:"symlink_target,omitempty"`
}

// MarshalJSON encodes the patch with Unix second timestamps.
func (c StatChanges) MarshalJSON() ([]byte, error) {
	w := statChangesJSON{
		Mode:          c.Mode,
		UID:           c.UID,
		GID:           c.GID,
		Size:          c.Size,
		Name:          c.Name,
		SymlinkTarget: c.SymlinkTarget,
	}
	if c.Atime != nil {
		secs := c.Atime.Unix()
		w.Atime = &secs
	}
	if c.Mtime != nil {
		secs := c.Mtime.Unix()
		w.Mtime = &secs
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the patch from its wire shape.
func (c *StatChanges) UnmarshalJSON(data []byte) error {
	var w statChangesJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = StatChanges{
		Mode:          w.Mode,
		UID:           w.UID,
		GID:           w.GID,
		Size:          w.Size,
		Name:          w.Name,
		SymlinkTarget: w.SymlinkTarget,
	}
	if w.Atime != nil {
		t := time.Unix(*w.Atime, 0).UTC()
		c.Atime = &t
	}
	if w.Mtime != nil {
		t := time.Unix(*w.Mtime, 0).UTC()
		c.Mtime = &t
	}
	return nil
}

// FsStats describes capacity of the filesystem behind a path.
type FsStats struct {
	TotalBytes  uint64 `json:"total_bytes"`
	FreeBytes   uint64 `json:"free_bytes"`
	TotalInodes uint64 `json:"total_inodes"`
	FreeInodes  uint64 `json:"free_inodes"`
	BlockSize   uint32 `json:"block_size"`
	MaxNameLen  uint32 `json:"max_name_len"`
}

// UsedBytes returns total-free, saturating at zero.
func (s *FsStats) UsedBytes() uint64 {
	if s.FreeBytes > s.TotalBytes {
		return 0
	}
	return s.TotalBytes - s.FreeBytes
}

// UsedInodes returns total-free, saturating at zero.
func (s *FsStats) UsedInodes() uint64 {
	if s.FreeInodes > s.TotalInodes {
		return 0
	}
	return s.TotalInodes - s.FreeInodes
}

// OpenFlags selects how Open behaves. Directory together with Create means
// mkdir.
type OpenFlags struct {
	Read      bool `json:"read"`
	Write     bool `json:"write"`
	Create    bool `json:"create"`
	Truncate  bool `json:"truncate"`
	Append    bool `json:"append"`
	Directory bool `json:"directory"`
}

// Common flag combinations.
var (
	FlagsRead       = OpenFlags{Read: true}
	FlagsWrite      = OpenFlags{Write: true}
	FlagsReadWrite  = OpenFlags{Read: true, Write: true}
	FlagsCreateFile = OpenFlags{Read: true, Write: true, Create: true}
	FlagsCreateDir  = OpenFlags{Create: true, Directory: true}
	FlagsAppend     = OpenFlags{Write: true, Append: true}
)

// Handle identifies an open file within a single provider. It carries no
// meaning outside the provider that issued it.
type Handle uint64
