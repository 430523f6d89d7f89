package pagefs

import (
	"time"

	"github.com/fs9fs/fs9/fs"
)

// RootInode is the id of the root directory, present from bootstrap on.
const RootInode = 1

// Inode is the persistent record of one pagefs entity, stored as JSON under
// its I-key.
type Inode struct {
	ID        uint64 `json:"id"`
	Mode      uint32 `json:"mode"`
	Directory bool   `json:"directory"`
	Size      uint64 `json:"size"`
	PageCount uint64 `json:"page_count"`
	Atime     int64  `json:"atime"`
	Mtime     int64  `json:"mtime"`
	Ctime     int64  `json:"ctime"`
}

func newFileInode(id uint64, mode uint32) *Inode {
	now := time.Now().Unix()
	return &Inode{ID: id, Mode: mode, Size: 0, PageCount: 0, Atime: now, Mtime: now, Ctime: now}
}

func newDirInode(id uint64, mode uint32) *Inode {
	now := time.Now().Unix()
	return &Inode{ID: id, Mode: mode, Directory: true, Atime: now, Mtime: now, Ctime: now}
}

func (i *Inode) isDir() bool { return i.Directory }

func (i *Inode) touchAtime() { i.Atime = time.Now().Unix() }
func (i *Inode) touchMtime() { i.Mtime = time.Now().Unix() }

func (i *Inode) fileType() fs.FileType {
	if i.Directory {
		return fs.TypeDirectory
	}
	return fs.TypeRegular
}

// Superblock is the filesystem-wide record stored under the S-key.
type Superblock struct {
	PageSize   uint32 `json:"page_size"`
	TotalPages uint64 `json:"total_pages"`
	UsedPages  uint64 `json:"used_pages"`
	NextInode  uint64 `json:"next_inode"`
}

func defaultSuperblock() *Superblock {
	return &Superblock{
		PageSize:   PageSize,
		TotalPages: 1 << 20, // 16 GiB of 16 KiB pages
		UsedPages:  0,
		NextInode:  RootInode + 1,
	}
}
