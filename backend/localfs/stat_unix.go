//go:build linux || darwin

package localfs

import (
	"context"
	"os"
	"syscall"
	"time"

	fs9 "github.com/fs9fs/fs9/fs"
)

// fillSysInfo copies uid/gid and the stat timestamps out of the platform
// stat structure.
func fillSysInfo(info *fs9.FileInfo, osInfo os.FileInfo) {
	st, ok := osInfo.Sys().(*syscall.Stat_t)
	if !ok {
		info.Mtime = osInfo.ModTime()
		info.Atime = osInfo.ModTime()
		info.Ctime = osInfo.ModTime()
		return
	}
	info.UID = st.Uid
	info.GID = st.Gid
	info.Atime = time.Unix(statAtime(st))
	info.Mtime = time.Unix(statMtime(st))
	info.Ctime = time.Unix(statCtime(st))
}

// StatFS implements fs9.Provider via statfs(2).
func (f *Fs) StatFS(ctx context.Context, p string) (fs9.FsStats, error) {
	host, err := f.hostPath(normalize(p))
	if err != nil {
		return fs9.FsStats{}, err
	}
	var st syscall.Statfs_t
	if err := syscall.Statfs(host, &st); err != nil {
		return fs9.FsStats{}, translateError(err, p)
	}
	return fs9.FsStats{
		TotalBytes:  uint64(st.Blocks) * uint64(st.Bsize),
		FreeBytes:   uint64(st.Bavail) * uint64(st.Bsize),
		TotalInodes: uint64(st.Files),
		FreeInodes:  uint64(st.Ffree),
		BlockSize:   uint32(st.Bsize),
		MaxNameLen:  255,
	}, nil
}
