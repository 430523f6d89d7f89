//go:build !linux && !darwin

package localfs

import (
	"context"
	"os"

	fs9 "github.com/fs9fs/fs9/fs"
)

func fillSysInfo(info *fs9.FileInfo, osInfo os.FileInfo) {
	info.Atime = osInfo.ModTime()
	info.Mtime = osInfo.ModTime()
	info.Ctime = osInfo.ModTime()
}

// StatFS implements fs9.Provider with synthetic numbers on platforms
// without statfs(2).
func (f *Fs) StatFS(ctx context.Context, p string) (fs9.FsStats, error) {
	if _, err := f.hostPath(normalize(p)); err != nil {
		return fs9.FsStats{}, err
	}
	const total = 1 << 40
	return fs9.FsStats{
		TotalBytes:  total,
		FreeBytes:   total / 2,
		TotalInodes: 1_000_000,
		FreeInodes:  500_000,
		BlockSize:   4096,
		MaxNameLen:  255,
	}, nil
}
