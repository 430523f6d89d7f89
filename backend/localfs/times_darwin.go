//go:build darwin

package localfs

import "syscall"

func statAtime(st *syscall.Stat_t) (int64, int64) { return st.Atimespec.Sec, st.Atimespec.Nsec }
func statMtime(st *syscall.Stat_t) (int64, int64) { return st.Mtimespec.Sec, st.Mtimespec.Nsec }
func statCtime(st *syscall.Stat_t) (int64, int64) { return st.Ctimespec.Sec, st.Ctimespec.Nsec }
