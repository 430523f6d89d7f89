//go:build linux

package localfs

import "syscall"

func statAtime(st *syscall.Stat_t) (int64, int64) { return st.Atim.Sec, st.Atim.Nsec }
func statMtime(st *syscall.Stat_t) (int64, int64) { return st.Mtim.Sec, st.Mtim.Nsec }
func statCtime(st *syscall.Stat_t) (int64, int64) { return st.Ctim.Sec, st.Ctim.Nsec }
