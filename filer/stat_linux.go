package filer

import (
	"os"
	"syscall"
	"time"
)

// Linux stat(2) has no birth time; the inode change time is the closest thing.
func createTime(info os.FileInfo) time.Time {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return info.ModTime()
	}

	return time.Unix(stat.Ctim.Sec, stat.Ctim.Nsec) //nolint:unconvert
}
