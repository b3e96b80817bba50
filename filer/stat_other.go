//go:build !linux && !darwin && !freebsd && !windows

package filer

import (
	"os"
	"time"
)

func createTime(info os.FileInfo) time.Time {
	return info.ModTime()
}
