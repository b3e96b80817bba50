package filer

import (
	"os"
	"syscall"
	"time"
)

func createTime(info os.FileInfo) time.Time {
	attrs, ok := info.Sys().(*syscall.Win32FileAttributeData)
	if !ok {
		return info.ModTime()
	}

	return time.Unix(0, attrs.CreationTime.Nanoseconds())
}
