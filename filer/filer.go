// Package filer is the file system seam shared by the archive, compressor and
// retention packages. Override it to gain more control of file operations, or
// to inject failures in tests.
package filer

//go:generate mockgen -destination=../mocks/filer.go -package=mocks golift.io/logrotor/filer Filer
//go:generate mockgen -destination=../mocks/fileinfo.go -package=mocks os FileInfo

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"
)

// Filer is used to override file-managing procedures.
type Filer interface {
	Remove(fileName string) error
	Rename(fileName, newPath string) error
	ReadDir(dirPath string) ([]os.FileInfo, error)
	MkdirAll(path string, perm os.FileMode) error
	OpenFile(name string, flag int, perm os.FileMode) (*os.File, error)
	Stat(filename string) (*FileInfo, error)
}

// Default returns a Filer interface that works, using default procedures.
func Default() Filer {
	return &File{}
}

// FileInfo contains normal os.FileInfo + file creation time.
// Created by Stat().
type FileInfo struct {
	os.FileInfo
	CreateTime time.Time
}

// File can be embedded in a custom type to provide the missing methods for the Filer interface.
type File struct{}

// Remove provides os.Remove.
func (f *File) Remove(fileName string) error {
	return os.Remove(fileName)
}

// Rename provides os.Rename.
func (f *File) Rename(fileName, newPath string) error {
	return os.Rename(fileName, newPath)
}

// ReadDir lists a directory and stats every entry. Entries that disappear
// between the listing and the stat are skipped.
func (f *File) ReadDir(dirname string) ([]os.FileInfo, error) {
	entries, err := os.ReadDir(dirname)
	if err != nil {
		return nil, err //nolint:wrapcheck
	}

	infos := make([]os.FileInfo, 0, len(entries))

	for _, entry := range entries {
		info, err := entry.Info()
		if err != nil {
			continue // gone already.
		}

		infos = append(infos, info)
	}

	return infos, nil
}

// MkdirAll provides os.MkdirAll.
func (f *File) MkdirAll(path string, perm os.FileMode) error {
	return os.MkdirAll(path, perm)
}

// OpenFile provides os.OpenFile.
func (f *File) OpenFile(name string, flag int, perm os.FileMode) (*os.File, error) {
	return os.OpenFile(name, flag, perm)
}

// Stat provides custom file stats that wrap os.Stat output.
func (f *File) Stat(filename string) (*FileInfo, error) {
	return Stat(filename)
}

// Stat returns a *FileInfo with the platform's best guess at a creation time.
// Where the platform has none, CreateTime is the modification time.
func Stat(filename string) (*FileInfo, error) {
	fileStat, err := os.Stat(filename)
	if err != nil {
		return nil, fmt.Errorf("stat err: %w", err)
	}

	return &FileInfo{FileInfo: fileStat, CreateTime: createTime(fileStat)}, nil
}

// IsNotExist reports whether err says a file is already gone.
// Other goroutines routinely remove or move archive files, so callers treat this as benign.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
