package logrotor

import "golift.io/logrotor/archive"

//go:generate mockgen -destination=mocks/archiver.go -package=mocks golift.io/logrotor Archiver

// Archiver moves a closed active log file into the archive. *archive.Dir is the
// implementation every stream uses unless StreamConfig.Archiver replaces it.
type Archiver interface {
	// Rotate is called with the stream's write lock held, after the active file
	// is closed. It returns the archived file and any generations it deleted.
	Rotate(activePath string) (file archive.File, dropped []string, err error)
	// Dirs is called once when the stream opens. It returns directories to create.
	Dirs() (dirPaths []string)
}

// Our archive directory must satisfy an Archiver.
var _ Archiver = (*archive.Dir)(nil)
