package archive

import (
	"errors"
	"time"
)

// ErrGone is returned when an archived file is no longer tracked, usually
// because rotation dropped it or a sweep reclaimed it.
var ErrGone = errors.New("archived file is gone")

// State is the compression state of an archived file.
type State uint8

// A rotated file starts Pending (or Plain when compression is off) and only moves forward.
const (
	Pending    State = iota // Waiting for, or undergoing, compression.
	Compressed              // Path ends in .gz.
	Failed                  // Compression failed; the plain file is left for the sweeper.
	Plain                   // Compression is disabled for this stream.
	Reclaimed               // Moved or deleted. Dropped from tracking.
	Untracked               // Only used on Entry: not a file this process rotated or recovered.
)

// String makes State readable in logs.
func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Compressed:
		return "compressed"
	case Failed:
		return "failed"
	case Plain:
		return "plain"
	case Reclaimed:
		return "reclaimed"
	case Untracked:
		return "untracked"
	default:
		return "invalid"
	}
}

// CanAdvance reports whether a file in state s may move to state to.
func (s State) CanAdvance(to State) bool {
	switch s {
	case Pending:
		return to == Compressed || to == Failed || to == Reclaimed
	case Compressed, Failed, Plain:
		return to == Reclaimed
	default:
		return false
	}
}

// File is one rotated log file owned by a stream.
// Values returned by Dir are copies; the Dir keeps the live record.
type File struct {
	ID         uint64    // Unique within a Dir. Survives generation shifts.
	Stream     string    // Owning stream name.
	Generation int       // 1 is the most recent rotation.
	Path       string    // Current location. Changes on shift and compression.
	Rotated    time.Time // When this file was rotated (or its mtime when recovered).
	State      State
	Err        error // Set when State is Failed.
}

func (f *File) advance(to State) bool {
	if !f.State.CanAdvance(to) {
		return false
	}

	f.State = to

	return true
}
