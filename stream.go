package logrotor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"golift.io/logrotor/archive"
	"golift.io/logrotor/event"
	"golift.io/logrotor/filer"
)

// openRetryInterval is how long to wait before retrying openLog after a failure.
// Prevents a storm of syscalls when the log file has permission or other persistent errors.
// Failed rotations are retried on the same interval.
const openRetryInterval = 10 * time.Second

// Stream is one active log file. Use it as an io.Writer. Many goroutines may
// write at once; they share a read lock, and only rotation takes the write lock.
// Streams never share locks with each other.
type Stream struct {
	name     string
	path     string
	policy   Policy
	fileMode os.FileMode
	dirMode  os.FileMode
	dir      *archive.Dir
	archiver Archiver
	log      *slog.Logger
	hook     event.Hook
	enqueue  func(dir *archive.Dir, file archive.File) error
	filer.Filer

	size atomic.Int64 // bytes in the active file. Only rotation lowers it.

	mu          sync.RWMutex
	file        *os.File  // nil when the active file could not be opened.
	epoch       uint64    // bumped by each rotation.
	closed      bool
	lastOpenErr error     // last error from openLog; used to avoid retry storm.
	lastOpened  time.Time // when openLog was last attempted (for backoff).
	lastFailed  time.Time // when rotation last failed (for backoff).
}

// Name returns the stream's name.
func (s *Stream) Name() string {
	return s.name
}

// Path returns the active log file path.
func (s *Stream) Path() string {
	return s.path
}

// Policy returns the stream's rotation policy.
func (s *Stream) Policy() Policy {
	return s.policy
}

// Archive returns the stream's archive directory.
func (s *Stream) Archive() *archive.Dir {
	return s.dir
}

// Size returns the number of bytes in the active file. It never goes down
// except when a rotation replaces the file.
func (s *Stream) Size() int64 {
	return s.size.Load()
}

// Write appends p to the active file and rotates it once it reaches MaxSize.
// The write that crosses the limit lands in the old file. Errors wrap ErrWriteFailure.
func (s *Stream) Write(p []byte) (int, error) {
	for {
		s.mu.RLock()

		if s.closed {
			s.mu.RUnlock()
			return 0, fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.name, ErrClosed)
		}

		if s.file == nil {
			s.mu.RUnlock()

			if err := s.reopen(); err != nil {
				return 0, err
			}

			continue
		}

		n, err := s.file.Write(p)
		size := s.size.Add(int64(n))
		epoch := s.epoch
		s.mu.RUnlock()

		if err != nil {
			return n, fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.name, err)
		}

		if size >= s.policy.MaxSize {
			s.checkAndRotate(epoch)
		}

		return n, nil
	}
}

// Rotate forces the log to rotate immediately. Returns the archived file.
func (s *Stream) Rotate() (archive.File, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return archive.File{}, fmt.Errorf("%w: %s", ErrClosed, s.name)
	}

	return s.rotate()
}

// Close closes the active file. Writes after Close return ErrClosed.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.closed = true

	return s.close()
}

// reopen opens the active file after an earlier failure, at most once per openRetryInterval.
func (s *Stream) reopen() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch {
	case s.closed:
		return fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.name, ErrClosed)
	case s.file != nil:
		return nil
	case s.lastOpenErr != nil && time.Since(s.lastOpened) < openRetryInterval:
		return fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.name, s.lastOpenErr)
	}

	if err := s.openLog(); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrWriteFailure, s.name, err)
	}

	return nil
}

// checkAndRotate rotates the file if nobody beat us to it.
// epoch is the rotation count the caller's write landed in.
func (s *Stream) checkAndRotate(epoch uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.epoch != epoch || s.file == nil || s.size.Load() < s.policy.MaxSize {
		return
	}

	if !s.lastFailed.IsZero() && time.Since(s.lastFailed) < openRetryInterval {
		return
	}

	_, _ = s.rotate() // logged and emitted.
}

// rotate closes the active file, archives it, and opens a new one. Caller holds the write lock.
// If the archive step fails, the old file is reopened and appended to.
func (s *Stream) rotate() (archive.File, error) {
	size := s.size.Load()

	if err := s.close(); err != nil {
		s.log.Warn("closing log file for rotation", "stream", s.name, "file", s.path, "error", err)
	}

	file, dropped, err := s.archiver.Rotate(s.path)
	for _, path := range dropped {
		s.log.Debug("dropped old generation", "stream", s.name, "file", path)
		s.hook.Emit(&event.Event{Kind: event.Dropped, Stream: s.name, Path: path})
	}

	if err != nil {
		s.lastFailed = time.Now()
		err = fmt.Errorf("%w: %s: %w", ErrRotationFailure, s.name, err)
		s.log.Error("rotating log file", "stream", s.name, "file", s.path, "size", size, "error", err)
		s.hook.Emit(&event.Event{Kind: event.RotateFailed, Stream: s.name, Path: s.path, Size: size, Err: err})

		if oerr := s.openLog(); oerr != nil {
			s.log.Error("reopening log file after failed rotation", "stream", s.name, "file", s.path, "error", oerr)
		}

		return archive.File{}, err
	}

	s.epoch++
	s.lastFailed = time.Time{}

	if err := s.openLog(); err != nil {
		// Later writes retry the open with backoff.
		s.size.Store(0)
		s.log.Error("opening new log file", "stream", s.name, "file", s.path, "error", err)
		s.hook.Emit(&event.Event{Kind: event.RotateFailed, Stream: s.name, Path: s.path, Err: err})
	}

	s.log.Debug("rotated log file", "stream", s.name, "archived", file.Path, "size", size)
	s.hook.Emit(&event.Event{
		Kind:       event.Rotated,
		Stream:     s.name,
		Path:       file.Path,
		Generation: file.Generation,
		Size:       size,
	})

	if s.policy.Compress && file.State == archive.Pending && s.enqueue != nil {
		if err := s.enqueue(s.dir, file); err != nil {
			s.log.Warn("not compressing rotated file", "stream", s.name, "file", file.Path, "error", err)
		}
	}

	return file, nil
}

// openLog opens the log file for writing. Caller holds the write lock.
// If the file exists, it is appended to. If it does not exist, it is created.
// Any necessary folders are also created.
func (s *Stream) openLog() error {
	s.lastOpened = time.Now()
	s.lastOpenErr = s.open()

	return s.lastOpenErr
}

func (s *Stream) open() error {
	err := s.MkdirAll(filepath.Dir(s.path), s.dirMode)
	if err != nil {
		return fmt.Errorf("making directories for logfiles: %w", err)
	}

	flag := os.O_WRONLY | os.O_APPEND | os.O_CREATE

	if info, err := s.Stat(s.path); err != nil {
		// File doesn't exist, or something wrong, truncate it!
		flag |= os.O_TRUNC
		s.size.Store(0)
	} else {
		// File exists, append to it!
		s.size.Store(info.Size())
	}

	if s.file, err = s.OpenFile(s.path, flag, s.fileMode); err != nil {
		s.file = nil
		return fmt.Errorf("error with new logfile: %w", err)
	}

	return nil
}

// close closes the active log file. Caller holds the write lock.
func (s *Stream) close() error {
	if s.file == nil {
		return nil
	}

	err := s.file.Close()
	s.file = nil

	if err != nil {
		return fmt.Errorf("closing log file %s: %w", s.path, err)
	}

	return nil
}

// Our Stream must satisfy an io.WriteCloser.
var _ io.WriteCloser = (*Stream)(nil)
