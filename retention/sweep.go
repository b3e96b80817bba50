// Package retention reclaims archived log files once they age out of a
// retention window. Expired files are deleted or moved to a terminal
// directory. Files a compressor may still be working on are left alone until
// they are well past the window. A Sweeper runs SweepDir on a schedule for
// every registered archive directory.
package retention

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/event"
	"golift.io/logrotor/filer"
)

// Options are optional inputs to SweepDir.
type Options struct {
	Logger *slog.Logger
	Hook   event.Hook
	// Now is used in place of time.Now when set.
	Now func() time.Time
}

func (o *Options) now() time.Time {
	if o == nil || o.Now == nil {
		return time.Now()
	}

	return o.Now()
}

func (o *Options) logger() *slog.Logger {
	if o == nil || o.Logger == nil {
		return slog.Default()
	}

	return o.Logger
}

func (o *Options) emit(e *event.Event) {
	if o != nil {
		o.Hook.Emit(e)
	}
}

// TerminalDir returns the absolute directory Move sends files from dir to.
func (d Destination) TerminalDir(dir *archive.Dir) string {
	if d.Action != Move {
		return ""
	}

	if filepath.IsAbs(d.Dir) {
		return d.Dir
	}

	return filepath.Join(filepath.Dir(dir.Path), d.Dir)
}

// sweep holds the state of one SweepDir call.
type sweep struct {
	ctx    context.Context //nolint:containedctx
	dir    *archive.Dir
	window Window
	opts   *Options
	now    time.Time
	dest   string
	made   bool
	count  int
	errs   *multierror.Error
}

// SweepDir reclaims files in one archive directory that fall outside window:
// first every file older than MaxAge, then the oldest files past MaxCount.
// Each file is re-checked under the directory lock right before it is moved or
// deleted, so a file that vanished or changed meanwhile is skipped, and running
// SweepDir twice reclaims nothing the second time. Returns the number of files
// reclaimed. Errors wrap ErrSweep; one bad file does not stop the rest.
func SweepDir(ctx context.Context, dir *archive.Dir, window Window, opts *Options) (int, error) {
	if err := window.Validate(); err != nil {
		return 0, err
	}

	entries, err := dir.Entries()
	if err != nil {
		err = fmt.Errorf("%w: %s: %w", ErrSweep, dir.Path, err)
		opts.emit(&event.Event{Kind: event.SweepFailed, Stream: dir.Stream, Path: dir.Path, Err: err})

		return 0, err
	}

	s := &sweep{
		ctx:    ctx,
		dir:    dir,
		window: window,
		opts:   opts,
		now:    opts.now(),
		dest:   window.Destination.TerminalDir(dir),
	}

	kept := make([]archive.Entry, 0, len(entries))

	for idx := range entries {
		if err := ctx.Err(); err != nil {
			return s.count, s.fail("", err)
		}

		if !s.expired(&entries[idx]) {
			if !entries[idx].InFlight() {
				kept = append(kept, entries[idx])
			}

			continue
		}

		if !s.reclaim(entries[idx].Name, s.expired) {
			kept = append(kept, entries[idx])
		}
	}

	// kept is oldest first, so the surplus is at the front.
	for idx := 0; window.MaxCount > 0 && idx < len(kept)-window.MaxCount; idx++ {
		if err := ctx.Err(); err != nil {
			return s.count, s.fail("", err)
		}

		s.reclaim(kept[idx].Name, func(e *archive.Entry) bool { return !e.InFlight() })
	}

	return s.count, s.errs.ErrorOrNil()
}

// expired reports whether an entry is outside the age window.
func (s *sweep) expired(entry *archive.Entry) bool {
	if entry.InFlight() {
		return entry.Age(s.now) > s.window.staleAge()
	}

	return entry.Age(s.now) > s.window.MaxAge
}

// reclaim moves or deletes one file and reports whether it did.
func (s *sweep) reclaim(name string, decide func(*archive.Entry) bool) bool {
	start := time.Now()

	dest, ok, err := s.dir.Reclaim(name, decide, s.act)
	if err != nil {
		s.fail(filepath.Join(s.dir.Path, name), err)
		return false
	}

	if !ok {
		return false
	}

	s.count++
	s.opts.logger().Debug("reclaimed archived log",
		"stream", s.dir.Stream, "file", name, "destination", s.window.Destination.String(), "to", dest)
	s.opts.emit(&event.Event{
		Kind:    event.Reclaimed,
		Stream:  s.dir.Stream,
		Path:    filepath.Join(s.dir.Path, name),
		Dest:    dest,
		Elapsed: time.Since(start),
	})

	return true
}

// act runs under the archive lock.
func (s *sweep) act(path string) (string, error) {
	if s.window.Destination.Action != Move {
		if err := s.dir.Remove(path); err != nil {
			return "", fmt.Errorf("removing: %w", err)
		}

		return "", nil
	}

	if !s.made {
		if err := s.dir.MkdirAll(s.dest, dirMode(s.dir)); err != nil {
			return "", fmt.Errorf("making terminal directory: %w", err)
		}

		s.made = true
	}

	dest := s.freeName(filepath.Base(path))
	if err := filer.RenameRetry(s.ctx, s.dir.Filer, path, dest); err != nil {
		return "", fmt.Errorf("moving: %w", err)
	}

	return dest, nil
}

// stampFormat is added to a moved file's name when the terminal directory
// already holds that name. Generation names repeat, so this happens routinely.
const stampFormat = "20060102T150405.000000000"

// freeName returns a path in the terminal directory that nothing occupies.
// A compressed suffix stays last. Runs under the archive lock.
func (s *sweep) freeName(name string) string {
	dest := filepath.Join(s.dest, name)
	if !s.taken(dest) {
		return dest
	}

	stem, ext := name, ""
	if strings.HasSuffix(name, archive.GZext) {
		stem, ext = strings.TrimSuffix(name, archive.GZext), archive.GZext
	}

	stem += archive.Joiner + s.now.Format(stampFormat)
	dest = filepath.Join(s.dest, stem+ext)

	for idx := 1; s.taken(dest); idx++ {
		dest = filepath.Join(s.dest, stem+"-"+strconv.Itoa(idx)+ext)
	}

	return dest
}

func (s *sweep) taken(path string) bool {
	_, err := s.dir.Stat(path)
	return err == nil
}

func (s *sweep) fail(path string, err error) error {
	err = fmt.Errorf("%w: %s: %w", ErrSweep, s.dir.Stream, err)
	s.errs = multierror.Append(s.errs, err)

	s.opts.logger().Error("sweeping archive", "stream", s.dir.Stream, "file", path, "error", err)
	s.opts.emit(&event.Event{Kind: event.SweepFailed, Stream: s.dir.Stream, Path: path, Err: err})

	return s.errs.ErrorOrNil()
}

func dirMode(dir *archive.Dir) os.FileMode {
	if dir.DirMode == 0 {
		return archive.DirMode
	}

	return dir.DirMode
}
