package archive

import (
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"golift.io/logrotor/filer"
)

// Entry is a file found in an archive directory. It need not be tracked: a
// sweep also reclaims files left by other processes or earlier runs.
type Entry struct {
	Name       string
	Path       string
	Size       int64
	ModTime    time.Time
	Generation int   // 0 when the name is not a generation of this Dir.
	State      State // Untracked when this Dir has no record of the file.
	Temp       bool  // Compressor output that has not been renamed into place.
}

// InFlight reports whether a compressor may still be working on this entry.
func (e *Entry) InFlight() bool {
	return e.Temp || e.State == Pending
}

// Age returns how long ago the entry was last modified.
func (e *Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.ModTime)
}

// Entries lists the regular files in the archive directory, oldest first.
func (d *Dir) Entries() ([]Entry, error) {
	infos, err := d.ReadDir(d.Path)
	if err != nil {
		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]Entry, 0, len(infos))

	for _, info := range infos {
		if info.IsDir() {
			continue
		}

		list = append(list, d.entry(info.Name(), info.Size(), info.ModTime()))
	}

	sortEntries(list)

	return list, nil
}

// Reclaim re-checks one entry under the lock and, if decide still agrees,
// hands its path to act. act returns the destination path, or "" for a delete.
// A file that no longer exists is not an error: reclaimed is false.
func (d *Dir) Reclaim(name string, decide func(*Entry) bool,
	act func(path string) (string, error),
) (dest string, reclaimed bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.Path, name)

	info, err := d.Stat(path)
	if err != nil {
		if filer.IsNotExist(err) {
			return "", false, nil
		}

		return "", false, fmt.Errorf("checking %s: %w", name, err)
	}

	entry := d.entry(name, info.Size(), info.ModTime())
	if !decide(&entry) {
		return "", false, nil
	}

	if dest, err = act(path); err != nil {
		if filer.IsNotExist(err) {
			d.forget(path)
			return "", false, nil
		}

		return "", false, err
	}

	d.forget(path)

	return dest, true, nil
}

// entry builds an Entry. Caller holds the lock.
func (d *Dir) entry(name string, size int64, mtime time.Time) Entry {
	entry := Entry{
		Name:    name,
		Path:    filepath.Join(d.Path, name),
		Size:    size,
		ModTime: mtime,
		State:   Untracked,
		Temp:    d.isTemp(name),
	}

	if num, _, ok := d.parseGeneration(name); ok {
		entry.Generation = num
	}

	if file := d.findPath(entry.Path); file != nil {
		entry.State = file.State
	}

	return entry
}

func sortEntries(list []Entry) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].ModTime.Before(list[j].ModTime) })
}
