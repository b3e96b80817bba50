// Package archive keeps one stream's archive directory: it numbers rotated files
// into generations (service.log.1 is always the newest), drops generations past
// the limit, and tracks each archived file's compression state so the compressor
// and the sweeper can work on the same directory without stepping on each other.
//
// Every Dir has its own lock. Streams never share one.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golift.io/logrotor/filer"
)

// Some constants this package uses.
const (
	GZext   = ".gz"  // appended to compressed generations.
	Joiner  = "."    // joins the active file name with the generation.
	TmpExt  = ".tmp" // suffix of in-progress compressor output.
	DirMode = 0o750  // used when DirMode is not set.
)

// Dir is a stream's view of its archive directory.
type Dir struct {
	Stream         string      // Owning stream name.
	Path           string      // The archive directory.
	Base           string      // Base name of the active file, e.g. app.log.
	MaxGenerations int         // Generations kept. 0 keeps all of them.
	Compress       bool        // New generations start Pending instead of Plain.
	DirMode        os.FileMode // Mode for the archive directory.
	filer.Filer

	mu    sync.Mutex
	files []*File
	seq   uint64
}

// New returns a Dir for a stream's active file and archive directory.
func New(stream, activePath, archiveDir string, maxGenerations int, compress bool) *Dir {
	return &Dir{
		Stream:         stream,
		Path:           archiveDir,
		Base:           filepath.Base(activePath),
		MaxGenerations: maxGenerations,
		Compress:       compress,
		DirMode:        DirMode,
		Filer:          filer.Default(),
	}
}

// Dirs returns the directories this Dir needs created.
func (d *Dir) Dirs() []string {
	return []string{d.Path}
}

// Rotate moves a closed active file into the archive as generation 1. Generations
// that would pass MaxGenerations are deleted first, then the rest shift up by one,
// highest first, so no two files ever claim the same generation. Returns the new
// archived file and the paths that were deleted.
func (d *Dir) Rotate(activePath string) (File, []string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.DirMode == 0 {
		d.DirMode = DirMode
	}

	if err := d.MkdirAll(d.Path, d.DirMode); err != nil {
		return File{}, nil, fmt.Errorf("making archive directory: %w", err)
	}

	var (
		list    = d.scan()
		kept    = make(generations, 0, len(list))
		dropped []string
	)

	for _, gen := range list {
		if d.MaxGenerations < 1 || gen.num < d.MaxGenerations {
			kept = append(kept, gen)
			continue
		}

		if err := d.Remove(gen.path); err != nil && !filer.IsNotExist(err) {
			return File{}, dropped, fmt.Errorf("error removing generation %d: %w", gen.num, err)
		}

		d.forget(gen.path)
		dropped = append(dropped, gen.path)
	}

	for _, gen := range kept {
		newPath := d.genPath(gen.num+1, gen.gz)

		if err := d.Rename(gen.path, newPath); err != nil {
			if filer.IsNotExist(err) {
				d.forget(gen.path) // swept away underneath us.
				continue
			}

			return File{}, dropped, fmt.Errorf("error shifting generation %d: %w", gen.num, err)
		}

		d.moved(gen.path, newPath, gen.num+1)
	}

	newPath := d.genPath(1, false)
	if err := d.Rename(activePath, newPath); err != nil {
		return File{}, dropped, fmt.Errorf("error archiving active file: %w", err)
	}

	file := d.track(newPath, 1, time.Now())

	return *file, dropped, nil
}

// Recover adopts generations left on disk by a previous process and removes
// stale compressor output. Plain generations of a compressing Dir come back as
// Pending and are returned so they can be queued again.
func (d *Dir) Recover() ([]File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	files, err := d.ReadDir(d.Path)
	if err != nil {
		if filer.IsNotExist(err) {
			return nil, nil
		}

		return nil, fmt.Errorf("reading archive directory: %w", err)
	}

	compressed := make(map[int]bool)

	for _, info := range files {
		if d.isTemp(info.Name()) {
			_ = d.Remove(filepath.Join(d.Path, info.Name()))
			continue
		}

		if num, gz, ok := d.parseGeneration(info.Name()); ok && gz {
			compressed[num] = true
		}
	}

	var pending []File

	for _, gen := range d.scan() {
		if d.findPath(gen.path) != nil {
			continue // already tracked.
		}

		if !gen.gz && compressed[gen.num] {
			// Compression finished but the plain copy was never removed.
			_ = d.Remove(gen.path)
			continue
		}

		mtime := time.Now()
		if info, err := d.Stat(gen.path); err == nil {
			mtime = info.ModTime()
		}

		file := d.track(gen.path, gen.num, mtime)
		if gen.gz {
			file.State = Compressed
		} else if file.State == Pending {
			pending = append(pending, *file)
		}
	}

	return pending, nil
}

// OpenSource opens a Pending file for reading. The file may be renamed while it
// is read; Finish resolves its final location.
func (d *Dir) OpenSource(id uint64) (*os.File, File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file := d.find(id)
	if file == nil || file.State != Pending {
		return nil, File{}, fmt.Errorf("%w: id %d", ErrGone, id)
	}

	src, err := d.OpenFile(file.Path, os.O_RDONLY, 0)
	if err != nil {
		return nil, *file, fmt.Errorf("opening source file: %w", err)
	}

	return src, *file, nil
}

// TempName returns a hidden path in the archive directory for compressor output.
func (d *Dir) TempName(token string) string {
	return filepath.Join(d.Path, Joiner+d.Base+Joiner+token+TmpExt)
}

// IsTemp reports whether a file name is compressor output belonging to this Dir.
func (d *Dir) IsTemp(name string) bool {
	return d.isTemp(name)
}

func (d *Dir) isTemp(name string) bool {
	return strings.HasPrefix(name, Joiner+d.Base+Joiner) && strings.HasSuffix(name, TmpExt)
}

// Finish completes a compression job. When cerr is nil the temp file is renamed
// next to the file's current location with a .gz suffix and the plain file is
// removed. Otherwise, or if the rename fails, the temp file is removed and the
// file is marked Failed. ErrGone means the file was dropped or reclaimed meanwhile.
func (d *Dir) Finish(id uint64, tmpPath string, cerr error) (File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	file := d.find(id)
	if file == nil || file.State != Pending {
		d.removeTemp(tmpPath)
		return File{}, fmt.Errorf("%w: id %d", ErrGone, id)
	}

	if cerr == nil {
		gzPath := file.Path + GZext
		if cerr = d.Rename(tmpPath, gzPath); cerr == nil {
			if err := d.Remove(file.Path); err != nil && !filer.IsNotExist(err) {
				// Recover() removes the plain twin on the next start.
				file.Err = err
			}

			file.Path = gzPath
			file.advance(Compressed)

			return *file, nil
		}
	}

	d.removeTemp(tmpPath)
	file.Err = cerr
	file.advance(Failed)

	return *file, cerr
}

func (d *Dir) removeTemp(tmpPath string) {
	if tmpPath != "" {
		_ = d.Remove(tmpPath)
	}
}

// Files returns a copy of every tracked file, lowest generation first.
func (d *Dir) Files() []File {
	d.mu.Lock()
	defer d.mu.Unlock()

	list := make([]File, 0, len(d.files))
	for _, file := range d.files {
		list = append(list, *file)
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Generation < list[j].Generation })

	return list
}

// track starts bookkeeping for a file. Caller holds the lock.
func (d *Dir) track(path string, num int, rotated time.Time) *File {
	d.seq++

	file := &File{
		ID:         d.seq,
		Stream:     d.Stream,
		Generation: num,
		Path:       path,
		Rotated:    rotated,
		State:      Plain,
	}

	if d.Compress {
		file.State = Pending
	}

	d.files = append(d.files, file)

	return file
}

// forget drops a file from bookkeeping. Caller holds the lock.
func (d *Dir) forget(path string) {
	for idx, file := range d.files {
		if file.Path == path {
			file.advance(Reclaimed)
			d.files = append(d.files[:idx], d.files[idx+1:]...)

			return
		}
	}
}

// moved updates bookkeeping after a shift. Caller holds the lock.
func (d *Dir) moved(oldPath, newPath string, num int) {
	if file := d.findPath(oldPath); file != nil {
		file.Path = newPath
		file.Generation = num
	}
}

func (d *Dir) find(id uint64) *File {
	for _, file := range d.files {
		if file.ID == id {
			return file
		}
	}

	return nil
}

func (d *Dir) findPath(path string) *File {
	for _, file := range d.files {
		if file.Path == path {
			return file
		}
	}

	return nil
}
