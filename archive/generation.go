package archive

import (
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

// generation is one backup file found on disk.
type generation struct {
	path string
	num  int
	gz   bool
}

// generations is used to satisfy a sort.Sort interface.
type generations []generation

// Len is part of sort.Interface.
func (g generations) Len() int {
	return len(g)
}

// Swap is part of sort.Interface.
func (g generations) Swap(i, j int) {
	g[i], g[j] = g[j], g[i]
}

// Less is part of sort.Interface. Lowest generation first; a plain file sorts
// before its compressed twin so the pair stays adjacent.
func (g generations) Less(i, j int) bool {
	if g[i].num == g[j].num {
		return !g[i].gz && g[j].gz
	}

	return g[i].num < g[j].num
}

// Our generations type must satify a sort.Interface.
var _ sort.Interface = (generations)(nil)

// parseGeneration returns the generation number in a file name like app.log.3 or
// app.log.3.gz. ok is false when the name does not belong to this Dir.
func (d *Dir) parseGeneration(name string) (num int, gz bool, ok bool) {
	prefix := d.Base + Joiner
	if !strings.HasPrefix(name, prefix) {
		return 0, false, false // not our file.
	}

	part := strings.TrimPrefix(name, prefix)
	if gz = strings.HasSuffix(part, GZext); gz {
		part = strings.TrimSuffix(part, GZext)
	}

	num, err := strconv.Atoi(part)
	if err != nil || num < 1 {
		return 0, false, false
	}

	return num, gz, true
}

// genPath returns the path a generation lives at.
func (d *Dir) genPath(num int, gz bool) string {
	name := d.Base + Joiner + strconv.Itoa(num)
	if gz {
		name += GZext
	}

	return filepath.Join(d.Path, name)
}

// scan finds all the backup files that match our pattern, highest generation first.
func (d *Dir) scan() generations {
	files, err := d.ReadDir(d.Path)
	if err != nil || len(files) == 0 {
		return nil
	}

	list := make(generations, 0, len(files))

	for _, file := range files {
		name := file.Name()
		if num, gz, ok := d.parseGeneration(name); ok {
			list = append(list, generation{path: filepath.Join(d.Path, name), num: num, gz: gz})
		}
	}

	sort.Sort(sort.Reverse(list))

	return list
}
