package archive_test

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/mocks"
)

var errTest = errors.New("this is a test error")

func testFakeFiles(mockCtrl *gomock.Controller, count int) ([]*mocks.MockFileInfo, []os.FileInfo) {
	var (
		fakes = make([]*mocks.MockFileInfo, count)
		files = make([]os.FileInfo, count)
	)

	for i := range count {
		fake := mocks.NewMockFileInfo(mockCtrl)
		fakes[i] = fake
		files[i] = fake
	}

	return fakes, files
}

func TestRotateFirst(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	mockFiler := mocks.NewMockFiler(mockCtrl)
	dir := archive.New("APP", "/var/log/service.log", "/var/log/archived", 5, true)
	dir.Filer = mockFiler

	mockFiler.EXPECT().MkdirAll("/var/log/archived", gomock.Any()).AnyTimes()
	mockFiler.EXPECT().ReadDir("/var/log/archived")
	mockFiler.EXPECT().Rename("/var/log/service.log", "/var/log/archived/service.log.1")
	//
	file, dropped, err := dir.Rotate("/var/log/service.log")
	assert.NoError(err)
	assert.Empty(dropped)
	assert.Equal("/var/log/archived/service.log.1", file.Path)
	assert.Equal(1, file.Generation)
	assert.Equal(archive.Pending, file.State)
	assert.Equal("APP", file.Stream)

	// Make sure a rename failure returns an error and tracks nothing.
	mockFiler.EXPECT().ReadDir("/var/log/archived")
	mockFiler.EXPECT().Rename("/var/log/service.log", "/var/log/archived/service.log.1").Return(errTest)
	//
	_, _, err = dir.Rotate("/var/log/service.log")
	assert.ErrorIs(err, errTest)
	assert.Len(dir.Files(), 1, "only the first rotation may be tracked")
}

func TestRotateShiftAndDrop(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	mockFiler := mocks.NewMockFiler(mockCtrl)
	dir := archive.New("APP", "/var/log/service.log", "/var/log/archived", 5, false)
	dir.Filer = mockFiler

	// Make sure files rotate correctly.. we have some extras to delete too.
	fakes, fakeFiles := testFakeFiles(mockCtrl, 10)
	gomock.InOrder(
		mockFiler.EXPECT().MkdirAll("/var/log/archived", gomock.Any()),
		mockFiler.EXPECT().ReadDir("/var/log/archived").Return(fakeFiles, nil),
		// We may only have 5 generations after this rotation.
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.10.gz"),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.9.gz"),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.8.gz"),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.7.gz"),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.6.gz"),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.5.gz"),
		mockFiler.EXPECT().Rename("/var/log/archived/service.log.4.gz", "/var/log/archived/service.log.5.gz"),
		mockFiler.EXPECT().Rename("/var/log/archived/service.log.3.gz", "/var/log/archived/service.log.4.gz"),
		mockFiler.EXPECT().Rename("/var/log/archived/service.log.2.gz", "/var/log/archived/service.log.3.gz"),
		mockFiler.EXPECT().Rename("/var/log/archived/service.log.1.gz", "/var/log/archived/service.log.2.gz"),
		mockFiler.EXPECT().Rename("/var/log/service.log", "/var/log/archived/service.log.1"), // no gz.
	)
	//
	for i := range fakes {
		fakes[i].EXPECT().Name().Return("service.log." + strconv.Itoa(i+1) + ".gz")
	}
	//
	file, dropped, err := dir.Rotate("/var/log/service.log")
	assert.NoError(err)
	assert.Equal("/var/log/archived/service.log.1", file.Path)
	assert.Equal(archive.Plain, file.State, "compression is off for this dir")
	assert.Len(dropped, 6)

	// Make sure a delete failure returns an error.
	gomock.InOrder(
		mockFiler.EXPECT().MkdirAll("/var/log/archived", gomock.Any()),
		mockFiler.EXPECT().ReadDir("/var/log/archived").Return(fakeFiles, nil),
		mockFiler.EXPECT().Remove("/var/log/archived/service.log.10.gz").Return(errTest),
	)
	//
	for i := range fakes {
		fakes[i].EXPECT().Name().Return("service.log." + strconv.Itoa(i+1) + ".gz")
	}
	//
	_, _, err = dir.Rotate("/var/log/service.log")
	assert.ErrorIs(err, errTest)
}

func TestRotateIgnoresForeignFiles(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	mockCtrl := gomock.NewController(t)
	defer mockCtrl.Finish()

	mockFiler := mocks.NewMockFiler(mockCtrl)
	dir := archive.New("APP", "/var/log/service.log", "/var/log", 2, true)
	dir.Filer = mockFiler

	fakes, fakeFiles := testFakeFiles(mockCtrl, 4)
	fakes[0].EXPECT().Name().Return("service.log")        // the active file itself.
	fakes[1].EXPECT().Name().Return("service.log.x.gz")   // not a number.
	fakes[2].EXPECT().Name().Return("other.log.1.gz")     // someone else's.
	fakes[3].EXPECT().Name().Return(".service.log.a.tmp") // compressor output.

	mockFiler.EXPECT().MkdirAll("/var/log", gomock.Any())
	mockFiler.EXPECT().ReadDir("/var/log").Return(fakeFiles, nil)
	mockFiler.EXPECT().Rename("/var/log/service.log", "/var/log/service.log.1")

	_, dropped, err := dir.Rotate("/var/log/service.log")
	assert.NoError(err)
	assert.Empty(dropped)
}

// testDir makes a real archive directory with an active file holding data.
func testDir(t *testing.T, maxGens int, compress bool) (*archive.Dir, string) {
	t.Helper()

	base := t.TempDir()
	active := filepath.Join(base, "app.log")
	dir := archive.New("APP", active, filepath.Join(base, "archived"), maxGens, compress)

	return dir, active
}

func writeFile(t *testing.T, path, data string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
}

func TestFinishFollowsShift(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir, active := testDir(t, 3, true)

	writeFile(t, active, "first")
	first, _, err := dir.Rotate(active)
	require.NoError(t, err)

	src, opened, err := dir.OpenSource(first.ID)
	require.NoError(t, err)
	defer src.Close()
	assert.Equal(first.Path, opened.Path)

	// A second rotation shifts the file being compressed to generation 2.
	writeFile(t, active, "second")
	_, _, err = dir.Rotate(active)
	require.NoError(t, err)

	tmp := dir.TempName("token")
	writeFile(t, tmp, "gzip bytes")

	done, err := dir.Finish(first.ID, tmp, nil)
	require.NoError(t, err)
	assert.Equal(archive.Compressed, done.State)
	assert.Equal(filepath.Join(dir.Path, "app.log.2.gz"), done.Path)
	assert.Equal(2, done.Generation)
	assert.NoFileExists(filepath.Join(dir.Path, "app.log.2"), "the plain file must be removed")
	assert.NoFileExists(tmp)
	assert.FileExists(filepath.Join(dir.Path, "app.log.1"), "generation 1 is untouched")

	// Finishing twice is not allowed.
	_, err = dir.Finish(first.ID, tmp, nil)
	assert.ErrorIs(err, archive.ErrGone)
}

func TestFinishFailure(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir, active := testDir(t, 2, true)

	writeFile(t, active, "data")
	file, _, err := dir.Rotate(active)
	require.NoError(t, err)

	tmp := dir.TempName("broken")
	writeFile(t, tmp, "half")

	failed, err := dir.Finish(file.ID, tmp, errTest)
	assert.ErrorIs(err, errTest)
	assert.Equal(archive.Failed, failed.State)
	assert.ErrorIs(failed.Err, errTest)
	assert.NoFileExists(tmp, "temp output must be removed on failure")
	assert.FileExists(file.Path, "the plain file must stay for the sweeper")

	_, _, err = dir.OpenSource(file.ID)
	assert.ErrorIs(err, archive.ErrGone, "failed files are not compressed again")
}

func TestFinishAfterDrop(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir, active := testDir(t, 1, true)

	writeFile(t, active, "one")
	file, _, err := dir.Rotate(active)
	require.NoError(t, err)

	writeFile(t, active, "two")
	_, dropped, err := dir.Rotate(active)
	require.NoError(t, err)
	assert.Equal([]string{file.Path}, dropped)

	tmp := dir.TempName("late")
	writeFile(t, tmp, "gz")

	_, err = dir.Finish(file.ID, tmp, nil)
	assert.ErrorIs(err, archive.ErrGone)
	assert.NoFileExists(tmp)
	assert.Len(dir.Files(), 1)
}

func TestRecover(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir, _ := testDir(t, 5, true)
	require.NoError(t, os.MkdirAll(dir.Path, 0o750))

	writeFile(t, filepath.Join(dir.Path, "app.log.1"), "plain")
	writeFile(t, filepath.Join(dir.Path, "app.log.2.gz"), "gz")
	writeFile(t, filepath.Join(dir.Path, "app.log.3"), "leftover")
	writeFile(t, filepath.Join(dir.Path, "app.log.3.gz"), "gz")
	writeFile(t, filepath.Join(dir.Path, ".app.log.dead.tmp"), "partial")
	writeFile(t, filepath.Join(dir.Path, "notes.txt"), "not ours")

	pending, err := dir.Recover()
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(filepath.Join(dir.Path, "app.log.1"), pending[0].Path)
	assert.Equal(archive.Pending, pending[0].State)

	assert.NoFileExists(filepath.Join(dir.Path, "app.log.3"))
	assert.NoFileExists(filepath.Join(dir.Path, ".app.log.dead.tmp"))
	assert.FileExists(filepath.Join(dir.Path, "notes.txt"))

	files := dir.Files()
	require.Len(t, files, 3)
	assert.Equal(archive.Pending, files[0].State)
	assert.Equal(archive.Compressed, files[1].State)
	assert.Equal(archive.Compressed, files[2].State)

	// Recovering again adopts nothing new.
	pending, err = dir.Recover()
	assert.NoError(err)
	assert.Empty(pending)

	// A missing directory is not an error.
	empty := archive.New("X", "/nonexistent/x.log", filepath.Join(t.TempDir(), "nope"), 1, true)
	pending, err = empty.Recover()
	assert.NoError(err)
	assert.Empty(pending)
}

func TestEntriesAndReclaim(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)
	dir, active := testDir(t, 3, true)

	writeFile(t, active, "data")
	file, _, err := dir.Rotate(active)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir.Path, "test.log.gz"), "foreign")
	writeFile(t, dir.TempName("inflight"), "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir.Path, "subdir"), 0o750))

	entries, err := dir.Entries()
	require.NoError(t, err)
	require.Len(t, entries, 3, "directories are not entries")

	byName := map[string]archive.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}

	gen := byName["app.log.1"]
	assert.Equal(1, gen.Generation)
	assert.Equal(archive.Pending, gen.State)
	assert.True(gen.InFlight())

	foreign := byName["test.log.gz"]
	assert.Equal(archive.Untracked, foreign.State)
	assert.Equal(0, foreign.Generation)
	assert.False(foreign.InFlight())

	assert.True(byName[".app.log.inflight.tmp"].Temp)

	remove := func(path string) (string, error) { return "", os.Remove(path) }
	never := func(*archive.Entry) bool { return false }
	always := func(*archive.Entry) bool { return true }

	_, ok, err := dir.Reclaim("app.log.1", never, remove)
	assert.NoError(err)
	assert.False(ok, "a file the decider rejects stays")
	assert.FileExists(file.Path)

	_, ok, err = dir.Reclaim("app.log.1", always, remove)
	assert.NoError(err)
	assert.True(ok)
	assert.Empty(dir.Files(), "reclaimed files are no longer tracked")

	// Already gone: benign.
	_, ok, err = dir.Reclaim("app.log.1", always, remove)
	assert.NoError(err)
	assert.False(ok)

	_, ok, err = dir.Reclaim("test.log.gz", always, func(string) (string, error) { return "", errTest })
	assert.ErrorIs(err, errTest)
	assert.False(ok)

	_, err = archive.New("X", "x.log", filepath.Join(t.TempDir(), "missing"), 1, true).Entries()
	assert.Error(err)
}

func TestStateAdvance(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	assert.True(archive.Pending.CanAdvance(archive.Compressed))
	assert.True(archive.Pending.CanAdvance(archive.Failed))
	assert.True(archive.Pending.CanAdvance(archive.Reclaimed))
	assert.True(archive.Failed.CanAdvance(archive.Reclaimed))
	assert.True(archive.Plain.CanAdvance(archive.Reclaimed))
	assert.False(archive.Compressed.CanAdvance(archive.Pending))
	assert.False(archive.Failed.CanAdvance(archive.Compressed))
	assert.False(archive.Reclaimed.CanAdvance(archive.Pending))
	assert.False(archive.Untracked.CanAdvance(archive.Reclaimed))
	assert.Equal("compressed", archive.Compressed.String())
	assert.Equal("invalid", archive.State(42).String())
}
