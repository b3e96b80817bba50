package compressor_test

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/compressor"
	"golift.io/logrotor/event"
)

func TestCompress(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	r, err := compressor.Compress("/does/not/exist/file", 77)
	assert.ErrorIs(err, compressor.ErrCompression)
	assert.Contains(err.Error(), "opening source file")
	assert.ErrorIs(err, r.Error)

	name := filepath.Join(t.TempDir(), "testfile.log")
	require.NoError(t, os.WriteFile(name, make([]byte, 300000), 0o600))

	r, err = compressor.Compress(name, gzip.BestSpeed)
	require.NoError(t, err)
	assert.NoError(r.Error)
	assert.EqualValues(300000, r.OldSize)
	assert.Positive(r.NewSize)
	assert.Less(r.NewSize, r.OldSize)
	assert.Equal(name+compressor.SuffixGZ, r.NewFile)
	assert.NoFileExists(name)
	assert.Equal(make([]byte, 300000), gunzip(t, r.NewFile))

	name = filepath.Join(t.TempDir(), "default.log")
	require.NoError(t, os.WriteFile(name, bytes.Repeat([]byte("INFO APP the same line\n"), 10000), 0o600))

	r, err = compressor.Compress(name, 0)
	require.NoError(t, err)
	assert.Less(r.NewSize, r.OldSize/10, "level 0 must mean the default level, not a stored copy")
}

func gunzip(t *testing.T, path string) []byte {
	t.Helper()

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	gzr, err := gzip.NewReader(file)
	require.NoError(t, err)

	data, err := io.ReadAll(gzr)
	require.NoError(t, err)

	return data
}

// rotated returns a compressing archive dir holding one rotated generation.
func rotated(t *testing.T, data []byte) (*archive.Dir, archive.File) {
	t.Helper()

	base := t.TempDir()
	active := filepath.Join(base, "app.log")
	dir := archive.New("APP", active, filepath.Join(base, "archived"), 3, true)

	require.NoError(t, os.WriteFile(active, data, 0o600))

	file, _, err := dir.Rotate(active)
	require.NoError(t, err)

	return dir, file
}

func waitFor(t *testing.T, events <-chan *event.Event, kind event.Kind, within time.Duration) *event.Event {
	t.Helper()

	timeout := time.After(within)

	for {
		select {
		case e := <-events:
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			require.FailNowf(t, "event not seen", "no %s event within %v", kind, within)
		}
	}
}

func TestWorkerCompresses(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	data := bytes.Repeat([]byte("AUDIT: login userId=kim ip=1.2.3.4 result=SUCCESS\n"), 5000)
	dir, file := rotated(t, data)
	bus := event.NewBus()
	events, cancel := bus.Subscribe(8)

	defer cancel()

	worker := compressor.New(&compressor.Config{Workers: 1, Hook: bus.Publish})
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	go func() { _ = worker.Run(ctx) }()

	require.NoError(t, worker.Enqueue(dir, file))

	done := waitFor(t, events, event.Compressed, time.Second)
	assert.Equal("APP", done.Stream)
	assert.Equal(file.Path+archive.GZext, done.Path)
	assert.Equal(1, done.Generation)
	assert.LessOrEqual(done.Time.Sub(file.Rotated), time.Second, "compression must finish promptly")
	assert.NoFileExists(file.Path)
	assert.Equal(data, gunzip(t, done.Path))
	assert.Less(done.Size, int64(len(data)/10), "an unset level compresses")

	files := dir.Files()
	require.Len(t, files, 1)
	assert.Equal(archive.Compressed, files[0].State)

	compressed, failed := worker.Stats()
	assert.EqualValues(1, compressed)
	assert.Zero(failed)
}

func TestWorkerFailure(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	dir, file := rotated(t, []byte("some data"))
	require.NoError(t, os.Remove(file.Path)) // vanished before compression.

	bus := event.NewBus()
	events, cancel := bus.Subscribe(8)

	defer cancel()

	worker := compressor.New(&compressor.Config{Hook: bus.Publish})
	require.NoError(t, worker.Enqueue(dir, file))
	worker.Drain()
	assert.NoError(worker.Run(context.Background()), "run must return once drained")

	failed := waitFor(t, events, event.CompressFailed, time.Second)
	assert.ErrorIs(failed.Err, compressor.ErrCompression)
	assert.Equal(archive.Failed, dir.Files()[0].State)

	_, count := worker.Stats()
	assert.EqualValues(1, count)
}

func TestWorkerSkipsDropped(t *testing.T) {
	t.Parallel()
	assert := assert.New(t)

	base := t.TempDir()
	active := filepath.Join(base, "app.log")
	dir := archive.New("APP", active, filepath.Join(base, "archived"), 1, true)

	require.NoError(t, os.WriteFile(active, []byte("one"), 0o600))
	first, _, err := dir.Rotate(active)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(active, []byte("two"), 0o600))
	second, _, err := dir.Rotate(active) // drops the first.
	require.NoError(t, err)

	worker := compressor.New(nil)
	require.NoError(t, worker.Enqueue(dir, first))
	require.NoError(t, worker.Enqueue(dir, second))
	assert.Equal(2, worker.Len())

	worker.Drain()
	assert.ErrorIs(worker.Enqueue(dir, second), compressor.ErrStopped)
	assert.NoError(worker.Run(context.Background()))

	compressed, failed := worker.Stats()
	assert.EqualValues(1, compressed, "only the surviving generation is compressed")
	assert.Zero(failed)
	assert.FileExists(filepath.Join(dir.Path, "app.log.1.gz"))
}

func TestWorkerCancel(t *testing.T) {
	t.Parallel()

	worker := compressor.New(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)

	go func() { done <- worker.Run(ctx) }()

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("run must return when its context ends")
	}
}

func TestEnqueueRacingDrain(t *testing.T) {
	t.Parallel()

	for range 50 {
		dir, file := rotated(t, []byte("racing"))
		worker := compressor.New(&compressor.Config{Workers: 1})
		ran := make(chan error)
		stopped := make(chan struct{})

		go func() { ran <- worker.Run(context.Background()) }()
		go func() {
			defer close(stopped)

			for worker.Enqueue(dir, file) == nil {
			}
		}()

		worker.Drain()
		require.NoError(t, <-ran)
		<-stopped
		require.Zero(t, worker.Len(), "nothing may be queued once the consumers are gone")
	}
}
