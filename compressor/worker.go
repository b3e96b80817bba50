package compressor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/event"
)

// ErrStopped is returned by Enqueue after Drain is called.
var ErrStopped = errors.New("compressor is stopped")

// DefaultWorkers is used when Config.Workers is not set.
const DefaultWorkers = 2

// Config is the data needed to create a Worker.
type Config struct {
	Workers int          // Concurrent compressions. Default: DefaultWorkers.
	Level   int          // gzip level. Zero and invalid levels use gzip.DefaultCompression.
	Logger  *slog.Logger // Default: slog.Default().
	Hook    event.Hook   // Receives Compressed and CompressFailed events.
}

// Worker compresses archived files queued with Enqueue. Call Run to start it.
type Worker struct {
	workers int
	level   int
	log     *slog.Logger
	hook    event.Hook
	queue   *queue
	drain   chan struct{}
	once    sync.Once
	done    atomic.Uint64
	failed  atomic.Uint64
}

// New returns a Worker. It does nothing until Run is called.
func New(config *Config) *Worker {
	if config == nil {
		config = &Config{}
	}

	worker := &Worker{
		workers: config.Workers,
		level:   validLevel(config.Level),
		log:     config.Logger,
		hook:    config.Hook,
		queue:   newQueue(),
		drain:   make(chan struct{}),
	}

	if worker.workers < 1 {
		worker.workers = DefaultWorkers
	}

	if worker.log == nil {
		worker.log = slog.Default()
	}

	return worker
}

// Enqueue queues a Pending archived file for compression. It never blocks.
func (w *Worker) Enqueue(dir *archive.Dir, file archive.File) error {
	if !w.queue.push(job{dir: dir, id: file.ID, stream: file.Stream, path: file.Path, enqueued: time.Now()}) {
		return ErrStopped
	}

	return nil
}

// Len returns the number of queued jobs.
func (w *Worker) Len() int {
	return w.queue.len()
}

// Stats returns how many files were compressed and how many failed.
func (w *Worker) Stats() (compressed, failed uint64) {
	return w.done.Load(), w.failed.Load()
}

// Run compresses queued files until ctx ends, or until Drain is called and the
// queue is empty. Cancelling ctx abandons in-flight work: temporary output is
// removed and the plain files stay Pending for the next start to pick up.
func (w *Worker) Run(ctx context.Context) error {
	group, ctx := errgroup.WithContext(ctx)

	for range w.workers {
		group.Go(func() error {
			for {
				job, ok := w.queue.pop(ctx, w.drain)
				if !ok {
					return nil
				}

				w.process(ctx, job)
			}
		})
	}

	return group.Wait() //nolint:wrapcheck
}

// Drain stops accepting jobs. Run returns once the queue is empty.
func (w *Worker) Drain() {
	w.once.Do(func() {
		w.queue.close()
		close(w.drain)
	})
}

// process compresses one file and reports the outcome.
func (w *Worker) process(ctx context.Context, job job) {
	report := &Report{Stream: job.stream, OldFile: job.path}

	src, file, err := job.dir.OpenSource(job.id)
	if errors.Is(err, archive.ErrGone) {
		w.log.Debug("compression skipped, file is gone", "stream", job.stream, "file", job.path)
		return
	} else if err != nil {
		_, _ = job.dir.Finish(job.id, "", err)
		w.fail(report, file, err)

		return
	}
	defer src.Close()

	var (
		tmp   = job.dir.TempName(uuid.NewString())
		start = time.Now()
	)

	report.OldFile = file.Path
	report.OldSize, report.NewSize, err = gzipTo(ctx, job.dir.Filer, src, tmp, w.level)
	report.Elapsed = time.Since(start)

	if err != nil && ctx.Err() != nil {
		w.log.Info("compression abandoned", "stream", job.stream, "file", file.Path)
		return
	}

	done, err := job.dir.Finish(job.id, tmp, err)
	if errors.Is(err, archive.ErrGone) {
		w.log.Debug("compressed file was dropped meanwhile", "stream", job.stream, "file", file.Path)
		return
	} else if err != nil {
		w.fail(report, done, err)
		return
	}

	w.done.Add(1)
	report.NewFile = done.Path
	Log(report, w.log)
	w.hook.Emit(&event.Event{
		Kind:       event.Compressed,
		Stream:     job.stream,
		Path:       done.Path,
		Generation: done.Generation,
		Size:       report.NewSize,
		Elapsed:    report.Elapsed,
	})
}

func (w *Worker) fail(report *Report, file archive.File, err error) {
	w.failed.Add(1)
	report.Error = fmt.Errorf("%w: %w", ErrCompression, err)
	Log(report, w.log)
	w.hook.Emit(&event.Event{
		Kind:       event.CompressFailed,
		Stream:     report.Stream,
		Path:       report.OldFile,
		Generation: file.Generation,
		Elapsed:    report.Elapsed,
		Err:        report.Error,
	})
}
