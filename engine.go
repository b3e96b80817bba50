package logrotor

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/compressor"
	"golift.io/logrotor/event"
	"golift.io/logrotor/retention"
)

// Engine owns a set of streams, the compressor that gzips their archives, and
// the sweeper that ages them out. Obtain one with New.
type Engine struct {
	config  *Config
	log     *slog.Logger
	worker  *compressor.Worker
	sweeper *retention.Sweeper
	cancel  context.CancelFunc
	done    chan error // receives the compressor's exit.

	mu      sync.RWMutex
	streams map[string]*Stream
	closed  bool
}

// New starts the background compressor and sweeper and opens every stream in
// config. If any stream fails to open, everything is shut down again.
func New(config *Config) (*Engine, error) {
	if config == nil {
		config = &Config{}
	}

	config.setConfigDefaults()

	engine := &Engine{
		config:  config,
		log:     config.Logger,
		streams: make(map[string]*Stream),
		done:    make(chan error, 1),
	}

	engine.worker = compressor.New(&compressor.Config{
		Workers: config.CompressWorkers,
		Level:   config.CompressLevel,
		Logger:  config.Logger,
		Hook:    config.OnEvent,
	})
	engine.sweeper = retention.NewSweeper(&retention.SweeperConfig{
		Interval: config.SweepInterval,
		Schedule: config.SweepSchedule,
		Logger:   config.Logger,
		Hook:     config.OnEvent,
	})

	ctx, cancel := context.WithCancel(context.Background())
	engine.cancel = cancel

	go func() { engine.done <- engine.worker.Run(ctx) }()

	if err := engine.sweeper.Start(); err != nil {
		return nil, multierror.Append(err, engine.Close()).ErrorOrNil()
	}

	for _, stream := range config.Streams {
		if _, err := engine.Open(stream); err != nil {
			return nil, multierror.Append(err, engine.Close()).ErrorOrNil()
		}
	}

	return engine, nil
}

// Open creates a stream. Its archive directory is recovered first: generations
// left by an earlier run are adopted, and uncompressed ones are queued again.
func (e *Engine) Open(config *StreamConfig) (*Stream, error) {
	if err := e.config.setStreamDefaults(config); err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	if _, ok := e.streams[config.Name]; ok {
		return nil, fmt.Errorf("%w: %s", ErrStreamExists, config.Name)
	}

	dir := archive.New(config.Name, config.Path, config.ArchiveDir, config.Policy.MaxGenerations, config.Policy.Compress)
	dir.DirMode = e.config.DirMode
	dir.Filer = e.config.Filer

	stream := &Stream{
		name:     config.Name,
		path:     config.Path,
		policy:   config.Policy,
		fileMode: e.config.FileMode,
		dirMode:  e.config.DirMode,
		dir:      dir,
		archiver: config.Archiver,
		log:      e.log,
		hook:     e.config.OnEvent,
		enqueue:  e.worker.Enqueue,
		Filer:    e.config.Filer,
	}

	if stream.archiver == nil {
		stream.archiver = dir
	}

	for _, path := range stream.archiver.Dirs() {
		if err := e.config.MkdirAll(path, e.config.DirMode); err != nil {
			return nil, fmt.Errorf("making directories for stream %s: %w", config.Name, err)
		}
	}

	if err := e.recover(stream); err != nil {
		return nil, err
	}

	stream.mu.Lock()
	err := stream.openLog()
	stream.mu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrWriteFailure, config.Name, err)
	}

	if config.Retention != nil {
		if err := e.sweeper.Add(dir, *config.Retention); err != nil {
			_ = stream.Close()
			return nil, err
		}
	}

	e.streams[config.Name] = stream
	e.log.Debug("opened log stream", "stream", config.Name, "file", config.Path,
		"max_size", config.Policy.MaxSize, "max_generations", config.Policy.MaxGenerations)

	return stream, nil
}

// recover adopts an existing archive and queues unfinished compressions.
func (e *Engine) recover(stream *Stream) error {
	pending, err := stream.dir.Recover()
	if err != nil {
		return fmt.Errorf("recovering archive for stream %s: %w", stream.name, err)
	}

	for _, file := range pending {
		if err := e.worker.Enqueue(stream.dir, file); err != nil {
			return fmt.Errorf("queuing %s: %w", file.Path, err)
		}
	}

	if len(pending) > 0 {
		e.log.Info("queued archived logs left uncompressed", "stream", stream.name, "count", len(pending))
	}

	return nil
}

// Stream returns an open stream by name.
func (e *Engine) Stream(name string) (*Stream, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if stream, ok := e.streams[name]; ok {
		return stream, nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownStream, name)
}

// Streams returns the names of all open streams, sorted.
func (e *Engine) Streams() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.streams))
	for name := range e.streams {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Write writes p to the named stream. It is the only call a logging front end needs.
func (e *Engine) Write(name string, p []byte) (int, error) {
	stream, err := e.Stream(name)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}

	return stream.Write(p)
}

// Sweep runs retention for every stream right now, outside the schedule.
func (e *Engine) Sweep(ctx context.Context) (int, error) {
	count, err := e.sweeper.Sweep(ctx)
	if err != nil {
		return count, fmt.Errorf("sweeping: %w", err)
	}

	return count, nil
}

// Pending returns the number of archived files waiting for compression.
func (e *Engine) Pending() int {
	return e.worker.Len()
}

// Close stops the sweeper, waits up to ShutdownTimeout for queued compressions,
// then abandons the rest and closes every stream. Abandoned files stay
// uncompressed and are picked up by the next Engine that opens the stream.
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}

	e.closed = true
	e.mu.Unlock()

	e.sweeper.Stop()
	e.worker.Drain()

	var errs *multierror.Error

	timer := time.NewTimer(e.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case err := <-e.done:
		errs = multierror.Append(errs, err)
	case <-timer.C:
		e.log.Warn("abandoning queued compressions", "queued", e.worker.Len(),
			"timeout", e.config.ShutdownTimeout)
		e.cancel()
		errs = multierror.Append(errs, <-e.done)
	}

	e.cancel()

	e.mu.RLock()
	defer e.mu.RUnlock()

	for name, stream := range e.streams {
		if err := stream.Close(); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("closing stream %s: %w", name, err))
		}
	}

	return errs.ErrorOrNil()
}

// Events returns a hook that publishes to bus, and calls next if it is not nil.
// Use it as Config.OnEvent to fan events out to channel subscribers.
func Events(bus *event.Bus, next event.Hook) event.Hook {
	return func(e *event.Event) {
		bus.Publish(e)
		next.Emit(e)
	}
}
