package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golift.io/logrotor"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/event"
)

// ErrTooSlow is returned when a compressed file shows up late, or never.
var ErrTooSlow = errors.New("compression latency over bound")

const latencyStream = "LATENCY"

func newLatencyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "latency",
		Short: "Detect rotations by size and time how long the .gz takes to appear",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			return ignoreCancel(measure(ctx, set))
		},
	}
}

// result is one measured rotation.
type result struct {
	file    string
	latency time.Duration
	pass    bool
}

// feeds are what waitForGzip listens to: engine events and directory changes.
type feeds struct {
	events  <-chan *event.Event
	created <-chan fsnotify.Event
	errs    <-chan error
}

// measure writes to one stream and, each time the active file shrinks, waits
// for that rotation's compressed file. Writing pauses while it waits, so no
// generation shifts under the measurement.
func measure(ctx context.Context, set *settings) error {
	cfg, err := set.engineConfig([]string{latencyStream})
	if err != nil {
		return err
	}

	bus := event.NewBus()
	events, unsubscribe := bus.Subscribe(1024) //nolint:mnd
	defer unsubscribe()

	cfg.OnEvent = logrotor.Events(bus, cfg.OnEvent)

	engine, err := logrotor.New(cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}
	defer engine.Close()

	stream, err := engine.Stream(cfg.Streams[0].Name)
	if err != nil {
		return err //nolint:wrapcheck
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(stream.Archive().Path); err != nil {
		return fmt.Errorf("watching archive: %w", err)
	}

	var (
		in      = feeds{events: events, created: watcher.Events, errs: watcher.Errors}
		results []result
		last    int64
	)

	for idx := 1; idx <= set.Records; idx++ {
		if _, err := stream.Write(record(latencyStream, idx)); err != nil {
			return err //nolint:wrapcheck
		}

		size := stream.Size()
		if last > 0 && size < last {
			res := waitForGzip(ctx, in, stream.Name(), set)
			results = append(results, res)
			cfg.Logger.Info("rotation detected", "file", res.file,
				"latency", res.latency.Round(time.Millisecond), "pass", res.pass)
		}

		last = size

		if set.Pace > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err() //nolint:wrapcheck
			case <-time.After(set.Pace):
			}
		}
	}

	return summarize(results, set.Bound)
}

// waitForGzip pairs the stream's next Rotated event with the Compressed event
// for the same file, then waits until the watcher sees that exact .gz created.
// Latency is measured between the two engine events. Creates for other names,
// such as generations shifting to .2.gz, are ignored.
func waitForGzip(ctx context.Context, in feeds, stream string, set *settings) result {
	timer := time.NewTimer(set.WaitFor)
	defer timer.Stop()

	var (
		rotated  *event.Event
		want     string
		res      result
		compress bool
		created  = make(map[string]bool)
	)

	for !compress || !created[want] {
		select {
		case <-ctx.Done():
			return result{file: want, latency: set.WaitFor}
		case <-timer.C:
			return result{file: want, latency: set.WaitFor}
		case e, ok := <-in.events:
			if !ok {
				return result{file: want, latency: set.WaitFor}
			}

			switch {
			case e.Stream != stream:
			case rotated == nil && e.Kind == event.Rotated:
				rotated, want = e, e.Path+archive.GZext
			case rotated != nil && e.Kind == event.CompressFailed && e.Path == rotated.Path:
				return result{file: want, latency: e.Time.Sub(rotated.Time)}
			case rotated != nil && e.Kind == event.Compressed && e.Path == want:
				res.latency, compress = e.Time.Sub(rotated.Time), true
			}
		case _, ok := <-in.errs:
			if !ok {
				in.errs = nil
			}
		case ev, ok := <-in.created:
			if !ok {
				return result{file: want, latency: set.WaitFor}
			}

			if ev.Has(fsnotify.Create) {
				created[ev.Name] = true
			}
		}
	}

	res.file = want
	res.pass = res.latency <= set.Bound

	return res
}

func summarize(results []result, bound time.Duration) error {
	failed := 0

	for _, res := range results {
		status := "PASS"
		if !res.pass {
			status = "FAIL"
			failed++
		}

		fmt.Printf("%s  %-40s %v\n", status, res.file, res.latency.Round(time.Millisecond))
	}

	fmt.Printf("%d rotations, %d over %v\n", len(results), failed, bound)

	if failed > 0 {
		return fmt.Errorf("%w: %d of %d", ErrTooSlow, failed, len(results))
	}

	return nil
}
