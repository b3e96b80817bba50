package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"golift.io/logrotor"
)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Write records to APP, ERROR and AUDIT streams until done",
		RunE: func(cmd *cobra.Command, _ []string) error {
			set, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			return ignoreCancel(run(ctx, set))
		},
	}
}

// run writes Records records to every stream, paced by Pace, then shuts down.
func run(ctx context.Context, set *settings) error {
	cfg, err := set.engineConfig(streamNames)
	if err != nil {
		return err
	}

	cfg.OnEvent = printEvents(cfg.Logger)

	engine, err := logrotor.New(cfg)
	if err != nil {
		return fmt.Errorf("starting engine: %w", err)
	}

	group, ctx := errgroup.WithContext(ctx)

	for _, name := range engine.Streams() {
		group.Go(func() error { return writeRecords(ctx, engine, name, set) })
	}

	err = group.Wait()
	if cerr := engine.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return err //nolint:wrapcheck
	}

	cfg.Logger.Info("finished writing", "streams", len(engine.Streams()), "records", set.Records)

	return nil
}

func writeRecords(ctx context.Context, engine *logrotor.Engine, name string, set *settings) error {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if set.Pace > 0 {
		limiter = rate.NewLimiter(rate.Every(set.Pace), 1)
	}

	for idx := 1; idx <= set.Records; idx++ {
		if err := limiter.Wait(ctx); err != nil {
			return err //nolint:wrapcheck
		}

		if _, err := engine.Write(name, record(name, idx)); err != nil {
			return err //nolint:wrapcheck
		}
	}

	return nil
}

// record returns one fake log line for a stream.
func record(name string, idx int) []byte {
	switch strings.ToUpper(name) {
	case "ERROR":
		return fmt.Appendf(nil, "ERROR writing record %d | checking 256KB rotation keeping 2 generations\n", idx)
	case "AUDIT":
		return fmt.Appendf(nil, "AUDIT: login userId=kim ip=1.2.3.4 result=SUCCESS seq=%d\n"+
			"AUDIT: permission-change userId=admin target=kim role=USER->ADMIN seq=%d\n", idx, idx)
	default:
		return fmt.Appendf(nil, "INFO %s recording verification data, number: %d\n", name, idx)
	}
}
