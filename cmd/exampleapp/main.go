// Package main is a simple example app to write logs to see log rotation in action.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golift.io/logrotor"
	"golift.io/logrotor/config"
	"golift.io/logrotor/event"
	"golift.io/logrotor/retention"
)

// ///////////////////////////////////////////////////////////////////////// //

/* This is a simple example app to write logs to see log rotation in action. */

// Usage, three streams (APP, ERROR, AUDIT) with compression and a 2s sweep:
//   go run ./cmd/exampleapp run
//
// Usage, measure how fast rotated files are compressed:
//   go run ./cmd/exampleapp latency
//
// Every flag can also be set with a LOGROTOR_ environment variable,
// e.g. LOGROTOR_MAX_SIZE=1MB, or in a YAML file passed with --config.

const (
	defaultBaseDir     = "logs"
	defaultMaxSize     = "256KB"
	defaultGenerations = 2
	defaultRecords     = 15000
	defaultPace        = time.Millisecond
	defaultRetention   = 2 * time.Second
	defaultSweep       = time.Second
	defaultWaitFor     = 3 * time.Second
	defaultBound       = time.Second
)

// streamNames are the streams the run command writes.
var streamNames = []string{"APP", "ERROR", "AUDIT"} //nolint:gochecknoglobals

// settings are read from flags, LOGROTOR_* environment variables and defaults.
type settings struct {
	Config      string        `mapstructure:"config"`
	BaseDir     string        `mapstructure:"base-dir"`
	MaxSize     string        `mapstructure:"max-size"`
	Generations int           `mapstructure:"generations"`
	Records     int           `mapstructure:"records"`
	Pace        time.Duration `mapstructure:"pace"`
	Retention   time.Duration `mapstructure:"retention"`
	Sweep       time.Duration `mapstructure:"sweep"`
	LogLevel    string        `mapstructure:"log-level"`
	WaitFor     time.Duration `mapstructure:"wait-for"`
	Bound       time.Duration `mapstructure:"bound"`
}

// ///////////////////////////////////////////////////////////////////////// //

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "exampleapp",
		Short:         "Write logs to see log rotation in action",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "YAML config file; replaces the stream flags")
	flags.String("base-dir", defaultBaseDir, "parent folder for every stream")
	flags.String("max-size", defaultMaxSize, "rotate at this size, e.g. 256KB or 10MB")
	flags.Int("generations", defaultGenerations, "archived generations kept per stream")
	flags.Int("records", defaultRecords, "records written per stream")
	flags.Duration("pace", defaultPace, "time between records per stream")
	flags.Duration("retention", defaultRetention, "move archived files to deleted/ after this age")
	flags.Duration("sweep", defaultSweep, "retention sweep interval")
	flags.String("log-level", "info", "debug, info, warn or error")
	flags.Duration("wait-for", defaultWaitFor, "latency: how long to wait for a compressed file")
	flags.Duration("bound", defaultBound, "latency: compression latency that still passes")

	root.AddCommand(newRunCmd(), newLatencyCmd())

	return root
}

// loadSettings merges flags, environment and defaults.
func loadSettings(cmd *cobra.Command) (*settings, error) {
	v := viper.New()
	v.SetEnvPrefix("LOGROTOR")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("binding flags: %w", err)
	}

	var set settings
	if err := v.Unmarshal(&set); err != nil {
		return nil, fmt.Errorf("reading settings: %w", err)
	}

	return &set, nil
}

// engineConfig builds the engine configuration from a YAML file or from settings.
func (s *settings) engineConfig(names []string) (*logrotor.Config, error) {
	logging := config.LoggingConfig{Level: s.LogLevel}

	if s.Config != "" {
		cfg, err := config.Load(s.Config)
		if err != nil {
			return nil, err
		}

		if cfg.Logging.Level == "" {
			cfg.Logging.Level = s.LogLevel
		}

		return cfg.Engine(cfg.Logging.Logger(os.Stderr)), nil
	}

	size, err := config.ParseSize(s.MaxSize)
	if err != nil {
		return nil, err
	}

	engine := &logrotor.Config{
		BaseDir:       s.BaseDir,
		SweepInterval: s.Sweep,
		Logger:        logging.Logger(os.Stderr),
	}

	for _, name := range names {
		stream := &logrotor.StreamConfig{
			Name:   name,
			Policy: logrotor.Policy{MaxSize: int64(size), MaxGenerations: s.Generations, Compress: true},
		}

		if s.Retention > 0 {
			stream.Retention = &retention.Window{
				MaxAge:      s.Retention,
				Destination: retention.Destination{Action: retention.Move, Dir: retention.DefaultTerminalDir},
			}
		}

		engine.Streams = append(engine.Streams, stream)
	}

	return engine, nil
}

// printEvents is an event hook that prints what the engine does.
func printEvents(log *slog.Logger) event.Hook {
	return func(e *event.Event) {
		attrs := []any{"stream", e.Stream, "path", e.Path}

		switch e.Kind {
		case event.Rotated:
			attrs = append(attrs, "size", e.Size)
		case event.Compressed:
			attrs = append(attrs, "size", e.Size, "elapsed", e.Elapsed.Round(time.Microsecond))
		case event.Reclaimed:
			attrs = append(attrs, "to", e.Dest)
		case event.Dropped:
		default:
			attrs = append(attrs, "error", e.Err)
		}

		log.Info(e.Kind.String(), attrs...)
	}
}

// signalContext is cancelled on interrupt.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// ignoreCancel turns a context cancellation into a clean exit.
func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}
