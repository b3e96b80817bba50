package retention

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/robfig/cron/v3"
	"golift.io/logrotor/archive"
	"golift.io/logrotor/event"
)

// DefaultInterval is how often a Sweeper runs when neither Interval nor Schedule is set.
const DefaultInterval = time.Minute

// ErrRunning is returned when a running Sweeper is started again.
var ErrRunning = errors.New("sweeper already running")

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	// Interval between sweeps. Rounded to whole seconds by the scheduler.
	Interval time.Duration
	// Schedule is a cron spec, e.g. "*/5 * * * *" or "@every 30s". Overrides Interval.
	Schedule string
	Logger   *slog.Logger
	Hook     event.Hook
	Now      func() time.Time
}

// Sweeper runs SweepDir for every registered archive directory on a schedule.
type Sweeper struct {
	config *SweeperConfig
	mu     sync.Mutex
	list   []*target
	cron   *cron.Cron
	ctx    context.Context //nolint:containedctx
	cancel context.CancelFunc
}

type target struct {
	dir    *archive.Dir
	window Window
}

// NewSweeper returns a Sweeper. It does nothing until Start or Sweep is called.
func NewSweeper(config *SweeperConfig) *Sweeper {
	if config == nil {
		config = &SweeperConfig{}
	}

	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	if config.Interval <= 0 {
		config.Interval = DefaultInterval
	}

	return &Sweeper{config: config}
}

// Add registers an archive directory. Directories may be added while running.
func (s *Sweeper) Add(dir *archive.Dir, window Window) error {
	if err := window.Validate(); err != nil {
		return fmt.Errorf("stream %s: %w", dir.Stream, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.list = append(s.list, &target{dir: dir, window: window})

	return nil
}

// Len returns the number of registered directories.
func (s *Sweeper) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.list)
}

// Sweep runs one pass over every registered directory. A failing directory
// does not stop the others; all errors are returned together.
func (s *Sweeper) Sweep(ctx context.Context) (int, error) {
	s.mu.Lock()
	list := make([]*target, len(s.list))
	copy(list, s.list)
	s.mu.Unlock()

	var (
		total int
		errs  *multierror.Error
		opts  = &Options{Logger: s.config.Logger, Hook: s.config.Hook, Now: s.config.Now}
	)

	for _, t := range list {
		count, err := SweepDir(ctx, t.dir, t.window, opts)
		total += count

		if err != nil {
			errs = multierror.Append(errs, err)
		}
	}

	return total, errs.ErrorOrNil()
}

// Start schedules sweeps in the background. Overlapping runs are skipped.
func (s *Sweeper) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil {
		return ErrRunning
	}

	logger := cronLogger{log: s.config.Logger}
	sched := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	s.ctx, s.cancel = context.WithCancel(context.Background())

	if s.config.Schedule != "" {
		if _, err := sched.AddFunc(s.config.Schedule, s.run); err != nil {
			s.cancel()
			return fmt.Errorf("%w: schedule %q: %w", ErrInvalidWindow, s.config.Schedule, err)
		}
	} else {
		sched.Schedule(cron.Every(s.config.Interval), cron.FuncJob(s.run))
	}

	s.cron = sched
	s.cron.Start()

	return nil
}

// Stop stops the schedule and waits for a running sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	sched, cancel := s.cron, s.cancel
	s.cron = nil
	s.mu.Unlock()

	if sched == nil {
		return
	}

	<-sched.Stop().Done()
	cancel()
}

func (s *Sweeper) run() {
	start := time.Now()

	count, err := s.Sweep(s.ctx)
	if err != nil {
		// Each failure was already logged by SweepDir.
		s.config.Logger.Warn("sweep finished with errors",
			"reclaimed", count, "elapsed", time.Since(start).Round(time.Millisecond))

		return
	}

	if count > 0 {
		s.config.Logger.Info("sweep finished",
			"reclaimed", count, "elapsed", time.Since(start).Round(time.Millisecond))
	}
}

// cronLogger sends scheduler output to slog.
type cronLogger struct {
	log *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.log.Debug("cron: "+msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.log.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
