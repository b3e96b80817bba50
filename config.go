package logrotor

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"golift.io/logrotor/event"
	"golift.io/logrotor/filer"
	"golift.io/logrotor/retention"
)

// These are the default directory and log file POSIX modes.
const (
	FileMode os.FileMode = 0o600
	DirMode  os.FileMode = 0o750
)

// Defaults used when Config and Policy members are omitted.
const (
	DefaultMaxSize         = 10 * 1024 * 1024
	DefaultMaxGenerations  = 5
	DefaultShutdownTimeout = 5 * time.Second
	DefaultSweepInterval   = time.Minute
	DefaultArchiveDir      = "archived"
	LogExt                 = ".log"
)

// Custom errors returned by this package.
var (
	ErrWriteFailure    = errors.New("log write failed")
	ErrRotationFailure = errors.New("log rotation failed")
	ErrClosed          = errors.New("log stream closed")
	ErrStreamExists    = errors.New("log stream already open")
	ErrUnknownStream   = errors.New("unknown log stream")
	ErrInvalidPolicy   = errors.New("invalid rotation policy")
)

// Policy says when a stream rotates and how many generations it keeps.
// It is copied into the stream when it opens and never changes afterward.
type Policy struct {
	MaxSize        int64 `json:"maxSize"        toml:"max_size"        xml:"max_size"        yaml:"maxSize"`
	MaxGenerations int   `json:"maxGenerations" toml:"max_generations" xml:"max_generations" yaml:"maxGenerations"`
	Compress       bool  `json:"compress"       toml:"compress"        xml:"compress"        yaml:"compress"`
}

// Validate makes sure a policy can be used.
func (p *Policy) Validate() error {
	if p.MaxSize <= 0 {
		return fmt.Errorf("%w: max size must be positive, got %d", ErrInvalidPolicy, p.MaxSize)
	}

	if p.MaxGenerations < 1 {
		return fmt.Errorf("%w: max generations must be at least 1, got %d", ErrInvalidPolicy, p.MaxGenerations)
	}

	return nil
}

// StreamConfig describes one stream. Only Name is required.
type StreamConfig struct {
	Name string
	// Active log file. Default: {BaseDir}/{name}/{name}.log, name lowercased.
	Path string
	// Archive directory. Relative paths are joined to the active file's directory.
	// Default: archived.
	ArchiveDir string
	// Zero values in the policy are filled with DefaultMaxSize and DefaultMaxGenerations.
	Policy Policy
	// Retention is optional. A nil window leaves the archive to grow to MaxGenerations.
	Retention *retention.Window
	// Archiver replaces the stream's archive directory for rotation. Very optional.
	Archiver Archiver
}

// Config is the data needed to create an Engine.
type Config struct {
	BaseDir string          // Parent of every stream directory. Default: os.TempDir()/{binary name}.
	Streams []*StreamConfig // Opened by New. More can be opened later with Open.
	// SweepInterval and SweepSchedule control retention. Schedule is a cron spec
	// and wins when both are set.
	SweepInterval   time.Duration
	SweepSchedule   string
	CompressWorkers int           // Default: compressor.DefaultWorkers.
	CompressLevel   int           // gzip level. Default: gzip.DefaultCompression.
	ShutdownTimeout time.Duration // How long Close waits for queued compressions.
	FileMode        os.FileMode   // POSIX mode for new files.
	DirMode         os.FileMode   // POSIX mode for new folders.
	Logger          *slog.Logger  // Default: slog.Default().
	OnEvent         event.Hook    // Receives every rotation, compression and sweep event.
	filer.Filer                   // overridable file system procedures.
}

// setConfigDefaults does exactly what it says. Sets missing values.
func (c *Config) setConfigDefaults() {
	if c.BaseDir == "" {
		c.BaseDir = filepath.Join(os.TempDir(),
			filepath.Base(os.Args[0])+"-"+filepath.Base(reflect.TypeFor[Engine]().PkgPath()))
	}

	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}

	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}

	if c.DirMode == 0 {
		c.DirMode = DirMode
	}

	if c.FileMode == 0 {
		c.FileMode = FileMode
	}

	if c.Logger == nil {
		c.Logger = slog.Default()
	}

	if c.Filer == nil {
		c.Filer = filer.Default()
	}
}

// setStreamDefaults fills in a stream's paths and policy, then validates it.
func (c *Config) setStreamDefaults(stream *StreamConfig) error {
	if stream.Name = strings.TrimSpace(stream.Name); stream.Name == "" {
		return fmt.Errorf("%w: stream name is empty", ErrInvalidPolicy)
	}

	if stream.Path == "" {
		lower := strings.ToLower(stream.Name)
		stream.Path = filepath.Join(c.BaseDir, lower, lower+LogExt)
	}

	if stream.ArchiveDir == "" {
		stream.ArchiveDir = DefaultArchiveDir
	}

	if !filepath.IsAbs(stream.ArchiveDir) {
		stream.ArchiveDir = filepath.Join(filepath.Dir(stream.Path), stream.ArchiveDir)
	}

	if stream.Policy.MaxSize == 0 {
		stream.Policy.MaxSize = DefaultMaxSize
	}

	if stream.Policy.MaxGenerations == 0 {
		stream.Policy.MaxGenerations = DefaultMaxGenerations
	}

	if err := stream.Policy.Validate(); err != nil {
		return fmt.Errorf("stream %s: %w", stream.Name, err)
	}

	if stream.Retention != nil {
		if err := stream.Retention.Validate(); err != nil {
			return fmt.Errorf("stream %s: %w", stream.Name, err)
		}
	}

	return nil
}
