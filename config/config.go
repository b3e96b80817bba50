// Package config reads a logrotor engine configuration from a YAML file.
// $(NAME) placeholders anywhere in the file are replaced with environment
// variables before parsing.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golift.io/logrotor"
	"golift.io/logrotor/retention"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSize is returned for a size that cannot be parsed.
var ErrInvalidSize = errors.New("invalid size")

// Config is the file format.
type Config struct {
	BaseDir         string         `yaml:"baseDir"`
	ShutdownTimeout time.Duration  `yaml:"shutdownTimeout"`
	Sweep           SweepConfig    `yaml:"sweep"`
	Compress        CompressConfig `yaml:"compress"`
	Logging         LoggingConfig  `yaml:"logging"`
	Streams         []StreamConfig `yaml:"streams"`
}

// SweepConfig controls the retention schedule.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"` // e.g. 1m
	Schedule string        `yaml:"schedule"` // cron spec, wins over interval.
}

// CompressConfig controls the compressor.
type CompressConfig struct {
	Workers int `yaml:"workers"`
	Level   int `yaml:"level"` // gzip level, 1-9. 0 uses the default level.
}

// LoggingConfig picks the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json", "text"
}

// StreamConfig is one stream.
type StreamConfig struct {
	Name           string           `yaml:"name"`
	Path           string           `yaml:"path"`
	ArchiveDir     string           `yaml:"archiveDir"`
	MaxSize        Size             `yaml:"maxSize"`
	MaxGenerations int              `yaml:"maxGenerations"`
	Compress       bool             `yaml:"compress"`
	Retention      *RetentionConfig `yaml:"retention"`
}

// RetentionConfig is a stream's retention window.
type RetentionConfig struct {
	MaxAge      time.Duration         `yaml:"maxAge"`
	MaxCount    int                   `yaml:"maxCount"`
	Destination retention.Destination `yaml:"destination"` // "delete" or "move-to:<dir>"
	StaleFactor float64               `yaml:"staleFactor"`
}

// Size is a byte count. In YAML it may be a plain number or carry a
// KB, MB or GB suffix (powers of 1024), e.g. 256KB.
type Size int64

// Size units.
const (
	KB Size = 1 << (10 * (iota + 1))
	MB
	GB
)

var units = []struct {
	suffix string
	size   Size
}{{"KB", KB}, {"K", KB}, {"MB", MB}, {"M", MB}, {"GB", GB}, {"G", GB}, {"B", 1}}

// ParseSize reads "262144", "256KB", "256k", "10MB" or "1GB".
func ParseSize(input string) (Size, error) {
	text := strings.ToUpper(strings.TrimSpace(input))
	unit := Size(1)

	for _, u := range units {
		if !strings.HasSuffix(text, u.suffix) {
			continue
		}

		trimmed := strings.TrimSpace(strings.TrimSuffix(text, u.suffix))
		if _, err := strconv.ParseInt(trimmed, 10, 64); err == nil {
			text, unit = trimmed, u.size
			break
		}
	}

	num, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSize, input)
	}

	return Size(num) * unit, nil
}

// UnmarshalYAML reads a Size from a YAML scalar.
func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	size, err := ParseSize(value.Value)
	if err != nil {
		return err
	}

	*s = size

	return nil
}

// matches $(VAR_NAME)
var envPattern = regexp.MustCompile(`\$\(([A-Za-z0-9_]+)\)`)

// expandEnvVars replaces $(VAR) with os.Getenv(VAR).
func expandEnvVars(s string) string {
	return envPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envPattern.FindStringSubmatch(m)[1])
	})
}

// Load reads and parses a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return Parse(data)
}

// Parse parses YAML config data.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling yaml: %w", err)
	}

	return &cfg, nil
}

// Engine converts the file format into an engine Config.
// logger may be nil; see LoggingConfig.Logger to build one.
func (c *Config) Engine(logger *slog.Logger) *logrotor.Config {
	engine := &logrotor.Config{
		BaseDir:         c.BaseDir,
		SweepInterval:   c.Sweep.Interval,
		SweepSchedule:   c.Sweep.Schedule,
		CompressWorkers: c.Compress.Workers,
		CompressLevel:   c.Compress.Level,
		ShutdownTimeout: c.ShutdownTimeout,
		Logger:          logger,
		Streams:         make([]*logrotor.StreamConfig, 0, len(c.Streams)),
	}

	for _, stream := range c.Streams {
		engine.Streams = append(engine.Streams, stream.Engine())
	}

	return engine
}

// Engine converts one stream into an engine StreamConfig.
func (s *StreamConfig) Engine() *logrotor.StreamConfig {
	stream := &logrotor.StreamConfig{
		Name:       s.Name,
		Path:       s.Path,
		ArchiveDir: s.ArchiveDir,
		Policy: logrotor.Policy{
			MaxSize:        int64(s.MaxSize),
			MaxGenerations: s.MaxGenerations,
			Compress:       s.Compress,
		},
	}

	if s.Retention != nil {
		stream.Retention = &retention.Window{
			MaxAge:      s.Retention.MaxAge,
			MaxCount:    s.Retention.MaxCount,
			Destination: s.Retention.Destination,
			StaleFactor: s.Retention.StaleFactor,
		}
	}

	return stream
}

// Logger returns a slog logger writing to output in the configured format and level.
func (l *LoggingConfig) Logger(output io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if strings.EqualFold(l.Format, "json") {
		return slog.New(slog.NewJSONHandler(output, opts))
	}

	return slog.New(slog.NewTextHandler(output, opts))
}
