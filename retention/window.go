package retention

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Action is what a sweep does with an expired file.
type Action uint8

// Expired files are deleted outright or moved to a terminal directory.
const (
	Delete Action = iota
	Move
)

// DefaultTerminalDir is where Move puts files when no directory is given.
// Relative directories resolve against the archive directory's parent, so
// {base}/{stream}/archived sweeps into {base}/{stream}/deleted.
const DefaultTerminalDir = "deleted"

// DefaultStaleFactor multiplies MaxAge to decide when an in-flight file is stuck.
const DefaultStaleFactor = 2

// Errors returned by this package.
var (
	ErrInvalidWindow      = errors.New("invalid retention window")
	ErrInvalidDestination = errors.New("invalid retention destination")
	ErrSweep              = errors.New("sweep failed")
)

// Destination says what happens to expired files.
type Destination struct {
	Action Action
	Dir    string // Move only.
}

// ParseDestination reads "delete", "move", or "move-to:<dir>".
func ParseDestination(input string) (Destination, error) {
	switch lower := strings.ToLower(strings.TrimSpace(input)); {
	case lower == "" || lower == "delete":
		return Destination{Action: Delete}, nil
	case lower == "move":
		return Destination{Action: Move, Dir: DefaultTerminalDir}, nil
	case strings.HasPrefix(lower, "move-to:"):
		dir := strings.TrimSpace(strings.TrimSpace(input)[len("move-to:"):])
		if dir == "" {
			return Destination{}, fmt.Errorf("%w: %q has no directory", ErrInvalidDestination, input)
		}

		return Destination{Action: Move, Dir: dir}, nil
	default:
		return Destination{}, fmt.Errorf("%w: %q", ErrInvalidDestination, input)
	}
}

// String returns the destination in the form ParseDestination reads.
func (d Destination) String() string {
	if d.Action == Move {
		return "move-to:" + d.Dir
	}

	return "delete"
}

// UnmarshalText allows a Destination to be read from text config formats.
func (d *Destination) UnmarshalText(text []byte) error {
	parsed, err := ParseDestination(string(text))
	if err != nil {
		return err
	}

	*d = parsed

	return nil
}

// MarshalText satisfies encoding.TextMarshaler.
func (d Destination) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalYAML reads a Destination from a YAML scalar.
func (d *Destination) UnmarshalYAML(value *yaml.Node) error {
	var text string
	if err := value.Decode(&text); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDestination, err)
	}

	return d.UnmarshalText([]byte(text))
}

// Window is a retention policy for one archive directory.
type Window struct {
	MaxAge      time.Duration // Files older than this are reclaimed. Required.
	MaxCount    int           // Files kept after the age pass, oldest reclaimed first. 0 is unlimited.
	Destination Destination
	// StaleFactor * MaxAge is the age at which a file still waiting on compression
	// is reclaimed anyway. Default: DefaultStaleFactor.
	StaleFactor float64
}

// Validate checks a Window and fills in defaults.
func (w *Window) Validate() error {
	if w.MaxAge <= 0 {
		return fmt.Errorf("%w: max age must be positive, got %v", ErrInvalidWindow, w.MaxAge)
	}

	if w.MaxCount < 0 {
		return fmt.Errorf("%w: max count must not be negative", ErrInvalidWindow)
	}

	if w.StaleFactor < 1 {
		w.StaleFactor = DefaultStaleFactor
	}

	if w.Destination.Action == Move && w.Destination.Dir == "" {
		w.Destination.Dir = DefaultTerminalDir
	}

	return nil
}

// staleAge is the age past which an in-flight file is reclaimed regardless.
func (w *Window) staleAge() time.Duration {
	factor := w.StaleFactor
	if factor < 1 {
		factor = DefaultStaleFactor
	}

	return time.Duration(float64(w.MaxAge) * factor)
}
