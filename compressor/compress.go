// Package compressor gzips rotated log files off the write path. A Worker
// consumes a queue of archived files; Compress is the blocking building block
// and can be used on its own.
package compressor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"time"

	"github.com/klauspost/compress/gzip"
	"golift.io/logrotor/filer"
)

// SuffixGZ is appended to a fileName to make the new compressed file name.
const SuffixGZ = ".gz"

// ErrCompression wraps every compression failure.
var ErrCompression = errors.New("compression failed")

// Report contains a report of the compression operation.
// Always check for Error to make sure the New* data is valid.
type Report struct {
	Stream  string
	OldFile string
	NewFile string
	OldSize int64
	NewSize int64
	Elapsed time.Duration
	Error   error
}

// Compress gzips fileName into fileName.gz and removes the original. Blocks until
// finished. The output is written to a temporary name first, so an interrupted
// run never leaves a partial .gz behind.
func Compress(fileName string, level int) (*Report, error) {
	report := &Report{OldFile: fileName, NewFile: fileName + SuffixGZ}
	files := filer.Default()

	src, err := files.OpenFile(fileName, os.O_RDONLY, 0)
	if err != nil {
		report.Error = fmt.Errorf("%w: opening source file: %w", ErrCompression, err)
		return report, report.Error
	}
	defer src.Close()

	tmp := fileName + SuffixGZ + ".tmp"
	start := time.Now()

	report.OldSize, report.NewSize, err = gzipTo(context.Background(), files, src, tmp, level)
	report.Elapsed = time.Since(start)

	if err == nil {
		err = files.Rename(tmp, report.NewFile)
	}

	if err != nil {
		_ = files.Remove(tmp)
		report.Error = fmt.Errorf("%w: %s: %w", ErrCompression, fileName, err)

		return report, report.Error
	}

	_ = files.Remove(fileName)

	return report, nil
}

// Log writes a report to a structured logger; slog.Default() is used when logger is nil.
func Log(report *Report, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}

	const kilobyte = 1024

	if report.Error != nil {
		logger.Error("compression error",
			"stream", report.Stream, "file", report.OldFile,
			"elapsed", report.Elapsed.Round(time.Millisecond), "error", report.Error)

		return
	}

	logger.Info("compression finished",
		"stream", report.Stream, "elapsed", report.Elapsed.Round(time.Millisecond),
		"old_file", report.OldFile, "old_kb", report.OldSize/kilobyte,
		"new_file", report.NewFile, "new_kb", report.NewSize/kilobyte)
}

// validLevel clamps a gzip level into the supported range. Zero is the unset
// value and means the default level, not gzip.NoCompression.
func validLevel(level int) int {
	if level == gzip.NoCompression || level < gzip.HuffmanOnly || level > gzip.BestCompression {
		return gzip.DefaultCompression
	}

	return level
}

// gzipTo does the "hard" work: create the new file, copy the source through a gzip
// writer, flush, fsync and close. The destination is removed if anything fails.
// Returns bytes read and bytes written.
func gzipTo(ctx context.Context, files filer.Filer, src io.Reader, dst string, level int) (int64, int64, error) {
	out, err := files.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return 0, 0, fmt.Errorf("opening gz file: %w", err)
	}

	read, err := copyGzip(ctx, out, src, level)
	if err == nil {
		err = out.Sync()
	}

	if cerr := out.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("closing gz file: %w", cerr)
	}

	if err != nil {
		_ = files.Remove(dst)
		return read, 0, err
	}

	var written int64
	if info, err := files.Stat(dst); err == nil {
		written = info.Size()
	}

	return read, written, nil
}

func copyGzip(ctx context.Context, out io.Writer, src io.Reader, level int) (int64, error) {
	gzw, err := gzip.NewWriterLevel(out, validLevel(level))
	if err != nil {
		return 0, fmt.Errorf("creating gzip writer: %w", err)
	}

	gzw.Comment = reflect.TypeFor[Report]().PkgPath()

	read, err := io.Copy(gzw, &ctxReader{ctx: ctx, r: src})
	if err != nil {
		_ = gzw.Close()
		return read, fmt.Errorf("copying: %w", err)
	}

	if err := gzw.Close(); err != nil {
		return read, fmt.Errorf("flushing gzip writer: %w", err)
	}

	return read, nil
}

// ctxReader stops a copy once its context is cancelled.
type ctxReader struct {
	ctx context.Context //nolint:containedctx
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err //nolint:wrapcheck
	}

	return c.r.Read(p) //nolint:wrapcheck
}
