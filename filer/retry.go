package filer

import (
	"context"
	"errors"
	"fmt"
	"syscall"
	"time"
)

// Retry settings for RenameRetry.
const (
	renameRetries = 5
	renameBackoff = 50 * time.Millisecond
)

// RenameRetry renames a file and retries transient failures with exponential backoff.
// Permanent errors, including a missing source, return immediately.
func RenameRetry(ctx context.Context, filer Filer, oldPath, newPath string) error {
	var lastErr error

	for attempt := range renameRetries {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("renaming %s: %w", oldPath, err)
		}

		err := filer.Rename(oldPath, newPath)
		if err == nil {
			return nil
		}

		if lastErr = err; !isTransient(err) {
			return err //nolint:wrapcheck
		}

		if attempt == renameRetries-1 {
			break
		}

		timer := time.NewTimer(renameBackoff << attempt)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("renaming %s: %w", oldPath, ctx.Err())
		case <-timer.C:
		}
	}

	return fmt.Errorf("rename failed after %d retries: %w", renameRetries, lastErr)
}

func isTransient(err error) bool {
	return errors.Is(err, syscall.EAGAIN) ||
		errors.Is(err, syscall.EBUSY) ||
		errors.Is(err, syscall.ETIMEDOUT)
}
