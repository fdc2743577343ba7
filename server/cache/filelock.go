package cache

import (
	"context"
	"log/slog"
	"os"
	"time"
)

const (
	// DefaultLockTimeout bounds how long callers wait for the advisory
	// lock before proceeding without it.
	DefaultLockTimeout = 5 * time.Second

	lockPollInterval = 100 * time.Millisecond

	// orphanLockAge is the age past which a lock file is assumed to have
	// been left behind by a crashed process and is broken. An order of
	// magnitude beyond the acquisition timeout, so a live holder is never
	// broken.
	orphanLockAge = time.Minute
)

// acquireFileLock attempts to take the advisory lock at path by creating
// the file exclusively, polling until the timeout elapses. It returns a
// release function and whether the lock was acquired. Acquisition fails
// softly: callers are expected to proceed without the lock (reads) or skip
// the write, favoring availability over strict mutual exclusion.
func acquireFileLock(ctx context.Context, path string, timeout time.Duration, logger *slog.Logger) (release func(), acquired bool) {
	deadline := time.Now().Add(timeout)
	for {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			f.Close()
			return func() {
				if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
					logger.Warn("failed to release file lock", "path", path, "error", err)
				}
			}, true
		}
		if !os.IsExist(err) {
			logger.Warn("unexpected error creating lock file", "path", path, "error", err)
			return func() {}, false
		}

		// Break locks left behind by a crashed process.
		if info, statErr := os.Stat(path); statErr == nil && time.Since(info.ModTime()) > orphanLockAge {
			logger.Warn("breaking orphaned lock file", "path", path, "age", time.Since(info.ModTime()).String())
			_ = os.Remove(path)
			continue
		}

		if time.Now().After(deadline) {
			return func() {}, false
		}
		select {
		case <-ctx.Done():
			return func() {}, false
		case <-time.After(lockPollInterval):
		}
	}
}
