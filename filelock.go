package main

import (
	"fmt"
	"os"
	"time"
)

// Lock acquisition tuning. A CLI invocation holds the lock only for the
// duration of one config write, so contention windows are short.
const (
	lockPollInterval = 100 * time.Millisecond
	lockWaitBudget   = 5 * time.Second
	lockStaleAfter   = 30 * time.Second
)

// fileLock is a cross-process exclusive lock implemented as a sibling
// ".lock" file created with O_EXCL.
type fileLock struct {
	lockFile *os.File
	lockPath string
}

// acquireFileLock locks the config file at filePath for writing. It polls
// until the lock is free, reclaiming locks left behind by crashed processes
// once they exceed lockStaleAfter.
func acquireFileLock(filePath string) (*fileLock, error) {
	lockPath := filePath + ".lock"
	deadline := time.Now().Add(lockWaitBudget)

	for {
		lockFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			// Record the owner PID for post-mortem debugging.
			fmt.Fprintf(lockFile, "%d", os.Getpid())
			return &fileLock{lockFile: lockFile, lockPath: lockPath}, nil
		}

		if !os.IsExist(err) {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}

		// Lock exists; reclaim it if the holder appears to be gone.
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > lockStaleAfter {
				if remErr := os.Remove(lockPath); remErr != nil && !os.IsNotExist(remErr) {
					return nil, fmt.Errorf(
						"failed to remove stale lock file %s: %w",
						lockPath,
						remErr,
					)
				}
				continue
			}
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("timeout waiting for file lock after %v", lockWaitBudget)
		}
		time.Sleep(lockPollInterval)
	}
}

// release removes the lock file, letting the next writer proceed.
func (fl *fileLock) release() error {
	if fl.lockFile != nil {
		fl.lockFile.Close()
	}
	return os.Remove(fl.lockPath)
}
