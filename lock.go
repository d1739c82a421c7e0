package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// LockInfo contains information about the holder of an edit lock
type LockInfo struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	Target    string    `json:"target"`
	Journey   string    `json:"journey"`
}

// EditLock serializes edits to one generated file. Concurrent journey
// pipelines that share a module file contend on the same lock; unrelated
// files use unrelated locks. Lock files live under .autogen/locks, named by
// a hash of the target path.
type EditLock struct {
	path   string
	target string
	info   *LockInfo
}

// NewEditLock creates a lock manager for the given target file
func NewEditLock(projectRoot, target string) *EditLock {
	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(projectRoot, target)
	}
	sum := sha256.Sum256([]byte(abs))
	name := hex.EncodeToString(sum[:])[:16] + ".lock"
	return &EditLock{
		path:   filepath.Join(projectRoot, ".autogen", "locks", name),
		target: abs,
	}
}

// Acquire attempts to take the lock once, without waiting
func (el *EditLock) Acquire(journey string) error {
	if err := os.MkdirAll(filepath.Dir(el.path), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// Check if lock exists and handle stale locks
	if el.isHeld() {
		existing, err := el.readLock()
		if err != nil {
			// Lock file exists but can't be read - try to remove it
			os.Remove(el.path)
		} else if isLockStale(existing) {
			if err := os.Remove(el.path); err != nil {
				return fmt.Errorf("failed to remove stale lock: %w", err)
			}
		} else {
			return fmt.Errorf("file is being edited by another pipeline (PID %d, journey: %s)",
				existing.PID, existing.Journey)
		}
	}

	info := &LockInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now(),
		Target:    el.target,
		Journey:   journey,
	}

	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock info: %w", err)
	}
	data = append(data, '\n')

	// O_CREATE|O_EXCL ensures atomic creation - fails if file already exists
	f, err := os.OpenFile(el.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			// Another process created the lock between our check and create
			return fmt.Errorf("file is being edited by another pipeline")
		}
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		os.Remove(el.path)
		return fmt.Errorf("failed to write lock file: %w", err)
	}

	el.info = info
	return nil
}

// AcquireWait retries Acquire until it succeeds or the context ends.
// Contention between concurrent pipelines over a shared module file is
// expected and short-lived, so callers wait rather than fail.
func (el *EditLock) AcquireWait(ctx context.Context, journey string) error {
	const pollInterval = 50 * time.Millisecond

	for {
		err := el.Acquire(journey)
		if err == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for edit lock on %s: %w", el.target, err)
		case <-time.After(pollInterval):
		}
	}
}

// Release releases the lock
func (el *EditLock) Release() error {
	if el.info == nil {
		return nil
	}

	// Only remove if we own it
	existing, err := el.readLock()
	if err != nil {
		// Lock doesn't exist or can't be read - that's fine
		return nil
	}

	if existing.PID != os.Getpid() {
		// Someone else owns it now
		return nil
	}

	el.info = nil
	return os.Remove(el.path)
}

// isHeld checks if the lock file exists
func (el *EditLock) isHeld() bool {
	_, err := os.Stat(el.path)
	return err == nil
}

// readLock reads the lock file
func (el *EditLock) readLock() (*LockInfo, error) {
	data, err := os.ReadFile(el.path)
	if err != nil {
		return nil, err
	}

	var info LockInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	return &info, nil
}

// isProcessAlive checks if a process with the given PID is still running
func isProcessAlive(pid int) bool {
	// Try to find the process
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	// On Unix, FindProcess always succeeds, so we need to send signal 0
	// to check if process exists
	err = process.Signal(syscall.Signal(0))
	return err == nil
}

// maxLockAge is the maximum age of a lock before it's considered stale,
// even if the process is still alive. Guards against PID reuse.
const maxLockAge = 1 * time.Hour

// isLockStale returns true if the lock should be considered stale.
// A lock is stale if the owning process is dead, or if the lock is older
// than maxLockAge (guards against PID reuse by the OS).
func isLockStale(info *LockInfo) bool {
	if !isProcessAlive(info.PID) {
		return true
	}
	return time.Since(info.StartedAt) > maxLockAge
}

// ListHeldLocks reads all live lock files under the lock directory
func ListHeldLocks(projectRoot string) ([]*LockInfo, error) {
	lockDir := filepath.Join(projectRoot, ".autogen", "locks")
	entries, err := os.ReadDir(lockDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read lock directory: %w", err)
	}

	var held []*LockInfo
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".lock" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(lockDir, e.Name()))
		if err != nil {
			continue
		}
		var info LockInfo
		if err := json.Unmarshal(data, &info); err != nil {
			continue
		}
		if isLockStale(&info) {
			continue
		}
		held = append(held, &info)
	}
	return held, nil
}
