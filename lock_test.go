package main

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// deadPID is above the kernel's pid ceiling so no live process can own it
const deadPID = 999999999

func TestEditLockAcquireRelease(t *testing.T) {
	root := t.TempDir()
	lock := NewEditLock(root, "tests/journeys/demo.spec.ts")

	if err := lock.Acquire("demo-flow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(lock.path); err != nil {
		t.Fatalf("expected lock file to exist: %v", err)
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := os.Stat(lock.path); !os.IsNotExist(err) {
		t.Error("expected lock file to be removed after release")
	}
}

func TestEditLockContention(t *testing.T) {
	root := t.TempDir()
	first := NewEditLock(root, "tests/modules/auth.ts")
	second := NewEditLock(root, "tests/modules/auth.ts")

	if err := first.Acquire("journey-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := second.Acquire("journey-b")
	if err == nil {
		t.Fatal("expected contention error, got nil")
	}
	if !strings.Contains(err.Error(), "journey-a") {
		t.Errorf("expected the holder's journey in the error, got: %v", err)
	}

	if err := first.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := second.Acquire("journey-b"); err != nil {
		t.Fatalf("expected acquire to succeed after release: %v", err)
	}
}

func TestEditLockDistinctTargets(t *testing.T) {
	root := t.TempDir()
	first := NewEditLock(root, "tests/journeys/a.spec.ts")
	second := NewEditLock(root, "tests/journeys/b.spec.ts")

	if first.path == second.path {
		t.Fatal("expected different targets to use different lock files")
	}
	if err := first.Acquire("journey-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := second.Acquire("journey-b"); err != nil {
		t.Errorf("unrelated files must not contend: %v", err)
	}

	// Relative and absolute spellings of one target share a lock
	abs := NewEditLock(root, filepath.Join(root, "tests/journeys/a.spec.ts"))
	if abs.path != first.path {
		t.Error("expected relative and absolute target paths to share a lock file")
	}
}

func TestEditLockStaleDeadProcess(t *testing.T) {
	root := t.TempDir()
	lock := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := lock.Acquire("old-run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	stale := LockInfo{PID: deadPID, StartedAt: time.Now(), Target: lock.target, Journey: "old-run"}
	data, err := json.Marshal(stale)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(lock.path, data, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := fresh.Acquire("new-run"); err != nil {
		t.Fatalf("expected a dead holder's lock to be replaced: %v", err)
	}
}

func TestEditLockStaleByAge(t *testing.T) {
	root := t.TempDir()
	lock := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := lock.Acquire("old-run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Holder is alive but the lock predates the PID-reuse guard window
	aged := LockInfo{
		PID:       os.Getpid(),
		StartedAt: time.Now().Add(-2 * time.Hour),
		Target:    lock.target,
		Journey:   "old-run",
	}
	data, err := json.Marshal(aged)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(lock.path, data, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := fresh.Acquire("new-run"); err != nil {
		t.Fatalf("expected an aged-out lock to be replaced: %v", err)
	}
}

func TestEditLockUnreadableLockFile(t *testing.T) {
	root := t.TempDir()
	lock := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := lock.Acquire("old-run"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(lock.path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fresh := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := fresh.Acquire("new-run"); err != nil {
		t.Fatalf("expected a corrupt lock file to be replaced: %v", err)
	}
}

func TestEditLockAcquireWait(t *testing.T) {
	root := t.TempDir()
	holder := NewEditLock(root, "tests/modules/auth.ts")
	if err := holder.Acquire("journey-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	go func() {
		time.Sleep(100 * time.Millisecond)
		holder.Release()
	}()

	waiter := NewEditLock(root, "tests/modules/auth.ts")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := waiter.AcquireWait(ctx, "journey-b"); err != nil {
		t.Fatalf("expected the waiter to acquire after release: %v", err)
	}
}

func TestEditLockAcquireWaitTimeout(t *testing.T) {
	root := t.TempDir()
	holder := NewEditLock(root, "tests/modules/auth.ts")
	if err := holder.Acquire("journey-a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer holder.Release()

	waiter := NewEditLock(root, "tests/modules/auth.ts")
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	err := waiter.AcquireWait(ctx, "journey-b")
	if err == nil {
		t.Fatal("expected timeout error, got nil")
	}
	if !strings.Contains(err.Error(), "timed out waiting for edit lock") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestReleaseWithoutAcquire(t *testing.T) {
	lock := NewEditLock(t.TempDir(), "tests/journeys/demo.spec.ts")
	if err := lock.Release(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestListHeldLocks(t *testing.T) {
	root := t.TempDir()

	held, err := ListHeldLocks(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if held != nil {
		t.Errorf("expected no locks before any acquire, got %+v", held)
	}

	lock := NewEditLock(root, "tests/journeys/demo.spec.ts")
	if err := lock.Acquire("demo-flow"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// A stale entry from a dead process must be filtered out
	staleData, err := json.Marshal(LockInfo{PID: deadPID, StartedAt: time.Now(), Journey: "dead-run"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lockDir := filepath.Join(root, ".autogen", "locks")
	if err := os.WriteFile(filepath.Join(lockDir, "stale.lock"), staleData, 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, "notes.txt"), []byte("ignore me"), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	held, err = ListHeldLocks(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(held) != 1 {
		t.Fatalf("expected 1 live lock, got %d", len(held))
	}
	if held[0].Journey != "demo-flow" || held[0].PID != os.Getpid() {
		t.Errorf("unexpected lock info: %+v", held[0])
	}

	if err := lock.Release(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	held, err = ListHeldLocks(root)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(held) != 0 {
		t.Errorf("expected no live locks after release, got %+v", held)
	}
}
