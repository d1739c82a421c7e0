package main

import (
	"testing"
)

func TestCleanupCoordinatorIdempotent(t *testing.T) {
	c := NewCleanupCoordinator()

	c.Finish(true, "all journeys verified")
	// Later calls are no-ops
	c.Finish(false, "should not be recorded")
	c.Interrupt()
}

func TestCleanupCoordinatorWithNilResources(t *testing.T) {
	c := NewCleanupCoordinator()
	c.SetAppServer(nil)
	c.SetLogger(nil)
	c.Interrupt()
}

func TestCleanupCoordinatorClosesRunLog(t *testing.T) {
	root := t.TempDir()
	logger, err := NewRunLogger(root, "run-under-test", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := NewCleanupCoordinator()
	c.SetLogger(logger)
	c.Finish(true, "2 journeys verified")
	c.Interrupt() // must not write a second run_end

	events, err := ReadEvents(logger.LogPath(), &EventFilter{EventType: EventRunEnd})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected exactly 1 run_end event, got %d", len(events))
	}
	if events[0].Success == nil || !*events[0].Success {
		t.Error("expected run_end success=true")
	}
	if events[0].Msg != "2 journeys verified" {
		t.Errorf("unexpected summary: %s", events[0].Msg)
	}
}
