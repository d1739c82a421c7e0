package main

import (
	"sync"
)

// CleanupCoordinator funnels shutdown through one idempotent path so a
// signal mid-run still stops the app under test and finishes the run
// log. Resources register as they come up.
type CleanupCoordinator struct {
	mu        sync.Mutex
	appServer *AppServer
	logger    *RunLogger
	done      bool
}

// NewCleanupCoordinator creates a cleanup coordinator
func NewCleanupCoordinator() *CleanupCoordinator {
	return &CleanupCoordinator{}
}

// SetAppServer registers the app under test for shutdown
func (c *CleanupCoordinator) SetAppServer(as *AppServer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.appServer = as
}

// SetLogger registers the run logger for closing
func (c *CleanupCoordinator) SetLogger(l *RunLogger) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logger = l
}

// Finish ends a run normally
func (c *CleanupCoordinator) Finish(success bool, summary string) {
	c.cleanup(success, summary)
}

// Interrupt ends a run cut short by a signal
func (c *CleanupCoordinator) Interrupt() {
	c.cleanup(false, "interrupted by signal")
}

// cleanup runs at most once
func (c *CleanupCoordinator) cleanup(success bool, summary string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.done {
		return
	}
	c.done = true

	if c.appServer != nil {
		c.appServer.Stop()
		c.appServer = nil
	}

	if c.logger != nil {
		c.logger.RunEnd(success, summary)
		c.logger.Close()
	}
}
