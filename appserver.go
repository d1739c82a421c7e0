package main

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"
)

// capturedOutput buffers process output with a bounded size, trimming
// from the front when full
type capturedOutput struct {
	mu       sync.Mutex
	buf      bytes.Buffer
	maxBytes int
}

func (co *capturedOutput) Write(p []byte) (n int, err error) {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.buf.Len()+len(p) > co.maxBytes {
		data := co.buf.Bytes()
		keep := co.maxBytes / 2
		if len(data) > keep {
			data = data[len(data)-keep:]
		}
		co.buf.Reset()
		co.buf.Write(data)
	}
	co.buf.Write(p)
	return len(p), nil
}

func (co *capturedOutput) String() string {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.buf.String()
}

// AppServer manages the application under test for verify runs. With a
// configured command it owns the process; with only a ready URL it just
// polls until the externally started app responds.
type AppServer struct {
	projectRoot string
	config      *AppConfig
	logger      *RunLogger
	httpClient  *http.Client
	cmd         *exec.Cmd
	output      *capturedOutput
}

// NewAppServer creates an app server manager
func NewAppServer(projectRoot string, config *AppConfig, logger *RunLogger) *AppServer {
	return &AppServer{
		projectRoot: projectRoot,
		config:      config,
		logger:      logger,
		httpClient:  &http.Client{Timeout: 2 * time.Second},
	}
}

// Configured reports whether verify has an app to wait for
func (as *AppServer) Configured() bool {
	return as.config != nil && (as.config.Command != "" || as.config.ReadyURL != "")
}

// EnsureRunning starts the app if needed and blocks until it responds
func (as *AppServer) EnsureRunning(ctx context.Context) error {
	if !as.Configured() {
		return nil
	}

	if as.config.ReadyURL != "" && as.isReady(as.config.ReadyURL) {
		as.logger.Log(Event{Type: EventAppReady, Msg: "app already running at " + as.config.ReadyURL})
		return nil
	}

	if as.config.Command != "" {
		if err := as.start(); err != nil {
			return err
		}
	}

	if as.config.ReadyURL == "" {
		return nil
	}
	return as.waitForReady(ctx)
}

// start launches the app command in its own process group
func (as *AppServer) start() error {
	as.stopProcess()

	cmd := exec.Command("sh", "-c", as.config.Command)
	cmd.Dir = as.projectRoot
	cmd.Env = os.Environ()

	co := &capturedOutput{maxBytes: 256 * 1024}
	as.output = co
	cmd.Stdout = co
	cmd.Stderr = co

	// Set process group so we can kill all children
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start app: %w", err)
	}

	as.cmd = cmd
	as.logger.Log(Event{
		Type: EventAppStart,
		Msg:  fmt.Sprintf("started app (PID %d)", cmd.Process.Pid),
		Data: map[string]any{"command": as.config.Command},
	})

	return nil
}

// Stop tears the app process down. Safe to call multiple times.
func (as *AppServer) Stop() {
	as.stopProcess()
}

func (as *AppServer) stopProcess() {
	if as.cmd == nil || as.cmd.Process == nil {
		return
	}

	// Signal the process group so child processes are also terminated
	syscall.Kill(-as.cmd.Process.Pid, syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- as.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		syscall.Kill(-as.cmd.Process.Pid, syscall.SIGKILL)
		<-done
	}

	as.cmd = nil
}

// waitForReady polls the ready URL until it responds or the timeout hits
func (as *AppServer) waitForReady(ctx context.Context) error {
	timeout := time.Duration(as.config.ReadyTimeout) * time.Second
	if timeout == 0 {
		timeout = 30 * time.Second
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-waitCtx.Done():
			detail := as.RecentOutput(20)
			if detail != "" {
				return fmt.Errorf("timed out waiting for app at %s\nrecent output:\n%s", as.config.ReadyURL, detail)
			}
			return fmt.Errorf("timed out waiting for app at %s", as.config.ReadyURL)
		case <-ticker.C:
			if as.isReady(as.config.ReadyURL) {
				as.logger.Log(Event{Type: EventAppReady, Msg: "app ready at " + as.config.ReadyURL})
				return nil
			}
		}
	}
}

// isReady checks whether a URL is responding
func (as *AppServer) isReady(url string) bool {
	resp, err := as.httpClient.Get(url)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode < 500
}

// RecentOutput returns the last maxLines lines of captured app output
func (as *AppServer) RecentOutput(maxLines int) string {
	if as.output == nil {
		return ""
	}
	lines := strings.Split(as.output.String(), "\n")
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
