package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/accessibility"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
)

// EvidenceBundle lists the artifacts captured for a failed verification
type EvidenceBundle struct {
	Dir           string `json:"dir"`
	Screenshot    string `json:"screenshot,omitempty"`
	AXTree        string `json:"axTree,omitempty"`
	ConsoleLog    string `json:"consoleLog,omitempty"`
	ConsoleErrors int    `json:"consoleErrors"`
}

// EvidenceCollector captures browser-side evidence for failed journeys.
// Capture is best-effort: a broken browser never fails the pipeline.
type EvidenceCollector struct {
	config      *BrowserConfig
	logger      *RunLogger
	mu          sync.Mutex
	consoleLogs []string
}

// NewEvidenceCollector creates an evidence collector
func NewEvidenceCollector(config *BrowserConfig, logger *RunLogger) *EvidenceCollector {
	return &EvidenceCollector{config: config, logger: logger}
}

// Enabled reports whether evidence capture is configured on
func (ec *EvidenceCollector) Enabled() bool {
	return ec != nil && ec.config != nil && ec.config.Enabled && ec.config.BaseURL != ""
}

// Capture navigates to the journey's entry page and writes a screenshot,
// an accessibility-tree snapshot, and collected console errors into
// attemptDir/evidence. Partial bundles are returned when individual
// captures fail.
func (ec *EvidenceCollector) Capture(ctx context.Context, journey *Journey, attemptDir string) (*EvidenceBundle, error) {
	if !ec.Enabled() {
		return nil, nil
	}

	evidenceDir := filepath.Join(attemptDir, "evidence")
	if err := os.MkdirAll(evidenceDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create evidence directory: %w", err)
	}

	bundle := &EvidenceBundle{Dir: evidenceDir}

	browserCtx, cancel, err := ec.newBrowserContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize browser: %w", err)
	}
	defer cancel()

	timeout := time.Duration(ec.config.Timeout) * time.Second
	runCtx, runCancel := context.WithTimeout(browserCtx, timeout)
	defer runCancel()

	url := ec.entryURL(journey)

	var screenshot []byte
	var axNodes []*accessibility.Node

	err = chromedp.Run(runCtx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(1*time.Second), // Wait for any async content
		chromedp.FullScreenshot(&screenshot, 90),
		chromedp.ActionFunc(func(ctx context.Context) error {
			nodes, err := accessibility.GetFullAXTree().Do(ctx)
			if err != nil {
				return err
			}
			axNodes = nodes
			return nil
		}),
	)
	if err != nil {
		ec.logger.Warning(fmt.Sprintf("evidence capture incomplete for %s: %v", journey.ID, err))
	}

	if len(screenshot) > 0 {
		path := filepath.Join(evidenceDir, "screenshot.png")
		if werr := os.WriteFile(path, screenshot, 0644); werr == nil {
			bundle.Screenshot = path
		}
	}

	if len(axNodes) > 0 {
		path := filepath.Join(evidenceDir, "axtree.json")
		if werr := writeAXTree(path, axNodes); werr == nil {
			bundle.AXTree = path
		}
	}

	ec.mu.Lock()
	logs := make([]string, len(ec.consoleLogs))
	copy(logs, ec.consoleLogs)
	ec.mu.Unlock()

	if len(logs) > 0 {
		path := filepath.Join(evidenceDir, "console.log")
		content := strings.Join(logs, "\n") + "\n"
		if werr := os.WriteFile(path, []byte(content), 0644); werr == nil {
			bundle.ConsoleLog = path
			bundle.ConsoleErrors = len(logs)
		}
	}

	ec.logger.Log(Event{
		Type:    EventEvidence,
		Journey: journey.ID,
		Msg:     fmt.Sprintf("captured evidence at %s", url),
		Data: map[string]any{
			"dir":            evidenceDir,
			"console_errors": bundle.ConsoleErrors,
		},
	})

	return bundle, err
}

// newBrowserContext starts a headless browser and wires console capture
func (ec *EvidenceCollector) newBrowserContext(parent context.Context) (context.Context, context.CancelFunc, error) {
	opts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.DisableGPU,
	}

	if ec.config.Headless {
		opts = append(opts, chromedp.Headless)
	}

	if ec.config.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(ec.config.ExecutablePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	ctx, ctxCancel := chromedp.NewContext(allocCtx)

	cancel := func() {
		ctxCancel()
		allocCancel()
	}

	ec.mu.Lock()
	ec.consoleLogs = nil
	ec.mu.Unlock()

	chromedp.ListenTarget(ctx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *runtime.EventExceptionThrown:
			ec.appendConsole("exception: " + ev.ExceptionDetails.Text)
		case *runtime.EventConsoleAPICalled:
			if ev.Type != runtime.APITypeError && ev.Type != runtime.APITypeWarning {
				return
			}
			var parts []string
			for _, arg := range ev.Args {
				if arg.Description != "" {
					parts = append(parts, arg.Description)
				} else if len(arg.Value) > 0 {
					parts = append(parts, string(arg.Value))
				}
			}
			ec.appendConsole(fmt.Sprintf("console.%s: %s", ev.Type, strings.Join(parts, " ")))
		}
	})

	return ctx, cancel, nil
}

func (ec *EvidenceCollector) appendConsole(line string) {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	ec.consoleLogs = append(ec.consoleLogs, line)
}

// entryURL builds the URL to capture for a journey
func (ec *EvidenceCollector) entryURL(journey *Journey) string {
	base := strings.TrimSuffix(ec.config.BaseURL, "/")
	path := journey.EntryPath
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return base + path
}

// writeAXTree serializes the accessibility tree as indented JSON
func writeAXTree(path string, nodes []*accessibility.Node) error {
	data, err := json.MarshalIndent(nodes, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
