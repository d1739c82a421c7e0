package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// EventType represents the type of log event
type EventType string

const (
	EventRunStart        EventType = "run_start"
	EventRunEnd          EventType = "run_end"
	EventJourneyLoaded   EventType = "journey_loaded"
	EventStepMapped      EventType = "step_mapped"
	EventIRBuilt         EventType = "ir_built"
	EventGenerated       EventType = "generated"
	EventValidationIssue EventType = "validation_issue"
	EventValidationEnd   EventType = "validation_end"
	EventVerifyStart     EventType = "verify_start"
	EventRunnerLine      EventType = "runner_line"
	EventVerifyEnd       EventType = "verify_end"
	EventHealAttempt     EventType = "heal_attempt"
	EventHealEnd         EventType = "heal_end"
	EventDebtRecorded    EventType = "debt_recorded"
	EventEvidence        EventType = "evidence"
	EventAppStart        EventType = "app_start"
	EventAppReady        EventType = "app_ready"
	EventStateChange     EventType = "state_change"
	EventWarning         EventType = "warning"
	EventError           EventType = "error"
)

// Event represents a single log event
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Type      EventType      `json:"type"`
	Journey   string         `json:"journey,omitempty"`
	Step      int            `json:"step,omitempty"` // 1-based
	Attempt   int            `json:"attempt,omitempty"`
	Duration  int64          `json:"duration,omitempty"` // nanoseconds
	Success   *bool          `json:"success,omitempty"`
	Msg       string         `json:"msg,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
}

// LoggingConfig configures the logging system
type LoggingConfig struct {
	Enabled           bool `json:"enabled"`
	MaxRuns           int  `json:"maxRuns"`
	ConsoleTimestamps bool `json:"consoleTimestamps"`
	ConsoleDurations  bool `json:"consoleDurations"`
}

// DefaultLoggingConfig returns sensible defaults
func DefaultLoggingConfig() *LoggingConfig {
	return &LoggingConfig{
		Enabled:           true,
		MaxRuns:           10,
		ConsoleTimestamps: true,
		ConsoleDurations:  true,
	}
}

// RunLogger appends JSONL events for a single pipeline run. A nil logger
// is safe to call; every method is a no-op.
type RunLogger struct {
	file           *os.File
	encoder        *json.Encoder
	mu             sync.Mutex
	runNumber      int
	runID          string
	currentJourney string
	currentAttempt int
	startTime      time.Time
	enabled        bool
	config         *LoggingConfig
}

// NewRunLogger creates a logger writing to .autogen/logs/run-NNN.jsonl,
// rotating old run files beyond the configured keep count
func NewRunLogger(projectRoot, runID string, config *LoggingConfig) (*RunLogger, error) {
	if config == nil {
		config = DefaultLoggingConfig()
	}

	logger := &RunLogger{
		runID:     runID,
		startTime: time.Now(),
		enabled:   config.Enabled,
		config:    config,
	}

	if !config.Enabled {
		return logger, nil
	}

	logsDir := LogsDir(projectRoot)
	if err := os.MkdirAll(logsDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create logs directory: %w", err)
	}

	runNumber := nextRunNumber(logsDir)
	logger.runNumber = runNumber

	if config.MaxRuns > 0 {
		rotateOldRuns(logsDir, config.MaxRuns)
	}

	logPath := filepath.Join(logsDir, fmt.Sprintf("run-%03d.jsonl", runNumber))
	file, err := os.Create(logPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger.file = file
	logger.encoder = json.NewEncoder(file)

	return logger, nil
}

// Close closes the log file
func (l *RunLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// RunNumber returns the current run number
func (l *RunLogger) RunNumber() int {
	if l == nil {
		return 0
	}
	return l.runNumber
}

// RunID returns the run's unique id
func (l *RunLogger) RunID() string {
	if l == nil {
		return ""
	}
	return l.runID
}

// LogPath returns the path to the current log file
func (l *RunLogger) LogPath() string {
	if l == nil || l.file == nil {
		return ""
	}
	return l.file.Name()
}

// SetJourney sets the journey context stamped on events that carry none
func (l *RunLogger) SetJourney(id string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentJourney = id
}

// SetAttempt sets the heal attempt context (0 clears it)
func (l *RunLogger) SetAttempt(n int) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.currentAttempt = n
}

// Log writes one event, filling timestamp and current context
func (l *RunLogger) Log(event Event) {
	if l == nil || !l.enabled || l.file == nil {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if event.Journey == "" {
		event.Journey = l.currentJourney
	}
	if event.Attempt == 0 {
		event.Attempt = l.currentAttempt
	}

	l.encoder.Encode(event)
}

// RunStart logs the start of a run
func (l *RunLogger) RunStart(operation string, journeys []string) {
	l.Log(Event{
		Type: EventRunStart,
		Data: map[string]any{
			"operation":  operation,
			"journeys":   journeys,
			"run_id":     l.RunID(),
			"run_number": l.RunNumber(),
		},
	})
}

// RunEnd logs the end of a run
func (l *RunLogger) RunEnd(success bool, summary string) {
	if l == nil {
		return
	}
	l.Log(Event{
		Type:     EventRunEnd,
		Duration: time.Since(l.startTime).Nanoseconds(),
		Success:  &success,
		Msg:      summary,
	})
}

// StateChange logs a healing state transition
func (l *RunLogger) StateChange(journey, from, to string) {
	l.Log(Event{
		Type:    EventStateChange,
		Journey: journey,
		Data:    map[string]any{"from": from, "to": to},
	})
}

// Warning logs a warning message
func (l *RunLogger) Warning(msg string) {
	l.Log(Event{Type: EventWarning, Msg: msg})
}

// Error logs an error message
func (l *RunLogger) Error(msg string, err error) {
	data := make(map[string]any)
	if err != nil {
		data["error"] = err.Error()
	}
	l.Log(Event{Type: EventError, Msg: msg, Data: data})
}

// Console output helpers with timestamps

// LogPrint prints a timestamped message to stdout
func (l *RunLogger) LogPrint(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if l != nil && l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s", timestamp, msg)
	} else {
		fmt.Print(msg)
	}
}

// LogPrintln prints a timestamped message with newline to stdout
func (l *RunLogger) LogPrintln(args ...any) {
	msg := fmt.Sprint(args...)
	if l != nil && l.config != nil && l.config.ConsoleTimestamps {
		timestamp := time.Now().Format("15:04:05")
		fmt.Printf("[%s] %s\n", timestamp, msg)
	} else {
		fmt.Println(msg)
	}
}

// Helper functions

// LogsDir returns the run log directory under the pipeline state dir
func LogsDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".autogen", "logs")
}

// nextRunNumber determines the next run number based on existing logs
func nextRunNumber(logsDir string) int {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return 1
	}

	maxRun := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		// Extract number from run-XXX.jsonl
		numStr := strings.TrimPrefix(name, "run-")
		numStr = strings.TrimSuffix(numStr, ".jsonl")
		if num, err := strconv.Atoi(numStr); err == nil && num > maxRun {
			maxRun = num
		}
	}

	return maxRun + 1
}

// rotateOldRuns deletes runs beyond maxRuns (keeps most recent)
func rotateOldRuns(logsDir string, maxRuns int) {
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		return
	}

	var runFiles []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasPrefix(name, "run-") && strings.HasSuffix(name, ".jsonl") {
			runFiles = append(runFiles, name)
		}
	}

	if len(runFiles) <= maxRuns {
		return
	}

	sort.Slice(runFiles, func(i, j int) bool {
		return extractRunNumber(runFiles[i]) < extractRunNumber(runFiles[j])
	})

	toDelete := len(runFiles) - maxRuns
	for i := 0; i < toDelete; i++ {
		os.Remove(filepath.Join(logsDir, runFiles[i]))
	}
}

// extractRunNumber extracts the run number from a filename like "run-001.jsonl"
func extractRunNumber(filename string) int {
	numStr := strings.TrimPrefix(filename, "run-")
	numStr = strings.TrimSuffix(numStr, ".jsonl")
	num, _ := strconv.Atoi(numStr)
	return num
}

// ListRuns returns all run log files, most recent first
func ListRuns(projectRoot string) ([]RunFileSummary, error) {
	logsDir := LogsDir(projectRoot)
	entries, err := os.ReadDir(logsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var runs []RunFileSummary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasPrefix(name, "run-") || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		logPath := filepath.Join(logsDir, name)
		info, err := entry.Info()
		if err != nil {
			continue
		}

		summary := RunFileSummary{
			RunNumber: extractRunNumber(name),
			LogPath:   logPath,
			FileSize:  info.Size(),
			ModTime:   info.ModTime(),
		}

		if first, last := readFirstLastEvents(logPath); first != nil {
			summary.StartTime = first.Timestamp
			if first.Data != nil {
				if op, ok := first.Data["operation"].(string); ok {
					summary.Operation = op
				}
			}
			if last != nil && last.Type == EventRunEnd {
				summary.EndTime = &last.Timestamp
				summary.Success = last.Success
				summary.Summary = last.Msg
			}
		}

		runs = append(runs, summary)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].RunNumber > runs[j].RunNumber
	})

	return runs, nil
}

// RunFileSummary contains summary info about one run log
type RunFileSummary struct {
	RunNumber int
	LogPath   string
	Operation string
	FileSize  int64
	ModTime   time.Time
	StartTime time.Time
	EndTime   *time.Time
	Success   *bool
	Summary   string
}

// readFirstLastEvents reads the first and last events from a log file
func readFirstLastEvents(logPath string) (*Event, *Event) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, nil
	}
	defer file.Close()

	var first, last *Event
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if first == nil {
			first = &event
		}
		last = &event
	}

	return first, last
}

// ReadEvents reads events from a log file with optional filtering
func ReadEvents(logPath string, filter *EventFilter) ([]Event, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return ReadEventsFromReader(file, filter)
}

// ReadEventsFromReader reads events from an io.Reader with optional
// filtering, skipping blank and malformed lines
func ReadEventsFromReader(r io.Reader, filter *EventFilter) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		if filter != nil && !filter.Match(&event) {
			continue
		}

		events = append(events, event)
	}

	return events, scanner.Err()
}

// EventFilter filters events when reading logs
type EventFilter struct {
	EventType EventType
	Journey   string
}

// Match returns true if the event matches the filter
func (f *EventFilter) Match(event *Event) bool {
	if f.EventType != "" && event.Type != f.EventType {
		return false
	}
	if f.Journey != "" && event.Journey != f.Journey {
		return false
	}
	return true
}

// GetRunSummary generates a detailed summary of a run
func GetRunSummary(logPath string) (*DetailedRunSummary, error) {
	events, err := ReadEvents(logPath, nil)
	if err != nil {
		return nil, err
	}

	summary := &DetailedRunSummary{
		Journeys: make(map[string]*JourneyRunSummary),
	}

	journey := func(id string) *JourneyRunSummary {
		if id == "" {
			return nil
		}
		j, ok := summary.Journeys[id]
		if !ok {
			j = &JourneyRunSummary{ID: id}
			summary.Journeys[id] = j
		}
		return j
	}

	for _, event := range events {
		switch event.Type {
		case EventRunStart:
			summary.StartTime = event.Timestamp
			if event.Data != nil {
				if op, ok := event.Data["operation"].(string); ok {
					summary.Operation = op
				}
				if id, ok := event.Data["run_id"].(string); ok {
					summary.RunID = id
				}
				if n, ok := event.Data["run_number"].(float64); ok {
					summary.RunNumber = int(n)
				}
			}

		case EventRunEnd:
			summary.EndTime = &event.Timestamp
			summary.Success = event.Success
			summary.Result = event.Msg

		case EventGenerated:
			if j := journey(event.Journey); j != nil {
				j.Artifacts++
			}

		case EventValidationIssue:
			if j := journey(event.Journey); j != nil {
				j.ValidationIssues++
			}

		case EventValidationEnd:
			if j := journey(event.Journey); j != nil {
				j.Validated = event.Success
			}

		case EventVerifyEnd:
			if j := journey(event.Journey); j != nil {
				j.Verified = event.Success
			}

		case EventHealAttempt:
			if j := journey(event.Journey); j != nil {
				j.HealAttempts++
			}

		case EventHealEnd:
			if j := journey(event.Journey); j != nil {
				j.HealOutcome = event.Msg
			}

		case EventDebtRecorded:
			if j := journey(event.Journey); j != nil {
				j.Debt++
			}

		case EventWarning:
			summary.Warnings++

		case EventError:
			summary.Errors++
		}
	}

	if summary.EndTime != nil {
		d := summary.EndTime.Sub(summary.StartTime)
		summary.Duration = &d
	}

	return summary, nil
}

// DetailedRunSummary contains detailed information about a run
type DetailedRunSummary struct {
	RunNumber int
	RunID     string
	Operation string
	StartTime time.Time
	EndTime   *time.Time
	Duration  *time.Duration
	Success   *bool
	Result    string
	Journeys  map[string]*JourneyRunSummary
	Warnings  int
	Errors    int
}

// JourneyRunSummary aggregates one journey's trajectory through a run
type JourneyRunSummary struct {
	ID               string
	Artifacts        int
	ValidationIssues int
	Validated        *bool
	Verified         *bool
	HealAttempts     int
	HealOutcome      string
	Debt             int
}
