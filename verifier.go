package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"
)

// ScenarioResult is one executed scenario pulled from the runner report
type ScenarioResult struct {
	ID         string         `json:"id,omitempty"`
	Title      string         `json:"title"`
	Tags       []string       `json:"tags,omitempty"`
	Status     string         `json:"status"` // passed | failed | skipped
	DurationMs int64          `json:"durationMs,omitempty"`
	Error      *ScenarioError `json:"error,omitempty"`
}

// ScenarioError carries the failure identity: the signature is the stable
// first line used for classification and heal bookkeeping
type ScenarioError struct {
	Signature string `json:"signature,omitempty"`
	Message   string `json:"message,omitempty"`
}

// VerifyFailure is the classified failure of a verification attempt
type VerifyFailure struct {
	Category  FailureCategory `json:"category"`
	Signature string          `json:"signature"`
	Message   string          `json:"message"`
	Scenario  string          `json:"scenario,omitempty"`
}

// VerificationResult is the outcome of running one journey's scenario
// through the external runner
type VerificationResult struct {
	JourneyID  string           `json:"journey"`
	Passed     bool             `json:"passed"`
	TimedOut   bool             `json:"timedOut,omitempty"`
	ExitCode   int              `json:"exitCode"`
	DurationMs int64            `json:"durationMs"`
	Scenarios  []ScenarioResult `json:"scenarios,omitempty"`
	Failure    *VerifyFailure   `json:"failure,omitempty"`
	ReportPath string           `json:"reportPath,omitempty"`
	Evidence   *EvidenceBundle  `json:"evidence,omitempty"`
	Output     string           `json:"-"` // last lines of runner output
}

// Verifier executes the configured runner for a single journey and turns
// its report into a pass/fail verdict with a classified failure
type Verifier struct {
	cfg    *ResolvedConfig
	logger *RunLogger
}

func NewVerifier(cfg *ResolvedConfig, logger *RunLogger) *Verifier {
	return &Verifier{cfg: cfg, logger: logger}
}

// Run invokes the runner selecting just this journey's tag, writing the
// report into attemptDir. The runner gets its own process group and a hard
// timeout; exceeding the budget is an environment failure, not an error.
func (v *Verifier) Run(ctx context.Context, journeyID, runID, attemptDir string) (*VerificationResult, error) {
	runner := v.cfg.Config.Runner
	tag := JourneyTag(journeyID)
	reportPath := filepath.Join(attemptDir, "report.json")

	if err := os.MkdirAll(attemptDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create attempt directory: %w", err)
	}

	args := make([]string, 0, len(runner.Args))
	for _, a := range runner.Args {
		a = strings.ReplaceAll(a, "{{tag}}", tag)
		a = strings.ReplaceAll(a, "{{report}}", reportPath)
		args = append(args, a)
	}

	timeout := time.Duration(runner.Timeout) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, runner.Command, args...)
	cmd.Dir = v.cfg.ProjectRoot
	cmd.Env = os.Environ()
	for _, e := range runner.Env {
		e = strings.ReplaceAll(e, "{{tag}}", tag)
		e = strings.ReplaceAll(e, "{{report}}", reportPath)
		cmd.Env = append(cmd.Env, e)
	}
	cmd.Env = append(cmd.Env, "AUTOGEN_RUN_ID="+runID)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 5 * time.Second

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	v.logger.Log(Event{Type: EventVerifyStart, Journey: journeyID, Msg: runner.Command + " " + strings.Join(args, " ")})
	startTime := time.Now()

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start runner: %w", err)
	}

	var mu sync.Mutex
	var outputBuilder strings.Builder
	collect := func(stream string, r *bufio.Scanner) {
		r.Buffer(make([]byte, 64*1024), 1024*1024)
		for r.Scan() {
			line := r.Text()
			v.logger.Log(Event{Type: EventRunnerLine, Journey: journeyID, Msg: line, Data: map[string]any{"stream": stream}})
			mu.Lock()
			outputBuilder.WriteString(line + "\n")
			mu.Unlock()
		}
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		collect("stderr", bufio.NewScanner(stderr))
	}()
	collect("stdout", bufio.NewScanner(stdout))
	wg.Wait()

	waitErr := cmd.Wait()
	duration := time.Since(startTime)

	result := &VerificationResult{
		JourneyID:  journeyID,
		DurationMs: duration.Milliseconds(),
		ReportPath: reportPath,
		Output:     truncateOutput(outputBuilder.String(), 50),
	}

	if runCtx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.Failure = &VerifyFailure{
			Category:  FailEnvironment,
			Signature: fmt.Sprintf("runner timeout after %ds", runner.Timeout),
			Message:   fmt.Sprintf("runner exceeded its %ds budget and was killed", runner.Timeout),
		}
		v.logVerifyEnd(result)
		return result, nil
	}

	if waitErr != nil {
		if exitErr, ok := waitErr.(*exec.ExitError); ok {
			result.ExitCode = exitErr.ExitCode()
		} else {
			return nil, fmt.Errorf("runner failed: %w", waitErr)
		}
	}

	v.readReport(result)
	v.logVerifyEnd(result)
	return result, nil
}

// readReport parses the report file and settles the verdict. A missing or
// unparseable report is an environment failure.
func (v *Verifier) readReport(result *VerificationResult) {
	data, err := os.ReadFile(result.ReportPath)
	if err != nil {
		result.Failure = &VerifyFailure{
			Category:  FailEnvironment,
			Signature: "runner produced no report",
			Message:   fmt.Sprintf("report file missing (%v); runner output:\n%s", err, result.Output),
		}
		return
	}

	scenarios, err := parseRunnerReport(data)
	if err != nil {
		result.Failure = &VerifyFailure{
			Category:  FailEnvironment,
			Signature: "unparseable runner report",
			Message:   err.Error(),
		}
		return
	}
	result.Scenarios = scenarios

	scenario := findScenario(scenarios, JourneyTag(result.JourneyID))
	if scenario == nil {
		result.Failure = &VerifyFailure{
			Category:  FailEnvironment,
			Signature: "journey scenario not found in report",
			Message:   fmt.Sprintf("no scenario tagged %s; the generated test may not be picked up by the runner", JourneyTag(result.JourneyID)),
		}
		return
	}

	if scenario.Status == "passed" {
		result.Passed = true
		return
	}

	signature := ""
	message := fmt.Sprintf("scenario %q %s", scenario.Title, scenario.Status)
	if scenario.Error != nil {
		signature = scenario.Error.Signature
		if scenario.Error.Message != "" {
			message = scenario.Error.Message
		}
	}
	if signature == "" {
		signature = failureSignature(message)
	}
	result.Failure = &VerifyFailure{
		Category:  ClassifyFailure(signature + " " + message),
		Signature: signature,
		Message:   message,
		Scenario:  scenario.Title,
	}
}

func (v *Verifier) logVerifyEnd(result *VerificationResult) {
	ev := Event{
		Type:     EventVerifyEnd,
		Journey:  result.JourneyID,
		Success:  boolPtr(result.Passed),
		Duration: result.DurationMs * int64(time.Millisecond),
	}
	if result.Failure != nil {
		ev.Msg = fmt.Sprintf("[%s] %s", result.Failure.Category, result.Failure.Signature)
	}
	v.logger.Log(ev)
}

// failureSignature reduces a failure message to its stable first line
func failureSignature(message string) string {
	sig := strings.TrimSpace(firstLine(strings.TrimSpace(message)))
	if len(sig) > 160 {
		sig = sig[:160]
	}
	return sig
}

// runnerReport accepts both the native report contract and the Playwright
// JSON reporter shape
type runnerReport struct {
	Scenarios []ScenarioResult  `json:"scenarios"`
	Suites    []playwrightSuite `json:"suites"`
}

type playwrightSuite struct {
	Title  string            `json:"title"`
	Suites []playwrightSuite `json:"suites,omitempty"`
	Specs  []playwrightSpec  `json:"specs,omitempty"`
}

type playwrightSpec struct {
	Title string           `json:"title"`
	Tests []playwrightTest `json:"tests,omitempty"`
}

type playwrightTest struct {
	Results []playwrightResult `json:"results,omitempty"`
}

type playwrightResult struct {
	Status   string            `json:"status"`
	Duration float64           `json:"duration"`
	Error    *playwrightError  `json:"error,omitempty"`
	Errors   []playwrightError `json:"errors,omitempty"`
}

type playwrightError struct {
	Message string `json:"message"`
}

func parseRunnerReport(data []byte) ([]ScenarioResult, error) {
	var report runnerReport
	if err := json.Unmarshal(data, &report); err != nil {
		return nil, fmt.Errorf("invalid report JSON: %w", err)
	}
	if len(report.Scenarios) > 0 {
		return report.Scenarios, nil
	}
	var scenarios []ScenarioResult
	flattenSuites(report.Suites, &scenarios)
	return scenarios, nil
}

// flattenSuites walks the Playwright suite tree, keeping the last retry's
// result per spec
func flattenSuites(suites []playwrightSuite, out *[]ScenarioResult) {
	for _, suite := range suites {
		for _, spec := range suite.Specs {
			scenario := ScenarioResult{Title: spec.Title, Status: "skipped"}
			for _, test := range spec.Tests {
				if len(test.Results) == 0 {
					continue
				}
				last := test.Results[len(test.Results)-1]
				scenario.DurationMs = int64(last.Duration)
				switch last.Status {
				case "passed":
					scenario.Status = "passed"
				case "skipped":
					scenario.Status = "skipped"
				default:
					scenario.Status = "failed"
				}
				msg := ""
				if last.Error != nil {
					msg = last.Error.Message
				} else if len(last.Errors) > 0 {
					msg = last.Errors[0].Message
				}
				if last.Status == "timedOut" && msg == "" {
					msg = "test timeout exceeded"
				}
				if msg != "" {
					scenario.Error = &ScenarioError{Signature: failureSignature(msg), Message: msg}
				}
			}
			*out = append(*out, scenario)
		}
		flattenSuites(suite.Suites, out)
	}
}

// findScenario picks the scenario carrying the journey tag
func findScenario(scenarios []ScenarioResult, tag string) *ScenarioResult {
	for i := range scenarios {
		s := &scenarios[i]
		for _, t := range s.Tags {
			if t == tag {
				return s
			}
		}
		if strings.Contains(s.Title, tag) || s.ID != "" && "@journey:"+s.ID == tag {
			return s
		}
	}
	return nil
}
