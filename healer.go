package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	godiff "github.com/sourcegraph/go-diff/diff"
)

// HealState is the healing loop's state machine position
type HealState string

const (
	HealIdle            HealState = "idle"
	HealAttempting      HealState = "attempting"
	HealSucceeded       HealState = "succeeded"
	HealExhausted       HealState = "exhausted"
	HealNoApplicableFix HealState = "no_applicable_fix"
)

// HealLogEntry records one fix-verify cycle, appended to heal-log.jsonl
// regardless of outcome
type HealLogEntry struct {
	Timestamp   time.Time       `json:"ts"`
	Attempt     int             `json:"attempt"`
	Category    FailureCategory `json:"category"`
	Rule        string          `json:"rule,omitempty"`
	DiffSummary string          `json:"diffSummary,omitempty"`
	Result      string          `json:"result"` // passed | failed | no_fix
	Signature   string          `json:"signature,omitempty"`
}

// HealOutcome is the terminal state of one heal call plus its full log
type HealOutcome struct {
	State    HealState
	Attempts int
	Entries  []HealLogEntry
	Final    *VerificationResult
	LogPath  string
}

// Healed reports whether the loop ended with a passing verification
func (o *HealOutcome) Healed() bool {
	return o.State == HealSucceeded
}

// Healer drives bounded fix-verify cycles after a failed verification.
// One fix per attempt, chosen by failure category from a fixed allow-list;
// assertions' expected values are never altered and steps are never
// removed.
type Healer struct {
	cfg         *ResolvedConfig
	policy      *Policy
	resolver    *Resolver
	generator   *Generator
	validator   *Validator
	verifier    *Verifier
	logger      *RunLogger
	maxAttempts int
}

func NewHealer(cfg *ResolvedConfig, policy *Policy, catalog *SelectorCatalog, logger *RunLogger) *Healer {
	return &Healer{
		cfg:         cfg,
		policy:      policy,
		resolver:    NewResolver(catalog),
		generator:   NewGenerator(cfg, logger),
		validator:   NewValidator(cfg, policy, logger),
		verifier:    NewVerifier(cfg, logger),
		logger:      logger,
		maxAttempts: policy.Healing.MaxAttempts,
	}
}

// SetMaxAttempts overrides the policy bound (used by --max-heal-attempts)
func (h *Healer) SetMaxAttempts(n int) {
	if n > 0 {
		h.maxAttempts = n
	}
}

// Heal runs at most maxAttempts sequential fix-verify cycles against the
// failure in first. It mutates ir as fixes are applied and regenerates
// through the normal generator path, so marker ownership and file locks
// hold during healing too.
func (h *Healer) Heal(ctx context.Context, journey *Journey, ir *IRJourney, runDir string, first *VerificationResult) (*HealOutcome, error) {
	outcome := &HealOutcome{
		State:   HealIdle,
		Final:   first,
		LogPath: filepath.Join(runDir, "heal-log.jsonl"),
	}
	if first == nil || first.Passed || first.Failure == nil {
		return outcome, nil
	}

	failure := first.Failure
	h.transition(journey.ID, outcome, HealAttempting)
	defer h.logger.SetAttempt(0)

	for attempt := 1; attempt <= h.maxAttempts; attempt++ {
		h.logger.SetAttempt(attempt)
		h.logger.Log(Event{
			Type:    EventHealAttempt,
			Journey: journey.ID,
			Attempt: attempt,
			Msg:     fmt.Sprintf("[%s] %s", failure.Category, failure.Signature),
		})

		entry := HealLogEntry{
			Timestamp: time.Now().UTC(),
			Attempt:   attempt,
			Category:  failure.Category,
			Signature: failure.Signature,
		}

		before, err := h.snapshotFiles(ir)
		if err != nil {
			return outcome, err
		}

		rule, applied, err := h.applyFix(ctx, journey, ir, failure)
		entry.Rule = rule
		if err != nil {
			return outcome, err
		}
		if !applied {
			entry.Result = "no_fix"
			h.appendEntry(outcome, entry)
			h.transition(journey.ID, outcome, HealNoApplicableFix)
			return outcome, nil
		}
		entry.DiffSummary = h.summarizeChanges(ctx, before)

		validation, err := h.validator.ValidateJourney(ctx, journey, ir)
		if err != nil {
			return outcome, err
		}
		if !validation.Passed() {
			entry.Result = "failed"
			entry.Signature = "fix produced validation errors"
			h.appendEntry(outcome, entry)
			h.transition(journey.ID, outcome, HealExhausted)
			return outcome, nil
		}

		attemptDir := filepath.Join(runDir, fmt.Sprintf("attempt-%d", attempt+1))
		result, err := h.verifier.Run(ctx, journey.ID, ir.RunID, attemptDir)
		if err != nil {
			return outcome, err
		}
		outcome.Final = result
		outcome.Attempts = attempt

		if result.Passed {
			entry.Result = "passed"
			h.appendEntry(outcome, entry)
			h.transition(journey.ID, outcome, HealSucceeded)
			return outcome, nil
		}

		entry.Result = "failed"
		h.appendEntry(outcome, entry)
		if result.Failure != nil {
			failure = result.Failure
		}
	}

	h.transition(journey.ID, outcome, HealExhausted)
	return outcome, nil
}

func (h *Healer) transition(journeyID string, outcome *HealOutcome, to HealState) {
	h.logger.StateChange(journeyID, string(outcome.State), string(to))
	outcome.State = to

	switch to {
	case HealSucceeded, HealExhausted, HealNoApplicableFix:
		h.logger.Log(Event{
			Type:    EventHealEnd,
			Journey: journeyID,
			Success: boolPtr(to == HealSucceeded),
			Msg:     string(to),
			Data:    map[string]any{"attempts": outcome.Attempts},
		})
	}
}

// appendEntry records the entry in memory and on disk. A failed disk
// append degrades to a warning; the loop itself keeps going.
func (h *Healer) appendEntry(outcome *HealOutcome, entry HealLogEntry) {
	outcome.Entries = append(outcome.Entries, entry)

	if err := os.MkdirAll(filepath.Dir(outcome.LogPath), 0755); err != nil {
		h.logger.Warning(fmt.Sprintf("cannot write heal log: %v", err))
		return
	}
	f, err := os.OpenFile(outcome.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		h.logger.Warning(fmt.Sprintf("cannot write heal log: %v", err))
		return
	}
	defer f.Close()
	if err := json.NewEncoder(f).Encode(entry); err != nil {
		h.logger.Warning(fmt.Sprintf("cannot write heal log: %v", err))
	}
}

// applyFix selects and applies exactly one fix for the failure category.
// auth and environment have no allow-listed fix.
func (h *Healer) applyFix(ctx context.Context, journey *Journey, ir *IRJourney, failure *VerifyFailure) (string, bool, error) {
	switch failure.Category {
	case FailSelector:
		return h.fixSelector(ctx, journey, ir, failure)
	case FailNavigation:
		return h.fixNavigation(ctx, ir)
	case FailTiming:
		return h.fixTiming(ctx, ir)
	case FailData:
		return h.fixData(ctx, ir)
	default:
		return "", false, nil
	}
}

// fixSelector advances the failing step's locator one notch down the
// strategy ladder. Landing on css records selector debt, same as at
// mapping time.
func (h *Healer) fixSelector(ctx context.Context, journey *Journey, ir *IRJourney, failure *VerifyFailure) (string, bool, error) {
	const rule = "advance-locator"

	idx := h.failingLocatorStep(ir, failure)
	if idx < 0 {
		return rule, false, nil
	}
	step := &ir.Steps[idx]

	hint := journeyStepHint(journey, step.SourceStepText)
	next, ok := h.resolver.NextCandidate(step.Target, hint, step.Locator.Strategy)
	if !ok {
		return rule, false, nil
	}
	step.Locator = next

	if next.Strategy == StrategyCSS {
		debt := DebtEntry{
			RecordedAt: time.Now().UTC(),
			JourneyID:  ir.JourneyID,
			StepIndex:  step.StepIndex,
			Target:     step.Target,
			CSSValue:   next.Value,
		}
		if err := AppendDebtEntries(h.cfg.ProjectRoot, []DebtEntry{debt}); err != nil {
			return rule, false, err
		}
		h.logger.Log(Event{
			Type:    EventDebtRecorded,
			Journey: ir.JourneyID,
			Step:    step.StepIndex + 1,
			Msg:     fmt.Sprintf("healing fell back to css for %q", step.Target),
		})
	}

	if _, err := h.generator.Generate(ctx, ir); err != nil {
		return rule, false, err
	}
	return rule, true, nil
}

// failingLocatorStep matches each step's rendered locator against the
// failure text. Runner errors quote the locator expression, so a
// substring match identifies the step.
func (h *Healer) failingLocatorStep(ir *IRJourney, failure *VerifyFailure) int {
	msg := failure.Message + " " + failure.Signature
	for i := range ir.Steps {
		loc := ir.Steps[i].Locator
		if loc == nil {
			continue
		}
		rendered := strings.TrimPrefix(renderLocator(loc), "page.")
		if strings.Contains(msg, rendered) {
			return i
		}
		if loc.Strategy == StrategyCSS && loc.Value != "" && strings.Contains(msg, loc.Value) {
			return i
		}
	}
	return -1
}

// fixNavigation inserts an explicit load-state wait after the last
// navigation-causing step. Never a fixed sleep.
func (h *Healer) fixNavigation(ctx context.Context, ir *IRJourney) (string, bool, error) {
	const rule = "insert-wait-after-navigation"

	last := -1
	for i, step := range ir.Steps {
		if step.Primitive == PrimNavigate || step.Primitive == PrimClick {
			last = i
		}
	}
	if last < 0 {
		return rule, false, nil
	}
	if last+1 < len(ir.Steps) && ir.Steps[last+1].Primitive == PrimWaitForState {
		return rule, false, nil
	}

	wait := IRStep{
		ACID:           ir.Steps[last].ACID,
		Primitive:      PrimWaitForState,
		Value:          &ValueSpec{Kind: ValueLiteral, Raw: "load"},
		SourceStepText: "wait until the page has loaded",
	}
	ir.Steps = append(ir.Steps[:last+1], append([]IRStep{wait}, ir.Steps[last+1:]...)...)
	for i := range ir.Steps {
		ir.Steps[i].StepIndex = i
	}

	if _, err := h.generator.Generate(ctx, ir); err != nil {
		return rule, false, err
	}
	return rule, true, nil
}

// fixTiming awaits the first bare async call found in the journey's
// files. The edit happens under the same per-file lock the generator
// uses.
func (h *Healer) fixTiming(ctx context.Context, ir *IRJourney) (string, bool, error) {
	const rule = "await-async-call"

	files, exports, err := h.artifactFiles(ir)
	if err != nil {
		return rule, false, err
	}

	for _, path := range files {
		applied, err := h.awaitFirstCall(ctx, ir.JourneyID, path, exports)
		if err != nil {
			return rule, false, err
		}
		if applied {
			return rule, true, nil
		}
	}
	return rule, false, nil
}

func (h *Healer) awaitFirstCall(ctx context.Context, journeyID, path string, exports map[string]bool) (bool, error) {
	lock := NewEditLock(h.cfg.ProjectRoot, path)
	if err := lock.AcquireWait(ctx, journeyID); err != nil {
		return false, err
	}
	defer lock.Release()

	src, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}

	call, err := findUnawaitedCall(ctx, src, exports)
	if err != nil || call == nil {
		return false, err
	}

	lines := strings.Split(string(src), "\n")
	line := lines[call.Line-1]
	if call.Column > len(line) {
		return false, nil
	}
	lines[call.Line-1] = line[:call.Column] + "await " + line[call.Column:]

	if _, err := WriteFileIfChanged(path, []byte(strings.Join(lines, "\n"))); err != nil {
		return false, err
	}
	return true, nil
}

// fixData namespaces literal fill values with the run id so created
// records stop colliding across repeated runs
func (h *Healer) fixData(ctx context.Context, ir *IRJourney) (string, bool, error) {
	const rule = "namespace-fill-values"

	changed := false
	for i := range ir.Steps {
		step := &ir.Steps[i]
		if step.Primitive != PrimFill || step.Value == nil || step.Value.Kind != ValueLiteral {
			continue
		}
		step.Value = &ValueSpec{Kind: ValueTemplate, Raw: step.Value.Raw + "-{{runId}}"}
		changed = true
	}
	if !changed {
		return rule, false, nil
	}

	if _, err := h.generator.Generate(ctx, ir); err != nil {
		return rule, false, err
	}
	return rule, true, nil
}

// artifactFiles lists the journey's spec file plus every module file it
// imports, with the registry's export names for lint checks
func (h *Healer) artifactFiles(ir *IRJourney) ([]string, map[string]bool, error) {
	registry, err := LoadRegistry(RegistryPath(h.generator.modulesDir()))
	if err != nil {
		return nil, nil, err
	}

	exports := make(map[string]bool, len(registry.Modules))
	for _, entry := range registry.Modules {
		exports[entry.Export] = true
	}

	files := []string{h.generator.SpecFilePath(ir.JourneyID)}
	seen := map[string]bool{files[0]: true}
	for _, call := range moduleCallsOf(ir) {
		entry, ok := registry.Lookup(call.name)
		if !ok {
			continue
		}
		path := filepath.Join(h.cfg.ProjectRoot, filepath.FromSlash(entry.File))
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}
	return files, exports, nil
}

type fileSnapshot struct {
	path string
	data []byte
}

func (h *Healer) snapshotFiles(ir *IRJourney) ([]fileSnapshot, error) {
	files, _, err := h.artifactFiles(ir)
	if err != nil {
		return nil, err
	}
	snaps := make([]fileSnapshot, 0, len(files))
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		snaps = append(snaps, fileSnapshot{path: path, data: data})
	}
	return snaps, nil
}

// summarizeChanges reports +N/-M line counts per changed file since the
// snapshot, for the heal log
func (h *Healer) summarizeChanges(ctx context.Context, before []fileSnapshot) string {
	var parts []string
	for _, snap := range before {
		after, err := os.ReadFile(snap.path)
		if err != nil || bytes.Equal(snap.data, after) {
			continue
		}
		added, removed := diffCounts(ctx, snap.data, after)
		rel, relErr := filepath.Rel(h.cfg.ProjectRoot, snap.path)
		if relErr != nil {
			rel = snap.path
		}
		parts = append(parts, fmt.Sprintf("+%d/-%d lines in %s", added, removed, filepath.ToSlash(rel)))
	}
	if len(parts) == 0 {
		return "no file changes"
	}
	return strings.Join(parts, "; ")
}

// diffCounts asks git for a unified diff and parses it; when git is not
// usable it falls back to a line multiset comparison
func diffCounts(ctx context.Context, before, after []byte) (int, int) {
	if added, removed, ok := gitDiffCounts(ctx, before, after); ok {
		return added, removed
	}
	return lineDiffCounts(before, after)
}

func gitDiffCounts(ctx context.Context, before, after []byte) (int, int, bool) {
	dir, err := os.MkdirTemp("", "autogen-diff-")
	if err != nil {
		return 0, 0, false
	}
	defer os.RemoveAll(dir)

	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	if os.WriteFile(a, before, 0644) != nil || os.WriteFile(b, after, 0644) != nil {
		return 0, 0, false
	}

	cmd := exec.CommandContext(ctx, "git", "diff", "--no-index", "--", a, b)
	out, err := cmd.Output()
	if err != nil {
		// Exit status 1 just means the files differ
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() > 1 {
			return 0, 0, false
		}
	}

	fileDiffs, err := godiff.ParseMultiFileDiff(out)
	if err != nil || len(fileDiffs) == 0 {
		return 0, 0, false
	}

	var added, removed int
	for _, fd := range fileDiffs {
		stat := fd.Stat()
		added += int(stat.Added + stat.Changed)
		removed += int(stat.Deleted + stat.Changed)
	}
	return added, removed, true
}

func lineDiffCounts(before, after []byte) (int, int) {
	counts := make(map[string]int)
	for _, line := range strings.Split(string(before), "\n") {
		counts[line]++
	}

	added := 0
	for _, line := range strings.Split(string(after), "\n") {
		if counts[line] > 0 {
			counts[line]--
		} else {
			added++
		}
	}

	removed := 0
	for _, n := range counts {
		removed += n
	}
	return added, removed
}

func journeyStepHint(journey *Journey, sourceText string) *StepHint {
	for _, step := range journey.Steps {
		if step.Text == sourceText {
			return step.Hint
		}
	}
	return nil
}
