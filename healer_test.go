package main

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
)

func newTestHealer(t *testing.T, cfg *ResolvedConfig) *Healer {
	t.Helper()
	catalog := &SelectorCatalog{Entries: map[string]CatalogEntry{}}
	return NewHealer(cfg, DefaultPolicy(), catalog, silentLogger(t))
}

func failedVerification(category FailureCategory, message string) *VerificationResult {
	return &VerificationResult{
		JourneyID: "demo-flow",
		Failure: &VerifyFailure{
			Category:  category,
			Signature: failureSignature(message),
			Message:   message,
		},
	}
}

const passingRunnerScript = `printf '{"scenarios":[{"title":"Demo flow {{tag}}","status":"passed"}]}' > "{{report}}"`

const failingRunnerScript = `printf '%s' '{"scenarios":[{"title":"Demo flow @journey:demo-flow","status":"failed","error":{"message":"Test timeout of 30000ms exceeded"}}]}' > "{{report}}"; exit 1`

func TestHealerNothingToHeal(t *testing.T) {
	h := newTestHealer(t, testConfig(t))

	outcome, err := h.Heal(context.Background(), demoJourney(), navClickIR(), t.TempDir(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != HealIdle || outcome.Attempts != 0 {
		t.Errorf("expected idle outcome, got %+v", outcome)
	}

	passed := &VerificationResult{JourneyID: "demo-flow", Passed: true}
	outcome, err = h.Heal(context.Background(), demoJourney(), navClickIR(), t.TempDir(), passed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != HealIdle {
		t.Errorf("expected idle outcome for a passing verification, got %s", outcome.State)
	}
	if outcome.Healed() {
		t.Error("idle outcome must not report healed")
	}
}

func TestHealerAuthFailureHasNoFix(t *testing.T) {
	h := newTestHealer(t, testConfig(t))

	first := failedVerification(FailAuth, "401 Unauthorized")
	outcome, err := h.Heal(context.Background(), demoJourney(), navClickIR(), t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != HealNoApplicableFix {
		t.Fatalf("expected no_applicable_fix, got %s", outcome.State)
	}
	if outcome.Attempts != 0 {
		t.Errorf("expected 0 completed attempts, got %d", outcome.Attempts)
	}
	if len(outcome.Entries) != 1 || outcome.Entries[0].Result != "no_fix" {
		t.Errorf("unexpected heal log entries: %+v", outcome.Entries)
	}
}

func TestHealerTimingFixRestoresAwait(t *testing.T) {
	cfg := fakeRunnerConfig(t, passingRunnerScript)
	ir := navClickIR()
	specPath := generateDemoSpec(t, cfg, ir)
	rewriteSpec(t, specPath, "await page.goto('/shop');", "page.goto('/shop');")

	h := newTestHealer(t, cfg)
	first := failedVerification(FailTiming, "Test timeout of 30000ms exceeded")
	outcome, err := h.Heal(context.Background(), demoJourney(), ir, t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Healed() {
		t.Fatalf("expected heal to succeed, got %+v", outcome)
	}
	if outcome.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if len(outcome.Entries) != 1 {
		t.Fatalf("expected 1 heal log entry, got %d", len(outcome.Entries))
	}
	entry := outcome.Entries[0]
	if entry.Rule != "await-async-call" || entry.Result != "passed" {
		t.Errorf("unexpected entry: %+v", entry)
	}
	if entry.DiffSummary != "+1/-1 lines in tests/journeys/demo-flow.spec.ts" {
		t.Errorf("unexpected diff summary: %s", entry.DiffSummary)
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), "await page.goto('/shop');") {
		t.Error("expected the missing await to be reinstated")
	}
}

func TestHealerWritesHealLog(t *testing.T) {
	cfg := fakeRunnerConfig(t, passingRunnerScript)
	ir := navClickIR()
	specPath := generateDemoSpec(t, cfg, ir)
	rewriteSpec(t, specPath, "await page.goto('/shop');", "page.goto('/shop');")

	h := newTestHealer(t, cfg)
	first := failedVerification(FailTiming, "Test timeout of 30000ms exceeded")
	outcome, err := h.Heal(context.Background(), demoJourney(), ir, t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, err := os.ReadFile(outcome.LogPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 heal log line, got %d", len(lines))
	}
	var entry HealLogEntry
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry.Attempt != 1 || entry.Category != FailTiming || entry.Result != "passed" {
		t.Errorf("unexpected heal log entry: %+v", entry)
	}
}

func TestHealerSelectorFallsBackToCSS(t *testing.T) {
	cfg := fakeRunnerConfig(t, passingRunnerScript)
	ir := navClickIR()
	generateDemoSpec(t, cfg, ir)

	h := newTestHealer(t, cfg)
	first := failedVerification(FailSelector,
		"Error: strict mode violation: getByRole('button', { name: 'Submit' }) resolved to 3 elements")
	outcome, err := h.Heal(context.Background(), demoJourney(), ir, t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Healed() {
		t.Fatalf("expected heal to succeed, got %+v", outcome)
	}
	if outcome.Entries[0].Rule != "advance-locator" {
		t.Errorf("unexpected rule: %s", outcome.Entries[0].Rule)
	}

	loc := ir.Steps[1].Locator
	if loc.Strategy != StrategyCSS {
		t.Fatalf("expected css fallback, got %s", loc.Strategy)
	}
	if loc.Value != `button:has-text("Submit")` {
		t.Errorf("unexpected css value: %s", loc.Value)
	}

	debts, err := ReadDebtEntries(cfg.ProjectRoot)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(debts) != 1 {
		t.Fatalf("expected 1 debt entry, got %d", len(debts))
	}
	if debts[0].Target != "Submit button" || debts[0].CSSValue != loc.Value {
		t.Errorf("unexpected debt entry: %+v", debts[0])
	}
}

func TestHealerDataFixNamespacesFillValues(t *testing.T) {
	cfg := fakeRunnerConfig(t, passingRunnerScript)
	ir := navClickIR()
	ir.Steps = append(ir.Steps, IRStep{
		ACID: "ac-1", Primitive: PrimFill, Target: "Name field",
		Locator:        &LocatorSpec{Strategy: StrategyLabel, Value: "Name"},
		Value:          &ValueSpec{Kind: ValueLiteral, Raw: "Ada"},
		SourceStepText: `Fill the Name field with "Ada"`, StepIndex: 2,
	})
	specPath := generateDemoSpec(t, cfg, ir)

	h := newTestHealer(t, cfg)
	first := failedVerification(FailData, "duplicate key value violates unique constraint")
	outcome, err := h.Heal(context.Background(), demoJourney(), ir, t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !outcome.Healed() {
		t.Fatalf("expected heal to succeed, got %+v", outcome)
	}

	value := ir.Steps[2].Value
	if value.Kind != ValueTemplate || value.Raw != "Ada-{{runId}}" {
		t.Errorf("unexpected value after fix: %+v", value)
	}

	data, err := os.ReadFile(specPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(data), "fill(`Ada-${data.runId}`);") {
		t.Error("expected the fill value to be namespaced by run id")
	}
}

func TestHealerNavigationFixInsertsLoadStateWait(t *testing.T) {
	cfg := testConfig(t)
	h := newTestHealer(t, cfg)
	ir := navClickIR()

	rule, applied, err := h.fixNavigation(context.Background(), ir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule != "insert-wait-after-navigation" || !applied {
		t.Fatalf("expected the wait fix to apply, got rule=%s applied=%v", rule, applied)
	}
	if len(ir.Steps) != 3 {
		t.Fatalf("expected 3 steps, got %d", len(ir.Steps))
	}
	wait := ir.Steps[2]
	if wait.Primitive != PrimWaitForState || wait.Value.Raw != "load" || wait.ACID != "ac-1" {
		t.Errorf("unexpected inserted step: %+v", wait)
	}
	for i, step := range ir.Steps {
		if step.StepIndex != i {
			t.Errorf("expected step %d to be reindexed, got %d", i, step.StepIndex)
		}
	}

	// A wait already in place means there is nothing left to insert
	if _, applied, err := h.fixNavigation(context.Background(), ir); err != nil || applied {
		t.Errorf("expected no second fix, got applied=%v err=%v", applied, err)
	}
}

func TestHealerExhaustsAttempts(t *testing.T) {
	cfg := fakeRunnerConfig(t, failingRunnerScript)
	ir := navClickIR()
	specPath := generateDemoSpec(t, cfg, ir)
	rewriteSpec(t, specPath, "await page.goto('/shop');", "page.goto('/shop');")

	h := newTestHealer(t, cfg)
	h.SetMaxAttempts(1)
	first := failedVerification(FailTiming, "Test timeout of 30000ms exceeded")
	outcome, err := h.Heal(context.Background(), demoJourney(), ir, t.TempDir(), first)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.State != HealExhausted {
		t.Fatalf("expected exhausted, got %s", outcome.State)
	}
	if outcome.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if outcome.Healed() {
		t.Error("exhausted outcome must not report healed")
	}
	if outcome.Final == nil || outcome.Final.Passed {
		t.Errorf("expected the final verification to be failing, got %+v", outcome.Final)
	}
	if len(outcome.Entries) != 1 || outcome.Entries[0].Result != "failed" {
		t.Errorf("unexpected heal log entries: %+v", outcome.Entries)
	}
}

func TestFailingLocatorStep(t *testing.T) {
	h := newTestHealer(t, testConfig(t))
	ir := &IRJourney{
		JourneyID: "demo-flow",
		Steps: []IRStep{
			{Primitive: PrimNavigate, StepIndex: 0},
			{Primitive: PrimClick, StepIndex: 1,
				Locator: &LocatorSpec{Strategy: StrategyRole, Value: "button", Name: "Submit"}},
			{Primitive: PrimClick, StepIndex: 2,
				Locator: &LocatorSpec{Strategy: StrategyCSS, Value: "#cart"}},
		},
	}

	byRole := &VerifyFailure{Message: "strict mode violation: getByRole('button', { name: 'Submit' }) resolved to 3"}
	if idx := h.failingLocatorStep(ir, byRole); idx != 1 {
		t.Errorf("expected step 1, got %d", idx)
	}

	byCSS := &VerifyFailure{Message: "waiting for locator('#cart')"}
	if idx := h.failingLocatorStep(ir, byCSS); idx != 2 {
		t.Errorf("expected step 2, got %d", idx)
	}

	unknown := &VerifyFailure{Message: "no locator mentioned here"}
	if idx := h.failingLocatorStep(ir, unknown); idx != -1 {
		t.Errorf("expected -1, got %d", idx)
	}
}

func TestLineDiffCounts(t *testing.T) {
	added, removed := lineDiffCounts([]byte("a\nb\nc"), []byte("a\nx\nc\nd"))
	if added != 2 || removed != 1 {
		t.Errorf("expected +2/-1, got +%d/-%d", added, removed)
	}

	added, removed = lineDiffCounts([]byte("same"), []byte("same"))
	if added != 0 || removed != 0 {
		t.Errorf("expected +0/-0 for identical content, got +%d/-%d", added, removed)
	}
}

func TestJourneyStepHint(t *testing.T) {
	journey := &Journey{Steps: []JourneyStep{
		{Text: "Click the Pay button", Hint: &StepHint{TestID: "pay"}},
		{Text: "Go to the shop page"},
	}}

	if hint := journeyStepHint(journey, "Click the Pay button"); hint == nil || hint.TestID != "pay" {
		t.Errorf("expected the pay hint, got %+v", hint)
	}
	if hint := journeyStepHint(journey, "Go to the shop page"); hint != nil {
		t.Errorf("expected nil hint, got %+v", hint)
	}
	if hint := journeyStepHint(journey, "unknown step"); hint != nil {
		t.Errorf("expected nil hint for unknown text, got %+v", hint)
	}
}
