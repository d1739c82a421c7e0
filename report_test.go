package main

import (
	"errors"
	"strings"
	"testing"
)

func TestConsoleReportCounts(t *testing.T) {
	r := NewConsoleReport("nightly run")
	r.AddPass("checkout-flow", "passed in 1.5s")
	r.AddFail("login-flow", "[selector] boom")
	r.AddWarn("search-flow", "1 warning")
	r.Finalize()

	if r.Passed != 1 || r.Failed != 1 || r.Warnings != 1 {
		t.Errorf("unexpected counts: %d/%d/%d", r.Passed, r.Failed, r.Warnings)
	}
	if r.AllPassed() {
		t.Error("a failed item must fail the report")
	}

	clean := NewConsoleReport("clean")
	clean.AddPass("checkout-flow", "")
	clean.AddWarn("search-flow", "advisory")
	if !clean.AllPassed() {
		t.Error("warnings alone must not fail the report")
	}
}

func TestFormatForConsole(t *testing.T) {
	r := NewConsoleReport("verify journeys")
	r.AddPass("checkout-flow", "passed in 1.5s")
	r.AddFail("login-flow", "line one\nline two")
	r.Finalize()

	out := r.FormatForConsole()
	if !strings.Contains(out, "VERIFY JOURNEYS") {
		t.Errorf("expected uppercased title:\n%s", out)
	}
	if !strings.Contains(out, "✓ checkout-flow") {
		t.Errorf("missing pass glyph:\n%s", out)
	}
	if !strings.Contains(out, "✗ login-flow") {
		t.Errorf("missing fail glyph:\n%s", out)
	}
	if !strings.Contains(out, "    line one\n    line two\n") {
		t.Errorf("expected indented detail lines:\n%s", out)
	}
	if !strings.Contains(out, "1 passed, 1 failed, 0 warnings") {
		t.Errorf("missing summary line:\n%s", out)
	}
}

func TestAppendPipelineItem(t *testing.T) {
	report := NewConsoleReport("run")

	appendPipelineItem(report, &PipelineResult{JourneyID: "broken-flow", Err: errors.New("journey not found")})
	appendPipelineItem(report, &PipelineResult{
		JourneyID:    "checkout-flow",
		Verification: &VerificationResult{Passed: true, DurationMs: 1500},
	})
	appendPipelineItem(report, &PipelineResult{
		JourneyID:    "healed-flow",
		Verification: &VerificationResult{Passed: false},
		Heal: &HealOutcome{
			State:    HealSucceeded,
			Attempts: 2,
			Final:    &VerificationResult{Passed: true, DurationMs: 2000},
		},
	})
	appendPipelineItem(report, &PipelineResult{
		JourneyID: "failing-flow",
		Verification: &VerificationResult{
			Passed:  false,
			Failure: &VerifyFailure{Category: FailSelector, Message: "locator not found"},
		},
	})
	report.Finalize()

	if report.Failed != 2 || report.Passed != 2 {
		t.Fatalf("unexpected counts: %d passed, %d failed", report.Passed, report.Failed)
	}

	items := report.Items
	if items[0].Status != StatusFail || items[0].Detail != "journey not found" {
		t.Errorf("unexpected error item: %+v", items[0])
	}
	if items[1].Status != StatusPass || items[1].Detail != "passed in 1.5s" {
		t.Errorf("unexpected verified item: %+v", items[1])
	}
	if items[2].Status != StatusPass || !strings.HasPrefix(items[2].Detail, "healed after 2 attempt(s)") {
		t.Errorf("unexpected healed item: %+v", items[2])
	}
	if items[3].Status != StatusFail || items[3].Detail != "[selector] locator not found" {
		t.Errorf("unexpected failing item: %+v", items[3])
	}
}

func TestAppendPipelineItemValidationOnly(t *testing.T) {
	report := NewConsoleReport("validate")

	appendPipelineItem(report, &PipelineResult{
		JourneyID:  "clean-flow",
		Validation: &ValidationResult{Files: []string{"tests/journeys/clean-flow.spec.ts"}},
	})
	appendPipelineItem(report, &PipelineResult{
		JourneyID: "warned-flow",
		Validation: &ValidationResult{Issues: []ValidationIssue{
			{File: "a.ts", Check: CheckSelectorDebt, Severity: SeverityWarning, Message: "css locator in use"},
		}},
	})
	appendPipelineItem(report, &PipelineResult{
		JourneyID: "broken-flow",
		Validation: &ValidationResult{Issues: []ValidationIssue{
			{File: "b.ts", Line: 4, Check: CheckMarkers, Severity: SeverityError, Message: "broken markers"},
		}},
	})

	items := report.Items
	if items[0].Status != StatusPass || items[0].Detail != "1 files validated" {
		t.Errorf("unexpected clean item: %+v", items[0])
	}
	if items[1].Status != StatusWarn {
		t.Errorf("expected warn status, got %+v", items[1])
	}
	if items[2].Status != StatusFail || !strings.Contains(items[2].Detail, "b.ts:4 [markers] broken markers") {
		t.Errorf("unexpected failing item: %+v", items[2])
	}
}

func TestAppendPipelineItemGenerationOnly(t *testing.T) {
	report := NewConsoleReport("generate")
	appendPipelineItem(report, &PipelineResult{
		JourneyID: "checkout-flow",
		Generation: &GenerateResult{Artifacts: []Artifact{
			{Path: "a.spec.ts", Action: "created"},
			{Path: "b.ts", Action: "created"},
			{Path: "c.ts", Action: "unchanged"},
		}},
	})

	if report.Items[0].Detail != "2 created, 1 unchanged" {
		t.Errorf("unexpected detail: %s", report.Items[0].Detail)
	}
}

func TestGenerationDetailEmpty(t *testing.T) {
	if got := generationDetail(&GenerateResult{}); got != "no artifacts" {
		t.Errorf("expected 'no artifacts', got '%s'", got)
	}
}

func TestValidationDetailTruncates(t *testing.T) {
	result := &ValidationResult{}
	for i := 0; i < 8; i++ {
		result.Issues = append(result.Issues, ValidationIssue{
			File: "a.ts", Line: i + 1, Check: CheckLint, Severity: SeverityError, Message: "boom",
		})
	}

	detail := validationDetail(result)
	if !strings.Contains(detail, "... and 3 more") {
		t.Errorf("expected truncation notice, got:\n%s", detail)
	}
	if got := strings.Count(detail, "\n"); got != 5 {
		t.Errorf("expected 5 shown issues plus the notice, got %d newlines", got)
	}
}

func TestVerificationDetail(t *testing.T) {
	passed := &VerificationResult{Passed: true, DurationMs: 1500}
	if got := verificationDetail(passed); got != "passed in 1.5s" {
		t.Errorf("unexpected detail: %s", got)
	}

	bare := &VerificationResult{}
	if got := verificationDetail(bare); got != "failed" {
		t.Errorf("unexpected detail: %s", got)
	}

	failed := &VerificationResult{Failure: &VerifyFailure{Category: FailTiming, Message: "timeout"}}
	if got := verificationDetail(failed); got != "[timing] timeout" {
		t.Errorf("unexpected detail: %s", got)
	}
}
