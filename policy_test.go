package main

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultPolicy(t *testing.T) {
	p := DefaultPolicy()

	if p.Strictness != StrictnessStandard {
		t.Errorf("expected standard strictness, got %s", p.Strictness)
	}
	if len(p.ForbiddenPatterns) != 4 {
		t.Errorf("expected 4 built-in forbidden patterns, got %d", len(p.ForbiddenPatterns))
	}
	if p.Healing.MaxAttempts != 3 {
		t.Errorf("expected healing bound 3, got %d", p.Healing.MaxAttempts)
	}

	// Patterns come pre-compiled
	found := false
	for _, fp := range p.ForbiddenPatterns {
		if fp.Matches("  await page.waitForTimeout(5000);") {
			found = true
		}
	}
	if !found {
		t.Error("expected waitForTimeout to match a built-in pattern")
	}
}

func TestLoadPolicy_MissingFileUsesDefaults(t *testing.T) {
	p, err := LoadPolicy(filepath.Join(t.TempDir(), "policy.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Strictness != StrictnessStandard {
		t.Errorf("expected defaults for missing file, got %s", p.Strictness)
	}
	if len(p.Glossary) == 0 {
		t.Error("expected default glossary")
	}
}

func TestLoadPolicy_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	content := `{
  "strictness": "strict",
  "severityOverrides": {"lint": "warning"},
  "forbiddenPatterns": [
    {"pattern": "page\\.goto\\('http", "message": "hardcoded origin"}
  ],
  "glossary": {"smash": "click"},
  "healing": {"maxAttempts": 5}
}`
	if err := AtomicWriteFile(path, []byte(content)); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	p, err := LoadPolicy(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.Strictness != StrictnessStrict {
		t.Errorf("expected strict, got %s", p.Strictness)
	}
	if p.Healing.MaxAttempts != 5 {
		t.Errorf("expected maxAttempts 5, got %d", p.Healing.MaxAttempts)
	}
	if len(p.ForbiddenPatterns) != 1 {
		t.Fatalf("expected 1 pattern, got %d", len(p.ForbiddenPatterns))
	}
	if !p.ForbiddenPatterns[0].Matches("await page.goto('http://localhost:3000')") {
		t.Error("expected custom pattern compiled and matching")
	}
	if got := p.ApplyGlossary("Smash the Save button"); got != "click the Save button" {
		t.Errorf("expected custom glossary applied, got %q", got)
	}
}

func TestLoadPolicy_UnknownStrictness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := AtomicWriteFile(path, []byte(`{"strictness": "brutal"}`)); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	_, err := LoadPolicy(path)
	if err == nil {
		t.Fatal("expected error for unknown strictness")
	}
	if !strings.Contains(err.Error(), "brutal") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestLoadPolicy_BadRegex(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	if err := AtomicWriteFile(path, []byte(`{"forbiddenPatterns":[{"pattern":"([unclosed","message":"x"}]}`)); err != nil {
		t.Fatalf("failed to write policy: %v", err)
	}

	_, err := LoadPolicy(path)
	if err == nil {
		t.Fatal("expected error for invalid regex")
	}
}

func TestApplyGlossary(t *testing.T) {
	p := DefaultPolicy()

	got := p.ApplyGlossary("Sign in then log out and press Save")
	if got != "login then logout and click Save" {
		t.Errorf("unexpected glossary result: %q", got)
	}

	// Word boundaries: "pressing" must not become "clicking"
	got = p.ApplyGlossary("keep pressing on")
	if strings.Contains(got, "click") {
		t.Errorf("substitution crossed a word boundary: %q", got)
	}
}

func TestSeverityFor(t *testing.T) {
	p := DefaultPolicy()
	if p.SeverityFor(CheckForbiddenPattern) != SeverityError {
		t.Error("standard: forbidden patterns should be errors")
	}
	if p.SeverityFor(CheckLint) != SeverityWarning {
		t.Error("standard: lint should be a warning")
	}
	if p.SeverityFor(CheckSelectorDebt) != SeverityWarning {
		t.Error("selector debt should always be a warning")
	}

	p.Strictness = StrictnessStrict
	if p.SeverityFor(CheckLint) != SeverityError {
		t.Error("strict: lint should be an error")
	}
	if p.SeverityFor(CheckSelectorDebt) != SeverityWarning {
		t.Error("strict: selector debt stays a warning")
	}

	p.Strictness = StrictnessLenient
	if p.SeverityFor(CheckForbiddenPattern) != SeverityWarning {
		t.Error("lenient: forbidden patterns should be warnings")
	}

	p.Strictness = StrictnessStandard
	p.SeverityOverrides = map[string]string{CheckCoverage: SeverityWarning}
	if p.SeverityFor(CheckCoverage) != SeverityWarning {
		t.Error("expected severity override respected")
	}
}
