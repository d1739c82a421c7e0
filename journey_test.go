package main

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const validJourneyDoc = `---
id: checkout-flow
title: Checkout flow
status: clarified
entryPath: /shop
acceptanceCriteria:
  - id: ac-1
    text: Cart shows the added item
  - id: ac-2
    text: Order confirmation renders
---

## Notes

Ignore this list:
- not a step

## Steps

1. Go to the shop page
2. Click the "Add to cart" button (hint: role=button name="Add to cart")

### ac-2

3. Fill the email field (hint: primitive=fill label=Email value="user@example.com")
4. Expect   the   confirmation   banner (hint: text="Order confirmed" ac=ac-1)
`

func writeJourneyFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write journey file: %v", err)
	}
	return path
}

func TestParseJourney_Valid(t *testing.T) {
	dir := t.TempDir()
	path := writeJourneyFile(t, dir, "checkout-flow.md", validJourneyDoc)

	j, err := ParseJourneyFile(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if j.ID != "checkout-flow" {
		t.Errorf("expected id 'checkout-flow', got '%s'", j.ID)
	}
	if j.Title != "Checkout flow" {
		t.Errorf("expected title 'Checkout flow', got '%s'", j.Title)
	}
	if j.Tier != "regression" {
		t.Errorf("expected default tier 'regression', got '%s'", j.Tier)
	}
	if j.Scope != "checkout-flow" {
		t.Errorf("expected scope to default to id, got '%s'", j.Scope)
	}
	if j.EntryPath != "/shop" {
		t.Errorf("expected entryPath '/shop', got '%s'", j.EntryPath)
	}
	if len(j.AcceptanceCriteria) != 2 {
		t.Fatalf("expected 2 acceptance criteria, got %d", len(j.AcceptanceCriteria))
	}
	if len(j.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %d", len(j.Steps))
	}

	// The Notes section list must not leak into steps
	for _, s := range j.Steps {
		if strings.Contains(s.Text, "not a step") {
			t.Errorf("step list picked up text outside the Steps section: %q", s.Text)
		}
	}

	// Step 1: plain text, attributed to the first criterion
	if j.Steps[0].Index != 0 {
		t.Errorf("expected step index 0, got %d", j.Steps[0].Index)
	}
	if j.Steps[0].Text != "Go to the shop page" {
		t.Errorf("unexpected step text: %q", j.Steps[0].Text)
	}
	if j.Steps[0].ACID != "ac-1" {
		t.Errorf("expected step 1 attributed to ac-1, got %s", j.Steps[0].ACID)
	}
	if j.Steps[0].Hint != nil {
		t.Error("expected no hint on step 1")
	}

	// Step 2: hint stripped from text, quoted value preserved
	if j.Steps[1].Text != `Click the "Add to cart" button` {
		t.Errorf("hint not stripped from step text: %q", j.Steps[1].Text)
	}
	if j.Steps[1].Hint == nil {
		t.Fatal("expected hint on step 2")
	}
	if j.Steps[1].Hint.Role != "button" {
		t.Errorf("expected role 'button', got '%s'", j.Steps[1].Hint.Role)
	}
	if j.Steps[1].Hint.Name != "Add to cart" {
		t.Errorf("expected name 'Add to cart', got '%s'", j.Steps[1].Hint.Name)
	}

	// Step 3: heading reassigns the criterion
	if j.Steps[2].ACID != "ac-2" {
		t.Errorf("expected step 3 attributed to ac-2, got %s", j.Steps[2].ACID)
	}
	if j.Steps[2].Hint.Primitive != "fill" {
		t.Errorf("expected primitive 'fill', got '%s'", j.Steps[2].Hint.Primitive)
	}
	if j.Steps[2].Hint.Value != "user@example.com" {
		t.Errorf("expected value 'user@example.com', got '%s'", j.Steps[2].Hint.Value)
	}

	// Step 4: ac= hint overrides the heading, whitespace collapses
	if j.Steps[3].ACID != "ac-1" {
		t.Errorf("expected ac= hint to override heading, got %s", j.Steps[3].ACID)
	}
	if j.Steps[3].Text != "Expect the confirmation banner" {
		t.Errorf("whitespace not normalized: %q", j.Steps[3].Text)
	}
}

func TestParseJourney_DraftStatusRejected(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(validJourneyDoc, "status: clarified", "status: draft", 1)
	path := writeJourneyFile(t, dir, "checkout-flow.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for draft journey")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %T", err)
	}
	if !strings.Contains(pe.Reason, "needs clarification") {
		t.Errorf("expected clarification message, got %q", pe.Reason)
	}
}

func TestParseJourney_MissingFrontMatter(t *testing.T) {
	dir := t.TempDir()
	path := writeJourneyFile(t, dir, "bare.md", "# Just a heading\n\n1. A step\n")

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for missing front-matter")
	}
	if !strings.Contains(err.Error(), "missing front-matter") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJourney_DuplicateCriterionID(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(validJourneyDoc, "id: ac-2", "id: ac-1", 1)
	path := writeJourneyFile(t, dir, "checkout-flow.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for duplicate criterion id")
	}
	if !strings.Contains(err.Error(), "duplicate acceptance criterion id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJourney_UnknownCriterionHeading(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(validJourneyDoc, "### ac-2", "### ac-99", 1)
	path := writeJourneyFile(t, dir, "checkout-flow.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for unknown criterion heading")
	}
	if !strings.Contains(err.Error(), "unknown acceptance criterion: ac-99") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJourney_MalformedHint(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(validJourneyDoc,
		`(hint: role=button name="Add to cart")`,
		`(hint: selector=#foo)`, 1)
	path := writeJourneyFile(t, dir, "checkout-flow.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for unknown hint key")
	}
	if !strings.Contains(err.Error(), `unknown key "selector"`) {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJourney_NoSteps(t *testing.T) {
	dir := t.TempDir()
	doc := `---
id: empty-one
title: Empty
status: clarified
acceptanceCriteria:
  - id: ac-1
    text: Something happens
---

## Steps
`
	path := writeJourneyFile(t, dir, "empty-one.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for journey without steps")
	}
	if !strings.Contains(err.Error(), "no steps found") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseJourney_InvalidID(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(validJourneyDoc, "id: checkout-flow", "id: Checkout_Flow", 1)
	path := writeJourneyFile(t, dir, "checkout-flow.md", doc)

	_, err := ParseJourneyFile(path)
	if err == nil {
		t.Fatal("expected error for invalid id")
	}
	if !strings.Contains(err.Error(), "invalid id") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestParseHint_ExactFlag(t *testing.T) {
	h, err := parseHint(`text="Sign in" exact=true`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.Text != "Sign in" {
		t.Errorf("expected text 'Sign in', got '%s'", h.Text)
	}
	if !h.Exact || !h.ExactSet {
		t.Error("expected exact=true to set both Exact and ExactSet")
	}

	h, err = parseHint(`text=Logout`)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if h.ExactSet {
		t.Error("expected ExactSet false when exact absent")
	}
}

func TestParseHint_NoPairs(t *testing.T) {
	_, err := parseHint("just words")
	if err == nil {
		t.Fatal("expected error for hint without key=value pairs")
	}
}

func TestListJourneys(t *testing.T) {
	dir := t.TempDir()
	writeJourneyFile(t, dir, "zz-later.md", strings.Replace(validJourneyDoc, "id: checkout-flow", "id: zz-later", 1))
	writeJourneyFile(t, dir, "aa-first.md", strings.Replace(
		strings.Replace(validJourneyDoc, "id: checkout-flow", "id: aa-first", 1),
		"status: clarified", "status: draft", 1))
	writeJourneyFile(t, dir, "broken.md", "no front matter here\n")
	writeJourneyFile(t, dir, "notes.txt", "not a journey\n")

	summaries, warnings, err := ListJourneys(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
	if summaries[0].ID != "aa-first" || summaries[1].ID != "zz-later" {
		t.Errorf("expected summaries sorted by id, got %s, %s", summaries[0].ID, summaries[1].ID)
	}
	if summaries[0].Status != StatusDraft {
		t.Errorf("expected aa-first to be draft, got %s", summaries[0].Status)
	}
	if len(warnings) != 1 {
		t.Errorf("expected 1 warning for broken.md, got %d: %v", len(warnings), warnings)
	}
}

func TestListJourneys_MissingDir(t *testing.T) {
	summaries, warnings, err := ListJourneys(filepath.Join(t.TempDir(), "nope"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summaries != nil || warnings != nil {
		t.Error("expected empty results for missing directory")
	}
}

func TestFindJourneyPath(t *testing.T) {
	dir := t.TempDir()
	conventional := writeJourneyFile(t, dir, "checkout-flow.md", validJourneyDoc)

	path, err := FindJourneyPath(dir, "checkout-flow")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != conventional {
		t.Errorf("expected %s, got %s", conventional, path)
	}

	// Renamed file found by front-matter scan
	renamed := writeJourneyFile(t, dir, "misc.md", strings.Replace(validJourneyDoc, "id: checkout-flow", "id: hidden-one", 1))
	path, err = FindJourneyPath(dir, "hidden-one")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if path != renamed {
		t.Errorf("expected %s, got %s", renamed, path)
	}

	if _, err := FindJourneyPath(dir, "missing"); err == nil {
		t.Error("expected error for unknown journey id")
	}
}

func TestClarifiedJourneys(t *testing.T) {
	dir := t.TempDir()
	writeJourneyFile(t, dir, "ready.md", strings.Replace(validJourneyDoc, "id: checkout-flow", "id: ready", 1))
	writeJourneyFile(t, dir, "wip.md", strings.Replace(
		strings.Replace(validJourneyDoc, "id: checkout-flow", "id: wip", 1),
		"status: clarified", "status: draft", 1))

	ids, err := ClarifiedJourneys(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != "ready" {
		t.Errorf("expected [ready], got %v", ids)
	}
}
