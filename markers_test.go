package main

import (
	"strings"
	"testing"
)

const markedFile = `// header comment
// <autogen:block a>
old a line 1
old a line 2
// </autogen:block a>
developer middle section
// <autogen:block b>
old b
// </autogen:block b>
developer footer
`

func TestParseMarkerSegments(t *testing.T) {
	segs, err := ParseMarkerSegments(markedFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}

	if segs[0].ID != "a" || segs[0].StartLine != 2 || segs[0].EndLine != 5 {
		t.Errorf("segment a wrong: %+v", segs[0])
	}
	if segs[0].Body != "old a line 1\nold a line 2" {
		t.Errorf("segment a body wrong: %q", segs[0].Body)
	}
	if segs[1].ID != "b" || segs[1].Body != "old b" {
		t.Errorf("segment b wrong: %+v", segs[1])
	}
}

func TestParseMarkerSegments_Indent(t *testing.T) {
	content := "    // <autogen:block s>\n    body\n    // </autogen:block s>\n"
	segs, err := ParseMarkerSegments(content)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Indent != "    " {
		t.Errorf("expected 4-space indent captured, got %q", segs[0].Indent)
	}
}

func TestParseMarkerSegments_Errors(t *testing.T) {
	cases := map[string]string{
		"nested":     "// <autogen:block a>\n// <autogen:block b>\n// </autogen:block b>\n// </autogen:block a>\n",
		"duplicate":  "// <autogen:block a>\n// </autogen:block a>\n// <autogen:block a>\n// </autogen:block a>\n",
		"mismatched": "// <autogen:block a>\n// </autogen:block b>\n",
		"unclosed":   "// <autogen:block a>\nbody\n",
		"stray":      "// </autogen:block a>\n",
	}
	for name, content := range cases {
		if _, err := ParseMarkerSegments(content); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestApplyMarkerEdits_UpdatesInPlace(t *testing.T) {
	out, err := ApplyMarkerEdits(markedFile, []MarkerEdit{
		{ID: "a", Body: "new a"},
		{ID: "b", Body: "new b"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"// header comment", "developer middle section", "developer footer", "new a", "new b"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
	for _, gone := range []string{"old a line 1", "old b"} {
		if strings.Contains(out, gone) {
			t.Errorf("stale content %q survived", gone)
		}
	}

	// Result must still parse, with the same block set
	segs, err := ParseMarkerSegments(out)
	if err != nil {
		t.Fatalf("output has broken fences: %v", err)
	}
	if len(segs) != 2 || segs[0].ID != "a" || segs[1].ID != "b" {
		t.Errorf("unexpected segments after edit: %+v", segs)
	}
}

func TestApplyMarkerEdits_Idempotent(t *testing.T) {
	edits := []MarkerEdit{{ID: "a", Body: "same"}, {ID: "b", Body: "same b"}}
	once, err := ApplyMarkerEdits(markedFile, edits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	twice, err := ApplyMarkerEdits(once, edits)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if once != twice {
		t.Error("re-applying identical edits must be a fixpoint")
	}
}

func TestApplyMarkerEdits_RemovesStaleBlocks(t *testing.T) {
	out, err := ApplyMarkerEdits(markedFile, []MarkerEdit{{ID: "a", Body: "only a"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(out, "autogen:block b") {
		t.Error("expected block b removed")
	}
	if !strings.Contains(out, "developer middle section") || !strings.Contains(out, "developer footer") {
		t.Error("developer lines around removed block must survive")
	}
}

func TestApplyMarkerEdits_InsertsNewBlocks(t *testing.T) {
	out, err := ApplyMarkerEdits(markedFile, []MarkerEdit{
		{ID: "a", Body: "a body"},
		{ID: "b", Body: "b body"},
		{ID: "c", Body: "c body"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// New block lands after the last kept block, before the dev footer
	cIdx := strings.Index(out, "autogen:block c")
	bIdx := strings.Index(out, "b body")
	footerIdx := strings.Index(out, "developer footer")
	if cIdx < 0 {
		t.Fatal("block c missing")
	}
	if cIdx < bIdx || cIdx > footerIdx {
		t.Errorf("block c inserted at wrong position")
	}
}

func TestApplyMarkerEdits_NoMarkersAppends(t *testing.T) {
	out, err := ApplyMarkerEdits("content without fences\n", []MarkerEdit{{ID: "x", Body: "x body"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(out, "content without fences\n") {
		t.Errorf("existing content must stay first: %q", out)
	}
	if !strings.Contains(out, "// <autogen:block x>\nx body\n// </autogen:block x>") {
		t.Errorf("appended block malformed: %q", out)
	}
	if !strings.HasSuffix(out, "\n") {
		t.Error("trailing newline lost")
	}
}

func TestApplyMarkerEdits_DuplicateEditRejected(t *testing.T) {
	_, err := ApplyMarkerEdits(markedFile, []MarkerEdit{
		{ID: "a", Body: "one"},
		{ID: "a", Body: "two"},
	})
	if err == nil {
		t.Fatal("expected error for duplicate edit id")
	}
}

func TestApplyMarkerEdits_BrokenFencesRefuse(t *testing.T) {
	_, err := ApplyMarkerEdits("// <autogen:block a>\nnever closed\n", []MarkerEdit{{ID: "a", Body: "x"}})
	if err == nil {
		t.Fatal("expected error for broken fences")
	}
	if !strings.Contains(err.Error(), "never closed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStepBlockID(t *testing.T) {
	if StepBlockID(0) != "step-0" || StepBlockID(12) != "step-12" {
		t.Error("unexpected step block id format")
	}
}
