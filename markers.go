package main

import (
	"fmt"
	"regexp"
	"strings"
)

// Generated files are edited through marker-fenced blocks. Everything
// outside a block belongs to the developer and is never touched; everything
// inside belongs to the generator and is rewritten wholesale.
const (
	markerOpenFmt  = "// <autogen:block %s>"
	markerCloseFmt = "// </autogen:block %s>"
)

var (
	markerOpenPattern  = regexp.MustCompile(`^(\s*)// <autogen:block ([A-Za-z0-9_.-]+)>\s*$`)
	markerClosePattern = regexp.MustCompile(`^\s*// </autogen:block ([A-Za-z0-9_.-]+)>\s*$`)
)

// MarkerSegment is one generator-owned block found in a file
type MarkerSegment struct {
	ID        string
	StartLine int // 1-based line of the opening marker
	EndLine   int // 1-based line of the closing marker
	Indent    string
	Body      string
}

// ParseMarkerSegments scans content for marker pairs. Nesting, id
// mismatches, duplicate ids, and unclosed blocks are all errors: a file
// with broken fences cannot be safely regenerated.
func ParseMarkerSegments(content string) ([]MarkerSegment, error) {
	var segments []MarkerSegment
	var open *MarkerSegment
	var body []string
	seen := make(map[string]int)

	lines := strings.Split(content, "\n")
	for i, line := range lines {
		lineNo := i + 1
		if m := markerOpenPattern.FindStringSubmatch(line); m != nil {
			if open != nil {
				return nil, fmt.Errorf("line %d: block %q opened inside block %q", lineNo, m[2], open.ID)
			}
			if prev, dup := seen[m[2]]; dup {
				return nil, fmt.Errorf("line %d: duplicate block %q (first at line %d)", lineNo, m[2], prev)
			}
			seen[m[2]] = lineNo
			open = &MarkerSegment{ID: m[2], StartLine: lineNo, Indent: m[1]}
			body = body[:0]
			continue
		}
		if m := markerClosePattern.FindStringSubmatch(line); m != nil {
			if open == nil {
				return nil, fmt.Errorf("line %d: closing marker for %q without an open block", lineNo, m[1])
			}
			if m[1] != open.ID {
				return nil, fmt.Errorf("line %d: block %q closed as %q", lineNo, open.ID, m[1])
			}
			open.EndLine = lineNo
			open.Body = strings.Join(body, "\n")
			segments = append(segments, *open)
			open = nil
			continue
		}
		if open != nil {
			body = append(body, line)
		}
	}
	if open != nil {
		return nil, fmt.Errorf("block %q opened at line %d is never closed", open.ID, open.StartLine)
	}
	return segments, nil
}

// MarkerEdit is the desired content for one block id
type MarkerEdit struct {
	ID   string
	Body string
}

// ApplyMarkerEdits rewrites the generator-owned blocks of content to match
// edits, in order. Existing blocks are updated in place, blocks missing
// from edits are removed, and new blocks are inserted after the last
// surviving block so developer code around the fenced region is preserved.
// A file with no markers at all gets the blocks appended at the end.
func ApplyMarkerEdits(content string, edits []MarkerEdit) (string, error) {
	segments, err := ParseMarkerSegments(content)
	if err != nil {
		return "", err
	}

	desired := make(map[string]string, len(edits))
	order := make([]string, 0, len(edits))
	for _, e := range edits {
		if _, dup := desired[e.ID]; dup {
			return "", fmt.Errorf("duplicate edit for block %q", e.ID)
		}
		desired[e.ID] = e.Body
		order = append(order, e.ID)
	}

	inSegment := make(map[int]MarkerSegment)
	for _, seg := range segments {
		for line := seg.StartLine; line <= seg.EndLine; line++ {
			inSegment[line] = seg
		}
	}

	emitted := make(map[string]bool)
	var out []string
	lastBlockEnd := -1 // index into out after the final emitted block

	lines := strings.Split(content, "\n")
	for i := 0; i < len(lines); i++ {
		lineNo := i + 1
		seg, owned := inSegment[lineNo]
		if !owned {
			out = append(out, lines[i])
			continue
		}
		if lineNo != seg.StartLine {
			continue
		}
		// Skip the whole segment, emitting the replacement if still wanted
		i = seg.EndLine - 1
		bodyText, keep := desired[seg.ID]
		if !keep {
			continue
		}
		out = append(out, renderBlockLines(seg.ID, bodyText, seg.Indent)...)
		emitted[seg.ID] = true
		lastBlockEnd = len(out)
	}

	// New blocks go right after the last block kept above, or at the end
	// of the file when starting from scratch
	var fresh []string
	indent := ""
	if len(segments) > 0 {
		indent = segments[len(segments)-1].Indent
	}
	for _, id := range order {
		if emitted[id] {
			continue
		}
		fresh = append(fresh, renderBlockLines(id, desired[id], indent)...)
	}
	if len(fresh) > 0 {
		if lastBlockEnd < 0 {
			if len(out) > 0 && out[len(out)-1] == "" {
				out = out[:len(out)-1]
				fresh = append(fresh, "")
			}
			out = append(out, fresh...)
		} else {
			tail := append([]string{}, out[lastBlockEnd:]...)
			out = append(out[:lastBlockEnd], fresh...)
			out = append(out, tail...)
		}
	}

	return strings.Join(out, "\n"), nil
}

func renderBlockLines(id, body, indent string) []string {
	lines := []string{indent + fmt.Sprintf(markerOpenFmt, id)}
	if body != "" {
		lines = append(lines, strings.Split(body, "\n")...)
	}
	return append(lines, indent+fmt.Sprintf(markerCloseFmt, id))
}

// StepBlockID names the fenced block for one IR step
func StepBlockID(index int) string {
	return fmt.Sprintf("step-%d", index)
}
