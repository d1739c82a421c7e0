package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/typescript/typescript"
)

const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// ValidationIssue is one finding against a generated file
type ValidationIssue struct {
	File        string `json:"file"`
	Line        int    `json:"line,omitempty"`
	Check       string `json:"check"`
	Message     string `json:"message"`
	Severity    string `json:"severity"`
	FixCategory string `json:"fixCategory,omitempty"`
}

// ValidationResult accumulates every finding for one journey. All checks
// always run; nothing short-circuits on the first problem.
type ValidationResult struct {
	JourneyID string            `json:"journey"`
	Files     []string          `json:"files"`
	Issues    []ValidationIssue `json:"issues"`
}

// Passed reports whether no error-severity issue was found
func (r *ValidationResult) Passed() bool {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			return false
		}
	}
	return true
}

// Counts splits the issues by severity
func (r *ValidationResult) Counts() (errors, warnings int) {
	for _, issue := range r.Issues {
		if issue.Severity == SeverityError {
			errors++
		} else {
			warnings++
		}
	}
	return errors, warnings
}

// Validator runs the static policy gate over a journey's artifacts
type Validator struct {
	cfg    *ResolvedConfig
	policy *Policy
	logger *RunLogger
}

func NewValidator(cfg *ResolvedConfig, policy *Policy, logger *RunLogger) *Validator {
	return &Validator{cfg: cfg, policy: policy, logger: logger}
}

// ValidateJourney checks the spec file and every module file the journey
// imports. Only unreadable files abort; everything else is collected.
func (v *Validator) ValidateJourney(ctx context.Context, journey *Journey, ir *IRJourney) (*ValidationResult, error) {
	res := &ValidationResult{JourneyID: journey.ID}

	gen := NewGenerator(v.cfg, v.logger)
	specPath := gen.SpecFilePath(journey.ID)

	registry, err := LoadRegistry(RegistryPath(gen.modulesDir()))
	if err != nil {
		return nil, err
	}

	files := []string{specPath}
	seen := map[string]bool{specPath: true}
	for _, call := range moduleCallsOf(ir) {
		entry, ok := registry.Lookup(call.name)
		if !ok {
			continue
		}
		path := filepath.Join(v.cfg.ProjectRoot, filepath.FromSlash(entry.File))
		if !seen[path] {
			seen[path] = true
			files = append(files, path)
		}
	}

	var moduleExports []string
	for _, entry := range registry.Modules {
		moduleExports = append(moduleExports, entry.Export)
	}
	sort.Strings(moduleExports)

	for _, path := range files {
		rel, relErr := filepath.Rel(v.cfg.ProjectRoot, path)
		if relErr != nil {
			rel = path
		}
		rel = filepath.ToSlash(rel)
		res.Files = append(res.Files, rel)

		data, readErr := os.ReadFile(path)
		if readErr != nil {
			return nil, fmt.Errorf("cannot validate %s: %w", rel, readErr)
		}
		content := string(data)

		res.Issues = append(res.Issues, v.checkMarkers(rel, content)...)
		res.Issues = append(res.Issues, v.checkForbiddenPatterns(rel, content)...)
		res.Issues = append(res.Issues, v.checkSelectorDebt(rel, content)...)
		res.Issues = append(res.Issues, v.checkLint(ctx, rel, data, moduleExports)...)

		if path == specPath {
			res.Issues = append(res.Issues, v.checkRequiredTags(rel, content, ir)...)
			res.Issues = append(res.Issues, v.checkCoverage(rel, content, journey, ir)...)
		}
	}

	sort.SliceStable(res.Issues, func(i, j int) bool {
		if res.Issues[i].File != res.Issues[j].File {
			return res.Issues[i].File < res.Issues[j].File
		}
		return res.Issues[i].Line < res.Issues[j].Line
	})

	for _, issue := range res.Issues {
		v.logger.Log(Event{
			Type:    EventValidationIssue,
			Journey: journey.ID,
			Msg:     fmt.Sprintf("[%s] %s: %s", issue.Severity, issue.Check, issue.Message),
			Data:    map[string]any{"file": issue.File, "line": issue.Line, "check": issue.Check},
		})
	}
	errs, warns := res.Counts()
	v.logger.Log(Event{
		Type:    EventValidationEnd,
		Journey: journey.ID,
		Success: boolPtr(errs == 0),
		Msg:     fmt.Sprintf("%d errors, %d warnings", errs, warns),
	})

	return res, nil
}

func (v *Validator) checkMarkers(file, content string) []ValidationIssue {
	if _, err := ParseMarkerSegments(content); err != nil {
		return []ValidationIssue{{
			File:     file,
			Check:    CheckMarkers,
			Message:  "broken generated-block markers: " + err.Error(),
			Severity: v.policy.SeverityFor(CheckMarkers),
		}}
	}
	return nil
}

func (v *Validator) checkForbiddenPatterns(file, content string) []ValidationIssue {
	var issues []ValidationIssue
	for i, line := range strings.Split(content, "\n") {
		for _, p := range v.policy.ForbiddenPatterns {
			if p.Matches(line) {
				issues = append(issues, ValidationIssue{
					File:        file,
					Line:        i + 1,
					Check:       CheckForbiddenPattern,
					Message:     p.Message,
					Severity:    v.policy.SeverityFor(CheckForbiddenPattern),
					FixCategory: p.FixCategory,
				})
			}
		}
	}
	return issues
}

// checkSelectorDebt flags raw css locators. Always a warning: debt is
// tracked, not blocked.
func (v *Validator) checkSelectorDebt(file, content string) []ValidationIssue {
	var issues []ValidationIssue
	for i, line := range strings.Split(content, "\n") {
		if strings.Contains(line, "page.locator(") {
			issues = append(issues, ValidationIssue{
				File:        file,
				Line:        i + 1,
				Check:       CheckSelectorDebt,
				Message:     "css locator in use; prefer role, label, or test id",
				Severity:    v.policy.SeverityFor(CheckSelectorDebt),
				FixCategory: "selector",
			})
		}
	}
	return issues
}

func (v *Validator) checkRequiredTags(file, content string, ir *IRJourney) []ValidationIssue {
	var issues []ValidationIssue
	for _, tag := range []string{JourneyTag(ir.JourneyID), "@tier:" + ir.Tier, "@scope:" + ir.Scope} {
		if !strings.Contains(content, tag) {
			issues = append(issues, ValidationIssue{
				File:     file,
				Check:    CheckRequiredTag,
				Message:  fmt.Sprintf("test title is missing the %s tag", tag),
				Severity: v.policy.SeverityFor(CheckRequiredTag),
			})
		}
	}
	return issues
}

// checkCoverage requires every acceptance criterion to own at least one
// generated step block that is still present in the file
func (v *Validator) checkCoverage(file, content string, journey *Journey, ir *IRJourney) []ValidationIssue {
	segments, err := ParseMarkerSegments(content)
	if err != nil {
		return nil // already reported by checkMarkers
	}
	present := make(map[string]bool, len(segments))
	for _, seg := range segments {
		present[seg.ID] = true
	}

	covered := make(map[string]bool)
	for _, step := range ir.Steps {
		if step.ACID != "" && present[StepBlockID(step.StepIndex)] {
			covered[step.ACID] = true
		}
	}

	var issues []ValidationIssue
	for _, ac := range journey.AcceptanceCriteria {
		if !covered[ac.ID] {
			issues = append(issues, ValidationIssue{
				File:     file,
				Check:    CheckCoverage,
				Message:  fmt.Sprintf("acceptance criterion %s has no generated steps", ac.ID),
				Severity: v.policy.SeverityFor(CheckCoverage),
			})
		}
	}
	return issues
}

// checkLint parses the file as TypeScript and reports syntax errors,
// focused/skipped tests, and un-awaited page or flow calls
func (v *Validator) checkLint(ctx context.Context, file string, src []byte, moduleExports []string) []ValidationIssue {
	parser := sitter.NewParser()
	parser.SetLanguage(typescript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return []ValidationIssue{{
			File:     file,
			Check:    CheckLint,
			Message:  "typescript parse failed: " + err.Error(),
			Severity: v.policy.SeverityFor(CheckLint),
		}}
	}
	defer tree.Close()

	severity := v.policy.SeverityFor(CheckLint)
	exports := make(map[string]bool, len(moduleExports))
	for _, e := range moduleExports {
		exports[e] = true
	}

	var issues []ValidationIssue
	walkTree(tree.RootNode(), func(n *sitter.Node) {
		line := int(n.StartPoint().Row) + 1

		if n.Type() == "ERROR" || n.IsMissing() {
			issues = append(issues, ValidationIssue{
				File:     file,
				Line:     line,
				Check:    CheckLint,
				Message:  "typescript syntax error",
				Severity: severity,
			})
			return
		}

		if n.Type() != "call_expression" {
			return
		}
		fn := n.ChildByFieldName("function")
		if fn == nil {
			return
		}

		if fn.Type() == "member_expression" {
			if prop := fn.ChildByFieldName("property"); prop != nil {
				name := prop.Content(src)
				obj := fn.ChildByFieldName("object")
				if (name == "only" || name == "skip") && obj != nil && strings.HasPrefix(obj.Content(src), "test") {
					issues = append(issues, ValidationIssue{
						File:     file,
						Line:     line,
						Check:    CheckLint,
						Message:  fmt.Sprintf("focused or skipped test (.%s) must not be generated in", name),
						Severity: severity,
					})
				}
			}
		}

		// A bare page/expect/flow statement is a dropped await
		if text, ok := bareAsyncCall(n, src, exports); ok {
			issues = append(issues, ValidationIssue{
				File:        file,
				Line:        line,
				Check:       CheckLint,
				Message:     fmt.Sprintf("missing await on %s", firstLine(text)),
				Severity:    severity,
				FixCategory: "timing",
			})
		}
	})
	return issues
}

// bareAsyncCall reports whether n is a statement-level call the generated
// code should await, returning the call text
func bareAsyncCall(n *sitter.Node, src []byte, exports map[string]bool) (string, bool) {
	if n.Type() != "call_expression" {
		return "", false
	}
	fn := n.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	if parent := n.Parent(); parent == nil || parent.Type() != "expression_statement" {
		return "", false
	}
	text := n.Content(src)
	if strings.HasPrefix(text, "page.") || strings.HasPrefix(text, "expect(") ||
		(fn.Type() == "identifier" && exports[fn.Content(src)]) {
		return text, true
	}
	return "", false
}

// unawaitedCall locates a bare async call statement in a source file
type unawaitedCall struct {
	Line   int // 1-based
	Column int // byte offset within the line
	Text   string
}

// findUnawaitedCall returns the first bare async call in document order,
// or nil when every call is awaited
func findUnawaitedCall(ctx context.Context, src []byte, exports map[string]bool) (*unawaitedCall, error) {
	parser := sitter.NewParser()
	parser.SetLanguage(typescript.GetLanguage())
	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, err
	}
	defer tree.Close()

	var found *unawaitedCall
	walkTree(tree.RootNode(), func(n *sitter.Node) {
		if found != nil {
			return
		}
		if text, ok := bareAsyncCall(n, src, exports); ok {
			found = &unawaitedCall{
				Line:   int(n.StartPoint().Row) + 1,
				Column: int(n.StartPoint().Column),
				Text:   text,
			}
		}
	})
	return found, nil
}

func walkTree(n *sitter.Node, fn func(*sitter.Node)) {
	fn(n)
	for i := 0; i < int(n.ChildCount()); i++ {
		walkTree(n.Child(i), fn)
	}
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + "…"
	}
	return s
}

func boolPtr(b bool) *bool { return &b }
