package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// GenerationError reports a journey whose artifacts could not be written.
// Marker corruption in an existing file is the usual cause.
type GenerationError struct {
	JourneyID string
	Path      string
	Reason    string
	Err       error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("journey %s: %s", e.JourneyID, e.Reason)
	if e.Path != "" {
		msg += " (" + e.Path + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Artifact is one file the generator touched (or deliberately left alone)
type Artifact struct {
	Path   string `json:"path"`
	Action string `json:"action"` // created | updated | unchanged
}

// GenerateResult summarizes one journey's generation pass
type GenerateResult struct {
	JourneyID string
	Artifacts []Artifact
}

const specIndent = "    " // block depth inside test() body

// Generator renders IR into Playwright TypeScript. All writes go through
// marker-fenced blocks and per-file locks, and a byte-identical render is
// never written, so repeated generation is a no-op.
type Generator struct {
	cfg    *ResolvedConfig
	logger *RunLogger
}

func NewGenerator(cfg *ResolvedConfig, logger *RunLogger) *Generator {
	return &Generator{cfg: cfg, logger: logger}
}

func (g *Generator) testsDir() string {
	return filepath.Join(g.cfg.ProjectRoot, g.cfg.Config.Paths.TestsDir)
}

func (g *Generator) modulesDir() string {
	return filepath.Join(g.cfg.ProjectRoot, g.cfg.Config.Paths.ModulesDir)
}

// SpecFilePath returns the generated test file for a journey
func (g *Generator) SpecFilePath(journeyID string) string {
	return filepath.Join(g.testsDir(), journeyID+".spec.ts")
}

func (g *Generator) moduleFilePath(scope string) string {
	return filepath.Join(g.modulesDir(), scope+".module.ts")
}

// Generate writes or updates every artifact for one journey: the spec
// file, any flow module files it calls, and the module registry. The spec
// file is processed first so a fenced-marker problem there aborts the
// whole pass before anything else is touched.
func (g *Generator) Generate(ctx context.Context, ir *IRJourney) (*GenerateResult, error) {
	res := &GenerateResult{JourneyID: ir.JourneyID}

	regPath := RegistryPath(g.modulesDir())
	registry, err := LoadRegistry(regPath)
	if err != nil {
		return nil, &GenerationError{JourneyID: ir.JourneyID, Path: regPath, Reason: "module registry unreadable", Err: err}
	}

	// Plan module homes before rendering so spec imports resolve
	calls := moduleCallsOf(ir)
	registryChanged := false
	newModules := make(map[string][]MarkerEdit) // module file → scaffold blocks
	for _, call := range calls {
		entry, known := registry.Lookup(call.name)
		if !known {
			file := g.moduleFilePath(ir.Scope)
			rel, relErr := filepath.Rel(g.cfg.ProjectRoot, file)
			if relErr != nil {
				rel = file
			}
			entry = ModuleEntry{
				Scope:  ir.Scope,
				File:   filepath.ToSlash(rel),
				Export: tsIdentifier(call.name),
			}
			if call.arg != "" {
				entry.Params = []string{"account"}
			}
			newModules[file] = append(newModules[file], MarkerEdit{
				ID:   "module-" + call.name,
				Body: moduleScaffoldBody(call.name, entry.Export, call.arg != ""),
			})
		}
		if registry.Ensure(call.name, entry) {
			registryChanged = true
		}
	}

	specPath := g.SpecFilePath(ir.JourneyID)
	art, err := g.writeLocked(ctx, ir.JourneyID, specPath, func(existing string, exists bool) (string, error) {
		return g.renderSpec(ir, registry, existing, exists)
	})
	if err != nil {
		return nil, err
	}
	res.Artifacts = append(res.Artifacts, art)

	for file, scaffolds := range newModules {
		scaffolds := scaffolds
		art, err := g.writeLocked(ctx, ir.JourneyID, file, func(existing string, exists bool) (string, error) {
			return renderModuleFile(ir.Scope, existing, exists, scaffolds)
		})
		if err != nil {
			return nil, err
		}
		res.Artifacts = append(res.Artifacts, art)
	}

	if registryChanged {
		lock := NewEditLock(g.cfg.ProjectRoot, regPath)
		if err := lock.AcquireWait(ctx, ir.JourneyID); err != nil {
			return nil, &GenerationError{JourneyID: ir.JourneyID, Path: regPath, Reason: "could not acquire edit lock", Err: err}
		}
		existed := fileExists(regPath)
		saveErr := registry.Save(regPath)
		lock.Release()
		if saveErr != nil {
			return nil, &GenerationError{JourneyID: ir.JourneyID, Path: regPath, Reason: "write failed", Err: saveErr}
		}
		action := "updated"
		if !existed {
			action = "created"
		}
		rel, relErr := filepath.Rel(g.cfg.ProjectRoot, regPath)
		if relErr != nil {
			rel = regPath
		}
		res.Artifacts = append(res.Artifacts, Artifact{Path: filepath.ToSlash(rel), Action: action})
	}

	for _, a := range res.Artifacts {
		g.logger.Log(Event{
			Type:    EventGenerated,
			Journey: ir.JourneyID,
			Msg:     a.Action,
			Data:    map[string]any{"path": a.Path},
		})
	}
	return res, nil
}

// writeLocked runs a read-render-write cycle for one artifact under its
// edit lock. render sees the current content and reports the full desired
// content; identical bytes are not rewritten.
func (g *Generator) writeLocked(ctx context.Context, journeyID, path string, render func(existing string, exists bool) (string, error)) (Artifact, error) {
	lock := NewEditLock(g.cfg.ProjectRoot, path)
	if err := lock.AcquireWait(ctx, journeyID); err != nil {
		return Artifact{}, &GenerationError{JourneyID: journeyID, Path: path, Reason: "could not acquire edit lock", Err: err}
	}
	defer lock.Release()

	existing, err := os.ReadFile(path)
	exists := err == nil
	if err != nil && !os.IsNotExist(err) {
		return Artifact{}, &GenerationError{JourneyID: journeyID, Path: path, Reason: "unreadable artifact", Err: err}
	}

	content, err := render(string(existing), exists)
	if err != nil {
		return Artifact{}, &GenerationError{JourneyID: journeyID, Path: path, Reason: "render failed", Err: err}
	}
	if !strings.HasSuffix(content, "\n") {
		content += "\n"
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return Artifact{}, &GenerationError{JourneyID: journeyID, Path: path, Reason: "could not create artifact directory", Err: err}
	}
	changed, err := WriteFileIfChanged(path, []byte(content))
	if err != nil {
		return Artifact{}, &GenerationError{JourneyID: journeyID, Path: path, Reason: "write failed", Err: err}
	}

	action := "unchanged"
	if changed && !exists {
		action = "created"
	} else if changed {
		action = "updated"
	}
	rel, err := filepath.Rel(g.cfg.ProjectRoot, path)
	if err != nil {
		rel = path
	}
	return Artifact{Path: filepath.ToSlash(rel), Action: action}, nil
}

// renderSpec produces the full spec file content, merging into an existing
// file through its markers or rendering the scaffold for a new one
func (g *Generator) renderSpec(ir *IRJourney, registry *ModuleRegistry, existing string, exists bool) (string, error) {
	edits, err := g.specEdits(ir, registry)
	if err != nil {
		return "", err
	}

	if exists {
		return ApplyMarkerEdits(existing, edits)
	}

	importsBlock := strings.Join(renderBlockLines("imports", edits[0].Body, ""), "\n")
	headerBlock := strings.Join(renderBlockLines("header", edits[1].Body, ""), "\n")
	var stepBlocks []string
	for _, e := range edits[2:] {
		stepBlocks = append(stepBlocks, renderBlockLines(e.ID, e.Body, specIndent)...)
	}

	journeyRel := filepath.ToSlash(filepath.Join(g.cfg.Config.Paths.JourneysDir, ir.JourneyID+".md"))
	return renderSpecScaffold(
		journeyRel,
		tsEscape(ir.Title),
		buildTags(ir),
		importsBlock,
		headerBlock,
		strings.Join(stepBlocks, "\n"),
	), nil
}

// specEdits builds the generator-owned blocks: imports, header, one block
// per step, in order
func (g *Generator) specEdits(ir *IRJourney, registry *ModuleRegistry) ([]MarkerEdit, error) {
	edits := []MarkerEdit{
		{ID: "imports", Body: g.specImports(ir, registry)},
		{ID: "header", Body: renderHeaderBody(ir)},
	}
	for _, step := range ir.Steps {
		code, err := stepCode(step, registry)
		if err != nil {
			return nil, err
		}
		body := specIndent + "// " + stepComment(step) + "\n" + specIndent + code
		edits = append(edits, MarkerEdit{ID: StepBlockID(step.StepIndex), Body: body})
	}
	return edits, nil
}

func (g *Generator) specImports(ir *IRJourney, registry *ModuleRegistry) string {
	lines := []string{"import { test, expect } from '@playwright/test';"}
	seen := make(map[string]bool)
	for _, call := range moduleCallsOf(ir) {
		entry, ok := registry.Lookup(call.name)
		if !ok {
			continue
		}
		target := filepath.Join(g.cfg.ProjectRoot, filepath.FromSlash(entry.File))
		line := fmt.Sprintf("import { %s } from '%s';", entry.Export, relImportPath(g.testsDir(), target))
		if !seen[line] {
			seen[line] = true
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

// renderModuleFile keeps every existing fenced flow untouched and appends
// scaffolds for flows this journey introduced. Developer-filled bodies are
// never regenerated.
func renderModuleFile(scope, existing string, exists bool, scaffolds []MarkerEdit) (string, error) {
	if !exists {
		var blocks []string
		for _, s := range scaffolds {
			blocks = append(blocks, renderBlockLines(s.ID, s.Body, "")...)
		}
		return renderModuleScaffold(scope, strings.Join(blocks, "\n")), nil
	}

	segments, err := ParseMarkerSegments(existing)
	if err != nil {
		return "", err
	}
	var edits []MarkerEdit
	have := make(map[string]bool)
	for _, seg := range segments {
		edits = append(edits, MarkerEdit{ID: seg.ID, Body: seg.Body})
		have[seg.ID] = true
	}
	for _, s := range scaffolds {
		if !have[s.ID] {
			edits = append(edits, s)
		}
	}
	return ApplyMarkerEdits(existing, edits)
}

func moduleScaffoldBody(name, export string, withParam bool) string {
	sig := "page: Page"
	if withParam {
		sig += ", account?: string"
	}
	return strings.Join([]string{
		fmt.Sprintf("export async function %s(%s): Promise<void> {", export, sig),
		fmt.Sprintf("  // Replace this body with the real %q flow for your app.", name),
		fmt.Sprintf("  throw new Error('module %s is not implemented yet');", name),
		"}",
	}, "\n")
}

// buildTags renders the grep-able tag triple carried in the test title
func buildTags(ir *IRJourney) string {
	return fmt.Sprintf("@journey:%s @tier:%s @scope:%s", ir.JourneyID, ir.Tier, ir.Scope)
}

// JourneyTag is the tag verify greps for
func JourneyTag(journeyID string) string {
	return "@journey:" + journeyID
}

func stepComment(step IRStep) string {
	if step.ACID != "" {
		return fmt.Sprintf("%s: %s", step.ACID, step.SourceStepText)
	}
	return fmt.Sprintf("step %d: %s", step.StepIndex+1, step.SourceStepText)
}

// stepCode renders one IR step as a single awaited statement
func stepCode(step IRStep, registry *ModuleRegistry) (string, error) {
	needsLocator := step.Primitive == PrimClick || step.Primitive == PrimFill ||
		step.Primitive == PrimSelect || step.Primitive == PrimAssertVisible ||
		step.Primitive == PrimAssertText
	if needsLocator && step.Locator == nil {
		return "", fmt.Errorf("step %d: %s without a locator", step.StepIndex+1, step.Primitive)
	}

	switch step.Primitive {
	case PrimNavigate:
		return fmt.Sprintf("await page.goto(%s);", renderValue(step.Value)), nil
	case PrimClick:
		return fmt.Sprintf("await %s.click();", renderLocator(step.Locator)), nil
	case PrimFill:
		return fmt.Sprintf("await %s.fill(%s);", renderLocator(step.Locator), renderValue(step.Value)), nil
	case PrimSelect:
		return fmt.Sprintf("await %s.selectOption(%s);", renderLocator(step.Locator), renderValue(step.Value)), nil
	case PrimAssertVisible:
		return fmt.Sprintf("await expect(%s).toBeVisible();", renderLocator(step.Locator)), nil
	case PrimAssertText:
		return fmt.Sprintf("await expect(%s).toContainText(%s);", renderLocator(step.Locator), renderValue(step.Value)), nil
	case PrimWaitForState:
		if step.Locator != nil {
			return fmt.Sprintf("await %s.waitFor({ state: %s });", renderLocator(step.Locator), tsString(step.Value.Raw)), nil
		}
		return fmt.Sprintf("await page.waitForLoadState(%s);", tsString(step.Value.Raw)), nil
	case PrimModuleCall:
		name, arg := splitModuleCall(step.Value.Raw)
		entry, ok := registry.Lookup(name)
		if !ok {
			return "", fmt.Errorf("step %d calls unregistered module %q", step.StepIndex+1, name)
		}
		if arg != "" {
			return fmt.Sprintf("await %s(page, %s);", entry.Export, tsString(arg)), nil
		}
		return fmt.Sprintf("await %s(page);", entry.Export), nil
	}
	return "", fmt.Errorf("step %d: unknown primitive %q", step.StepIndex+1, step.Primitive)
}

// renderLocator maps a locator spec onto the Playwright locator API
func renderLocator(loc *LocatorSpec) string {
	switch loc.Strategy {
	case StrategyRole:
		if loc.Name == "" {
			return fmt.Sprintf("page.getByRole(%s)", tsString(loc.Value))
		}
		opts := fmt.Sprintf("{ name: %s", tsString(loc.Name))
		if loc.Exact {
			opts += ", exact: true"
		}
		opts += " }"
		return fmt.Sprintf("page.getByRole(%s, %s)", tsString(loc.Value), opts)
	case StrategyLabel:
		if loc.Exact {
			return fmt.Sprintf("page.getByLabel(%s, { exact: true })", tsString(loc.Value))
		}
		return fmt.Sprintf("page.getByLabel(%s)", tsString(loc.Value))
	case StrategyTestID:
		return fmt.Sprintf("page.getByTestId(%s)", tsString(loc.Value))
	case StrategyText:
		if loc.Exact {
			return fmt.Sprintf("page.getByText(%s, { exact: true })", tsString(loc.Value))
		}
		return fmt.Sprintf("page.getByText(%s)", tsString(loc.Value))
	default:
		return fmt.Sprintf("page.locator(%s)", tsString(loc.Value))
	}
}

var templateVarPattern = regexp.MustCompile(`\{\{\s*(\w+)\s*\}\}`)

// renderValue maps a value spec onto a TypeScript expression
func renderValue(v *ValueSpec) string {
	if v == nil {
		return "''"
	}
	switch v.Kind {
	case ValueVariable:
		return "data." + v.Raw
	case ValueTemplate:
		body := strings.ReplaceAll(v.Raw, "`", "\\`")
		body = templateVarPattern.ReplaceAllString(body, "${data.$1}")
		return "`" + body + "`"
	default:
		return tsString(v.Raw)
	}
}

// renderHeaderBody declares the run-scoped data the steps reference. Only
// fields some step actually uses are emitted, in first-use order.
func renderHeaderBody(ir *IRJourney) string {
	fields := dataFieldsOf(ir)
	lines := []string{"const runId = process.env.AUTOGEN_RUN_ID ?? `local-${Date.now()}`;"}
	if len(fields) == 0 {
		lines = append(lines, "const data = { runId };")
		return strings.Join(lines, "\n")
	}
	lines = append(lines, "const data = {", "  runId,")
	for _, f := range fields {
		lines = append(lines, "  "+f+",")
	}
	lines = append(lines, "};")
	return strings.Join(lines, "\n")
}

// dataFieldsOf collects the data object fields referenced by variable and
// template values
func dataFieldsOf(ir *IRJourney) []string {
	var names []string
	seen := map[string]bool{"runId": true}
	note := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, step := range ir.Steps {
		if step.Value == nil {
			continue
		}
		switch step.Value.Kind {
		case ValueVariable:
			note(step.Value.Raw)
		case ValueTemplate:
			for _, m := range templateVarPattern.FindAllStringSubmatch(step.Value.Raw, -1) {
				note(m[1])
			}
		}
	}

	fields := make([]string, 0, len(names))
	for _, name := range names {
		switch name {
		case "uniqueName":
			fields = append(fields, "uniqueName: `name-${runId}`")
		case "uniqueEmail":
			fields = append(fields, "uniqueEmail: `user-${runId}@example.test`")
		case "uniqueUsername":
			fields = append(fields, "uniqueUsername: `user-${runId}`")
		case "uniqueId":
			fields = append(fields, "uniqueId: runId")
		default:
			fields = append(fields, fmt.Sprintf("%s: `%s-${runId}`", name, name))
		}
	}
	return fields
}

type moduleCall struct {
	name string
	arg  string
}

// moduleCallsOf lists the distinct flow modules a journey calls, in order
func moduleCallsOf(ir *IRJourney) []moduleCall {
	var calls []moduleCall
	seen := make(map[string]bool)
	for _, step := range ir.Steps {
		if step.Primitive != PrimModuleCall || step.Value == nil {
			continue
		}
		name, arg := splitModuleCall(step.Value.Raw)
		if seen[name] {
			continue
		}
		seen[name] = true
		calls = append(calls, moduleCall{name: name, arg: arg})
	}
	return calls
}

func splitModuleCall(raw string) (string, string) {
	if i := strings.Index(raw, ":"); i >= 0 {
		return raw[:i], raw[i+1:]
	}
	return raw, ""
}

// tsIdentifier turns a slug into a camelCase export name:
// "guest-checkout" → "guestCheckout"
func tsIdentifier(slug string) string {
	parts := strings.Split(slug, "-")
	var b strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			b.WriteString(p)
			continue
		}
		b.WriteString(strings.ToUpper(p[:1]) + p[1:])
	}
	if b.Len() == 0 {
		return "flow"
	}
	return b.String()
}

// relImportPath builds the extension-less relative import the spec file
// uses to reach a module file
func relImportPath(fromDir, target string) string {
	rel, err := filepath.Rel(fromDir, target)
	if err != nil {
		rel = target
	}
	rel = filepath.ToSlash(strings.TrimSuffix(rel, ".ts"))
	if !strings.HasPrefix(rel, ".") {
		rel = "./" + rel
	}
	return rel
}

func tsString(s string) string {
	return "'" + tsEscape(s) + "'"
}

func tsEscape(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '\\':
			b.WriteString(`\\`)
		case '\'':
			b.WriteString(`\'`)
		case '\n':
			b.WriteString(`\n`)
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
