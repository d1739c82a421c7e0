package main

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Journey status gate values
const (
	StatusDraft     = "draft"
	StatusClarified = "clarified"
	StatusArchived  = "archived"
)

// ParseError reports a malformed or unready journey document. Fatal for
// that journey; fixed by the author, never retried automatically.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("journey %s: %s", e.Path, e.Reason)
}

// AcceptanceCriterion is one id + text pair from journey front-matter
type AcceptanceCriterion struct {
	ID   string `yaml:"id"`
	Text string `yaml:"text"`
}

// StepHint carries the parenthetical machine hint of one step. All fields
// optional; a hint that names a primitive plus what that primitive needs
// wins over text inference entirely.
type StepHint struct {
	Primitive string
	Role      string
	Name      string
	Label     string
	TestID    string
	Text      string
	CSS       string
	Exact     bool
	ExactSet  bool
	Value     string
	State     string
	Module    string
	AC        string
}

// JourneyStep is one normalized step: visible text with the hint removed
type JourneyStep struct {
	Index int
	Text  string
	Hint  *StepHint
	ACID  string
}

// Journey is the parsed, normalized journey document
type Journey struct {
	ID                 string
	Title              string
	Status             string
	Tier               string
	Scope              string
	EntryPath          string
	AcceptanceCriteria []AcceptanceCriterion
	Steps              []JourneyStep

	Path string
	Raw  []byte
}

// journeyDoc is the front-matter schema
type journeyDoc struct {
	ID                 string                `yaml:"id"`
	Title              string                `yaml:"title"`
	Status             string                `yaml:"status"`
	Tier               string                `yaml:"tier"`
	Scope              string                `yaml:"scope"`
	EntryPath          string                `yaml:"entryPath"`
	AcceptanceCriteria []AcceptanceCriterion `yaml:"acceptanceCriteria"`
}

var (
	journeyIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]*$`)
	hintPattern      = regexp.MustCompile(`\(hint:\s*([^)]*)\)\s*$`)
	stepItemPattern  = regexp.MustCompile(`^(?:\d+\.|[-*])\s+(.+)$`)
	acHeadingPattern = regexp.MustCompile(`^###\s+(\S+)\s*$`)
	spaceRun         = regexp.MustCompile(`\s+`)
)

// ParseJourneyFile loads and validates one journey document
func ParseJourneyFile(path string) (*Journey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("cannot read file: %v", err)}
	}
	return parseJourney(path, data)
}

func parseJourney(path string, data []byte) (*Journey, error) {
	front, body, err := splitFrontMatter(string(data))
	if err != nil {
		return nil, &ParseError{Path: path, Reason: err.Error()}
	}

	var doc journeyDoc
	if err := yaml.Unmarshal([]byte(front), &doc); err != nil {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("invalid front-matter: %v", err)}
	}

	if doc.ID == "" {
		return nil, &ParseError{Path: path, Reason: "missing required field: id"}
	}
	if !journeyIDPattern.MatchString(doc.ID) {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("invalid id %q: must match [a-z0-9-]+", doc.ID)}
	}
	if doc.Title == "" {
		return nil, &ParseError{Path: path, Reason: "missing required field: title"}
	}
	if doc.Status == "" {
		return nil, &ParseError{Path: path, Reason: "missing required field: status"}
	}
	if doc.Status != StatusClarified {
		return nil, &ParseError{Path: path, Reason: fmt.Sprintf("status is %q, needs clarification before generation (set status: clarified)", doc.Status)}
	}
	if len(doc.AcceptanceCriteria) == 0 {
		return nil, &ParseError{Path: path, Reason: "missing required field: acceptanceCriteria"}
	}

	seen := make(map[string]bool)
	for i, ac := range doc.AcceptanceCriteria {
		if ac.ID == "" {
			return nil, &ParseError{Path: path, Reason: fmt.Sprintf("acceptanceCriteria[%d]: missing id", i)}
		}
		if ac.Text == "" {
			return nil, &ParseError{Path: path, Reason: fmt.Sprintf("acceptanceCriteria[%d]: missing text", i)}
		}
		if seen[ac.ID] {
			return nil, &ParseError{Path: path, Reason: fmt.Sprintf("duplicate acceptance criterion id: %s", ac.ID)}
		}
		seen[ac.ID] = true
	}

	if doc.Tier == "" {
		doc.Tier = "regression"
	}
	if doc.Scope == "" {
		doc.Scope = doc.ID
	}

	steps, err := parseSteps(path, body, doc.AcceptanceCriteria)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, &ParseError{Path: path, Reason: "no steps found (add a '## Steps' section with an ordered list)"}
	}

	return &Journey{
		ID:                 doc.ID,
		Title:              doc.Title,
		Status:             doc.Status,
		Tier:               doc.Tier,
		Scope:              doc.Scope,
		EntryPath:          doc.EntryPath,
		AcceptanceCriteria: doc.AcceptanceCriteria,
		Steps:              steps,
		Path:               path,
		Raw:                data,
	}, nil
}

// splitFrontMatter separates the YAML block between --- fences from the body
func splitFrontMatter(content string) (front, body string, err error) {
	if !strings.HasPrefix(content, "---\n") {
		return "", "", fmt.Errorf("missing front-matter (document must start with ---)")
	}

	rest := strings.TrimPrefix(content, "---\n")
	idx := strings.Index(rest, "\n---")
	if idx < 0 {
		return "", "", fmt.Errorf("unterminated front-matter (no closing ---)")
	}

	front = rest[:idx]
	body = rest[idx+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return front, body, nil
}

// parseSteps extracts the ordered step list from the '## Steps' section.
// Steps attribute to the first acceptance criterion until a '### <ac-id>'
// heading or an ac= hint reassigns them.
func parseSteps(path, body string, criteria []AcceptanceCriterion) ([]JourneyStep, error) {
	known := make(map[string]bool, len(criteria))
	for _, ac := range criteria {
		known[ac.ID] = true
	}

	var steps []JourneyStep
	inSteps := false
	currentAC := criteria[0].ID
	index := 0

	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)

		if strings.HasPrefix(trimmed, "## ") {
			inSteps = strings.EqualFold(strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), "steps")
			continue
		}
		if !inSteps {
			continue
		}

		if m := acHeadingPattern.FindStringSubmatch(trimmed); m != nil {
			if !known[m[1]] {
				return nil, &ParseError{Path: path, Reason: fmt.Sprintf("steps heading references unknown acceptance criterion: %s", m[1])}
			}
			currentAC = m[1]
			continue
		}

		m := stepItemPattern.FindStringSubmatch(trimmed)
		if m == nil {
			continue
		}

		text := m[1]
		var hint *StepHint
		if hm := hintPattern.FindStringSubmatch(text); hm != nil {
			parsed, err := parseHint(hm[1])
			if err != nil {
				return nil, &ParseError{Path: path, Reason: fmt.Sprintf("step %d: %v", index+1, err)}
			}
			hint = parsed
			text = strings.TrimSpace(hintPattern.ReplaceAllString(text, ""))
		}

		text = spaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
		if text == "" {
			return nil, &ParseError{Path: path, Reason: fmt.Sprintf("step %d: empty step text", index+1)}
		}

		acID := currentAC
		if hint != nil && hint.AC != "" {
			if !known[hint.AC] {
				return nil, &ParseError{Path: path, Reason: fmt.Sprintf("step %d: hint references unknown acceptance criterion: %s", index+1, hint.AC)}
			}
			acID = hint.AC
		}

		steps = append(steps, JourneyStep{
			Index: index,
			Text:  text,
			Hint:  hint,
			ACID:  acID,
		})
		index++
	}

	return steps, nil
}

var hintTokenPattern = regexp.MustCompile(`(\w+)=("([^"]*)"|\S+)`)

// parseHint parses the key=value list inside a (hint: ...) parenthetical
func parseHint(raw string) (*StepHint, error) {
	h := &StepHint{}
	matched := 0

	for _, m := range hintTokenPattern.FindAllStringSubmatch(raw, -1) {
		matched++
		key, val := m[1], m[2]
		if m[3] != "" || strings.HasPrefix(m[2], `"`) {
			val = m[3]
		}

		switch key {
		case "primitive":
			h.Primitive = val
		case "role":
			h.Role = val
		case "name":
			h.Name = val
		case "label":
			h.Label = val
		case "testId":
			h.TestID = val
		case "text":
			h.Text = val
		case "css":
			h.CSS = val
		case "exact":
			h.Exact = val == "true"
			h.ExactSet = true
		case "value":
			h.Value = val
		case "state":
			h.State = val
		case "module":
			h.Module = val
		case "ac":
			h.AC = val
		default:
			return nil, fmt.Errorf("malformed hint: unknown key %q", key)
		}
	}

	if matched == 0 {
		return nil, fmt.Errorf("malformed hint: no key=value pairs in %q", strings.TrimSpace(raw))
	}
	return h, nil
}

// JourneySummary is a lightweight listing entry
type JourneySummary struct {
	ID     string
	Title  string
	Status string
	Tier   string
	Scope  string
	Path   string
}

// summaryDoc reads just enough front-matter for listing
type summaryDoc struct {
	ID     string `yaml:"id"`
	Title  string `yaml:"title"`
	Status string `yaml:"status"`
	Tier   string `yaml:"tier"`
	Scope  string `yaml:"scope"`
}

// ListJourneys scans the journeys directory. Unparseable files become
// warnings, not errors, so one bad document doesn't hide the rest.
func ListJourneys(dir string) ([]JourneySummary, []string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("failed to read journeys directory: %w", err)
	}

	var summaries []JourneySummary
	var warnings []string

	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("read failed: %s", path))
			continue
		}

		front, _, err := splitFrontMatter(string(data))
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: %v", path, err))
			continue
		}

		var doc summaryDoc
		if err := yaml.Unmarshal([]byte(front), &doc); err != nil {
			warnings = append(warnings, fmt.Sprintf("%s: invalid front-matter", path))
			continue
		}
		if doc.ID == "" {
			warnings = append(warnings, fmt.Sprintf("%s: missing id", path))
			continue
		}
		if doc.Tier == "" {
			doc.Tier = "regression"
		}
		if doc.Scope == "" {
			doc.Scope = doc.ID
		}

		summaries = append(summaries, JourneySummary{
			ID:     doc.ID,
			Title:  doc.Title,
			Status: doc.Status,
			Tier:   doc.Tier,
			Scope:  doc.Scope,
			Path:   path,
		})
	}

	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})

	return summaries, warnings, nil
}

// FindJourneyPath locates a journey file by id: the conventional
// <dir>/<id>.md first, then a front-matter scan for renamed files.
func FindJourneyPath(dir, id string) (string, error) {
	conventional := filepath.Join(dir, id+".md")
	if fileExists(conventional) {
		return conventional, nil
	}

	summaries, _, err := ListJourneys(dir)
	if err != nil {
		return "", err
	}
	for _, s := range summaries {
		if s.ID == id {
			return s.Path, nil
		}
	}

	return "", fmt.Errorf("journey %q not found in %s", id, dir)
}

// ClarifiedJourneys returns ids of all journeys that pass the status gate
func ClarifiedJourneys(dir string) ([]string, error) {
	summaries, _, err := ListJourneys(dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, s := range summaries {
		if s.Status == StatusClarified {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}
