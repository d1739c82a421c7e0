package main

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/sahilm/fuzzy"
)

// MappingError reports a step that could not be turned into an IR step.
// Fatal to generation for that journey; carries the offending step index
// and a suggestion when one can be derived.
type MappingError struct {
	JourneyID  string
	StepIndex  int
	StepText   string
	Reason     string
	Suggestion string
}

func (e *MappingError) Error() string {
	msg := fmt.Sprintf("journey %s: step %d (%q): %s", e.JourneyID, e.StepIndex+1, e.StepText, e.Reason)
	if e.Suggestion != "" {
		msg += "\n  " + e.Suggestion
	}
	return msg
}

// stepRule is one pattern within a verb family. The extract function turns
// the regex match into a primitive plus target/value phrases.
type stepRule struct {
	re      *regexp.Regexp
	extract func(m []string) (IRPrimitive, string, string)
}

// verbFamily groups the rules reachable from one set of leading verbs.
// Matching across two families is ambiguous and refuses to guess.
type verbFamily struct {
	name  string
	rules []stepRule
}

// stepFamilies is the fixed, ordered rule table. Within a family the first
// matching rule wins; the family order only affects error messages, never
// the outcome, because cross-family matches are rejected as ambiguous.
var stepFamilies = []verbFamily{
	{
		name: "navigate",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^(?:go|navigate|return) (?:back )?to (.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimNavigate, "", m[1]
				},
			},
			{
				re: regexp.MustCompile(`(?i)^(?:open|visit) (.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimNavigate, "", m[1]
				},
			},
		},
	},
	{
		name: "click",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^(?:click|check|uncheck|toggle) (?:on )?(?:the )?(.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimClick, m[1], ""
				},
			},
		},
	},
	{
		name: "fill",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^(?:fill|enter|type) "(.+)" (?:in|into) (?:the )?(.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimFill, m[2], `"` + m[1] + `"`
				},
			},
			{
				re: regexp.MustCompile(`(?i)^(?:fill|enter|type) (?:in |into )?(?:the )?(.+?) (?:with|as) (.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimFill, m[1], m[2]
				},
			},
			{
				re: regexp.MustCompile(`(?i)^set (?:the )?(.+?) to (.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimFill, m[1], m[2]
				},
			},
		},
	},
	{
		name: "select",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^select (.+?) (?:from|in) (?:the )?(.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimSelect, m[2], m[1]
				},
			},
		},
	},
	{
		name: "assert",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^(?:see|verify|expect|confirm|check) (?:that )?(?:the )?(.+?) (?:contains|shows|reads|says|displays) (.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimAssertText, m[1], m[2]
				},
			},
			{
				re: regexp.MustCompile(`(?i)^(?:see|verify|expect|confirm|check) (?:that )?(?:the )?(.+?) (?:is |are )?(?:visible|displayed|shown|present|appears)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimAssertVisible, m[1], ""
				},
			},
			{
				re: regexp.MustCompile(`(?i)^(?:see|should see) (?:the )?(.+)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimAssertVisible, m[1], ""
				},
			},
		},
	},
	{
		name: "wait",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^wait (?:for|until) (?:the )?page (?:to )?(?:finish )?load(?:s|ed|ing)?$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimWaitForState, "", "load"
				},
			},
			{
				re: regexp.MustCompile(`(?i)^wait for navigation$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimWaitForState, "", "load"
				},
			},
			{
				re: regexp.MustCompile(`(?i)^wait (?:for|until) (?:the )?network (?:to be |to go |is )?idle$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimWaitForState, "", "networkidle"
				},
			},
			{
				re: regexp.MustCompile(`(?i)^wait (?:for|until) (?:the )?(.+?) (?:is |to be |to become |to )?(?:visible|ready|loaded|appears?)$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimWaitForState, m[1], "visible"
				},
			},
		},
	},
	{
		name: "module",
		rules: []stepRule{
			{
				re: regexp.MustCompile(`(?i)^login(?: as (.+))?$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimModuleCall, "login", m[1]
				},
			},
			{
				re: regexp.MustCompile(`(?i)^logout$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimModuleCall, "logout", ""
				},
			},
			{
				re: regexp.MustCompile(`(?i)^(?:use|run|perform|complete) (?:the )?(.+?)(?: module| flow| helper)?$`),
				extract: func(m []string) (IRPrimitive, string, string) {
					return PrimModuleCall, m[1], ""
				},
			},
		},
	},
}

// patternExamples feed the fuzzy suggestion on unmappable steps
var patternExamples = []string{
	"Go to /checkout",
	"Open the settings page",
	"Click the Submit button",
	"Check the terms checkbox",
	"Fill the Email field with \"user@example.com\"",
	"Enter \"hello\" into the Search field",
	"Set the Quantity field to 2",
	"Select United States from the Country dropdown",
	"See the Welcome banner is visible",
	"Verify the order total contains \"$42.00\"",
	"Wait for the page to load",
	"Wait until the network is idle",
	"Login as admin",
	"Use the guest checkout module",
}

// Mapper converts normalized steps into IR steps. Pure with respect to its
// inputs; debt produced by selector resolution is returned, not stored.
type Mapper struct {
	journeyID string
	policy    *Policy
	resolver  *Resolver
}

// NewMapper builds a mapper for one journey
func NewMapper(journeyID string, policy *Policy, catalog *SelectorCatalog) *Mapper {
	return &Mapper{
		journeyID: journeyID,
		policy:    policy,
		resolver:  NewResolver(catalog),
	}
}

// MapStep maps one step to an IR step. Hints always win over inference:
// a hint naming a primitive forces it; hint locator fields override the
// resolver field by field.
func (m *Mapper) MapStep(step JourneyStep) (IRStep, []DebtEntry, error) {
	text := m.policy.ApplyGlossary(step.Text)

	primitive, target, rawValue, err := m.inferPrimitive(step, text)
	if err != nil {
		return IRStep{}, nil, err
	}

	ir := IRStep{
		ACID:           step.ACID,
		Primitive:      primitive,
		Target:         target,
		SourceStepText: step.Text,
		StepIndex:      step.Index,
	}

	var debts []DebtEntry

	switch primitive {
	case PrimNavigate:
		ir.Value = navigationValue(step.Hint, target, rawValue)

	case PrimClick, PrimAssertVisible:
		loc, debt := m.resolver.Resolve(m.journeyID, step.Index, target, step.Hint)
		ir.Locator = loc
		if debt != nil {
			debts = append(debts, *debt)
		}

	case PrimFill, PrimSelect, PrimAssertText:
		loc, debt := m.resolver.Resolve(m.journeyID, step.Index, target, step.Hint)
		ir.Locator = loc
		if debt != nil {
			debts = append(debts, *debt)
		}
		ir.Value = buildValueSpec(step.Hint, rawValue)
		if ir.Value == nil {
			return IRStep{}, nil, &MappingError{
				JourneyID: m.journeyID,
				StepIndex: step.Index,
				StepText:  step.Text,
				Reason:    fmt.Sprintf("%s step needs a value (add one to the step text or a value= hint)", primitive),
			}
		}

	case PrimWaitForState:
		state := rawValue
		if step.Hint != nil && step.Hint.State != "" {
			state = step.Hint.State
		}
		if state == "visible" && target != "" {
			loc, debt := m.resolver.Resolve(m.journeyID, step.Index, target, step.Hint)
			ir.Locator = loc
			if debt != nil {
				debts = append(debts, *debt)
			}
		}
		ir.Value = &ValueSpec{Kind: ValueLiteral, Raw: state}

	case PrimModuleCall:
		module := target
		if step.Hint != nil && step.Hint.Module != "" {
			module = step.Hint.Module
		}
		call := slugify(module)
		if rawValue != "" {
			call += ":" + strings.TrimSpace(rawValue)
		}
		ir.Value = &ValueSpec{Kind: ValueLiteral, Raw: call}

	default:
		return IRStep{}, nil, &MappingError{
			JourneyID: m.journeyID,
			StepIndex: step.Index,
			StepText:  step.Text,
			Reason:    fmt.Sprintf("unknown primitive %q", primitive),
		}
	}

	return ir, debts, nil
}

// inferPrimitive decides the primitive and extracts target/value phrases
func (m *Mapper) inferPrimitive(step JourneyStep, text string) (IRPrimitive, string, string, error) {
	hint := step.Hint

	// An explicit primitive hint skips family matching entirely
	if hint != nil && hint.Primitive != "" {
		p := IRPrimitive(hint.Primitive)
		if !ValidPrimitive(p) {
			return "", "", "", &MappingError{
				JourneyID: m.journeyID,
				StepIndex: step.Index,
				StepText:  step.Text,
				Reason:    fmt.Sprintf("hint names unknown primitive %q", hint.Primitive),
			}
		}
		target, rawValue := m.extractForPrimitive(p, text)
		return p, target, rawValue, nil
	}

	type familyMatch struct {
		family    string
		primitive IRPrimitive
		target    string
		rawValue  string
	}

	var matches []familyMatch
	for _, fam := range stepFamilies {
		for _, rule := range fam.rules {
			if sub := rule.re.FindStringSubmatch(text); sub != nil {
				p, target, rawValue := rule.extract(sub)
				matches = append(matches, familyMatch{fam.name, p, target, rawValue})
				break
			}
		}
	}

	if len(matches) == 0 {
		return "", "", "", &MappingError{
			JourneyID:  m.journeyID,
			StepIndex:  step.Index,
			StepText:   step.Text,
			Reason:     "no matching pattern",
			Suggestion: suggestPattern(text),
		}
	}

	if len(matches) > 1 {
		var names []string
		for _, fm := range matches {
			names = append(names, string(fm.primitive))
		}
		return "", "", "", &MappingError{
			JourneyID:  m.journeyID,
			StepIndex:  step.Index,
			StepText:   step.Text,
			Reason:     fmt.Sprintf("ambiguous step: matches %s", strings.Join(names, " and ")),
			Suggestion: "disambiguate with a primitive= hint or a more specific verb",
		}
	}

	chosen := matches[0]

	// A hint implying a different primitive than the inferred one refuses
	// rather than guessing which the author meant
	if implied := impliedPrimitive(hint); implied != "" && implied != chosen.primitive {
		return "", "", "", &MappingError{
			JourneyID: m.journeyID,
			StepIndex: step.Index,
			StepText:  step.Text,
			Reason:    fmt.Sprintf("hint implies %s but step text maps to %s", implied, chosen.primitive),
		}
	}

	return chosen.primitive, chosen.target, chosen.rawValue, nil
}

// extractForPrimitive re-runs only the named primitive's rules to pull
// target/value phrases when a hint forced the primitive
func (m *Mapper) extractForPrimitive(p IRPrimitive, text string) (string, string) {
	for _, fam := range stepFamilies {
		for _, rule := range fam.rules {
			sub := rule.re.FindStringSubmatch(text)
			if sub == nil {
				continue
			}
			rp, target, rawValue := rule.extract(sub)
			if rp == p {
				return target, rawValue
			}
		}
	}
	// No rule for the forced primitive: the whole step text is the target
	return strings.TrimSpace(text), ""
}

// impliedPrimitive derives the primitive a partial hint commits to
func impliedPrimitive(h *StepHint) IRPrimitive {
	if h == nil {
		return ""
	}
	if h.State != "" {
		return PrimWaitForState
	}
	if h.Module != "" {
		return PrimModuleCall
	}
	return ""
}

// navigationValue builds the navigate target path. An explicit path or URL
// passes through; a named page becomes a deterministic slug path.
func navigationValue(hint *StepHint, target, raw string) *ValueSpec {
	if hint != nil && hint.Value != "" {
		return &ValueSpec{Kind: ValueLiteral, Raw: hint.Value}
	}

	dest := strings.TrimSpace(raw)
	if dest == "" {
		dest = strings.TrimSpace(target)
	}
	dest = strings.Trim(dest, `"`)

	if strings.HasPrefix(dest, "/") || strings.HasPrefix(dest, "http://") || strings.HasPrefix(dest, "https://") {
		return &ValueSpec{Kind: ValueLiteral, Raw: dest}
	}

	// "the checkout page" → /checkout
	name := normalizeTarget(dest)
	name = strings.TrimSuffix(name, " page")
	return &ValueSpec{Kind: ValueLiteral, Raw: "/" + slugify(name)}
}

var uniqueValuePattern = regexp.MustCompile(`(?i)^a unique (name|email|username|id)$`)

// buildValueSpec classifies an extracted value phrase
func buildValueSpec(hint *StepHint, raw string) *ValueSpec {
	if hint != nil && hint.Value != "" {
		raw = hint.Value
	}
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}

	if strings.Contains(raw, "{{") {
		return &ValueSpec{Kind: ValueTemplate, Raw: raw}
	}
	if m := uniqueValuePattern.FindStringSubmatch(raw); m != nil {
		noun := strings.ToLower(m[1])
		return &ValueSpec{Kind: ValueVariable, Raw: "unique" + strings.ToUpper(noun[:1]) + noun[1:]}
	}
	if strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2 {
		return &ValueSpec{Kind: ValueLiteral, Raw: raw[1 : len(raw)-1]}
	}
	return &ValueSpec{Kind: ValueLiteral, Raw: raw}
}

// suggestPattern fuzzy-matches the step against known example shapes
func suggestPattern(text string) string {
	results := fuzzy.Find(text, patternExamples)
	if len(results) == 0 {
		return "write steps like: " + patternExamples[2]
	}
	return fmt.Sprintf("did you mean a step like %q?", patternExamples[results[0].Index])
}
