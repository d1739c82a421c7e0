package main

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
)

// Strictness levels control whether a validation check reports errors or
// warnings. Selector-debt issues stay warnings at every level.
const (
	StrictnessStrict   = "strict"
	StrictnessStandard = "standard"
	StrictnessLenient  = "lenient"
)

// Validation check names, used as keys in the severity table
const (
	CheckForbiddenPattern = "forbidden-pattern"
	CheckRequiredTag      = "required-tag"
	CheckCoverage         = "ac-coverage"
	CheckLint             = "lint"
	CheckSelectorDebt     = "selector-debt"
	CheckMarkers          = "markers"
)

// ForbiddenPattern is a regex scanned against generated files
type ForbiddenPattern struct {
	Pattern     string `json:"pattern"`
	Message     string `json:"message"`
	FixCategory string `json:"fixCategory,omitempty"`

	re *regexp.Regexp
}

// Matches reports whether the compiled pattern matches a line
func (p ForbiddenPattern) Matches(line string) bool {
	return p.re != nil && p.re.MatchString(line)
}

// HealingPolicy bounds the repair loop
type HealingPolicy struct {
	MaxAttempts int `json:"maxAttempts,omitempty"`
}

// Policy is the pipeline policy document: glossary synonyms, forbidden
// patterns, strictness, and the healing bound. Loaded once per invocation
// and passed explicitly; never mutated mid-run.
type Policy struct {
	Strictness        string             `json:"strictness,omitempty"`
	SeverityOverrides map[string]string  `json:"severityOverrides,omitempty"`
	ForbiddenPatterns []ForbiddenPattern `json:"forbiddenPatterns,omitempty"`
	Glossary          map[string]string  `json:"glossary,omitempty"`
	Healing           HealingPolicy      `json:"healing,omitempty"`

	// glossaryKeys holds glossary phrases longest-first so multi-word
	// synonyms substitute before their substrings
	glossaryKeys []string
}

// defaultForbiddenPatterns flag the constructs generated tests must not
// contain: unconditional delays, forced interactions, and focused/paused
// test leftovers.
func defaultForbiddenPatterns() []ForbiddenPattern {
	return []ForbiddenPattern{
		{Pattern: `waitForTimeout\s*\(`, Message: "unconditional delay; wait for a state instead", FixCategory: "timing"},
		{Pattern: `force:\s*true`, Message: "forced interaction hides real locator failures", FixCategory: "selector"},
		{Pattern: `\.only\s*\(`, Message: "focused test left in generated code"},
		{Pattern: `page\.pause\s*\(`, Message: "debugger pause left in generated code"},
	}
}

// defaultGlossary maps synonym phrases to canonical intent words
func defaultGlossary() map[string]string {
	return map[string]string{
		"log in":   "login",
		"sign in":  "login",
		"log on":   "login",
		"log out":  "logout",
		"sign out": "logout",
		"press":    "click",
		"tap":      "click",
		"pick":     "select",
		"choose":   "select",
	}
}

// DefaultPolicy returns the built-in policy
func DefaultPolicy() *Policy {
	p := &Policy{
		Strictness:        StrictnessStandard,
		ForbiddenPatterns: defaultForbiddenPatterns(),
		Glossary:          defaultGlossary(),
		Healing:           HealingPolicy{MaxAttempts: 3},
	}
	if err := p.compile(); err != nil {
		// Built-in patterns must compile; a failure here is a programming error
		panic(err)
	}
	return p
}

// LoadPolicy loads the policy document. A missing file yields the built-in
// defaults so a fresh checkout works before 'autogen init' has run.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultPolicy(), nil
		}
		return nil, fmt.Errorf("failed to read policy: %w", err)
	}

	var p Policy
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("invalid policy file %s: %w", path, err)
	}

	// Apply defaults for absent sections
	if p.Strictness == "" {
		p.Strictness = StrictnessStandard
	}
	switch p.Strictness {
	case StrictnessStrict, StrictnessStandard, StrictnessLenient:
	default:
		return nil, fmt.Errorf("policy: unknown strictness %q (use strict, standard, or lenient)", p.Strictness)
	}
	if p.ForbiddenPatterns == nil {
		p.ForbiddenPatterns = defaultForbiddenPatterns()
	}
	if p.Glossary == nil {
		p.Glossary = defaultGlossary()
	}
	if p.Healing.MaxAttempts <= 0 {
		p.Healing.MaxAttempts = 3
	}

	if err := p.compile(); err != nil {
		return nil, err
	}
	return &p, nil
}

// compile pre-compiles forbidden patterns and orders glossary keys
func (p *Policy) compile() error {
	for i := range p.ForbiddenPatterns {
		fp := &p.ForbiddenPatterns[i]
		re, err := regexp.Compile(fp.Pattern)
		if err != nil {
			return fmt.Errorf("policy: forbiddenPatterns[%d]: invalid regex %q: %w", i, fp.Pattern, err)
		}
		fp.re = re
	}

	p.glossaryKeys = make([]string, 0, len(p.Glossary))
	for k := range p.Glossary {
		p.glossaryKeys = append(p.glossaryKeys, k)
	}
	sort.Slice(p.glossaryKeys, func(i, j int) bool {
		if len(p.glossaryKeys[i]) != len(p.glossaryKeys[j]) {
			return len(p.glossaryKeys[i]) > len(p.glossaryKeys[j])
		}
		return p.glossaryKeys[i] < p.glossaryKeys[j]
	})
	return nil
}

// ApplyGlossary substitutes synonym phrases with their canonical forms,
// case-insensitively, on word boundaries. Longer phrases substitute first.
func (p *Policy) ApplyGlossary(text string) string {
	result := text
	for _, key := range p.glossaryKeys {
		canonical := p.Glossary[key]
		re, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(key) + `\b`)
		if err != nil {
			continue
		}
		result = re.ReplaceAllString(result, canonical)
	}
	return result
}

// SeverityFor resolves the severity of a check under this policy
func (p *Policy) SeverityFor(check string) string {
	if s, ok := p.SeverityOverrides[check]; ok {
		if s == SeverityError || s == SeverityWarning {
			return s
		}
	}

	// Debt is advisory regardless of strictness
	if check == CheckSelectorDebt {
		return SeverityWarning
	}

	switch p.Strictness {
	case StrictnessStrict:
		return SeverityError
	case StrictnessLenient:
		return SeverityWarning
	default:
		if check == CheckLint {
			return SeverityWarning
		}
		return SeverityError
	}
}

// WriteDefaultPolicy writes the built-in policy as a starting point
func WriteDefaultPolicy(path string) error {
	p := DefaultPolicy()
	return AtomicWriteJSON(path, p)
}
