package main

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// roleWords maps a trailing noun in a target phrase to an ARIA role
var roleWords = map[string]string{
	"button":   "button",
	"link":     "link",
	"checkbox": "checkbox",
	"radio":    "radio",
	"field":    "textbox",
	"input":    "textbox",
	"textbox":  "textbox",
	"textarea": "textbox",
	"dropdown": "combobox",
	"select":   "combobox",
	"combobox": "combobox",
	"heading":  "heading",
	"title":    "heading",
	"tab":      "tab",
	"menu":     "menu",
	"dialog":   "dialog",
	"modal":    "dialog",
	"row":      "row",
	"table":    "table",
	"list":     "list",
	"switch":   "switch",
	"slider":   "slider",
	"image":    "img",
	"icon":     "img",
}

// cssTagForRole narrows a synthesized css selector to an element tag
var cssTagForRole = map[string]string{
	"button":   "button",
	"link":     "a",
	"textbox":  "input",
	"combobox": "select",
}

var quotedPattern = regexp.MustCompile(`"([^"]+)"`)

// Resolver turns target phrases into locators using the strategy ladder:
// role, label, testid, text, css. Hint fields outrank the catalog; the
// catalog outranks derivation. css always resolves, so the ladder never
// comes up empty, and every css pick is reported as selector debt.
type Resolver struct {
	catalog *SelectorCatalog
}

func NewResolver(catalog *SelectorCatalog) *Resolver {
	return &Resolver{catalog: catalog}
}

// Resolve picks the highest-priority resolvable locator for a target phrase.
// The returned debt entry is non-nil exactly when the css strategy was used.
func (r *Resolver) Resolve(journeyID string, stepIndex int, target string, hint *StepHint) (*LocatorSpec, *DebtEntry) {
	ladder := r.CandidateLadder(target, hint)
	if len(ladder) == 0 {
		return nil, nil
	}
	loc := ladder[0]

	var debt *DebtEntry
	if loc.Strategy == StrategyCSS {
		debt = &DebtEntry{
			RecordedAt:      time.Now().UTC(),
			JourneyID:       journeyID,
			StepIndex:       stepIndex,
			Target:          target,
			CSSValue:        loc.Value,
			BetterAvailable: r.catalogHasBetter(target),
		}
	}
	return &loc, debt
}

// CandidateLadder lists every resolvable locator for the target in priority
// order. A hint naming any strategy field replaces the ladder outright.
func (r *Resolver) CandidateLadder(target string, hint *StepHint) []LocatorSpec {
	if forced := hintLocators(hint); len(forced) > 0 {
		return forced
	}

	var out []LocatorSpec
	entry, inCatalog := r.catalog.Lookup(target)

	if inCatalog && entry.Role != "" {
		out = append(out, LocatorSpec{Strategy: StrategyRole, Value: entry.Role, Name: entry.Name})
	} else if role, name, ok := splitRoleWord(target); ok {
		out = append(out, LocatorSpec{Strategy: StrategyRole, Value: role, Name: name})
	}
	if inCatalog && entry.Label != "" {
		out = append(out, LocatorSpec{Strategy: StrategyLabel, Value: entry.Label})
	}
	if inCatalog && entry.TestID != "" {
		out = append(out, LocatorSpec{Strategy: StrategyTestID, Value: entry.TestID})
	}
	if inCatalog && entry.Text != "" {
		out = append(out, LocatorSpec{Strategy: StrategyText, Value: entry.Text})
	} else if q := quotedLiteral(target); q != "" {
		out = append(out, LocatorSpec{Strategy: StrategyText, Value: q})
	}
	if inCatalog && entry.CSS != "" {
		out = append(out, LocatorSpec{Strategy: StrategyCSS, Value: entry.CSS})
	} else {
		out = append(out, LocatorSpec{Strategy: StrategyCSS, Value: synthesizeCSS(target)})
	}

	if hint != nil {
		for i := range out {
			if hint.Name != "" && out[i].Strategy == StrategyRole {
				out[i].Name = hint.Name
			}
			if hint.ExactSet {
				out[i].Exact = hint.Exact
			}
		}
	}
	return out
}

// NextCandidate returns the first ladder entry strictly below the current
// strategy, used when healing a selector failure. ok is false once the
// ladder is exhausted.
func (r *Resolver) NextCandidate(target string, hint *StepHint, current LocatorStrategy) (*LocatorSpec, bool) {
	cur := strategyRank(current)
	for _, cand := range r.CandidateLadder(target, hint) {
		if strategyRank(cand.Strategy) > cur {
			c := cand
			return &c, true
		}
	}
	return nil, false
}

// catalogHasBetter reports whether the catalog knows a non-css strategy for
// the target, which marks the debt entry as avoidable
func (r *Resolver) catalogHasBetter(target string) bool {
	entry, ok := r.catalog.Lookup(target)
	if !ok {
		return false
	}
	return entry.Role != "" || entry.Label != "" || entry.TestID != "" || entry.Text != ""
}

// hintLocators builds the ladder a hint forces, in priority order
func hintLocators(hint *StepHint) []LocatorSpec {
	if hint == nil {
		return nil
	}
	var out []LocatorSpec
	if hint.Role != "" {
		out = append(out, LocatorSpec{Strategy: StrategyRole, Value: hint.Role, Name: hint.Name})
	}
	if hint.Label != "" {
		out = append(out, LocatorSpec{Strategy: StrategyLabel, Value: hint.Label})
	}
	if hint.TestID != "" {
		out = append(out, LocatorSpec{Strategy: StrategyTestID, Value: hint.TestID})
	}
	if hint.Text != "" {
		out = append(out, LocatorSpec{Strategy: StrategyText, Value: hint.Text})
	}
	if hint.CSS != "" {
		out = append(out, LocatorSpec{Strategy: StrategyCSS, Value: hint.CSS})
	}
	if hint.ExactSet {
		for i := range out {
			out[i].Exact = hint.Exact
		}
	}
	return out
}

// splitRoleWord peels a trailing role noun off a target phrase:
// "Submit button" → role=button, name=Submit
func splitRoleWord(target string) (string, string, bool) {
	words := strings.Fields(strings.TrimSpace(target))
	if len(words) == 0 {
		return "", "", false
	}
	role, ok := roleWords[strings.ToLower(words[len(words)-1])]
	if !ok {
		return "", "", false
	}
	name := strings.Join(words[:len(words)-1], " ")
	name = strings.TrimPrefix(name, "the ")
	return role, strings.TrimSpace(name), true
}

// quotedLiteral pulls the first double-quoted run out of a target phrase
func quotedLiteral(target string) string {
	if m := quotedPattern.FindStringSubmatch(target); m != nil {
		return m[1]
	}
	return ""
}

// synthesizeCSS is the last rung of the ladder. It prefers a tag-scoped
// has-text selector when the target names a recognizable role.
func synthesizeCSS(target string) string {
	text := strings.TrimSpace(target)
	if role, name, ok := splitRoleWord(target); ok {
		if tag, okTag := cssTagForRole[role]; okTag {
			if name == "" {
				return tag
			}
			return fmt.Sprintf("%s:has-text(%q)", tag, name)
		}
		if name != "" {
			text = name
		}
	}
	if q := quotedLiteral(target); q != "" {
		text = q
	}
	return fmt.Sprintf(":has-text(%q)", text)
}
