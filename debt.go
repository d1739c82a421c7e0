package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// DebtReport aggregates the append-only debt log into one view per
// journey, with duplicates collapsed to the latest sighting
type DebtReport struct {
	GeneratedAt time.Time     `json:"generatedAt"`
	Total       int           `json:"total"`
	Resolvable  int           `json:"resolvable"`
	Journeys    []JourneyDebt `json:"journeys"`
}

// JourneyDebt is one journey's outstanding css fallbacks
type JourneyDebt struct {
	JourneyID string      `json:"journey"`
	Entries   []DebtEntry `json:"entries"`
}

// DebtReportPath returns where the aggregated report is written
func DebtReportPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".autogen", "debt-report.json")
}

// BuildDebtReport reads the debt log and re-checks every entry against
// the current catalog, so debt becomes resolvable the moment someone
// catalogs a better selector
func BuildDebtReport(projectRoot string, catalog *SelectorCatalog) (*DebtReport, error) {
	entries, err := ReadDebtEntries(projectRoot)
	if err != nil {
		return nil, err
	}

	// Latest entry wins per journey/step/target
	latest := make(map[string]DebtEntry)
	var order []string
	for _, entry := range entries {
		key := fmt.Sprintf("%s\x00%d\x00%s", entry.JourneyID, entry.StepIndex, entry.Target)
		if _, seen := latest[key]; !seen {
			order = append(order, key)
		}
		latest[key] = entry
	}

	report := &DebtReport{GeneratedAt: time.Now().UTC()}
	byJourney := make(map[string][]DebtEntry)
	for _, key := range order {
		entry := latest[key]
		entry.BetterAvailable = catalogHasStableEntry(catalog, entry.Target)
		byJourney[entry.JourneyID] = append(byJourney[entry.JourneyID], entry)
		report.Total++
		if entry.BetterAvailable {
			report.Resolvable++
		}
	}

	ids := make([]string, 0, len(byJourney))
	for id := range byJourney {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		group := byJourney[id]
		sort.Slice(group, func(i, j int) bool { return group[i].StepIndex < group[j].StepIndex })
		report.Journeys = append(report.Journeys, JourneyDebt{JourneyID: id, Entries: group})
	}

	return report, nil
}

// catalogHasStableEntry reports whether the catalog offers a non-css
// strategy for the target
func catalogHasStableEntry(catalog *SelectorCatalog, target string) bool {
	entry, ok := catalog.Lookup(target)
	if !ok {
		return false
	}
	return entry.Role != "" || entry.Label != "" || entry.TestID != "" || entry.Text != ""
}

// WriteDebtReport persists the aggregated report
func WriteDebtReport(projectRoot string, report *DebtReport) error {
	return AtomicWriteJSON(DebtReportPath(projectRoot), report)
}

// FormatDebtReport renders the report for terminal output
func FormatDebtReport(report *DebtReport) string {
	var b strings.Builder

	if report.Total == 0 {
		b.WriteString("No selector debt recorded.\n")
		return b.String()
	}

	b.WriteString(fmt.Sprintf("Selector debt: %d entries (%d resolvable from catalog)\n", report.Total, report.Resolvable))
	for _, journey := range report.Journeys {
		b.WriteString(fmt.Sprintf("\n%s\n", journey.JourneyID))
		for _, entry := range journey.Entries {
			marker := " "
			if entry.BetterAvailable {
				marker = "*"
			}
			b.WriteString(fmt.Sprintf("  %s step %d: %q → %s\n", marker, entry.StepIndex+1, entry.Target, entry.CSSValue))
		}
	}
	if report.Resolvable > 0 {
		b.WriteString("\n* catalog now has a stable selector for this target; regenerate to clear\n")
	}
	return b.String()
}
