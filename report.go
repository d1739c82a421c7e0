package main

import (
	"fmt"
	"strings"
	"time"
)

// ReportStatus represents the status of a report item
type ReportStatus string

const (
	StatusPass ReportStatus = "pass"
	StatusFail ReportStatus = "fail"
	StatusWarn ReportStatus = "warn"
)

// ReportItem is a single line in a console report
type ReportItem struct {
	Status ReportStatus
	Name   string
	Detail string
}

// ConsoleReport collects per-journey outcomes for end-of-run display
type ConsoleReport struct {
	Title    string
	Items    []ReportItem
	Passed   int
	Failed   int
	Warnings int
}

// NewConsoleReport creates a report with the given title
func NewConsoleReport(title string) *ConsoleReport {
	return &ConsoleReport{Title: title}
}

// AddPass adds a passing item
func (r *ConsoleReport) AddPass(name, detail string) {
	r.Items = append(r.Items, ReportItem{Status: StatusPass, Name: name, Detail: detail})
}

// AddFail adds a failing item
func (r *ConsoleReport) AddFail(name, detail string) {
	r.Items = append(r.Items, ReportItem{Status: StatusFail, Name: name, Detail: detail})
}

// AddWarn adds a warning item
func (r *ConsoleReport) AddWarn(name, detail string) {
	r.Items = append(r.Items, ReportItem{Status: StatusWarn, Name: name, Detail: detail})
}

// Finalize computes summary counts
func (r *ConsoleReport) Finalize() {
	r.Passed, r.Failed, r.Warnings = 0, 0, 0
	for _, item := range r.Items {
		switch item.Status {
		case StatusPass:
			r.Passed++
		case StatusFail:
			r.Failed++
		case StatusWarn:
			r.Warnings++
		}
	}
}

// AllPassed returns true when no item failed
func (r *ConsoleReport) AllPassed() bool {
	for _, item := range r.Items {
		if item.Status == StatusFail {
			return false
		}
	}
	return true
}

// FormatForConsole renders the report for terminal output
func (r *ConsoleReport) FormatForConsole() string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")
	b.WriteString(strings.ToUpper(r.Title) + "\n")
	b.WriteString(strings.Repeat("=", 60) + "\n")

	for _, item := range r.Items {
		var glyph string
		switch item.Status {
		case StatusPass:
			glyph = "✓"
		case StatusFail:
			glyph = "✗"
		case StatusWarn:
			glyph = "⚠"
		}
		b.WriteString(fmt.Sprintf("%s %s\n", glyph, item.Name))
		if item.Detail != "" {
			for _, line := range strings.Split(item.Detail, "\n") {
				b.WriteString("    " + line + "\n")
			}
		}
	}

	b.WriteString(strings.Repeat("-", 60) + "\n")
	b.WriteString(fmt.Sprintf("%d passed, %d failed, %d warnings\n", r.Passed, r.Failed, r.Warnings))
	b.WriteString(strings.Repeat("=", 60) + "\n")

	return b.String()
}

// appendPipelineItem turns one pipeline result into a report line
func appendPipelineItem(report *ConsoleReport, res *PipelineResult) {
	name := res.JourneyID
	if res.Err != nil {
		report.AddFail(name, res.Err.Error())
		return
	}

	if v := res.FinalVerification(); v != nil {
		if v.Passed {
			detail := verificationDetail(v)
			if res.Heal != nil && res.Heal.Healed() {
				detail = fmt.Sprintf("healed after %d attempt(s); %s", res.Heal.Attempts, detail)
			}
			report.AddPass(name, detail)
		} else {
			report.AddFail(name, verificationDetail(v))
		}
		return
	}

	if res.Validation != nil {
		errs, warns := res.Validation.Counts()
		switch {
		case errs > 0:
			report.AddFail(name, validationDetail(res.Validation))
		case warns > 0:
			report.AddWarn(name, validationDetail(res.Validation))
		default:
			report.AddPass(name, fmt.Sprintf("%d files validated", len(res.Validation.Files)))
		}
		return
	}

	if res.Generation != nil {
		report.AddPass(name, generationDetail(res.Generation))
		return
	}
	report.AddPass(name, "")
}

// generationDetail summarizes what generation touched
func generationDetail(gen *GenerateResult) string {
	counts := make(map[string]int)
	for _, a := range gen.Artifacts {
		counts[a.Action]++
	}
	var parts []string
	for _, action := range []string{"created", "updated", "unchanged"} {
		if counts[action] > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", counts[action], action))
		}
	}
	if len(parts) == 0 {
		return "no artifacts"
	}
	return strings.Join(parts, ", ")
}

// validationDetail summarizes validation issues for a report item
func validationDetail(result *ValidationResult) string {
	errs, warns := result.Counts()
	if errs == 0 && warns == 0 {
		return ""
	}

	var lines []string
	shown := 0
	for _, issue := range result.Issues {
		if shown >= 5 {
			lines = append(lines, fmt.Sprintf("... and %d more", len(result.Issues)-shown))
			break
		}
		lines = append(lines, fmt.Sprintf("%s:%d [%s] %s", issue.File, issue.Line, issue.Check, issue.Message))
		shown++
	}
	return strings.Join(lines, "\n")
}

// verificationDetail summarizes a verification outcome for a report item
func verificationDetail(result *VerificationResult) string {
	if result.Passed {
		return fmt.Sprintf("passed in %s", FormatDuration(time.Duration(result.DurationMs)*time.Millisecond))
	}
	if result.Failure == nil {
		return "failed"
	}
	return fmt.Sprintf("[%s] %s", result.Failure.Category, result.Failure.Message)
}
