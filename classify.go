package main

import "strings"

// FailureCategory buckets a runtime failure by what kind of fix could
// address it
type FailureCategory string

const (
	FailAuth        FailureCategory = "auth"
	FailSelector    FailureCategory = "selector"
	FailNavigation  FailureCategory = "navigation"
	FailData        FailureCategory = "data"
	FailTiming      FailureCategory = "timing"
	FailEnvironment FailureCategory = "environment"
)

// classifyRules are evaluated in order; the first matching marker decides.
// auth outranks selector because an expired session fails every locator on
// the page, and selector outranks timing because locator waits expire with
// "timeout" in the message.
var classifyRules = []struct {
	category FailureCategory
	markers  []string
}{
	{FailAuth, []string{
		"401", "403", "unauthorized", "forbidden", "session expired",
		"authentication", "not signed in", "redirected to /login",
	}},
	{FailSelector, []string{
		"strict mode violation", "waiting for locator", "waiting for getby",
		"resolved to 0 elements", "element is not visible", "element not found",
		"getbyrole", "getbylabel", "getbytestid", "getbytext", "locator(",
		"intercepts pointer events",
	}},
	{FailNavigation, []string{
		"net::err", "404", "page not found", "navigation", "goto",
		"redirect", "waitforloadstate", "load state",
	}},
	{FailData, []string{
		"duplicate", "already exists", "conflict", "409", "constraint",
		"validation error", "invalid input", "not implemented",
		"no such record", "missing fixture",
	}},
	{FailTiming, []string{
		"timeout", "exceeded", "detached", "not stable", "still animating",
		"race", "waitfor",
	}},
	{FailEnvironment, []string{
		"econnrefused", "connection refused", "browser has been closed",
		"crash", "out of memory", "killed", "runner timeout",
	}},
}

// ClassifyFailure maps a failure message to its category. Unrecognized
// failures are environment: nothing the healer should touch.
func ClassifyFailure(message string) FailureCategory {
	lower := strings.ToLower(message)
	for _, rule := range classifyRules {
		for _, marker := range rule.markers {
			if strings.Contains(lower, marker) {
				return rule.category
			}
		}
	}
	return FailEnvironment
}
