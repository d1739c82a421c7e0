package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// IRPrimitive is the closed test-intent vocabulary. Every consumer switches
// exhaustively; an unknown primitive is an error, not a silent skip.
type IRPrimitive string

const (
	PrimNavigate      IRPrimitive = "navigate"
	PrimClick         IRPrimitive = "click"
	PrimFill          IRPrimitive = "fill"
	PrimSelect        IRPrimitive = "select"
	PrimAssertVisible IRPrimitive = "assert-visible"
	PrimAssertText    IRPrimitive = "assert-text"
	PrimWaitForState  IRPrimitive = "wait-for-state"
	PrimModuleCall    IRPrimitive = "custom-module-call"
)

// knownPrimitives covers the full closed set
var knownPrimitives = map[IRPrimitive]bool{
	PrimNavigate:      true,
	PrimClick:         true,
	PrimFill:          true,
	PrimSelect:        true,
	PrimAssertVisible: true,
	PrimAssertText:    true,
	PrimWaitForState:  true,
	PrimModuleCall:    true,
}

// ValidPrimitive reports whether p is in the closed set
func ValidPrimitive(p IRPrimitive) bool {
	return knownPrimitives[p]
}

// LocatorStrategy identifies how a UI target is found
type LocatorStrategy string

const (
	StrategyRole   LocatorStrategy = "role"
	StrategyLabel  LocatorStrategy = "label"
	StrategyTestID LocatorStrategy = "testid"
	StrategyText   LocatorStrategy = "text"
	StrategyCSS    LocatorStrategy = "css"
)

// strategyPriority orders strategies from most to least semantic. css is
// the last resort and always records debt.
var strategyPriority = []LocatorStrategy{
	StrategyRole,
	StrategyLabel,
	StrategyTestID,
	StrategyText,
	StrategyCSS,
}

// strategyRank returns the priority index, or -1 for unknown strategies
func strategyRank(s LocatorStrategy) int {
	for i, p := range strategyPriority {
		if p == s {
			return i
		}
	}
	return -1
}

// LocatorSpec describes how to find a UI target
type LocatorSpec struct {
	Strategy LocatorStrategy `json:"strategy"`
	Value    string          `json:"value"`
	Name     string          `json:"name,omitempty"`
	Exact    bool            `json:"exact,omitempty"`
}

// ValueKind tags a ValueSpec
type ValueKind string

const (
	ValueLiteral  ValueKind = "literal"
	ValueVariable ValueKind = "variable"
	ValueTemplate ValueKind = "template"
)

// ValueSpec is the tagged value of a fill/select/assert step. literal is
// inline; variable references a run-scoped generated value; template
// contains {{runId}} / {{unique:<base>}} placeholders resolved at
// generation time.
type ValueSpec struct {
	Kind ValueKind `json:"kind"`
	Raw  string    `json:"raw"`
}

// IRStep is one mapped step. Target keeps the element phrase the locator
// was derived from so later passes can re-resolve it.
type IRStep struct {
	ACID           string       `json:"acceptanceCriterionId"`
	Primitive      IRPrimitive  `json:"primitive"`
	Target         string       `json:"target,omitempty"`
	Locator        *LocatorSpec `json:"locator,omitempty"`
	Value          *ValueSpec   `json:"value,omitempty"`
	SourceStepText string       `json:"sourceStepText"`
	StepIndex      int          `json:"stepIndex"`
}

// IRJourney is the full derived representation, rebuilt each run
type IRJourney struct {
	JourneyID string   `json:"journeyId"`
	Title     string   `json:"title"`
	Tier      string   `json:"tier"`
	Scope     string   `json:"scope"`
	EntryPath string   `json:"entryPath,omitempty"`
	RunID     string   `json:"runId"`
	Steps     []IRStep `json:"steps"`
}

// BuildIR maps every step of a journey into the derived representation.
// The first unmappable step aborts the build; css-fallback debt entries
// are returned for the caller to record.
func BuildIR(journey *Journey, policy *Policy, catalog *SelectorCatalog, runID string) (*IRJourney, []DebtEntry, error) {
	mapper := NewMapper(journey.ID, policy, catalog)

	ir := &IRJourney{
		JourneyID: journey.ID,
		Title:     journey.Title,
		Tier:      journey.Tier,
		Scope:     journey.Scope,
		EntryPath: journey.EntryPath,
		RunID:     runID,
	}

	var debts []DebtEntry
	for _, step := range journey.Steps {
		irStep, stepDebts, err := mapper.MapStep(step)
		if err != nil {
			return nil, nil, err
		}
		ir.Steps = append(ir.Steps, irStep)
		debts = append(debts, stepDebts...)
	}
	return ir, debts, nil
}

// MarshalIR serializes an IRJourney for debugging and caching
func MarshalIR(ir *IRJourney) ([]byte, error) {
	data, err := json.MarshalIndent(ir, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal IR: %w", err)
	}
	return append(data, '\n'), nil
}

// UnmarshalIR deserializes an IRJourney and checks its primitives are known
func UnmarshalIR(data []byte) (*IRJourney, error) {
	var ir IRJourney
	if err := json.Unmarshal(data, &ir); err != nil {
		return nil, fmt.Errorf("failed to unmarshal IR: %w", err)
	}
	for i, s := range ir.Steps {
		if !ValidPrimitive(s.Primitive) {
			return nil, fmt.Errorf("IR steps[%d]: unknown primitive %q", i, s.Primitive)
		}
		if s.Locator != nil && strategyRank(s.Locator.Strategy) < 0 {
			return nil, fmt.Errorf("IR steps[%d]: unknown locator strategy %q", i, s.Locator.Strategy)
		}
	}
	return &ir, nil
}

// SaveIR writes the IR to a run directory for inspection
func SaveIR(ir *IRJourney, path string) error {
	data, err := MarshalIR(ir)
	if err != nil {
		return err
	}
	return AtomicWriteFile(path, data)
}

// LoadIR reads a previously saved IR
func LoadIR(path string) (*IRJourney, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read IR: %w", err)
	}
	return UnmarshalIR(data)
}

// IRFingerprint keys the IR cache on everything mapping depends on: the
// journey text, the policy, and the catalog. Any change invalidates.
func IRFingerprint(journeyRaw, policyRaw, catalogRaw []byte) string {
	h := sha256.New()
	h.Write(journeyRaw)
	h.Write([]byte{0})
	h.Write(policyRaw)
	h.Write([]byte{0})
	h.Write(catalogRaw)
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// irCacheDir returns the IR cache directory
func irCacheDir(projectRoot string) string {
	return filepath.Join(projectRoot, ".autogen", "cache", "ir")
}

// LoadCachedIR returns a cached IR for the fingerprint, if present. The
// cached RunID belongs to the run that built it, so callers must stamp
// their own.
func LoadCachedIR(projectRoot, journeyID, fingerprint string) (*IRJourney, bool) {
	path := filepath.Join(irCacheDir(projectRoot), fmt.Sprintf("%s-%s.json", journeyID, fingerprint))
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false
	}
	ir, err := UnmarshalIR(data)
	if err != nil {
		return nil, false
	}
	return ir, true
}

// SaveCachedIR stores an IR under its fingerprint, replacing any older
// cache entries for the same journey.
func SaveCachedIR(projectRoot, journeyID, fingerprint string, ir *IRJourney) {
	dir := irCacheDir(projectRoot)

	// Drop stale entries for this journey; the cache holds one IR per journey
	if entries, err := os.ReadDir(dir); err == nil {
		prefix := journeyID + "-"
		for _, e := range entries {
			if !e.IsDir() && len(e.Name()) > len(prefix) && e.Name()[:len(prefix)] == prefix {
				os.Remove(filepath.Join(dir, e.Name()))
			}
		}
	}

	data, err := MarshalIR(ir)
	if err != nil {
		return
	}
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.json", journeyID, fingerprint))
	// Cache writes are best-effort; mapping is cheap to redo
	_ = AtomicWriteFile(path, data)
}
