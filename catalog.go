package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CatalogEntry describes the known stable ways to locate one UI target
type CatalogEntry struct {
	Role   string `json:"role,omitempty"`
	Name   string `json:"name,omitempty"`
	Label  string `json:"label,omitempty"`
	TestID string `json:"testId,omitempty"`
	Text   string `json:"text,omitempty"`
	CSS    string `json:"css,omitempty"`
}

// SelectorCatalog is the repo-local index of known selectors, keyed by
// normalized target phrase. Read-only during a pipeline run.
type SelectorCatalog struct {
	Entries map[string]CatalogEntry `json:"entries"`
}

// LoadCatalog loads the selector catalog. A missing file yields an empty
// catalog; resolution then relies on hints and derivable strategies.
func LoadCatalog(path string) (*SelectorCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &SelectorCatalog{Entries: map[string]CatalogEntry{}}, nil
		}
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}

	var c SelectorCatalog
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("invalid catalog file %s: %w", path, err)
	}
	if c.Entries == nil {
		c.Entries = map[string]CatalogEntry{}
	}

	// Keys are stored normalized; normalize again so hand-edited files
	// with articles or mixed case still match.
	normalized := make(map[string]CatalogEntry, len(c.Entries))
	for k, v := range c.Entries {
		normalized[normalizeTarget(k)] = v
	}
	c.Entries = normalized

	return &c, nil
}

// Lookup finds the catalog entry for a target phrase
func (c *SelectorCatalog) Lookup(target string) (CatalogEntry, bool) {
	e, ok := c.Entries[normalizeTarget(target)]
	return e, ok
}

// normalizeTarget canonicalizes a target phrase for catalog lookup:
// lowercase, trimmed, leading article removed.
func normalizeTarget(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, art := range []string{"the ", "a ", "an "} {
		if strings.HasPrefix(s, art) {
			s = strings.TrimPrefix(s, art)
			break
		}
	}
	return strings.TrimSpace(s)
}

// WriteDefaultCatalog writes a catalog with a commented-by-example entry
func WriteDefaultCatalog(path string) error {
	c := SelectorCatalog{
		Entries: map[string]CatalogEntry{
			"submit button": {Role: "button", Name: "Submit"},
			"email field":   {Label: "Email", TestID: "email-input"},
		},
	}
	return AtomicWriteJSON(path, c)
}

// DebtEntry records one css-strategy fallback. Appended to
// .autogen/debt.jsonl after a pipeline run; aggregated out-of-band by
// 'autogen debt'.
type DebtEntry struct {
	RecordedAt      time.Time `json:"ts"`
	JourneyID       string    `json:"journey"`
	StepIndex       int       `json:"step"`
	Target          string    `json:"target"`
	CSSValue        string    `json:"css"`
	BetterAvailable bool      `json:"betterAvailable,omitempty"`
}

// DebtLogPath returns the append-only debt log path
func DebtLogPath(projectRoot string) string {
	return filepath.Join(projectRoot, ".autogen", "debt.jsonl")
}

// AppendDebtEntries appends debt entries to the shared debt log
func AppendDebtEntries(projectRoot string, entries []DebtEntry) error {
	if len(entries) == 0 {
		return nil
	}

	path := DebtLogPath(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create debt log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open debt log: %w", err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("failed to append debt entry: %w", err)
		}
	}
	return nil
}

// ReadDebtEntries reads all debt entries, skipping malformed lines
func ReadDebtEntries(projectRoot string) ([]DebtEntry, error) {
	f, err := os.Open(DebtLogPath(projectRoot))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open debt log: %w", err)
	}
	defer f.Close()

	var entries []DebtEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		var e DebtEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
