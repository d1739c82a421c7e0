package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ModuleEntry describes one exported flow module
type ModuleEntry struct {
	Scope  string   `json:"scope"`
	File   string   `json:"file"`
	Export string   `json:"export"`
	Params []string `json:"params,omitempty"`
}

// ModuleRegistry records every module the generator has scaffolded so
// journeys in any scope can call flows owned by another
type ModuleRegistry struct {
	Modules map[string]ModuleEntry `json:"modules"`
}

func RegistryPath(modulesDir string) string {
	return filepath.Join(modulesDir, "registry.json")
}

// LoadRegistry reads the registry, treating a missing file as empty
func LoadRegistry(path string) (*ModuleRegistry, error) {
	reg := &ModuleRegistry{Modules: make(map[string]ModuleEntry)}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read module registry: %w", err)
	}
	if err := json.Unmarshal(data, reg); err != nil {
		return nil, fmt.Errorf("invalid module registry %s: %w", path, err)
	}
	if reg.Modules == nil {
		reg.Modules = make(map[string]ModuleEntry)
	}
	return reg, nil
}

func (r *ModuleRegistry) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return AtomicWriteJSON(path, r)
}

// Ensure records a module if absent or stale; reports whether the registry
// changed so callers can skip a no-op write
func (r *ModuleRegistry) Ensure(name string, entry ModuleEntry) bool {
	existing, ok := r.Modules[name]
	if ok && existing.Scope == entry.Scope && existing.File == entry.File &&
		existing.Export == entry.Export && equalStringSlices(existing.Params, entry.Params) {
		return false
	}
	r.Modules[name] = entry
	return true
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Lookup resolves a module call target
func (r *ModuleRegistry) Lookup(name string) (ModuleEntry, bool) {
	entry, ok := r.Modules[name]
	return entry, ok
}
