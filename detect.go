package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// RunnerDetection is what project inspection found, used by init to pick
// runner defaults and by doctor to explain readiness problems
type RunnerDetection struct {
	PackageManager string // npm | pnpm | yarn | bun | none
	RunnerName     string // key into knownRunners
	HasPlaywright  bool
	HasTypeScript  bool
	Notes          []string
}

// detectRunner inspects the project for a JS toolchain and the test
// host. Lockfiles decide the package manager; bun maps to the bunx
// runner, everything else to npx.
func detectRunner(root string) RunnerDetection {
	det := RunnerDetection{PackageManager: "none", RunnerName: "npx"}

	pkgPath := filepath.Join(root, "package.json")
	data, err := os.ReadFile(pkgPath)
	if err != nil {
		det.Notes = append(det.Notes, "no package.json found; the verify runner needs a JS project")
		return det
	}

	var pkg struct {
		Dependencies    map[string]string `json:"dependencies"`
		DevDependencies map[string]string `json:"devDependencies"`
	}
	if err := json.Unmarshal(data, &pkg); err != nil {
		det.Notes = append(det.Notes, fmt.Sprintf("package.json is not valid JSON: %v", err))
		return det
	}

	switch {
	case fileExists(filepath.Join(root, "bun.lock")) || fileExists(filepath.Join(root, "bun.lockb")):
		det.PackageManager = "bun"
		det.RunnerName = "bunx"
	case fileExists(filepath.Join(root, "pnpm-lock.yaml")):
		det.PackageManager = "pnpm"
	case fileExists(filepath.Join(root, "yarn.lock")):
		det.PackageManager = "yarn"
	default:
		det.PackageManager = "npm"
	}

	hasDep := func(name string) bool {
		_, inDeps := pkg.Dependencies[name]
		_, inDev := pkg.DevDependencies[name]
		return inDeps || inDev
	}

	det.HasPlaywright = hasDep("@playwright/test")
	if !det.HasPlaywright {
		det.Notes = append(det.Notes, "@playwright/test is not a dependency; install it before verify")
	}

	det.HasTypeScript = hasDep("typescript") || fileExists(filepath.Join(root, "tsconfig.json"))
	if !det.HasTypeScript {
		det.Notes = append(det.Notes, "no TypeScript setup detected; generated specs are .ts files")
	}

	return det
}
