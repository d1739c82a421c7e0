package main

import (
	"os"
	"path/filepath"
	"testing"
)

func writeProjectFile(t *testing.T, root, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(root, name), []byte(content), 0o644); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDetectRunnerNoProject(t *testing.T) {
	det := detectRunner(t.TempDir())
	if det.PackageManager != "none" || det.RunnerName != "npx" {
		t.Errorf("unexpected detection: %+v", det)
	}
	if len(det.Notes) == 0 {
		t.Error("expected a note about the missing package.json")
	}
}

func TestDetectRunnerInvalidPackageJSON(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "package.json", "{broken")

	det := detectRunner(root)
	if det.PackageManager != "none" {
		t.Errorf("expected detection to stop on invalid JSON, got %+v", det)
	}
	if len(det.Notes) == 0 {
		t.Error("expected a note about the invalid package.json")
	}
}

func TestDetectRunnerNpmWithPlaywright(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "package.json",
		`{"devDependencies":{"@playwright/test":"^1.48.0","typescript":"^5.6.0"}}`)

	det := detectRunner(root)
	if det.PackageManager != "npm" || det.RunnerName != "npx" {
		t.Errorf("unexpected detection: %+v", det)
	}
	if !det.HasPlaywright || !det.HasTypeScript {
		t.Errorf("expected playwright and typescript, got %+v", det)
	}
	if len(det.Notes) != 0 {
		t.Errorf("expected no notes for a ready project, got %v", det.Notes)
	}
}

func TestDetectRunnerBunLockfile(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "package.json", `{"dependencies":{"@playwright/test":"1.48.0"}}`)
	writeProjectFile(t, root, "bun.lockb", "")

	det := detectRunner(root)
	if det.PackageManager != "bun" || det.RunnerName != "bunx" {
		t.Errorf("expected the bun runner, got %+v", det)
	}
}

func TestDetectRunnerPnpmAndYarn(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "package.json", `{}`)
	writeProjectFile(t, root, "pnpm-lock.yaml", "")

	det := detectRunner(root)
	if det.PackageManager != "pnpm" || det.RunnerName != "npx" {
		t.Errorf("expected pnpm over npx, got %+v", det)
	}

	root = t.TempDir()
	writeProjectFile(t, root, "package.json", `{}`)
	writeProjectFile(t, root, "yarn.lock", "")

	det = detectRunner(root)
	if det.PackageManager != "yarn" {
		t.Errorf("expected yarn, got %+v", det)
	}
}

func TestDetectRunnerTsconfigCountsAsTypeScript(t *testing.T) {
	root := t.TempDir()
	writeProjectFile(t, root, "package.json", `{"devDependencies":{"@playwright/test":"1.48.0"}}`)
	writeProjectFile(t, root, "tsconfig.json", `{}`)

	det := detectRunner(root)
	if !det.HasTypeScript {
		t.Error("expected tsconfig.json to count as a TypeScript setup")
	}

	root = t.TempDir()
	writeProjectFile(t, root, "package.json", `{}`)
	det = detectRunner(root)
	if det.HasPlaywright || det.HasTypeScript {
		t.Errorf("expected nothing detected in a bare project, got %+v", det)
	}
	if len(det.Notes) != 2 {
		t.Errorf("expected notes for playwright and typescript, got %v", det.Notes)
	}
}
