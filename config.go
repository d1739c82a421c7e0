package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PathsConfig locates journeys and generated artifacts
type PathsConfig struct {
	JourneysDir string `json:"journeysDir,omitempty"`
	TestsDir    string `json:"testsDir,omitempty"`
	ModulesDir  string `json:"modulesDir,omitempty"`
	PolicyPath  string `json:"policyPath,omitempty"`
	CatalogPath string `json:"catalogPath,omitempty"`
}

// RunnerConfig configures the external test execution host.
// Args and Env may contain {{tag}} and {{report}} placeholders, substituted
// per invocation with the journey tag and the run's report file path.
type RunnerConfig struct {
	Command string   `json:"command"`
	Args    []string `json:"args"`
	Env     []string `json:"env,omitempty"`
	Timeout int      `json:"timeout,omitempty"` // seconds per invocation
	Workers int      `json:"workers,omitempty"` // parallel journey pipelines for --all
}

// RunnerDefaults contains default settings for known execution hosts
type RunnerDefaults struct {
	DefaultArgs []string
	DefaultEnv  []string
}

// knownRunners maps runner commands to their defaults
var knownRunners = map[string]RunnerDefaults{
	"npx": {
		DefaultArgs: []string{"playwright", "test", "--grep", "{{tag}}", "--reporter", "json"},
		DefaultEnv:  []string{"PLAYWRIGHT_JSON_OUTPUT_NAME={{report}}"},
	},
	"bunx": {
		DefaultArgs: []string{"playwright", "test", "--grep", "{{tag}}", "--reporter", "json"},
		DefaultEnv:  []string{"PLAYWRIGHT_JSON_OUTPUT_NAME={{report}}"},
	},
}

// AppConfig configures the app under test, started before verification
type AppConfig struct {
	Command      string `json:"command,omitempty"`
	ReadyURL     string `json:"readyUrl,omitempty"`
	ReadyTimeout int    `json:"readyTimeout,omitempty"` // seconds
}

// BrowserConfig configures failure evidence capture
type BrowserConfig struct {
	Enabled        bool   `json:"enabled,omitempty"`
	BaseURL        string `json:"baseUrl,omitempty"`
	ExecutablePath string `json:"executablePath,omitempty"`
	Headless       bool   `json:"headless,omitempty"`
	Timeout        int    `json:"timeout,omitempty"` // seconds per capture
}

// CommitsConfig configures git commit behavior after a passing verify
type CommitsConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Prefix  string `json:"prefix,omitempty"`
}

// AutogenConfig is the main configuration loaded from autogen.json
type AutogenConfig struct {
	Paths   PathsConfig    `json:"paths,omitempty"`
	Runner  RunnerConfig   `json:"runner"`
	App     *AppConfig     `json:"app,omitempty"`
	Browser *BrowserConfig `json:"browser,omitempty"`
	Commits *CommitsConfig `json:"commits,omitempty"`
	Logging *LoggingConfig `json:"logging,omitempty"`
}

// ResolvedConfig is the fully resolved configuration
type ResolvedConfig struct {
	ProjectRoot string
	Config      AutogenConfig
}

// ConfigPath returns the path to autogen.json
func ConfigPath(projectRoot string) string {
	return filepath.Join(projectRoot, "autogen.json")
}

// LoadConfig loads and validates autogen.json
func LoadConfig(projectRoot string) (*ResolvedConfig, error) {
	configPath := ConfigPath(projectRoot)

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("autogen.json not found\n\nRun 'autogen init' to create one")
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg AutogenConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid autogen.json: %w", err)
	}

	// Apply defaults
	applyPathDefaults(&cfg.Paths)
	applyRunnerDefaults(&cfg.Runner)
	if cfg.App != nil && cfg.App.ReadyTimeout <= 0 {
		cfg.App.ReadyTimeout = 30
	}
	if cfg.Browser == nil {
		cfg.Browser = &BrowserConfig{
			Enabled:  false,
			Headless: true,
		}
	}
	if cfg.Browser.Timeout <= 0 {
		cfg.Browser.Timeout = 30
	}
	if cfg.Commits == nil {
		cfg.Commits = &CommitsConfig{
			Enabled: false,
			Prefix:  "test:",
		}
	}
	if cfg.Logging == nil {
		cfg.Logging = DefaultLoggingConfig()
	}

	// Validate required fields
	if err := validateConfig(&cfg); err != nil {
		return nil, err
	}

	return &ResolvedConfig{
		ProjectRoot: projectRoot,
		Config:      cfg,
	}, nil
}

// applyPathDefaults fills in unset path fields
func applyPathDefaults(p *PathsConfig) {
	if p.JourneysDir == "" {
		p.JourneysDir = "journeys"
	}
	if p.TestsDir == "" {
		p.TestsDir = "tests/journeys"
	}
	if p.ModulesDir == "" {
		p.ModulesDir = "tests/modules"
	}
	if p.PolicyPath == "" {
		p.PolicyPath = "policy.json"
	}
	if p.CatalogPath == "" {
		p.CatalogPath = "catalog.json"
	}
}

// applyRunnerDefaults sets Args/Env based on known runners
func applyRunnerDefaults(r *RunnerConfig) {
	if r.Timeout <= 0 {
		r.Timeout = 600 // 10 minutes per host invocation
	}
	if r.Workers <= 0 {
		r.Workers = 4
	}

	defaults, ok := knownRunners[r.Command]
	if !ok {
		return
	}

	// Apply default args only when Args is nil (JSON key absent).
	// "args": [] (explicit empty) preserves user intent — no defaults applied.
	if r.Args == nil && len(defaults.DefaultArgs) > 0 {
		r.Args = append([]string{}, defaults.DefaultArgs...)
	}
	if r.Env == nil && len(defaults.DefaultEnv) > 0 {
		r.Env = append([]string{}, defaults.DefaultEnv...)
	}
}

// validateConfig validates the configuration
func validateConfig(cfg *AutogenConfig) error {
	if cfg.Runner.Command == "" {
		return fmt.Errorf("runner.command is required")
	}
	hasTag := false
	for _, a := range cfg.Runner.Args {
		if strings.Contains(a, "{{tag}}") {
			hasTag = true
		}
	}
	if !hasTag {
		return fmt.Errorf("runner.args must contain a {{tag}} placeholder so a single journey can be selected")
	}
	if cfg.App != nil && cfg.App.Command != "" && cfg.App.ReadyURL == "" {
		return fmt.Errorf("app.readyUrl is required when app.command is set")
	}
	if cfg.Browser != nil && cfg.Browser.Enabled && cfg.Browser.BaseURL == "" {
		return fmt.Errorf("browser.baseUrl is required when browser.enabled is true")
	}
	return nil
}

// findGitRoot finds the git root from a starting directory
func findGitRoot(start string) string {
	dir := start
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return start
		}
		dir = parent
	}
}

// GetProjectRoot returns the project root (git root or cwd)
func GetProjectRoot() string {
	cwd, _ := os.Getwd()
	return findGitRoot(cwd)
}

// isCommandAvailable checks if a command is available in PATH
func isCommandAvailable(cmd string) bool {
	_, err := exec.LookPath(cmd)
	return err == nil
}

// WriteDefaultConfig writes a starter autogen.json. runnerCommand comes
// from project detection; app is nil when the user skipped the prompt.
func WriteDefaultConfig(projectRoot, runnerCommand string, app *AppConfig) error {
	if runnerCommand == "" {
		runnerCommand = "npx"
	}

	cfg := AutogenConfig{
		Paths: PathsConfig{
			JourneysDir: "journeys",
			TestsDir:    "tests/journeys",
			ModulesDir:  "tests/modules",
			PolicyPath:  "policy.json",
			CatalogPath: "catalog.json",
		},
		Runner: RunnerConfig{
			Command: runnerCommand,
			Timeout: 600,
			Workers: 4,
		},
		App: app,
		Browser: &BrowserConfig{
			Enabled:  false,
			BaseURL:  "http://localhost:3000",
			Headless: true,
		},
		Commits: &CommitsConfig{
			Enabled: false,
			Prefix:  "test:",
		},
	}
	applyRunnerDefaults(&cfg.Runner)

	return AtomicWriteJSON(ConfigPath(projectRoot), cfg)
}

// extractBaseCommand returns the first word of a shell command string.
// e.g. "bun run dev" → "bun", "./scripts/serve.sh arg" → "./scripts/serve.sh"
func extractBaseCommand(cmdStr string) string {
	fields := strings.Fields(cmdStr)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CheckReadiness validates that the project is ready for pipeline runs.
// Returns a list of issues. Empty list means ready.
func CheckReadiness(cfg *ResolvedConfig) []string {
	var issues []string

	if !isCommandAvailable(cfg.Config.Runner.Command) {
		issues = append(issues, fmt.Sprintf("runner: '%s' not found in PATH", cfg.Config.Runner.Command))
	}

	journeysDir := filepath.Join(cfg.ProjectRoot, cfg.Config.Paths.JourneysDir)
	if !fileExists(journeysDir) {
		issues = append(issues, fmt.Sprintf("journeys directory not found: %s (run 'autogen init')", cfg.Config.Paths.JourneysDir))
	}

	if !fileExists(filepath.Join(cfg.ProjectRoot, cfg.Config.Paths.PolicyPath)) {
		issues = append(issues, fmt.Sprintf("policy file not found: %s (run 'autogen init')", cfg.Config.Paths.PolicyPath))
	}

	if cfg.Config.App != nil && cfg.Config.App.Command != "" {
		base := extractBaseCommand(cfg.Config.App.Command)
		if base != "" && !isCommandAvailable(base) {
			issues = append(issues, fmt.Sprintf("app: '%s' not found in PATH (from: %s)", base, cfg.Config.App.Command))
		}
	}

	if cfg.Config.Browser != nil && cfg.Config.Browser.Enabled {
		if cfg.Config.Browser.ExecutablePath != "" && !fileExists(cfg.Config.Browser.ExecutablePath) {
			issues = append(issues, fmt.Sprintf("browser.executablePath not found: %s", cfg.Config.Browser.ExecutablePath))
		}
	}

	return issues
}
