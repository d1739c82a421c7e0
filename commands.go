package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
)

func checkRunnerAvailable(cfg *ResolvedConfig) {
	if !isCommandAvailable(cfg.Config.Runner.Command) {
		fmt.Fprintf(os.Stderr, "Error: runner command '%s' not found in PATH\n", cfg.Config.Runner.Command)
		fmt.Fprintln(os.Stderr, "Install it or update runner.command in autogen.json.")
		os.Exit(1)
	}
}

func checkGitAvailable() {
	if !isCommandAvailable("git") {
		fmt.Fprintln(os.Stderr, "Error: git not found in PATH")
		fmt.Fprintln(os.Stderr, "Git is required while commits.enabled is true.")
		os.Exit(1)
	}
}

// promptAppConfig prompts for the app-under-test start command and ready URL.
// Returns nil if the user skips. reader is accepted as a parameter so tests
// can inject a bufio.Reader over a controlled input.
func promptAppConfig(reader *bufio.Reader) *AppConfig {
	fmt.Println("\nApp under test (started before verification, empty to skip):")
	fmt.Print("  Start command (e.g. npm run dev, mix phx.server): ")
	startCmd, _ := reader.ReadString('\n')
	startCmd = strings.TrimSpace(startCmd)
	if startCmd == "" {
		return nil
	}
	fmt.Print("  Ready URL [http://localhost:3000]: ")
	readyURL, _ := reader.ReadString('\n')
	readyURL = strings.TrimSpace(readyURL)
	if readyURL == "" {
		readyURL = "http://localhost:3000"
	}
	if !strings.HasPrefix(readyURL, "http://") && !strings.HasPrefix(readyURL, "https://") {
		readyURL = "http://" + readyURL
	}
	return &AppConfig{Command: startCmd, ReadyURL: readyURL, ReadyTimeout: 30}
}

func cmdInit(args []string) {
	force := false
	for _, arg := range args {
		if arg == "-f" || arg == "--force" {
			force = true
		}
	}

	projectRoot := GetProjectRoot()
	configPath := ConfigPath(projectRoot)
	autogenDir := filepath.Join(projectRoot, ".autogen")

	// Check if already initialized
	if fileExists(configPath) && !force {
		fmt.Fprintf(os.Stderr, "autogen.json already exists at %s\n", configPath)
		fmt.Fprintln(os.Stderr, "Use --force to overwrite.")
		os.Exit(1)
	}

	// Detect the JS toolchain so the runner command starts out right
	detection := detectRunner(projectRoot)
	fmt.Printf("Package manager: %s\n", detection.PackageManager)
	if detection.HasPlaywright {
		fmt.Println("Found @playwright/test")
	}
	for _, note := range detection.Notes {
		fmt.Printf("  Note: %s\n", note)
	}

	// Prompt for the app under test
	reader := bufio.NewReader(os.Stdin)
	appConfig := promptAppConfig(reader)

	// Create autogen.json
	if err := WriteDefaultConfig(projectRoot, detection.RunnerName, appConfig); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}

	// Reload for resolved path defaults
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load written config: %v\n", err)
		os.Exit(1)
	}

	journeysDir := filepath.Join(projectRoot, cfg.Config.Paths.JourneysDir)
	dirs := []string{
		autogenDir,
		journeysDir,
		filepath.Join(projectRoot, cfg.Config.Paths.TestsDir),
		filepath.Join(projectRoot, cfg.Config.Paths.ModulesDir),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to create %s: %v\n", dir, err)
			os.Exit(1)
		}
	}

	// Policy and catalog starting points
	policyPath := filepath.Join(projectRoot, cfg.Config.Paths.PolicyPath)
	if !fileExists(policyPath) || force {
		if err := WriteDefaultPolicy(policyPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write policy: %v\n", err)
			os.Exit(1)
		}
	}
	catalogPath := filepath.Join(projectRoot, cfg.Config.Paths.CatalogPath)
	if !fileExists(catalogPath) || force {
		if err := WriteDefaultCatalog(catalogPath); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write catalog: %v\n", err)
			os.Exit(1)
		}
	}

	// Example journey, left in draft so the pipeline ignores it until edited
	examplePath := filepath.Join(journeysDir, "example-checkout.md")
	if !fileExists(examplePath) {
		if err := os.WriteFile(examplePath, getExampleJourney("example-checkout"), 0644); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to write example journey: %v\n", err)
		}
	}

	// Create .autogen/.gitignore: run-local state stays out of the repo,
	// the debt log stays in (shared knowledge)
	gitignorePath := filepath.Join(autogenDir, ".gitignore")
	gitignoreContent := `# AutoGen run-local state
logs/
runs/
locks/
cache/
*.tmp
`
	if err := os.WriteFile(gitignorePath, []byte(gitignoreContent), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write .gitignore: %v\n", err)
	}

	fmt.Println()
	fmt.Println("Initialized AutoGen:")
	fmt.Printf("  Runner: %s\n", cfg.Config.Runner.Command)
	if appConfig != nil {
		fmt.Printf("  App: %s (ready: %s)\n", appConfig.Command, appConfig.ReadyURL)
	}
	fmt.Printf("  Config: %s\n", configPath)
	fmt.Printf("  Journeys: %s\n", journeysDir)
	fmt.Printf("  Data dir: %s\n", autogenDir)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit journeys/example-checkout.md (set status: clarified when agreed)")
	fmt.Println("  2. Run 'autogen generate example-checkout' to emit the test")
	fmt.Println("  3. Run 'autogen verify example-checkout' to execute it")
}

// splitJourneyArg separates the positional journey id from flag arguments
func splitJourneyArg(args []string) (string, []string) {
	var journeyID string
	var flagArgs []string
	for _, arg := range args {
		if journeyID == "" && !strings.HasPrefix(arg, "-") {
			journeyID = arg
			continue
		}
		flagArgs = append(flagArgs, arg)
	}
	return journeyID, flagArgs
}

// resolveJourneySelection turns the positional id or --all into the list of
// journeys to process. Exits with usage when neither or both are given.
func resolveJourneySelection(cfg *ResolvedConfig, cmd, journeyID string, all bool) []string {
	if all && journeyID != "" {
		fmt.Fprintln(os.Stderr, "Error: pass a journey id or --all, not both")
		os.Exit(1)
	}

	if all {
		journeysDir := filepath.Join(cfg.ProjectRoot, cfg.Config.Paths.JourneysDir)
		ids, err := ClarifiedJourneys(journeysDir)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if len(ids) == 0 {
			fmt.Println("No clarified journeys found.")
			fmt.Printf("Set 'status: clarified' in a journey under %s first.\n", cfg.Config.Paths.JourneysDir)
			os.Exit(0)
		}
		return ids
	}

	if journeyID == "" {
		fmt.Fprintf(os.Stderr, "Usage: autogen %s <journey-id> [options]\n", cmd)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintf(os.Stderr, "Example: autogen %s checkout\n", cmd)
		fmt.Fprintf(os.Stderr, "         autogen %s --all\n", cmd)
		os.Exit(1)
	}
	return []string{journeyID}
}

func cmdGenerate(args []string) {
	journeyID, flagArgs := splitJourneyArg(args)
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	all := fs.Bool("all", false, "Generate for every clarified journey")
	fs.Parse(flagArgs)

	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ids := resolveJourneySelection(cfg, "generate", journeyID, *all)
	code := runPipeline(cfg, "generate", ids, PipelineOptions{Stage: StageGenerate})
	if code != 0 {
		os.Exit(code)
	}
}

func cmdValidate(args []string) {
	journeyID, flagArgs := splitJourneyArg(args)
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	all := fs.Bool("all", false, "Validate every clarified journey")
	fs.Parse(flagArgs)

	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ids := resolveJourneySelection(cfg, "validate", journeyID, *all)
	code := runPipeline(cfg, "validate", ids, PipelineOptions{Stage: StageValidate})
	if code != 0 {
		os.Exit(code)
	}
}

func cmdVerify(args []string) {
	journeyID, flagArgs := splitJourneyArg(args)
	fs := flag.NewFlagSet("verify", flag.ExitOnError)
	all := fs.Bool("all", false, "Verify every clarified journey")
	heal := fs.Bool("heal", false, "Attempt bounded self-repair on failure")
	maxHealAttempts := fs.Int("max-heal-attempts", 0, "Override the policy's healing attempt bound")
	fs.Parse(flagArgs)

	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	checkRunnerAvailable(cfg)
	if cfg.Config.Commits != nil && cfg.Config.Commits.Enabled {
		checkGitAvailable()
	}

	// Enforce project readiness before anything runs
	if issues := CheckReadiness(cfg); len(issues) > 0 {
		fmt.Fprintln(os.Stderr, "Error: project is not ready for verification")
		fmt.Fprintln(os.Stderr, "")
		for _, issue := range issues {
			fmt.Fprintf(os.Stderr, "  ✗ %s\n", issue)
		}
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Run 'autogen doctor' for a full environment check.")
		os.Exit(1)
	}

	ids := resolveJourneySelection(cfg, "verify", journeyID, *all)
	code := runPipeline(cfg, "verify", ids, PipelineOptions{
		Stage:           StageVerify,
		Heal:            *heal,
		MaxHealAttempts: *maxHealAttempts,
	})
	if code != 0 {
		os.Exit(code)
	}
}

// runPipeline drives one pipeline run end to end: logger, signal handling,
// the worker fan-out, the console report, and the exit code.
func runPipeline(cfg *ResolvedConfig, operation string, journeyIDs []string, opts PipelineOptions) int {
	// Create cleanup coordinator early for signal handling
	cleanup := NewCleanupCoordinator()

	logger, err := NewRunLogger(cfg.ProjectRoot, uuid.NewString(), cfg.Config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		return 1
	}
	cleanup.SetLogger(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\n\nInterrupted. Cleaning up and exiting...")
		cancel()
		cleanup.Interrupt()
		os.Exit(130)
	}()

	logger.RunStart(operation, journeyIDs)

	pipeline, err := NewPipeline(cfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		logger.Error("pipeline setup failed", err)
		cleanup.Finish(false, "pipeline setup failed")
		return 1
	}
	cleanup.SetAppServer(pipeline.appServer)

	fmt.Println(strings.Repeat("=", 60))
	fmt.Println(" AutoGen - " + operation)
	fmt.Println(strings.Repeat("=", 60))
	if len(journeyIDs) == 1 {
		fmt.Printf(" Journey: %s\n", journeyIDs[0])
	} else {
		fmt.Printf(" Journeys: %d\n", len(journeyIDs))
	}
	fmt.Printf(" Project root: %s\n", cfg.ProjectRoot)
	if logger.LogPath() != "" {
		fmt.Printf(" Run: #%d (logs: %s)\n", logger.RunNumber(), logger.LogPath())
	}
	fmt.Println(strings.Repeat("=", 60))

	var results []*PipelineResult
	if len(journeyIDs) == 1 {
		results = []*PipelineResult{pipeline.RunOne(ctx, journeyIDs[0], opts)}
	} else {
		results = pipeline.RunAll(ctx, journeyIDs, cfg.Config.Runner.Workers, opts)
	}
	pipeline.Close()

	report := NewConsoleReport(operation)
	for _, res := range results {
		appendPipelineItem(report, res)
		if opts.Stage >= StageVerify && res.Passed() && res.Generation != nil {
			AutoCommit(cfg, logger, res.JourneyID, res.Generation.Artifacts)
		}
	}
	report.Finalize()
	fmt.Print(report.FormatForConsole())

	success := report.AllPassed()
	cleanup.Finish(success, fmt.Sprintf("%d passed, %d failed", report.Passed, report.Failed))
	if !success {
		return 1
	}
	return 0
}

// latestRunSummary loads the most recent run's summary, nil when absent
func latestRunSummary(projectRoot string) *DetailedRunSummary {
	runs, err := ListRuns(projectRoot)
	if err != nil || len(runs) == 0 {
		return nil
	}
	summary, err := GetRunSummary(runs[0].LogPath)
	if err != nil {
		return nil
	}
	return summary
}

func cmdStatus(args []string) {
	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	journeysDir := filepath.Join(projectRoot, cfg.Config.Paths.JourneysDir)
	summaries, warnings, err := ListJourneys(journeysDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	for _, w := range warnings {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", w)
	}

	// Show specific journey
	if len(args) > 0 {
		printJourneyStatus(cfg, summaries, args[0])
		return
	}

	if len(summaries) == 0 {
		fmt.Println("No journeys found.")
		fmt.Printf("Add one under %s, or run 'autogen init'.\n", cfg.Config.Paths.JourneysDir)
		return
	}

	if isCommandAvailable("git") {
		git := NewGitOps(projectRoot)
		if git.IsRepo() {
			if branch, berr := git.CurrentBranch(); berr == nil && branch != "" {
				fmt.Printf("Branch: %s (%s)\n\n", branch, git.LastCommit())
			}
		}
	}

	latest := latestRunSummary(projectRoot)

	fmt.Println("Journeys:")
	for _, s := range summaries {
		status := "○"
		var notes []string
		notes = append(notes, s.Tier)
		if s.Status != StatusClarified {
			notes = append(notes, s.Status)
		}

		specPath := filepath.Join(projectRoot, cfg.Config.Paths.TestsDir, s.ID+".spec.ts")
		if fileExists(specPath) {
			notes = append(notes, "generated")
		}

		if latest != nil {
			if j, ok := latest.Journeys[s.ID]; ok {
				switch {
				case j.Verified != nil && *j.Verified:
					status = "✓"
					notes = append(notes, "verified")
				case j.Verified != nil:
					status = "✗"
					notes = append(notes, "verify failed")
				case j.Validated != nil && !*j.Validated:
					status = "✗"
					notes = append(notes, fmt.Sprintf("%d validation issues", j.ValidationIssues))
				case j.Validated != nil:
					notes = append(notes, "validated")
				}
				if j.HealAttempts > 0 {
					notes = append(notes, fmt.Sprintf("heal: %s after %d attempt(s)", j.HealOutcome, j.HealAttempts))
				}
				if j.Debt > 0 {
					notes = append(notes, fmt.Sprintf("%d debt", j.Debt))
				}
			}
		}

		fmt.Printf("  %s %s (%s)\n", status, s.ID, strings.Join(notes, ", "))
	}

	if entries, _ := ReadDebtEntries(projectRoot); len(entries) > 0 {
		fmt.Println()
		fmt.Printf("Debt log: %d entries (run 'autogen debt' for the report)\n", len(entries))
	}

	if locks, _ := ListHeldLocks(projectRoot); len(locks) > 0 {
		fmt.Println()
		fmt.Println("Active edit locks:")
		for _, l := range locks {
			fmt.Printf("  %s (PID %d, journey: %s)\n", l.Target, l.PID, l.Journey)
		}
	}
}

// printJourneyStatus shows one journey in detail
func printJourneyStatus(cfg *ResolvedConfig, summaries []JourneySummary, journeyID string) {
	var found *JourneySummary
	for i := range summaries {
		if summaries[i].ID == journeyID {
			found = &summaries[i]
			break
		}
	}
	if found == nil {
		fmt.Fprintf(os.Stderr, "Journey %q not found in %s\n", journeyID, cfg.Config.Paths.JourneysDir)
		os.Exit(1)
	}

	fmt.Printf("Journey: %s\n", found.ID)
	fmt.Printf("Title: %s\n", found.Title)
	fmt.Printf("Status: %s\n", found.Status)
	fmt.Printf("Tier: %s\n", found.Tier)
	fmt.Printf("Scope: %s\n", found.Scope)
	fmt.Printf("Path: %s\n", found.Path)
	if found.Status != StatusClarified {
		fmt.Println()
		fmt.Println("Set 'status: clarified' before running the pipeline.")
	}
	fmt.Println()

	fmt.Println("Artifacts:")
	artifacts := []string{
		filepath.Join(cfg.Config.Paths.TestsDir, found.ID+".spec.ts"),
		filepath.Join(cfg.Config.Paths.ModulesDir, found.Scope+".module.ts"),
	}
	for _, rel := range artifacts {
		glyph := "○"
		if fileExists(filepath.Join(cfg.ProjectRoot, rel)) {
			glyph = "✓"
		}
		fmt.Printf("  %s %s\n", glyph, rel)
	}

	latest := latestRunSummary(cfg.ProjectRoot)
	if latest == nil {
		return
	}
	j, ok := latest.Journeys[found.ID]
	if !ok {
		return
	}

	fmt.Println()
	fmt.Printf("Last run (#%d):\n", latest.RunNumber)
	if j.Validated != nil {
		glyph := "✗"
		if *j.Validated {
			glyph = "✓"
		}
		fmt.Printf("  %s validation (%d issues)\n", glyph, j.ValidationIssues)
	}
	if j.Verified != nil {
		glyph := "✗"
		if *j.Verified {
			glyph = "✓"
		}
		fmt.Printf("  %s verification\n", glyph)
	}
	if j.HealAttempts > 0 {
		fmt.Printf("  ↔ healing: %s after %d attempt(s)\n", j.HealOutcome, j.HealAttempts)
	}
	if j.Debt > 0 {
		fmt.Printf("  ~ %d selector debt entries recorded\n", j.Debt)
	}
}

func cmdDoctor(args []string) {
	projectRoot := GetProjectRoot()
	issues := 0

	fmt.Println("AutoGen Environment Check")
	fmt.Println()

	// Check autogen.json
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Printf("✗ autogen.json: %v\n", err)
		issues++
	} else {
		fmt.Printf("✓ autogen.json found\n")

		if isCommandAvailable(cfg.Config.Runner.Command) {
			fmt.Printf("✓ Runner command: %s\n", cfg.Config.Runner.Command)
		} else {
			fmt.Printf("✗ Runner command not found: %s\n", cfg.Config.Runner.Command)
			issues++
		}
	}

	// JS toolchain
	detection := detectRunner(projectRoot)
	if detection.HasPlaywright {
		fmt.Printf("✓ @playwright/test dependency found\n")
	} else {
		fmt.Printf("○ @playwright/test not found in package.json\n")
	}
	for _, note := range detection.Notes {
		fmt.Printf("  Note: %s\n", note)
	}

	// Check .autogen directory
	autogenDir := filepath.Join(projectRoot, ".autogen")
	if fileExists(autogenDir) {
		fmt.Printf("✓ .autogen directory exists\n")
	} else {
		fmt.Printf("○ .autogen directory: not found (run 'autogen init')\n")
	}

	// Check sh
	if isCommandAvailable("sh") {
		fmt.Printf("✓ sh available\n")
	} else {
		fmt.Printf("✗ sh not found\n")
		issues++
	}

	// Check git; a hard requirement only when commits are enabled
	commitsEnabled := err == nil && cfg.Config.Commits != nil && cfg.Config.Commits.Enabled
	if isCommandAvailable("git") {
		fmt.Printf("✓ git available\n")
	} else if commitsEnabled {
		fmt.Printf("✗ git not found (required: commits.enabled is true)\n")
		issues++
	} else {
		fmt.Printf("○ git not found (fine: commits are disabled)\n")
	}

	// Check .autogen directory writability
	if fi, statErr := os.Stat(autogenDir); statErr == nil && fi.IsDir() {
		testFile := filepath.Join(autogenDir, ".write-test")
		if f, writeErr := os.Create(testFile); writeErr != nil {
			fmt.Printf("✗ .autogen directory not writable\n")
			issues++
		} else {
			f.Close()
			os.Remove(testFile)
			fmt.Printf("✓ .autogen directory writable\n")
		}
	}

	if err == nil {
		// Check policy and catalog parse
		policyPath := filepath.Join(projectRoot, cfg.Config.Paths.PolicyPath)
		if _, perr := LoadPolicy(policyPath); perr != nil {
			fmt.Printf("✗ policy: %v\n", perr)
			issues++
		} else if fileExists(policyPath) {
			fmt.Printf("✓ policy: %s\n", cfg.Config.Paths.PolicyPath)
		} else {
			fmt.Printf("○ policy: %s not found (built-in defaults apply)\n", cfg.Config.Paths.PolicyPath)
		}

		catalogPath := filepath.Join(projectRoot, cfg.Config.Paths.CatalogPath)
		if catalog, cerr := LoadCatalog(catalogPath); cerr != nil {
			fmt.Printf("✗ catalog: %v\n", cerr)
			issues++
		} else if fileExists(catalogPath) {
			fmt.Printf("✓ catalog: %s (%d entries)\n", cfg.Config.Paths.CatalogPath, len(catalog.Entries))
		} else {
			fmt.Printf("○ catalog: %s not found (resolution uses hints only)\n", cfg.Config.Paths.CatalogPath)
		}

		// Check the app under test command
		if cfg.Config.App != nil && cfg.Config.App.Command != "" {
			base := extractBaseCommand(cfg.Config.App.Command)
			if isCommandAvailable(base) {
				fmt.Printf("✓ app command: %s\n", cfg.Config.App.Command)
			} else {
				fmt.Printf("✗ app command not found: %s\n", base)
				issues++
			}
		}

		// Check evidence capture prerequisites
		if cfg.Config.Browser != nil && cfg.Config.Browser.Enabled {
			if cfg.Config.Browser.BaseURL == "" {
				fmt.Printf("✗ browser.baseUrl required when browser.enabled is true\n")
				issues++
			} else if cfg.Config.Browser.ExecutablePath != "" && !fileExists(cfg.Config.Browser.ExecutablePath) {
				fmt.Printf("✗ browser.executablePath not found: %s\n", cfg.Config.Browser.ExecutablePath)
				issues++
			} else {
				fmt.Printf("✓ evidence capture configured (%s)\n", cfg.Config.Browser.BaseURL)
			}
		}
	}

	// List journeys
	if err == nil {
		journeysDir := filepath.Join(projectRoot, cfg.Config.Paths.JourneysDir)
		summaries, _, lerr := ListJourneys(journeysDir)
		fmt.Println()
		if lerr != nil {
			fmt.Printf("✗ journeys: %v\n", lerr)
			issues++
		} else if len(summaries) > 0 {
			clarified := 0
			for _, s := range summaries {
				if s.Status == StatusClarified {
					clarified++
				}
			}
			fmt.Printf("Journeys: %d (%d clarified)\n", len(summaries), clarified)
			for _, s := range summaries {
				fmt.Printf("  - %s (%s)\n", s.ID, s.Status)
			}
		} else {
			fmt.Println("Journeys: none")
		}
	}

	// Check lock status
	if locks, _ := ListHeldLocks(projectRoot); len(locks) > 0 {
		fmt.Println()
		for _, l := range locks {
			fmt.Printf("! Edit lock held on %s (PID %d, journey: %s)\n", l.Target, l.PID, l.Journey)
		}
	}

	fmt.Println()
	if issues > 0 {
		fmt.Printf("%d issue(s) found.\n", issues)
		os.Exit(1)
	} else {
		fmt.Println("All checks passed.")
	}
}

func cmdLogs(args []string) {
	fs := flag.NewFlagSet("logs", flag.ExitOnError)
	runNum := fs.Int("run", 0, "Show specific run number (default: latest)")
	listRuns := fs.Bool("list", false, "List all runs with summary")
	tail := fs.Int("tail", 50, "Show last N events")
	follow := fs.Bool("follow", false, "Follow log in real-time")
	fs.BoolVar(follow, "f", false, "Follow log in real-time (shorthand)")
	eventType := fs.String("type", "", "Filter by event type")
	journeyID := fs.String("journey", "", "Filter by journey id")
	jsonOutput := fs.Bool("json", false, "Output raw JSONL")
	summaryMode := fs.Bool("summary", false, "Show run summary only")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, "Usage: autogen logs [options]")
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Options:")
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Examples:")
		fmt.Fprintln(os.Stderr, "  autogen logs                        # Latest run, last 50 events")
		fmt.Fprintln(os.Stderr, "  autogen logs --list                 # List all runs")
		fmt.Fprintln(os.Stderr, "  autogen logs --run 2                # Show run #2")
		fmt.Fprintln(os.Stderr, "  autogen logs --follow               # Watch current run live")
		fmt.Fprintln(os.Stderr, "  autogen logs --type error           # Show only errors")
		fmt.Fprintln(os.Stderr, "  autogen logs --journey checkout     # Events for one journey")
		fmt.Fprintln(os.Stderr, "  autogen logs --summary              # Quick summary of latest run")
	}

	fs.Parse(args)

	projectRoot := GetProjectRoot()
	runs, err := ListRuns(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading logs: %v\n", err)
		os.Exit(1)
	}

	if len(runs) == 0 {
		fmt.Println("No run logs found.")
		fmt.Println("Run 'autogen generate <journey-id>' to create one.")
		return
	}

	// --list mode: show all runs
	if *listRuns {
		fmt.Println("Runs:")
		fmt.Println()
		for _, run := range runs {
			status := "○"
			if run.Success != nil {
				if *run.Success {
					status = "✓"
				} else {
					status = "✗"
				}
			}

			duration := ""
			if run.EndTime != nil {
				d := run.EndTime.Sub(run.StartTime)
				duration = fmt.Sprintf(" (%s)", FormatDuration(d))
			}

			operation := ""
			if run.Operation != "" {
				operation = " " + run.Operation
			}

			fmt.Printf("  %s Run #%d%s - %s%s\n", status, run.RunNumber, operation,
				run.StartTime.Format("2006-01-02 15:04:05"), duration)
			if run.Summary != "" {
				fmt.Printf("    └─ %s\n", run.Summary)
			}
		}
		return
	}

	// Find the target run
	var targetRun *RunFileSummary
	if *runNum > 0 {
		for i := range runs {
			if runs[i].RunNumber == *runNum {
				targetRun = &runs[i]
				break
			}
		}
		if targetRun == nil {
			fmt.Fprintf(os.Stderr, "Run #%d not found\n", *runNum)
			os.Exit(1)
		}
	} else {
		// Default to latest run
		targetRun = &runs[0]
	}

	// --summary mode: show detailed summary
	if *summaryMode {
		printRunSummary(targetRun.LogPath)
		return
	}

	// --follow mode: tail the log file
	if *follow {
		followLog(targetRun.LogPath, *eventType, *journeyID, *jsonOutput)
		return
	}

	// Default: show last N events
	printEvents(targetRun.LogPath, *tail, *eventType, *journeyID, *jsonOutput)
}

func printRunSummary(logPath string) {
	summary, err := GetRunSummary(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Run #%d - %s\n", summary.RunNumber, summary.StartTime.Format("2006-01-02 15:04:05"))
	if summary.Operation != "" {
		fmt.Printf("Operation: %s\n", summary.Operation)
	}
	if summary.Duration != nil {
		fmt.Printf("Duration: %s\n", FormatDuration(*summary.Duration))
	}
	if summary.Success != nil {
		result := "FAILED"
		if *summary.Success {
			result = "PASSED"
		}
		fmt.Printf("Result: %s\n", result)
	}
	if summary.Result != "" {
		fmt.Printf("Summary: %s\n", summary.Result)
	}

	fmt.Println()
	fmt.Printf("Journeys: %d\n", len(summary.Journeys))

	ids := make([]string, 0, len(summary.Journeys))
	for id := range summary.Journeys {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		j := summary.Journeys[id]
		status := "○"
		switch {
		case j.Verified != nil && *j.Verified:
			status = "✓"
		case j.Verified != nil:
			status = "✗"
		case j.Validated != nil && *j.Validated:
			status = "✓"
		case j.Validated != nil:
			status = "✗"
		}

		var details []string
		if j.Artifacts > 0 {
			details = append(details, fmt.Sprintf("%d artifacts", j.Artifacts))
		}
		if j.ValidationIssues > 0 {
			details = append(details, fmt.Sprintf("%d validation issues", j.ValidationIssues))
		}
		if j.HealAttempts > 0 {
			details = append(details, fmt.Sprintf("heal: %s after %d attempt(s)", j.HealOutcome, j.HealAttempts))
		}
		if j.Debt > 0 {
			details = append(details, fmt.Sprintf("%d debt", j.Debt))
		}

		fmt.Printf("  %s %s", status, id)
		if len(details) > 0 {
			fmt.Printf(" (%s)", strings.Join(details, ", "))
		}
		fmt.Println()
	}

	fmt.Println()
	fmt.Printf("Warnings: %d\n", summary.Warnings)
	fmt.Printf("Errors: %d\n", summary.Errors)
}

func printEvents(logPath string, tailN int, eventTypeFilter, journeyFilter string, jsonOutput bool) {
	var filter *EventFilter
	if eventTypeFilter != "" || journeyFilter != "" {
		filter = &EventFilter{EventType: EventType(eventTypeFilter), Journey: journeyFilter}
	}

	events, err := ReadEvents(logPath, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading log: %v\n", err)
		os.Exit(1)
	}

	// Take last N
	if len(events) > tailN {
		events = events[len(events)-tailN:]
	}

	for i := range events {
		if jsonOutput {
			data, _ := json.Marshal(events[i])
			fmt.Println(string(data))
		} else {
			printEvent(&events[i])
		}
	}
}

func printEvent(e *Event) {
	timestamp := e.Timestamp.Format("15:04:05")

	// Format based on event type
	switch e.Type {
	case EventRunStart:
		operation := ""
		if e.Data != nil {
			operation, _ = e.Data["operation"].(string)
		}
		fmt.Printf("[%s] === Run started: %s ===\n", timestamp, operation)

	case EventRunEnd:
		result := "failed"
		if e.Success != nil && *e.Success {
			result = "success"
		}
		fmt.Printf("[%s] === Run ended: %s ===\n", timestamp, result)
		if e.Msg != "" {
			fmt.Printf("         %s\n", e.Msg)
		}

	case EventJourneyLoaded:
		fmt.Printf("[%s] ─── Journey %s: %s ───\n", timestamp, e.Journey, e.Msg)

	case EventStepMapped:
		target := ""
		if e.Data != nil {
			if t, ok := e.Data["target"].(string); ok && t != "" {
				target = fmt.Sprintf(" (%s)", t)
			}
		}
		fmt.Printf("[%s]   step %d → %s%s\n", timestamp, e.Step, e.Msg, target)

	case EventIRBuilt:
		fmt.Printf("[%s] ✓ IR: %s\n", timestamp, e.Msg)

	case EventGenerated:
		path := ""
		if e.Data != nil {
			path, _ = e.Data["path"].(string)
		}
		fmt.Printf("[%s]   ◆ %s (%s)\n", timestamp, path, e.Msg)

	case EventValidationIssue:
		fmt.Printf("[%s]   ! %s\n", timestamp, e.Msg)

	case EventValidationEnd:
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		fmt.Printf("[%s] %s Validation complete: %s\n", timestamp, status, e.Msg)

	case EventVerifyStart:
		fmt.Printf("[%s] → Runner: %s\n", timestamp, e.Msg)

	case EventRunnerLine:
		fmt.Printf("[%s]   %s\n", timestamp, e.Msg)

	case EventVerifyEnd:
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		duration := ""
		if e.Duration > 0 {
			duration = fmt.Sprintf(" (%s)", FormatDuration(time.Duration(e.Duration)))
		}
		msg := ""
		if e.Msg != "" {
			msg = ": " + e.Msg
		}
		fmt.Printf("[%s] %s Verification complete%s%s\n", timestamp, status, duration, msg)

	case EventHealAttempt:
		fmt.Printf("[%s] → Heal attempt %d: %s\n", timestamp, e.Attempt, e.Msg)

	case EventHealEnd:
		status := "✗"
		if e.Success != nil && *e.Success {
			status = "✓"
		}
		attempts := ""
		if e.Data != nil {
			if n, ok := e.Data["attempts"].(float64); ok {
				attempts = fmt.Sprintf(" (%d attempts)", int(n))
			}
		}
		fmt.Printf("[%s] %s Healing: %s%s\n", timestamp, status, e.Msg, attempts)

	case EventDebtRecorded:
		fmt.Printf("[%s] ~ Debt: %s\n", timestamp, e.Msg)

	case EventEvidence:
		fmt.Printf("[%s]   ◆ %s\n", timestamp, e.Msg)

	case EventAppStart:
		fmt.Printf("[%s] → App: %s\n", timestamp, e.Msg)

	case EventAppReady:
		fmt.Printf("[%s] ✓ %s\n", timestamp, e.Msg)

	case EventStateChange:
		from, _ := e.Data["from"].(string)
		to, _ := e.Data["to"].(string)
		fmt.Printf("[%s] ↔ State: %s → %s\n", timestamp, from, to)

	case EventWarning:
		fmt.Printf("[%s] ! Warning: %s\n", timestamp, e.Msg)

	case EventError:
		fmt.Printf("[%s] ✗ Error: %s\n", timestamp, e.Msg)
		if errMsg, ok := e.Data["error"].(string); ok {
			fmt.Printf("         %s\n", errMsg)
		}

	default:
		fmt.Printf("[%s] %s", timestamp, e.Type)
		if e.Journey != "" {
			fmt.Printf(" [%s]", e.Journey)
		}
		if e.Msg != "" {
			fmt.Printf(": %s", e.Msg)
		}
		fmt.Println()
	}
}

func followLog(logPath, eventTypeFilter, journeyFilter string, jsonOutput bool) {
	file, err := os.Open(logPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening log: %v\n", err)
		os.Exit(1)
	}
	defer file.Close()

	// Seek to end
	file.Seek(0, io.SeekEnd)

	fmt.Printf("Following %s (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				time.Sleep(100 * time.Millisecond)
				continue
			}
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var event Event
		if err := json.Unmarshal([]byte(line), &event); err != nil {
			continue
		}

		// Apply filters
		if eventTypeFilter != "" && string(event.Type) != eventTypeFilter {
			continue
		}
		if journeyFilter != "" && event.Journey != journeyFilter {
			continue
		}

		if jsonOutput {
			fmt.Println(line)
		} else {
			printEvent(&event)
		}
	}
}

func cmdDebt(args []string) {
	fs := flag.NewFlagSet("debt", flag.ExitOnError)
	jsonOutput := fs.Bool("json", false, "Output the report as JSON")
	fs.Parse(args)

	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	catalog, err := LoadCatalog(filepath.Join(projectRoot, cfg.Config.Paths.CatalogPath))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	report, err := BuildDebtReport(projectRoot, catalog)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := WriteDebtReport(projectRoot, report); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to write report: %v\n", err)
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
		return
	}

	fmt.Print(FormatDebtReport(report))
	if report.Total > 0 {
		fmt.Printf("\nFull report: %s\n", DebtReportPath(projectRoot))
	}
}

func cmdWatch(args []string) {
	projectRoot := GetProjectRoot()
	cfg, err := LoadConfig(projectRoot)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := NewRunLogger(projectRoot, uuid.NewString(), cfg.Config.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nStopping watch...")
		cancel()
	}()

	logger.RunStart("watch", nil)

	watcher := NewWatcher(cfg, logger, PipelineOptions{Stage: StageValidate})
	err = watcher.Watch(ctx)
	logger.RunEnd(err == nil || ctx.Err() != nil, "watch stopped")
	if err != nil && ctx.Err() == nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
