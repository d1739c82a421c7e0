package main

import (
	"fmt"
	"os"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		showHelp()
		os.Exit(0)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	if cmd != "upgrade" {
		startUpdateCheck()
		defer printUpdateNotice()
	}

	switch cmd {
	case "-h", "--help", "help":
		showHelp()
	case "-v", "--version", "version":
		fmt.Printf("autogen v%s\n", version)
	case "init":
		cmdInit(args)
	case "generate":
		cmdGenerate(args)
	case "validate":
		cmdValidate(args)
	case "verify":
		cmdVerify(args)
	case "watch":
		cmdWatch(args)
	case "status":
		cmdStatus(args)
	case "debt":
		cmdDebt(args)
	case "logs":
		cmdLogs(args)
	case "doctor":
		cmdDoctor(args)
	case "upgrade":
		cmdUpgrade(args)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'autogen --help' for usage.")
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Printf(`autogen v%s - Journey-driven browser test generation

Usage: autogen <command> [journey-id] [options]

Commands:
  init [--force]         Initialize AutoGen (creates autogen.json, policy, dirs)
  generate <id> | --all  Map a journey and write its Playwright test
  validate <id> | --all  Generate, then statically check the artifacts
  verify <id> | --all    Run the test through the configured runner
                         (--heal to self-repair, --max-heal-attempts N)
  watch                  Regenerate and validate on journey file changes
  status [id]            Show journeys with artifacts and last outcomes
  debt                   Aggregate selector debt into a report
  logs                   View run logs (--list, --summary, --follow, etc.)
  doctor                 Check AutoGen environment
  upgrade                Upgrade AutoGen to the latest version

Options:
  -h, --help             Show this help message
  -v, --version          Show version number

Examples:
  autogen init                  # Initialize AutoGen in current project
  autogen generate checkout     # Emit tests/journeys/checkout.spec.ts
  autogen verify checkout       # Execute the generated test
  autogen verify --all --heal   # Verify every clarified journey, self-repair
  autogen status                # Show all journeys at a glance
  autogen debt                  # List css fallbacks awaiting better selectors

File Structure:
  autogen.json                  # Project configuration (required)
  policy.json                   # Glossary, forbidden patterns, strictness
  catalog.json                  # Known stable selectors per UI target
  journeys/                     # Markdown journey documents
  tests/journeys/               # Generated Playwright specs
  tests/modules/                # Shared flow modules + registry
  .autogen/                     # Run logs, records, debt log, locks, cache
`, version)
}
