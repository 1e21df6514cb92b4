package main

import (
	"fmt"
	"os"
	"strings"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"load": true, "edit": true, "show": true, "lang": true, "theme": true,
	"thread": true, "review": true, "followup": true, "apply": true, "diff": true,
	"export": true, "import": true, "clear": true,
	"sessions": true, "serve": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	// --help, --version and the global flags → CLI
	return strings.HasPrefix(arg, "-")
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
             _ _   _
   ___ _ __ (_) |_(_) __ _ _   _  ___
  / __| '__|| | __| |/ _' | | | |/ _ \
 | (__| |   | | |_| | (_| | |_| |  __/
  \___|_|   |_|\__|_|\__, |\__,_|\___|
                        |_|
  Line-anchored AI code review

  Usage: critique <command> [options]
         critique serve      (web UI)
         critique --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	args := os.Args
	if !isCLIMode(args) {
		// Unknown argument + terminal → show error (don't start MCP server)
		if len(args) >= 2 && isTerminal() {
			fmt.Fprintf(os.Stderr, "error: unknown command %q\n", args[1])
			fmt.Fprintf(os.Stderr, "Run 'critique --help' for usage.\n")
			os.Exit(1)
		}
		// MCP server mode (default)
		args = []string{args[0], "mcp"}
	}

	e, err := newEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := newCLIApp(e)
	runErr := app.Run(args)
	if err := e.close(); err != nil && runErr == nil {
		runErr = err
	}
	if runErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", runErr)
		os.Exit(1)
	}
}
