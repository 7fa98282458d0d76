package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/hpungsan/echocap/internal/config"
	"github.com/hpungsan/echocap/internal/crypt"
	"github.com/hpungsan/echocap/internal/db"
	"github.com/hpungsan/echocap/internal/logging"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"register": true, "status": true, "listen": true, "record": true,
	"list": true, "export": true, "delete": true,
	"settings": true, "train": true, "mcp": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode() bool {
	if len(os.Args) < 2 {
		return false // No args → MCP server
	}
	arg := os.Args[1]
	if cliCommands[arg] {
		return true
	}
	// Global flags come before the subcommand
	if len(arg) > 1 && arg[0] == '-' {
		return arg != "--"
	}
	return false
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion() bool {
	if len(os.Args) < 2 {
		return false
	}
	arg := os.Args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// printBanner displays a friendly banner when run interactively without args.
func printBanner() {
	fmt.Println(`
            _
   ___  ___| |__   ___   ___ __ _ _ __
  / _ \/ __| '_ \ / _ \ / __/ _' | '_ \
 |  __/ (__| | | | (_) | (_| (_| | |_) |
  \___|\___|_| |_|\___/ \___\__,_| .__/
                                 |_|
  Voice-activated encrypted capture

  Usage: echocap <command> [options]
         echocap --help

  MCP server mode requires piped input.`)
}

func main() {
	// No args + interactive terminal → show banner and exit
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Handle --help/--version before DB init (no DB needed)
	if isHelpOrVersion() {
		app := newCLIApp(nil)
		if err := app.Run(os.Args); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: could not determine home directory: %v\n", err)
		os.Exit(1)
	}
	baseDir := filepath.Join(homeDir, ".echocap")

	cwd, err := os.Getwd()
	if err != nil {
		cwd = baseDir
	}
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to load config: %v\n", err)
		os.Exit(1)
	}

	store, err := db.Open(context.Background(), baseDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: failed to initialize database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()
	db.ConfigurePool(store, cfg)

	e := &env{
		store:  store,
		cfg:    cfg,
		enc:    crypt.NewProvider(),
		logger: logging.Nop(),
	}

	// No subcommand and piped stdin → MCP server
	args := os.Args
	if !isCLIMode() {
		// Unknown argument + terminal → show error (don't start MCP server)
		if len(os.Args) >= 2 && isTerminal() {
			fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
			fmt.Fprintf(os.Stderr, "Run 'echocap --help' for usage.\n")
			os.Exit(1)
		}
		args = []string{os.Args[0], "mcp"}
	}

	app := newCLIApp(e)
	if err := app.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
