package main

import (
	stderrors "errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"

	"github.com/hpungsan/classmate/internal/config"
	"github.com/hpungsan/classmate/internal/db"
	"github.com/hpungsan/classmate/internal/mcp"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"serve": true, "mcp": true, "parse-time": true,
	"show": true, "tomorrow": true, "ask": true,
	"import": true, "export": true, "delete": true, "inbox": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs the MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false // No args → MCP server
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// isHelpOrVersion returns true if the user is requesting help or version info.
func isHelpOrVersion(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v" || arg == "help"
}

// isTerminal returns true if stdin is a terminal (not piped).
func isTerminal() bool {
	stat, _ := os.Stdin.Stat()
	return (stat.Mode() & os.ModeCharDevice) != 0
}

func printBanner() {
	fmt.Println(`
   ___ _                                 _
  / __| |__ _ ______ _ __  __ _ __ _ ___| |_ ___
 | (__| / _' (_-<_-< '  \/ _' / _' |_ _|  _/ -_)
  \___|_\__,_/__/__/_|_|_\__,_\__,_| |_|\__\___|

  Timetable assistant with daily class reminders

  Usage: classmate <command> [options]
         classmate --help

  MCP server mode requires piped input.`)
}

// loadDotEnv loads .env from the working directory and the base dir.
// Variables already set in the environment win.
func loadDotEnv(baseDir string) {
	for _, path := range []string{".env", filepath.Join(baseDir, ".env")} {
		if err := godotenv.Load(path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
			slog.Warn("could not load env file", "path", path, "error", err)
		}
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	// Help and version need no database.
	if isHelpOrVersion(os.Args) {
		if err := newCLIApp(nil, nil, nil).Run(os.Args); err != nil {
			fatal("%v", err)
		}
		return
	}

	baseDir, err := config.BaseDir()
	if err != nil {
		fatal("%v", err)
	}
	loadDotEnv(baseDir)

	cfg, err := config.Load(baseDir)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		fatal("%v", err)
	}

	// stdout carries MCP frames and CLI JSON, so logs go to stderr.
	logger := newLogger(cfg, os.Stderr)
	slog.SetDefault(logger)
	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		logger.Warn("unknown tools in disabled_tools", "tools", unknown)
	}

	database, err := db.Init(baseDir)
	if err != nil {
		fatal("failed to initialize database: %v", err)
	}
	defer database.Close()
	db.ConfigurePool(database, cfg)

	if isCLIMode(os.Args) {
		if err := newCLIApp(database, cfg, logger).Run(os.Args); err != nil {
			database.Close()
			fatal("%v", err)
		}
		return
	}

	if len(os.Args) >= 2 && isTerminal() {
		database.Close()
		fatal("unknown command %q\nRun 'classmate --help' for usage.", os.Args[1])
	}

	if err := runMCP(database, cfg, logger); err != nil {
		database.Close()
		fatal("%v", err)
	}
}
