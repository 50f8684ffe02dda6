package main

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/hpungsan/tether/internal/config"
	"github.com/hpungsan/tether/internal/db"
	"github.com/hpungsan/tether/internal/logging"
	"github.com/hpungsan/tether/internal/mcp"
	"github.com/hpungsan/tether/internal/metrics"
	"github.com/hpungsan/tether/internal/recovery"
)

// Version is set via -ldflags at build time.
var Version = "dev"

// cliCommands contains known CLI subcommands.
var cliCommands = map[string]bool{
	"init": true, "status": true, "recover": true, "enable-recovery": true,
	"disconnect": true, "sessions": true, "fingerprint": true, "env": true,
	"shell-init": true, "window": true, "activity": true, "stats": true,
	"report": true, "export": true, "serve": true,
	"help": true,
}

// isCLIMode determines if we should run CLI vs MCP server.
func isCLIMode(args []string) bool {
	if len(args) < 2 {
		return false
	}
	arg := args[1]
	if cliCommands[arg] {
		return true
	}
	return arg == "--help" || arg == "-h" || arg == "--version" || arg == "-v"
}

// needsNoStore reports whether the command runs without opening the
// database: help, version and the shell integration script.
func needsNoStore(args []string) bool {
	if len(args) < 2 {
		return false
	}
	switch args[1] {
	case "--help", "-h", "--version", "-v", "help", "shell-init":
		return true
	}
	return false
}

func isTerminal() bool {
	return term.IsTerminal(int(os.Stdin.Fd()))
}

func printBanner() {
	fmt.Println(`
   _       _   _
  | |_ ___| |_| |__   ___ _ __
  | __/ _ \ __| '_ \ / _ \ '__|
  | ||  __/ |_| | | |  __/ |
   \__\___|\__|_| |_|\___|_|

  Terminal session identity and time windows

  Usage: tether <command> [options]
         tether --help

  MCP server mode requires piped input.`)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 && isTerminal() {
		printBanner()
		return
	}

	if needsNoStore(os.Args) {
		if err := newCLIApp(nil).Run(os.Args); err != nil {
			fatalf("%v", err)
		}
		return
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		fatalf("could not determine home directory: %v", err)
	}
	baseDir := filepath.Join(homeDir, ".tether")

	database, err := db.Init(baseDir)
	if err != nil {
		fatalf("failed to initialize database: %v", err)
	}
	defer database.Close()

	cwd, _ := os.Getwd()
	cfg, err := config.LoadWithRepo(baseDir, cwd)
	if err != nil {
		fatalf("failed to load config: %v", err)
	}
	db.ConfigurePool(database, cfg)

	log := logging.NewOrNop(logging.FromAppConfig(cfg))
	defer func() { _ = log.Sync() }()

	if unknown := mcp.ValidateDisabledTools(cfg.DisabledTools); len(unknown) > 0 {
		log.Warn("unknown disabled_tools entries", zap.Strings("tools", unknown))
	}
	if unknown := mcp.ValidateDisabledTypes(cfg.DisabledTypes); len(unknown) > 0 {
		log.Warn("unknown disabled_types entries", zap.Strings("types", unknown))
	}

	m := metrics.New()
	engine := recovery.New(database, cfg, recovery.Options{Logger: log, Observer: m})
	defer engine.Close()

	if isCLIMode(os.Args) {
		deps := &appDeps{db: database, engine: engine, metrics: m, log: log, baseDir: baseDir}
		if err := newCLIApp(deps).Run(os.Args); err != nil {
			engine.Close()
			fatalf("%v", err)
		}
		return
	}

	// Unknown argument on a terminal: report it rather than block on stdio.
	if len(os.Args) >= 2 && isTerminal() {
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n", os.Args[1])
		fmt.Fprintf(os.Stderr, "Run 'tether --help' for usage.\n")
		os.Exit(1)
	}

	if err := mcp.Run(engine, Version); err != nil {
		engine.Close()
		fatalf("%v", err)
	}
}
