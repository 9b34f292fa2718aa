// ABOUTME: Entry point for the coachcal CLI, TUI and MCP server
// ABOUTME: Loads configuration, opens storage and routes to subcommands
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/harperreed/coachcal/cli"
	"github.com/harperreed/coachcal/config"
	"github.com/harperreed/coachcal/logging"
)

type command func(ctx context.Context, app *cli.App, args []string) error

var groups = map[string]map[string]command{
	"auth": {
		"login":  cli.AuthLoginCommand,
		"logout": cli.AuthLogoutCommand,
		"status": cli.AuthStatusCommand,
	},
	"routine": {
		"add":  cli.AddRoutineCommand,
		"list": cli.ListRoutinesCommand,
	},
	"schedule": {
		"sync":         cli.ScheduleSyncCommand,
		"list":         cli.ListSessionsCommand,
		"update":       cli.UpdateSessionCommand,
		"remove":       cli.RemoveSessionCommand,
		"orphans":      cli.OrphansCommand,
		"reconcile":    cli.ReconcileCommand,
		"availability": cli.AvailabilityCommand,
	},
}

func main() {
	showVersion := flag.Bool("version", false, "Show version and exit")
	dbPath := flag.String("db-path", "", "Database path (default: ~/.local/share/coachcal/coachcal.db)")
	logLevel := flag.String("log-level", "", "Log level: debug, info, warn or error")
	_ = flag.CommandLine.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("coachcal version %s\n", cli.Version)
		os.Exit(0)
	}

	args := flag.Args()
	if len(args) == 0 {
		printUsage()
		os.Exit(0)
	}
	name, rest := args[0], args[1:]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	logger := logging.Setup(cfg.LogLevel, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := cli.NewApp(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to start: %v", err)
	}

	err = run(ctx, app, name, rest)
	if cerr := app.Close(); cerr != nil {
		logger.Warn("failed to close storage", "error", cerr)
	}
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run(ctx context.Context, app *cli.App, name string, args []string) error {
	switch name {
	case "mcp":
		return cli.MCPCommand(ctx, app)
	case "tui":
		return cli.TUICommand(ctx, app)
	case "store":
		return cli.StoreCommand(app, args)
	}

	group, ok := groups[name]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown command: %s", name)
	}
	if len(args) == 0 {
		printUsage()
		return fmt.Errorf("%s requires a subcommand", name)
	}
	cmd, ok := group[args[0]]
	if !ok {
		printUsage()
		return fmt.Errorf("unknown %s command: %s", name, args[0])
	}
	return cmd(ctx, app, args[1:])
}

func printUsage() {
	fmt.Printf(`coachcal v%s - Weekly training sessions on Google Calendar

USAGE:
  coachcal [global flags] <command> [subcommand] [flags]

GLOBAL FLAGS:
  --version              Show version and exit
  --db-path <path>       Database path (default: ~/.local/share/coachcal/coachcal.db)
  --log-level <level>    debug, info, warn or error

COMMANDS:
  auth login             Sign in to Google Calendar
    --prompt <mode>        consent or select_account
    --login-hint <email>   Account to preselect
  auth logout            Revoke and forget the saved token
  auth status            Show the saved sign-in

  routine add            Add a training routine
    --name <name>          Routine name (required)
    --program <name>       Program it belongs to
    --description <text>   Notes shown in calendar events
  routine list           List routines

  schedule sync          Create weekly recurring series for an assignment
    --assign <map>         e.g. "mon=Lower Body,wed=Upper Body" (required)
    --email <email>        Attendee to invite
    --time <HH:MM>         Start time (default from config)
    --minutes <n>          Session length
    --weeks <n>            Number of weekly occurrences
    --start <YYYY-MM-DD>   Schedule from this date (default today)
    --calendar <id>        Calendar ID (default primary)
  schedule list          List scheduled sessions
  schedule update        Change one session
    --id <id>              Session ID (required)
    --time, --minutes, --routine
  schedule remove --id   Delete a session and its series
  schedule orphans       List sessions without a confirmed event
  schedule reconcile     Compare sessions with the calendar
    --apply                Mark sessions whose series is gone as orphans
  schedule availability  Check whether a slot is free
    --start <YYYY-MM-DDTHH:MM> --minutes <n>

  store status|sync|wipe Manage the credential store
  tui                    Interactive weekly board
  mcp                    Start MCP server on stdio

EXAMPLES:
  coachcal routine add --name "Lower Body" --program "Strength Block"
  coachcal schedule sync --assign "mon=Lower Body,thu=Upper Body" --email client@example.com --time 07:30

`, cli.Version)
}
