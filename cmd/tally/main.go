// Command tally is the tally CLI client.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/tally/client"
	"github.com/GoCodeAlone/tally/config"
	"github.com/GoCodeAlone/tally/internal/app"
	"github.com/GoCodeAlone/tally/internal/version"
	"github.com/GoCodeAlone/tally/update"
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = config.LoadDotEnv()
	cfg := config.DefaultConfig()

	var (
		serverURL  = flag.String("server", "", "tally server URL (or $TALLY_SERVER)")
		token      = flag.String("token", os.Getenv("TALLY_TOKEN"), "session token (or $TALLY_TOKEN)")
		configPath = flag.String("config", "", "YAML config file")
		local      = flag.Bool("local", false, "use the data directory directly instead of a server")
		verbose    = flag.Bool("v", false, "debug logging to stderr")
	)
	flag.Usage = usage
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		usage()
		return 1
	}
	if *configPath != "" {
		loaded, err := config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if err := cfg.ApplyEnv(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	if *serverURL != "" {
		cfg.Client.ServerURL = *serverURL
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cmd, rest := args[0], args[1:]
	if cmd == "version" {
		cmdVersion()
		return 0
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cmd == "update" {
		if err := cmdUpdate(ctx, rest, logger); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		return 0
	}

	var b sessionBackend
	if *local {
		a, err := app.Open(ctx, cfg, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer a.Close() //nolint:errcheck
		b = a.Local(logger)
	} else {
		b = client.New(cfg.Client.ServerURL, client.WithLogger(logger))
	}

	cli := newCLI(b, cfg, logger, *token, *local)
	defer cli.close()

	var err error
	switch cmd {
	case "status":
		err = cli.cmdStatus(ctx)
	case "signup":
		err = cli.cmdSignUp(ctx, rest)
	case "login":
		err = cli.cmdLogin(ctx, rest)
	case "logout":
		err = cli.cmdLogout(ctx)
	case "whoami":
		err = cli.cmdWhoami(ctx)
	case "add":
		err = cli.cmdAdd(ctx, rest)
	case "done":
		err = cli.cmdToggle(ctx, rest, true)
	case "undo":
		err = cli.cmdToggle(ctx, rest, false)
	case "rename":
		err = cli.cmdRename(ctx, rest)
	case "rm":
		err = cli.cmdRemove(ctx, rest)
	case "list":
		err = cli.cmdList(ctx, rest)
	case "dashboard":
		err = cli.cmdDashboard(ctx)
	case "stats":
		err = cli.cmdStats(ctx)
	case "watch":
		err = cli.cmdWatch(ctx, rest)
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		return 1
	}

	if err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprint(os.Stderr, `tally: track tasks and see how you are doing

Usage:
  tally [flags] <command> [args]

Flags:
  --server <url>     server URL (default: http://localhost:9090, or $TALLY_SERVER)
  --token  <token>   session token (or $TALLY_TOKEN; login saves one)
  --config <path>    YAML config file
  --local            use the local data directory instead of a server
  -v                 debug logging

Commands:
  version                    print version
  update [-check]            install the latest release
  status                     show server status
  signup <name> <email>      create an account (password is prompted)
  login <email>              sign in (password is prompted)
  logout                     sign out
  whoami                     show the signed-in user
  add <category> <text>      add a task (work, personal, shopping, health, education)
  done <id>                  mark a task completed
  undo <id>                  mark a task active again
  rename <id> <text>         change a task's text
  rm [-y] <id>               delete a task
  list [filter]              list tasks (all, active, completed or a category)
  dashboard                  stat tiles and recent tasks
  stats                      analytics charts
  watch [filter]             follow the task list live
`)
}

// --- version & update ---

func cmdVersion() {
	fmt.Println("tally " + version.String())
}

func cmdUpdate(ctx context.Context, args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("update", flag.ContinueOnError)
	checkOnly := fs.Bool("check", false, "only report whether an update exists")
	if err := fs.Parse(args); err != nil {
		return err
	}

	u := update.New(version.Version, update.WithLogger(logger))
	rel, err := u.CheckForUpdate(ctx)
	if err != nil {
		return err
	}
	if rel == nil {
		fmt.Printf("tally %s is the latest version\n", version.Version)
		return nil
	}
	if *checkOnly {
		fmt.Printf("Update available: %s (current %s)\n", rel.Version, version.Version)
		return nil
	}
	fmt.Printf("Updating to %s...\n", rel.Version)
	if err := u.ApplyUpdate(ctx, rel); err != nil {
		return err
	}
	fmt.Printf("Updated to %s\n", rel.Version)
	return nil
}
