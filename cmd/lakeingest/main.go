// Command lakeingest loads governed CSV exports into the raw layer of the
// lake, records their lineage and optionally promotes them to typed staging
// tables.
//
// Usage:
//
//	lakeingest run -batch ID -source SOURCE -type TYPE [-dir DIR] [-promote]
//	lakeingest promote -batch ID
//	lakeingest reconcile [-batch ID | -older-than 6h]
//	lakeingest migrate
//	lakeingest serve
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/JonMunkholm/lakeingest/internal/config"
	"github.com/JonMunkholm/lakeingest/internal/logging"
	"github.com/joho/godotenv"
)

// Exit codes. A batch that ran but did not fully succeed is not a crash.
const (
	exitOK         = 0
	exitFailure    = 1
	exitBatchError = 2
	exitUsage      = 64
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitUsage
	}
	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n\n", args[0])
		usage(stderr)
		return exitUsage
	}

	opts, err := cmd.parse(args[1:], stderr)
	if err != nil {
		return exitUsage
	}

	// Overload so a local .env wins over the inherited environment.
	if err := godotenv.Overload(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return exitFailure
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Debug("configuration loaded", "config", cfg.String())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return cmd.exec(ctx, cfg, opts, stdout)
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: lakeingest <command> [flags]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, name := range commandOrder {
		fmt.Fprintf(w, "  %-10s %s\n", name, commands[name].summary)
	}
}
