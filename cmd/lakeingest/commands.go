package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/config"
	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/JonMunkholm/lakeingest/internal/pipeline"
	"github.com/JonMunkholm/lakeingest/internal/web"
)

// options collects every subcommand flag. Each command reads its own.
type options struct {
	batchID    string
	sourceID   string
	sourceType string
	dir        string
	promote    *bool
	olderThan  time.Duration
}

type command struct {
	summary string
	parse   func(args []string, stderr io.Writer) (options, error)
	exec    func(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer) int
}

var commandOrder = []string{"run", "promote", "reconcile", "migrate", "serve"}

var commands = map[string]command{
	"run":       {"ingest one batch of source files", parseRun, execStep(pipeline.StepIngest)},
	"promote":   {"rebuild staging tables for a finished batch", parsePromote, execStep(pipeline.StepPromote)},
	"reconcile": {"close batches left pending by a crashed run", parseReconcile, execStep(pipeline.StepReconcile)},
	"migrate":   {"apply database migrations", parseNone("migrate"), execMigrate},
	"serve":     {"start the HTTP API", parseNone("serve"), execServe},
}

func newFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func parseRun(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := newFlagSet("run", stderr)
	fs.StringVar(&o.batchID, "batch", "", "batch identifier (required, must be new)")
	fs.StringVar(&o.sourceID, "source", "", "source identifier (required)")
	fs.StringVar(&o.sourceType, "type", "", "source type selecting the mapping rules (required)")
	fs.StringVar(&o.dir, "dir", "", "incoming directory (default: <root>/<source>/<incoming>)")
	promote := fs.Bool("promote", false, "promote touched tables to staging after the batch (default: INGEST_PROMOTE)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	fs.Visit(func(f *flag.Flag) {
		if f.Name == "promote" {
			o.promote = promote
		}
	})
	if o.batchID == "" || o.sourceID == "" || o.sourceType == "" {
		fmt.Fprintln(stderr, "run: -batch, -source and -type are required")
		fs.Usage()
		return o, errors.New("missing required flags")
	}
	return o, nil
}

func parsePromote(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := newFlagSet("promote", stderr)
	fs.StringVar(&o.batchID, "batch", "", "finished batch whose tables to promote (required)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.batchID == "" {
		fmt.Fprintln(stderr, "promote: -batch is required")
		fs.Usage()
		return o, errors.New("missing required flags")
	}
	return o, nil
}

func parseReconcile(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := newFlagSet("reconcile", stderr)
	fs.StringVar(&o.batchID, "batch", "", "reconcile only this batch")
	fs.DurationVar(&o.olderThan, "older-than", 0, "pending age that counts as stale (default: RECONCILE_STALE_AFTER)")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.batchID != "" && o.olderThan != 0 {
		fmt.Fprintln(stderr, "reconcile: -batch and -older-than are mutually exclusive")
		return o, errors.New("conflicting flags")
	}
	if o.olderThan < 0 {
		fmt.Fprintln(stderr, "reconcile: -older-than must be positive")
		return o, errors.New("invalid flag")
	}
	return o, nil
}

func parseNone(name string) func([]string, io.Writer) (options, error) {
	return func(args []string, stderr io.Writer) (options, error) {
		fs := newFlagSet(name, stderr)
		if err := fs.Parse(args); err != nil {
			return options{}, err
		}
		if fs.NArg() > 0 {
			fmt.Fprintf(stderr, "%s: unexpected arguments %v\n", name, fs.Args())
			return options{}, errors.New("unexpected arguments")
		}
		return options{}, nil
	}
}

func (o options) request() pipeline.Request {
	return pipeline.Request{
		BatchID:    o.batchID,
		SourceID:   o.sourceID,
		SourceType: o.sourceType,
		Dir:        o.dir,
		Promote:    o.promote,
		OlderThan:  pipeline.Duration(o.olderThan),
	}
}

// execStep runs one pipeline step and prints its result as JSON.
func execStep(kind pipeline.StepKind) func(context.Context, *config.Config, options, io.Writer) int {
	return func(ctx context.Context, cfg *config.Config, opts options, stdout io.Writer) int {
		a, err := newApp(ctx, cfg)
		if err != nil {
			slog.Error("startup failed", "error", err)
			return exitFailure
		}
		defer a.close()

		ctx = core.ContextWithActor(ctx, "cli")
		res, err := a.steps(nil).Run(ctx, kind, opts.request())
		if err != nil {
			ue := core.NewUserError(err)
			slog.Error("step failed",
				"step", kind,
				"code", ue.User.Code,
				"message", ue.User.Message,
				"action", ue.User.Action,
				"error", ue.Technical,
			)
			return exitFailure
		}
		if err := printJSON(stdout, res); err != nil {
			slog.Error("write result", "error", err)
			return exitFailure
		}
		return resultExitCode(res)
	}
}

// resultExitCode reports a batch that ran but did not fully succeed, or any
// failed promotion or reconciliation, as exitBatchError.
func resultExitCode(res *pipeline.Result) int {
	if res == nil {
		return exitOK
	}
	if res.Batch != nil && res.Batch.Status != core.BatchSuccess {
		return exitBatchError
	}
	promotions := res.Promotions
	if res.Batch != nil {
		promotions = append(promotions, res.Batch.Promotions...)
	}
	for _, p := range promotions {
		if !p.OK() {
			return exitBatchError
		}
	}
	for _, r := range res.Reconciled {
		if r.Error != "" {
			return exitBatchError
		}
	}
	return exitOK
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func execMigrate(_ context.Context, cfg *config.Config, _ options, _ io.Writer) int {
	if err := migrateDatabase(cfg.Database); err != nil {
		slog.Error("migration failed", "error", err)
		return exitFailure
	}
	return exitOK
}

// execServe runs the API until a signal arrives, then stops the reconciler,
// waits for the running batch and drains HTTP connections.
func execServe(ctx context.Context, cfg *config.Config, _ options, _ io.Writer) int {
	a, err := newApp(ctx, cfg)
	if err != nil {
		slog.Error("startup failed", "error", err)
		return exitFailure
	}
	defer a.close()

	gate := core.NewBatchGate(cfg.Server.BatchWaitTime)
	server := web.NewServer(web.Deps{
		Steps:      a.steps(gate),
		Lineage:    a.lineage,
		Stale:      a.reconciler,
		Gate:       gate,
		Ping:       a.pool.Ping,
		StaleAfter: cfg.Reconcile.StaleAfter,
	}, cfg.Server)

	jobCtx, cancelJobs := context.WithCancel(core.ContextWithActor(context.Background(), "reconciler"))
	defer cancelJobs()
	if cfg.Reconcile.Enabled {
		go a.reconciler.StartScheduler(jobCtx, core.ReconcileConfig{
			StaleAfter:    cfg.Reconcile.StaleAfter,
			CheckInterval: cfg.Reconcile.CheckInterval,
		})
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr())
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			return exitFailure
		}
		return exitOK
	case <-ctx.Done():
	}

	slog.Info("shutting down...")
	cancelJobs()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if status := gate.Status(); status.Busy {
		slog.Info("waiting for batch to complete", "batch_id", status.BatchID)
		if err := gate.WaitForDrain(shutdownCtx); err != nil {
			slog.Warn("batch did not complete in time; it will be left pending for reconciliation",
				"batch_id", status.BatchID, "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
		return exitFailure
	}
	slog.Info("server stopped")
	return exitOK
}
