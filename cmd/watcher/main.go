package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/crafting-demo/claude-pr-review/internal/config"
	"github.com/crafting-demo/claude-pr-review/internal/dispatch"
	"github.com/crafting-demo/claude-pr-review/internal/github"
	"github.com/crafting-demo/claude-pr-review/internal/scan"
	"github.com/crafting-demo/claude-pr-review/internal/state"
)

// exitTempFail is returned when the GitHub API quota is exhausted, so a
// scheduler can tell "retry later" apart from a real failure. Value from
// sysexits.h EX_TEMPFAIL.
const exitTempFail = 75

type exitError struct {
	Code int
	Err  error
}

func (e *exitError) Error() string {
	if e == nil || e.Err == nil {
		return "watcher run failed"
	}
	return e.Err.Error()
}

func (e *exitError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		var coded *exitError
		if errors.As(err, &coded) {
			os.Exit(coded.Code)
		}
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts dispatch.Options

	cmd := &cobra.Command{
		Use:           "watcher",
		Short:         "Watch GitHub repositories and dispatch sandboxed review agents",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.DryRun, "dry-run", "d", false, "Run without executing actions or posting comments")
	cmd.Flags().BoolVarP(&opts.Verbose, "verbose", "v", false, "Run with verbose logging")
	cmd.Flags().BoolVar(&opts.Debug, "debug", false, "Wait for worker initialization and leave the sandbox alive")

	return cmd
}

func run(ctx context.Context, opts dispatch.Options) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger, err := buildLogger(opts.Verbose, cfg.WatcherLogFile)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting GitHub watcher",
		zap.Int("watched_repos", len(cfg.Watchlist)),
		zap.Bool("dry_run", opts.DryRun),
		zap.Bool("debug", opts.Debug),
	)

	store := state.NewStore(cfg.StateFile)
	st, err := store.Load()
	if err != nil {
		return err
	}

	ghClient := github.NewClient(cfg.Token, logger)
	runner := dispatch.NewExecRunner(logger)
	controller := dispatch.NewController(cfg, runner, ghClient, logger, opts)

	prScanner := scan.NewPRScanner(ghClient, controller, cfg, logger)
	issueScanner := scan.NewIssueScanner(ghClient, controller, cfg, logger)

	prsChanged, err := prScanner.Scan(ctx, st)
	if err != nil {
		return mapRunError(err)
	}
	issuesChanged, err := issueScanner.Scan(ctx, st)
	if err != nil {
		return mapRunError(err)
	}

	if prsChanged || issuesChanged {
		if err := store.Save(st); err != nil {
			return err
		}
		logger.Info("state updated")
	} else {
		logger.Info("no new activity")
	}

	logger.Info("watcher run completed")
	return nil
}

func mapRunError(err error) error {
	if errors.Is(err, github.ErrQuotaExhausted) {
		return &exitError{Code: exitTempFail, Err: err}
	}
	return err
}

// buildLogger selects the zap configuration: development at debug level
// when verbose, production otherwise. WATCHER_LOG_FILE routes output
// through lumberjack rotation instead of stderr.
func buildLogger(verbose bool, logFile string) (*zap.Logger, error) {
	if logFile == "" {
		if verbose {
			return zap.NewDevelopment()
		}
		return zap.NewProduction()
	}

	level := zapcore.InfoLevel
	if verbose {
		level = zapcore.DebugLevel
	}
	sink := zapcore.AddSync(&lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	})
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		sink,
		level,
	)
	return zap.New(core), nil
}
