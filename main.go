package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/dhcgn/mail-normalize/cmd"
	"github.com/dhcgn/mail-normalize/config"
	_ "github.com/dhcgn/mail-normalize/eml"
	"github.com/dhcgn/mail-normalize/mbox"
	_ "github.com/dhcgn/mail-normalize/msg"
	"github.com/dhcgn/mail-normalize/progress"
	"github.com/dhcgn/mail-normalize/runner"
	"github.com/dhcgn/mail-normalize/sink"
	"github.com/dhcgn/mail-normalize/stats"
	"github.com/dhcgn/mail-normalize/walker"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "mail-normalize [files or directories...]",
		Short: "Normalize .eml and .msg files into JSON records",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cmd, args)
			if err != nil {
				return err
			}

			logger, cleanup, err := setupLogger(cfg)
			if err != nil {
				return err
			}
			defer func() {
				_ = cleanup()
			}()

			slog.SetDefault(logger)
			logger.Info("starting mail-normalize", "inputs", cfg.Inputs, "output", cfg.Output, "workers", cfg.Workers, "dryRun", cfg.DryRun)

			return run(cfg, logger)
		},
	}

	if err := config.RegisterFlags(rootCmd); err != nil {
		fmt.Fprintf(os.Stderr, "failed to register CLI flags: %v\n", err)
		os.Exit(1)
	}
	rootCmd.AddCommand(cmd.NewStatsCommand(slog.Default))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *slog.Logger) error {
	r, err := runner.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("runner.New: %w", err)
	}

	if cfg.Progress {
		w, err := walker.New(cfg.Inputs, logger)
		if err != nil {
			return fmt.Errorf("walker.New: %w", err)
		}
		files, err := w.Collect(context.Background())
		if err != nil {
			return fmt.Errorf("count input files: %w", err)
		}
		bar := progress.New(len(files), true, os.Stderr)
		progress.NewReporter(r, bar, os.Stderr)
	} else {
		stats.NewReporter(r, logger)
	}

	if _, err := walker.NewProducer(cfg.Inputs, r, logger); err != nil {
		return fmt.Errorf("walker.NewProducer: %w", err)
	}

	sinks, err := openSinks(cfg, logger)
	if err != nil {
		return err
	}
	for _, s := range sinks {
		r.AddSink(s)
	}

	return r.Start()
}

// openSinks creates the configured outputs. In dry-run mode nothing is
// opened so no file is created or truncated.
func openSinks(cfg config.Config, logger *slog.Logger) (sinks []sink.Sink, err error) {
	if cfg.DryRun {
		return nil, nil
	}
	defer func() {
		if err != nil {
			for _, s := range sinks {
				_ = s.Close()
			}
			sinks = nil
		}
	}()

	out, err := sink.OpenJSON(cfg.Output)
	if err != nil {
		return sinks, fmt.Errorf("open output: %w", err)
	}
	sinks = append(sinks, out)

	if cfg.ExtractDir != "" {
		x, err := sink.NewExtractor(cfg.ExtractDir, logger)
		if err != nil {
			return sinks, fmt.Errorf("extract dir: %w", err)
		}
		sinks = append(sinks, x)
	}

	if cfg.MboxOut != "" {
		mw, err := mbox.NewWriter(mbox.Options{Path: cfg.MboxOut}, logger)
		if err != nil {
			return sinks, fmt.Errorf("mbox.NewWriter: %w", err)
		}
		sinks = append(sinks, mw)
	}

	return sinks, nil
}

// setupLogger writes text logs to stderr, keeping stdout free for records,
// and optionally to a timestamped file under LogDir.
func setupLogger(cfg config.Config) (*slog.Logger, func() error, error) {
	level := new(slog.LevelVar)
	level.Set(slog.LevelInfo)

	switch cfg.LogLevel {
	case "debug":
		level.Set(slog.LevelDebug)
	case "info":
		level.Set(slog.LevelInfo)
	case "warn":
		level.Set(slog.LevelWarn)
	case "error":
		level.Set(slog.LevelError)
	}

	opts := &slog.HandlerOptions{Level: level}
	cleanup := func() error { return nil }
	runID := uuid.NewString()

	// The progress bar owns stderr; only warnings and errors interleave with it.
	console := io.Writer(os.Stderr)
	if cfg.Progress && level.Level() < slog.LevelWarn {
		level.Set(slog.LevelWarn)
	}

	if cfg.LogDir != "" {
		if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
			return nil, cleanup, err
		}

		logFilePath := filepath.Join(cfg.LogDir, fmt.Sprintf("mail-normalize-%s.log", time.Now().Format("20060102T150405")))
		file, err := os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, cleanup, err
		}

		handler := slog.NewTextHandler(io.MultiWriter(console, file), opts)
		cleanup = func() error {
			return file.Close()
		}
		return slog.New(handler).With("run", runID), cleanup, nil
	}

	handler := slog.NewTextHandler(console, opts)
	return slog.New(handler).With("run", runID), cleanup, nil
}
