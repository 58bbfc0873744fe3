package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schemaguard/schemaguard/internal/config"
	"github.com/schemaguard/schemaguard/internal/engine"
	"github.com/schemaguard/schemaguard/internal/logging"
	"github.com/schemaguard/schemaguard/internal/schema"
)

var (
	cfgFile   string
	logLevel  string
	statePath string
	version   = "dev"
	commit    = "none"
	date      = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "schemaguard",
	Short: "schemaguard: schema change analysis and migration planning",
	Long: `schemaguard compares two schema snapshots of a modular application,
classifies every change by risk using live row counts, orders modules by
their foreign-key dependencies and writes staged SQL migrations with
pre-flight checks and a rollback script.`,
	SilenceUsage: true,
}

// Execute runs the root command with a context cancelled on SIGINT/SIGTERM.
func Execute() {
	rootCmd.Version = fmt.Sprintf("%s (commit %s, built %s)", version, commit, date)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ~/.schemaguard/schemaguard.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&statePath, "state", "", "state file (default: ~/.schemaguard/state.yaml)")
}

// app bundles the configuration, logger and engine most commands need.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	engine *engine.Engine
	closer io.Closer
}

func newApp() (*app, error) {
	cfg, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	logger, closer, err := logging.Setup(cfg.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(cfg, logger)
	if err != nil {
		closer.Close()
		return nil, err
	}
	if statePath != "" {
		eng.SetStatePath(config.ExpandHome(statePath))
	}

	return &app{cfg: cfg, logger: logger, engine: eng, closer: closer}, nil
}

func (a *app) Close() {
	a.closer.Close()
}

// loadPair resolves the before and after snapshots. An empty before uses
// the snapshot cached by the last saved analysis.
func (a *app) loadPair(ctx context.Context, before, after string) (*schema.Snapshot, *schema.Snapshot, string, error) {
	if after == "" {
		return nil, nil, "", fmt.Errorf("--after is required (a YAML file, a models directory or %q)", engine.LiveSource)
	}
	afterSnap, err := a.engine.LoadSnapshot(ctx, after)
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading after snapshot: %w", err)
	}

	if before != "" {
		beforeSnap, err := a.engine.LoadSnapshot(ctx, before)
		if err != nil {
			return nil, nil, "", fmt.Errorf("loading before snapshot: %w", err)
		}
		return beforeSnap, afterSnap, before, nil
	}

	st, err := a.engine.LoadState()
	if err != nil {
		return nil, nil, "", fmt.Errorf("loading state: %w", err)
	}
	if st.Snapshot == nil {
		return nil, nil, "", fmt.Errorf("no cached snapshot; pass --before or start watch to record a baseline")
	}
	return st.Snapshot, afterSnap, "cached", nil
}
