// Package main provides the flowkeeper CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/orneryd/flowkeeper/pkg/config"
	"github.com/orneryd/flowkeeper/pkg/logging"
	"github.com/orneryd/flowkeeper/pkg/storage"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: failed to load .env: %v\n", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// app carries the state shared by every subcommand once flags are parsed.
type app struct {
	cfg    *config.Config
	log    zerolog.Logger
	closer io.Closer
}

func newRootCmd() *cobra.Command {
	a := &app{log: zerolog.Nop()}

	rootCmd := &cobra.Command{
		Use:   "flowkeeper",
		Short: "flowkeeper - history and consistency engine for chatbot flow graphs",
		Long: `flowkeeper keeps a flow graph's edges consistent and recoverable.

It inspects and repairs the edge snapshots written by the editor, runs
recovery passes against a live graph document, and normalizes connection
handles in exported flows.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.load,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.closer != nil {
				a.closer.Close()
			}
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("config", "", "Config file (default: search standard locations)")
	pf.String("backend", "", "Snapshot backend: memory, file, badger, redis")
	pf.String("data-dir", "", "Data directory for the file and badger backends")
	pf.String("log-level", "", "Log level: trace, debug, info, warn, error")

	rootCmd.AddCommand(&cobra.Command{
		Use:               "version",
		Short:             "Print version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "flowkeeper v%s (%s) built %s\n", version, commit, buildTime)
		},
	})
	rootCmd.AddCommand(a.inspectCmd(), a.recoverCmd(), a.normalizeCmd(), a.backupCmd())
	return rootCmd
}

// load resolves configuration with flags taking precedence over the
// environment and the config file.
func (a *app) load(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	path, _ := flags.GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return err
	}

	if v, _ := flags.GetString("backend"); v != "" {
		cfg.Persistence.Backend = strings.ToLower(v)
	}
	if v, _ := flags.GetString("data-dir"); v != "" {
		cfg.Persistence.DataDir = v
	}
	if v, _ := flags.GetString("log-level"); v != "" {
		cfg.Logging.Level = v
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, closer, err := logging.New(logging.Config{
		Level:    cfg.Logging.Level,
		Format:   cfg.Logging.Format,
		Output:   cfg.Logging.Output,
		FilePath: cfg.Logging.File,
	})
	if err != nil {
		return err
	}

	a.cfg, a.log, a.closer = cfg, log, closer
	a.log.Debug().Str("config", cfg.String()).Str("file", path).Msg("configuration loaded")
	return nil
}

func (a *app) openStore(ctx context.Context) (storage.Store, error) {
	p := a.cfg.Persistence
	store, err := storage.Open(ctx, storage.Options{
		Backend:        p.Backend,
		DataDir:        p.DataDir,
		SyncWrites:     p.SyncWrites,
		RedisURL:       p.RedisURL,
		RedisNamespace: p.RedisNamespace,
		TTL:            p.SnapshotTTL,
		Logger:         &a.log,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", p.Backend, err)
	}
	return store, nil
}

// flowID returns the --flow flag, falling back to the configured flow.
func (a *app) flowID(cmd *cobra.Command) string {
	if v, _ := cmd.Flags().GetString("flow"); v != "" {
		return v
	}
	return a.cfg.Engine.FlowID
}
