package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/agentic-research/armory/api"
	"github.com/agentic-research/armory/internal/config"
	"github.com/agentic-research/armory/internal/logging"
	"github.com/agentic-research/armory/internal/metrics"
	"github.com/agentic-research/armory/internal/store"
)

// app is the state every subcommand shares, built once per invocation.
type app struct {
	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	out     io.Writer
}

type appKey struct{}

func fromCmd(cmd *cobra.Command) *app {
	return cmd.Context().Value(appKey{}).(*app)
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)
	root := &cobra.Command{
		Use:           "armory",
		Short:         "Armory: crafting-tree warehouse for a multilingual game wiki",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Log.Level = logLevel
			}
			a := &app{
				cfg:     cfg,
				log:     logging.New(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr()),
				metrics: metrics.New(),
				out:     cmd.OutOrStdout(),
			}
			slog.SetDefault(a.log)
			cmd.SetContext(context.WithValue(cmd.Context(), appKey{}, a))
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to an HCL config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override the log level (debug, info, warn, error)")

	root.AddCommand(
		newProvisionCmd(),
		newHarvestCmd(),
		newRebuildCmd(),
		newReportCmd(),
		newServeCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	catalog, err := a.catalog()
	if err != nil {
		return nil, err
	}
	return store.Open(ctx, store.Config{
		Driver:    a.cfg.Database.Driver,
		DSN:       a.cfg.Database.DSN,
		BatchSize: a.cfg.Database.BatchSize,
		Log:       a.log,
	}, catalog, a.cfg.Locales())
}

func (a *app) catalog() (*api.Catalog, error) {
	if a.cfg.Catalog == "" {
		return api.DefaultCatalog()
	}
	return api.LoadCatalog(a.cfg.Catalog)
}

// flushMetrics writes the textfile for batch commands; failures are logged
// and do not fail the command.
func (a *app) flushMetrics() {
	if err := a.metrics.WriteTextfile(a.cfg.Metrics.Textfile); err != nil {
		a.log.Warn("metrics textfile", "error", err)
	}
}

func newProvisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Drop and recreate every table and view in the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a := fromCmd(cmd)
			s, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer func() { _ = s.Close() }()
			if err := s.Provision(cmd.Context()); err != nil {
				return err
			}
			a.log.Info("provisioned", "driver", a.cfg.Database.Driver, "locales", s.Locales())
			return nil
		},
	}
}
