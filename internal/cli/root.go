// Package cli implements the duelrank command line: pairing designs, scoring
// crowd result sheets, near-duplicate filtering and offline simulation.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/okian/duelrank/internal/config"
	"github.com/okian/duelrank/pkg/logger"
)

// app carries state shared by every subcommand once the root pre-run has
// loaded configuration.
type app struct {
	cfg       *config.Config
	log       logger.Logger
	logLevel  string
	logFormat string
}

// NewRootCommand builds the duelrank command tree.
func NewRootCommand() *cobra.Command {
	a := &app{cfg: config.New(), log: logger.Nop()}
	root := &cobra.Command{
		Use:   "duelrank",
		Short: "Pairwise comparison designs and Bradley-Terry rankings",
		Long: `duelrank designs pairwise comparison experiments, turns crowd ballots
into per-pair tallies and fits a Bradley-Terry ranking from them.

Defaults come from the service configuration: DUELRANK_CONFIG names an
optional YAML file and DUELRANK_* variables override it. Flags override both.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: text or json")

	root.AddCommand(
		a.pairsCmd(),
		a.scoreCmd(),
		a.estimateCmd(),
		a.dedupeCmd(),
		a.divergenceCmd(),
		a.simulateCmd(),
	)
	return root
}

// Execute runs the command tree with ctx.
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Context())
	if err != nil {
		return err
	}
	a.cfg = cfg

	format := cfg.LogFormat
	if a.logFormat != "" {
		format = a.logFormat
	}
	if err := logger.Init(logger.WithWriter(cmd.ErrOrStderr()), logger.WithFormat(format)); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	level := cfg.LogLevel
	if a.logLevel != "" {
		level = a.logLevel
	}
	if err := logger.SetLevelString(level); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	a.log = logger.Named("cli")
	return nil
}
