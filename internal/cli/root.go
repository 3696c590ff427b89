package cli

import (
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"payrollx/internal/platform/config"
	"payrollx/internal/platform/logging"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	LogLevel string
}

func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "payrollx",
		Short:         "Payroll run orchestration engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "override LOG_LEVEL")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewRunsCommand(opts))
	cmd.AddCommand(NewTokenCommand())
	cmd.AddCommand(NewCallbackHashCommand())

	return cmd
}

// loadConfig reads and validates the environment configuration and builds
// the process logger from it.
func loadConfig(opts *RootOptions, logOut io.Writer) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, nil, err
	}
	if opts.LogLevel != "" {
		cfg.LogLevel = opts.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, logging.New(cfg.LogLevel, cfg.ServiceName, logOut), nil
}
