package cli

import (
	"context"
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"payrollx/internal/app/server"
)

// NewRunsCommand groups operator commands that inspect payroll runs
// directly against storage.
func NewRunsCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect payroll runs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <run-id>",
		Short: "Print a payroll run with its items as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *server.App) error {
				run, err := app.Coord.GetRun(ctx, args[0])
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), run)
			})
		},
	})

	var (
		limit int
		org   string
	)
	exhausted := &cobra.Command{
		Use:   "exhausted",
		Short: "List failed items that used up their retries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, app *server.App) error {
				items, err := app.Coord.ListExhausted(ctx, org, limit)
				if err != nil {
					return err
				}
				return writeJSON(cmd.OutOrStdout(), items)
			})
		},
	}
	exhausted.Flags().IntVar(&limit, "limit", 100, "maximum items to list")
	exhausted.Flags().StringVar(&org, "org", "", "only list items of this organization")
	cmd.AddCommand(exhausted)

	return cmd
}

func withApp(cmd *cobra.Command, opts *RootOptions, fn func(context.Context, *server.App) error) error {
	cfg, log, err := loadConfig(opts, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	cfg.RunMigrations = false
	cfg.ResultsConsumerEnabled = false
	app, err := server.New(cmd.Context(), cfg, log, server.Collaborators{})
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(cmd.Context(), app)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
