package cmd

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/config"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/llmutil"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
	"github.com/xkilldash9x/surfer-cli/internal/server"
)

// storeProvider creates the store behind the runs commands, so tests can
// inject one without a database.
type storeProvider interface {
	Create(ctx context.Context, cfg *config.Config) (server.RunStore, func(), error)
}

type defaultStoreProvider struct{}

// NewStoreProvider returns the provider that connects to PostgreSQL.
func NewStoreProvider() storeProvider {
	return &defaultStoreProvider{}
}

func (p *defaultStoreProvider) Create(ctx context.Context, cfg *config.Config) (server.RunStore, func(), error) {
	if cfg.Database.URL == "" {
		return nil, nil, fmt.Errorf("database URL is not configured (SURFER_DATABASE_URL)")
	}
	logger := observability.GetLogger()
	s, cleanup, err := openStore(ctx, cfg.Database.URL, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return s, func() {
		cleanup()
		logger.Debug("Database connection pool closed (via runs cleanup).")
	}, nil
}

func newRunsCmd(provider storeProvider) *cobra.Command {
	runsCmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect runs persisted in the database",
	}

	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the most recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, provider, func(ctx context.Context, s server.RunStore) error {
				runs, err := s.ListRuns(ctx, limit)
				if err != nil {
					return fmt.Errorf("failed to list runs: %w", err)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tSTATUS\tSTEPS\tSTARTED\tDURATION\tTASK")
				for _, r := range runs {
					fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
						r.RunID, r.Status, r.Steps,
						r.StartedAt.Format(time.RFC3339),
						r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond),
						llmutil.Truncate(r.Task, 60))
				}
				return tw.Flush()
			})
		},
	}
	listCmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of runs to list")

	var outputPath string
	showCmd := &cobra.Command{
		Use:   "show [run-id]",
		Short: "Print the redacted history of a run as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, provider, func(ctx context.Context, s server.RunStore) error {
				export, err := s.GetRun(ctx, args[0])
				if err != nil {
					return fmt.Errorf("failed to load run %s: %w", args[0], err)
				}
				if outputPath != "" {
					if err := writeExport(outputPath, export); err != nil {
						return err
					}
					observability.GetLogger().Info("History written to file", zap.String("path", outputPath))
					return nil
				}
				return printExport(cmd.OutOrStdout(), export)
			})
		},
	}
	showCmd.Flags().StringVarP(&outputPath, "output", "o", "", "Write the history to this file instead of stdout")

	runsCmd.AddCommand(listCmd, showCmd)
	return runsCmd
}

func withStore(cmd *cobra.Command, provider storeProvider, fn func(context.Context, server.RunStore) error) error {
	ctx := cmd.Context()
	cfg, err := getConfig(cmd)
	if err != nil {
		return err
	}
	s, cleanup, err := provider.Create(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	if cleanup != nil {
		defer cleanup()
	}
	return fn(ctx, s)
}

func printExport(w io.Writer, export history.RunExport) error {
	return history.WriteJSON(w, export)
}

