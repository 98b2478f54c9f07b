package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
)

func newRunCmd() *cobra.Command {
	var (
		allowedDomains []string
		secrets        []string
		maxSteps       int
		startURL       string
		exportPath     string
		pageSummaries  bool
	)

	cmd := &cobra.Command{
		Use:   "run [task]",
		Short: "Run a single task in a fresh browser session",
		Long: `Runs the agent loop until the model reports the task done, the step
ceiling is reached or the command is interrupted.

Secrets are bound per domain pattern with --secret pattern=name:ENV_VAR. The
model only ever sees <secret>name</secret>; the value is read from ENV_VAR.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("run")

			bindings, err := resolveSecrets(cfg, secrets)
			if err != nil {
				return err
			}
			if len(allowedDomains) == 0 {
				allowedDomains = cfg.Agent.AllowedDomains
			}

			a, err := newApp(ctx, cfg, logger, appOptions{withModel: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			driver, err := a.driverFactory()(ctx)
			if err != nil {
				return fmt.Errorf("failed to open browser session: %w", err)
			}
			defer func() {
				if err := driver.Close(); err != nil {
					logger.Warn("Failed to close browser session", zap.Error(err))
				}
			}()

			res, err := a.buildAgent(driver).Run(ctx, agent.RunRequest{
				Task:           args[0],
				AllowedDomains: allowedDomains,
				SecretBindings: bindings,
				MaxSteps:       maxSteps,
				StartURL:       startURL,
			})
			if err != nil {
				return err
			}

			printResult(cmd.OutOrStdout(), res)

			if exportPath != "" {
				if err := writeExport(exportPath, res.Export(history.ExportOptions{IncludePageSummary: pageSummaries})); err != nil {
					return err
				}
				logger.Info("History exported", zap.String("path", exportPath))
			}

			if res.State.Status != agent.StatusCompleted {
				return fmt.Errorf("run %s %s: %s", res.RunID, res.State.Status, res.State.LastError)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&allowedDomains, "allowed-domain", "d", nil, "Domain pattern the agent may visit (repeatable, e.g. *.example.com)")
	cmd.Flags().StringArrayVar(&secrets, "secret", nil, "Secret binding pattern=name:ENV_VAR (repeatable)")
	cmd.Flags().IntVar(&maxSteps, "max-steps", 0, "Step ceiling for this run (default from config)")
	cmd.Flags().StringVar(&startURL, "start-url", "", "URL loaded before the first step")
	cmd.Flags().StringVarP(&exportPath, "export", "o", "", "Write the redacted run history as JSON to this file")
	cmd.Flags().BoolVar(&pageSummaries, "page-summaries", false, "Include the rendered element list of every step in the export")
	return cmd
}

func printResult(w io.Writer, res *agent.RunResult) {
	fmt.Fprintf(w, "Run:    %s\n", res.RunID)
	fmt.Fprintf(w, "Status: %s\n", res.State.Status)
	fmt.Fprintf(w, "Steps:  %d\n", res.State.Step)
	if res.State.Summary != "" {
		fmt.Fprintf(w, "Result: %s\n", res.State.Summary)
	}
	if res.State.LastError != "" {
		fmt.Fprintf(w, "Error:  [%s] %s\n", res.State.LastErrorKind, res.State.LastError)
	}
}

func writeExport(path string, export history.RunExport) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create export file: %w", err)
	}
	if err := history.WriteJSON(f, export); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
