package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/api/schemas"
	"github.com/xkilldash9x/surfer-cli/internal/actions"
	"github.com/xkilldash9x/surfer-cli/internal/agent"
	"github.com/xkilldash9x/surfer-cli/internal/browser/browsertest"
	"github.com/xkilldash9x/surfer-cli/internal/dom"
	"github.com/xkilldash9x/surfer-cli/internal/history"
	"github.com/xkilldash9x/surfer-cli/internal/observability"
	"github.com/xkilldash9x/surfer-cli/internal/scope"
	"github.com/xkilldash9x/surfer-cli/internal/vault"
)

type replayOptions struct {
	skipFailures   bool
	delay          time.Duration
	allowedDomains []string
	secrets        []string
	startURL       string
	dryRun         bool
	pages          map[string]string
}

func newReplayCmd() *cobra.Command {
	opts := replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay [history.json]",
		Short: "Re-execute an exported run history",
		Long: `Replays the records of an exported history in order. Each recorded target
is re-found on the live page by its similarity key, and secret placeholders
are filled from the bindings given with --secret or the config file.

With --dry-run no browser is started; pages are served from saved HTML files
given as --page url=file.html.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("replay")

			f, err := os.Open(args[0])
			if err != nil {
				return fmt.Errorf("failed to open history file: %w", err)
			}
			export, err := history.ReadJSON(f)
			_ = f.Close()
			if err != nil {
				return err
			}
			if len(export.Records) == 0 {
				return fmt.Errorf("history %s has no records", args[0])
			}

			bindings, err := resolveSecrets(cfg, opts.secrets)
			if err != nil {
				return err
			}
			if len(opts.allowedDomains) == 0 {
				opts.allowedDomains = cfg.Agent.AllowedDomains
			}
			if opts.startURL == "" {
				opts.startURL = export.Records[0].URL
			}

			var driver schemas.BrowserDriver
			if opts.dryRun {
				pages, err := loadPages(opts.pages)
				if err != nil {
					return err
				}
				driver = browsertest.NewDriver(opts.startURL, pages)
			} else {
				a, err := newApp(ctx, cfg, logger, appOptions{})
				if err != nil {
					return err
				}
				defer a.Close(ctx)
				if driver, err = a.driverFactory()(ctx); err != nil {
					return fmt.Errorf("failed to open browser session: %w", err)
				}
				if err := driver.Navigate(ctx, opts.startURL); err != nil {
					_ = driver.Close()
					return fmt.Errorf("failed to load start url: %w", err)
				}
			}
			defer func() {
				if err := driver.Close(); err != nil {
					logger.Warn("Failed to close browser session", zap.Error(err))
				}
			}()

			steps, err := replayHistory(ctx, driver, export, bindings, opts, agent.NewConfig(cfg.Agent), logger)
			printReplay(cmd.OutOrStdout(), steps)
			return err
		},
	}

	cmd.Flags().BoolVar(&opts.skipFailures, "skip-failures", false, "Continue past steps that cannot be replayed")
	cmd.Flags().DurationVar(&opts.delay, "delay", 0, "Pause between steps")
	cmd.Flags().StringSliceVarP(&opts.allowedDomains, "allowed-domain", "d", nil, "Domain pattern replayed actions may visit (repeatable)")
	cmd.Flags().StringArrayVar(&opts.secrets, "secret", nil, "Secret binding pattern=name:ENV_VAR (repeatable)")
	cmd.Flags().StringVar(&opts.startURL, "start-url", "", "URL loaded before the first step (default: the first record's URL)")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Replay against saved HTML pages instead of a browser")
	cmd.Flags().StringToStringVar(&opts.pages, "page", nil, "Saved page for --dry-run as url=file.html (repeatable)")
	return cmd
}

// replayHistory wires the indexing, validation and dispatch layers onto driver
// and replays every record of export.
func replayHistory(ctx context.Context, driver schemas.BrowserDriver, export history.RunExport, bindings vault.Bindings, opts replayOptions, agentCfg agent.Config, logger *zap.Logger) ([]history.ReplayStep, error) {
	allow, err := scope.NewAllowlist(opts.allowedDomains)
	if err != nil {
		return nil, fmt.Errorf("invalid allowed domain: %w", err)
	}
	v, err := vault.New(bindings)
	if err != nil {
		return nil, err
	}

	indexer := dom.NewIndexer(driver, logger, agentCfg.CaptureRetryDelay)
	controller := actions.NewController(driver, indexer, agentCfg.Controller, logger)
	replayer := history.NewReplayer(indexer, actions.NewValidator(allow), controller, v, logger)

	logger.Info("Replaying run",
		zap.String("run_id", export.RunID),
		zap.Int("records", len(export.Records)),
		zap.Bool("dry_run", opts.dryRun))
	return replayer.Replay(ctx, export.Records, history.ReplayOptions{
		SkipFailures: opts.skipFailures,
		Delay:        opts.delay,
	})
}

func loadPages(files map[string]string) (map[string]string, error) {
	pages := make(map[string]string, len(files))
	for u, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read page for %s: %w", u, err)
		}
		pages[u] = string(data)
	}
	return pages, nil
}

func printReplay(w io.Writer, steps []history.ReplayStep) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tACTION\tOUTCOME\tDETAIL")
	for _, s := range steps {
		switch {
		case s.Skipped:
			fmt.Fprintf(tw, "%d\t%s\tskipped\tnot allowed when recorded\n", s.Step, s.Action)
		case s.Result.Success:
			fmt.Fprintf(tw, "%d\t%s\tok\t%s\n", s.Step, s.Action, s.Result.Effect)
		default:
			fmt.Fprintf(tw, "%d\t%s\tfailed\t[%s] %s\n", s.Step, s.Action, s.Result.ErrorKind, s.Result.Error)
		}
	}
	_ = tw.Flush()
}
