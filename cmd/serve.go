package cmd

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surfer-cli/internal/observability"
	"github.com/xkilldash9x/surfer-cli/internal/server"
)

func newServeCmd() *cobra.Command {
	var (
		addr        string
		concurrency int
		summaries   bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API over HTTP",
		Long: `Starts an HTTP server that accepts tasks, streams run state over a
websocket, and serves redacted run histories and Prometheus metrics.
Secrets are taken from the config file only.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			logger := observability.GetLogger()

			srvCfg, err := server.NewConfig(cfg)
			if err != nil {
				return err
			}
			if addr != "" {
				srvCfg.Addr = addr
			}
			if concurrency > 0 {
				srvCfg.Concurrency = concurrency
			}
			srvCfg.Export.IncludePageSummary = summaries

			a, err := newApp(ctx, cfg, logger, appOptions{withModel: true})
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			opts := []server.Option{server.WithMetrics(a.metrics)}
			if a.store != nil {
				opts = append(opts, server.WithStore(a.store))
			}
			srv := server.New(srvCfg, a.driverFactory(), a.buildAgent, logger, opts...)

			logger.Info("Serving run API", zap.String("addr", srvCfg.Addr), zap.Int("concurrency", srvCfg.Concurrency))
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from config)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "Maximum concurrent runs (default from config)")
	cmd.Flags().BoolVar(&summaries, "page-summaries", false, "Include the rendered element list of every step in served histories")
	return cmd
}
