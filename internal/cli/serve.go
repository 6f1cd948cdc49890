package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"docker-stats-hub/internal/app"
	"docker-stats-hub/internal/config"
	"docker-stats-hub/internal/version"
)

func newServeCmd(root *rootFlags) *cobra.Command {
	var listen, grpcListen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the hub",
		Long: `Connect to every configured agent and serve observers until SIGINT or SIGTERM.

Examples:
  STATSHUB_AGENT_ENDPOINTS="ws://10.0.0.5:8080/ws" statshub serve
  statshub serve --config statshub.yaml --listen :8081`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			extra := config.Overrides{}
			if cmd.Flags().Changed("listen") {
				extra["listen_addr"] = listen
			}
			if cmd.Flags().Changed("grpc-listen") {
				extra["grpc_listen_addr"] = grpcListen
			}
			cfg, err := config.Load(root.configPath, root.overrides(cmd, extra))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			logger := app.BuildLogger(cfg, os.Stdout)
			logger.Info("statshub build", "version", version.Get().Version, "commit", version.Commit)

			a, err := app.New(cmd.Context(), cfg, logger)
			if err != nil {
				logger.Error("hub initialization failed", "error", err)
				return err
			}
			if err := a.Run(cmd.Context()); err != nil {
				logger.Error("hub runtime failed", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", ":8080", "HTTP listen address for SSE, API and metrics")
	cmd.Flags().StringVar(&grpcListen, "grpc-listen", ":9090", "gRPC listen address, empty to disable")
	return cmd
}
