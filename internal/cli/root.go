package cli

import (
	"context"

	"github.com/spf13/cobra"

	"docker-stats-hub/internal/config"
)

type rootFlags struct {
	configPath string
	logLevel   string
}

// overrides turns explicitly set flags into config overrides.
func (f *rootFlags) overrides(cmd *cobra.Command, extra config.Overrides) config.Overrides {
	out := config.Overrides{}
	if cmd.Flags().Changed("log-level") {
		out["log_level"] = f.logLevel
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func NewRootCmd() *cobra.Command {
	flags := &rootFlags{}
	cmd := &cobra.Command{
		Use:   "statshub",
		Short: "Aggregate container stats from many agents into one live stream",
		Long: `statshub keeps a websocket connection to every configured stats agent,
keeps a short CPU history per agent and streams everything to observers over
server-sent events and gRPC.

Agents come from the config file or STATSHUB_AGENT_ENDPOINTS
("id|label|ws://host:port/ws;ws://other/ws").`,
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&flags.configPath, "config", "c", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	cmd.AddCommand(
		newServeCmd(flags),
		newAgentsCmd(flags),
		newTailCmd(),
		newVersionCmd(),
	)
	return cmd
}

func Execute() error {
	return NewRootCmd().ExecuteContext(context.Background())
}
