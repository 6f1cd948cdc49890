package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"docker-stats-hub/internal/config"
	"docker-stats-hub/internal/model"
)

type agentsDoc struct {
	Agents []model.AgentConfig `yaml:"agents"`
}

func newAgentsCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "agents",
		Short: "Print the resolved agent list",
		Long: `Resolve agents from the config file and environment exactly as serve does,
including generated ids and labels, and print them as YAML.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(root.configPath, root.overrides(cmd, nil))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out, err := yaml.Marshal(agentsDoc{Agents: cfg.Agents})
			if err != nil {
				return fmt.Errorf("encode agents: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
