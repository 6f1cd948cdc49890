package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"docker-stats-hub/internal/version"
)

func newVersionCmd() *cobra.Command {
	var short bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			info := version.Get()
			out := cmd.OutOrStdout()
			if short {
				fmt.Fprintln(out, info.Version)
				return
			}
			fmt.Fprintf(out, "statshub %s\n", info.Version)
			fmt.Fprintf(out, "commit: %s\n", info.Commit)
			fmt.Fprintf(out, "built: %s\n", info.Date)
			fmt.Fprintf(out, "go: %s\n", info.GoVersion)
			fmt.Fprintf(out, "os/arch: %s\n", info.Platform)
		},
	}
	cmd.Flags().BoolVar(&short, "short", false, "Print only the version number")
	return cmd
}
