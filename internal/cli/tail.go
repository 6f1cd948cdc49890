package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"docker-stats-hub/internal/transport"
)

func newTailCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print a running hub's event stream",
		Long: `Attach to a hub over gRPC and print every message, starting with the agent
list, one JSON document per line.

Examples:
  statshub tail --addr hub.internal:9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := transport.Dial(addr)
			if err != nil {
				return err
			}
			defer conn.Close()

			out := cmd.OutOrStdout()
			return transport.StreamEvents(cmd.Context(), conn, func(msg json.RawMessage) error {
				_, err := fmt.Fprintf(out, "%s\n", msg)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:9090", "hub gRPC address")
	return cmd
}
