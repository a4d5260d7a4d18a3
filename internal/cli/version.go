package cli

import (
	"fmt"

	"github.com/acolita/netpush-mcp/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "netpush %s (commit %s, built %s)\n",
				version.Version, version.GitCommit, version.BuildTime)
			return err
		},
	}
}
