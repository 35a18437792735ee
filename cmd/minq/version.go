package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/minq/internal/version"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, _ []string) {
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "minq %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
