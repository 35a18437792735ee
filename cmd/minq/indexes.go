package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newIndexesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "indexes <collection>",
		Short: "List the indexes of a collection",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			m, err := a.collection(ctx, args[0])
			if err != nil {
				return err
			}
			indexes, err := m.Indexes(ctx)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			_, _ = fmt.Fprintln(tw, "NAME\tKEYS\tUNIQUE")
			for _, idx := range indexes {
				_, _ = fmt.Fprintf(tw, "%s\t%s\t%t\n", idx.Name(), idx, idx.Unique())
			}
			return tw.Flush()
		},
	}
}
