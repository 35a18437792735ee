package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/minq"
)

func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile [collection...]",
		Short: "Reconcile declared indexes against the database",
		Long: `Reconcile creates missing indexes, recreates ones whose uniqueness or name
changed and leaves matching ones alone. Without arguments every configured
collection is reconciled. The command fails if any index could not be reconciled.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx)
			if err != nil {
				return err
			}
			defer a.close()

			names := args
			if len(names) == 0 {
				for _, c := range a.cfg.Collections {
					names = append(names, c.Name)
				}
			}

			failed := 0
			for _, name := range names {
				report, err := a.reconcile(ctx, name)
				if err != nil {
					return err
				}
				printReport(cmd.OutOrStdout(), name, report)
				failed += len(report.Failed)
			}
			if failed > 0 {
				return fmt.Errorf("%d index(es) failed to reconcile", failed)
			}
			return nil
		},
	}
}

func printReport(w io.Writer, name string, r *minq.ReconcileReport) {
	_, _ = fmt.Fprintf(w, "%s: created=%d dropped=%d skipped=%d failed=%d\n",
		name, len(r.Created), len(r.Dropped), len(r.Skipped), len(r.Failed))
	for _, n := range r.Created {
		_, _ = fmt.Fprintf(w, "  + %s\n", n)
	}
	for _, n := range r.Dropped {
		_, _ = fmt.Fprintf(w, "  - %s\n", n)
	}
	for _, f := range r.Failed {
		_, _ = fmt.Fprintf(w, "  ! %s: %v\n", f.Index, f.Err)
	}
}
