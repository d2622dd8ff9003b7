package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/sportgrid/catalog-cli/internal/model"
	"github.com/sportgrid/catalog-cli/internal/report"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show queue depth and cumulative validation statistics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		snap, err := report.NewCollector(st).Collect(ctx)
		if err != nil {
			return err
		}

		format, _ := cmd.Flags().GetString("output")
		if format != "" {
			return writeOutput(os.Stdout, format, snap)
		}
		formatSnapshot(os.Stdout, snap)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringP("output", "o", "", "output format (json, yaml); default is a table")
	rootCmd.AddCommand(statsCmd)
}

// formatSnapshot writes the snapshot to w.
func formatSnapshot(out io.Writer, snap *report.Snapshot) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Pending:\t%d\n", snap.Pending)
	_, _ = fmt.Fprintf(w, "Approved:\t%d\n", snap.Approved)
	_, _ = fmt.Fprintf(w, "Partially approved:\t%d\n", snap.PartiallyApproved)
	_, _ = fmt.Fprintf(w, "Rejected:\t%d\n", snap.Rejected)
	_, _ = fmt.Fprintf(w, "Archived:\t%d\n", snap.Archived)
	_ = w.Flush()

	if len(snap.Runs) == 0 {
		return
	}

	fmt.Fprintln(out)
	w = tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "RUNNER\tANALYZED\tVALIDATED\tIGNORED\tFAILURES\tLOW_CONF\tFEATURED\tPREMIUM\tNEW_RACES\tOTHER")
	for _, r := range snap.Runs {
		_, _ = fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
			r.Runner, r.Analyzed, r.Validated, r.Ignored, r.Failures,
			r.Excluded[model.ExclusionLowConfidence],
			r.Excluded[model.ExclusionFeaturedEvent],
			r.Excluded[model.ExclusionPremiumCustomer],
			r.Excluded[model.ExclusionNewRaces],
			r.Excluded[model.ExclusionOther],
		)
	}
	_ = w.Flush()
}
