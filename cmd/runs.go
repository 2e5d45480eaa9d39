package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/enforcement-sync/internal/model"
	"github.com/sells-group/enforcement-sync/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List ingestion run history",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		typeFlag, _ := cmd.Flags().GetString("type")
		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		filter := store.RunFilter{Status: model.RunStatus(status), Limit: limit}
		if typeFlag != "" {
			if filter.RecordType, err = model.ParseRecordType(typeFlag); err != nil {
				return err
			}
		}

		runs, err := st.ListRuns(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "runs")
		}
		if len(runs) == 0 {
			fmt.Fprintln(os.Stderr, "No runs found.")
			return nil
		}
		formatRunsList(os.Stdout, runs)
		return nil
	},
}

// formatRunsList writes a tabular list of runs to out.
func formatRunsList(out io.Writer, runs []model.RunLog) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tMODE\tSTATUS\tTOTAL\tCHANGED\tERRORS\tSTARTED\tDURATION\tSOURCE")
	for _, r := range runs {
		dur := "-"
		if r.CompletedAt != nil {
			dur = r.CompletedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
		}
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			r.ID, r.RecordType, orDash(string(r.Mode)), r.Status, r.Total, r.Changed, r.Errors,
			r.StartedAt.Format("2006-01-02 15:04"), dur, orDash(r.Source))
		if r.Error != "" {
			_, _ = fmt.Fprintf(w, "\t  error: %s\n", truncate(r.Error, 120))
		}
	}
	_ = w.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func init() {
	runsCmd.Flags().String("type", "", "filter by record type (violation, inspection, permit)")
	runsCmd.Flags().String("status", "", "filter by status (running, completed, failed)")
	runsCmd.Flags().Int("limit", 50, "max number of runs to display")
	rootCmd.AddCommand(runsCmd)
}
