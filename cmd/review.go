package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/enforcement-sync/internal/model"
)

var reviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Work the manual match review queue",
}

var reviewListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review items",
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

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		format, _ := cmd.Flags().GetString("format")
		if status == "all" {
			status = ""
		}

		items, err := st.ListReviews(ctx, model.ReviewStatus(status), limit)
		if err != nil {
			return eris.Wrap(err, "review list")
		}
		if len(items) == 0 {
			fmt.Fprintln(os.Stderr, "No review items found.")
			return nil
		}
		if format == "yaml" {
			return yaml.NewEncoder(os.Stdout).Encode(items)
		}
		formatReviewList(os.Stdout, items)
		return nil
	},
}

var reviewShowCmd = &cobra.Command{
	Use:   "show <review-id>",
	Short: "Show a review item with its candidates and match history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseReviewID(args[0])
		if err != nil {
			return err
		}
		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		detail, err := loadReviewDetail(ctx, st, id)
		if err != nil {
			return eris.Wrap(err, "review show")
		}
		return writeReviewYAML(os.Stdout, detail)
	},
}

var reviewResolveCmd = &cobra.Command{
	Use:   "resolve <review-id> <ticket-id>",
	Short: "Link the reviewed violation to a ticket",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseReviewID(args[0])
		if err != nil {
			return err
		}
		ticketID, err := strconv.ParseInt(args[1], 10, 64)
		if err != nil || ticketID <= 0 {
			return eris.Errorf("invalid ticket id %q", args[1])
		}
		note, _ := cmd.Flags().GetString("note")

		if err := cfg.Validate("review"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		m, err := initMatcher(cfg, st, initTicketing(cfg))
		if err != nil {
			return err
		}
		item, err := m.Resolve(ctx, id, ticketID, note)
		if err != nil {
			return eris.Wrap(err, "review resolve")
		}
		fmt.Fprintf(os.Stdout, "Review %d resolved: %s -> ticket %d\n", item.ID, item.Key, ticketID)
		return nil
	},
}

var reviewSkipCmd = &cobra.Command{
	Use:   "skip <review-id>",
	Short: "Close a review item without linking a ticket",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		id, err := parseReviewID(args[0])
		if err != nil {
			return err
		}
		note, _ := cmd.Flags().GetString("note")

		if err := cfg.Validate("store"); err != nil {
			return err
		}
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.SkipReview(ctx, id, note); err != nil {
			return eris.Wrap(err, "review skip")
		}
		fmt.Fprintf(os.Stdout, "Review %d skipped\n", id)
		return nil
	},
}

func parseReviewID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, eris.Errorf("invalid review id %q", s)
	}
	return id, nil
}

// formatReviewList writes a tabular list of review items to out.
func formatReviewList(out io.Writer, items []model.ReviewItem) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tKEY\tREASON\tSTATUS\tCANDIDATES\tCREATED")
	for _, it := range items {
		_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\t%s\n",
			it.ID, it.Key, it.Reason, it.Status, len(it.Candidates), it.CreatedAt.Format("2006-01-02 15:04"))
	}
	_ = w.Flush()
}

func writeReviewYAML(out io.Writer, detail *reviewDetail) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	defer enc.Close() //nolint:errcheck
	return enc.Encode(detail)
}

func init() {
	reviewListCmd.Flags().String("status", "pending", "filter by status (pending, resolved, skipped, all)")
	reviewListCmd.Flags().Int("limit", 50, "max number of items to display")
	reviewListCmd.Flags().String("format", "table", "output format (table, yaml)")
	reviewResolveCmd.Flags().String("note", "", "resolution note")
	reviewSkipCmd.Flags().String("note", "", "reason for skipping")

	reviewCmd.AddCommand(reviewListCmd, reviewShowCmd, reviewResolveCmd, reviewSkipCmd)
	rootCmd.AddCommand(reviewCmd)
}
