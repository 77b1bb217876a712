package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/review"
	"github.com/sells-group/provider-validator/internal/store"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Work the manual review queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List review entries, highest priority first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		filter, err := reviewFilterFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListReviewQueue(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list review queue")
		}

		formatQueueList(cmd.OutOrStdout(), entries)
		return nil
	},
}

var queueExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the review queue as CSV, JSON, or XLSX",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		format, _ := cmd.Flags().GetString("format")
		output, _ := cmd.Flags().GetString("output")

		filter, err := reviewFilterFromFlags(cmd.Flags())
		if err != nil {
			return err
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entries, err := st.ListReviewQueue(ctx, filter)
		if err != nil {
			return eris.Wrap(err, "list review queue")
		}

		var out io.Writer = cmd.OutOrStdout()
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return eris.Wrapf(err, "create %s", output)
			}
			defer f.Close() //nolint:errcheck
			out = f
		}

		if err := review.Export(out, format, entries); err != nil {
			return err
		}
		zap.L().Info("review queue exported",
			zap.Int("entries", len(entries)),
			zap.String("format", format),
			zap.String("output", output),
		)
		return nil
	},
}

var queueTransitionCmd = &cobra.Command{
	Use:   "transition <review-id> <status>",
	Short: "Move a review entry to a new workflow status",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		to := model.ReviewStatus(args[1])
		if !to.Valid() {
			return eris.Errorf("unknown review status %q", args[1])
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		entry, err := st.TransitionReview(ctx, args[0], to)
		if err != nil {
			return eris.Wrapf(err, "transition review %s", args[0])
		}

		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s -> %s\n", entry.ID, entry.ProviderID, entry.ReviewStatus)
		return nil
	},
}

func reviewFilterFromFlags(flags *pflag.FlagSet) (store.ReviewFilter, error) {
	status, _ := flags.GetString("status")
	provider, _ := flags.GetString("provider")
	open, _ := flags.GetBool("open")
	limit, _ := flags.GetInt("limit")
	offset, _ := flags.GetInt("offset")

	if status != "" && !model.ReviewStatus(status).Valid() {
		return store.ReviewFilter{}, eris.Errorf("unknown review status %q", status)
	}
	return store.ReviewFilter{
		Status:     model.ReviewStatus(status),
		ProviderID: provider,
		OpenOnly:   open,
		Limit:      limit,
		Offset:     offset,
	}, nil
}

func addReviewFilterFlags(c *cobra.Command, defaultLimit int) {
	c.Flags().String("status", "", "filter by review status (pending, in_review, resolved, escalated)")
	c.Flags().String("provider", "", "filter by provider ID")
	c.Flags().Bool("open", false, "only entries that still need attention")
	c.Flags().Int("limit", defaultLimit, "maximum number of entries")
	c.Flags().Int("offset", 0, "entries to skip")
}

func init() {
	addReviewFilterFlags(queueListCmd, 50)
	addReviewFilterFlags(queueExportCmd, 10000)
	queueExportCmd.Flags().String("format", review.FormatCSV, "export format (csv, json, xlsx)")
	queueExportCmd.Flags().String("output", "", "output file (default stdout)")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueExportCmd)
	queueCmd.AddCommand(queueTransitionCmd)
	rootCmd.AddCommand(queueCmd)
}

// formatQueueList writes a table of review entries to w.
func formatQueueList(out io.Writer, entries []model.ReviewQueueEntry) {
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(out, "Review queue is empty.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tPROVIDER\tPRIORITY\tSEVERITY\tISSUE\tSTATUS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t--------\t--------\t--------\t-----\t------\t-------")
	for _, e := range entries {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			truncateID(e.ID),
			e.ProviderID,
			e.PriorityScore,
			e.IssueSeverity,
			e.IssueType,
			e.ReviewStatus,
			e.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
