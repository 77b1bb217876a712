package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/provider-validator/internal/model"
	"github.com/sells-group/provider-validator/internal/monitoring"
	"github.com/sells-group/provider-validator/internal/store"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect validation runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent validation runs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		if status != "" && !model.RunStatus(status).Valid() {
			return eris.Errorf("unknown run status %q", status)
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		runs, err := st.ListRuns(ctx, store.RunFilter{Status: model.RunStatus(status), Limit: limit})
		if err != nil {
			return eris.Wrap(err, "list runs")
		}

		formatRunsList(cmd.OutOrStdout(), runs, time.Now())
		return nil
	},
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.GetRun(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "get run %s", args[0])
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(runView{
			ValidationRun:     run,
			AvgConfidence:     run.AvgConfidence(),
			DurationSecs:      run.Duration(time.Now()).Seconds(),
			ThroughputPerHour: run.ThroughputPerHour(time.Now()),
		})
	},
}

var runsErrorsCmd = &cobra.Command{
	Use:   "errors <run-id>",
	Short: "Show the per-provider error log of a run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		errs, err := st.ListRunErrors(ctx, args[0])
		if err != nil {
			return eris.Wrapf(err, "list errors for run %s", args[0])
		}

		formatRunErrors(cmd.OutOrStdout(), errs)
		return nil
	},
}

var runsStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show run health and review backlog over a lookback window",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		lookback, _ := cmd.Flags().GetInt("lookback")
		if lookback <= 0 {
			lookback = cfg.Monitoring.LookbackWindowHours
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		snap, err := monitoring.NewCollector(st).Collect(ctx, lookback)
		if err != nil {
			return err
		}

		alerts := monitoring.NewAlerter(cfg.Monitoring).Evaluate(snap)
		formatRunStats(cmd.OutOrStdout(), snap, alerts)
		return nil
	},
}

// runView adds derived telemetry to a run for display.
type runView struct {
	*model.ValidationRun
	AvgConfidence     float64 `json:"avg_confidence"`
	DurationSecs      float64 `json:"duration_secs"`
	ThroughputPerHour float64 `json:"throughput_per_hour"`
}

func init() {
	runsListCmd.Flags().String("status", "", "filter by status (pending, running, completed, failed)")
	runsListCmd.Flags().Int("limit", 20, "maximum number of runs to show")
	runsStatsCmd.Flags().Int("lookback", 0, "lookback window in hours (default from config)")

	runsCmd.AddCommand(runsListCmd)
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsErrorsCmd)
	runsCmd.AddCommand(runsStatsCmd)
	rootCmd.AddCommand(runsCmd)
}

// formatRunsList writes a table of runs to w.
func formatRunsList(out io.Writer, runs []model.ValidationRun, now time.Time) {
	if len(runs) == 0 {
		_, _ = fmt.Fprintln(out, "No runs found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tJOB\tSTATUS\tPROVIDERS\tFLAGGED\tFAILED\tAVG_CONF\tCREATED\tDURATION")
	_, _ = fmt.Fprintln(w, "--\t---\t------\t---------\t-------\t------\t--------\t-------\t--------")

	for _, r := range runs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%d\t%d\t%.3f\t%s\t%s\n",
			truncateID(r.ID),
			r.JobType,
			r.Status,
			r.ProvidersProcessed,
			len(r.ProviderIDs),
			r.ProvidersFlagged,
			r.ProvidersFailed,
			r.AvgConfidence(),
			r.CreatedAt.Format("2006-01-02 15:04"),
			r.Duration(now).Round(time.Second).String(),
		)
	}
	_ = w.Flush()
}

// formatRunErrors writes the per-provider error log to w.
func formatRunErrors(out io.Writer, errs []model.RunError) {
	if len(errs) == 0 {
		_, _ = fmt.Fprintln(out, "No errors recorded.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "PROVIDER\tCATEGORY\tTIME\tMESSAGE")
	for _, e := range errs {
		msg := e.Message
		if len(msg) > 80 {
			msg = msg[:77] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			e.ProviderID,
			e.Category,
			e.CreatedAt.Format("2006-01-02 15:04:05"),
			msg,
		)
	}
	_ = w.Flush()
}

// formatRunStats writes aggregate stats and any breached thresholds to w.
func formatRunStats(out io.Writer, s *monitoring.MetricsSnapshot, alerts []monitoring.Alert) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Window:\t%dh\n", s.LookbackHours)
	_, _ = fmt.Fprintf(w, "Total runs:\t%d\n", s.RunsTotal)
	_, _ = fmt.Fprintf(w, "  Completed:\t%d\n", s.RunsCompleted)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.RunsFailed)
	_, _ = fmt.Fprintf(w, "  In flight:\t%d\n", s.RunsRunning+s.RunsPending)
	_, _ = fmt.Fprintf(w, "Run fail rate:\t%.1f%%\n", s.RunFailRate*100)
	_, _ = fmt.Fprintf(w, "Providers processed:\t%d\n", s.ProvidersProcessed)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", s.ProvidersFailed)
	_, _ = fmt.Fprintf(w, "  Flagged:\t%d\n", s.ProvidersFlagged)
	if s.ProvidersScored > 0 {
		_, _ = fmt.Fprintf(w, "Avg confidence:\t%.3f\n", s.AvgConfidence)
	}
	_, _ = fmt.Fprintf(w, "Evidence discarded:\t%d\n", s.EvidenceDiscarded)
	_, _ = fmt.Fprintf(w, "Open reviews:\t%d\n", s.OpenReviews)
	_, _ = fmt.Fprintf(w, "  Critical:\t%d\n", s.CriticalReviews)
	_, _ = fmt.Fprintf(w, "  Escalated:\t%d\n", s.EscalatedReviews)
	for _, a := range alerts {
		_, _ = fmt.Fprintf(w, "ALERT [%s]:\t%s\n", a.Severity, a.Message)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
