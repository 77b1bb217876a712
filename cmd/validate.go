package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/coordinator"
	"github.com/sells-group/provider-validator/internal/model"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Run a validation batch over providers",
	Long:  "Scores every field of each provider from stored evidence, classifies the provider, and queues issues for review. Blocks until the run finishes.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		ids, _ := cmd.Flags().GetStringSlice("provider")
		file, _ := cmd.Flags().GetString("file")
		jobType, _ := cmd.Flags().GetString("job-type")
		workers, _ := cmd.Flags().GetInt("workers")

		if file != "" {
			f, err := os.Open(file)
			if err != nil {
				return eris.Wrapf(err, "open provider list %s", file)
			}
			fromFile, err := readProviderIDs(f)
			f.Close() //nolint:errcheck
			if err != nil {
				return err
			}
			ids = append(ids, fromFile...)
		}
		if len(ids) == 0 {
			return eris.New("validate: at least one --provider or --file is required")
		}
		if workers > 0 {
			cfg.Validation.Workers = workers
		}

		st, err := openStore(ctx, "validate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		coord := coordinator.New(st, coordinatorOptions())
		run, err := coord.Run(ctx, coordinator.Request{
			ProviderIDs: ids,
			JobType:     jobType,
			Config:      cfg.Validation.RunConfig(),
			TriggeredBy: "cli",
		})
		if run != nil {
			formatRunSummary(cmd.OutOrStdout(), *run, time.Now())
		}
		if err != nil {
			return err
		}

		zap.L().Info("validation run finished",
			zap.String("run_id", run.ID),
			zap.String("status", string(run.Status)),
			zap.Int64("processed", run.ProvidersProcessed),
			zap.Int64("flagged", run.ProvidersFlagged),
		)
		if run.Status == model.RunStatusFailed {
			return eris.Errorf("run %s failed: %s", run.ID, run.Error)
		}
		return nil
	},
}

// readProviderIDs reads one provider ID per line. Blank lines and lines
// starting with '#' are skipped.
func readProviderIDs(r io.Reader) ([]string, error) {
	var ids []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		ids = append(ids, line)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read provider list")
	}
	return ids, nil
}

// formatRunSummary writes run status and telemetry to out.
func formatRunSummary(out io.Writer, r model.ValidationRun, now time.Time) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Run:\t%s\n", r.ID)
	_, _ = fmt.Fprintf(w, "Job type:\t%s\n", r.JobType)
	_, _ = fmt.Fprintf(w, "Status:\t%s\n", r.Status)
	_, _ = fmt.Fprintf(w, "Processed:\t%d/%d\n", r.ProvidersProcessed, len(r.ProviderIDs))
	_, _ = fmt.Fprintf(w, "  Succeeded:\t%d\n", r.ProvidersSucceeded)
	_, _ = fmt.Fprintf(w, "  Failed:\t%d\n", r.ProvidersFailed)
	_, _ = fmt.Fprintf(w, "  Flagged:\t%d\n", r.ProvidersFlagged)
	_, _ = fmt.Fprintf(w, "Avg confidence:\t%.3f\n", r.AvgConfidence())
	_, _ = fmt.Fprintf(w, "Discrepancies:\t%d\n", r.DiscrepanciesFound)
	_, _ = fmt.Fprintf(w, "Fields updated:\t%d\n", r.FieldsUpdated)
	_, _ = fmt.Fprintf(w, "Evidence discarded:\t%d\n", r.EvidenceDiscarded)
	_, _ = fmt.Fprintf(w, "Errors:\t%d\n", r.ErrorCount)
	if d := r.Duration(now); d > 0 {
		_, _ = fmt.Fprintf(w, "Duration:\t%s\n", d.Round(time.Millisecond))
		_, _ = fmt.Fprintf(w, "Throughput:\t%.1f/h\n", r.ThroughputPerHour(now))
	}
	if r.Error != "" {
		_, _ = fmt.Fprintf(w, "Error:\t%s\n", r.Error)
	}
	_ = w.Flush()
}

func init() {
	validateCmd.Flags().StringSlice("provider", nil, "provider ID to validate (repeatable)")
	validateCmd.Flags().String("file", "", "file with one provider ID per line")
	validateCmd.Flags().String("job-type", model.JobTypeFullValidation, "job type recorded on the run")
	validateCmd.Flags().Int("workers", 0, "worker pool size (default from config)")
	rootCmd.AddCommand(validateCmd)
}
