package main

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/provider-validator/internal/ingest"
	"github.com/sells-group/provider-validator/internal/model"
)

const importChunkSize = 1000

var evidenceCmd = &cobra.Command{
	Use:   "evidence",
	Short: "Load and inspect provider evidence",
}

var evidenceImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import evidence tuples from CSV, TSV, XLSX, YAML, or JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		sheet, _ := cmd.Flags().GetString("sheet")
		runID, _ := cmd.Flags().GetString("run-id")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		res, err := ingest.ReadFile(ctx, args[0], ingest.Options{
			Weights: cfg.Sources.Weight,
			RunID:   runID,
			Sheet:   sheet,
		})
		if err != nil {
			return err
		}

		for _, rej := range res.Rejected {
			zap.L().Warn("evidence row rejected",
				zap.String("file", args[0]),
				zap.Int("row", rej.Row),
				zap.Error(rej.Err),
			)
		}

		out := cmd.OutOrStdout()
		if dryRun {
			_, _ = fmt.Fprintf(out, "Parsed %d tuples, rejected %d rows (dry run)\n", len(res.Evidence), len(res.Rejected))
			return nil
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		var stored int64
		for start := 0; start < len(res.Evidence); start += importChunkSize {
			end := min(start+importChunkSize, len(res.Evidence))
			n, err := st.PutEvidenceBatch(ctx, res.Evidence[start:end])
			if err != nil {
				return eris.Wrapf(err, "store evidence rows %d-%d", start, end-1)
			}
			stored += n
		}

		zap.L().Info("evidence import complete",
			zap.String("file", args[0]),
			zap.Int64("stored", stored),
			zap.Int("rejected", len(res.Rejected)),
		)
		_, _ = fmt.Fprintf(out, "Stored %d tuples, rejected %d rows\n", stored, len(res.Rejected))
		return nil
	},
}

var evidenceListCmd = &cobra.Command{
	Use:   "list <provider-id> [field]",
	Short: "List stored evidence for a provider",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		field := ""
		if len(args) == 2 {
			field = args[1]
		}

		st, err := openStore(ctx, "migrate")
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		evidence, err := st.ListEvidence(ctx, args[0], field)
		if err != nil {
			return eris.Wrapf(err, "list evidence for %s", args[0])
		}

		formatEvidenceList(cmd.OutOrStdout(), evidence)
		return nil
	},
}

func init() {
	evidenceImportCmd.Flags().String("sheet", "", "XLSX sheet name (default first sheet)")
	evidenceImportCmd.Flags().String("run-id", "", "tag imported tuples with a run ID")
	evidenceImportCmd.Flags().Bool("dry-run", false, "parse and report without storing")

	evidenceCmd.AddCommand(evidenceImportCmd)
	evidenceCmd.AddCommand(evidenceListCmd)
	rootCmd.AddCommand(evidenceCmd)
}

// formatEvidenceList writes a table of evidence tuples to w.
func formatEvidenceList(out io.Writer, evidence []model.EvidenceTuple) {
	if len(evidence) == 0 {
		_, _ = fmt.Fprintln(out, "No evidence found.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "FIELD\tVALUE\tSOURCE\tWEIGHT\tPRIMARY\tOBSERVED")
	for _, e := range evidence {
		value := e.Value
		if len(value) > 40 {
			value = value[:37] + "..."
		}
		primary := ""
		if e.IsPrimarySource {
			primary = "yes"
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%.2f\t%s\t%s\n",
			e.FieldName,
			value,
			e.SourceName,
			e.SourceWeight,
			primary,
			e.ObservedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
