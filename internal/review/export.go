package review

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provider-validator/internal/model"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatJSON = "json"
	FormatXLSX = "xlsx"
)

// exportColumns defines the ordered review queue export columns.
var exportColumns = []string{
	"Review ID",
	"Provider ID",
	"Priority",
	"Severity",
	"Issue Type",
	"Status",
	"Description",
	"Affected Fields",
	"Conflicting Sources",
	"Run ID",
	"Created",
	"Last Updated",
}

// Export writes entries to w in the given format, preserving their order.
func Export(w io.Writer, format string, entries []model.ReviewQueueEntry) error {
	switch strings.ToLower(format) {
	case FormatCSV:
		return ExportCSV(w, entries)
	case FormatJSON:
		return ExportJSON(w, entries)
	case FormatXLSX:
		return ExportXLSX(w, entries)
	default:
		return eris.Errorf("review export: unsupported format %q", format)
	}
}

// ExportCSV writes entries as CSV with a header row.
func ExportCSV(w io.Writer, entries []model.ReviewQueueEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(exportColumns); err != nil {
		return eris.Wrap(err, "review export: write header")
	}
	for _, e := range entries {
		if err := cw.Write(exportRow(e)); err != nil {
			return eris.Wrap(err, "review export: write row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "review export: flush")
}

// ExportJSON writes entries as an indented JSON array.
func ExportJSON(w io.Writer, entries []model.ReviewQueueEntry) error {
	if entries == nil {
		entries = []model.ReviewQueueEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return eris.Wrap(enc.Encode(entries), "review export: encode json")
}

// ExportXLSX writes entries as a single-sheet workbook.
func ExportXLSX(w io.Writer, entries []model.ReviewQueueEntry) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Review Queue")
	if err != nil {
		return eris.Wrap(err, "review export: add sheet")
	}
	header := sheet.AddRow()
	for _, col := range exportColumns {
		header.AddCell().SetString(col)
	}
	for _, e := range entries {
		row := sheet.AddRow()
		for i, v := range exportRow(e) {
			if i == 2 {
				row.AddCell().SetInt(e.PriorityScore)
				continue
			}
			row.AddCell().SetString(v)
		}
	}
	return eris.Wrap(f.Write(w), "review export: write xlsx")
}

// exportRow maps an entry to the export columns.
func exportRow(e model.ReviewQueueEntry) []string {
	return []string{
		e.ID,
		e.ProviderID,
		strconv.Itoa(e.PriorityScore),
		string(e.IssueSeverity),
		string(e.IssueType),
		string(e.ReviewStatus),
		e.IssueDescription,
		strings.Join(e.AffectedFields, ";"),
		strings.Join(e.ConflictingSources, ";"),
		e.RunID,
		formatTime(e.CreatedAt),
		formatTime(e.UpdatedAt),
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
