// Package ingest reads evidence tuples from CSV, XLSX, YAML, and JSON files.
package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/provider-validator/internal/confidence"
	"github.com/sells-group/provider-validator/internal/model"
)

// WeightFunc returns the default trust weight for a source.
type WeightFunc func(source string) (float64, bool)

// Options configures how rows become evidence.
type Options struct {
	// Weights fills source_weight when a row leaves it blank.
	Weights WeightFunc
	// RunID tags imported tuples; blank leaves them untagged.
	RunID string
	// Sheet selects an XLSX sheet by name. Blank reads the first sheet.
	Sheet string
}

// RowError describes one rejected input row. Row is 1-based and counts the
// header for tabular files.
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string {
	return "row " + strconv.Itoa(e.Row) + ": " + e.Err.Error()
}

// Result holds the accepted tuples and the rows that were rejected.
type Result struct {
	Evidence []model.EvidenceTuple
	Rejected []RowError
}

// ReadFile parses path according to its extension.
func ReadFile(ctx context.Context, path string, opts Options) (*Result, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".csv", ".tsv":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close()
		delim := ','
		if ext == ".tsv" {
			delim = '\t'
		}
		return ReadCSV(ctx, f, delim, opts)
	case ".xlsx":
		return ReadXLSX(ctx, path, opts)
	case ".yaml", ".yml", ".json":
		f, err := os.Open(path)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: open %s", path)
		}
		defer f.Close()
		return ReadYAML(f, opts)
	default:
		return nil, eris.Errorf("ingest: unsupported file type %q", ext)
	}
}

// columnAliases maps accepted header spellings to canonical column names.
var columnAliases = map[string]string{
	"provider_id":       "provider_id",
	"provider":          "provider_id",
	"npi_provider_id":   "provider_id",
	"field_name":        "field_name",
	"field":             "field_name",
	"value":             "value",
	"source_name":       "source_name",
	"source":            "source_name",
	"source_weight":     "source_weight",
	"weight":            "source_weight",
	"extraction_method": "extraction_method",
	"method":            "extraction_method",
	"observed_at":       "observed_at",
	"timestamp":         "observed_at",
	"is_primary_source": "is_primary_source",
	"primary":           "is_primary_source",
}

// header maps canonical column names to row positions.
type header map[string]int

func parseHeader(cells []string) (header, error) {
	h := make(header, len(cells))
	for i, c := range cells {
		key := strings.ToLower(strings.TrimSpace(c))
		key = strings.ReplaceAll(key, " ", "_")
		if canon, ok := columnAliases[key]; ok {
			if _, dup := h[canon]; !dup {
				h[canon] = i
			}
		}
	}
	var missing []string
	for _, req := range []string{"provider_id", "field_name", "value", "source_name", "observed_at"} {
		if _, ok := h[req]; !ok {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return nil, eris.Errorf("ingest: header missing %s", strings.Join(missing, ", "))
	}
	return h, nil
}

func (h header) get(cells []string, col string) string {
	i, ok := h[col]
	if !ok || i >= len(cells) {
		return ""
	}
	return strings.TrimSpace(cells[i])
}

// raw is one input record before validation. Weight and Primary are kept as
// text so blank and malformed values can be told apart.
type raw struct {
	ProviderID       string `yaml:"provider_id"`
	FieldName        string `yaml:"field_name"`
	Value            string `yaml:"value"`
	SourceName       string `yaml:"source_name"`
	SourceWeight     string `yaml:"source_weight"`
	ExtractionMethod string `yaml:"extraction_method"`
	ObservedAt       string `yaml:"observed_at"`
	IsPrimarySource  string `yaml:"is_primary_source"`
}

func (h header) raw(cells []string) raw {
	return raw{
		ProviderID:       h.get(cells, "provider_id"),
		FieldName:        h.get(cells, "field_name"),
		Value:            h.get(cells, "value"),
		SourceName:       h.get(cells, "source_name"),
		SourceWeight:     h.get(cells, "source_weight"),
		ExtractionMethod: h.get(cells, "extraction_method"),
		ObservedAt:       h.get(cells, "observed_at"),
		IsPrimarySource:  h.get(cells, "is_primary_source"),
	}
}

// tuple converts and validates one record.
func (r raw) tuple(opts Options) (model.EvidenceTuple, error) {
	e := model.EvidenceTuple{
		ProviderID:       strings.TrimSpace(r.ProviderID),
		FieldName:        strings.TrimSpace(r.FieldName),
		Value:            strings.TrimSpace(r.Value),
		SourceName:       strings.TrimSpace(r.SourceName),
		ExtractionMethod: strings.TrimSpace(r.ExtractionMethod),
		RunID:            opts.RunID,
	}

	if ts := strings.TrimSpace(r.ObservedAt); ts != "" {
		t, ok := confidence.ParseDate(ts)
		if !ok {
			return e, model.NewEngineError(model.ErrorCategoryMalformedEvidence,
				eris.Errorf("unparseable observed_at %q", ts))
		}
		e.ObservedAt = t
	}

	switch w := strings.TrimSpace(r.SourceWeight); {
	case w != "":
		v, err := strconv.ParseFloat(w, 64)
		if err != nil {
			return e, model.NewEngineError(model.ErrorCategoryMalformedEvidence,
				eris.Wrapf(err, "source_weight %q", w))
		}
		e.SourceWeight = v
	case opts.Weights != nil:
		v, ok := opts.Weights(e.SourceName)
		if !ok {
			return e, model.NewEngineError(model.ErrorCategoryMalformedEvidence,
				eris.Errorf("no source_weight and no default weight for source %q", e.SourceName))
		}
		e.SourceWeight = v
	default:
		return e, model.NewEngineError(model.ErrorCategoryMalformedEvidence,
			eris.New("source_weight is required"))
	}

	if p := strings.TrimSpace(r.IsPrimarySource); p != "" {
		v, err := parseBool(p)
		if err != nil {
			return e, model.NewEngineError(model.ErrorCategoryMalformedEvidence, err)
		}
		e.IsPrimarySource = v
	}

	if err := e.Validate(); err != nil {
		return e, err
	}
	return e, nil
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "y", "yes", "1", "true", "t":
		return true, nil
	case "n", "no", "0", "false", "f":
		return false, nil
	}
	return false, eris.Errorf("is_primary_source %q is not a boolean", s)
}

// collect converts tabular rows into a Result. The first row is the header.
func collect(rows [][]string, opts Options) (*Result, error) {
	res := &Result{}
	if len(rows) == 0 {
		return res, nil
	}
	h, err := parseHeader(rows[0])
	if err != nil {
		return nil, err
	}
	for i, cells := range rows[1:] {
		if blank(cells) {
			continue
		}
		e, err := h.raw(cells).tuple(opts)
		if err != nil {
			res.Rejected = append(res.Rejected, RowError{Row: i + 2, Err: err})
			continue
		}
		res.Evidence = append(res.Evidence, e)
	}
	return res, nil
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
