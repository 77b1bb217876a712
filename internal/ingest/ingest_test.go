package ingest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/provider-validator/internal/model"
)

func defaultWeights(source string) (float64, bool) {
	w, ok := map[string]float64{"npi_registry": 0.9, "state_board": 0.95}[source]
	return w, ok
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func createTestXLSX(t *testing.T, sheet string, rows [][]string) string {
	t.Helper()
	f := xlsx.NewFile()
	s, err := f.AddSheet(sheet)
	require.NoError(t, err)
	for _, rowData := range rows {
		row := s.AddRow()
		for _, cellData := range rowData {
			row.AddCell().SetString(cellData)
		}
	}
	path := filepath.Join(t.TempDir(), "evidence.xlsx")
	require.NoError(t, f.Save(path))
	return path
}

const csvInput = `provider_id,field_name,value,source_name,source_weight,observed_at,is_primary_source
P1,npi,1234567893,npi_registry,0.9,2025-03-01T12:00:00Z,false
P1,legal_name,Acme Health,state_board,,2025-03-01,yes
# comment rows are skipped
P1,phone,555-0100,fax_line,,2025-03-01,no
P1,npi,1234567893,practice_website,1.4,2025-03-01,no
,,,,,,
P2,npi,1111111112,npi_registry,0.9,not-a-date,no
`

func TestReadCSV(t *testing.T) {
	res, err := ReadCSV(context.Background(), strings.NewReader(csvInput), ',', Options{Weights: defaultWeights, RunID: "import-1"})
	require.NoError(t, err)

	require.Len(t, res.Evidence, 2)
	first := res.Evidence[0]
	assert.Equal(t, "P1", first.ProviderID)
	assert.Equal(t, "npi", first.FieldName)
	assert.InDelta(t, 0.9, first.SourceWeight, 1e-9)
	assert.True(t, first.ObservedAt.Equal(time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)))
	assert.Equal(t, "import-1", first.RunID)

	second := res.Evidence[1]
	assert.InDelta(t, 0.95, second.SourceWeight, 1e-9, "blank weight falls back to the source default")
	assert.True(t, second.IsPrimarySource)

	require.Len(t, res.Rejected, 3)
	assert.Equal(t, 4, res.Rejected[0].Row)
	assert.Contains(t, res.Rejected[0].Error(), "fax_line")
	assert.Contains(t, res.Rejected[1].Err.Error(), "source_weight")
	assert.Contains(t, res.Rejected[2].Err.Error(), "observed_at")
	for _, r := range res.Rejected {
		assert.True(t, model.IsCategory(r.Err, model.ErrorCategoryMalformedEvidence))
	}
}

func TestReadCSV_HeaderAliases(t *testing.T) {
	input := "Provider,Field,Value,Source,Weight,Timestamp,Primary\nP1,npi,1234567893,npi_registry,0.5,2025-03-01,1\n"
	res, err := ReadCSV(context.Background(), strings.NewReader(input), ',', Options{})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.InDelta(t, 0.5, res.Evidence[0].SourceWeight, 1e-9)
	assert.True(t, res.Evidence[0].IsPrimarySource)
}

func TestReadCSV_MissingColumns(t *testing.T) {
	_, err := ReadCSV(context.Background(), strings.NewReader("provider_id,value\nP1,x\n"), ',', Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field_name")
	assert.Contains(t, err.Error(), "source_name")
}

func TestReadCSV_NoWeightSource(t *testing.T) {
	input := "provider_id,field_name,value,source_name,observed_at\nP1,npi,1234567893,npi_registry,2025-03-01\n"
	res, err := ReadCSV(context.Background(), strings.NewReader(input), ',', Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Evidence)
	require.Len(t, res.Rejected, 1)
	assert.Contains(t, res.Rejected[0].Err.Error(), "source_weight is required")
}

func TestReadCSV_Cancelled(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("provider_id,field_name,value,source_name,source_weight,observed_at\n")
	for range 10000 {
		sb.WriteString("P1,npi,1234567893,npi_registry,0.9,2025-03-01\n")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := ReadCSV(ctx, strings.NewReader(sb.String()), ',', Options{})
	assert.Error(t, err)
}

func TestReadFile_TSV(t *testing.T) {
	path := writeFile(t, "evidence.tsv",
		"provider_id\tfield_name\tvalue\tsource_name\tsource_weight\tobserved_at\nP1\tlegal_name\tAcme, Inc\tstate_board\t0.95\t2025-03-01\n")
	res, err := ReadFile(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "Acme, Inc", res.Evidence[0].Value)
}

func TestReadFile_XLSX(t *testing.T) {
	path := createTestXLSX(t, "Evidence", [][]string{
		{"provider_id", "field_name", "value", "source_name", "source_weight", "observed_at"},
		{"P1", "npi", "1234567893", "npi_registry", "", "2025-03-01"},
		{"P1", "npi", "1234567893", "unknown", "", "2025-03-01"},
	})

	res, err := ReadFile(context.Background(), path, Options{Weights: defaultWeights})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.InDelta(t, 0.9, res.Evidence[0].SourceWeight, 1e-9)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 3, res.Rejected[0].Row)
}

func TestReadXLSX_SheetByName(t *testing.T) {
	path := createTestXLSX(t, "Evidence", [][]string{
		{"provider_id", "field_name", "value", "source_name", "source_weight", "observed_at"},
	})

	_, err := ReadXLSX(context.Background(), path, Options{Sheet: "Missing"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")

	res, err := ReadXLSX(context.Background(), path, Options{Sheet: "Evidence"})
	require.NoError(t, err)
	assert.Empty(t, res.Evidence)
}

func TestReadFile_YAMLList(t *testing.T) {
	path := writeFile(t, "evidence.yaml", `
- provider_id: P1
  field_name: npi
  value: "1234567893"
  source_name: npi_registry
  source_weight: 0.9
  observed_at: 2025-03-01T12:00:00Z
  is_primary_source: true
- provider_id: P1
  field_name: npi
  source_name: npi_registry
  source_weight: 0.9
`)
	res, err := ReadFile(context.Background(), path, Options{})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "1234567893", res.Evidence[0].Value)
	assert.True(t, res.Evidence[0].IsPrimarySource)
	require.Len(t, res.Rejected, 1)
	assert.Equal(t, 2, res.Rejected[0].Row)
}

func TestReadFile_JSONDocument(t *testing.T) {
	path := writeFile(t, "evidence.json", `{"evidence": [
		{"provider_id": "P1", "field_name": "legal_name", "value": "Acme Health", "source_name": "state_board", "observed_at": "2025-03-01"}
	]}`)
	res, err := ReadFile(context.Background(), path, Options{Weights: defaultWeights})
	require.NoError(t, err)
	require.Len(t, res.Evidence, 1)
	assert.InDelta(t, 0.95, res.Evidence[0].SourceWeight, 1e-9)
	assert.Empty(t, res.Rejected)
}

func TestReadYAML_Empty(t *testing.T) {
	res, err := ReadYAML(strings.NewReader(""), Options{})
	require.NoError(t, err)
	assert.Empty(t, res.Evidence)
}

func TestReadYAML_WrongShape(t *testing.T) {
	_, err := ReadYAML(strings.NewReader("just a string"), Options{})
	assert.Error(t, err)
}

func TestReadFile_Unsupported(t *testing.T) {
	_, err := ReadFile(context.Background(), "evidence.parquet", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported")
}
