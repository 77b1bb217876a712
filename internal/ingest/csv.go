package ingest

import (
	"context"
	"encoding/csv"
	"io"

	"github.com/rotisserie/eris"
)

// streamCSV reads delimited rows onto a channel. Both channels are closed
// when reading completes; at most one error is sent.
func streamCSV(ctx context.Context, r io.Reader, delim rune) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.Comma = delim
		reader.Comment = '#'
		reader.LazyQuotes = true
		reader.FieldsPerRecord = -1

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "csv: read row")
				return
			}
			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV parses delimited evidence with a header row. Rows that fail
// validation are reported in Result.Rejected and do not stop the read.
func ReadCSV(ctx context.Context, r io.Reader, delim rune, opts Options) (*Result, error) {
	if delim == 0 {
		delim = ','
	}
	rowCh, errCh := streamCSV(ctx, r, delim)

	var rows [][]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return collect(rows, opts)
}
