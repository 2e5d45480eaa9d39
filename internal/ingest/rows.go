package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Decode wraps r so it yields UTF-8. Empty or UTF-8 charsets only strip a
// leading byte-order mark.
func Decode(r io.Reader, charset string) (io.Reader, error) {
	charset = strings.ToLower(strings.TrimSpace(charset))
	if charset != "" && charset != "utf-8" && charset != "utf8" {
		enc, err := htmlindex.Get(charset)
		if err != nil {
			return nil, eris.Wrapf(err, "ingest: unsupported charset %q", charset)
		}
		r = enc.NewDecoder().Reader(r)
	}

	br := bufio.NewReader(r)
	if head, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(head, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br, nil
}

// StreamRows reads a headed CSV and sends each data row as a header -> value
// map. Blank lines and rows with every cell empty are dropped. Both channels
// are closed when reading completes.
func StreamRows(ctx context.Context, r io.Reader) (<-chan map[string]string, <-chan error) {
	rowCh := make(chan map[string]string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		reader.FieldsPerRecord = -1
		reader.LazyQuotes = true

		header, err := reader.Read()
		if err == io.EOF {
			return
		}
		if err != nil {
			errCh <- eris.Wrap(err, "ingest: read header")
			return
		}
		for i := range header {
			header[i] = strings.TrimSpace(header[i])
		}

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: read row")
				return
			}

			row := toRow(header, record)
			if row == nil {
				continue
			}
			select {
			case rowCh <- row:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

func toRow(header, record []string) map[string]string {
	row := make(map[string]string, len(header))
	empty := true
	for i, h := range header {
		if h == "" {
			continue
		}
		var v string
		if i < len(record) {
			v = record[i]
		}
		if strings.TrimSpace(v) != "" {
			empty = false
		}
		row[h] = v
	}
	if empty {
		return nil
	}
	return row
}

// ReadRows decodes and collects every row of a CSV attachment.
func ReadRows(ctx context.Context, r io.Reader, charset string) ([]map[string]string, error) {
	decoded, err := Decode(r, charset)
	if err != nil {
		return nil, err
	}
	rowCh, errCh := StreamRows(ctx, decoded)

	var rows []map[string]string
	for row := range rowCh {
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	return rows, nil
}
