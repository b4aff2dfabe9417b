// Package csv streams delimited text into record.Raw rows keyed by the
// header line. Malformed rows are reported through a callback and skipped;
// only I/O failures end the stream.
package csv

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
)

const utf8BOM = "\uFEFF"

// Options tunes the reader.
type Options struct {
	// Comma is the field delimiter. Zero means ','.
	Comma rune
	// LazyQuotes tolerates stray quotes inside unquoted fields.
	LazyQuotes bool
	// TrimSpace trims leading and trailing whitespace from values. Header
	// names are always trimmed.
	TrimSpace bool
}

// StreamRows reads the header line from r, then calls emit once per data row.
//
// Row handling:
//   - Rows with fewer cells than the header yield Null fields for the
//     missing columns.
//   - Rows with more cells than the header are malformed and skipped.
//   - csv syntax errors (bad quoting) are malformed and skipped.
//
// onErr receives every skipped row with its starting line. A non-nil error is
// returned only for read failures from r, a cancelled ctx, or an emit error.
// An empty input yields no rows and no error.
func StreamRows(
	ctx context.Context,
	r io.Reader,
	opt Options,
	emit func(record.Raw) error,
	onErr func(line int, err error),
) error {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.LazyQuotes = opt.LazyQuotes
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true

	header, err := readHeader(cr, onErr)
	if err != nil {
		return err
	}
	if header == nil {
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		rec, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if onErr != nil {
					onErr(pe.StartLine, pe.Err)
				}
				continue
			}
			return errors.Wrap(err, "csv read")
		}

		line, _ := cr.FieldPos(0)
		if len(rec) > len(header) {
			if onErr != nil {
				onErr(line, fmt.Errorf("expected %d fields, got %d", len(header), len(rec)))
			}
			continue
		}

		raw := record.Raw{Line: line, Fields: make([]record.Field, len(header))}
		for i, name := range header {
			if i >= len(rec) {
				raw.Fields[i] = record.Field{Name: name, Null: true}
				continue
			}
			v := rec[i]
			if opt.TrimSpace {
				v = strings.TrimSpace(v)
			}
			raw.Fields[i] = record.Field{Name: name, Value: v}
		}
		if err := emit(raw); err != nil {
			return err
		}
	}
}

// readHeader returns the first well-formed record as the header, skipping
// malformed leading lines. It returns (nil, nil) at EOF.
func readHeader(cr *csv.Reader, onErr func(int, error)) ([]string, error) {
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return nil, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				if onErr != nil {
					onErr(pe.StartLine, errors.Wrap(pe.Err, "header"))
				}
				continue
			}
			return nil, errors.Wrap(err, "csv read header")
		}
		header := make([]string, len(rec))
		for i, h := range rec {
			if i == 0 {
				h = strings.TrimPrefix(h, utf8BOM)
			}
			header[i] = strings.TrimSpace(h)
		}
		return header, nil
	}
}
