// Package json streams newline-delimited JSON into record.Raw rows.
//
// Each non-empty line must hold exactly one JSON object. Keys keep the order
// they appear in on the line, so the serialized record written to the store
// matches the input. String values are unquoted; null values become Null
// fields; numbers, booleans, arrays and nested objects are kept as compact
// JSON text flagged JSON, so they serialize back with their types.
//
// A line that is not a JSON object is reported through onErr and skipped. The
// stream only fails on read errors from the underlying reader, a cancelled
// context, or an error returned by emit.
package json

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
)

var utf8BOM = []byte("\uFEFF")

// StreamLines reads r line by line and calls emit once per JSON object.
func StreamLines(
	ctx context.Context,
	r io.Reader,
	emit func(record.Raw) error,
	onErr func(line int, err error),
) error {
	br := bufio.NewReaderSize(r, 64*1024)
	line := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		b, err := br.ReadBytes('\n')
		if len(b) > 0 {
			line++
			if line == 1 {
				b = bytes.TrimPrefix(b, utf8BOM)
			}
			b = bytes.TrimSpace(b)
			if len(b) > 0 {
				fields, perr := decodeObject(b)
				if perr != nil {
					if onErr != nil {
						onErr(line, perr)
					}
				} else if eerr := emit(record.Raw{Line: line, Fields: fields}); eerr != nil {
					return eerr
				}
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "ndjson read")
		}
	}
}

// decodeObject parses one JSON object keeping key order.
func decodeObject(b []byte) ([]record.Field, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return nil, fmt.Errorf("line is not a JSON object (starts with %v)", tok)
	}

	var fields []record.Field
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := kt.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected key token %v", kt)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return nil, errors.Wrapf(err, "value for %q", key)
		}
		f, err := fieldFromRaw(key, raw)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	if _, err := dec.Token(); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, errors.New("trailing data after JSON object")
	}
	return fields, nil
}

func fieldFromRaw(key string, raw json.RawMessage) (record.Field, error) {
	switch {
	case bytes.Equal(raw, []byte("null")):
		return record.Field{Name: key, Null: true}, nil
	case len(raw) > 0 && raw[0] == '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return record.Field{}, errors.Wrapf(err, "value for %q", key)
		}
		return record.Field{Name: key, Value: s}, nil
	default:
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err != nil {
			return record.Field{}, errors.Wrapf(err, "value for %q", key)
		}
		return record.Field{Name: key, Value: buf.String(), JSON: true}, nil
	}
}
