// Package inspect decodes a file without writing anything and reports how
// its fields would land in the table.
package inspect

import (
	"context"
	"fmt"
	"io"
	"strconv"

	"github.com/cockroachdb/errors"
	"github.com/olekukonko/tablewriter"

	"recordload/internal/parser"
	"recordload/internal/record"
	"recordload/internal/transformer"
)

// Decoder is the parser entry point; *parser.Decoder satisfies it.
type Decoder interface {
	Decode(ctx context.Context, path string, emit func([]record.Raw) error) (parser.Result, error)
}

// Field describes one raw field name seen in the file.
type Field struct {
	Name string
	// Target is the canonical attribute or dynamic column the field maps to;
	// empty when the field is dropped.
	Target    string
	Canonical bool
	// NonNull counts records carrying a non-null value for the field.
	NonNull int64
}

// Report is the outcome of inspecting one file.
type Report struct {
	parser.Result
	Identity record.IdentityPolicy
	// Sampled is set when MaxRows stopped the scan early.
	Sampled bool
	// Inspected counts the records looked at.
	Inspected   int64
	WithKey     int64
	WithoutKey  int64
	Fields      []Field
	fieldsIndex map[string]int
}

// Options bounds an inspection.
type Options struct {
	// MaxRows stops after this many records; zero reads the whole file.
	MaxRows  int64
	Identity record.IdentityPolicy
}

var errEnough = errors.New("inspect: sample complete")

// File decodes path and tallies field mappings and identity coverage.
func File(ctx context.Context, dec Decoder, norm *transformer.Normalizer, path string, opt Options) (Report, error) {
	if opt.Identity == "" {
		opt.Identity = record.IdentityEmail
	}
	rep := Report{Identity: opt.Identity, fieldsIndex: map[string]int{}}

	emit := func(batch []record.Raw) error {
		for _, raw := range batch {
			if opt.MaxRows > 0 && rep.Inspected >= opt.MaxRows {
				return errEnough
			}
			rep.observe(norm, raw, path)
		}
		return nil
	}

	res, err := dec.Decode(ctx, path, emit)
	rep.Result = res
	if errors.Is(err, errEnough) {
		rep.Sampled = true
		err = nil
	}
	return rep, err
}

func (r *Report) observe(norm *transformer.Normalizer, raw record.Raw, path string) {
	r.Inspected++
	for _, f := range raw.Fields {
		i, ok := r.fieldsIndex[f.Name]
		if !ok {
			target, canonical := norm.Target(f.Name)
			i = len(r.Fields)
			r.fieldsIndex[f.Name] = i
			r.Fields = append(r.Fields, Field{Name: f.Name, Target: target, Canonical: canonical})
		}
		if !f.Null {
			r.Fields[i].NonNull++
		}
	}
	n := norm.Normalize(raw, path)
	if _, ok := r.Identity.Key(&n); ok {
		r.WithKey++
	} else {
		r.WithoutKey++
	}
}

// Render prints the report as a summary followed by a field table.
func Render(w io.Writer, r Report) {
	fmt.Fprintf(w, "File: %s\n", r.Path)
	fmt.Fprintf(w, "Format: %s  Encoding: %s  Bytes: %d  Streamed: %t\n", r.Format, r.Encoding, r.Bytes, r.Streamed)
	scope := "all"
	if r.Sampled {
		scope = "first " + strconv.FormatInt(r.Inspected, 10)
	}
	fmt.Fprintf(w, "Records inspected: %d (%s)  Malformed: %d\n", r.Inspected, scope, r.Malformed)
	fmt.Fprintf(w, "Identity (%s): %d with key, %d skipped\n\n", r.Identity, r.WithKey, r.WithoutKey)

	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader([]string{"field", "target", "kind", "non-null"})
	for _, f := range r.Fields {
		kind := "dynamic"
		switch {
		case f.Canonical:
			kind = "canonical"
		case f.Target == "":
			kind = "dropped"
		}
		table.Append([]string{f.Name, f.Target, kind, strconv.FormatInt(f.NonNull, 10)})
	}
	table.Render()
}
