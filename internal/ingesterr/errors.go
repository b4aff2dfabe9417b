// Package ingesterr holds the error types the loader reports. Every per-row
// and per-chunk failure is one of these; callers count and log them instead
// of aborting the run.
package ingesterr

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

// DecodeError reports that no candidate encoding could decode a file. The
// file is skipped.
type DecodeError struct {
	Path      string
	Encodings []string
	// Causes holds the failure for each attempted encoding, in order.
	Causes []error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: no candidate encoding succeeded (tried %s)",
		e.Path, strings.Join(e.Encodings, ", "))
}

// Unwrap exposes the last attempt's failure.
func (e *DecodeError) Unwrap() error {
	if len(e.Causes) == 0 {
		return nil
	}
	return e.Causes[len(e.Causes)-1]
}

// RowParseError is one malformed CSV row or NDJSON line.
type RowParseError struct {
	Path string
	Line int
	Err  error
}

func (e *RowParseError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.Path, e.Line, e.Err)
}

func (e *RowParseError) Unwrap() error { return e.Err }

// MissingIdentityKeyError marks a normalized record with no usable identity.
type MissingIdentityKeyError struct {
	Source string
	Line   int
	Policy string
}

func (e *MissingIdentityKeyError) Error() string {
	return fmt.Sprintf("%s:%d: record has no identity key (policy=%s)", e.Source, e.Line, e.Policy)
}

// SchemaError reports a failed column addition other than "already exists".
type SchemaError struct {
	Column string
	Err    error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("add column %q: %v", e.Column, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// WriteError reports an abandoned chunk or sub-chunk.
type WriteError struct {
	Chunk    string
	Records  int
	Attempts int
	Err      error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write chunk %s (%d records, %d attempts): %v", e.Chunk, e.Records, e.Attempts, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// IsDecode reports whether err is or wraps a *DecodeError.
func IsDecode(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}

// IsSchema reports whether err is or wraps a *SchemaError.
func IsSchema(err error) bool {
	var se *SchemaError
	return errors.As(err, &se)
}

// IsWrite reports whether err is or wraps a *WriteError.
func IsWrite(err error) bool {
	var we *WriteError
	return errors.As(err, &we)
}
