// Package search turns user queries of the form "field:value" or a bare term
// into storage conditions, runs them and aggregates the results.
package search

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// FullScanWarning is attached to plans that filter without an index.
const FullScanWarning = "query filters without an index and scans the whole table (ALLOW FILTERING)"

// Plan is the set of conditions one query expands to. Each condition runs
// as its own select.
type Plan struct {
	// Field is the lower-cased field name, or "" for a bare term.
	Field string
	// Column is the column the conditions target.
	Column     string
	Value      string
	Conditions []storage.Condition
	// Canonical is true when Field is a canonical attribute.
	Canonical bool
	// Warning is non-empty when any condition needs a full scan.
	Warning string
}

// Builder expands queries. Names maps a non-canonical field to its stored
// attribute name; it should match how the loader named dynamic attributes.
type Builder struct {
	Identity record.IdentityPolicy
	Mode     storage.DynamicMode
	Names    func(field string) string
}

// Build parses input and returns the conditions to run.
//
// A canonical field yields equality conditions on its column for the value
// as given, lower-cased, capitalized and upper-cased, minus duplicates.
// Email is case-sensitive and yields one condition. Any other field is
// looked up among the dynamic attributes with the same casings. Input with
// no colon is a bare term matched as a substring of the stored raw record.
func (b Builder) Build(input string) (Plan, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return Plan{}, errors.New("empty search query")
	}

	field, value, ok := strings.Cut(input, ":")
	if !ok {
		return b.bare(input), nil
	}
	field = strings.ToLower(strings.TrimSpace(field))
	value = strings.TrimSpace(value)
	if field == "" {
		return b.bare(input), nil
	}
	if value == "" {
		return Plan{}, errors.Newf("search %q: missing value", field)
	}

	p := Plan{Field: field, Value: value}
	switch {
	case field == string(record.Email):
		p.Canonical = true
		p.Column = field
		p.Conditions = []storage.Condition{{Op: storage.OpEqual, Column: field, Value: value, FullScan: !b.indexed(field)}}
	case record.IsCanonical(field):
		p.Canonical = true
		p.Column = field
		full := !b.indexed(field)
		for _, v := range Casings(value) {
			p.Conditions = append(p.Conditions, storage.Condition{Op: storage.OpEqual, Column: field, Value: v, FullScan: full})
		}
	default:
		name := field
		if b.Names != nil {
			name = b.Names(field)
		}
		if name == "" {
			return Plan{}, errors.Newf("search: %q is not a usable field name", field)
		}
		for _, v := range Casings(value) {
			c := storage.Condition{Op: storage.OpEqual, Column: name, Value: v, FullScan: true}
			if b.Mode == storage.DynamicMap {
				c = storage.Condition{Op: storage.OpMapEntry, Column: record.AttributesColumn, Key: name, Value: v}
			}
			p.Conditions = append(p.Conditions, c)
		}
		p.Column = name
		if b.Mode == storage.DynamicMap {
			p.Column = record.AttributesColumn
		}
	}
	for _, c := range p.Conditions {
		if c.FullScan {
			p.Warning = FullScanWarning
			break
		}
	}
	return p, nil
}

func (b Builder) bare(term string) Plan {
	p := Plan{Value: term, Column: record.DataColumn, Warning: FullScanWarning}
	for _, v := range Casings(term) {
		p.Conditions = append(p.Conditions, storage.Condition{Op: storage.OpContains, Column: record.DataColumn, Value: v, FullScan: true})
	}
	return p
}

func (b Builder) indexed(column string) bool {
	identity := b.Identity
	if identity == "" {
		identity = record.IdentityEmail
	}
	for _, c := range storage.IndexedColumns(identity) {
		if c == column {
			return true
		}
	}
	return false
}

// Casings returns v, its lower-case, capitalized and upper-case forms in that
// order with duplicates removed.
func Casings(v string) []string {
	out := make([]string, 0, 4)
	for _, c := range []string{v, strings.ToLower(v), Capitalize(v), strings.ToUpper(v)} {
		dup := false
		for _, o := range out {
			if o == c {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// Capitalize upper-cases the first rune and lower-cases the rest.
func Capitalize(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if size == 0 {
		return s
	}
	return string(unicode.ToUpper(r)) + strings.ToLower(s[size:])
}
