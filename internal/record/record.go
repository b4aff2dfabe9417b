// Package record defines the row shapes that flow through the loader: the
// untyped Raw record produced by the parsers and the Normalized record that
// the writer persists.
package record

// Field is one named value. Null marks a field that was present in the source
// but carried no value (an empty CSV cell past the row end, a JSON null).
// JSON marks Value as a compact JSON number, boolean, array or object that
// serializes unquoted.
type Field struct {
	Name  string
	Value string
	Null  bool
	JSON  bool
}

// Raw is a source row exactly as decoded: field names keep their original
// casing and punctuation and their order of appearance.
type Raw struct {
	// Line is the 1-based physical line (CSV record number or NDJSON line)
	// the row was read from. Zero when unknown.
	Line   int
	Fields []Field
}

// Get returns the value of the first field named name. The second result is
// false when the field is missing or null.
func (r Raw) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			if f.Null {
				return "", false
			}
			return f.Value, true
		}
	}
	return "", false
}

// Len reports the number of fields.
func (r Raw) Len() int { return len(r.Fields) }
