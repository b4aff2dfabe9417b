package record

import (
	"bytes"
	"encoding/json"
	"sync"
)

// Raw rows are serialized in field order into the `data` column. Going
// through map[string]string would lose that order, so the object is written
// by hand into a pooled buffer.

var bufPool = sync.Pool{New: func() any { return new(bytes.Buffer) }}

// MarshalJSON encodes r as a JSON object whose keys appear in source order.
// Null fields encode as JSON null and JSON fields are written as is.
// Duplicate names are written as they occur.
func (r Raw) MarshalJSON() ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	buf.WriteByte('{')
	for i, f := range r.Fields {
		if i > 0 {
			buf.WriteByte(',')
		}
		writeJSONString(buf, f.Name)
		buf.WriteByte(':')
		switch {
		case f.Null:
			buf.WriteString("null")
		case f.JSON:
			buf.WriteString(f.Value)
		default:
			writeJSONString(buf, f.Value)
		}
	}
	buf.WriteByte('}')

	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

// JSON returns MarshalJSON as a string.
func (r Raw) JSON() string {
	b, _ := r.MarshalJSON()
	return string(b)
}

// writeJSONString writes s as a quoted JSON string. encoding/json performs the
// escaping so invalid UTF-8 and control characters follow its rules.
func writeJSONString(buf *bytes.Buffer, s string) {
	b, err := json.Marshal(s)
	if err != nil {
		buf.WriteString(`""`)
		return
	}
	buf.Write(b)
}
