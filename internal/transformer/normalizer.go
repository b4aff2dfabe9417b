// Package transformer maps raw source records onto the canonical schema.
//
// Normalization is pure: a Normalizer holds only immutable lookup tables
// built at construction, so one instance may be shared by every worker.
package transformer

import (
	"strings"

	"recordload/internal/record"
)

// ReservedPrefix is prepended to dynamic attribute names that would
// otherwise collide with a column the loader owns.
const ReservedPrefix = "extra_"

// Normalizer converts record.Raw into record.Normalized.
type Normalizer struct {
	aliases  AliasTable
	consumed map[string]struct{}
	reserved map[string]struct{}
}

// NewNormalizer builds a Normalizer from an alias table. Every name that
// appears in any alias list is treated as claimed by the canonical schema
// and never becomes a dynamic attribute, whether or not it supplied the
// winning value.
func NewNormalizer(aliases AliasTable) *Normalizer {
	n := &Normalizer{
		aliases:  aliases,
		consumed: make(map[string]struct{}),
		reserved: make(map[string]struct{}),
	}
	for _, a := range aliases {
		for _, name := range a.Names {
			n.consumed[name] = struct{}{}
		}
	}
	for _, c := range record.Reserved() {
		n.reserved[c] = struct{}{}
	}
	return n
}

// Normalize maps raw onto the canonical attributes. For each attribute the
// first alias present with a non-blank value wins. Remaining non-null fields
// become dynamic attributes under sanitized names; when two raw names
// sanitize to the same column the first one wins.
func (n *Normalizer) Normalize(raw record.Raw, source string) record.Normalized {
	out := record.Normalized{
		Source: source,
		Data:   raw.JSON(),
		Line:   raw.Line,
	}
	for _, a := range n.aliases {
		out.Set(a.Attribute, firstValue(raw, a.Names))
	}

	var seen map[string]struct{}
	for _, f := range raw.Fields {
		if f.Null {
			continue
		}
		if _, ok := n.consumed[f.Name]; ok {
			continue
		}
		name := n.DynamicName(f.Name)
		if name == "" {
			continue
		}
		if seen == nil {
			seen = make(map[string]struct{}, len(raw.Fields))
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out.Dynamic = append(out.Dynamic, record.Field{Name: name, Value: f.Value})
	}
	return out
}

// Target reports where a raw field name lands: the canonical attribute it
// is an alias of, or its dynamic column name. An empty target means the
// field is dropped.
func (n *Normalizer) Target(raw string) (target string, canonical bool) {
	if _, ok := n.consumed[raw]; ok {
		for _, a := range n.aliases {
			for _, name := range a.Names {
				if name == raw {
					return string(a.Attribute), true
				}
			}
		}
	}
	return n.DynamicName(raw), false
}

// DynamicName returns the column name a raw field name is stored under, or
// "" when nothing usable remains.
func (n *Normalizer) DynamicName(raw string) string {
	name := SanitizeName(raw)
	if strings.Trim(name, "_") == "" {
		return ""
	}
	if _, ok := n.reserved[name]; ok {
		return ReservedPrefix + name
	}
	return name
}

// SanitizeName replaces every character outside [A-Za-z0-9_] with '_' and
// lower-cases the result.
func SanitizeName(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func firstValue(raw record.Raw, names []string) string {
	for _, name := range names {
		v, ok := raw.Get(name)
		if !ok {
			continue
		}
		if v = cleanValue(v); v != "" {
			return v
		}
	}
	return ""
}

// cleanValue trims whitespace and the non-breaking spaces common in
// spreadsheet exports, including the mis-decoded UTF-8 form "Â" + NBSP.
func cleanValue(s string) string {
	if strings.ContainsRune(s, '\u00a0') {
		s = strings.ReplaceAll(s, "Â\u00a0", " ")
		s = strings.ReplaceAll(s, "\u00a0", " ")
	}
	return strings.TrimSpace(s)
}
