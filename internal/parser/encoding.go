package parser

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/encoding/unicode/utf32"
	"golang.org/x/text/transform"
)

// DefaultEncodings is the candidate order tried when none is configured.
var DefaultEncodings = []string{"utf-8", "latin1", "iso-8859-1", "cp1252", "utf-16", "utf-32"}

var (
	errReplacement = errors.New("decoded text contains U+FFFD replacement characters")
	errNUL         = errors.New("decoded text contains NUL bytes")
)

// textEncoding is one resolved candidate.
type textEncoding struct {
	name string
	enc  encoding.Encoding
	// strict rejects output containing U+FFFD. Decoders from x/text map
	// undefined input to the replacement rune instead of failing.
	strict bool
	// noNUL rejects output containing NUL. Single-byte charsets accept any
	// input, so this is what keeps them from swallowing UTF-16 and UTF-32.
	noNUL bool
	// bom is the byte order mark family the encoding understands, e.g.
	// "utf-16" for either order or "utf-16be" for one.
	bom string
}

// acceptsBOM reports whether e decodes text starting with the sniffed mark.
func (e textEncoding) acceptsBOM(mark string) bool {
	return e.bom != "" && strings.HasPrefix(mark, e.bom)
}

// transformer returns a fresh decoding transformer that yields UTF-8.
func (e textEncoding) transformer() transform.Transformer {
	if e.enc == nil {
		return encoding.UTF8Validator
	}
	return e.enc.NewDecoder()
}

// decodeBytes decodes b in full.
func (e textEncoding) decodeBytes(b []byte) ([]byte, error) {
	out, _, err := transform.Bytes(e.transformer(), b)
	if err != nil {
		return nil, err
	}
	if e.strict && bytes.ContainsRune(out, utf8.RuneError) {
		return nil, errReplacement
	}
	if e.noNUL && bytes.IndexByte(out, 0) >= 0 {
		return nil, errNUL
	}
	return out, nil
}

// sniffBOM names the UTF-16 or UTF-32 byte order mark head starts with, or
// returns "". UTF-32LE is checked first since its mark begins with UTF-16LE's.
func sniffBOM(head []byte) string {
	switch {
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE, 0x00, 0x00}):
		return "utf-32le"
	case bytes.HasPrefix(head, []byte{0x00, 0x00, 0xFE, 0xFF}):
		return "utf-32be"
	case bytes.HasPrefix(head, []byte{0xFF, 0xFE}):
		return "utf-16le"
	case bytes.HasPrefix(head, []byte{0xFE, 0xFF}):
		return "utf-16be"
	}
	return ""
}

// resolveEncoding maps a user-facing name (as accepted by common CSV tools)
// to an x/text encoding.
func resolveEncoding(name string) (textEncoding, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	n = strings.ReplaceAll(n, "_", "-")
	switch n {
	case "utf-8", "utf8":
		return textEncoding{name: name}, nil
	case "latin1", "latin-1", "iso-8859-1", "iso8859-1":
		return textEncoding{name: name, enc: charmap.ISO8859_1, noNUL: true}, nil
	case "cp1252", "windows-1252":
		return textEncoding{name: name, enc: charmap.Windows1252, strict: true, noNUL: true}, nil
	case "utf-16", "utf16":
		return textEncoding{name: name, enc: unicode.UTF16(unicode.LittleEndian, unicode.UseBOM), strict: true, bom: "utf-16"}, nil
	case "utf-16le":
		return textEncoding{name: name, enc: unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM), strict: true, bom: "utf-16le"}, nil
	case "utf-16be":
		return textEncoding{name: name, enc: unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM), strict: true, bom: "utf-16be"}, nil
	case "utf-32", "utf32":
		return textEncoding{name: name, enc: utf32.UTF32(utf32.LittleEndian, utf32.UseBOM), strict: true, bom: "utf-32"}, nil
	case "utf-32le":
		return textEncoding{name: name, enc: utf32.UTF32(utf32.LittleEndian, utf32.IgnoreBOM), strict: true, bom: "utf-32le"}, nil
	case "utf-32be":
		return textEncoding{name: name, enc: utf32.UTF32(utf32.BigEndian, utf32.IgnoreBOM), strict: true, bom: "utf-32be"}, nil
	}

	enc, err := ianaindex.IANA.Encoding(n)
	if err != nil {
		return textEncoding{}, errors.Wrapf(err, "encoding %q", name)
	}
	if enc == nil {
		return textEncoding{}, errors.Newf("encoding %q is not supported", name)
	}
	_, single := enc.(*charmap.Charmap)
	return textEncoding{name: name, enc: enc, strict: true, noNUL: single}, nil
}

// replacementDetector is an io.Writer that fails once U+FFFD appears in the
// stream written to it, or NUL when nul is set. It carries the last two bytes
// across writes so a rune split between writes is still seen.
type replacementDetector struct {
	nul  bool
	tail []byte
	n    int64
}

var replacementRune = []byte(string(utf8.RuneError))

func (d *replacementDetector) Write(p []byte) (int, error) {
	d.n += int64(len(p))
	if d.nul && bytes.IndexByte(p, 0) >= 0 {
		return 0, errNUL
	}
	buf := append(d.tail, p...)
	if bytes.Contains(buf, replacementRune) {
		return 0, errReplacement
	}
	keep := len(replacementRune) - 1
	if len(buf) < keep {
		keep = len(buf)
	}
	d.tail = append(d.tail[:0], buf[len(buf)-keep:]...)
	return len(p), nil
}
