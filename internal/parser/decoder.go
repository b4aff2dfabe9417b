// Package parser turns input files into batches of record.Raw rows.
//
// The Decoder picks the text encoding by trying an ordered list of candidates
// and keeping the first one that decodes the whole file. Files below the
// stream threshold are read into memory once; larger files are validated in a
// streaming pass and then parsed from disk, so peak memory stays bounded by
// the batch size.
package parser

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/text/transform"

	"recordload/internal/ingesterr"
	csvparser "recordload/internal/parser/csv"
	jsonparser "recordload/internal/parser/json"
	"recordload/internal/record"
)

// Format is an input file format.
type Format string

const (
	FormatCSV    Format = "csv"
	FormatNDJSON Format = "ndjson"
)

const (
	// DefaultStreamThreshold is the size above which files are streamed.
	DefaultStreamThreshold int64 = 100 << 20
	// DefaultBatchRows bounds the rows handed to emit at once.
	DefaultBatchRows = 10000
	// warnMalformed is how many malformed rows per file are logged at warn
	// level; the rest go to debug.
	warnMalformed = 3
)

// FormatFor maps a file extension to its format and CSV delimiter.
func FormatFor(path string) (Format, rune, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return FormatCSV, ',', true
	case ".tsv":
		return FormatCSV, '\t', true
	case ".txt", ".jsonl", ".ndjson", ".json":
		return FormatNDJSON, 0, true
	}
	return "", 0, false
}

// Options configures a Decoder.
type Options struct {
	Encodings []string
	// Delimiter overrides the extension default for CSV input when non-zero.
	Delimiter       rune
	LazyQuotes      bool
	TrimSpace       bool
	StreamThreshold int64
	BatchRows       int
}

// Result describes one decoded file.
type Result struct {
	Path      string
	Format    Format
	Encoding  string
	Rows      int64
	Malformed int64
	Streamed  bool
	Bytes     int64
}

// Decoder decodes files with encoding fallback. It is safe for concurrent use.
type Decoder struct {
	opt  Options
	encs []textEncoding
	log  *zap.Logger
}

// NewDecoder resolves the configured encodings. An unknown encoding name is
// an error so a typo in config does not silently shrink the candidate list.
func NewDecoder(opt Options, log *zap.Logger) (*Decoder, error) {
	if len(opt.Encodings) == 0 {
		opt.Encodings = DefaultEncodings
	}
	if opt.StreamThreshold <= 0 {
		opt.StreamThreshold = DefaultStreamThreshold
	}
	if opt.BatchRows <= 0 {
		opt.BatchRows = DefaultBatchRows
	}
	if log == nil {
		log = zap.NewNop()
	}
	encs := make([]textEncoding, 0, len(opt.Encodings))
	for _, name := range opt.Encodings {
		e, err := resolveEncoding(name)
		if err != nil {
			return nil, err
		}
		encs = append(encs, e)
	}
	return &Decoder{opt: opt, encs: encs, log: log}, nil
}

// Decode parses path and calls emit with batches of at most BatchRows rows.
//
// A *ingesterr.DecodeError is returned when no candidate encoding can decode
// the file. Malformed rows are counted in Result.Malformed and skipped.
func (d *Decoder) Decode(ctx context.Context, path string, emit func([]record.Raw) error) (Result, error) {
	res := Result{Path: path}
	format, comma, ok := FormatFor(path)
	if !ok {
		return res, errors.Newf("unsupported file type %q", filepath.Ext(path))
	}
	if d.opt.Delimiter != 0 && format == FormatCSV {
		comma = d.opt.Delimiter
	}
	res.Format = format

	fi, err := os.Stat(path)
	if err != nil {
		return res, errors.Wrap(err, "stat")
	}
	res.Bytes = fi.Size()
	res.Streamed = fi.Size() > d.opt.StreamThreshold

	var (
		enc textEncoding
		src func() (io.Reader, func(), error)
	)
	if res.Streamed {
		enc, err = d.pickStreaming(ctx, path)
		if err != nil {
			return res, err
		}
		src = func() (io.Reader, func(), error) {
			f, err := os.Open(path)
			if err != nil {
				return nil, nil, errors.Wrap(err, "open")
			}
			return transform.NewReader(f, enc.transformer()), func() { _ = f.Close() }, nil
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return res, errors.Wrap(err, "read")
		}
		var text []byte
		enc, text, err = d.pickWhole(path, data)
		if err != nil {
			return res, err
		}
		src = func() (io.Reader, func(), error) {
			return bytes.NewReader(text), func() {}, nil
		}
	}
	res.Encoding = enc.name

	r, closeFn, err := src()
	if err != nil {
		return res, err
	}
	defer closeFn()

	log := d.log.With(zap.String("file", path), zap.String("encoding", enc.name))
	log.Debug("decoding", zap.String("format", string(format)), zap.Bool("streamed", res.Streamed), zap.Int64("bytes", res.Bytes))

	var malformed atomic.Int64
	onErr := func(line int, err error) {
		n := malformed.Add(1)
		perr := &ingesterr.RowParseError{Path: path, Line: line, Err: err}
		if n <= warnMalformed {
			log.Warn("skipping malformed row", zap.Error(perr))
		} else {
			log.Debug("skipping malformed row", zap.Error(perr))
		}
	}

	batch := make([]record.Raw, 0, d.opt.BatchRows)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		out := batch
		batch = make([]record.Raw, 0, d.opt.BatchRows)
		return emit(out)
	}
	add := func(row record.Raw) error {
		res.Rows++
		batch = append(batch, row)
		if len(batch) >= d.opt.BatchRows {
			return flush()
		}
		return nil
	}

	switch format {
	case FormatCSV:
		err = csvparser.StreamRows(ctx, r, csvparser.Options{
			Comma:      comma,
			LazyQuotes: d.opt.LazyQuotes,
			TrimSpace:  d.opt.TrimSpace,
		}, add, onErr)
	case FormatNDJSON:
		err = jsonparser.StreamLines(ctx, r, add, onErr)
	}
	if err == nil {
		err = flush()
	}
	res.Malformed = malformed.Load()
	if err != nil {
		return res, err
	}
	if res.Malformed > warnMalformed {
		log.Warn("malformed rows skipped", zap.Int64("count", res.Malformed))
	}
	return res, nil
}

// candidates returns the configured encodings, with those matching a UTF-16
// or UTF-32 byte order mark at the start of head moved to the front.
func (d *Decoder) candidates(path string, head []byte) []textEncoding {
	mark := sniffBOM(head)
	if mark == "" {
		return d.encs
	}
	out := make([]textEncoding, 0, len(d.encs))
	for _, e := range d.encs {
		if e.acceptsBOM(mark) {
			out = append(out, e)
		}
	}
	if len(out) == 0 {
		return d.encs
	}
	d.log.Debug("byte order mark found", zap.String("file", path), zap.String("bom", mark))
	for _, e := range d.encs {
		if !e.acceptsBOM(mark) {
			out = append(out, e)
		}
	}
	return out
}

// pickWhole decodes data with each candidate in order.
func (d *Decoder) pickWhole(path string, data []byte) (textEncoding, []byte, error) {
	causes := make([]error, 0, len(d.encs))
	for _, e := range d.candidates(path, data) {
		out, err := e.decodeBytes(data)
		if err == nil {
			return e, out, nil
		}
		d.log.Debug("encoding rejected", zap.String("file", path), zap.String("encoding", e.name), zap.Error(err))
		causes = append(causes, errors.Wrap(err, e.name))
	}
	return textEncoding{}, nil, d.decodeError(path, causes)
}

// pickStreaming runs one validation pass per candidate over the file.
func (d *Decoder) pickStreaming(ctx context.Context, path string) (textEncoding, error) {
	head, err := readHead(path, 4)
	if err != nil {
		return textEncoding{}, err
	}
	causes := make([]error, 0, len(d.encs))
	for _, e := range d.candidates(path, head) {
		if err := ctx.Err(); err != nil {
			return textEncoding{}, err
		}
		err := validateFile(path, e)
		if err == nil {
			return e, nil
		}
		if errors.Is(err, os.ErrNotExist) || errors.Is(err, os.ErrPermission) {
			return textEncoding{}, err
		}
		d.log.Debug("encoding rejected", zap.String("file", path), zap.String("encoding", e.name), zap.Error(err))
		causes = append(causes, errors.Wrap(err, e.name))
	}
	return textEncoding{}, d.decodeError(path, causes)
}

func (d *Decoder) decodeError(path string, causes []error) error {
	names := make([]string, len(d.encs))
	for i, e := range d.encs {
		names[i] = e.name
	}
	return &ingesterr.DecodeError{Path: path, Encodings: names, Causes: causes}
}

func validateFile(path string, e textEncoding) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	var dst io.Writer = io.Discard
	if e.strict || e.noNUL {
		dst = &replacementDetector{nul: e.noNUL}
	}
	_, err = io.Copy(dst, transform.NewReader(f, e.transformer()))
	return err
}

func readHead(path string, n int) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open")
	}
	defer f.Close()
	head := make([]byte, n)
	k, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "read")
	}
	return head[:k], nil
}
