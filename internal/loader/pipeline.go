package loader

import (
	"context"
	"runtime"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"recordload/internal/ingesterr"
	"recordload/internal/metrics"
	"recordload/internal/parser"
	"recordload/internal/record"
	"recordload/internal/transformer"
)

// Decoder produces raw record batches from a file. *parser.Decoder
// satisfies it.
type Decoder interface {
	Decode(ctx context.Context, path string, emit func([]record.Raw) error) (parser.Result, error)
}

// Options configures a Pipeline.
type Options struct {
	// Workers bounds the chunks in flight per file. Defaults to GOMAXPROCS.
	Workers int
	// ChunkSize is the number of records per chunk. Defaults to 1000.
	ChunkSize int
	Job       string
	RunID     string
}

const DefaultChunkSize = 1000

// Pipeline loads files into the store.
type Pipeline struct {
	dec    Decoder
	norm   *transformer.Normalizer
	writer *Writer
	opt    Options
	log    *zap.Logger
}

// New wires a Pipeline.
func New(dec Decoder, norm *transformer.Normalizer, w *Writer, opt Options, log *zap.Logger) *Pipeline {
	if opt.Workers <= 0 {
		opt.Workers = runtime.GOMAXPROCS(0)
	}
	if opt.ChunkSize <= 0 {
		opt.ChunkSize = DefaultChunkSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	if opt.RunID != "" {
		log = log.With(zap.String("run_id", opt.RunID))
	}
	return &Pipeline{dec: dec, norm: norm, writer: w, opt: opt, log: log}
}

// LoadFiles loads paths one after another. A file that cannot be decoded is
// logged and skipped; the error is kept on its FileStats. Only cancellation
// of ctx stops the run early.
func (p *Pipeline) LoadFiles(ctx context.Context, paths []string) (RunSummary, error) {
	sum := RunSummary{RunID: p.opt.RunID}
	for i, path := range paths {
		if err := ctx.Err(); err != nil {
			p.log.Warn("run cancelled", zap.Int("files_done", i), zap.Int("files_total", len(paths)))
			return sum, err
		}
		st, err := p.LoadFile(ctx, path)
		sum.Files = append(sum.Files, st)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return sum, ctx.Err()
		}
		if ingesterr.IsDecode(err) {
			p.log.Error("file skipped: no encoding could decode it", zap.String("file", path), zap.Error(err))
		} else {
			p.log.Error("file skipped", zap.String("file", path), zap.Error(err))
		}
	}
	read, written, skipped, abandoned := sum.Totals()
	p.log.Info("run summary",
		zap.Int("files", len(sum.Files)),
		zap.Int("files_failed", len(sum.Failed())),
		zap.Int64("rows_read", read),
		zap.Int64("records_written", written),
		zap.Int64("skipped_identity", skipped),
		zap.Int64("records_abandoned", abandoned),
	)
	return sum, nil
}

// LoadFile decodes path and writes its records chunk by chunk. The decoder
// blocks while every worker is busy, so at most Workers chunks are held in
// memory beyond the current decode batch.
//
// The returned error is a *ingesterr.DecodeError when the file could not be
// decoded, or the context error on cancellation. Row, identity, schema and
// write failures are counted in the stats instead.
func (p *Pipeline) LoadFile(ctx context.Context, path string) (*FileStats, error) {
	start := time.Now()
	st := newFileStats(path)
	log := p.log.With(zap.String("file", path))
	prog := newProgress(log)
	log.Info("loading file")

	var g errgroup.Group
	g.SetLimit(p.opt.Workers)

	index := 0
	emit := func(batch []record.Raw) error {
		for _, part := range Partition(batch, p.opt.ChunkSize) {
			if err := ctx.Err(); err != nil {
				return err
			}
			c := Chunk{ID: ChunkID(path, index), Source: path, Index: index}
			index++
			g.Go(func() error {
				p.processChunk(ctx, c, part, st, prog)
				return nil
			})
		}
		return nil
	}

	res, err := p.dec.Decode(ctx, path, emit)
	_ = g.Wait()

	st.Encoding = res.Encoding
	st.Format = string(res.Format)
	st.Streamed = res.Streamed
	st.RowsRead.Store(res.Rows)
	st.Malformed.Store(res.Malformed)
	st.Duration = time.Since(start)
	if err == nil {
		err = ctx.Err()
	}
	st.Err = err

	metrics.RecordStep(p.opt.Job, "load_file", err, st.Duration)
	metrics.RecordRow(p.opt.Job, "read", res.Rows)
	metrics.RecordRow(p.opt.Job, "malformed", res.Malformed)

	if ingesterr.IsDecode(err) {
		return st, err
	}
	logFileSummary(log, st, err == nil)
	if err != nil {
		return st, errors.Wrapf(err, "load %s", path)
	}
	return st, nil
}

// processChunk normalizes raw rows, drops records without identity and
// writes the rest.
func (p *Pipeline) processChunk(ctx context.Context, c Chunk, raws []record.Raw, st *FileStats, prog *progress) {
	identity := p.writer.Identity()
	c.Records = make([]record.Normalized, 0, len(raws))
	var skipped int64
	for _, raw := range raws {
		n := p.norm.Normalize(raw, c.Source)
		if _, ok := identity.Key(&n); !ok {
			skipped++
			ierr := &ingesterr.MissingIdentityKeyError{Source: c.Source, Line: n.Line, Policy: string(identity)}
			st.identityErrs.add(ierr.Error())
			p.log.Debug("skipping record", zap.Error(ierr))
			continue
		}
		c.Records = append(c.Records, n)
	}
	c.State = Normalized
	st.SkippedIdentity.Add(skipped)
	metrics.RecordRow(p.opt.Job, "skipped_identity", skipped)
	if len(c.Records) == 0 {
		return
	}

	out := p.writer.WriteChunk(ctx, c)
	st.SchemaDropped.Add(int64(out.SchemaDropped))
	st.Retries.Add(int64(out.Retries))
	st.ChunksWritten.Add(int64(out.SubWritten))
	st.ChunksAbandoned.Add(int64(out.SubAbandoned))
	st.RecordsWritten.Add(int64(out.RecordsWritten))
	st.RecordsAbandoned.Add(int64(out.RecordsAbandoned))
	for _, err := range out.Errs {
		st.writeErrs.add(err.Error())
	}

	metrics.RecordRow(p.opt.Job, "written", int64(out.RecordsWritten))
	metrics.RecordRow(p.opt.Job, "abandoned", int64(out.RecordsAbandoned))
	metrics.RecordRow(p.opt.Job, "schema_dropped", int64(out.SchemaDropped))
	for range out.SubWritten {
		metrics.RecordChunk(p.opt.Job, Written.String())
	}
	for range out.SubAbandoned {
		metrics.RecordChunk(p.opt.Job, Abandoned.String())
	}
	if out.RecordsWritten > 0 {
		prog.chunkWritten(c.ID, out.RecordsWritten)
	}
}
