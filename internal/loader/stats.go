package loader

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// FileStats are the per-file counters reported at the end of a load. The
// counters are updated concurrently by chunk workers.
type FileStats struct {
	Path     string
	Encoding string
	Format   string
	Streamed bool
	Duration time.Duration
	// Err is set when the file was skipped or the load stopped early.
	Err error

	RowsRead         atomic.Int64
	Malformed        atomic.Int64
	SkippedIdentity  atomic.Int64
	SchemaDropped    atomic.Int64
	ChunksWritten    atomic.Int64
	ChunksAbandoned  atomic.Int64
	RecordsWritten   atomic.Int64
	RecordsAbandoned atomic.Int64
	Retries          atomic.Int64

	writeErrs    *errAgg
	identityErrs *errAgg
}

func newFileStats(path string) *FileStats {
	return &FileStats{
		Path:         path,
		writeErrs:    newErrAgg(5),
		identityErrs: newErrAgg(5),
	}
}

// RunSummary aggregates a multi-file load.
type RunSummary struct {
	RunID string
	Files []*FileStats
}

// Failed returns the files that were skipped or stopped early.
func (s RunSummary) Failed() []*FileStats {
	var out []*FileStats
	for _, f := range s.Files {
		if f.Err != nil {
			out = append(out, f)
		}
	}
	return out
}

// Totals sums record counters over every file.
func (s RunSummary) Totals() (read, written, skipped, abandoned int64) {
	for _, f := range s.Files {
		read += f.RowsRead.Load()
		written += f.RecordsWritten.Load()
		skipped += f.SkippedIdentity.Load()
		abandoned += f.RecordsAbandoned.Load()
	}
	return read, written, skipped, abandoned
}

// errAgg keeps a count and the first few messages of a class of error.
type errAgg struct {
	mu    sync.Mutex
	limit int
	count int
	first []string
}

func newErrAgg(limit int) *errAgg {
	return &errAgg{limit: limit}
}

func (a *errAgg) add(msg string) {
	a.mu.Lock()
	if a.count < a.limit {
		a.first = append(a.first, msg)
	}
	a.count++
	a.mu.Unlock()
}

func (a *errAgg) snapshot() (int, []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.count, append([]string(nil), a.first...)
}

// progress logs one line per written chunk with throughput and totals.
type progress struct {
	log   *zap.Logger
	start time.Time

	mu       sync.Mutex
	n        int
	total    int64
	lastTick time.Time
}

func newProgress(log *zap.Logger) *progress {
	now := time.Now()
	return &progress{log: log, start: now, lastTick: now}
}

func (p *progress) chunkWritten(id string, records int) {
	p.mu.Lock()
	now := time.Now()
	p.n++
	p.total += int64(records)
	sinceLast := now.Sub(p.lastTick)
	p.lastTick = now
	elapsed := now.Sub(p.start)
	n, total := p.n, p.total
	p.mu.Unlock()

	rps := 0.0
	if s := elapsed.Seconds(); s > 0 {
		rps = float64(total) / s
	}
	p.log.Info("chunk written",
		zap.Int("n", n),
		zap.String("chunk", id),
		zap.Int("records", records),
		zap.Int64("total_written", total),
		zap.Float64("rps", rps),
		zap.Duration("elapsed", elapsed.Round(time.Millisecond)),
		zap.Duration("since_last", sinceLast.Round(time.Millisecond)),
	)
}

// logFileSummary prints the end-of-file summary. When the load ran to
// completion every data row is accounted for:
//
//	rows_read == skipped_identity + records_written + records_abandoned
//
// Malformed rows never reach rows_read.
func logFileSummary(log *zap.Logger, s *FileStats, complete bool) {
	read := s.RowsRead.Load()
	skipped := s.SkippedIdentity.Load()
	written := s.RecordsWritten.Load()
	abandoned := s.RecordsAbandoned.Load()

	log.Info("file summary",
		zap.String("file", s.Path),
		zap.String("encoding", s.Encoding),
		zap.Bool("streamed", s.Streamed),
		zap.Int64("rows_read", read),
		zap.Int64("malformed", s.Malformed.Load()),
		zap.Int64("skipped_identity", skipped),
		zap.Int64("schema_dropped", s.SchemaDropped.Load()),
		zap.Int64("records_written", written),
		zap.Int64("records_abandoned", abandoned),
		zap.Int64("chunks_written", s.ChunksWritten.Load()),
		zap.Int64("chunks_abandoned", s.ChunksAbandoned.Load()),
		zap.Int64("retries", s.Retries.Load()),
		zap.Duration("duration", s.Duration.Round(time.Millisecond)),
	)

	if n, first := s.identityErrs.snapshot(); n > 0 {
		log.Info("records without identity", zap.Int("count", n), zap.Strings("first", first))
	}
	if n, first := s.writeErrs.snapshot(); n > 0 {
		log.Warn("abandoned chunks", zap.Int("count", n), zap.Strings("first", first))
	}

	if !complete {
		return
	}
	accounted := skipped + written + abandoned
	if accounted != read {
		log.Warn("row accounting mismatch",
			zap.String("file", s.Path),
			zap.Int64("total", read),
			zap.Int64("accounted", accounted),
			zap.Int64("delta", read-accounted),
		)
	}
}
