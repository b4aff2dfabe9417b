package loader

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"recordload/internal/ingesterr"
	"recordload/internal/metrics"
	"recordload/internal/record"
	"recordload/internal/schema"
	"recordload/internal/storage"
)

// WriterOptions configures a Writer. Zero values take the defaults below.
//
//   - WriteTimeout: 60s per attempt
//   - Retries:      2 after the first attempt; negative disables retry
//   - RetryInitial: 200ms, doubling up to RetryMax (5s)
//   - MaxBatch:     storage.MaxBatchStatements
//   - MaxBatchBytes: zero leaves batches bounded by MaxBatch only
type WriterOptions struct {
	WriteTimeout  time.Duration
	Retries       int
	RetryInitial  time.Duration
	RetryMax      time.Duration
	MaxBatch      int
	MaxBatchBytes int
	Job           string
}

const (
	DefaultWriteTimeout = 60 * time.Second
	DefaultRetries      = 2
	DefaultRetryInitial = 200 * time.Millisecond
	DefaultRetryMax     = 5 * time.Second
)

// Outcome is the result of writing one chunk.
type Outcome struct {
	State            ChunkState
	SubChunks        int
	SubWritten       int
	SubAbandoned     int
	RecordsWritten   int
	RecordsAbandoned int
	// SchemaDropped counts attribute values left out because their column
	// could not be added.
	SchemaDropped int
	Retries       int
	// Errs holds one *ingesterr.WriteError per abandoned sub-chunk.
	Errs []error
}

// Writer turns normalized chunks into batches and writes them.
type Writer struct {
	store    storage.Store
	state    *schema.State
	identity record.IdentityPolicy
	mode     storage.DynamicMode
	opt      WriterOptions
	log      *zap.Logger

	warnMu sync.Mutex
	warned map[string]struct{}
}

// NewWriter builds a Writer. state may be nil in map mode.
func NewWriter(store storage.Store, state *schema.State, identity record.IdentityPolicy, mode storage.DynamicMode, opt WriterOptions, log *zap.Logger) *Writer {
	if opt.WriteTimeout == 0 {
		opt.WriteTimeout = DefaultWriteTimeout
	}
	if opt.Retries == 0 {
		opt.Retries = DefaultRetries
	}
	if opt.Retries < 0 {
		opt.Retries = 0
	}
	if opt.RetryInitial <= 0 {
		opt.RetryInitial = DefaultRetryInitial
	}
	if opt.RetryMax <= 0 {
		opt.RetryMax = DefaultRetryMax
	}
	if opt.MaxBatch <= 0 || opt.MaxBatch > storage.MaxBatchStatements {
		opt.MaxBatch = storage.MaxBatchStatements
	}
	if identity == "" {
		identity = record.IdentityEmail
	}
	if mode == "" {
		mode = storage.DynamicColumns
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		store:    store,
		state:    state,
		identity: identity,
		mode:     mode,
		opt:      opt,
		log:      log,
		warned:   make(map[string]struct{}),
	}
}

// Identity returns the identity policy rows are keyed by.
func (w *Writer) Identity() record.IdentityPolicy { return w.identity }

// WriteChunk ensures dynamic columns, then writes c as one or more batches.
// Every record in c must carry an identity key. Failures are reported in the
// Outcome, never returned: an abandoned chunk does not stop the run.
func (w *Writer) WriteChunk(ctx context.Context, c Chunk) Outcome {
	out := Outcome{}
	dropped, n, err := w.checkSchema(ctx, c)
	if err != nil {
		// Only cancellation gets here.
		out.State = Abandoned
		out.SubChunks, out.SubAbandoned = 1, 1
		out.RecordsAbandoned = len(c.Records)
		out.Errs = append(out.Errs, &ingesterr.WriteError{Chunk: c.ID, Records: len(c.Records), Err: err})
		return out
	}
	out.SchemaDropped = n
	c.State = SchemaChecked

	subs := SplitChunk(c, w.opt.MaxBatch, w.opt.MaxBatchBytes)
	out.SubChunks = len(subs)
	for _, sub := range subs {
		rows, keys := w.buildRows(sub.Records, dropped)
		attempts, err := w.writeWithRetry(ctx, sub.ID, rows)
		out.Retries += attempts - 1
		if err == nil {
			out.SubWritten++
			out.RecordsWritten += len(sub.Records)
			continue
		}
		werr := &ingesterr.WriteError{Chunk: sub.ID, Records: len(sub.Records), Attempts: attempts, Err: err}
		w.log.Error("chunk abandoned",
			zap.String("chunk", sub.ID),
			zap.String("source", sub.Source),
			zap.Int("records", len(sub.Records)),
			zap.Int("attempts", attempts),
			zap.String("fingerprint", fmt.Sprintf("%016x", Fingerprint(keys))),
			zap.Error(err),
		)
		out.SubAbandoned++
		out.RecordsAbandoned += len(sub.Records)
		out.Errs = append(out.Errs, werr)
	}
	out.State = Written
	if out.SubAbandoned > 0 {
		out.State = Abandoned
	}
	return out
}

// checkSchema ensures every dynamic column c references. It returns the set
// of columns that could not be added and how many attribute values that
// drops. Map mode needs no schema changes.
func (w *Writer) checkSchema(ctx context.Context, c Chunk) (map[string]struct{}, int, error) {
	if w.mode == storage.DynamicMap || w.state == nil {
		return nil, 0, nil
	}
	var names []string
	seen := make(map[string]struct{})
	for i := range c.Records {
		for _, f := range c.Records[i].Dynamic {
			if _, ok := seen[f.Name]; ok {
				continue
			}
			seen[f.Name] = struct{}{}
			names = append(names, f.Name)
		}
	}

	var dropped map[string]struct{}
	for _, name := range names {
		err := w.state.EnsureColumn(ctx, name)
		if err == nil {
			continue
		}
		if !ingesterr.IsSchema(err) {
			return nil, 0, err
		}
		if dropped == nil {
			dropped = make(map[string]struct{})
		}
		dropped[name] = struct{}{}
		w.warnDropped(c.ID, name, err)
	}
	if len(dropped) == 0 {
		return nil, 0, nil
	}
	n := 0
	for i := range c.Records {
		for _, f := range c.Records[i].Dynamic {
			if _, ok := dropped[f.Name]; ok {
				n++
			}
		}
	}
	return dropped, n, nil
}

func (w *Writer) warnDropped(chunk, column string, err error) {
	w.warnMu.Lock()
	_, again := w.warned[column]
	w.warned[column] = struct{}{}
	w.warnMu.Unlock()
	log := w.log.Warn
	if again {
		log = w.log.Debug
	}
	log("dropping attribute: column unavailable", zap.String("chunk", chunk), zap.String("column", column), zap.Error(err))
}

// buildRows converts records into storage rows and returns their identity
// keys in the same order.
func (w *Writer) buildRows(recs []record.Normalized, dropped map[string]struct{}) ([]storage.Row, []string) {
	rows := make([]storage.Row, 0, len(recs))
	keys := make([]string, 0, len(recs))
	for i := range recs {
		n := &recs[i]
		key, _ := w.identity.Key(n)
		keys = append(keys, key)

		cols := make([]string, 0, len(record.Canonical)+3+len(n.Dynamic))
		vals := make([]any, 0, cap(cols))
		if w.identity == record.IdentityMulti {
			cols = append(cols, record.RecordKeyColumn)
			vals = append(vals, key)
		}
		for _, a := range record.Canonical {
			cols = append(cols, string(a))
			vals = append(vals, n.Get(a))
		}
		cols = append(cols, record.SourceColumn, record.DataColumn)
		vals = append(vals, n.Source, n.Data)

		switch w.mode {
		case storage.DynamicMap:
			attrs := make(map[string]string, len(n.Dynamic))
			for _, f := range n.Dynamic {
				attrs[f.Name] = f.Value
			}
			cols = append(cols, record.AttributesColumn)
			vals = append(vals, attrs)
		default:
			for _, f := range n.Dynamic {
				if _, ok := dropped[f.Name]; ok {
					continue
				}
				cols = append(cols, f.Name)
				vals = append(vals, f.Value)
			}
		}
		rows = append(rows, storage.Row{Columns: cols, Values: vals})
	}
	return rows, keys
}

// writeWithRetry writes rows as one batch. Transient failures and attempt
// timeouts are retried with exponential backoff; anything else fails at
// once. It returns the number of attempts made.
func (w *Writer) writeWithRetry(ctx context.Context, id string, rows []storage.Row) (int, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = w.opt.RetryInitial
	exp.MaxInterval = w.opt.RetryMax
	exp.MaxElapsedTime = 0
	exp.Reset()
	policy := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(w.opt.Retries)), ctx)

	attempts := 0
	op := func() error {
		attempts++
		actx, cancel := context.WithTimeout(ctx, w.opt.WriteTimeout)
		defer cancel()
		err := w.store.WriteBatch(actx, rows)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if storage.IsTransient(err) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return backoff.Permanent(err)
	}
	notify := func(err error, wait time.Duration) {
		metrics.RecordRetry(w.opt.Job)
		w.log.Warn("retrying chunk write",
			zap.String("chunk", id),
			zap.Int("attempt", attempts),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	}
	err := backoff.RetryNotify(op, policy, notify)
	return attempts, err
}

type countingAdder struct {
	next schema.ColumnAdder
	job  string
}

// CountColumns wraps next so every column it actually adds is reported to
// the metrics facade.
func CountColumns(next schema.ColumnAdder, job string) schema.ColumnAdder {
	return countingAdder{next: next, job: job}
}

func (a countingAdder) AddColumn(ctx context.Context, name string) error {
	if err := a.next.AddColumn(ctx, name); err != nil {
		return err
	}
	metrics.RecordColumnAdded(a.job)
	return nil
}
