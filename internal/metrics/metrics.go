// Package metrics is a small, backend-agnostic facade for the loader's
// operational metrics.
//
// A process-wide backend defaults to a no-op, so instrumented code never has
// to check whether metrics are configured. Concrete systems live in
// subpackages (prompush, datadog) and are installed once at startup with
// SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StepTotal       = "recordload_step_total"
	StepDuration    = "recordload_step_duration_seconds"
	RecordsTotal    = "recordload_records_total"
	ChunksTotal     = "recordload_chunks_total"
	ColumnsAdded    = "recordload_columns_added_total"
	WriteRetryTotal = "recordload_write_retries_total"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a duration-style value.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes buffered metrics.
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the current one.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

// RecordStep counts one execution of a pipeline step and observes its
// duration, labelled with success or failure.
func RecordStep(job, step string, err error, d time.Duration) {
	status := "success"
	if err != nil {
		status = "failure"
	}
	lbls := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta to the record counter for kind. Kinds used by the
// loader: read, malformed, skipped_identity, written, abandoned,
// schema_dropped.
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordChunk counts one chunk reaching a terminal status ("written" or
// "abandoned").
func RecordChunk(job, status string) {
	current().IncCounter(ChunksTotal, 1, Labels{"job": job, "status": status})
}

// RecordColumnAdded counts a dynamic column added to the table.
func RecordColumnAdded(job string) {
	current().IncCounter(ColumnsAdded, 1, Labels{"job": job})
}

// RecordRetry counts one retried write.
func RecordRetry(job string) {
	current().IncCounter(WriteRetryTotal, 1, Labels{"job": job})
}
