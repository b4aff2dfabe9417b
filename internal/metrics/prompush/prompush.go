// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch job has no scrape endpoint worth keeping alive,
// so collected series are pushed once when the run ends.
package prompush

import (
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"recordload/internal/metrics"
)

// Backend is a Pushgateway metrics backend.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter  *prometheus.CounterVec
	stepDuration *prometheus.SummaryVec
	records      *prometheus.CounterVec
	chunks       *prometheus.CounterVec
	columnsAdded prometheus.Counter
	retries      prometheus.Counter

	// pusher is a test seam.
	pusher func() error
}

// NewBackend registers the collectors on a private registry.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, errors.New("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "recordload"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline step executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline step duration in seconds.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Records by outcome (read, malformed, skipped_identity, written, abandoned).",
		}, []string{"kind"}),
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.ChunksTotal,
			Help: "Chunks by terminal status.",
		}, []string{"status"}),
		columnsAdded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.ColumnsAdded,
			Help: "Dynamic columns added to the table.",
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.WriteRetryTotal,
			Help: "Chunk writes retried after a transient failure.",
		}),
	}
	for _, c := range []prometheus.Collector{b.stepCounter, b.stepDuration, b.records, b.chunks, b.columnsAdded, b.retries} {
		if err := b.reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "prompush: register collector")
		}
	}
	b.pusher = func() error {
		return push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push()
	}
	return b, nil
}

// IncCounter maps known metric names onto collectors; unknown names are
// ignored.
func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.records.WithLabelValues(labels["kind"]).Add(delta)
	case metrics.ChunksTotal:
		b.chunks.WithLabelValues(labels["status"]).Add(delta)
	case metrics.ColumnsAdded:
		b.columnsAdded.Add(delta)
	case metrics.WriteRetryTotal:
		b.retries.Add(delta)
	}
}

// ObserveHistogram records step durations.
func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.stepDuration.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	if err := b.pusher(); err != nil {
		return errors.Wrapf(err, "prompush: push to %s", b.gatewayURL)
	}
	return nil
}
