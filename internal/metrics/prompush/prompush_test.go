package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	require.NoError(t, c.Write(m))
	return m.GetCounter().GetValue()
}

func TestNewBackend_Validation(t *testing.T) {
	t.Parallel()

	_, err := NewBackend("job", "")
	require.Error(t, err)

	b, err := NewBackend("", "http://gw:9091")
	require.NoError(t, err)
	assert.Equal(t, "recordload", b.jobName)
}

func TestBackend_Counters(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("job", "http://gw:9091")
	require.NoError(t, err)

	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "written"})
	b.IncCounter(metrics.RecordsTotal, 2, metrics.Labels{"kind": "written"})
	b.IncCounter(metrics.ChunksTotal, 1, metrics.Labels{"status": "abandoned"})
	b.IncCounter(metrics.ColumnsAdded, 1, nil)
	b.IncCounter("unknown_metric", 1, nil)
	b.ObserveHistogram(metrics.StepDuration, 0.5, metrics.Labels{"step": "load_file", "status": "success"})

	assert.Equal(t, 7.0, counterValue(t, b.records.WithLabelValues("written")))
	assert.Equal(t, 1.0, counterValue(t, b.chunks.WithLabelValues("abandoned")))
	assert.Equal(t, 1.0, counterValue(t, b.columnsAdded))

	fams, err := b.reg.Gather()
	require.NoError(t, err)
	names := make([]string, 0, len(fams))
	for _, f := range fams {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, metrics.StepDuration)
}

func TestBackend_FlushPushes(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		path string
		body string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		path, body = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := NewBackend("nightly", srv.URL)
	require.NoError(t, err)
	b.IncCounter(metrics.RecordsTotal, 3, metrics.Labels{"kind": "read"})
	require.NoError(t, b.Flush())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(path, "/metrics/job/nightly"), path)
	assert.NotEmpty(t, body)
}
