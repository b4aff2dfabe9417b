package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/metrics"
)

type sample struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	samples []sample
	flushed bool
	closed  bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.samples = append(f.samples, sample{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, _ float64) error {
	f.samples = append(f.samples, sample{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Flush() error { f.flushed = true; return nil }
func (f *fakeClient) Close() error { f.closed = true; return nil }

func TestBackend_ForwardsWithSortedTags(t *testing.T) {
	t.Parallel()

	fc := &fakeClient{}
	b := NewWithClient(fc)

	b.IncCounter(metrics.RecordsTotal, 4, metrics.Labels{"kind": "written", "job": "nightly"})
	b.ObserveHistogram(metrics.StepDuration, 1.5, nil)
	require.NoError(t, b.Flush())

	require.Len(t, fc.samples, 2)
	assert.Equal(t, sample{"count", metrics.RecordsTotal, 4, []string{"job:nightly", "kind:written"}}, fc.samples[0])
	assert.Equal(t, sample{"histogram", metrics.StepDuration, 1.5, nil}, fc.samples[1])
	assert.True(t, fc.flushed)
	assert.True(t, fc.closed)
}

func TestNewBackend_RequiresAddr(t *testing.T) {
	t.Parallel()
	_, err := NewBackend(Config{})
	require.Error(t, err)
}
