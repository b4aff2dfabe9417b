package schema

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/ingesterr"
	"recordload/internal/storage"
)

type fakeAdder struct {
	calls atomic.Int32
	delay time.Duration
	err   error
}

func (f *fakeAdder) AddColumn(ctx context.Context, _ string) error {
	f.calls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	return f.err
}

func TestEnsureColumn_SeededIsNoop(t *testing.T) {
	t.Parallel()

	a := &fakeAdder{}
	s := NewState(a, []string{"email", "data"}, nil)
	require.NoError(t, s.EnsureColumn(context.Background(), "email"))
	assert.Zero(t, a.calls.Load())
}

func TestEnsureColumn_ConcurrentFirstSighting(t *testing.T) {
	t.Parallel()

	a := &fakeAdder{delay: 20 * time.Millisecond}
	s := NewState(a, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.EnsureColumn(context.Background(), "loyalty_id")
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(1), a.calls.Load())
	assert.True(t, s.Known("loyalty_id"))

	// Sequential repeat is a no-op.
	require.NoError(t, s.EnsureColumn(context.Background(), "loyalty_id"))
	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, []string{"loyalty_id"}, s.Columns())
}

func TestEnsureColumn_AlreadyExistsIsSuccess(t *testing.T) {
	t.Parallel()

	a := &fakeAdder{err: errors.Mark(errors.New("conflicts with an existing column"), storage.ErrColumnExists)}
	s := NewState(a, nil, nil)
	require.NoError(t, s.EnsureColumn(context.Background(), "zip"))
	assert.True(t, s.Known("zip"))
}

func TestEnsureColumn_FailureIsSchemaErrorAndCached(t *testing.T) {
	t.Parallel()

	a := &fakeAdder{err: errors.New("unauthorized")}
	s := NewState(a, nil, nil)

	err := s.EnsureColumn(context.Background(), "bad")
	require.Error(t, err)
	assert.True(t, ingesterr.IsSchema(err))
	assert.False(t, s.Known("bad"))

	err = s.EnsureColumn(context.Background(), "bad")
	require.Error(t, err)
	assert.Equal(t, int32(1), a.calls.Load())
}

func TestEnsureColumn_CancellationNotCached(t *testing.T) {
	t.Parallel()

	a := &fakeAdder{err: context.Canceled}
	s := NewState(a, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.EnsureColumn(ctx, "late")
	require.ErrorIs(t, err, context.Canceled)
	assert.False(t, ingesterr.IsSchema(err))

	a.err = nil
	require.NoError(t, s.EnsureColumn(context.Background(), "late"))
	assert.True(t, s.Known("late"))
}
