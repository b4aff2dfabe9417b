package memory

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/record"
	"recordload/internal/storage"
)

func row(kv ...string) storage.Row {
	var r storage.Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Columns = append(r.Columns, kv[i])
		r.Values = append(r.Values, kv[i+1])
	}
	return r
}

func TestStore_ContractRules(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.Config{})

	// Undefined column is rejected and nothing is applied.
	err := s.WriteBatch(ctx, []storage.Row{
		row("email", "a@x.io"),
		row("email", "b@x.io", "loyalty_id", "L1"),
	})
	require.Error(t, err)
	n, _ := s.Count(ctx)
	assert.Zero(t, n)

	require.NoError(t, s.AddColumn(ctx, "loyalty_id"))
	err = s.AddColumn(ctx, "loyalty_id")
	require.True(t, errors.Is(err, storage.ErrColumnExists))
	assert.Equal(t, 2, s.AddColumnCalls("loyalty_id"))

	require.NoError(t, s.WriteBatch(ctx, []storage.Row{
		row("email", "a@x.io", "first_name", "John"),
		row("email", "b@x.io", "loyalty_id", "L1", "city", "Oslo"),
		row("email", "a@x.io", "last_name", "Doe"),
	}))
	n, _ = s.Count(ctx)
	assert.Equal(t, int64(2), n)

	got, ok := s.Row("a@x.io")
	require.True(t, ok)
	assert.Equal(t, "John", got["first_name"])
	assert.Equal(t, "Doe", got["last_name"])

	// Indexed lookup works; non-indexed needs FullScan.
	res, err := s.Select(ctx, storage.Query{Cond: storage.Condition{Column: "first_name", Value: "John"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "a@x.io", res[0].Key)

	_, err = s.Select(ctx, storage.Query{Cond: storage.Condition{Column: "city", Value: "Oslo"}})
	require.True(t, errors.Is(err, storage.ErrFullScanRequired))

	res, err = s.Select(ctx, storage.Query{Cond: storage.Condition{Column: "city", Value: "Oslo", FullScan: true}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	v, _ := res[0].Get("loyalty_id")
	assert.Equal(t, "L1", v)
}

func TestStore_BatchLimit(t *testing.T) {
	t.Parallel()
	s := New(storage.Config{})
	rows := make([]storage.Row, storage.MaxBatchStatements+1)
	err := s.WriteBatch(context.Background(), rows)
	require.True(t, errors.Is(err, storage.ErrBatchTooLarge))
}

func TestStore_MapModeAndContains(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := New(storage.Config{Identity: record.IdentityMulti, DynamicMode: storage.DynamicMap})

	require.NoError(t, s.WriteBatch(ctx, []storage.Row{{
		Columns: []string{"record_key", "username", "data", "attributes"},
		Values:  []any{"username:neo", "neo", `{"user":"neo","tier":"gold"}`, map[string]string{"tier": "gold"}},
	}}))

	res, err := s.Select(ctx, storage.Query{Cond: storage.Condition{Op: storage.OpMapEntry, Column: "attributes", Key: "tier", Value: "gold"}})
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, "username:neo", res[0].Key)

	_, err = s.Select(ctx, storage.Query{Cond: storage.Condition{Op: storage.OpContains, Column: "data", Value: "gold"}})
	require.True(t, errors.Is(err, storage.ErrFullScanRequired))

	res, err = s.Select(ctx, storage.Query{Cond: storage.Condition{Op: storage.OpContains, Column: "data", Value: "gold", FullScan: true}})
	require.NoError(t, err)
	assert.Len(t, res, 1)
}
