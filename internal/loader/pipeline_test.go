package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recordload/internal/ingesterr"
	"recordload/internal/parser"
	"recordload/internal/record"
	"recordload/internal/storage"
	"recordload/internal/storage/memory"
	"recordload/internal/transformer"
)

type fixture struct {
	store *memory.Store
	p     *Pipeline
}

func newFixture(t *testing.T, cfg storage.Config, popt Options, encodings ...string) fixture {
	t.Helper()
	store := memory.New(cfg)
	if cfg.DynamicMode == "" {
		cfg.DynamicMode = storage.DynamicColumns
	}
	w := newTestWriter(t, store, cfg.Identity, cfg.DynamicMode, 0)
	dec, err := parser.NewDecoder(parser.Options{Encodings: encodings}, nil)
	require.NoError(t, err)
	norm := transformer.NewNormalizer(transformer.DefaultAliases())
	return fixture{store: store, p: New(dec, norm, w, popt, nil)}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFile_SkipsRecordsWithoutIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{Workers: 2})
	path := writeFile(t, "people.csv", "E-Mail,Fname,Lname\na@x.com,Ann,Lee\n,Bob,Ray\nc@x.com,Cy,Doe\n")

	st, err := f.p.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.RowsRead.Load())
	assert.EqualValues(t, 2, st.RecordsWritten.Load())
	assert.EqualValues(t, 1, st.SkippedIdentity.Load())
	assert.EqualValues(t, 0, st.RecordsAbandoned.Load())
	assert.Equal(t, "utf-8", st.Encoding)

	row, ok := f.store.Row("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "Ann", row["first_name"])
	assert.Equal(t, "Lee", row["last_name"])
	assert.Equal(t, path, row[record.SourceColumn])
	assert.JSONEq(t, `{"E-Mail":"a@x.com","Fname":"Ann","Lname":"Lee"}`, row[record.DataColumn].(string))

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestLoadFile_DynamicColumnAddedOnceAcrossChunks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{Workers: 8, ChunkSize: 1})
	var b strings.Builder
	b.WriteString("email,loyalty_id\n")
	for i := range 32 {
		fmt.Fprintf(&b, "u%d@x.com,L%d\n", i, i)
	}
	path := writeFile(t, "loyalty.csv", b.String())

	st, err := f.p.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 32, st.RecordsWritten.Load())
	assert.EqualValues(t, 32, st.ChunksWritten.Load())
	assert.Equal(t, 1, f.store.AddColumnCalls("loyalty_id"))

	row, ok := f.store.Row("u7@x.com")
	require.True(t, ok)
	assert.Equal(t, "L7", row["loyalty_id"])
}

func TestLoadFile_DuplicateKeysLastRowWins(t *testing.T) {
	t.Parallel()

	const body = "email,first_name,city\n" +
		"a@x.com,Zed,Oslo\n" +
		"b@x.com,Bo,Rome\n" +
		"a@x.com,Ann,Bergen\n"

	tests := []struct {
		name   string
		opt    Options
		chunks int
	}{
		{"same chunk", Options{Workers: 4, ChunkSize: 10}, 1},
		{"sequential chunks", Options{Workers: 1, ChunkSize: 1}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, storage.Config{}, tc.opt)
			st, err := f.p.LoadFile(context.Background(), writeFile(t, "dup.csv", body))
			require.NoError(t, err)
			assert.EqualValues(t, 3, st.RecordsWritten.Load())
			assert.Equal(t, tc.chunks, f.store.Batches())

			row, ok := f.store.Row("a@x.com")
			require.True(t, ok)
			assert.Equal(t, "Ann", row["first_name"])
			assert.Equal(t, "Bergen", row["city"])
			assert.JSONEq(t, `{"email":"a@x.com","first_name":"Ann","city":"Bergen"}`, row[record.DataColumn].(string))

			n, err := f.store.Count(context.Background())
			require.NoError(t, err)
			assert.EqualValues(t, 2, n)
		})
	}
}

func TestLoadFile_NDJSON(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{})
	path := writeFile(t, "dump.jsonl", `{"mail":"a@x.com","user":"ann","age":31,"tags":["a","b"]}
not json
{"mail":"b@x.com","extra":null}
`)

	st, err := f.p.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 2, st.RowsRead.Load())
	assert.EqualValues(t, 1, st.Malformed.Load())
	assert.EqualValues(t, 2, st.RecordsWritten.Load())

	row, ok := f.store.Row("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "ann", row["username"])
	assert.Equal(t, "31", row["age"])
	assert.Equal(t, `["a","b"]`, row["tags"])
	assert.Equal(t, `{"mail":"a@x.com","user":"ann","age":31,"tags":["a","b"]}`, row[record.DataColumn])
	assert.Equal(t, 0, f.store.AddColumnCalls("extra"))
}

func TestLoadFile_AbandonedChunkDoesNotStopFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{Workers: 1, ChunkSize: 2})
	f.store.WriteHook = func(rows []storage.Row) error {
		for _, r := range rows {
			for i, c := range r.Columns {
				if c == "email" && r.Values[i] == "bad@x.com" {
					return fmt.Errorf("rejected")
				}
			}
		}
		return nil
	}
	path := writeFile(t, "mixed.csv", "email\na@x.com\nbad@x.com\nc@x.com\nd@x.com\n")

	st, err := f.p.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 1, st.ChunksAbandoned.Load())
	assert.EqualValues(t, 1, st.ChunksWritten.Load())
	assert.EqualValues(t, 2, st.RecordsAbandoned.Load())
	assert.EqualValues(t, 2, st.RecordsWritten.Load())

	_, ok := f.store.Row("a@x.com")
	assert.False(t, ok, "chunk is atomic")
	_, ok = f.store.Row("d@x.com")
	assert.True(t, ok)
}

func TestLoadFile_MultiIdentity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{Identity: record.IdentityMulti}, Options{})
	path := writeFile(t, "multi.csv", "email,username,first,last,phone\n,bob,,,\n,,Ann,Lee,\n,,,,555\n,,,,\n")

	st, err := f.p.LoadFile(context.Background(), path)
	require.NoError(t, err)
	assert.EqualValues(t, 3, st.RecordsWritten.Load())
	assert.EqualValues(t, 1, st.SkippedIdentity.Load())

	for _, key := range []string{"username:bob", "name:Ann Lee", "phone:555"} {
		_, ok := f.store.Row(key)
		assert.True(t, ok, key)
	}
}

func TestLoadFiles_DecodeErrorSkipsFile(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{}, "utf-8", "utf-16le")
	bad := writeFile(t, "bad.csv", "\x00\xdc\x00\xdc")
	good := writeFile(t, "good.csv", "email\na@x.com\n")
	other := writeFile(t, "notes.parquet", "x")

	sum, err := f.p.LoadFiles(context.Background(), []string{bad, other, good})
	require.NoError(t, err)
	require.Len(t, sum.Files, 3)

	assert.True(t, ingesterr.IsDecode(sum.Files[0].Err))
	assert.Error(t, sum.Files[1].Err)
	assert.NoError(t, sum.Files[2].Err)
	assert.Len(t, sum.Failed(), 2)

	read, written, skipped, abandoned := sum.Totals()
	assert.EqualValues(t, 1, read)
	assert.EqualValues(t, 1, written)
	assert.Zero(t, skipped)
	assert.Zero(t, abandoned)
}

func TestLoadFiles_Cancelled(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{})
	good := writeFile(t, "good.csv", "email\na@x.com\n")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sum, err := f.p.LoadFiles(ctx, []string{good})
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, sum.Files)
	_, ok := f.store.Row("a@x.com")
	assert.False(t, ok)
}

func TestLoadFile_StopsDispatchOnCancel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, storage.Config{}, Options{Workers: 1, ChunkSize: 1})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.store.WriteHook = func([]storage.Row) error {
		cancel()
		return nil
	}
	var b strings.Builder
	b.WriteString("email\n")
	for i := range 50 {
		fmt.Fprintf(&b, "u%d@x.com\n", i)
	}
	path := writeFile(t, "many.csv", b.String())

	done := make(chan struct{})
	var (
		st  *FileStats
		err error
	)
	go func() {
		st, err = f.p.LoadFile(ctx, path)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("LoadFile did not return after cancellation")
	}
	require.ErrorIs(t, err, context.Canceled)
	n, cerr := f.store.Count(context.Background())
	require.NoError(t, cerr)
	assert.Less(t, n, int64(50))
	assert.Less(t, st.RecordsWritten.Load(), int64(50))
}
