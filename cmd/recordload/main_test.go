package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recordload/internal/config"
	"recordload/internal/metrics"
	"recordload/internal/metrics/datadog"
	"recordload/internal/record"
	"recordload/internal/storage"
	"recordload/internal/storage/memory"
)

const peopleCSV = "E-Mail,Fname,Lname\na@x.com,Ann,Lee\n,Bob,Ray\nc@x.com,Cy,Doe\n"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func memoryConfig(t *testing.T, extra string) string {
	t.Helper()
	return writeFile(t, t.TempDir(), "recordload.yaml", "storage:\n  kind: memory\nlog:\n  level: error\n"+extra)
}

func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), errOut.String(), err
}

// shareStore makes every container in the test use one memory store.
func shareStore(t *testing.T) *memory.Store {
	t.Helper()
	s := memory.New(storage.Config{})
	prev := newStoreFn
	newStoreFn = func(context.Context, storage.Config) (storage.Store, error) { return s, nil }
	t.Cleanup(func() { newStoreFn = prev })
	return s
}

func TestValidate(t *testing.T) {
	out, _, err := run(t, "", "validate", "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "warning: storage.kind: memory storage keeps nothing")
	assert.Contains(t, out, "configuration is valid")

	bad := writeFile(t, t.TempDir(), "bad.yaml", "storage:\n  kind: mongo\n")
	out, _, err = run(t, "", "validate", "--config", bad)
	require.Error(t, err)
	assert.Contains(t, out, "error: storage.kind: unknown storage kind \"mongo\"")
}

func TestLoadFile(t *testing.T) {
	store := shareStore(t)
	dir := t.TempDir()
	path := writeFile(t, dir, "people.csv", peopleCSV)

	out, _, err := run(t, "", "load", "file", path, "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "Rows read: 3, written: 2, skipped: 1, abandoned: 0")

	row, ok := store.Row("a@x.com")
	require.True(t, ok)
	assert.Equal(t, "Ann", row["first_name"])

	out, _, err = run(t, "", "count", "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, "2\n", out)
}

func TestLoadFile_DefaultsKeepRawValues(t *testing.T) {
	store := shareStore(t)
	path := writeFile(t, t.TempDir(), "notes.csv", "email,note\n a@x.com ,  padded value  \n")

	_, _, err := run(t, "", "load", "file", path, "--config", memoryConfig(t, ""))
	require.NoError(t, err)

	row, ok := store.Row("a@x.com")
	require.True(t, ok, "canonical values are trimmed")
	assert.Equal(t, "  padded value  ", row["note"])
	assert.Equal(t, `{"email":" a@x.com ","note":"  padded value  "}`, row[record.DataColumn])
}

func TestLoadFile_UndecodableFails(t *testing.T) {
	shareStore(t)
	path := writeFile(t, t.TempDir(), "broken.csv", "\x00\xdc\x00\xdc")
	cfg := memoryConfig(t, "parser:\n  encodings: [utf-8, utf-16le]\n")

	_, _, err := run(t, "", "load", "file", path, "--config", cfg)
	require.Error(t, err)
}

func TestLoadDirAndFiles(t *testing.T) {
	store := shareStore(t)
	dir := t.TempDir()
	writeFile(t, dir, "a.csv", "email,loyalty_id\nu1@x.com,L1\n")
	writeFile(t, dir, "nested/b.ndjson", `{"email":"u2@x.com","city":"Oslo"}`+"\n")
	writeFile(t, dir, "skip.parquet", "x")
	cfg := memoryConfig(t, "")

	out, _, err := run(t, "", "load", "dir", dir, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Files: 2 (failed 0)")
	_, ok := store.Row("u2@x.com")
	assert.True(t, ok)

	list := writeFile(t, dir, "list.txt", "# batch\na.csv\n\nnested/b.ndjson\n")
	out, _, err = run(t, "", "load", "files", "--list", list, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Rows read: 2, written: 2")

	_, _, err = run(t, "", "load", "files", "--config", cfg)
	assert.Error(t, err)
}

func TestSearch_SavesResults(t *testing.T) {
	shareStore(t)
	dir := t.TempDir()
	cfg := memoryConfig(t, "")
	_, _, err := run(t, "", "load", "file", writeFile(t, dir, "people.csv", peopleCSV), "--config", cfg)
	require.NoError(t, err)

	save := filepath.Join(dir, "out.json")
	out, _, err := run(t, "", "search", "first_name:ANN", "--save", save, "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Found 1 result")
	assert.Contains(t, out, "a@x.com")
	assert.Contains(t, out, "Saved 1 result(s)")

	b, err := os.ReadFile(save)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"first_name": "Ann"`)

	out, _, err = run(t, "", "search", "nobody@x.com", "--config", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "No matching records found.")
}

func TestMenu_LoadThenSearch(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "people.csv", peopleCSV)
	input := strings.Join([]string{
		"1", path,
		"9",
		"4", "last_name:doe", "", "",
		"5",
	}, "\n") + "\n"

	// The real memory backend: one container serves the whole session.
	out, _, err := run(t, input, "menu", "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "Rows read: 3, written: 2, skipped: 1")
	assert.Contains(t, out, `Invalid choice "9".`)
	assert.Contains(t, out, "Found 1 result")
	assert.Contains(t, out, "c@x.com")
}

func TestMenu_EndOfInputExits(t *testing.T) {
	out, _, err := run(t, "", "menu", "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "Select mode:")
}

func TestStorageConfig(t *testing.T) {
	t.Parallel()

	p, err := config.Load("")
	require.NoError(t, err)
	p.Normalize.Identity = "multi"
	p.Normalize.DynamicMode = "map"
	p.Storage.LocalDC = "dc1"

	got := storageConfig(p)
	assert.Equal(t, "scylla", got.Kind)
	assert.Equal(t, []string{"localhost"}, got.Hosts)
	assert.Equal(t, 9042, got.Port)
	assert.Equal(t, record.IdentityMulti, got.Identity)
	assert.Equal(t, storage.DynamicMap, got.DynamicMode)
	assert.Equal(t, "dc1", got.LocalDC)
	assert.Equal(t, "ONE", got.Consistency)
}

func TestDecoderOptions_BatchHoldsWholeChunks(t *testing.T) {
	t.Parallel()

	p, err := config.Load("")
	require.NoError(t, err)

	tests := []struct {
		name      string
		chunk     int
		batchRows int
		want      int
	}{
		{"bulk profile equals batch", 10000, 10000, 10000},
		{"chunk above batch", 25000, 10000, 25000},
		{"batch not a multiple", 3000, 10000, 12000},
		{"multiple kept", 1000, 10000, 10000},
		{"batch unset", 4000, 0, 12000},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			q := p
			q.Runtime.ChunkSize = tc.chunk
			q.Parser.StreamBatchRows = tc.batchRows
			got := decoderOptions(q).BatchRows
			assert.Equal(t, tc.want, got)
			assert.Zero(t, got%tc.chunk)
		})
	}
}

func TestLoadFile_ChunkSizeAboveBatchRows(t *testing.T) {
	store := shareStore(t)
	var body strings.Builder
	body.WriteString("email\n")
	for i := range 25 {
		fmt.Fprintf(&body, "u%d@x.com\n", i)
	}
	path := writeFile(t, t.TempDir(), "many.csv", body.String())
	cfg := memoryConfig(t, "parser:\n  stream_batch_rows: 10\nruntime:\n  chunk_size: 25\n")

	_, _, err := run(t, "", "load", "file", path, "--config", cfg)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Batches(), "one chunk of 25, not three capped at 10")
}

type flushCounter struct{ flushed int }

func (*flushCounter) IncCounter(string, float64, metrics.Labels)       {}
func (*flushCounter) ObserveHistogram(string, float64, metrics.Labels) {}
func (f *flushCounter) Flush() error                                   { f.flushed++; return nil }

func TestSetupMetrics(t *testing.T) {
	p, err := config.Load("")
	require.NoError(t, err)

	flush, err := setupMetrics(p, "run-1", nil)
	require.NoError(t, err)
	flush()

	var gotCfg datadog.Config
	fc := &flushCounter{}
	prev := newStatsBackend
	newStatsBackend = func(cfg datadog.Config) (metrics.Backend, error) {
		gotCfg = cfg
		return fc, nil
	}
	t.Cleanup(func() { newStatsBackend = prev })

	p.Metrics.Backend = "datadog"
	p.Metrics.Tags = []string{"env:test"}
	flush, err = setupMetrics(p, "run-1", zap.NewNop())
	require.NoError(t, err)
	flush()
	assert.Equal(t, 1, fc.flushed)
	assert.Equal(t, []string{"run_id:run-1", "env:test"}, gotCfg.GlobalTags)
	assert.Equal(t, "127.0.0.1:8125", gotCfg.Addr)

	p.Metrics.Backend = "graphite"
	_, err = setupMetrics(p, "run-1", zap.NewNop())
	assert.Error(t, err)
}

func TestInspect(t *testing.T) {
	path := writeFile(t, t.TempDir(), "people.csv", peopleCSV)

	out, _, err := run(t, "", "inspect", path, "--config", memoryConfig(t, ""))
	require.NoError(t, err)
	assert.Contains(t, out, "Format: csv  Encoding: utf-8")
	assert.Contains(t, out, "Identity (email): 2 with key, 1 skipped")
	assert.Contains(t, out, "first_name")
}
