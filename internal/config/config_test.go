package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "recordload", p.Job)
	assert.Equal(t, 1000, p.Runtime.ChunkSize)
	assert.Equal(t, "scylla", p.Storage.Kind)
	assert.Equal(t, []string{"localhost"}, p.Storage.Hosts)
	assert.Equal(t, 9042, p.Storage.Port)
	assert.Equal(t, "ONE", p.Storage.Consistency)
	assert.Equal(t, 4, p.Storage.ProtoVersion)
	assert.Equal(t, 60*time.Second, p.Storage.RequestTimeout)
	assert.Equal(t, 10*time.Second, p.Storage.ConnectTimeout)
	assert.Equal(t, int64(100<<20), p.Parser.StreamThresholdBytes)
	assert.Equal(t, 2, p.Runtime.Retries)
	assert.Equal(t, 200*time.Millisecond, p.Runtime.RetryInitial)
	assert.Equal(t, "email", p.Normalize.Identity)
	assert.Equal(t, "columns", p.Normalize.DynamicMode)
	assert.Empty(t, p.Parser.Encodings)
	assert.False(t, p.Parser.TrimSpace)
}

func TestLoad_YAMLOverridesAndProfile(t *testing.T) {
	path := writeConfig(t, "run.yaml", `
job: nightly
profile: bulk
parser:
  encodings: [utf-8, latin1]
  delimiter: ";"
normalize:
  identity: multi
  extra_aliases:
    email: [courriel, Courriel]
storage:
  kind: postgres
  dsn: postgres://u:p@localhost/db
  request_timeout: 5s
runtime:
  retries: 0
`)
	p, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly", p.Job)
	assert.Equal(t, 10000, p.Runtime.ChunkSize)
	assert.Equal(t, []string{"utf-8", "latin1"}, p.Parser.Encodings)
	assert.Equal(t, ";", p.Parser.Delimiter)
	assert.Equal(t, "multi", p.Normalize.Identity)
	assert.Equal(t, []string{"courriel", "Courriel"}, p.Normalize.ExtraAliases["email"])
	assert.Equal(t, "postgres", p.Storage.Kind)
	assert.Equal(t, 5*time.Second, p.Storage.RequestTimeout)
	assert.Equal(t, 0, p.Runtime.Retries)
	assert.Equal(t, "user_data", p.Storage.Keyspace, "defaults survive partial files")
}

func TestLoad_ExplicitChunkSizeWins(t *testing.T) {
	path := writeConfig(t, "run.json", `{"profile":"small","runtime":{"chunk_size":7}}`)
	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, p.Runtime.ChunkSize)

	path = writeConfig(t, "small.json", `{"profile":"small"}`)
	p, err = Load(path)
	require.NoError(t, err)
	assert.Equal(t, 50, p.Runtime.ChunkSize)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("RECORDLOAD_STORAGE_KEYSPACE", "leaks")
	t.Setenv("RECORDLOAD_STORAGE_HOSTS", "10.0.0.1,10.0.0.2")
	t.Setenv("RECORDLOAD_RUNTIME_CHUNK_SIZE", "250")
	t.Setenv("RECORDLOAD_LOG_LEVEL", "debug")

	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "leaks", p.Storage.Keyspace)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, p.Storage.Hosts)
	assert.Equal(t, 250, p.Runtime.ChunkSize)
	assert.Equal(t, "debug", p.Log.Level)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
}
