// Package config defines the run configuration for recordload and loads it
// with viper from a YAML or JSON file, RECORDLOAD_* environment variables and
// built-in defaults, in that order of precedence after explicit flags.
//
// Example (trimmed):
//
//	job: nightly-dumps
//	profile: bulk
//	parser:
//	  encodings: [utf-8, latin1]
//	normalize:
//	  identity: multi
//	  extra_aliases:
//	    email: [courriel]
//	storage:
//	  kind: scylla
//	  hosts: [10.0.0.1, 10.0.0.2]
//	  keyspace: user_data
//	  auto_create: true
package config

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/viper"
)

// Pipeline is the top-level configuration of a run.
type Pipeline struct {
	// Job labels logs and metrics for this run.
	Job string `mapstructure:"job"`
	// Profile selects chunk sizing: small, default or bulk.
	Profile string `mapstructure:"profile"`

	Parser    Parser        `mapstructure:"parser"`
	Normalize Normalize     `mapstructure:"normalize"`
	Storage   Storage       `mapstructure:"storage"`
	Runtime   RuntimeConfig `mapstructure:"runtime"`
	Metrics   Metrics       `mapstructure:"metrics"`
	Log       Log           `mapstructure:"log"`
}

// Parser configures decoding.
type Parser struct {
	// Encodings are tried in order; empty means the decoder's default list.
	Encodings []string `mapstructure:"encodings"`
	// Delimiter overrides the CSV delimiter implied by the file extension.
	Delimiter  string `mapstructure:"delimiter"`
	LazyQuotes bool   `mapstructure:"lazy_quotes"`
	// TrimSpace trims CSV values before they are stored, including the copy
	// kept in the data column. Canonical attributes are trimmed regardless.
	TrimSpace bool `mapstructure:"trim_space"`
	// StreamThresholdBytes is the file size above which files are streamed
	// instead of read whole.
	StreamThresholdBytes int64 `mapstructure:"stream_threshold_bytes"`
	// StreamBatchRows bounds the rows decoded per batch.
	StreamBatchRows int `mapstructure:"stream_batch_rows"`
}

// Normalize configures field mapping and record identity.
type Normalize struct {
	// Identity is "email" or "multi".
	Identity string `mapstructure:"identity"`
	// DynamicMode is "columns" or "map".
	DynamicMode string `mapstructure:"dynamic_mode"`
	// ExtraAliases are appended to the built-in alias lists, keyed by
	// canonical attribute.
	ExtraAliases map[string][]string `mapstructure:"extra_aliases"`
}

// Storage selects and configures the backend.
type Storage struct {
	// Kind is one of storage.Kinds(): scylla, cassandra, postgres, sqlite, memory.
	Kind string `mapstructure:"kind"`

	Hosts    []string `mapstructure:"hosts"`
	Port     int      `mapstructure:"port"`
	Keyspace string   `mapstructure:"keyspace"`
	Table    string   `mapstructure:"table"`
	// DSN is used by postgres and sqlite.
	DSN string `mapstructure:"dsn"`

	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`

	Consistency       string        `mapstructure:"consistency"`
	ProtoVersion      int           `mapstructure:"proto_version"`
	Compression       bool          `mapstructure:"compression"`
	LocalDC           string        `mapstructure:"local_dc"`
	ReplicationFactor int           `mapstructure:"replication_factor"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`

	// AutoCreate creates keyspace, table and indexes on startup.
	AutoCreate bool `mapstructure:"auto_create"`
}

// RuntimeConfig controls concurrency, chunking and write retries.
type RuntimeConfig struct {
	Workers int `mapstructure:"workers"`
	// ChunkSize is records per chunk; zero takes the profile's value.
	ChunkSize    int           `mapstructure:"chunk_size"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	// Retries after the first attempt for transient write failures. Zero
	// disables retry.
	Retries      int           `mapstructure:"retries"`
	RetryInitial time.Duration `mapstructure:"retry_initial"`
	// MaxBatchBytes caps the estimated payload of one batch; zero takes the
	// storage kind's threshold.
	MaxBatchBytes int `mapstructure:"max_batch_bytes"`
}

// Metrics selects the metrics backend.
type Metrics struct {
	// Backend is "none", "prometheus" or "datadog".
	Backend    string   `mapstructure:"backend"`
	PushURL    string   `mapstructure:"push_url"`
	StatsdAddr string   `mapstructure:"statsd_addr"`
	Namespace  string   `mapstructure:"namespace"`
	Tags       []string `mapstructure:"tags"`
}

// Log configures the zap logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Profiles maps profile names to chunk sizes.
var Profiles = map[string]int{
	"small":   50,
	"default": 1000,
	"bulk":    10000,
}

// EnvPrefix prefixes every environment override, e.g.
// RECORDLOAD_STORAGE_HOSTS="10.0.0.1,10.0.0.2".
const EnvPrefix = "RECORDLOAD"

var defaults = map[string]any{
	"job":     "recordload",
	"profile": "default",

	"parser.encodings":              []string{},
	"parser.delimiter":              "",
	"parser.lazy_quotes":            false,
	"parser.trim_space":             false,
	"parser.stream_threshold_bytes": int64(100 << 20),
	"parser.stream_batch_rows":      10000,

	"normalize.identity":      "email",
	"normalize.dynamic_mode":  "columns",
	"normalize.extra_aliases": map[string][]string{},

	"storage.kind":               "scylla",
	"storage.hosts":              []string{"localhost"},
	"storage.port":               9042,
	"storage.keyspace":           "user_data",
	"storage.table":              "user_data",
	"storage.dsn":                "",
	"storage.username":           "",
	"storage.password":           "",
	"storage.consistency":        "ONE",
	"storage.proto_version":      4,
	"storage.compression":        true,
	"storage.local_dc":           "",
	"storage.replication_factor": 1,
	"storage.connect_timeout":    10 * time.Second,
	"storage.request_timeout":    60 * time.Second,
	"storage.auto_create":        false,

	"runtime.workers":         16,
	"runtime.write_timeout":   60 * time.Second,
	"runtime.retries":         2,
	"runtime.retry_initial":   200 * time.Millisecond,
	"runtime.max_batch_bytes": 0,

	"metrics.backend":     "none",
	"metrics.push_url":    "",
	"metrics.statsd_addr": "127.0.0.1:8125",
	"metrics.namespace":   "recordload.",
	"metrics.tags":        []string{},

	"log.level":  "info",
	"log.format": "console",
}

// envOnly are keys without a default that still accept an environment
// override. A default would make viper report them as set and hide the
// profile fallback.
var envOnly = []string{"runtime.chunk_size"}

// New returns a viper instance with defaults and environment binding.
func New() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, k := range envOnly {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads path (when non-empty) over the defaults and environment and
// decodes the result. The file type follows the extension.
func Load(path string) (Pipeline, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Pipeline{}, errors.Wrapf(err, "read config %s", path)
		}
	}
	return Decode(v)
}

// Decode unmarshals v into a Pipeline and applies the profile.
func Decode(v *viper.Viper) (Pipeline, error) {
	var p Pipeline
	if err := v.Unmarshal(&p); err != nil {
		return Pipeline{}, errors.Wrap(err, "decode config")
	}
	p.ApplyProfile()
	return p, nil
}

// ApplyProfile fills ChunkSize from the profile when it was not set
// explicitly. Unknown profiles are left for ValidatePipeline to report.
func (p *Pipeline) ApplyProfile() {
	if p.Runtime.ChunkSize > 0 {
		return
	}
	if n, ok := Profiles[strings.ToLower(p.Profile)]; ok {
		p.Runtime.ChunkSize = n
	}
}
