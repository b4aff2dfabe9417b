package main

import (
	"context"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"recordload/internal/config"
	"recordload/internal/loader"
	"recordload/internal/metrics"
	"recordload/internal/metrics/datadog"
	"recordload/internal/metrics/prompush"
	"recordload/internal/parser"
	"recordload/internal/record"
	"recordload/internal/schema"
	"recordload/internal/search"
	"recordload/internal/storage"
	"recordload/internal/transformer"
)

// Test seams.
var (
	newStoreFn      = storage.New
	newPromBackend  = func(job, url string) (metrics.Backend, error) { return prompush.NewBackend(job, url) }
	newStatsBackend = func(cfg datadog.Config) (metrics.Backend, error) { return datadog.NewBackend(cfg) }
)

// container owns the store connection and builds the components of one
// session from the config.
type container struct {
	cfg   config.Pipeline
	log   *zap.Logger
	runID string
	store storage.Store
	norm  *transformer.Normalizer

	flush func()
}

func openContainer(ctx context.Context, cfg config.Pipeline, log *zap.Logger) (*container, error) {
	runID := uuid.NewString()
	log = log.With(zap.String("job", cfg.Job))

	store, err := newStoreFn(ctx, storageConfig(cfg))
	if err != nil {
		return nil, err
	}
	flush, err := setupMetrics(cfg, runID, log)
	if err != nil {
		store.Close()
		return nil, err
	}
	log.Info("connected",
		zap.String("kind", cfg.Storage.Kind),
		zap.String("table", cfg.Storage.Table),
		zap.String("identity", cfg.Normalize.Identity),
		zap.String("dynamic_mode", cfg.Normalize.DynamicMode),
		zap.String("run_id", runID),
	)
	return &container{
		cfg:   cfg,
		log:   log,
		runID: runID,
		store: store,
		norm:  newNormalizer(cfg),
		flush: flush,
	}, nil
}

// Close flushes metrics and closes the store.
func (c *container) Close() {
	c.flush()
	c.store.Close()
}

func storageConfig(p config.Pipeline) storage.Config {
	s := p.Storage
	return storage.Config{
		Kind:              s.Kind,
		DSN:               s.DSN,
		Hosts:             s.Hosts,
		Port:              s.Port,
		Keyspace:          s.Keyspace,
		Table:             s.Table,
		Identity:          record.IdentityPolicy(p.Normalize.Identity),
		DynamicMode:       storage.DynamicMode(p.Normalize.DynamicMode),
		Username:          s.Username,
		Password:          s.Password,
		Consistency:       s.Consistency,
		ProtoVersion:      s.ProtoVersion,
		Compression:       s.Compression,
		LocalDC:           s.LocalDC,
		ReplicationFactor: s.ReplicationFactor,
		ConnectTimeout:    s.ConnectTimeout,
		RequestTimeout:    s.RequestTimeout,
		AutoCreate:        s.AutoCreate,
	}
}

func setupMetrics(p config.Pipeline, runID string, log *zap.Logger) (func(), error) {
	var (
		b   metrics.Backend
		err error
	)
	switch p.Metrics.Backend {
	case "", "none":
		return func() {}, nil
	case "prometheus":
		b, err = newPromBackend(p.Job, p.Metrics.PushURL)
	case "datadog":
		tags := append([]string{"run_id:" + runID}, p.Metrics.Tags...)
		b, err = newStatsBackend(datadog.Config{
			Addr:       p.Metrics.StatsdAddr,
			Namespace:  p.Metrics.Namespace,
			GlobalTags: tags,
		})
	default:
		return nil, errors.Newf("unknown metrics backend %q", p.Metrics.Backend)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "%s metrics", p.Metrics.Backend)
	}
	metrics.SetBackend(b)
	log.Info("metrics enabled", zap.String("backend", p.Metrics.Backend))
	return func() {
		if err := metrics.Flush(); err != nil {
			log.Warn("metrics flush failed", zap.Error(err))
		}
	}, nil
}

func newNormalizer(p config.Pipeline) *transformer.Normalizer {
	return transformer.NewNormalizer(transformer.DefaultAliases().Merge(p.Normalize.ExtraAliases))
}

func newDecoder(p config.Pipeline, log *zap.Logger) (*parser.Decoder, error) {
	return parser.NewDecoder(decoderOptions(p), log)
}

// decoderOptions maps the parser config. Chunks never span decoder batches,
// so the batch is raised to a whole multiple of the chunk size; otherwise
// chunk_size would silently be capped at stream_batch_rows.
func decoderOptions(p config.Pipeline) parser.Options {
	pc := p.Parser
	var delim rune
	if pc.Delimiter != "" {
		delim, _ = utf8.DecodeRuneInString(pc.Delimiter)
	}
	rows := pc.StreamBatchRows
	if rows <= 0 {
		rows = parser.DefaultBatchRows
	}
	if cs := p.Runtime.ChunkSize; cs > 0 && rows%cs != 0 {
		rows = (rows/cs + 1) * cs
	}
	return parser.Options{
		Encodings:       pc.Encodings,
		Delimiter:       delim,
		LazyQuotes:      pc.LazyQuotes,
		TrimSpace:       pc.TrimSpace,
		StreamThreshold: pc.StreamThresholdBytes,
		BatchRows:       rows,
	}
}

// pipeline builds a loader for one command. The schema state is seeded from
// the table so columns added by earlier runs are not re-issued.
func (c *container) pipeline(ctx context.Context) (*loader.Pipeline, error) {
	dec, err := newDecoder(c.cfg, c.log)
	if err != nil {
		return nil, err
	}

	mode := storage.DynamicMode(c.cfg.Normalize.DynamicMode)
	var state *schema.State
	if mode != storage.DynamicMap {
		cols, err := c.store.Columns(ctx)
		if err != nil {
			return nil, errors.Wrap(err, "read table columns")
		}
		state = schema.NewState(loader.CountColumns(c.store, c.cfg.Job), cols, c.log)
	}

	rt := c.cfg.Runtime
	retries := rt.Retries
	if retries == 0 {
		retries = -1
	}
	maxBytes := rt.MaxBatchBytes
	if maxBytes == 0 {
		maxBytes = storage.BatchBytes(c.cfg.Storage.Kind)
	}
	w := loader.NewWriter(c.store, state, record.IdentityPolicy(c.cfg.Normalize.Identity), mode, loader.WriterOptions{
		WriteTimeout:  rt.WriteTimeout,
		Retries:       retries,
		RetryInitial:  rt.RetryInitial,
		MaxBatchBytes: maxBytes,
		Job:           c.cfg.Job,
	}, c.log)

	return loader.New(dec, c.norm, w, loader.Options{
		Workers:   rt.Workers,
		ChunkSize: rt.ChunkSize,
		Job:       c.cfg.Job,
		RunID:     c.runID,
	}, c.log), nil
}

func (c *container) searcher() *search.Searcher {
	return search.NewSearcher(c.store, search.Builder{
		Identity: record.IdentityPolicy(c.cfg.Normalize.Identity),
		Mode:     storage.DynamicMode(c.cfg.Normalize.DynamicMode),
		Names:    c.norm.DynamicName,
	}, c.log)
}
