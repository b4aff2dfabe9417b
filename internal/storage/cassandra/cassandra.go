// Package cassandra implements storage.Store on Apache Cassandra or ScyllaDB
// through gocql.
//
// The session is opened without a keyspace so that EnsureTable can create
// it; every statement uses fully qualified, quoted names. Chunks are written
// as LOGGED batches so each chunk is applied atomically; every insert carries
// its own USING TIMESTAMP so a later row for the same key wins.
package cassandra

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gocql/gocql"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// Defaults mirror the execution profile the loader was tuned with.
const (
	DefaultPort           = 9042
	DefaultKeyspace       = "user_data"
	DefaultProtoVersion   = 4
	DefaultRequestTimeout = 60 * time.Second
	DefaultConnectTimeout = 10 * time.Second
)

// DefaultHosts are used when none are configured.
var DefaultHosts = []string{"localhost"}

func init() {
	storage.Register("cassandra", open)
	storage.Register("scylla", open)
}

// Store is a gocql-backed storage.Store.
type Store struct {
	session  *gocql.Session
	keyspace string
	table    string
	identity record.IdentityPolicy
	mode     storage.DynamicMode
	rf       int
	clock    *clock
}

var _ storage.Store = (*Store)(nil)

// createSession is a test seam.
var createSession = func(c *gocql.ClusterConfig) (*gocql.Session, error) { return c.CreateSession() }

func open(_ context.Context, cfg storage.Config) (storage.Store, error) {
	cluster, err := clusterConfig(cfg)
	if err != nil {
		return nil, err
	}
	session, err := createSession(cluster)
	if err != nil {
		return nil, errors.Wrapf(err, "cassandra: connect %v", cluster.Hosts)
	}
	ks := cfg.Keyspace
	if ks == "" {
		ks = DefaultKeyspace
	}
	return &Store{
		session:  session,
		keyspace: ks,
		table:    cfg.Table,
		identity: cfg.Identity,
		mode:     cfg.DynamicMode,
		rf:       cfg.ReplicationFactor,
		clock:    newClock(),
	}, nil
}

// clusterConfig translates storage.Config into gocql settings: consistency
// ONE by default, token-aware routing on top of DC-aware round robin when a
// local DC is known, snappy compression when enabled.
func clusterConfig(cfg storage.Config) (*gocql.ClusterConfig, error) {
	hosts := cfg.Hosts
	if len(hosts) == 0 {
		hosts = DefaultHosts
	}
	c := gocql.NewCluster(hosts...)
	c.Port = DefaultPort
	if cfg.Port > 0 {
		c.Port = cfg.Port
	}
	c.ProtoVersion = DefaultProtoVersion
	if cfg.ProtoVersion > 0 {
		c.ProtoVersion = cfg.ProtoVersion
	}
	c.Timeout = DefaultRequestTimeout
	if cfg.RequestTimeout > 0 {
		c.Timeout = cfg.RequestTimeout
	}
	c.ConnectTimeout = DefaultConnectTimeout
	if cfg.ConnectTimeout > 0 {
		c.ConnectTimeout = cfg.ConnectTimeout
	}

	c.Consistency = gocql.One
	if cfg.Consistency != "" {
		cons, err := gocql.ParseConsistencyWrapper(cfg.Consistency)
		if err != nil {
			return nil, errors.Wrap(err, "cassandra: consistency")
		}
		c.Consistency = cons
	}
	if cfg.Compression {
		c.Compressor = gocql.SnappyCompressor{}
	}
	if cfg.LocalDC != "" {
		c.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.DCAwareRoundRobinPolicy(cfg.LocalDC))
	} else {
		c.PoolConfig.HostSelectionPolicy = gocql.TokenAwareHostPolicy(gocql.RoundRobinHostPolicy())
	}
	if cfg.Username != "" {
		c.Authenticator = gocql.PasswordAuthenticator{Username: cfg.Username, Password: cfg.Password}
	}
	// Retries are owned by the loader, which knows which failures are safe
	// to repeat.
	c.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 0}
	return c, nil
}

// EnsureTable creates keyspace, table and secondary indexes when missing.
func (s *Store) EnsureTable(ctx context.Context) error {
	stmts := []string{
		createKeyspaceCQL(s.keyspace, s.rf),
		createTableCQL(s.keyspace, s.table, s.identity, s.mode),
	}
	for _, c := range storage.SecondaryIndexes(s.identity) {
		stmts = append(stmts, createIndexCQL(s.keyspace, s.table, c))
	}
	if s.mode == storage.DynamicMap {
		stmts = append(stmts, createEntriesIndexCQL(s.keyspace, s.table))
	}
	for _, stmt := range stmts {
		if err := s.session.Query(stmt).WithContext(ctx).Exec(); err != nil {
			return errors.Wrapf(classify(err), "cassandra: %s", stmt)
		}
	}
	return nil
}

// Columns reads the table's columns from system_schema.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	iter := s.session.Query(columnsCQL, s.keyspace, s.table).WithContext(ctx).Iter()
	var (
		name string
		out  []string
	)
	for iter.Scan(&name) {
		out = append(out, name)
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrap(classify(err), "cassandra: list columns")
	}
	if len(out) == 0 {
		return nil, errors.Newf("cassandra: table %s.%s not found", s.keyspace, s.table)
	}
	return out, nil
}

// AddColumn runs ALTER TABLE ... ADD <name> text.
func (s *Store) AddColumn(ctx context.Context, name string) error {
	err := s.session.Query(alterAddCQL(s.keyspace, s.table, name)).WithContext(ctx).Exec()
	if err != nil {
		return errors.Wrapf(classify(err), "cassandra: add column %s", name)
	}
	return nil
}

// WriteBatch writes rows as one LOGGED batch. Timestamps increase in slice
// order, so the last row for a key wins.
func (s *Store) WriteBatch(ctx context.Context, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > storage.MaxBatchStatements {
		return errors.Wrapf(storage.ErrBatchTooLarge, "cassandra: %d rows", len(rows))
	}
	b := s.session.NewBatch(gocql.LoggedBatch).WithContext(ctx)
	base := s.clock.reserve(len(rows))
	for i, r := range rows {
		b.Query(insertCQL(s.keyspace, s.table, r.Columns), rowArgs(r, base+int64(i))...)
	}
	if err := s.session.ExecuteBatch(b); err != nil {
		return errors.Wrapf(classify(err), "cassandra: batch of %d", len(rows))
	}
	return nil
}

// Select runs one condition and maps each row with MapScan.
func (s *Store) Select(ctx context.Context, q storage.Query) ([]storage.Result, error) {
	stmt, args := selectCQL(s.keyspace, s.table, q)
	iter := s.session.Query(stmt, args...).WithContext(ctx).Iter()

	key := s.identity.KeyColumn()
	var out []storage.Result
	for {
		m := make(map[string]any)
		if !iter.MapScan(m) {
			break
		}
		out = append(out, storage.NewResult(key, m))
	}
	if err := iter.Close(); err != nil {
		return nil, errors.Wrapf(classify(err), "cassandra: %s", stmt)
	}
	return out, nil
}

// Count returns SELECT COUNT(*). It scans the whole table.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.session.Query(countCQL(s.keyspace, s.table)).WithContext(ctx).Scan(&n); err != nil {
		return 0, errors.Wrap(classify(err), "cassandra: count")
	}
	return n, nil
}

// Close closes the session.
func (s *Store) Close() {
	if s.session != nil {
		s.session.Close()
	}
}
