// Package storage defines the backend contract the loader and the search
// path are written against, plus a small registry so the command wiring can
// open a backend by kind without importing it.
//
// The contract is shaped after a wide-column store:
//
//   - One table keyed by the identity column.
//   - Secondary indexes on the lookup attributes (IndexedColumns).
//   - Idempotent "add text column" that reports ErrColumnExists when the
//     column is already there.
//   - Atomic multi-row batches limited to MaxBatchStatements rows.
//   - Queries on non-indexed columns must be explicitly flagged FullScan.
//
// Concrete backends live in subpackages and register themselves in init.
// Import internal/storage/all to enable every built-in backend.
package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
)

// MaxBatchStatements is the largest number of row operations one batch may
// carry.
const MaxBatchStatements = 65535

// Batch payload caps. Cassandra rejects batches above
// batch_size_fail_threshold (50 KiB by default); ScyllaDB's default
// threshold is 1 MiB. Both leave headroom for statement overhead.
const (
	CassandraBatchBytes = 48 << 10
	DefaultBatchBytes   = 900 << 10
)

// BatchBytes returns the payload cap for batches written to a backend of the
// given kind.
func BatchBytes(kind string) int {
	if kind == "cassandra" {
		return CassandraBatchBytes
	}
	return DefaultBatchBytes
}

var (
	// ErrColumnExists marks an AddColumn failure caused by the column already
	// being present. Callers treat it as success.
	ErrColumnExists = errors.New("column already exists")
	// ErrTransient marks failures worth retrying: timeouts, unavailable
	// replicas, overloaded coordinators, lock contention.
	ErrTransient = errors.New("transient storage failure")
	// ErrFullScanRequired is returned by Select when a condition targets a
	// column without an index and the query was not flagged FullScan.
	ErrFullScanRequired = errors.New("query requires a full scan")
	// ErrBatchTooLarge is returned by WriteBatch when given more than
	// MaxBatchStatements rows.
	ErrBatchTooLarge = errors.Newf("batch exceeds %d statements", MaxBatchStatements)
)

// IsTransient reports whether err carries the ErrTransient mark.
func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

// DynamicMode selects how dynamic attributes are stored.
type DynamicMode string

const (
	// DynamicColumns stores each dynamic attribute in its own text column,
	// added on first sight.
	DynamicColumns DynamicMode = "columns"
	// DynamicMap stores every dynamic attribute in one map<text,text>
	// column; the schema never changes.
	DynamicMap DynamicMode = "map"
)

// Valid reports whether m is a known mode.
func (m DynamicMode) Valid() bool { return m == DynamicColumns || m == DynamicMap }

// Config is the backend-neutral configuration handed to a Factory.
type Config struct {
	Kind string
	// DSN is used by the SQL backends.
	DSN string
	// Hosts, Port and Keyspace are used by the cassandra backend.
	Hosts    []string
	Port     int
	Keyspace string
	Table    string

	Identity    record.IdentityPolicy
	DynamicMode DynamicMode

	Username string
	Password string

	Consistency       string
	ProtoVersion      int
	Compression       bool
	LocalDC           string
	ReplicationFactor int
	ConnectTimeout    time.Duration
	RequestTimeout    time.Duration

	// AutoCreate creates keyspace, table and indexes on open.
	AutoCreate bool
}

// Row is one record ready to write. Values[i] belongs to Columns[i] and is a
// string, or a map[string]string for the attributes column.
type Row struct {
	Columns []string
	Values  []any
}

// Op is a query condition kind.
type Op int

const (
	// OpEqual matches Column = Value.
	OpEqual Op = iota
	// OpMapEntry matches Column[Key] = Value on a map column.
	OpMapEntry
	// OpContains matches rows whose Column contains Value as a substring.
	OpContains
)

func (o Op) String() string {
	switch o {
	case OpEqual:
		return "="
	case OpMapEntry:
		return "entry"
	case OpContains:
		return "contains"
	}
	return "unknown"
}

// Condition is one predicate. Each Select runs exactly one.
type Condition struct {
	Op     Op
	Column string
	Key    string
	Value  string
	// FullScan allows the backend to filter without an index.
	FullScan bool
}

// Query is a single-condition select.
type Query struct {
	Cond Condition
	// Limit caps returned rows; zero means no limit.
	Limit int
}

// Result is one stored record. Fields hold non-empty values in display
// order; see NewResult.
type Result struct {
	Key    string
	Fields []record.Field
}

// Get returns the value of a field.
func (r Result) Get(name string) (string, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return "", false
}

// Store is implemented by every backend. Implementations must be safe for
// concurrent use.
type Store interface {
	// EnsureTable creates the table and its indexes when missing.
	EnsureTable(ctx context.Context) error
	// Columns lists the table's current columns.
	Columns(ctx context.Context) ([]string, error)
	// AddColumn adds a text column. An existing column yields an error
	// marked with ErrColumnExists.
	AddColumn(ctx context.Context, name string) error
	// WriteBatch writes rows atomically as one batch. Duplicate keys resolve
	// last-write-wins in slice order.
	WriteBatch(ctx context.Context, rows []Row) error
	// Select runs one condition.
	Select(ctx context.Context, q Query) ([]Result, error)
	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
	Close()
}

// BaseColumns returns the fixed columns of the table in creation order.
func BaseColumns(identity record.IdentityPolicy, mode DynamicMode) []string {
	cols := make([]string, 0, len(record.Canonical)+4)
	if identity == record.IdentityMulti {
		cols = append(cols, record.RecordKeyColumn)
	}
	for _, a := range record.Canonical {
		cols = append(cols, string(a))
	}
	cols = append(cols, record.SourceColumn, record.DataColumn)
	if mode == DynamicMap {
		cols = append(cols, record.AttributesColumn)
	}
	return cols
}

// IndexedColumns returns the columns that support equality lookups without
// a full scan: the key column plus the secondary indexes.
func IndexedColumns(identity record.IdentityPolicy) []string {
	cols := []string{identity.KeyColumn()}
	if identity == record.IdentityMulti {
		cols = append(cols, string(record.Email))
	}
	return append(cols,
		string(record.Username),
		string(record.FirstName),
		string(record.LastName),
		string(record.PhoneNumber),
	)
}

// SecondaryIndexes returns the columns that get a secondary index at
// bootstrap.
func SecondaryIndexes(identity record.IdentityPolicy) []string {
	return IndexedColumns(identity)[1:]
}

// NewResult orders a column->value map for display: the key column, the
// canonical attributes, source, dynamic columns and map entries sorted by
// name, then data. Empty and nil values are omitted.
func NewResult(keyColumn string, m map[string]any) Result {
	res := Result{}
	if v, ok := m[keyColumn].(string); ok {
		res.Key = v
	}
	add := func(name, v string) {
		if v != "" {
			res.Fields = append(res.Fields, record.Field{Name: name, Value: v})
		}
	}
	str := func(name string) string {
		switch v := m[name].(type) {
		case string:
			return v
		case *string:
			if v != nil {
				return *v
			}
		}
		return ""
	}

	fixed := map[string]bool{keyColumn: true, record.SourceColumn: true, record.DataColumn: true, record.AttributesColumn: true}
	if keyColumn != string(record.Email) {
		add(keyColumn, str(keyColumn))
	}
	for _, a := range record.Canonical {
		fixed[string(a)] = true
		add(string(a), str(string(a)))
	}
	add(record.SourceColumn, str(record.SourceColumn))

	var dyn []record.Field
	for k := range m {
		if !fixed[k] {
			if v := str(k); v != "" {
				dyn = append(dyn, record.Field{Name: k, Value: v})
			}
		}
	}
	if attrs, ok := m[record.AttributesColumn].(map[string]string); ok {
		for k, v := range attrs {
			if v != "" {
				dyn = append(dyn, record.Field{Name: k, Value: v})
			}
		}
	}
	sort.Slice(dyn, func(i, j int) bool { return dyn[i].Name < dyn[j].Name })
	res.Fields = append(res.Fields, dyn...)
	add(record.DataColumn, str(record.DataColumn))
	return res
}

// Factory opens a Store.
type Factory func(ctx context.Context, cfg Config) (Store, error)

var (
	regMu     sync.RWMutex
	factories = map[string]Factory{}
)

// Register installs (or replaces) the factory for kind.
func Register(kind string, f Factory) {
	regMu.Lock()
	defer regMu.Unlock()
	factories[kind] = f
}

// Kinds lists registered backends.
func Kinds() []string {
	regMu.RLock()
	defer regMu.RUnlock()
	out := make([]string, 0, len(factories))
	for k := range factories {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// New opens the backend registered for cfg.Kind. When cfg.AutoCreate is
// set the table is ensured before returning.
func New(ctx context.Context, cfg Config) (Store, error) {
	regMu.RLock()
	f, ok := factories[cfg.Kind]
	regMu.RUnlock()
	if !ok {
		return nil, errors.Newf("unknown storage kind %q (registered: %v)", cfg.Kind, Kinds())
	}
	if cfg.Identity == "" {
		cfg.Identity = record.IdentityEmail
	}
	if cfg.DynamicMode == "" {
		cfg.DynamicMode = DynamicColumns
	}
	if cfg.Table == "" {
		cfg.Table = "user_data"
	}
	s, err := f(ctx, cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s store", cfg.Kind)
	}
	if cfg.AutoCreate {
		if err := s.EnsureTable(ctx); err != nil {
			s.Close()
			return nil, errors.Wrap(err, "ensure table")
		}
	}
	return s, nil
}
