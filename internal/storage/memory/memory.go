// Package memory is an in-process storage backend. It keeps the same rules
// as the wide-column backend (batch limit, explicit columns, index-only
// lookups unless FullScan) so pipeline tests exercise the real contract. It
// is also handy for dry runs: `storage.kind: memory`.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"

	"recordload/internal/record"
	"recordload/internal/storage"
)

func init() {
	storage.Register("memory", func(_ context.Context, cfg storage.Config) (storage.Store, error) {
		return New(cfg), nil
	})
}

// Store is a mutex-guarded map of rows keyed by the identity column.
type Store struct {
	mu      sync.Mutex
	cfg     storage.Config
	keyCol  string
	columns map[string]bool
	order   []string
	rows    map[string]map[string]any
	indexed map[string]bool

	addCalls map[string]int
	batches  int

	// WriteHook, when set, runs before each WriteBatch; a non-nil error
	// fails the batch without applying it.
	WriteHook func(rows []storage.Row) error
	// AddColumnHook, when set, runs before each AddColumn; a non-nil error
	// is returned as-is.
	AddColumnHook func(name string) error
}

var _ storage.Store = (*Store)(nil)

// New returns an empty store whose table already exists with the base
// columns.
func New(cfg storage.Config) *Store {
	if cfg.Identity == "" {
		cfg.Identity = record.IdentityEmail
	}
	if cfg.DynamicMode == "" {
		cfg.DynamicMode = storage.DynamicColumns
	}
	s := &Store{
		cfg:      cfg,
		keyCol:   cfg.Identity.KeyColumn(),
		columns:  map[string]bool{},
		rows:     map[string]map[string]any{},
		indexed:  map[string]bool{},
		addCalls: map[string]int{},
	}
	for _, c := range storage.BaseColumns(cfg.Identity, cfg.DynamicMode) {
		s.addColumnLocked(c)
	}
	for _, c := range storage.IndexedColumns(cfg.Identity) {
		s.indexed[c] = true
	}
	return s
}

func (s *Store) addColumnLocked(name string) {
	s.columns[name] = true
	s.order = append(s.order, name)
}

// EnsureTable is a no-op; the table exists from New.
func (s *Store) EnsureTable(context.Context) error { return nil }

// Columns returns the current columns in creation order.
func (s *Store) Columns(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...), nil
}

// AddColumn adds a text column.
func (s *Store) AddColumn(_ context.Context, name string) error {
	s.mu.Lock()
	s.addCalls[name]++
	hook := s.AddColumnHook
	s.mu.Unlock()

	if hook != nil {
		if err := hook(name); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.columns[name] {
		return errors.Mark(errors.Newf("memory: column %q conflicts with an existing column", name), storage.ErrColumnExists)
	}
	s.addColumnLocked(name)
	return nil
}

// WriteBatch applies rows atomically: either every row is stored or none.
func (s *Store) WriteBatch(ctx context.Context, rows []storage.Row) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(rows) > storage.MaxBatchStatements {
		return errors.Wrapf(storage.ErrBatchTooLarge, "memory: %d rows", len(rows))
	}

	s.mu.Lock()
	hook := s.WriteHook
	s.mu.Unlock()
	if hook != nil {
		if err := hook(rows); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	staged := make([]map[string]any, 0, len(rows))
	for i, r := range rows {
		if len(r.Columns) != len(r.Values) {
			return errors.Newf("memory: row %d: %d columns, %d values", i, len(r.Columns), len(r.Values))
		}
		m := make(map[string]any, len(r.Columns))
		for j, c := range r.Columns {
			if !s.columns[c] {
				return errors.Newf("memory: undefined column name %s", c)
			}
			switch v := r.Values[j].(type) {
			case string:
				m[c] = v
			case map[string]string:
				cp := make(map[string]string, len(v))
				for k, x := range v {
					cp[k] = x
				}
				m[c] = cp
			default:
				return errors.Newf("memory: column %s: unsupported value type %T", c, v)
			}
		}
		key, _ := m[s.keyCol].(string)
		if key == "" {
			return errors.Newf("memory: row %d: empty key column %s", i, s.keyCol)
		}
		staged = append(staged, m)
	}

	for _, m := range staged {
		key := m[s.keyCol].(string)
		if prev, ok := s.rows[key]; ok {
			// Upsert: columns not written keep their old values.
			for k, v := range m {
				prev[k] = v
			}
			continue
		}
		s.rows[key] = m
	}
	s.batches++
	return nil
}

// Select evaluates one condition against every row.
func (s *Store) Select(ctx context.Context, q storage.Query) ([]storage.Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	c := q.Cond
	if !s.columns[c.Column] {
		return nil, errors.Newf("memory: undefined column name %s", c.Column)
	}
	switch c.Op {
	case storage.OpEqual:
		if !s.indexed[c.Column] && !c.FullScan {
			return nil, errors.Wrapf(storage.ErrFullScanRequired, "column %s", c.Column)
		}
	case storage.OpMapEntry:
		if c.Column != record.AttributesColumn {
			return nil, errors.Newf("memory: %s is not a map column", c.Column)
		}
	case storage.OpContains:
		if !c.FullScan {
			return nil, errors.Wrapf(storage.ErrFullScanRequired, "contains on %s", c.Column)
		}
	}

	keys := make([]string, 0, len(s.rows))
	for k := range s.rows {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []storage.Result
	for _, k := range keys {
		row := s.rows[k]
		if !matches(row, c) {
			continue
		}
		out = append(out, storage.NewResult(s.keyCol, row))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

func matches(row map[string]any, c storage.Condition) bool {
	switch c.Op {
	case storage.OpEqual:
		v, _ := row[c.Column].(string)
		return v == c.Value
	case storage.OpMapEntry:
		m, _ := row[c.Column].(map[string]string)
		v, ok := m[c.Key]
		return ok && v == c.Value
	case storage.OpContains:
		v, _ := row[c.Column].(string)
		return strings.Contains(v, c.Value)
	}
	return false
}

// Count returns the number of stored records.
func (s *Store) Count(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.rows)), nil
}

// Close is a no-op.
func (s *Store) Close() {}

// AddColumnCalls reports how many times AddColumn was called for name.
func (s *Store) AddColumnCalls(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addCalls[name]
}

// Batches reports how many batches were applied.
func (s *Store) Batches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.batches
}

// Row returns a copy of the stored row for key.
func (s *Store) Row(key string) (map[string]any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[key]
	if !ok {
		return nil, false
	}
	cp := make(map[string]any, len(r))
	for k, v := range r {
		cp[k] = v
	}
	return cp, true
}
