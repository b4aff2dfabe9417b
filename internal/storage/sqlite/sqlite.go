// Package sqlite implements storage.Store on an embedded SQLite database
// (modernc.org/sqlite, no cgo). It is meant for local runs and tests: the
// wide-column contract is reproduced with an upsert on the key column, a
// JSON text column for map-mode attributes, and ordinary indexes.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	_ "modernc.org/sqlite"

	"recordload/internal/record"
	"recordload/internal/storage"
)

func init() {
	storage.Register("sqlite", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is a database/sql handle on one SQLite table.
type Store struct {
	db       *sql.DB
	table    string
	identity record.IdentityPolicy
	mode     storage.DynamicMode
}

var _ storage.Store = (*Store)(nil)

// Open connects to cfg.DSN. SQLite serializes writers, so the pool is
// limited to one connection; this also keeps ":memory:" databases shared.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("sqlite: DSN must not be empty")
	}
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "sqlite: ping")
	}
	_, _ = db.ExecContext(ctx, "PRAGMA busy_timeout = 5000")

	if cfg.Identity == "" {
		cfg.Identity = record.IdentityEmail
	}
	if cfg.DynamicMode == "" {
		cfg.DynamicMode = storage.DynamicColumns
	}
	if cfg.Table == "" {
		cfg.Table = "user_data"
	}
	return &Store{db: db, table: cfg.Table, identity: cfg.Identity, mode: cfg.DynamicMode}, nil
}

func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

// EnsureTable creates the table and indexes.
func (s *Store) EnsureTable(ctx context.Context) error {
	key := s.identity.KeyColumn()
	cols := storage.BaseColumns(s.identity, s.mode)
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = quote(c) + " TEXT"
		if c == key {
			defs[i] += " PRIMARY KEY"
		}
	}
	stmts := []string{fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(s.table), strings.Join(defs, ", "))}
	for _, c := range storage.SecondaryIndexes(s.identity) {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			quote("idx_"+s.table+"_"+c), quote(s.table), quote(c)))
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrapf(classify(err), "sqlite: %s", stmt)
		}
	}
	return nil
}

// Columns lists the table columns via PRAGMA table_info.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quote(s.table)))
	if err != nil {
		return nil, errors.Wrap(classify(err), "sqlite: table_info")
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notnull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notnull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan table_info")
		}
		out = append(out, name)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "sqlite: table_info")
	}
	if len(out) == 0 {
		return nil, errors.Newf("sqlite: table %s not found", s.table)
	}
	return out, nil
}

// AddColumn adds a TEXT column.
func (s *Store) AddColumn(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT", quote(s.table), quote(name))
	if _, err := s.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(classify(err), "sqlite: add column %s", name)
	}
	return nil
}

// upsertSQL inserts a row or overwrites the given columns of an existing
// one, so columns absent from the row keep their stored value.
func upsertSQL(table, key string, columns []string) string {
	q := make([]string, len(columns))
	sets := make([]string, 0, len(columns))
	for i, c := range columns {
		q[i] = quote(c)
		if c != key {
			sets = append(sets, fmt.Sprintf("%s = excluded.%s", quote(c), quote(c)))
		}
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO ",
		quote(table), strings.Join(q, ", "), marks, quote(key))
	if len(sets) == 0 {
		return stmt + "NOTHING"
	}
	return stmt + "UPDATE SET " + strings.Join(sets, ", ")
}

// WriteBatch writes rows in one transaction.
func (s *Store) WriteBatch(ctx context.Context, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > storage.MaxBatchStatements {
		return errors.Wrapf(storage.ErrBatchTooLarge, "sqlite: %d rows", len(rows))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(classify(err), "sqlite: begin tx")
	}
	defer func() { _ = tx.Rollback() }()

	key := s.identity.KeyColumn()
	stmts := map[string]*sql.Stmt{}
	for i, r := range rows {
		text := upsertSQL(s.table, key, r.Columns)
		st, ok := stmts[text]
		if !ok {
			st, err = tx.PrepareContext(ctx, text)
			if err != nil {
				return errors.Wrapf(classify(err), "sqlite: prepare row %d", i)
			}
			defer st.Close()
			stmts[text] = st
		}
		args, err := encodeValues(r.Values)
		if err != nil {
			return errors.Wrapf(err, "sqlite: row %d", i)
		}
		if _, err := st.ExecContext(ctx, args...); err != nil {
			return errors.Wrapf(classify(err), "sqlite: insert row %d", i)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(classify(err), "sqlite: commit")
	}
	return nil
}

func encodeValues(vals []any) ([]any, error) {
	out := make([]any, len(vals))
	for i, v := range vals {
		switch t := v.(type) {
		case map[string]string:
			b, err := json.Marshal(t)
			if err != nil {
				return nil, err
			}
			out[i] = string(b)
		default:
			out[i] = v
		}
	}
	return out, nil
}

// jsonPath quotes a key for json_extract.
func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

func selectSQL(table string, q storage.Query) (string, []any) {
	c := q.Cond
	var (
		where string
		args  []any
	)
	switch c.Op {
	case storage.OpMapEntry:
		where = fmt.Sprintf("json_extract(%s, ?) = ?", quote(c.Column))
		args = []any{jsonPath(c.Key), c.Value}
	case storage.OpContains:
		where = fmt.Sprintf("instr(%s, ?) > 0", quote(c.Column))
		args = []any{c.Value}
	default:
		where = quote(c.Column) + " = ?"
		args = []any{c.Value}
	}
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s", quote(table), where)
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return stmt, args
}

// Select runs one condition. SQLite needs no FullScan opt-in.
func (s *Store) Select(ctx context.Context, q storage.Query) ([]storage.Result, error) {
	stmt, args := selectSQL(s.table, q)
	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "sqlite: %s", stmt)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "sqlite: columns")
	}
	key := s.identity.KeyColumn()
	var out []storage.Result
	for rows.Next() {
		vals := make([]sql.NullString, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "sqlite: scan")
		}
		m := make(map[string]any, len(cols))
		for i, c := range cols {
			if !vals[i].Valid {
				continue
			}
			if c == record.AttributesColumn {
				attrs := map[string]string{}
				if err := json.Unmarshal([]byte(vals[i].String), &attrs); err != nil {
					return nil, errors.Wrap(err, "sqlite: decode attributes")
				}
				m[c] = attrs
				continue
			}
			m[c] = vals[i].String
		}
		out = append(out, storage.NewResult(key, m))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(classify(err), "sqlite: rows")
	}
	return out, nil
}

// Count returns the table's row count.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+quote(s.table)).Scan(&n); err != nil {
		return 0, errors.Wrap(classify(err), "sqlite: count")
	}
	return n, nil
}

// Close closes the database.
func (s *Store) Close() { _ = s.db.Close() }

func classify(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "duplicate column name"):
		return errors.Mark(err, storage.ErrColumnExists)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return errors.Mark(err, storage.ErrTransient)
	}
	return err
}
