// Package postgres implements storage.Store on PostgreSQL through pgx v5.
//
// Every column is text except the map-mode attributes column, which is
// jsonb. Batches run as one transaction carrying a pgx.Batch of upserts, so a
// chunk commits or fails as a unit.
package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"recordload/internal/record"
	"recordload/internal/storage"
)

func init() {
	storage.Register("postgres", func(ctx context.Context, cfg storage.Config) (storage.Store, error) {
		return Open(ctx, cfg)
	})
}

// Store is a pgxpool-backed storage.Store.
type Store struct {
	pool     *pgxpool.Pool
	table    string
	identity record.IdentityPolicy
	mode     storage.DynamicMode
}

var _ storage.Store = (*Store)(nil)

// Open creates the pool and pings the server.
func Open(ctx context.Context, cfg storage.Config) (*Store, error) {
	if strings.TrimSpace(cfg.DSN) == "" {
		return nil, errors.New("postgres: DSN must not be empty")
	}
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "postgres: pgxpool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(classify(err), "postgres: ping")
	}
	if cfg.Identity == "" {
		cfg.Identity = record.IdentityEmail
	}
	if cfg.DynamicMode == "" {
		cfg.DynamicMode = storage.DynamicColumns
	}
	if cfg.Table == "" {
		cfg.Table = "user_data"
	}
	return &Store{pool: pool, table: cfg.Table, identity: cfg.Identity, mode: cfg.DynamicMode}, nil
}

func pgIdent(id string) string { return `"` + strings.ReplaceAll(id, `"`, `""`) + `"` }

// pgFQN quotes a possibly schema-qualified name.
func pgFQN(name string) string {
	parts := strings.Split(name, ".")
	for i, p := range parts {
		parts[i] = pgIdent(p)
	}
	return strings.Join(parts, ".")
}

// splitTable returns schema and table; schema is empty when unqualified.
func splitTable(name string) (string, string) {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[:i], name[i+1:]
	}
	return "", name
}

func createTableSQL(table string, identity record.IdentityPolicy, mode storage.DynamicMode) string {
	key := identity.KeyColumn()
	cols := storage.BaseColumns(identity, mode)
	defs := make([]string, len(cols))
	for i, c := range cols {
		typ := "text"
		if c == record.AttributesColumn {
			typ = "jsonb NOT NULL DEFAULT '{}'::jsonb"
		}
		defs[i] = pgIdent(c) + " " + typ
		if c == key {
			defs[i] += " PRIMARY KEY"
		}
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", pgFQN(table), strings.Join(defs, ", "))
}

func indexName(table, column string) string {
	_, t := splitTable(table)
	return pgIdent("idx_" + t + "_" + column)
}

// EnsureTable creates the table and indexes.
func (s *Store) EnsureTable(ctx context.Context) error {
	stmts := []string{createTableSQL(s.table, s.identity, s.mode)}
	for _, c := range storage.SecondaryIndexes(s.identity) {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
			indexName(s.table, c), pgFQN(s.table), pgIdent(c)))
	}
	if s.mode == storage.DynamicMap {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING GIN (%s)",
			indexName(s.table, record.AttributesColumn), pgFQN(s.table), pgIdent(record.AttributesColumn)))
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(classify(err), "postgres: %s", stmt)
		}
	}
	return nil
}

// Columns lists the table's columns from information_schema.
func (s *Store) Columns(ctx context.Context) ([]string, error) {
	schema, table := splitTable(s.table)
	q := `SELECT column_name FROM information_schema.columns
		WHERE table_schema = COALESCE(NULLIF($1, ''), current_schema()) AND table_name = $2
		ORDER BY ordinal_position`
	rows, err := s.pool.Query(ctx, q, schema, table)
	if err != nil {
		return nil, errors.Wrap(classify(err), "postgres: list columns")
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Wrap(classify(err), "postgres: list columns")
	}
	if len(cols) == 0 {
		return nil, errors.Newf("postgres: table %s not found", s.table)
	}
	return cols, nil
}

// AddColumn adds a text column.
func (s *Store) AddColumn(ctx context.Context, name string) error {
	stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s text", pgFQN(s.table), pgIdent(name))
	if _, err := s.pool.Exec(ctx, stmt); err != nil {
		return errors.Wrapf(classify(err), "postgres: add column %s", name)
	}
	return nil
}

// upsertSQL inserts a row or updates the given columns of an existing one.
func upsertSQL(table, key string, columns []string) string {
	q := make([]string, len(columns))
	ph := make([]string, len(columns))
	sets := make([]string, 0, len(columns))
	for i, c := range columns {
		q[i] = pgIdent(c)
		ph[i] = fmt.Sprintf("$%d", i+1)
		if c != key {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", pgIdent(c), pgIdent(c)))
		}
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO ",
		pgFQN(table), strings.Join(q, ", "), strings.Join(ph, ", "), pgIdent(key))
	if len(sets) == 0 {
		return stmt + "NOTHING"
	}
	return stmt + "UPDATE SET " + strings.Join(sets, ", ")
}

// WriteBatch sends all upserts in one transaction.
func (s *Store) WriteBatch(ctx context.Context, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	if len(rows) > storage.MaxBatchStatements {
		return errors.Wrapf(storage.ErrBatchTooLarge, "postgres: %d rows", len(rows))
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(classify(err), "postgres: begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	key := s.identity.KeyColumn()
	b := &pgx.Batch{}
	for _, r := range rows {
		b.Queue(upsertSQL(s.table, key, r.Columns), r.Values...)
	}
	br := tx.SendBatch(ctx, b)
	for i := range rows {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return errors.Wrapf(classify(err), "postgres: row %d", i)
		}
	}
	if err := br.Close(); err != nil {
		return errors.Wrap(classify(err), "postgres: batch close")
	}
	if err := tx.Commit(ctx); err != nil {
		return errors.Wrap(classify(err), "postgres: commit")
	}
	return nil
}

func selectSQL(table string, q storage.Query) (string, []any) {
	c := q.Cond
	var (
		where string
		args  []any
	)
	switch c.Op {
	case storage.OpMapEntry:
		where = pgIdent(c.Column) + " ->> $1 = $2"
		args = []any{c.Key, c.Value}
	case storage.OpContains:
		where = "strpos(" + pgIdent(c.Column) + ", $1) > 0"
		args = []any{c.Value}
	default:
		where = pgIdent(c.Column) + " = $1"
		args = []any{c.Value}
	}
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s", pgFQN(table), where)
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	return stmt, args
}

// Select runs one condition.
func (s *Store) Select(ctx context.Context, q storage.Query) ([]storage.Result, error) {
	stmt, args := selectSQL(s.table, q)
	rows, err := s.pool.Query(ctx, stmt, args...)
	if err != nil {
		return nil, errors.Wrapf(classify(err), "postgres: %s", stmt)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	key := s.identity.KeyColumn()
	var out []storage.Result
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, errors.Wrap(err, "postgres: values")
		}
		m := make(map[string]any, len(vals))
		for i, v := range vals {
			name := fields[i].Name
			switch t := v.(type) {
			case string:
				m[name] = t
			case map[string]any:
				attrs := make(map[string]string, len(t))
				for k, x := range t {
					if sv, ok := x.(string); ok {
						attrs[k] = sv
					} else if x != nil {
						attrs[k] = fmt.Sprint(x)
					}
				}
				m[name] = attrs
			}
		}
		out = append(out, storage.NewResult(key, m))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(classify(err), "postgres: rows")
	}
	return out, nil
}

// Count returns the table's row count.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+pgFQN(s.table)).Scan(&n); err != nil {
		return 0, errors.Wrap(classify(err), "postgres: count")
	}
	return n, nil
}

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

// transientStates are SQLSTATEs worth retrying.
var transientStates = map[string]bool{
	"40001": true, // serialization_failure
	"40P01": true, // deadlock_detected
	"53300": true, // too_many_connections
	"57P03": true, // cannot_connect_now
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "42701":
			return errors.Mark(err, storage.ErrColumnExists)
		case transientStates[pgErr.Code], strings.HasPrefix(pgErr.Code, "08"):
			return errors.Mark(err, storage.ErrTransient)
		}
		return err
	}
	if pgconn.Timeout(err) {
		return errors.Mark(err, storage.ErrTransient)
	}
	return err
}
