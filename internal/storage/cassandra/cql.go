package cassandra

import (
	"fmt"
	"strings"

	"recordload/internal/record"
	"recordload/internal/storage"
)

// quote returns a CQL quoted identifier. Sanitized attribute names may start
// with a digit, which is only legal quoted.
func quote(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}

func qualified(keyspace, table string) string {
	return quote(keyspace) + "." + quote(table)
}

func createKeyspaceCQL(keyspace string, rf int) string {
	if rf <= 0 {
		rf = 1
	}
	return fmt.Sprintf(
		"CREATE KEYSPACE IF NOT EXISTS %s WITH replication = {'class': 'SimpleStrategy', 'replication_factor': %d} AND durable_writes = true",
		quote(keyspace), rf)
}

func createTableCQL(keyspace, table string, identity record.IdentityPolicy, mode storage.DynamicMode) string {
	key := identity.KeyColumn()
	cols := storage.BaseColumns(identity, mode)
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		typ := "text"
		if c == record.AttributesColumn {
			typ = "map<text, text>"
		}
		def := quote(c) + " " + typ
		if c == key {
			def += " PRIMARY KEY"
		}
		defs = append(defs, def)
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", qualified(keyspace, table), strings.Join(defs, ", "))
}

func createIndexCQL(keyspace, table, column string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (%s)",
		quote("idx_"+column), qualified(keyspace, table), quote(column))
}

func createEntriesIndexCQL(keyspace, table string) string {
	return fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (ENTRIES(%s))",
		quote("idx_"+record.AttributesColumn+"_entries"), qualified(keyspace, table), quote(record.AttributesColumn))
}

func alterAddCQL(keyspace, table, column string) string {
	return fmt.Sprintf("ALTER TABLE %s ADD %s text", qualified(keyspace, table), quote(column))
}

// insertCQL binds the column values and then the write timestamp.
func insertCQL(keyspace, table string, columns []string) string {
	q := make([]string, len(columns))
	for i, c := range columns {
		q[i] = quote(c)
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) USING TIMESTAMP ?", qualified(keyspace, table), strings.Join(q, ", "), marks)
}

// selectCQL builds the statement and bind values for one condition.
func selectCQL(keyspace, table string, q storage.Query) (string, []any) {
	c := q.Cond
	var (
		where string
		args  []any
	)
	switch c.Op {
	case storage.OpMapEntry:
		where = quote(c.Column) + "[?] = ?"
		args = []any{c.Key, c.Value}
	case storage.OpContains:
		where = quote(c.Column) + " LIKE ?"
		args = []any{"%" + c.Value + "%"}
	default:
		where = quote(c.Column) + " = ?"
		args = []any{c.Value}
	}
	stmt := fmt.Sprintf("SELECT * FROM %s WHERE %s", qualified(keyspace, table), where)
	if q.Limit > 0 {
		stmt += fmt.Sprintf(" LIMIT %d", q.Limit)
	}
	if c.FullScan {
		stmt += " ALLOW FILTERING"
	}
	return stmt, args
}

func countCQL(keyspace, table string) string {
	return "SELECT COUNT(*) FROM " + qualified(keyspace, table)
}

const columnsCQL = "SELECT column_name FROM system_schema.columns WHERE keyspace_name = ? AND table_name = ?"
