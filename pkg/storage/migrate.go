package storage

import (
	"database/sql"
	"fmt"
)

// column is one entry in an additive migration: a column that must exist
// on table, added with PRAGMA table_info-based introspection so re-running
// migrate() on an already-current schema is a no-op, per spec §4.11:
// "schema migrations are additive and idempotent; every startup applies
// missing columns via PRAGMA-inspected introspection."
type column struct {
	name string
	def  string
}

func addMissingColumns(db *sql.DB, wanted map[string][]column) error {
	for table, cols := range wanted {
		existing, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, c := range cols {
			if existing[c.name] {
				continue
			}
			stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.name, c.def)
			if _, err := db.Exec(stmt); err != nil {
				return fmt.Errorf("storage: add column %s.%s: %w", table, c.name, err)
			}
		}
	}
	return nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, fmt.Errorf("storage: introspect %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	cols := map[string]bool{}
	for rows.Next() {
		var (
			cid        int
			name       string
			ctype      string
			notnull    int
			dfltValue  sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("storage: scan pragma row: %w", err)
		}
		cols[name] = true
	}
	return cols, rows.Err()
}
