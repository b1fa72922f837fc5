// Package sqlitestore is the shared SQLite-opening helper every domain store
// uses: WAL mode, a single writer connection (SQLite's own serialization is
// cheaper than juggling `database/sql`'s pool across writers), and
// idempotent schema application. Grounded on the teacher's `pg.OpenDB`
// factory shape (internal/store/pg/factory.go) adapted from Postgres/pgx to
// `modernc.org/sqlite`'s pure-Go driver.
package sqlitestore

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// Open opens path in WAL mode with a foreign-key-enforcing connection and
// applies schema (one or more idempotent `CREATE TABLE IF NOT EXISTS`
// statements) before returning.
//
// golang-migrate's official sqlite3 driver requires the cgo `mattn/go-sqlite3`
// binding; DorkOS uses the pure-Go `modernc.org/sqlite` driver instead (no
// cgo toolchain assumption), so schema is applied directly here rather than
// through a migration runner — see DESIGN.md for the full tradeoff.
func Open(path string, schema string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite writers are serialized anyway; avoid "database is locked" churn.

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema to %s: %w", path, err)
	}
	return db, nil
}
