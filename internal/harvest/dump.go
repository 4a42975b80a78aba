package harvest

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// WriteDump stores results in a SQLite file with a results(id, record)
// table, one row per href. Existing rows with the same href are replaced so
// that a partial harvest can be topped up by a later one.
func WriteDump(ctx context.Context, dbPath string, results []Result) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS results (id TEXT PRIMARY KEY, record TEXT NOT NULL)`); err != nil {
		return fmt.Errorf("create results: %w", err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO results (id, record) VALUES (?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, r := range results {
		if _, err := stmt.ExecContext(ctx, r.Href, string(r.Record)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("insert %s: %w", r.Href, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
