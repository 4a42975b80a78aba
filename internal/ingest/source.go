package ingest

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Read loads harvested records from a .json file, a harvest .db dump or a
// directory containing either. Other files are ignored.
func Read(ctx context.Context, path string) (*Records, error) {
	w, err := NewWalker()
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	recs := &Records{}
	if !info.IsDir() {
		return recs, w.readFile(ctx, path, recs)
	}
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		return w.readFile(ctx, p, recs)
	})
	return recs, err
}

func (w *Walker) readFile(ctx context.Context, path string, into *Records) error {
	switch filepath.Ext(path) {
	case ".db":
		n := 0
		err := StreamSQLite(ctx, path, func(id string, record any) error {
			n++
			// Kind filters expect an array; a page may already hold several records.
			if _, ok := record.([]any); !ok {
				record = []any{record}
			}
			w.collect(record, path+"#"+id, into)
			return nil
		})
		slog.Debug("read harvest dump", "path", path, "records", n)
		return err
	case ".json":
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		var data any
		if err := json.Unmarshal(content, &data); err != nil {
			return fmt.Errorf("failed to parse json %s: %w", path, err)
		}
		if _, ok := data.([]any); !ok {
			data = []any{data}
		}
		w.collect(data, path, into)
		return nil
	default:
		return nil
	}
}

// StreamSQLite iterates over the results table of a harvest dump, calling fn
// for each record. Only one parsed record is alive at a time. Records that
// are not valid JSON are skipped with a warning.
func StreamSQLite(ctx context.Context, dbPath string, fn func(recordID string, record any) error) error {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	rows, err := db.QueryContext(ctx, "SELECT id, record FROM results ORDER BY id")
	if err != nil {
		return fmt.Errorf("query results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return fmt.Errorf("scan row: %w", err)
		}
		var parsed any
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			slog.Warn("skipping unparsable record", "db", dbPath, "id", id, "error", err)
			continue
		}
		if err := fn(id, parsed); err != nil {
			return err
		}
	}
	return rows.Err()
}
