package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// rowWriter buffers rows and flushes them as multi-row INSERTs on the
// caller's transaction. It never commits; atomicity belongs to the caller.
type rowWriter struct {
	tx        *sql.Tx
	d         dialect
	prefix    string
	width     int
	batchSize int

	pending []any
	rows    int
	written int
}

func (s *Store) newRowWriter(tx *sql.Tx, table string, columns []string) *rowWriter {
	return &rowWriter{
		tx:        tx,
		d:         s.d,
		prefix:    fmt.Sprintf("INSERT INTO %s (%s) VALUES ", s.d.quote(table), s.d.quoteAll(columns)),
		width:     len(columns),
		batchSize: s.batchSize,
	}
}

// Add queues one row.
func (w *rowWriter) Add(ctx context.Context, values ...any) error {
	if len(values) != w.width {
		return fmt.Errorf("row has %d values, want %d", len(values), w.width)
	}
	w.pending = append(w.pending, values...)
	w.rows++
	if w.rows >= w.batchSize {
		return w.Flush(ctx)
	}
	return nil
}

// Flush writes queued rows.
func (w *rowWriter) Flush(ctx context.Context) error {
	if w.rows == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString(w.prefix)
	ph := placeholders(w.width)
	for i := 0; i < w.rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(ph)
	}
	if _, err := w.tx.ExecContext(ctx, w.d.rebind(b.String()), w.pending...); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	w.written += w.rows
	w.pending = w.pending[:0]
	w.rows = 0
	return nil
}

// Written is the number of rows flushed so far.
func (w *rowWriter) Written() int {
	return w.written
}
