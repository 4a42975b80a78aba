package store

import (
	"context"
	"database/sql"
	"fmt"
	"sort"

	"github.com/agentic-research/armory/internal/domain"
)

// DimensionRow is one entity to load. Values holds the catalog's extra
// columns: a domain.Names for localized ones, a plain value otherwise.
type DimensionRow struct {
	Href   string
	Names  domain.Names
	Values map[string]any
}

// WriteDimension appends rows to a freshly provisioned dimension and returns
// the assigned ids keyed by href. Rows are inserted in href order so the same
// input always produces the same ids. Duplicate hrefs keep the first row.
func (s *Store) WriteDimension(ctx context.Context, name string, rows []DimensionRow) (map[string]int64, error) {
	dim := s.catalog.Dimension(name)
	if dim == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}

	unique := make([]DimensionRow, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for _, r := range rows {
		if r.Href == "" || seen[r.Href] {
			continue
		}
		seen[r.Href] = true
		unique = append(unique, r)
	}
	sort.SliceStable(unique, func(i, j int) bool { return unique[i].Href < unique[j].Href })

	columns := []string{name + "_href"}
	for _, loc := range s.locales {
		columns = append(columns, fmt.Sprintf("%s_name_%s", name, loc))
	}
	for _, c := range dim.Columns {
		if !c.Localized {
			columns = append(columns, c.Name)
			continue
		}
		for _, loc := range s.locales {
			columns = append(columns, fmt.Sprintf("%s_%s", c.Name, loc))
		}
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		w := s.newRowWriter(tx, name, columns)
		for _, r := range unique {
			vals := make([]any, 0, len(columns))
			vals = append(vals, r.Href)
			for _, loc := range s.locales {
				vals = append(vals, nullString(r.Names[loc]))
			}
			for _, c := range dim.Columns {
				if !c.Localized {
					vals = append(vals, r.Values[c.Name])
					continue
				}
				localized, _ := r.Values[c.Name].(domain.Names)
				for _, loc := range s.locales {
					vals = append(vals, nullString(localized[loc]))
				}
			}
			if err := w.Add(ctx, vals...); err != nil {
				return fmt.Errorf("%s %s: %w", name, r.Href, err)
			}
		}
		return w.Flush(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("write dimension %s: %w", name, err)
	}
	return s.IDsByHref(ctx, name)
}

// IDsByHref maps every href of a dimension to its id.
func (s *Store) IDsByHref(ctx context.Context, name string) (map[string]int64, error) {
	if s.catalog.Dimension(name) == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	q := fmt.Sprintf("SELECT %s, %s FROM %s",
		s.d.quote(name+"_id"), s.d.quote(name+"_href"), s.d.quote(name))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read %s ids: %w", name, err)
	}
	defer func() { _ = rows.Close() }()

	ids := make(map[string]int64)
	for rows.Next() {
		var id int64
		var href string
		if err := rows.Scan(&id, &href); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", name, err)
		}
		ids[href] = id
	}
	return ids, rows.Err()
}

// WriteBridge appends association rows. Each row has one value per bridge ref.
func (s *Store) WriteBridge(ctx context.Context, name string, rows [][]sql.NullInt64) error {
	b := s.catalog.Bridge(name)
	if b == nil {
		return fmt.Errorf("%w: %s", ErrUnknownTable, name)
	}
	columns := names(s.bridgeColumns(*b))

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		w := s.newRowWriter(tx, name, columns)
		for i, r := range rows {
			if len(r) != len(columns) {
				return fmt.Errorf("row %d has %d refs, want %d", i, len(r), len(columns))
			}
			vals := make([]any, len(r))
			for j, v := range r {
				vals[j] = v
			}
			if err := w.Add(ctx, vals...); err != nil {
				return err
			}
		}
		return w.Flush(ctx)
	})
	if err != nil {
		return fmt.Errorf("write bridge %s: %w", name, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
