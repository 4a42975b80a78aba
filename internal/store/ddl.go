package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentic-research/armory/api"
)

type columnDef struct {
	name string
	typ  string // already dialect-specific
}

func (s *Store) dimensionColumns(dim api.Dimension) ([]columnDef, error) {
	text, _ := s.d.columnType("TEXT")
	defs := []columnDef{
		{name: dim.Name + "_id", typ: s.d.autoID},
		{name: dim.Name + "_href", typ: text},
	}
	for _, loc := range s.locales {
		defs = append(defs, columnDef{name: fmt.Sprintf("%s_name_%s", dim.Name, loc), typ: text})
	}
	extra, err := s.expand(dim.Columns)
	if err != nil {
		return nil, fmt.Errorf("dimension %s: %w", dim.Name, err)
	}
	return append(defs, extra...), nil
}

func (s *Store) bridgeColumns(b api.Bridge) []columnDef {
	integer, _ := s.d.columnType("INTEGER")
	defs := make([]columnDef, len(b.Refs))
	for i, ref := range b.Refs {
		defs[i] = columnDef{name: ref + "_id", typ: integer}
	}
	return defs
}

// expand resolves portable types and fans localized columns out per locale.
func (s *Store) expand(cols []api.Column) ([]columnDef, error) {
	var defs []columnDef
	for _, c := range cols {
		typ, err := s.d.columnType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", c.Name, err)
		}
		if !c.Localized {
			defs = append(defs, columnDef{name: c.Name, typ: typ})
			continue
		}
		for _, loc := range s.locales {
			defs = append(defs, columnDef{name: fmt.Sprintf("%s_%s", c.Name, loc), typ: typ})
		}
	}
	return defs, nil
}

func names(defs []columnDef) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.name
	}
	return out
}

func (s *Store) createTable(name string, defs []columnDef, ifNotExists bool) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	if ifNotExists {
		b.WriteString("IF NOT EXISTS ")
	}
	b.WriteString(s.d.quote(name))
	b.WriteString(" (")
	for i, d := range defs {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(s.d.quote(d.name))
		b.WriteByte(' ')
		b.WriteString(d.typ)
	}
	b.WriteString(")")
	return b.String()
}

// createView renames the source prefix of every column to the view name,
// e.g. drop_name_en becomes material_name_en.
func (s *Store) createView(v api.View) (string, error) {
	src := s.catalog.Dimension(v.Source)
	if src == nil {
		return "", fmt.Errorf("view %s: %w: %s", v.Name, ErrUnknownTable, v.Source)
	}
	defs, err := s.dimensionColumns(*src)
	if err != nil {
		return "", err
	}
	cols := make([]string, len(defs))
	for i, d := range defs {
		alias := d.name
		if rest, ok := strings.CutPrefix(d.name, v.Source+"_"); ok {
			alias = v.Name + "_" + rest
		}
		cols[i] = s.d.quote(d.name) + " AS " + s.d.quote(alias)
	}
	q := fmt.Sprintf("CREATE VIEW %s AS SELECT %s FROM %s",
		s.d.quote(v.Name), strings.Join(cols, ", "), s.d.quote(v.Source))
	if v.Filter != "" {
		q += " WHERE " + v.Filter
	}
	return q, nil
}

// Provision drops and recreates every table and view in the catalog, except
// persistent tables which are only created when missing. Nothing is migrated:
// each scrape cycle starts from empty tables.
func (s *Store) Provision(ctx context.Context) error {
	var stmts []string

	for _, v := range s.catalog.Views {
		stmts = append(stmts, "DROP VIEW IF EXISTS "+s.d.quote(v.Name))
	}
	drop := func(name string) {
		stmts = append(stmts, "DROP TABLE IF EXISTS "+s.d.quote(name)+s.d.dropTable)
	}

	for _, dim := range s.catalog.Dimensions {
		defs, err := s.dimensionColumns(dim)
		if err != nil {
			return err
		}
		drop(dim.Name)
		stmts = append(stmts, s.createTable(dim.Name, defs, false))
	}
	for _, b := range s.catalog.Bridges {
		drop(b.Name)
		stmts = append(stmts, s.createTable(b.Name, s.bridgeColumns(b), false))
	}
	for _, t := range s.catalog.Tables {
		if t.Persistent {
			continue
		}
		defs, err := s.expand(t.Columns)
		if err != nil {
			return fmt.Errorf("table %s: %w", t.Name, err)
		}
		drop(t.Name)
		stmts = append(stmts, s.createTable(t.Name, defs, false))
	}
	persistent, err := s.persistentTables()
	if err != nil {
		return err
	}
	stmts = append(stmts, persistent...)
	for _, v := range s.catalog.Views {
		q, err := s.createView(v)
		if err != nil {
			return err
		}
		stmts = append(stmts, q)
	}

	return s.exec(ctx, "provision", stmts)
}

// EnsurePersistent creates the persistent tables that are missing, leaving
// everything else alone. A fresh database can record a run before its first
// Provision.
func (s *Store) EnsurePersistent(ctx context.Context) error {
	stmts, err := s.persistentTables()
	if err != nil {
		return err
	}
	return s.exec(ctx, "ensure persistent", stmts)
}

func (s *Store) persistentTables() ([]string, error) {
	var stmts []string
	for _, t := range s.catalog.Tables {
		if !t.Persistent {
			continue
		}
		defs, err := s.expand(t.Columns)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", t.Name, err)
		}
		stmts = append(stmts, s.createTable(t.Name, defs, true))
	}
	return stmts, nil
}

func (s *Store) exec(ctx context.Context, op string, stmts []string) error {
	for _, q := range stmts {
		s.log.Debug(op, "sql", q)
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("%s: %s: %w", op, q, err)
		}
	}
	return nil
}
