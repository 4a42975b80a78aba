// Package report answers the read-side questions about a rebuilt store:
// which materials exist, and what a crafting set is made of.
//
// A set is every piece of equipment carrying a given boost. Set names are
// boost names in the reporter's locale.
package report

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/agentic-research/armory/internal/domain"
)

var (
	// ErrUnknownSet is returned when no boost has the requested name.
	ErrUnknownSet = errors.New("unknown set")
	// ErrUnknownLocale is returned for a locale the schema has no columns for.
	ErrUnknownLocale = errors.New("locale not in schema")
)

// DB is the part of the store the reporter reads through.
type DB interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	Quote(ident string) string
	HasLocale(loc domain.Locale) bool
}

type boostKey struct {
	locale domain.Locale
	name   string
}

// Reporter runs report queries in one locale. Reporters derived with In
// share the boost id cache.
type Reporter struct {
	DB     DB
	Locale domain.Locale
	boosts *lru.Cache[boostKey, int64]
}

// New returns a reporter for locale with room for cacheSize boost ids.
func New(db DB, locale domain.Locale, cacheSize int) (*Reporter, error) {
	if !db.HasLocale(locale) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocale, locale)
	}
	if cacheSize <= 0 {
		cacheSize = 128
	}
	cache, err := lru.New[boostKey, int64](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("boost cache: %w", err)
	}
	return &Reporter{DB: db, Locale: locale, boosts: cache}, nil
}

// In returns a reporter for another locale.
func (r *Reporter) In(locale domain.Locale) (*Reporter, error) {
	if locale == r.Locale {
		return r, nil
	}
	if !r.DB.HasLocale(locale) {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocale, locale)
	}
	return &Reporter{DB: r.DB, Locale: locale, boosts: r.boosts}, nil
}

// Reset forgets cached boost ids. Call it after a rebuild.
func (r *Reporter) Reset() {
	r.boosts.Purge()
}

// Table is a report result. Null cells are nil.
type Table struct {
	Columns []string    `json:"columns"`
	Rows    [][]*string `json:"rows"`
}

// Materials lists material names in id order.
func (r *Reporter) Materials(ctx context.Context) ([]string, error) {
	q := fmt.Sprintf(`SELECT %s FROM material ORDER BY material_id`, r.name("material"))
	rows, err := r.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("materials: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []string
	for rows.Next() {
		var name sql.NullString
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan material: %w", err)
		}
		out = append(out, name.String)
	}
	return out, rows.Err()
}

// Set returns every assembly path of the set's equipment, strongest
// equipment first. Columns that are null in every row are left out.
func (r *Reporter) Set(ctx context.Context, name string) (*Table, error) {
	boost, err := r.boostID(ctx, name)
	if err != nil {
		return nil, err
	}
	cols := make([]string, 0, domain.SlotWidth+3)
	joins := make([]string, 0, domain.SlotWidth+3)
	order := []string{"eb.level_6 DESC", "em.equipment_0_id"}
	for i := 0; i < domain.SlotWidth; i++ {
		alias := fmt.Sprintf("e%d", i)
		cols = append(cols, fmt.Sprintf("%s.%s AS equipment_%d", alias, r.name("equipment"), i))
		joins = append(joins, fmt.Sprintf("LEFT JOIN equipment %s ON %s.equipment_id = em.equipment_%d_id", alias, alias, i))
		if i > 0 {
			order = append(order, fmt.Sprintf("COALESCE(em.equipment_%d_id, 0)", i))
		}
	}
	cols = append(cols,
		"m."+r.name("material")+" AS material",
		"i."+r.name("invader")+" AS invader",
		"ui."+r.name("uber_invader")+" AS uber_invader",
	)
	order = append(order, "COALESCE(em.material_id, 0)")

	q := `SELECT ` + strings.Join(cols, ", ") + `
		FROM equipment_materials em
		JOIN equipment_boosts eb ON eb.equipment_id = em.equipment_0_id AND eb.boost_id = ?
		` + strings.Join(joins, "\n\t\t") + `
		LEFT JOIN material m ON m.material_id = em.material_id
		LEFT JOIN invader i ON i.invader_id = em.invader_id
		LEFT JOIN uber_invader ui ON ui.uber_invader_id = em.uber_invader_id
		ORDER BY ` + strings.Join(order, ", ")

	t, err := r.table(ctx, q, boost)
	if err != nil {
		return nil, fmt.Errorf("set %q: %w", name, err)
	}
	t.dropEmptyColumns()
	return t, nil
}

// SetMaterials totals the materials a set consumes, most used first, with
// the monsters that drop them.
func (r *Reporter) SetMaterials(ctx context.Context, name string) (*Table, error) {
	boost, err := r.boostID(ctx, name)
	if err != nil {
		return nil, err
	}
	m, i, ui := "m."+r.name("material"), "i."+r.name("invader"), "ui."+r.name("uber_invader")
	q := fmt.Sprintf(`SELECT %s AS material, %s AS invader, %s AS uber_invader, COUNT(*) AS quantity
		FROM equipment_materials em
		JOIN equipment_boosts eb ON eb.equipment_id = em.equipment_0_id AND eb.boost_id = ?
		JOIN material m ON m.material_id = em.material_id
		LEFT JOIN invader i ON i.invader_id = em.invader_id
		LEFT JOIN uber_invader ui ON ui.uber_invader_id = em.uber_invader_id
		GROUP BY em.material_id, %s, %s, %s
		ORDER BY COUNT(*) DESC, em.material_id`, m, i, ui, m, i, ui)

	t, err := r.table(ctx, q, boost)
	if err != nil {
		return nil, fmt.Errorf("set %q materials: %w", name, err)
	}
	return t, nil
}

// SetSummary lists the set's equipment with slot, type, boost levels and
// the number of material paths, strongest first.
func (r *Reporter) SetSummary(ctx context.Context, name string) (*Table, error) {
	boost, err := r.boostID(ctx, name)
	if err != nil {
		return nil, err
	}
	loc := string(r.Locale)
	cols := []string{
		"e." + r.name("equipment") + " AS equipment",
		"e." + r.DB.Quote("slot_"+loc) + " AS slot",
		"e." + r.DB.Quote("equipment_type_"+loc) + " AS equipment_type",
	}
	for l := 1; l <= domain.BoostLevels; l++ {
		cols = append(cols, fmt.Sprintf("eb.level_%d", l))
	}
	cols = append(cols, `(SELECT COUNT(*) FROM equipment_materials em
			WHERE em.equipment_0_id = e.equipment_id AND em.material_id IS NOT NULL) AS materials`)

	q := `SELECT ` + strings.Join(cols, ", ") + `
		FROM equipment_boosts eb
		JOIN equipment e ON e.equipment_id = eb.equipment_id
		WHERE eb.boost_id = ?
		ORDER BY eb.level_6 DESC, e.equipment_id`

	t, err := r.table(ctx, q, boost)
	if err != nil {
		return nil, fmt.Errorf("set %q summary: %w", name, err)
	}
	return t, nil
}

func (r *Reporter) boostID(ctx context.Context, name string) (int64, error) {
	key := boostKey{locale: r.Locale, name: name}
	if id, ok := r.boosts.Get(key); ok {
		return id, nil
	}
	q := fmt.Sprintf(`SELECT boost_id FROM boost WHERE %s = ? ORDER BY boost_id LIMIT 1`, r.name("boost"))
	var id int64
	err := r.DB.QueryRowContext(ctx, q, name).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: %q", ErrUnknownSet, name)
	}
	if err != nil {
		return 0, fmt.Errorf("look up boost %q: %w", name, err)
	}
	r.boosts.Add(key, id)
	return id, nil
}

// name is the quoted localized name column of a dimension or view.
func (r *Reporter) name(table string) string {
	return r.DB.Quote(fmt.Sprintf("%s_name_%s", table, r.Locale))
}

func (r *Reporter) table(ctx context.Context, q string, args ...any) (*Table, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	t := &Table{Columns: cols, Rows: [][]*string{}}
	cells := make([]sql.NullString, len(cols))
	dest := make([]any, len(cols))
	for i := range cells {
		dest[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		row := make([]*string, len(cols))
		for i, c := range cells {
			if c.Valid {
				v := c.String
				row[i] = &v
			}
		}
		t.Rows = append(t.Rows, row)
	}
	return t, rows.Err()
}

func (t *Table) dropEmptyColumns() {
	if len(t.Rows) == 0 {
		return
	}
	keep := make([]int, 0, len(t.Columns))
	for i := range t.Columns {
		for _, row := range t.Rows {
			if row[i] != nil {
				keep = append(keep, i)
				break
			}
		}
	}
	if len(keep) == len(t.Columns) {
		return
	}
	cols := make([]string, len(keep))
	for j, i := range keep {
		cols[j] = t.Columns[i]
	}
	for r, row := range t.Rows {
		out := make([]*string, len(keep))
		for j, i := range keep {
			out[j] = row[i]
		}
		t.Rows[r] = out
	}
	t.Columns = cols
}

// Column returns the cells of the named column, nil entries for nulls.
func (t *Table) Column(name string) []*string {
	idx := -1
	for i, c := range t.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]*string, len(t.Rows))
	for r, row := range t.Rows {
		out[r] = row[idx]
	}
	return out
}
