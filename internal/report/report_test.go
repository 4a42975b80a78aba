package report

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/rebuild/rebuildtest"
)

func s(v string) *string { return &v }

func newReporter(t *testing.T, locale string) *Reporter {
	t.Helper()
	r, err := New(rebuildtest.Seed(t), domain.Locale(locale), 8)
	require.NoError(t, err)
	return r
}

func TestMaterials(t *testing.T) {
	r := newReporter(t, "en")
	got, err := r.Materials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Iron", "Wood"}, got, "ruby is a stone")

	ru, err := r.In("ru")
	require.NoError(t, err)
	got, err = ru.Materials(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Железо", "Дерево"}, got)
}

func TestSet(t *testing.T) {
	r := newReporter(t, "en")
	tbl, err := r.Set(context.Background(), "Strength")
	require.NoError(t, err)

	assert.Equal(t, []string{"equipment_0", "equipment_1", "material", "invader", "uber_invader"}, tbl.Columns)
	assert.Equal(t, [][]*string{
		{s("Sword"), nil, s("Iron"), s("Golem"), nil},
		{s("Sword"), s("Hilt"), s("Iron"), s("Golem"), nil},
		{s("Shield"), nil, s("Iron"), s("Golem"), nil},
		{s("Shield"), nil, s("Wood"), nil, s("Titan")},
	}, tbl.Rows)
}

func TestSet_OtherLocale(t *testing.T) {
	r := newReporter(t, "ru")
	tbl, err := r.Set(context.Background(), "Защита")
	require.NoError(t, err)
	assert.Equal(t, []string{"equipment_0", "material", "uber_invader"}, tbl.Columns)
	assert.Equal(t, [][]*string{{s("Шлем"), s("Дерево"), s("Титан")}}, tbl.Rows)
}

func TestSetMaterials(t *testing.T) {
	r := newReporter(t, "en")
	tbl, err := r.SetMaterials(context.Background(), "Strength")
	require.NoError(t, err)
	assert.Equal(t, []string{"material", "invader", "uber_invader", "quantity"}, tbl.Columns)
	assert.Equal(t, [][]*string{
		{s("Iron"), s("Golem"), nil, s("3")},
		{s("Wood"), nil, s("Titan"), s("1")},
	}, tbl.Rows)
}

func TestSetSummary(t *testing.T) {
	r := newReporter(t, "en")
	tbl, err := r.SetSummary(context.Background(), "Strength")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"equipment", "slot", "equipment_type",
		"level_1", "level_2", "level_3", "level_4", "level_5", "level_6",
		"materials",
	}, tbl.Columns)
	assert.Equal(t, []*string{s("Sword"), s("Shield")}, tbl.Column("equipment"))
	assert.Equal(t, []*string{s("Weapon"), s("Offhand")}, tbl.Column("slot"))
	assert.Equal(t, []*string{s("10"), s("5")}, tbl.Column("level_6"))
	assert.Equal(t, []*string{s("2"), s("2")}, tbl.Column("materials"))
	assert.Nil(t, tbl.Column("nope"))
}

func TestUnknownSet(t *testing.T) {
	r := newReporter(t, "en")
	_, err := r.Set(context.Background(), "Сила")
	assert.True(t, errors.Is(err, ErrUnknownSet), "set names are looked up in the reporter's locale")
	_, err = r.SetMaterials(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownSet)
	_, err = r.SetSummary(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownSet)
	assert.Equal(t, 0, r.boosts.Len(), "misses are not cached")
}

func TestBoostCache(t *testing.T) {
	r := newReporter(t, "en")
	ctx := context.Background()
	_, err := r.Set(ctx, "Strength")
	require.NoError(t, err)
	_, err = r.SetSummary(ctx, "Strength")
	require.NoError(t, err)
	assert.Equal(t, 1, r.boosts.Len())

	ru, err := r.In("ru")
	require.NoError(t, err)
	_, err = ru.Set(ctx, "Сила")
	require.NoError(t, err)
	assert.Equal(t, 2, r.boosts.Len(), "derived reporters share the cache")

	r.Reset()
	assert.Equal(t, 0, ru.boosts.Len())
}

func TestUnknownLocale(t *testing.T) {
	db := rebuildtest.Seed(t)
	_, err := New(db, "de", 0)
	assert.ErrorIs(t, err, ErrUnknownLocale)

	r, err := New(db, "ru", 0)
	require.NoError(t, err)
	_, err = r.In("ja")
	assert.ErrorIs(t, err, ErrUnknownLocale)
}

func TestDropEmptyColumns_KeepsColumnsWithoutRows(t *testing.T) {
	tbl := &Table{Columns: []string{"a", "b"}, Rows: [][]*string{}}
	tbl.dropEmptyColumns()
	assert.Equal(t, []string{"a", "b"}, tbl.Columns)
}
