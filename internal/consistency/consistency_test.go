package consistency

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/logging"
)

type fakeCanon struct {
	equipment map[string]int64
	boosts    map[domain.Locale]map[string]int64
}

func (f fakeCanon) Equipment(href string) (int64, bool) {
	id, ok := f.equipment[href]
	return id, ok
}

func (f fakeCanon) Boost(loc domain.Locale, name string) (int64, bool) {
	id, ok := f.boosts[loc][name]
	return id, ok
}

var canon = fakeCanon{
	equipment: map[string]int64{"/e/sword": 1, "/e/shield": 3},
	boosts: map[domain.Locale]map[string]int64{
		"ru": {"Сила": 7, "Ловкость": 8},
		"en": {"Strength": 7, "Agility": 8},
		"de": {"Stärke": 7, "Geschick": 8},
	},
}

func levels(v ...string) [domain.BoostLevels]string {
	var l [domain.BoostLevels]string
	copy(l[:], v)
	return l
}

func ext(loc domain.Locale, href string, entries ...domain.BoostEntry) domain.BoostExtraction {
	return domain.BoostExtraction{Locale: loc, EquipmentHref: href, Entries: entries}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"12", 12},
		{"7,5", 7.5},
		{"+3 %", 3},
		{"1 000", 1000},
		{"", 0},
		{"-", 0},
		{"-2.25", -2.25},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.InDelta(t, tt.want, got, 1e-9, tt.in)
	}
	_, err := ParseLevel("abc")
	assert.Error(t, err)
}

func TestCheck_AgreeingLocalesWithDifferentSpellings(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"ru": {ext("ru", "/e/sword",
			domain.BoostEntry{Name: "Ловкость", Levels: levels("1", "2", "3", "4", "5", "6")},
			domain.BoostEntry{Name: "Сила", Levels: levels("1,5", "2", "2,5", "3", "3,5", "4")})},
		"en": {ext("en", "/e/sword",
			domain.BoostEntry{Name: "Strength", Levels: levels("1.5", "2", "2.5", "3", "3.5", "4")},
			domain.BoostEntry{Name: "Agility", Levels: levels("1", "2", "3", "4", "5", "6")})},
		"de": {ext("de", "/e/sword",
			domain.BoostEntry{Name: "Stärke", Levels: levels("1,5 %", "2 %", "2,5 %", "3 %", "3,5 %", "4 %")},
			domain.BoostEntry{Name: "Geschick", Levels: levels("1", "2", "3", "4", "5", "6")})},
	}

	rows, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	require.NoError(t, err)
	assert.Equal(t, []domain.EquipmentBoost{
		{EquipmentID: 1, BoostID: 7, Levels: [6]float64{1.5, 2, 2.5, 3, 3.5, 4}},
		{EquipmentID: 1, BoostID: 8, Levels: [6]float64{1, 2, 3, 4, 5, 6}},
	}, rows)

	// The merged set equals any single locale's canonical set.
	en, bad := Canonicalize(per["en"], canon)
	assert.Empty(t, bad)
	assert.Equal(t, en.Rows(), rows)
}

func TestCheck_DivergentLevelReportsBothRows(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"ru": {ext("ru", "/e/sword", domain.BoostEntry{Name: "Сила", Levels: levels("1", "2", "3", "4", "5", "6")})},
		"en": {ext("en", "/e/sword", domain.BoostEntry{Name: "Strength", Levels: levels("1", "2", "3", "4", "5", "9")})},
	}

	_, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Mismatches, 1)

	m := ce.Mismatches[0]
	assert.Equal(t, domain.Locale("ru"), m.Reference)
	assert.Equal(t, domain.Locale("en"), m.Locale)
	assert.Equal(t, []domain.EquipmentBoost{{EquipmentID: 1, BoostID: 7, Levels: [6]float64{1, 2, 3, 4, 5, 6}}}, m.Missing)
	assert.Equal(t, []domain.EquipmentBoost{{EquipmentID: 1, BoostID: 7, Levels: [6]float64{1, 2, 3, 4, 5, 9}}}, m.Extra)

	report := ce.Report()
	assert.Contains(t, report, "ru vs en")
	assert.Contains(t, report, "only in ru: equipment=1 boost=7 levels=[1 2 3 4 5 6]")
	assert.Contains(t, report, "only in en: equipment=1 boost=7 levels=[1 2 3 4 5 9]")
}

func TestCheck_MissingRowInOneLocale(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"ru": {
			ext("ru", "/e/sword", domain.BoostEntry{Name: "Сила", Levels: levels("1")}),
			ext("ru", "/e/shield", domain.BoostEntry{Name: "Сила", Levels: levels("2")}),
		},
		"en": {ext("en", "/e/sword", domain.BoostEntry{Name: "Strength", Levels: levels("1")})},
	}
	_, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Mismatches, 1)
	assert.Len(t, ce.Mismatches[0].Missing, 1)
	assert.Equal(t, int64(3), ce.Mismatches[0].Missing[0].EquipmentID)
	assert.Empty(t, ce.Mismatches[0].Extra)
}

func TestCheck_SkipsLocalesWithoutData(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"en": {ext("en", "/e/sword", domain.BoostEntry{Name: "Strength", Levels: levels("1")})},
		"de": {ext("de", "/e/sword", domain.BoostEntry{Name: "Stärke", Levels: levels("1")})},
	}
	rows, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = Check(domain.DefaultLocales, nil, canon, logging.Discard())
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestCheck_UnresolvedNamesFail(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"en": {
			ext("en", "/e/sword", domain.BoostEntry{Name: "Strenght", Levels: levels("1")}),
			ext("en", "/e/axe", domain.BoostEntry{Name: "Strength", Levels: levels("1")}),
			ext("en", "/e/shield", domain.BoostEntry{Name: "Strength", Levels: levels("x")}),
		},
	}
	_, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	assert.Empty(t, ce.Mismatches)
	require.Len(t, ce.Unresolved, 3)
	assert.Equal(t, "Strenght", ce.Unresolved[0].Boost)
	assert.Equal(t, "/e/axe", ce.Unresolved[1].EquipmentHref)
	assert.Contains(t, ce.Unresolved[2].Reason, "not a number")
	assert.Contains(t, ce.Report(), "unresolved:")
}

func TestCheck_ConflictingDuplicateInOneLocale(t *testing.T) {
	per := map[domain.Locale][]domain.BoostExtraction{
		"en": {ext("en", "/e/sword",
			domain.BoostEntry{Name: "Strength", Levels: levels("1", "2", "3", "4", "5", "6")},
			domain.BoostEntry{Name: "Strength", Levels: levels("9", "9", "9", "9", "9", "9")},
		)},
		"ru": {ext("ru", "/e/sword", domain.BoostEntry{Name: "Сила", Levels: levels("9", "9", "9", "9", "9", "9")})},
	}
	_, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	var ce *ConsistencyError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Unresolved, 1)
	assert.Equal(t, domain.Locale("en"), ce.Unresolved[0].Locale)
	assert.Equal(t, "Strength", ce.Unresolved[0].Boost)
	assert.Contains(t, ce.Unresolved[0].Reason, "conflicting duplicate")
	assert.Contains(t, ce.Report(), "levels=[1 2 3 4 5 6]")
}

func TestCheck_IdenticalDuplicateIsAccepted(t *testing.T) {
	row := domain.BoostEntry{Name: "Strength", Levels: levels("1", "2")}
	per := map[domain.Locale][]domain.BoostExtraction{
		"en": {ext("en", "/e/sword", row), ext("en", "/e/sword", row)},
	}
	rows, err := Check(domain.DefaultLocales, per, canon, logging.Discard())
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
