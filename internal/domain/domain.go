// Package domain holds the record and row types shared by ingestion, the
// crafting-tree engine and the store.
package domain

import (
	"database/sql"
	"fmt"
	"strings"

	"golang.org/x/text/language"
)

const (
	// SlotWidth is the number of equipment columns in a flattened row.
	SlotWidth = 10
	// BoostLevels is the number of power levels carried by a boost row.
	BoostLevels = 6
)

// Locale is a display-language code as used in column suffixes ("ru", "en", ...).
type Locale string

// DefaultLocales lists every language the content site publishes, in the
// order the reference extraction is chosen.
var DefaultLocales = []Locale{"ru", "en", "de", "es", "fr", "it", "tr", "ja", "ko"}

// ParseLocale canonicalizes a language code. Only bare base languages are
// accepted because the value ends up in column names.
func ParseLocale(s string) (Locale, error) {
	tag, err := language.Parse(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse locale %q: %w", s, err)
	}
	base, conf := tag.Base()
	if conf == language.No {
		return "", fmt.Errorf("locale %q has no base language", s)
	}
	if tag.String() != base.String() {
		return "", fmt.Errorf("locale %q must be a bare language code", s)
	}
	return Locale(base.String()), nil
}

// Names maps a locale to a display name.
type Names map[Locale]string

// DropType tells which listing a drop was harvested from.
type DropType string

const (
	DropMaterial DropType = "material"
	DropStone    DropType = "stone"
	DropRune     DropType = "rune"
)

// Valid reports whether t is one of the known drop listings.
func (t DropType) Valid() bool {
	switch t {
	case DropMaterial, DropStone, DropRune:
		return true
	}
	return false
}

// Drop is a harvested material, gem or rune.
type Drop struct {
	Href  string
	Names Names
	Type  DropType
}

// Monster is a harvested invader together with the hrefs of what it drops.
type Monster struct {
	Href     string
	Names    Names
	IsUber   bool
	IsShaman bool
	Drops    []string
}

// Equipment is a harvested equipment page. Components lists hrefs of the
// materials and sub-equipment consumed to build it.
type Equipment struct {
	Href       string
	Names      Names
	Slot       Names
	Type       Names
	Components []string
}

// Boost is a named crafting-set bonus.
type Boost struct {
	Href  string
	Names Names
}

// BoostEntry is one boost line as printed on an equipment page in one locale.
type BoostEntry struct {
	Name   string
	Levels [BoostLevels]string
}

// BoostExtraction is everything one locale's equipment page says about boosts.
type BoostExtraction struct {
	Locale        Locale
	EquipmentHref string
	Entries       []BoostEntry
}

// EquipmentBoost is the canonical, locale-independent boost row.
type EquipmentBoost struct {
	EquipmentID int64
	BoostID     int64
	Levels      [BoostLevels]float64
}

// Edge is one row of the assembly relation. Exactly one of MaterialID and
// SubequipmentID is set.
type Edge struct {
	EquipmentID    int64
	MaterialID     sql.NullInt64
	SubequipmentID sql.NullInt64
}

// FlatRow is one root-to-leaf assembly path. Equipment[0] is the root and
// column k is set only when the chain reaches depth k.
type FlatRow struct {
	Equipment     [SlotWidth]sql.NullInt64
	MaterialID    sql.NullInt64
	InvaderID     sql.NullInt64
	UberInvaderID sql.NullInt64
}

// Depth returns the number of populated equipment columns.
func (r FlatRow) Depth() int {
	n := 0
	for _, e := range r.Equipment {
		if !e.Valid {
			break
		}
		n++
	}
	return n
}

// DropSource says that a monster drops a material.
type DropSource struct {
	MaterialID int64
	MonsterID  int64
	Uber       bool
}

// ID wraps a non-null identifier.
func ID(v int64) sql.NullInt64 {
	return sql.NullInt64{Int64: v, Valid: true}
}
