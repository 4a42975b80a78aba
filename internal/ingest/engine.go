// Package ingest turns harvested records into dimension and bridge rows.
package ingest

import (
	"cmp"
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/store"
)

// Target is the part of the store ingestion writes to.
type Target interface {
	WriteDimension(ctx context.Context, name string, rows []store.DimensionRow) (map[string]int64, error)
	WriteBridge(ctx context.Context, name string, rows [][]sql.NullInt64) error
}

// Engine loads one harvest into a freshly provisioned store.
type Engine struct {
	Target Target
	Log    *slog.Logger
}

// NewEngine returns an engine writing to target; a nil log falls back to
// slog.Default.
func NewEngine(target Target, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{Target: target, Log: log}
}

// Stats reports what a load wrote and what it had to drop.
type Stats struct {
	Drops, Monsters, Equipment, Boosts int
	MonsterDrops, AssemblyEdges        int
	UnresolvedRefs                     int
}

// Load writes dimensions first, then the bridges that reference them.
// References to hrefs that were never harvested are logged and dropped.
func (e *Engine) Load(ctx context.Context, recs *Records) (*Snapshot, error) {
	snap := &Snapshot{boosts: make(map[domain.Locale]map[string]int64)}
	var err error

	if snap.drops, err = e.writeDrops(ctx, recs.Drops); err != nil {
		return nil, err
	}
	monsters, err := e.writeMonsters(ctx, recs.Monsters)
	if err != nil {
		return nil, err
	}
	if snap.equipment, err = e.writeEquipment(ctx, recs.Equipment); err != nil {
		return nil, err
	}
	boosts, err := e.writeBoosts(ctx, recs.Boosts)
	if err != nil {
		return nil, err
	}

	snap.Stats = Stats{Drops: len(snap.drops), Monsters: len(monsters), Equipment: len(snap.equipment), Boosts: len(boosts)}

	if err := e.writeMonsterDrops(ctx, recs.Monsters, monsters, snap); err != nil {
		return nil, err
	}
	if err := e.writeAssembly(ctx, recs.Equipment, snap); err != nil {
		return nil, err
	}

	for _, b := range recs.Boosts {
		id, ok := boosts[b.Href]
		if !ok {
			continue
		}
		for loc, name := range b.Names {
			if snap.boosts[loc] == nil {
				snap.boosts[loc] = make(map[string]int64)
			}
			snap.boosts[loc][normalizeName(name)] = id
		}
	}

	e.Log.Info("ingested records",
		"drops", snap.Stats.Drops, "monsters", snap.Stats.Monsters,
		"equipment", snap.Stats.Equipment, "boosts", snap.Stats.Boosts,
		"monster_drop", snap.Stats.MonsterDrops, "assembly_edges", snap.Stats.AssemblyEdges,
		"unresolved", snap.Stats.UnresolvedRefs)
	return snap, nil
}

func flag(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (e *Engine) writeDrops(ctx context.Context, drops []domain.Drop) (map[string]int64, error) {
	rows := make([]store.DimensionRow, 0, len(drops))
	for _, d := range drops {
		rows = append(rows, store.DimensionRow{Href: d.Href, Names: d.Names, Values: map[string]any{
			"is_material": flag(d.Type == domain.DropMaterial),
			"is_stone":    flag(d.Type == domain.DropStone),
			"is_rune":     flag(d.Type == domain.DropRune),
		}})
	}
	return e.Target.WriteDimension(ctx, "drop", rows)
}

func (e *Engine) writeMonsters(ctx context.Context, monsters []domain.Monster) (map[string]int64, error) {
	rows := make([]store.DimensionRow, 0, len(monsters))
	for _, m := range monsters {
		rows = append(rows, store.DimensionRow{Href: m.Href, Names: m.Names, Values: map[string]any{
			"is_uber":   flag(m.IsUber),
			"is_shaman": flag(m.IsShaman),
		}})
	}
	return e.Target.WriteDimension(ctx, "monster", rows)
}

func (e *Engine) writeEquipment(ctx context.Context, equipment []domain.Equipment) (map[string]int64, error) {
	rows := make([]store.DimensionRow, 0, len(equipment))
	for _, eq := range equipment {
		rows = append(rows, store.DimensionRow{Href: eq.Href, Names: eq.Names, Values: map[string]any{
			"slot":           eq.Slot,
			"equipment_type": eq.Type,
		}})
	}
	return e.Target.WriteDimension(ctx, "equipment", rows)
}

func (e *Engine) writeBoosts(ctx context.Context, boosts []domain.Boost) (map[string]int64, error) {
	rows := make([]store.DimensionRow, 0, len(boosts))
	for _, b := range boosts {
		rows = append(rows, store.DimensionRow{Href: b.Href, Names: b.Names})
	}
	return e.Target.WriteDimension(ctx, "boost", rows)
}

func (e *Engine) writeMonsterDrops(ctx context.Context, monsters []domain.Monster, ids map[string]int64, snap *Snapshot) error {
	seen := make(map[int64]*roaring.Bitmap)
	var rows [][]sql.NullInt64
	for _, m := range monsters {
		mid, ok := ids[m.Href]
		if !ok {
			continue
		}
		if seen[mid] == nil {
			seen[mid] = roaring.New()
		}
		for _, href := range m.Drops {
			did, ok := snap.drops[href]
			if !ok {
				e.Log.Warn("monster drops unknown item", "monster", m.Href, "drop", href)
				snap.Stats.UnresolvedRefs++
				continue
			}
			if !seen[mid].CheckedAdd(uint32(did)) {
				continue
			}
			rows = append(rows, []sql.NullInt64{domain.ID(mid), domain.ID(did)})
		}
	}
	sortBridge(rows)
	snap.Stats.MonsterDrops = len(rows)
	if err := e.Target.WriteBridge(ctx, "monster_drop", rows); err != nil {
		return fmt.Errorf("monster_drop: %w", err)
	}
	return nil
}

// writeAssembly resolves each component href against drops first, then
// equipment. Duplicate components are kept: a recipe may need two of a part.
func (e *Engine) writeAssembly(ctx context.Context, equipment []domain.Equipment, snap *Snapshot) error {
	var rows [][]sql.NullInt64
	done := roaring.New()
	for _, eq := range equipment {
		eid, ok := snap.equipment[eq.Href]
		if !ok || !done.CheckedAdd(uint32(eid)) {
			continue
		}
		for _, href := range eq.Components {
			if did, ok := snap.drops[href]; ok {
				rows = append(rows, []sql.NullInt64{domain.ID(eid), domain.ID(did), {}})
				continue
			}
			if sid, ok := snap.equipment[href]; ok {
				rows = append(rows, []sql.NullInt64{domain.ID(eid), {}, domain.ID(sid)})
				continue
			}
			e.Log.Warn("equipment has unknown component", "equipment", eq.Href, "component", href)
			snap.Stats.UnresolvedRefs++
		}
	}
	sortBridge(rows)
	snap.Stats.AssemblyEdges = len(rows)
	if err := e.Target.WriteBridge(ctx, "equipment_material_subequipment", rows); err != nil {
		return fmt.Errorf("equipment_material_subequipment: %w", err)
	}
	return nil
}

// sortBridge orders rows column by column, nulls first.
func sortBridge(rows [][]sql.NullInt64) {
	slices.SortStableFunc(rows, func(a, b []sql.NullInt64) int {
		for i := range a {
			if c := cmp.Compare(a[i].Int64, b[i].Int64); c != 0 {
				return c
			}
		}
		return 0
	})
}

// normalizeName folds runs of whitespace, including no-break spaces, so that
// names scraped from different page layouts compare equal.
func normalizeName(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Snapshot maps harvested keys to the ids a load assigned. It is the
// canonicalizer used by the boost consistency check.
type Snapshot struct {
	Stats Stats

	drops     map[string]int64
	equipment map[string]int64
	boosts    map[domain.Locale]map[string]int64
}

// Equipment returns the id of an equipment href.
func (s *Snapshot) Equipment(href string) (int64, bool) {
	id, ok := s.equipment[href]
	return id, ok
}

// Boost returns the id of a boost by its display name in loc.
func (s *Snapshot) Boost(loc domain.Locale, name string) (int64, bool) {
	id, ok := s.boosts[loc][normalizeName(name)]
	return id, ok
}

// Drop returns the id of a drop href.
func (s *Snapshot) Drop(href string) (int64, bool) {
	id, ok := s.drops[href]
	return id, ok
}
