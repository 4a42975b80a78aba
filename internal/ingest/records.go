package ingest

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/agentic-research/armory/internal/domain"
)

// Records is everything harvested for one rebuild.
type Records struct {
	Drops       []domain.Drop
	Monsters    []domain.Monster
	Equipment   []domain.Equipment
	Boosts      []domain.Boost
	Extractions []domain.BoostExtraction

	// Skipped counts malformed records that were dropped.
	Skipped int
}

// ByLocale groups boost extractions by locale.
func (r *Records) ByLocale() map[domain.Locale][]domain.BoostExtraction {
	out := make(map[domain.Locale][]domain.BoostExtraction)
	for _, e := range r.Extractions {
		out[e.Locale] = append(out[e.Locale], e)
	}
	return out
}

// Merge appends other into r.
func (r *Records) Merge(other *Records) {
	r.Drops = append(r.Drops, other.Drops...)
	r.Monsters = append(r.Monsters, other.Monsters...)
	r.Equipment = append(r.Equipment, other.Equipment...)
	r.Boosts = append(r.Boosts, other.Boosts...)
	r.Extractions = append(r.Extractions, other.Extractions...)
	r.Skipped += other.Skipped
}

// Len is the number of usable records.
func (r *Records) Len() int {
	return len(r.Drops) + len(r.Monsters) + len(r.Equipment) + len(r.Boosts) + len(r.Extractions)
}

type dropRecord struct {
	Href     string          `json:"href"`
	DropType domain.DropType `json:"drop_type"`
	Names    domain.Names    `json:"names"`
}

type monsterRecord struct {
	Href     string       `json:"href"`
	Names    domain.Names `json:"names"`
	IsUber   bool         `json:"is_uber"`
	IsShaman bool         `json:"is_shaman"`
	Drops    []string     `json:"drops"`
}

type equipmentRecord struct {
	Href       string       `json:"href"`
	Names      domain.Names `json:"names"`
	Slot       domain.Names `json:"slot"`
	Type       domain.Names `json:"type"`
	Components []string     `json:"components"`
}

type boostRecord struct {
	Href  string       `json:"href"`
	Names domain.Names `json:"names"`
}

type boostLevelsRecord struct {
	Locale    domain.Locale `json:"locale"`
	Equipment string        `json:"equipment"`
	Boosts    []struct {
		Name   string                      `json:"name"`
		Levels [domain.BoostLevels]string `json:"levels"`
	} `json:"boosts"`
}

// decode re-encodes a selected object into its typed record.
func decode(m map[string]any, v any) error {
	raw, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, v)
}

// collect selects every known kind out of root and appends the decoded
// records. Malformed records are logged and counted, never fatal.
func (w *Walker) collect(root any, source string, into *Records) {
	skip := func(kind Kind, m map[string]any, err error) {
		slog.Warn("skipping malformed record", "source", source, "kind", kind, "href", m["href"], "error", err)
		into.Skipped++
	}

	for _, m := range w.Select(root, KindDrop) {
		var r dropRecord
		if err := decode(m, &r); err != nil || r.Href == "" || !r.DropType.Valid() {
			skip(KindDrop, m, orInvalid(err, "missing href or unknown drop_type"))
			continue
		}
		into.Drops = append(into.Drops, domain.Drop{Href: r.Href, Names: r.Names, Type: r.DropType})
	}
	for _, m := range w.Select(root, KindMonster) {
		var r monsterRecord
		if err := decode(m, &r); err != nil || r.Href == "" {
			skip(KindMonster, m, orInvalid(err, "missing href"))
			continue
		}
		into.Monsters = append(into.Monsters, domain.Monster{
			Href: r.Href, Names: r.Names, IsUber: r.IsUber, IsShaman: r.IsShaman, Drops: r.Drops,
		})
	}
	for _, m := range w.Select(root, KindEquipment) {
		var r equipmentRecord
		if err := decode(m, &r); err != nil || r.Href == "" {
			skip(KindEquipment, m, orInvalid(err, "missing href"))
			continue
		}
		into.Equipment = append(into.Equipment, domain.Equipment{
			Href: r.Href, Names: r.Names, Slot: r.Slot, Type: r.Type, Components: r.Components,
		})
	}
	for _, m := range w.Select(root, KindBoost) {
		var r boostRecord
		if err := decode(m, &r); err != nil || r.Href == "" {
			skip(KindBoost, m, orInvalid(err, "missing href"))
			continue
		}
		into.Boosts = append(into.Boosts, domain.Boost{Href: r.Href, Names: r.Names})
	}
	for _, m := range w.Select(root, KindBoostLevels) {
		var r boostLevelsRecord
		if err := decode(m, &r); err != nil || r.Locale == "" || r.Equipment == "" {
			skip(KindBoostLevels, m, orInvalid(err, "missing locale or equipment"))
			continue
		}
		ext := domain.BoostExtraction{Locale: r.Locale, EquipmentHref: r.Equipment}
		for _, b := range r.Boosts {
			ext.Entries = append(ext.Entries, domain.BoostEntry{Name: b.Name, Levels: b.Levels})
		}
		into.Extractions = append(into.Extractions, ext)
	}
}

func orInvalid(err error, msg string) error {
	if err != nil {
		return err
	}
	return errors.New(msg)
}
