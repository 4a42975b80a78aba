// Package rebuildtest seeds a throwaway store by running a full rebuild over
// a small two-set armory.
package rebuildtest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agentic-research/armory/api"
	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/ingest"
	"github.com/agentic-research/armory/internal/logging"
	"github.com/agentic-research/armory/internal/rebuild"
	"github.com/agentic-research/armory/internal/store"
)

// Armory assigns these ids:
//
//	equipment: helm=1 hilt=2 shield=3 sword=4
//	drops:     iron=1 ruby=2 wood=3 (ruby is a stone)
//	monsters:  golem=1 titan=2 (titan is an uber invader)
//	boosts:    guard=1 str=2
const Armory = `[
  {"kind": "drop", "href": "/d/iron", "drop_type": "material", "names": {"en": "Iron", "ru": "Железо"}},
  {"kind": "drop", "href": "/d/wood", "drop_type": "material", "names": {"en": "Wood", "ru": "Дерево"}},
  {"kind": "drop", "href": "/d/ruby", "drop_type": "stone", "names": {"en": "Ruby", "ru": "Рубин"}},
  {"kind": "monster", "href": "/m/golem", "names": {"en": "Golem", "ru": "Голем"}, "drops": ["/d/iron"]},
  {"kind": "monster", "href": "/m/titan", "names": {"en": "Titan", "ru": "Титан"}, "is_uber": true, "drops": ["/d/wood"]},
  {"kind": "equipment", "href": "/e/sword", "names": {"en": "Sword", "ru": "Меч"},
   "slot": {"en": "Weapon", "ru": "Оружие"}, "type": {"en": "Blade", "ru": "Клинок"}, "components": ["/e/hilt", "/d/iron"]},
  {"kind": "equipment", "href": "/e/hilt", "names": {"en": "Hilt", "ru": "Рукоять"}, "components": ["/d/iron"]},
  {"kind": "equipment", "href": "/e/shield", "names": {"en": "Shield", "ru": "Щит"},
   "slot": {"en": "Offhand", "ru": "Левая рука"}, "type": {"en": "Shield", "ru": "Щит"}, "components": ["/d/iron", "/d/wood"]},
  {"kind": "equipment", "href": "/e/helm", "names": {"en": "Helm", "ru": "Шлем"}, "components": ["/d/wood"]},
  {"kind": "boost", "href": "/b/str", "names": {"en": "Strength", "ru": "Сила"}},
  {"kind": "boost", "href": "/b/guard", "names": {"en": "Guard", "ru": "Защита"}},
  {"kind": "boost_levels", "locale": "en", "equipment": "/e/sword", "boosts": [{"name": "Strength", "levels": ["1", "2", "4", "6", "8", "10"]}]},
  {"kind": "boost_levels", "locale": "ru", "equipment": "/e/sword", "boosts": [{"name": "Сила", "levels": ["1", "2", "4", "6", "8", "10 %"]}]},
  {"kind": "boost_levels", "locale": "en", "equipment": "/e/shield", "boosts": [{"name": "Strength", "levels": ["1", "1", "2", "3", "4", "5"]}]},
  {"kind": "boost_levels", "locale": "ru", "equipment": "/e/shield", "boosts": [{"name": "Сила", "levels": ["1", "1", "2", "3", "4", "5"]}]},
  {"kind": "boost_levels", "locale": "en", "equipment": "/e/helm", "boosts": [{"name": "Guard", "levels": ["1", "1", "1", "2", "2", "3"]}]},
  {"kind": "boost_levels", "locale": "ru", "equipment": "/e/helm", "boosts": [{"name": "Защита", "levels": ["1", "1", "1", "2", "2", "3"]}]}
]`

// Locales are the schema locales of a seeded store.
var Locales = []domain.Locale{"ru", "en"}

// Seed opens a sqlite store under t.TempDir and rebuilds it from Armory.
func Seed(t testing.TB) *store.Store {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	catalog, err := api.DefaultCatalog()
	require.NoError(t, err)
	s, err := store.Open(ctx, store.Config{DSN: filepath.Join(dir, "armory.db")}, catalog, Locales)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	p := filepath.Join(dir, "armory.json")
	require.NoError(t, os.WriteFile(p, []byte(Armory), 0o644))
	recs, err := ingest.Read(ctx, p)
	require.NoError(t, err)

	r := &rebuild.Rebuilder{Store: s, LockPath: filepath.Join(dir, "rebuild.lock"), Log: logging.Discard()}
	_, err = r.Run(ctx, recs)
	require.NoError(t, err)
	return s
}
