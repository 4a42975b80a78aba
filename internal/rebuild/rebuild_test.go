package rebuild

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/armory/api"
	"github.com/agentic-research/armory/internal/consistency"
	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/flatten"
	"github.com/agentic-research/armory/internal/ingest"
	"github.com/agentic-research/armory/internal/lock"
	"github.com/agentic-research/armory/internal/logging"
	"github.com/agentic-research/armory/internal/metrics"
	"github.com/agentic-research/armory/internal/store"
)

const armoryJSON = `[
  {"kind": "drop", "href": "/d/iron", "drop_type": "material", "names": {"en": "Iron", "ru": "Железо"}},
  {"kind": "drop", "href": "/d/wood", "drop_type": "material", "names": {"en": "Wood", "ru": "Дерево"}},
  {"kind": "monster", "href": "/m/golem", "names": {"en": "Golem"}, "drops": ["/d/iron"]},
  {"kind": "equipment", "href": "/e/sword", "names": {"en": "Sword"}, "components": ["/e/hilt"]},
  {"kind": "equipment", "href": "/e/hilt", "names": {"en": "Hilt"}, "components": ["/d/iron"]},
  {"kind": "equipment", "href": "/e/shield", "names": {"en": "Shield"}, "components": ["/d/iron", "/d/wood"]},
  {"kind": "boost", "href": "/b/str", "names": {"en": "Strength", "ru": "Сила"}},
  {"kind": "boost_levels", "locale": "en", "equipment": "/e/sword", "boosts": [{"name": "Strength", "levels": ["1", "2", "3", "4", "5", "6.5"]}]},
  {"kind": "boost_levels", "locale": "ru", "equipment": "/e/sword", "boosts": [{"name": "Сила", "levels": ["1", "2", "3", "4", "5", "6,5"]}]}
]`

type fixture struct {
	store   *store.Store
	metrics *metrics.Metrics
	r       *Rebuilder
	dir     string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()
	catalog, err := api.DefaultCatalog()
	require.NoError(t, err)
	s, err := store.Open(ctx, store.Config{DSN: filepath.Join(dir, "armory.db")}, catalog, []domain.Locale{"ru", "en"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m := metrics.New()
	return &fixture{
		store:   s,
		metrics: m,
		dir:     dir,
		r: &Rebuilder{
			Store:    s,
			LockPath: filepath.Join(dir, "rebuild.lock"),
			Metrics:  m,
			Log:      logging.Discard(),
		},
	}
}

func (f *fixture) records(t *testing.T, content string) *ingest.Records {
	t.Helper()
	p := filepath.Join(f.dir, "harvest.json")
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	recs, err := ingest.Read(context.Background(), p)
	require.NoError(t, err)
	return recs
}

func fact(material, invader int64, equipment ...int64) domain.FlatRow {
	var r domain.FlatRow
	for i, e := range equipment {
		r.Equipment[i] = domain.ID(e)
	}
	r.MaterialID = domain.ID(material)
	if invader != 0 {
		r.InvaderID = domain.ID(invader)
	}
	return r
}

func TestRun_EndToEnd(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.r.Run(ctx, f.records(t, armoryJSON))
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 4, res.Facts)
	assert.Equal(t, 1, res.Gaps, "wood has no monster")
	assert.Equal(t, 1, res.Boosts)

	// hilt=1, shield=2, sword=3; iron=1, wood=2; golem=1.
	facts, err := f.store.Facts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{
		fact(1, 1, 1),
		fact(1, 1, 2),
		fact(2, 0, 2),
		fact(1, 1, 3, 1),
	}, facts)

	last, err := f.store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, res.RunID, last.ID)
	assert.Equal(t, store.RunCompleted, last.Status)
	assert.Equal(t, int64(4), last.FactRows)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RebuildRuns.WithLabelValues(store.RunCompleted)))
	assert.Equal(t, 4.0, testutil.ToFloat64(f.metrics.RowsFlattened))
}

func TestRun_FreshStoreNeedsNoProvision(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.store.LastRun(ctx)
	require.Error(t, err, "nothing is provisioned yet")

	res, err := f.r.Run(ctx, f.records(t, armoryJSON))
	require.NoError(t, err)
	assert.Equal(t, 4, res.Facts)

	last, err := f.store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RunCompleted, last.Status)
}

func TestRun_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Run(ctx, f.records(t, armoryJSON))
	require.NoError(t, err)
	first, err := f.store.Facts(ctx)
	require.NoError(t, err)

	_, err = f.r.Run(ctx, f.records(t, armoryJSON))
	require.NoError(t, err)
	second, err := f.store.Facts(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRun_CycleFailsRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Run(ctx, f.records(t, `[
	  {"kind": "equipment", "href": "/e/a", "components": ["/e/b"]},
	  {"kind": "equipment", "href": "/e/b", "components": ["/e/a"]}
	]`))
	var se *flatten.StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, flatten.ReasonCycle, se.Reason)

	last, err := f.store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, last.Status)
	assert.Contains(t, last.Detail, "cycle")
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.RebuildRuns.WithLabelValues(store.RunFailed)))
}

func TestRun_FailedRunDropsPreviousFacts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Run(ctx, f.records(t, armoryJSON))
	require.NoError(t, err)

	_, err = f.r.Run(ctx, f.records(t, `[
	  {"kind": "equipment", "href": "/e/a", "components": ["/e/b"]},
	  {"kind": "equipment", "href": "/e/b", "components": ["/e/a"]}
	]`))
	require.Error(t, err)

	facts, err := f.store.Facts(ctx)
	require.NoError(t, err)
	assert.Empty(t, facts)
	last, err := f.store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, last.Status)
}

func TestRun_InconsistentBoostsFailRun(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.r.Run(ctx, f.records(t, `[
	  {"kind": "equipment", "href": "/e/sword"},
	  {"kind": "boost", "href": "/b/str", "names": {"en": "Strength", "ru": "Сила"}},
	  {"kind": "boost_levels", "locale": "en", "equipment": "/e/sword", "boosts": [{"name": "Strength", "levels": ["1", "2", "3", "4", "5", "6"]}]},
	  {"kind": "boost_levels", "locale": "ru", "equipment": "/e/sword", "boosts": [{"name": "Сила", "levels": ["1", "2", "3", "4", "5", "7"]}]}
	]`))
	var ce *consistency.ConsistencyError
	require.True(t, errors.As(err, &ce))
	require.Len(t, ce.Mismatches, 1)
	assert.Equal(t, domain.Locale("ru"), ce.Mismatches[0].Reference)

	last, err := f.store.LastRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, store.RunFailed, last.Status)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.ConsistencyMismatches))
}

func TestRun_Locked(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Provision(context.Background()))
	held, err := lock.Acquire(f.r.LockPath, "someone else")
	require.NoError(t, err)
	defer func() { _ = held.Release() }()

	_, err = f.r.Run(context.Background(), &ingest.Records{})
	assert.ErrorIs(t, err, ErrLocked)

	_, err = f.store.LastRun(context.Background())
	assert.ErrorIs(t, err, store.ErrNoRuns, "a locked-out pass records nothing")
}
