package flatten

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentic-research/armory/internal/assembly"
	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/drops"
)

func sub(parent, child int64) domain.Edge {
	return domain.Edge{EquipmentID: parent, SubequipmentID: domain.ID(child)}
}

func mat(parent, material int64) domain.Edge {
	return domain.Edge{EquipmentID: parent, MaterialID: domain.ID(material)}
}

func newFlattener(t *testing.T, edges []domain.Edge, sources ...domain.DropSource) *Flattener {
	t.Helper()
	idx, err := assembly.Build(edges)
	require.NoError(t, err)
	return &Flattener{Graph: idx, Drops: drops.Build(sources)}
}

func row(material, invader, uber int64, equipment ...int64) domain.FlatRow {
	var r domain.FlatRow
	for i, e := range equipment {
		r.Equipment[i] = domain.ID(e)
	}
	if material != 0 {
		r.MaterialID = domain.ID(material)
	}
	if invader != 0 {
		r.InvaderID = domain.ID(invader)
	}
	if uber != 0 {
		r.UberInvaderID = domain.ID(uber)
	}
	return r
}

func TestFlatten_SwordHiltIron(t *testing.T) {
	f := newFlattener(t, []domain.Edge{sub(1, 2), mat(2, 10)}, domain.DropSource{MaterialID: 10, MonsterID: 100})

	rows, err := f.Flatten(1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row(10, 100, 0, 1, 2), rows[0])
	for i := 2; i < domain.SlotWidth; i++ {
		assert.False(t, rows[0].Equipment[i].Valid, "slot %d", i)
	}
	assert.False(t, rows[0].UberInvaderID.Valid)
}

func TestFlatten_ShieldTwoMaterials(t *testing.T) {
	f := newFlattener(t, []domain.Edge{mat(3, 10), mat(3, 11)})

	rows, err := f.Flatten(3)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{row(10, 0, 0, 3), row(11, 0, 0, 3)}, rows)
	assert.Equal(t, 2, Gaps(rows))
}

func TestFlatten_NoComponents(t *testing.T) {
	f := newFlattener(t, []domain.Edge{{EquipmentID: 7}})

	rows, err := f.Flatten(7)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, row(0, 0, 0, 7), rows[0])
	assert.Equal(t, 1, rows[0].Depth())

	// Unknown equipment behaves the same: nothing to recurse into.
	rows, err = f.Flatten(8)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{row(0, 0, 0, 8)}, rows)
}

func TestFlatten_SharedComponentNotDeduplicated(t *testing.T) {
	// 1 -> {2, 3}, both 2 and 3 -> 4 -> iron(10)
	f := newFlattener(t, []domain.Edge{sub(1, 2), sub(1, 3), sub(2, 4), sub(3, 4), mat(4, 10)})

	rows, err := f.Flatten(1)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{
		row(10, 0, 0, 1, 2, 4),
		row(10, 0, 0, 1, 3, 4),
	}, rows)
}

func TestFlatten_SiblingsDoNotLeak(t *testing.T) {
	// The deep branch must not leave its slots behind for the shallow one.
	f := newFlattener(t, []domain.Edge{sub(1, 2), mat(1, 11), sub(2, 3), mat(3, 10)})

	rows, err := f.Flatten(1)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{
		row(10, 0, 0, 1, 2, 3),
		row(11, 0, 0, 1),
	}, rows)
}

// chainEdges builds 1 -> 2 -> ... -> levels, with material 1000 at the bottom.
func chainEdges(levels int) []domain.Edge {
	var edges []domain.Edge
	for i := 1; i < levels; i++ {
		edges = append(edges, sub(int64(i), int64(i+1)))
	}
	return append(edges, mat(int64(levels), 1000))
}

func TestFlatten_DepthBoundary(t *testing.T) {
	f := newFlattener(t, chainEdges(10))
	rows, err := f.Flatten(1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, 10, rows[0].Depth())
	for i := 0; i < domain.SlotWidth; i++ {
		assert.Equal(t, int64(i+1), rows[0].Equipment[i].Int64)
	}

	f = newFlattener(t, chainEdges(11))
	_, err = f.Flatten(1)
	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonDepth, se.Reason)
	assert.Equal(t, int64(1), se.Root)
	assert.Len(t, se.Path, 11)
}

func TestFlatten_DepthProperty(t *testing.T) {
	for d := 1; d <= domain.SlotWidth; d++ {
		f := newFlattener(t, chainEdges(d))
		rows, err := f.Flatten(1)
		require.NoError(t, err)
		require.Len(t, rows, 1)
		assert.Equal(t, d, rows[0].Depth())
		assert.Equal(t, int64(d), rows[0].Equipment[d-1].Int64)
		assert.Equal(t, int64(1000), rows[0].MaterialID.Int64)
	}
}

func TestFlatten_Cycle(t *testing.T) {
	f := newFlattener(t, []domain.Edge{sub(1, 2), sub(2, 3), sub(3, 2)})
	_, err := f.Flatten(1)

	var se *StructuralError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ReasonCycle, se.Reason)
	assert.Equal(t, []int64{1, 2, 3, 2}, se.Path)
	assert.Contains(t, se.Error(), "1 -> 2 -> 3 -> 2")
}

func TestFlattenAll_StopsOnError(t *testing.T) {
	f := newFlattener(t, []domain.Edge{mat(1, 10), sub(2, 2)})

	rows, err := f.FlattenAll([]int64{1})
	require.NoError(t, err)
	assert.Len(t, rows, 1)

	rows, err = f.FlattenAll([]int64{1, 2})
	assert.Error(t, err)
	assert.Nil(t, rows)
}

type fakeGraph map[int64][]assembly.Child

func (g fakeGraph) Children(id int64) []assembly.Child { return g[id] }

func TestFlatten_NilResolver(t *testing.T) {
	f := &Flattener{Graph: fakeGraph{1: {{MaterialID: sql.NullInt64{Int64: 5, Valid: true}}}}}
	rows, err := f.Flatten(1)
	require.NoError(t, err)
	assert.Equal(t, []domain.FlatRow{row(5, 0, 0, 1)}, rows)
}
