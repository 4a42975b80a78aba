package drops

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentic-research/armory/internal/domain"
)

func TestResolve(t *testing.T) {
	idx := Build([]domain.DropSource{
		{MaterialID: 10, MonsterID: 101},
		{MaterialID: 10, MonsterID: 100},
		{MaterialID: 11, MonsterID: 300, Uber: true},
		{MaterialID: 12, MonsterID: 102},
		{MaterialID: 12, MonsterID: 301, Uber: true},
	})

	inv, uber := idx.Resolve(10)
	assert.Equal(t, domain.ID(100), inv, "lowest monster id wins")
	assert.False(t, uber.Valid)

	inv, uber = idx.Resolve(11)
	assert.False(t, inv.Valid)
	assert.Equal(t, domain.ID(300), uber)

	inv, uber = idx.Resolve(12)
	assert.Equal(t, domain.ID(102), inv)
	assert.Equal(t, domain.ID(301), uber)

	inv, uber = idx.Resolve(99)
	assert.False(t, inv.Valid)
	assert.False(t, uber.Valid)

	assert.Equal(t, domain.ID(100), idx.LookupInvader(10))
	assert.Equal(t, domain.ID(301), idx.LookupUberInvader(12))
	assert.False(t, idx.LookupUberInvader(10).Valid)

	assert.Equal(t, Stats{Materials: 3, Both: 1}, idx.Stats())
}
