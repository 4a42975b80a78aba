// Package drops resolves which monster supplies a material.
package drops

import (
	"database/sql"

	"github.com/agentic-research/armory/internal/domain"
)

type provenance struct {
	invader sql.NullInt64
	uber    sql.NullInt64
}

// Index answers provenance lookups from an in-memory copy of the
// monster-drop relation restricted to invaders and uber invaders.
type Index struct {
	byMaterial map[int64]provenance
}

// Build indexes sources. When several monsters of one tier drop the same
// material the lowest monster id wins.
func Build(sources []domain.DropSource) *Index {
	idx := &Index{byMaterial: make(map[int64]provenance)}
	for _, s := range sources {
		p := idx.byMaterial[s.MaterialID]
		if s.Uber {
			p.uber = lowest(p.uber, s.MonsterID)
		} else {
			p.invader = lowest(p.invader, s.MonsterID)
		}
		idx.byMaterial[s.MaterialID] = p
	}
	return idx
}

func lowest(cur sql.NullInt64, id int64) sql.NullInt64 {
	if cur.Valid && cur.Int64 <= id {
		return cur
	}
	return domain.ID(id)
}

// Resolve returns both provenance ids for a material. Either or both may be
// null; a material nobody drops is not an error.
func (idx *Index) Resolve(materialID int64) (invader, uber sql.NullInt64) {
	p := idx.byMaterial[materialID]
	return p.invader, p.uber
}

// LookupInvader returns the plain invader dropping materialID.
func (idx *Index) LookupInvader(materialID int64) sql.NullInt64 {
	return idx.byMaterial[materialID].invader
}

// LookupUberInvader returns the uber invader dropping materialID.
func (idx *Index) LookupUberInvader(materialID int64) sql.NullInt64 {
	return idx.byMaterial[materialID].uber
}

// Stats summarizes the index for logging and metrics.
type Stats struct {
	Materials int // materials with at least one source
	Both      int // materials dropped by an invader and an uber invader
}

// Stats counts indexed materials.
func (idx *Index) Stats() Stats {
	var st Stats
	for _, p := range idx.byMaterial {
		st.Materials++
		if p.invader.Valid && p.uber.Valid {
			st.Both++
		}
	}
	return st
}
