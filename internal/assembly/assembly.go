// Package assembly holds the equipment assembly relation in memory.
//
// The relation is loaded once from the store and indexed by equipment id so
// the flattener never issues a query per node. Equipment ids are mapped to
// dense uint32 slots; children live in one arena slice addressed by slot.
package assembly

import (
	"database/sql"
	"fmt"
	"slices"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/armory/internal/domain"
)

// Child is one direct component of an equipment: a material leaf or a
// sub-equipment to recurse into.
type Child struct {
	MaterialID     sql.NullInt64
	SubequipmentID sql.NullInt64
}

// IsLeaf reports whether the child terminates the chain.
func (c Child) IsLeaf() bool {
	return !c.SubequipmentID.Valid
}

// Index is the adjacency relation, equipment id -> children.
type Index struct {
	slot     map[int64]uint32 // equipment id -> arena slot
	ids      []int64          // arena slot -> equipment id
	children [][]Child        // arena slot -> children in edge order
	edges    int
}

// Build indexes edges. Edges with both a material and a sub-equipment are
// rejected. Edges with neither mark equipment that has no components.
func Build(edges []domain.Edge) (*Index, error) {
	idx := &Index{slot: make(map[int64]uint32)}
	for i, e := range edges {
		if e.MaterialID.Valid && e.SubequipmentID.Valid {
			return nil, fmt.Errorf("edge %d: equipment %d has both material %d and sub-equipment %d",
				i, e.EquipmentID, e.MaterialID.Int64, e.SubequipmentID.Int64)
		}
		s := idx.intern(e.EquipmentID)
		if !e.MaterialID.Valid && !e.SubequipmentID.Valid {
			continue
		}
		idx.children[s] = append(idx.children[s], Child{MaterialID: e.MaterialID, SubequipmentID: e.SubequipmentID})
		idx.edges++
		if e.SubequipmentID.Valid {
			idx.intern(e.SubequipmentID.Int64)
		}
	}
	return idx, nil
}

func (idx *Index) intern(id int64) uint32 {
	if s, ok := idx.slot[id]; ok {
		return s
	}
	s := uint32(len(idx.ids))
	idx.slot[id] = s
	idx.ids = append(idx.ids, id)
	idx.children = append(idx.children, nil)
	return s
}

// Children returns the direct components of id, or nil if it has none.
// The returned slice must not be modified.
func (idx *Index) Children(id int64) []Child {
	s, ok := idx.slot[id]
	if !ok {
		return nil
	}
	return idx.children[s]
}

// Len is the number of indexed edges.
func (idx *Index) Len() int { return idx.edges }

// Roots returns the given equipment ids that are not a sub-equipment of any
// other equipment, preserving order.
func (idx *Index) Roots(ids []int64) []int64 {
	used := roaring.New()
	for _, kids := range idx.children {
		for _, c := range kids {
			if c.SubequipmentID.Valid {
				used.Add(idx.slot[c.SubequipmentID.Int64])
			}
		}
	}
	var roots []int64
	for _, id := range ids {
		if s, ok := idx.slot[id]; ok && used.Contains(s) {
			continue
		}
		roots = append(roots, id)
	}
	return roots
}

// DetectCycle walks the whole graph depth-first and returns the first cycle
// found as a closed path (first and last element equal).
func (idx *Index) DetectCycle() ([]int64, bool) {
	onStack := roaring.New()
	done := roaring.New()

	type frame struct {
		slot uint32
		next int
	}

	for start := range idx.ids {
		if done.Contains(uint32(start)) {
			continue
		}
		stack := []frame{{slot: uint32(start)}}
		onStack.Add(uint32(start))

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := idx.children[top.slot]
			if top.next == len(kids) {
				onStack.Remove(top.slot)
				done.Add(top.slot)
				stack = stack[:len(stack)-1]
				continue
			}
			c := kids[top.next]
			top.next++
			if !c.SubequipmentID.Valid {
				continue
			}
			s := idx.slot[c.SubequipmentID.Int64]
			switch {
			case onStack.Contains(s):
				path := []int64{idx.ids[s]}
				i := len(stack) - 1
				for stack[i].slot != s {
					i--
				}
				for _, f := range stack[i+1:] {
					path = append(path, idx.ids[f.slot])
				}
				return append(path, idx.ids[s]), true
			case done.Contains(s):
			default:
				onStack.Add(s)
				stack = append(stack, frame{slot: s})
			}
		}
	}
	return nil, false
}

// IDs returns every equipment id seen in the relation, ascending.
func (idx *Index) IDs() []int64 {
	out := slices.Clone(idx.ids)
	slices.Sort(out)
	return out
}
