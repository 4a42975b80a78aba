// Package flatten turns the equipment assembly graph into fixed-width rows,
// one per root-to-leaf path, ready for the equipment_materials fact table.
package flatten

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/agentic-research/armory/internal/assembly"
	"github.com/agentic-research/armory/internal/domain"
)

// ChildReader returns the direct components of an equipment.
type ChildReader interface {
	Children(equipmentID int64) []assembly.Child
}

// Resolver returns the drop provenance of a material.
type Resolver interface {
	Resolve(materialID int64) (invader, uber sql.NullInt64)
}

// Reason classifies a StructuralError.
type Reason int

const (
	// ReasonDepth means a chain needs more than domain.SlotWidth slots.
	ReasonDepth Reason = iota + 1
	// ReasonCycle means an equipment appears twice on one chain.
	ReasonCycle
)

func (r Reason) String() string {
	switch r {
	case ReasonDepth:
		return "depth exceeded"
	case ReasonCycle:
		return "cycle"
	default:
		return "unknown"
	}
}

// StructuralError aborts a flattening pass. Path lists equipment ids from
// the root down to the offending node.
type StructuralError struct {
	Reason Reason
	Root   int64
	Path   []int64
}

func (e *StructuralError) Error() string {
	parts := make([]string, len(e.Path))
	for i, id := range e.Path {
		parts[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("assembly of equipment %d: %s at %s (limit %d slots)",
		e.Root, e.Reason, strings.Join(parts, " -> "), domain.SlotWidth)
}

// Flattener walks the assembly graph depth-first.
type Flattener struct {
	Graph ChildReader
	Drops Resolver
}

// slots is copied on every recursive call so sibling branches never share
// state.
type slots [domain.SlotWidth]sql.NullInt64

// Flatten returns every path below root. Equipment without components
// yields one row with a null material.
func (f *Flattener) Flatten(root int64) ([]domain.FlatRow, error) {
	var rows []domain.FlatRow
	if err := f.walk(root, root, slots{}, 0, &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

// FlattenAll flattens each root in order and stops at the first error.
func (f *Flattener) FlattenAll(roots []int64) ([]domain.FlatRow, error) {
	var rows []domain.FlatRow
	for _, r := range roots {
		if err := f.walk(r, r, slots{}, 0, &rows); err != nil {
			return nil, err
		}
	}
	return rows, nil
}

func (f *Flattener) walk(root, id int64, path slots, depth int, out *[]domain.FlatRow) error {
	if depth >= domain.SlotWidth {
		return &StructuralError{Reason: ReasonDepth, Root: root, Path: append(chain(path, depth), id)}
	}
	for i := 0; i < depth; i++ {
		if path[i].Int64 == id {
			return &StructuralError{Reason: ReasonCycle, Root: root, Path: append(chain(path, depth), id)}
		}
	}
	path[depth] = domain.ID(id)

	kids := f.Graph.Children(id)
	if len(kids) == 0 {
		*out = append(*out, domain.FlatRow{Equipment: path})
		return nil
	}
	for _, c := range kids {
		if !c.IsLeaf() {
			if err := f.walk(root, c.SubequipmentID.Int64, path, depth+1, out); err != nil {
				return err
			}
			continue
		}
		row := domain.FlatRow{Equipment: path, MaterialID: c.MaterialID}
		if c.MaterialID.Valid && f.Drops != nil {
			row.InvaderID, row.UberInvaderID = f.Drops.Resolve(c.MaterialID.Int64)
		}
		*out = append(*out, row)
	}
	return nil
}

func chain(path slots, depth int) []int64 {
	ids := make([]int64, 0, depth+1)
	for i := 0; i < depth; i++ {
		ids = append(ids, path[i].Int64)
	}
	return ids
}

// Gaps counts rows whose material has no drop provenance.
func Gaps(rows []domain.FlatRow) int {
	n := 0
	for _, r := range rows {
		if r.MaterialID.Valid && !r.InvaderID.Valid && !r.UberInvaderID.Valid {
			n++
		}
	}
	return n
}
