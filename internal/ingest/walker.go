package ingest

import (
	"fmt"

	"github.com/ohler55/ojg/jp"
)

// Kind is the record discriminator written by the harvester.
type Kind string

const (
	KindDrop        Kind = "drop"
	KindMonster     Kind = "monster"
	KindEquipment   Kind = "equipment"
	KindBoost       Kind = "boost"
	KindBoostLevels Kind = "boost_levels"
)

// Kinds lists every record kind in load order.
var Kinds = []Kind{KindDrop, KindMonster, KindEquipment, KindBoost, KindBoostLevels}

// Walker selects records of one kind out of a decoded JSON array.
type Walker struct {
	selectors map[Kind]jp.Expr
}

// NewWalker compiles one JSONPath filter per kind.
func NewWalker() (*Walker, error) {
	w := &Walker{selectors: make(map[Kind]jp.Expr, len(Kinds))}
	for _, k := range Kinds {
		sel := fmt.Sprintf("$[?(@.kind == '%s')]", k)
		x, err := jp.ParseString(sel)
		if err != nil {
			return nil, fmt.Errorf("invalid jsonpath '%s': %w", sel, err)
		}
		w.selectors[k] = x
	}
	return w, nil
}

// Select returns the objects of the given kind. root must be a []any; a
// single record is wrapped by the caller.
func (w *Walker) Select(root any, kind Kind) []map[string]any {
	x, ok := w.selectors[kind]
	if !ok {
		return nil
	}
	var out []map[string]any
	for _, r := range x.Get(root) {
		if m, ok := r.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}
