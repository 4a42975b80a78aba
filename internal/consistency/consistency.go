// Package consistency cross-checks per-locale boost extractions.
//
// Every locale's equipment page prints the same boosts under translated
// names. Names are mapped to boost ids and levels are parsed into numbers;
// only when every locale then yields the same row set is it accepted.
package consistency

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/agentic-research/armory/internal/domain"
)

// Canonicalizer maps locale-specific keys to stable ids.
type Canonicalizer interface {
	Equipment(href string) (int64, bool)
	Boost(locale domain.Locale, name string) (int64, bool)
}

// Unresolved is a key that could not be mapped to an id.
type Unresolved struct {
	Locale        domain.Locale
	EquipmentHref string
	Boost         string // empty when the equipment itself is unknown
	Reason        string
}

func (u Unresolved) String() string {
	if u.Boost == "" {
		return fmt.Sprintf("%s: equipment %s: %s", u.Locale, u.EquipmentHref, u.Reason)
	}
	return fmt.Sprintf("%s: equipment %s boost %q: %s", u.Locale, u.EquipmentHref, u.Boost, u.Reason)
}

// Set is a canonicalized extraction.
type Set map[key]domain.EquipmentBoost

type key struct {
	equipment int64
	boost     int64
}

// Rows returns the set sorted by equipment id, then boost id.
func (s Set) Rows() []domain.EquipmentBoost {
	rows := make([]domain.EquipmentBoost, 0, len(s))
	for _, r := range s {
		rows = append(rows, r)
	}
	sortRows(rows)
	return rows
}

func sortRows(rows []domain.EquipmentBoost) {
	slices.SortFunc(rows, func(a, b domain.EquipmentBoost) int {
		if c := cmp.Compare(a.EquipmentID, b.EquipmentID); c != 0 {
			return c
		}
		if c := cmp.Compare(a.BoostID, b.BoostID); c != 0 {
			return c
		}
		return slices.Compare(a.Levels[:], b.Levels[:])
	})
}

// Canonicalize translates one locale's extractions into ids and numbers.
// Entries that cannot be translated are returned separately, as are repeats
// of an (equipment, boost) pair whose levels differ from the first one seen.
func Canonicalize(exts []domain.BoostExtraction, canon Canonicalizer) (Set, []Unresolved) {
	set := make(Set)
	var bad []Unresolved
	for _, ext := range exts {
		eq, ok := canon.Equipment(ext.EquipmentHref)
		if !ok {
			bad = append(bad, Unresolved{Locale: ext.Locale, EquipmentHref: ext.EquipmentHref, Reason: "unknown equipment"})
			continue
		}
		for _, e := range ext.Entries {
			b, ok := canon.Boost(ext.Locale, e.Name)
			if !ok {
				bad = append(bad, Unresolved{Locale: ext.Locale, EquipmentHref: ext.EquipmentHref, Boost: e.Name, Reason: "unknown boost name"})
				continue
			}
			row := domain.EquipmentBoost{EquipmentID: eq, BoostID: b}
			var perr error
			for i, raw := range e.Levels {
				if row.Levels[i], perr = ParseLevel(raw); perr != nil {
					break
				}
			}
			if perr != nil {
				bad = append(bad, Unresolved{Locale: ext.Locale, EquipmentHref: ext.EquipmentHref, Boost: e.Name, Reason: perr.Error()})
				continue
			}
			k := key{eq, b}
			if prev, dup := set[k]; dup && prev != row {
				bad = append(bad, Unresolved{Locale: ext.Locale, EquipmentHref: ext.EquipmentHref, Boost: e.Name,
					Reason: fmt.Sprintf("conflicting duplicate: %s", formatRow(prev))})
				continue
			}
			set[k] = row
		}
	}
	return set, bad
}

// ParseLevel reads a printed level value such as "12", "+7,5 %" or "".
// An empty value is zero.
func ParseLevel(raw string) (float64, error) {
	s := strings.Map(func(r rune) rune {
		switch r {
		case '%', ' ', '\u00a0', '\u202f', '+':
			return -1
		case ',':
			return '.'
		}
		return r
	}, raw)
	if s == "" || s == "-" {
		return 0, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("level %q is not a number", raw)
	}
	return v, nil
}

// Mismatch is the two-sided difference between the reference locale and
// one other locale.
type Mismatch struct {
	Reference domain.Locale
	Locale    domain.Locale
	Missing   []domain.EquipmentBoost // in reference, not in Locale
	Extra     []domain.EquipmentBoost // in Locale, not in reference
}

// ConsistencyError rejects a set of extractions.
type ConsistencyError struct {
	Mismatches []Mismatch
	Unresolved []Unresolved
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("boost extractions disagree: %d locale mismatches, %d unresolved names",
		len(e.Mismatches), len(e.Unresolved))
}

// Report renders every differing row from both sides.
func (e *ConsistencyError) Report() string {
	var b strings.Builder
	for _, m := range e.Mismatches {
		fmt.Fprintf(&b, "%s vs %s:\n", m.Reference, m.Locale)
		for _, r := range m.Missing {
			fmt.Fprintf(&b, "  only in %s: %s\n", m.Reference, formatRow(r))
		}
		for _, r := range m.Extra {
			fmt.Fprintf(&b, "  only in %s: %s\n", m.Locale, formatRow(r))
		}
	}
	if len(e.Unresolved) > 0 {
		b.WriteString("unresolved:\n")
		for _, u := range e.Unresolved {
			fmt.Fprintf(&b, "  %s\n", u)
		}
	}
	return b.String()
}

func formatRow(r domain.EquipmentBoost) string {
	levels := make([]string, len(r.Levels))
	for i, l := range r.Levels {
		levels[i] = strconv.FormatFloat(l, 'f', -1, 64)
	}
	return fmt.Sprintf("equipment=%d boost=%d levels=[%s]", r.EquipmentID, r.BoostID, strings.Join(levels, " "))
}

// Check canonicalizes every locale and requires them all to agree with the
// first locale in order that has data. Locales without extractions are
// skipped: a failed fetch is absent data, not disagreement. A nil log
// falls back to slog.Default.
func Check(order []domain.Locale, per map[domain.Locale][]domain.BoostExtraction, canon Canonicalizer, log *slog.Logger) ([]domain.EquipmentBoost, error) {
	if log == nil {
		log = slog.Default()
	}
	var (
		ref     Set
		refLoc  domain.Locale
		errs    ConsistencyError
		checked int
	)
	for _, loc := range order {
		exts := per[loc]
		if len(exts) == 0 {
			log.Warn("no boost extractions for locale; skipping", "locale", loc)
			continue
		}
		set, bad := Canonicalize(exts, canon)
		errs.Unresolved = append(errs.Unresolved, bad...)
		checked++
		if ref == nil {
			ref, refLoc = set, loc
			continue
		}
		if m, ok := diff(refLoc, ref, loc, set); !ok {
			errs.Mismatches = append(errs.Mismatches, m)
		}
	}
	if len(errs.Mismatches) > 0 || len(errs.Unresolved) > 0 {
		return nil, &errs
	}
	log.Debug("boost extractions agree", "reference", refLoc, "locales", checked, "rows", len(ref))
	return ref.Rows(), nil
}

func diff(refLoc domain.Locale, ref Set, loc domain.Locale, other Set) (Mismatch, bool) {
	m := Mismatch{Reference: refLoc, Locale: loc}
	for k, r := range ref {
		if o, ok := other[k]; !ok || o != r {
			m.Missing = append(m.Missing, r)
		}
	}
	for k, o := range other {
		if r, ok := ref[k]; !ok || o != r {
			m.Extra = append(m.Extra, o)
		}
	}
	if len(m.Missing) == 0 && len(m.Extra) == 0 {
		return Mismatch{}, true
	}
	sortRows(m.Missing)
	sortRows(m.Extra)
	return m, false
}
