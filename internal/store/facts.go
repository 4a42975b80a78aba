package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/agentic-research/armory/internal/domain"
)

const (
	assemblyBridge = "equipment_material_subequipment"
	dropBridge     = "monster_drop"
	factTable      = "equipment_materials"
	boostTable     = "equipment_boosts"
	runTable       = "rebuild_run"
)

// Edges returns the whole assembly relation in a stable order.
func (s *Store) Edges(ctx context.Context) ([]domain.Edge, error) {
	if err := s.requireTable(assemblyBridge); err != nil {
		return nil, err
	}
	q := fmt.Sprintf(`SELECT equipment_id, material_id, subequipment_id FROM %s
		ORDER BY equipment_id, COALESCE(subequipment_id, 0), COALESCE(material_id, 0)`, s.d.quote(assemblyBridge))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read edges: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var edges []domain.Edge
	for rows.Next() {
		var e domain.Edge
		if err := rows.Scan(&e.EquipmentID, &e.MaterialID, &e.SubequipmentID); err != nil {
			return nil, fmt.Errorf("scan edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// EquipmentIDs lists every equipment id in ascending order; each is a root
// of the flattening pass.
func (s *Store) EquipmentIDs(ctx context.Context) ([]int64, error) {
	if err := s.requireTable("equipment"); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT equipment_id FROM "equipment" ORDER BY equipment_id`)
	if err != nil {
		return nil, fmt.Errorf("read equipment ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan equipment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DropSources joins the monster-drop bridge against the plain and uber
// invader views.
func (s *Store) DropSources(ctx context.Context) ([]domain.DropSource, error) {
	if err := s.requireTable(dropBridge); err != nil {
		return nil, err
	}
	for _, v := range []string{"invader", "uber_invader"} {
		if err := s.requireView(v); err != nil {
			return nil, err
		}
	}
	q := fmt.Sprintf(`
		SELECT md.drop_id, md.monster_id, 0 FROM %[1]s md
			JOIN %[2]s i ON i.invader_id = md.monster_id
		UNION ALL
		SELECT md.drop_id, md.monster_id, 1 FROM %[1]s md
			JOIN %[3]s u ON u.uber_invader_id = md.monster_id
		ORDER BY 1, 2`,
		s.d.quote(dropBridge), s.d.quote("invader"), s.d.quote("uber_invader"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read drop sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.DropSource
	for rows.Next() {
		var (
			src  domain.DropSource
			uber int64
		)
		if err := rows.Scan(&src.MaterialID, &src.MonsterID, &uber); err != nil {
			return nil, fmt.Errorf("scan drop source: %w", err)
		}
		src.Uber = uber == 1
		out = append(out, src)
	}
	return out, rows.Err()
}

// ReplaceFacts swaps the fact table contents in one transaction. On error the
// previous contents stay in place.
func (s *Store) ReplaceFacts(ctx context.Context, facts []domain.FlatRow) error {
	if err := s.requireTable(factTable); err != nil {
		return err
	}
	columns := make([]string, 0, domain.SlotWidth+3)
	for i := 0; i < domain.SlotWidth; i++ {
		columns = append(columns, fmt.Sprintf("equipment_%d_id", i))
	}
	columns = append(columns, "material_id", "invader_id", "uber_invader_id")

	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.d.quote(factTable)); err != nil {
			return fmt.Errorf("clear facts: %w", err)
		}
		w := s.newRowWriter(tx, factTable, columns)
		for _, r := range facts {
			vals := make([]any, 0, len(columns))
			for _, e := range r.Equipment {
				vals = append(vals, e)
			}
			vals = append(vals, r.MaterialID, r.InvaderID, r.UberInvaderID)
			if err := w.Add(ctx, vals...); err != nil {
				return fmt.Errorf("write facts: %w", err)
			}
		}
		return w.Flush(ctx)
	})
}

// Facts reads the fact table back in insertion-independent order.
func (s *Store) Facts(ctx context.Context) ([]domain.FlatRow, error) {
	if err := s.requireTable(factTable); err != nil {
		return nil, err
	}
	q := `SELECT equipment_0_id, equipment_1_id, equipment_2_id, equipment_3_id, equipment_4_id,
		equipment_5_id, equipment_6_id, equipment_7_id, equipment_8_id, equipment_9_id,
		material_id, invader_id, uber_invader_id FROM ` + s.d.quote(factTable) + `
		ORDER BY equipment_0_id, COALESCE(equipment_1_id, 0), COALESCE(equipment_2_id, 0),
		COALESCE(equipment_3_id, 0), COALESCE(equipment_4_id, 0), COALESCE(equipment_5_id, 0),
		COALESCE(equipment_6_id, 0), COALESCE(equipment_7_id, 0), COALESCE(equipment_8_id, 0),
		COALESCE(equipment_9_id, 0), COALESCE(material_id, 0)`
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("read facts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []domain.FlatRow
	for rows.Next() {
		var r domain.FlatRow
		dest := make([]any, 0, domain.SlotWidth+3)
		for i := range r.Equipment {
			dest = append(dest, &r.Equipment[i])
		}
		dest = append(dest, &r.MaterialID, &r.InvaderID, &r.UberInvaderID)
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan fact: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ReplaceBoosts swaps the canonical boost rows in one transaction.
func (s *Store) ReplaceBoosts(ctx context.Context, boosts []domain.EquipmentBoost) error {
	if err := s.requireTable(boostTable); err != nil {
		return err
	}
	columns := []string{"equipment_id", "boost_id"}
	for i := 1; i <= domain.BoostLevels; i++ {
		columns = append(columns, fmt.Sprintf("level_%d", i))
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+s.d.quote(boostTable)); err != nil {
			return fmt.Errorf("clear boosts: %w", err)
		}
		w := s.newRowWriter(tx, boostTable, columns)
		for _, b := range boosts {
			vals := []any{b.EquipmentID, b.BoostID}
			for _, l := range b.Levels {
				vals = append(vals, l)
			}
			if err := w.Add(ctx, vals...); err != nil {
				return fmt.Errorf("write boosts: %w", err)
			}
		}
		return w.Flush(ctx)
	})
}

// Run statuses recorded in rebuild_run.
const (
	RunRunning   = "running"
	RunCompleted = "completed"
	RunFailed    = "failed"
)

// Run is one row of rebuild_run.
type Run struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at,omitzero"`
	Status     string    `json:"status"`
	FactRows   int64     `json:"fact_rows"`
	Detail     string    `json:"detail,omitempty"`
}

// runTimeLayout is fixed-width so that timestamps sort as text.
const runTimeLayout = "2006-01-02T15:04:05.000000000Z"

// ErrNoRuns is returned by LastRun on a store that was never rebuilt.
var ErrNoRuns = errors.New("no rebuild recorded")

// BeginRun records the start of a rebuild pass.
func (s *Store) BeginRun(ctx context.Context, id string, started time.Time) error {
	if err := s.requireTable(runTable); err != nil {
		return err
	}
	q := s.d.rebind(`INSERT INTO "rebuild_run" (run_id, started_at, status) VALUES (?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, q, id, started.UTC().Format(runTimeLayout), RunRunning); err != nil {
		return fmt.Errorf("begin run: %w", err)
	}
	return nil
}

// FinishRun records the outcome of a rebuild pass.
func (s *Store) FinishRun(ctx context.Context, id, status string, factRows int, detail string) error {
	if err := s.requireTable(runTable); err != nil {
		return err
	}
	q := s.d.rebind(`UPDATE "rebuild_run" SET finished_at = ?, status = ?, fact_rows = ?, detail = ? WHERE run_id = ?`)
	res, err := s.db.ExecContext(ctx, q, time.Now().UTC().Format(runTimeLayout), status, factRows, nullString(detail), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("finish run: unknown run %s", id)
	}
	return nil
}

// LastRun returns the most recently started rebuild.
func (s *Store) LastRun(ctx context.Context) (Run, error) {
	if err := s.requireTable(runTable); err != nil {
		return Run{}, err
	}
	var (
		r                 Run
		started, finished sql.NullString
		rows              sql.NullInt64
		detail            sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `SELECT run_id, started_at, finished_at, status, fact_rows, detail
		FROM "rebuild_run" ORDER BY started_at DESC LIMIT 1`).
		Scan(&r.ID, &started, &finished, &r.Status, &rows, &detail)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, ErrNoRuns
	}
	if err != nil {
		return Run{}, fmt.Errorf("last run: %w", err)
	}
	r.StartedAt, _ = time.Parse(runTimeLayout, started.String)
	if finished.Valid {
		r.FinishedAt, _ = time.Parse(runTimeLayout, finished.String)
	}
	r.FactRows = rows.Int64
	r.Detail = detail.String
	return r, nil
}
