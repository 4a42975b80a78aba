// Package rebuild runs one full maintenance pass: reprovision the schema,
// load harvested records, check boost extractions, flatten the assembly
// graph and replace the fact tables.
//
// Passes are serialized with a file lock. The store is not transactional
// across a pass, so each pass is recorded in rebuild_run and readers should
// trust the fact table only when the last run completed.
package rebuild

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/agentic-research/armory/internal/assembly"
	"github.com/agentic-research/armory/internal/consistency"
	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/drops"
	"github.com/agentic-research/armory/internal/flatten"
	"github.com/agentic-research/armory/internal/ingest"
	"github.com/agentic-research/armory/internal/lock"
	"github.com/agentic-research/armory/internal/logging"
	"github.com/agentic-research/armory/internal/metrics"
	"github.com/agentic-research/armory/internal/store"
)

// ErrLocked is returned when another pass holds the rebuild lock.
var ErrLocked = lock.ErrLocked

// Rebuilder owns the dependencies of a pass.
type Rebuilder struct {
	Store    *store.Store
	LockPath string
	Metrics  *metrics.Metrics
	Log      *slog.Logger
}

// Result summarizes a completed pass.
type Result struct {
	RunID    string
	Ingest   ingest.Stats
	Boosts   int
	Facts    int
	Gaps     int
	Duration time.Duration
}

// Run executes a pass over recs. Structural and consistency errors abort it
// and mark the run failed. The pass reprovisions before it can fail, so the
// previous facts are gone by then: a failed run leaves the fact tables empty
// or partly loaded, and LastRun reports them as untrustworthy.
func (r *Rebuilder) Run(ctx context.Context, recs *ingest.Records) (*Result, error) {
	log := r.Log
	if log == nil {
		log = slog.Default()
	}
	start := time.Now()
	runID := uuid.NewString()
	log = log.With("run", runID)

	l, err := lock.Acquire(r.LockPath, runID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := l.Release(); err != nil {
			log.Warn("release rebuild lock", "error", err)
		}
	}()

	if err := r.Store.EnsurePersistent(ctx); err != nil {
		return nil, err
	}
	if err := r.Store.BeginRun(ctx, runID, start); err != nil {
		return nil, err
	}
	res, err := r.pass(ctx, log, recs)
	status, detail := store.RunCompleted, ""
	if err != nil {
		status, detail = store.RunFailed, err.Error()
	}
	facts := 0
	if res != nil {
		facts = res.Facts
	}
	// Record the outcome even if the caller's context is already done.
	if ferr := r.Store.FinishRun(context.WithoutCancel(ctx), runID, status, facts, detail); ferr != nil {
		log.Error("record run outcome", "error", ferr)
		if err == nil {
			err = ferr
		}
	}

	if m := r.Metrics; m != nil {
		m.RebuildRuns.WithLabelValues(status).Inc()
		m.RebuildDuration.Observe(time.Since(start).Seconds())
	}
	if err != nil {
		log.Error("rebuild failed", "error", err)
		return nil, err
	}
	res.RunID = runID
	res.Duration = time.Since(start)
	logging.Timed(log, "rebuild completed", start, "facts", res.Facts, "boosts", res.Boosts, "drop_gaps", res.Gaps)
	return res, nil
}

func (r *Rebuilder) pass(ctx context.Context, log *slog.Logger, recs *ingest.Records) (*Result, error) {
	res := &Result{}

	t := time.Now()
	if err := r.Store.Provision(ctx); err != nil {
		return nil, err
	}
	logging.Timed(log, "provisioned schema", t)

	if r.Metrics != nil {
		r.Metrics.RecordsSkipped.Add(float64(recs.Skipped))
	}
	t = time.Now()
	snap, err := ingest.NewEngine(r.Store, log).Load(ctx, recs)
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	res.Ingest = snap.Stats
	logging.Timed(log, "loaded dimensions and bridges", t)

	t = time.Now()
	boosts, err := consistency.Check(r.Store.Locales(), recs.ByLocale(), snap, log)
	if err != nil {
		var ce *consistency.ConsistencyError
		if errors.As(err, &ce) {
			if r.Metrics != nil {
				r.Metrics.ConsistencyMismatches.Add(float64(len(ce.Mismatches)))
			}
			log.Error("boost extractions disagree", "report", ce.Report())
		}
		return nil, err
	}
	if err := r.Store.ReplaceBoosts(ctx, boosts); err != nil {
		return nil, err
	}
	res.Boosts = len(boosts)
	logging.Timed(log, "checked and stored boosts", t, "rows", len(boosts))

	t = time.Now()
	rows, err := r.flatten(ctx, log)
	if err != nil {
		return nil, err
	}
	if err := r.Store.ReplaceFacts(ctx, rows); err != nil {
		return nil, err
	}
	res.Facts = len(rows)
	res.Gaps = flatten.Gaps(rows)
	if r.Metrics != nil {
		r.Metrics.RowsFlattened.Set(float64(res.Facts))
		r.Metrics.DropGaps.Set(float64(res.Gaps))
	}
	logging.Timed(log, "flattened assembly graph", t, "rows", res.Facts)
	return res, nil
}

func (r *Rebuilder) flatten(ctx context.Context, log *slog.Logger) ([]domain.FlatRow, error) {
	edges, err := r.Store.Edges(ctx)
	if err != nil {
		return nil, err
	}
	graph, err := assembly.Build(edges)
	if err != nil {
		return nil, err
	}
	if cycle, found := graph.DetectCycle(); found {
		return nil, &flatten.StructuralError{Reason: flatten.ReasonCycle, Root: cycle[0], Path: cycle}
	}

	sources, err := r.Store.DropSources(ctx)
	if err != nil {
		return nil, err
	}
	provenance := drops.Build(sources)
	if st := provenance.Stats(); st.Both > 0 {
		log.Warn("materials dropped by both an invader and an uber invader", "count", st.Both)
		if r.Metrics != nil {
			r.Metrics.DualProvenance.Set(float64(st.Both))
		}
	}

	roots, err := r.Store.EquipmentIDs(ctx)
	if err != nil {
		return nil, err
	}
	log.Debug("flattening", "equipment", len(roots), "top_level", len(graph.Roots(roots)), "edges", graph.Len())
	f := &flatten.Flattener{Graph: graph, Drops: provenance}
	return f.FlattenAll(roots)
}
