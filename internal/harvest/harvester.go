package harvest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/agentic-research/armory/internal/metrics"
)

// Result is one fetched record.
type Result struct {
	Href   string
	Record json.RawMessage
}

// Stats counts the outcome of a Collect call.
type Stats struct {
	Fetched int64
	Retries int64
	Missing int64 // not found or not JSON
	Failed  int64 // gave up after retries
}

// Harvester fetches records with a bounded pool of workers.
type Harvester struct {
	Fetcher    Fetcher
	Workers    int
	MaxRetries int
	// InitialBackoff is the first retry delay; it doubles per attempt.
	InitialBackoff time.Duration
	Metrics        *metrics.Metrics
	Log            *slog.Logger
}

func (h *Harvester) log() *slog.Logger {
	if h.Log == nil {
		return slog.Default()
	}
	return h.Log
}

// Collect fetches hrefs concurrently and returns the records it got, in
// href order. Transient failures are retried with exponential backoff; a
// record that still fails, or does not exist, is left out. Any other error
// cancels the remaining work and is returned.
func (h *Harvester) Collect(ctx context.Context, hrefs []string) ([]Result, Stats, error) {
	workers := h.Workers
	if workers <= 0 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	var (
		fetched, retries, missing, failed atomic.Int64
		slots                             = make([]json.RawMessage, len(hrefs))
	)

	for i, href := range hrefs {
		g.Go(func() error {
			body, err := h.fetchWithRetry(gctx, href, &retries)
			switch {
			case err == nil:
			case errors.Is(err, ErrNotFound):
				h.log().Debug("record absent", "href", href)
				missing.Add(1)
				return nil
			case IsTransient(err):
				h.log().Warn("giving up on record", "href", href, "error", err)
				failed.Add(1)
				return nil
			default:
				return fmt.Errorf("fetch %s: %w", href, err)
			}
			if !json.Valid(body) {
				h.log().Warn("record is not JSON", "href", href)
				missing.Add(1)
				return nil
			}
			slots[i] = body
			fetched.Add(1)
			return nil
		})
	}
	err := g.Wait()

	st := Stats{Fetched: fetched.Load(), Retries: retries.Load(), Missing: missing.Load(), Failed: failed.Load()}
	if m := h.Metrics; m != nil {
		m.HarvestFetched.Add(float64(st.Fetched))
		m.HarvestRetries.Add(float64(st.Retries))
		m.HarvestFailures.Add(float64(st.Failed))
	}
	if err != nil {
		return nil, st, err
	}

	out := make([]Result, 0, st.Fetched)
	for i, b := range slots {
		if b != nil {
			out = append(out, Result{Href: hrefs[i], Record: b})
		}
	}
	return out, st, nil
}

func (h *Harvester) fetchWithRetry(ctx context.Context, href string, retries *atomic.Int64) ([]byte, error) {
	eb := backoff.NewExponentialBackOff()
	if h.InitialBackoff > 0 {
		eb.InitialInterval = h.InitialBackoff
	}
	op := func() ([]byte, error) {
		b, err := h.Fetcher.Fetch(ctx, href)
		if err != nil && !IsTransient(err) {
			return nil, backoff.Permanent(err)
		}
		return b, err
	}
	return backoff.Retry(ctx, op,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(uint(h.MaxRetries)+1),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			retries.Add(1)
			h.log().Debug("retrying fetch", "href", href, "in", next, "error", err)
		}),
	)
}
