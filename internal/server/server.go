// Package server exposes the report queries over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/text/language"

	"github.com/agentic-research/armory/internal/domain"
	"github.com/agentic-research/armory/internal/metrics"
	"github.com/agentic-research/armory/internal/report"
	"github.com/agentic-research/armory/internal/store"
)

// Runs reads the rebuild log.
type Runs interface {
	LastRun(ctx context.Context) (store.Run, error)
}

// Server routes report requests to a Reporter.
type Server struct {
	reporter *report.Reporter
	runs     Runs
	metrics  *metrics.Metrics
	log      *slog.Logger

	locales []domain.Locale
	matcher language.Matcher
}

// New builds a server. locales are the schema locales, in preference order
// for Accept-Language matching. m and log may be nil.
func New(r *report.Reporter, runs Runs, locales []domain.Locale, m *metrics.Metrics, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	tags := make([]language.Tag, 0, len(locales)+1)
	// The matcher falls back to its first tag, so lead with the default.
	tags = append(tags, language.Make(string(r.Locale)))
	for _, loc := range locales {
		tags = append(tags, language.Make(string(loc)))
	}
	return &Server{
		reporter: r,
		runs:     runs,
		metrics:  m,
		log:      log,
		locales:  append([]domain.Locale{r.Locale}, locales...),
		matcher:  language.NewMatcher(tags),
	}
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.observe)

	r.Get("/healthz", s.handleHealthz)
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.Get("/materials", s.handleMaterials)
	r.Route("/sets/{name}", func(r chi.Router) {
		r.Get("/", s.handleSet((*report.Reporter).Set))
		r.Get("/materials", s.handleSet((*report.Reporter).SetMaterials))
		r.Get("/summary", s.handleSet((*report.Reporter).SetSummary))
	})
	return r
}

// ListenAndServe serves on addr until ctx is done, then drains in-flight
// requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.log.Info("serving reports", "addr", addr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) observe(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		if s.metrics != nil {
			s.metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		}
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"route", route,
			"status", status,
			"request_id", middleware.GetReqID(r.Context()),
			"duration", time.Since(start))
	})
}

type health struct {
	Status  string     `json:"status"`
	LastRun *store.Run `json:"last_run,omitempty"`
}

// handleHealthz reports ok when the last rebuild completed; a store that was
// never rebuilt or whose last pass failed or is running is degraded.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h := health{Status: "degraded"}
	if s.runs != nil {
		run, err := s.runs.LastRun(r.Context())
		switch {
		case err == nil:
			h.LastRun = &run
			if run.Status == store.RunCompleted {
				h.Status = "ok"
			}
		case errors.Is(err, store.ErrNoRuns):
		default:
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, h)
}

func (s *Server) handleMaterials(w http.ResponseWriter, r *http.Request) {
	rep, err := s.reporterFor(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	names, err := rep.Materials(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if names == nil {
		names = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locale": rep.Locale, "materials": names})
}

type setQuery func(rep *report.Reporter, ctx context.Context, name string) (*report.Table, error)

func (s *Server) handleSet(query setQuery) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rep, err := s.reporterFor(r)
		if err != nil {
			s.writeError(w, err)
			return
		}
		name := chi.URLParam(r, "name")
		t, err := query(rep, r.Context(), name)
		if err != nil {
			s.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"locale": rep.Locale, "set": name, "columns": t.Columns, "rows": t.Rows})
	}
}

// reporterFor picks the locale from ?locale=, then Accept-Language, then
// the reporter default.
func (s *Server) reporterFor(r *http.Request) (*report.Reporter, error) {
	if q := r.URL.Query().Get("locale"); q != "" {
		loc, err := domain.ParseLocale(q)
		if err != nil {
			return nil, errBadRequest{err}
		}
		return s.reporter.In(loc)
	}
	if h := r.Header.Get("Accept-Language"); h != "" {
		tags, _, err := language.ParseAcceptLanguage(h)
		if err == nil && len(tags) > 0 {
			_, idx, conf := s.matcher.Match(tags...)
			if conf != language.No {
				return s.reporter.In(s.locales[idx])
			}
		}
	}
	return s.reporter, nil
}

type errBadRequest struct{ err error }

func (e errBadRequest) Error() string { return e.err.Error() }
func (e errBadRequest) Unwrap() error { return e.err }

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var bad errBadRequest
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, report.ErrUnknownSet):
		status = http.StatusNotFound
	case errors.Is(err, report.ErrUnknownLocale), errors.As(err, &bad):
		status = http.StatusBadRequest
	default:
		s.log.Error("report query failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
