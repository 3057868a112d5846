package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"course-credentials/internal/store"
	"course-credentials/internal/telemetry"
	"course-credentials/internal/worker"
)

const asOfLayout = "2006-01-02"

// JobRunner executes the named batch jobs.
type JobRunner interface {
	RunJob(ctx context.Context, job string, asOf time.Time) (any, error)
	RunAll(ctx context.Context, asOf time.Time) (map[string]any, error)
}

// Server wires HTTP handlers for triggering runs and reading issued identifiers.
// A triggered run outlives its request: a client that disconnects does not
// cut the batch short.
type Server struct {
	jobs  JobRunner
	open  worker.StoreOpener
	log   zerolog.Logger
	now   func() time.Time
	runMu sync.Mutex
}

// New constructs the API server.
func New(jobs JobRunner, open worker.StoreOpener, log zerolog.Logger) *Server {
	return &Server{jobs: jobs, open: open, log: log, now: time.Now}
}

// Router builds the HTTP router.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/metrics", telemetry.Handler())

	r.Post("/runs/certificates", s.handleRun(worker.JobCertificates))
	r.Post("/runs/due-dates", s.handleRun(worker.JobDueDates))
	r.Post("/runs/all", s.handleRunAll)
	r.Get("/certificates/{reference}", s.handleLookup)
	return r
}

type runResponse struct {
	Job    string `json:"job,omitempty"`
	Result any    `json:"result"`
	Error  string `json:"error,omitempty"`
}

func (s *Server) handleRun(job string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		asOf, ok := s.asOf(w, r)
		if !ok {
			return
		}
		if !s.runMu.TryLock() {
			http.Error(w, "a run is already in progress", http.StatusConflict)
			return
		}
		defer s.runMu.Unlock()

		res, err := s.jobs.RunJob(context.WithoutCancel(r.Context()), job, asOf)
		resp := runResponse{Job: job, Result: res}
		if err != nil {
			resp.Error = err.Error()
			writeJSON(w, http.StatusInternalServerError, resp)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	asOf, ok := s.asOf(w, r)
	if !ok {
		return
	}
	if !s.runMu.TryLock() {
		http.Error(w, "a run is already in progress", http.StatusConflict)
		return
	}
	defer s.runMu.Unlock()

	res, err := s.jobs.RunAll(context.WithoutCancel(r.Context()), asOf)
	resp := runResponse{Result: res}
	if err != nil {
		resp.Error = err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "reference")
	st, err := s.open(r.Context())
	if err != nil {
		http.Error(w, "identifier store unavailable", http.StatusServiceUnavailable)
		return
	}
	defer st.Close()

	id, err := st.Lookup(r.Context(), ref)
	switch {
	case errors.Is(err, store.ErrNotFound):
		http.Error(w, "certificate not found", http.StatusNotFound)
	case errors.Is(err, store.ErrEmptyReference):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case err != nil:
		http.Error(w, "identifier store unavailable", http.StatusServiceUnavailable)
	default:
		writeJSON(w, http.StatusOK, id)
	}
}

// asOf reads the optional as_of=YYYY-MM-DD query parameter, defaulting to today in UTC.
func (s *Server) asOf(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	raw := r.URL.Query().Get("as_of")
	if raw == "" {
		return s.now().UTC(), true
	}
	t, err := time.Parse(asOfLayout, raw)
	if err != nil {
		http.Error(w, "as_of must be YYYY-MM-DD", http.StatusBadRequest)
		return time.Time{}, false
	}
	return t, true
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		ev := s.log.Info()
		switch {
		case status >= 500:
			ev = s.log.Error()
		case status >= 400:
			ev = s.log.Warn()
		}
		ev.Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Msg("request")
	})
}

func writeJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
