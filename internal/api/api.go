// Package api exposes the job control surface over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/withObsrvr/outline-importer/internal/checkpoint"
	"github.com/withObsrvr/outline-importer/internal/jobs"
	"github.com/withObsrvr/outline-importer/internal/logging"
	"github.com/withObsrvr/outline-importer/internal/metrics"
)

// Supervisor is the part of jobs.Supervisor the API drives.
type Supervisor interface {
	Start(ctx context.Context, req jobs.StartRequest) (jobs.StartResult, error)
	Status(ctx context.Context, jobID string) jobs.StatusReport
	Cancel(jobID string) jobs.CancelResult
	Purge(ctx context.Context, req jobs.PurgeRequest) jobs.PurgeResult
	List() []jobs.StatusReport
}

// Options configures the router.
type Options struct {
	Version        string
	MetricsEnabled bool
}

// APIError is the body of every non-2xx response.
type APIError struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Meta    map[string]string `json:"meta,omitempty"`
}

// Server routes job control requests to a supervisor.
type Server struct {
	sup    Supervisor
	opts   Options
	router *mux.Router
	log    *slog.Logger
}

// New creates the server and registers its routes.
func New(sup Supervisor, opts Options) *Server {
	s := &Server{
		sup:    sup,
		opts:   opts,
		router: mux.NewRouter(),
		log:    logging.Component("api"),
	}
	s.routes()
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.correlationID, s.accessLog)

	s.router.HandleFunc("/health", s.health).Methods(http.MethodGet)
	if s.opts.MetricsEnabled {
		s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	imports := s.router.PathPrefix("/imports").Subrouter()
	imports.HandleFunc("", s.list).Methods(http.MethodGet)
	imports.HandleFunc("", s.start).Methods(http.MethodPost)
	imports.HandleFunc("/purge", s.purge).Methods(http.MethodPost)
	imports.HandleFunc("/{id}", s.status).Methods(http.MethodGet)
	imports.HandleFunc("/{id}/cancel", s.cancel).Methods(http.MethodPost)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.opts.Version,
	})
}

func (s *Server) start(w http.ResponseWriter, r *http.Request) {
	var req jobs.StartRequest
	if err := decode(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}

	res, err := s.sup.Start(r.Context(), req)
	switch {
	case errors.Is(err, jobs.ErrAlreadyRunning):
		writeAPIError(w, r, http.StatusConflict, "JOB_RUNNING", res.Message)
		return
	case errors.Is(err, jobs.ErrNoSource), errors.Is(err, checkpoint.ErrInvalidJobID):
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	case err != nil:
		s.log.Error("failed to start import", "error", err, "correlation_id", logging.CorrelationID(r.Context()))
		writeAPIError(w, r, http.StatusInternalServerError, "INTERNAL", err.Error())
		return
	}

	if !res.Started {
		writeJSON(w, http.StatusNotFound, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (s *Server) list(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"jobs": s.sup.List()})
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	report := s.sup.Status(r.Context(), mux.Vars(r)["id"])
	if !report.Found {
		writeJSON(w, http.StatusNotFound, report)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	res := s.sup.Cancel(mux.Vars(r)["id"])
	switch {
	case !res.Found:
		writeJSON(w, http.StatusNotFound, res)
	case !res.Cancelled:
		writeJSON(w, http.StatusConflict, res)
	default:
		writeJSON(w, http.StatusAccepted, res)
	}
}

func (s *Server) purge(w http.ResponseWriter, r *http.Request) {
	var req jobs.PurgeRequest
	if err := decode(r, &req); err != nil {
		writeAPIError(w, r, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.sup.Purge(r.Context(), req))
}

// decode reads a JSON body. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}

func writeAPIError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, APIError{
		Code:    code,
		Message: message,
		Meta:    map[string]string{"correlation_id": logging.CorrelationID(r.Context())},
	})
}

// CorrelationHeader carries the request correlation id.
const CorrelationHeader = "X-Correlation-ID"

func (s *Server) correlationID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(CorrelationHeader)
		if id == "" {
			id = logging.GenerateCorrelationID()
		}
		w.Header().Set(CorrelationHeader, id)
		next.ServeHTTP(w, r.WithContext(logging.WithCorrelationID(r.Context(), id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start).String(),
			"correlation_id", logging.CorrelationID(r.Context()),
		)
	})
}
