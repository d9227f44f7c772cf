package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/aretw0/sessionsync/internal/logging"
	"github.com/aretw0/sessionsync/pkg/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 8 << 20

// Engine is the part of sessions.Collection served over HTTP.
type Engine interface {
	RefreshSessions(ctx context.Context, records domain.RecordSet, refreshTime time.Time) error
	RemoveRecords(ctx context.Context, ids domain.IDSet) error
	FetchRecord(ctx context.Context, id domain.LogicalSessionID) (domain.Record, error)
	Ping(ctx context.Context) error
}

// Tracker queues single-session updates, see session.Tracker.
type Tracker interface {
	Touch(rec domain.Record)
	End(id domain.LogicalSessionID)
}

// Server serves the engine operations as a JSON API.
type Server struct {
	Engine   Engine
	Tracker  Tracker
	Gatherer prometheus.Gatherer
	Now      func() time.Time
	Logger   *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithTracker queues touch and delete of single sessions instead of sending them immediately.
func WithTracker(t Tracker) Option {
	return func(s *Server) {
		s.Tracker = t
	}
}

// WithGatherer selects the metrics served on /metrics. Defaults to the global registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.Gatherer = g
	}
}

// WithClock sets the default refresh time source.
func WithClock(now func() time.Time) Option {
	return func(s *Server) {
		s.Now = now
	}
}

// WithLogger configures a logger for the Server.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// NewHandler creates the HTTP handler for engine.
func NewHandler(engine Engine, opts ...Option) http.Handler {
	s := &Server{
		Engine:   engine,
		Gatherer: prometheus.DefaultGatherer,
		Now:      time.Now,
		Logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.Health)
	r.Handle("/metrics", promhttp.HandlerFor(s.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/v1", func(r chi.Router) {
		r.Post("/refresh", s.Refresh)
		r.Post("/remove", s.Remove)
		r.Get("/sessions/{id}", s.GetSession)
		r.Post("/sessions/{id}/touch", s.TouchSession)
		r.Delete("/sessions/{id}", s.DeleteSession)
	})
	return r
}

// Health handles GET /healthz.
func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	if err := s.Engine.Ping(r.Context()); err != nil {
		s.Logger.Warn("health check failed", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Refresh handles POST /v1/refresh.
func (s *Server) Refresh(w http.ResponseWriter, r *http.Request) {
	var body RefreshRequest
	if !s.decode(w, r, &body) {
		return
	}

	records := make(domain.RecordSet, len(body.Sessions))
	for _, in := range body.Sessions {
		rec, err := in.toRecord()
		if err != nil {
			s.badRequest(w, err)
			return
		}
		records.Add(rec)
	}

	at := s.Now()
	if body.RefreshTime != nil {
		at = *body.RefreshTime
	}
	if err := s.Engine.RefreshSessions(r.Context(), records, at); err != nil {
		s.fail(w, "refresh", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: len(records)})
}

// Remove handles POST /v1/remove.
func (s *Server) Remove(w http.ResponseWriter, r *http.Request) {
	var body RemoveRequest
	if !s.decode(w, r, &body) {
		return
	}

	ids := make(domain.IDSet, len(body.IDs))
	for _, raw := range body.IDs {
		id, err := domain.ParseLogicalSessionID(raw)
		if err != nil {
			s.badRequest(w, err)
			return
		}
		ids.Add(id)
	}

	if err := s.Engine.RemoveRecords(r.Context(), ids); err != nil {
		s.fail(w, "remove", err)
		return
	}
	writeJSON(w, http.StatusOK, CountResponse{Count: len(ids)})
}

// GetSession handles GET /v1/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}
	rec, err := s.Engine.FetchRecord(r.Context(), id)
	if err != nil {
		s.fail(w, "fetch", err)
		return
	}
	writeJSON(w, http.StatusOK, fromRecord(rec))
}

// TouchSession handles POST /v1/sessions/{id}/touch. The body is optional.
func (s *Server) TouchSession(w http.ResponseWriter, r *http.Request) {
	var body TouchRequest
	if !s.decodeOptional(w, r, &body) {
		return
	}
	rec, err := SessionInput{ID: chi.URLParam(r, "id"), User: body.User}.toRecord()
	if err != nil {
		s.badRequest(w, err)
		return
	}

	if s.Tracker != nil {
		s.Tracker.Touch(rec)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.Engine.RefreshSessions(r.Context(), domain.NewRecordSet(rec), s.Now()); err != nil {
		s.fail(w, "touch", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	if s.Tracker != nil {
		s.Tracker.End(id)
		w.WriteHeader(http.StatusAccepted)
		return
	}
	if err := s.Engine.RemoveRecords(r.Context(), domain.NewIDSet(id)); err != nil {
		s.fail(w, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pathID(w http.ResponseWriter, r *http.Request) (domain.LogicalSessionID, bool) {
	id, err := domain.ParseLogicalSessionID(chi.URLParam(r, "id"))
	if err != nil {
		s.badRequest(w, err)
		return id, false
	}
	return id, true
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeBody(w, r, v, false)
}

// decodeOptional is decode for routes where an empty body leaves v unchanged.
func (s *Server) decodeOptional(w http.ResponseWriter, r *http.Request, v any) bool {
	return s.decodeBody(w, r, v, true)
}

func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, v any, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		s.badRequest(w, fmt.Errorf("invalid request body: %w", err))
		return false
	}
	return true
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	s.Logger.Warn("rejected request", "err", err)
	writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
}

// fail maps engine errors to status codes.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.Logger.Error("request failed", "op", op, "err", err)
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error(), Retriable: domain.IsRetriable(err)})
}

// StatusFor returns the HTTP status reported for an engine error.
func StatusFor(err error) int {
	var pe *domain.ParseError
	var te *domain.TransportError
	switch {
	case errors.Is(err, domain.ErrNoSuchSession):
		return http.StatusNotFound
	case errors.As(err, &pe):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrInvalidBatch):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.As(err, &te):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "error", err)
	}
}
