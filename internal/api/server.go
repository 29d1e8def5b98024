// Package api exposes the ingestion and query operations over HTTP.
// The wire surface is deliberately narrow: feeds write through POST
// /ticks, the dashboard reads through the query endpoints, and the
// administrative instrument surface lives under /instruments.
package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"tickfeed/internal/ingest"
	"tickfeed/internal/query"
	"tickfeed/internal/registry"
	"tickfeed/pkg/market"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

type Server struct {
	ingest   *ingest.Service
	query    *query.Service
	registry *registry.Service
	logger   *zap.Logger
}

func NewServer(ingestSvc *ingest.Service, querySvc *query.Service, registrySvc *registry.Service, logger *zap.Logger) *Server {
	return &Server{
		ingest:   ingestSvc,
		query:    querySvc,
		registry: registrySvc,
		logger:   logger,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Post("/ticks", s.handleIngest)
	r.Get("/ticks", s.handleHistory)
	r.Get("/latest", s.handleLatest)
	r.Get("/latest/grouped", s.handleLatestGrouped)

	r.Route("/instruments", func(r chi.Router) {
		r.Get("/resolve", s.handleResolve)
		r.Get("/", s.handleListInstruments)
		r.Post("/", s.handleCreateInstrument)
		r.Patch("/{id}", s.handleUpdateInstrument)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":                "ok",
		"absorbed_out_of_order": s.ingest.AbsorbedCount(),
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var status int
	var code string

	switch {
	case errors.Is(err, market.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, market.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, market.ErrConflict):
		status, code = http.StatusConflict, "conflict"
	case errors.Is(err, market.ErrUnavailable):
		status, code = http.StatusServiceUnavailable, "unavailable"
	default:
		status, code = http.StatusInternalServerError, "internal"
		s.logger.Error("request failed", zap.Error(err))
	}

	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
