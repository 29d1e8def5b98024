package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"tickfeed/internal/query"
	"tickfeed/pkg/market"

	"github.com/go-chi/chi/v5"
)

type ingestRequest struct {
	InstrumentID int64     `json:"instrument_id"`
	Instrument   string    `json:"instrument"` // name alternative to instrument_id
	Exchange     string    `json:"exchange"`
	ObservedAt   time.Time `json:"observed_at"`
	market.TickFields
}

type ingestResponse struct {
	TickID int64 `json:"tick_id"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed body: %v", market.ErrInvalidArgument, err))
		return
	}

	exchange, err := market.ParseExchange(req.Exchange)
	if err != nil {
		s.writeError(w, err)
		return
	}

	instrumentID := req.InstrumentID
	if instrumentID == 0 {
		if req.Instrument == "" {
			s.writeError(w, fmt.Errorf("%w: instrument_id or instrument is required", market.ErrInvalidArgument))
			return
		}
		instrumentID, err = s.query.ResolveInstrument(r.Context(), req.Instrument)
		if err != nil {
			s.writeError(w, err)
			return
		}
	}

	tickID, err := s.ingest.Ingest(r.Context(), instrumentID, exchange, req.TickFields, req.ObservedAt)
	if err != nil {
		s.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, ingestResponse{TickID: tickID})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	instrumentID, err := s.instrumentFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	exchange, err := exchangeFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	limit, offset, err := pagination(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ticks, err := s.query.History(r.Context(), query.HistoryRequest{
		InstrumentID: instrumentID,
		Exchange:     exchange,
		Limit:        limit,
		Offset:       offset,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ticks)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	instrumentID, err := s.instrumentFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	exchange, err := exchangeFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	snaps, err := s.query.Latest(r.Context(), query.SnapshotRequest{
		InstrumentID: instrumentID,
		Exchange:     exchange,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleLatestGrouped(w http.ResponseWriter, r *http.Request) {
	instrumentID, err := s.instrumentFilter(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if instrumentID == nil {
		s.writeError(w, fmt.Errorf("%w: instrument is required", market.ErrInvalidArgument))
		return
	}

	snaps, err := s.query.LatestGroupedByExchange(r.Context(), *instrumentID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snaps)
}

func (s *Server) handleResolve(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		s.writeError(w, fmt.Errorf("%w: name is required", market.ErrInvalidArgument))
		return
	}

	id, err := s.query.ResolveInstrument(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"instrument_id": id})
}

func (s *Server) handleListInstruments(w http.ResponseWriter, r *http.Request) {
	instruments, err := s.registry.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, instruments)
}

type createInstrumentRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleCreateInstrument(w http.ResponseWriter, r *http.Request) {
	var req createInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed body: %v", market.ErrInvalidArgument, err))
		return
	}

	inst, err := s.registry.Create(r.Context(), req.Name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, inst)
}

type updateInstrumentRequest struct {
	Name       *string `json:"name"`
	Trading    *bool   `json:"trading"`
	Collecting *bool   `json:"collecting"`
}

func (s *Server) handleUpdateInstrument(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed instrument id", market.ErrInvalidArgument))
		return
	}

	var req updateInstrumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, fmt.Errorf("%w: malformed body: %v", market.ErrInvalidArgument, err))
		return
	}

	inst, err := s.registry.Get(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if req.Name != nil && *req.Name != inst.Name {
		if inst, err = s.registry.Rename(r.Context(), id, *req.Name); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if req.Trading != nil || req.Collecting != nil {
		if inst, err = s.registry.SetFlags(r.Context(), id, req.Trading, req.Collecting); err != nil {
			s.writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, inst)
}

// instrumentFilter reads the optional "instrument" query parameter. A
// numeric value is treated as an id, anything else as a name resolved
// through the registry.
func (s *Server) instrumentFilter(r *http.Request) (*int64, error) {
	raw := r.URL.Query().Get("instrument")
	if raw == "" {
		return nil, nil
	}

	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return &id, nil
	}

	id, err := s.query.ResolveInstrument(r.Context(), raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

func exchangeFilter(r *http.Request) (*market.Exchange, error) {
	raw := r.URL.Query().Get("exchange")
	if raw == "" {
		return nil, nil
	}

	ex, err := market.ParseExchange(raw)
	if err != nil {
		return nil, err
	}
	return &ex, nil
}

// pagination parses limit/offset with the documented defaults. An
// explicit limit=0 yields an empty page rather than an error.
func pagination(r *http.Request) (limit, offset int, err error) {
	limit = query.DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: malformed limit %q", market.ErrInvalidArgument, raw)
		}
	}

	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: malformed offset %q", market.ErrInvalidArgument, raw)
		}
	}

	if limit < 0 || offset < 0 {
		return 0, 0, fmt.Errorf("%w: negative pagination values", market.ErrInvalidArgument)
	}
	return limit, offset, nil
}
