package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tutu-network/gridpool/internal/domain"
	"github.com/tutu-network/gridpool/internal/infra/cost"
)

// ─── Run History ────────────────────────────────────────────────────────────

const defaultListLimit = 50

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrHistoryDisabled.Error())
		return
	}
	limit := defaultListLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, domain.ErrHistoryDisabled.Error())
		return
	}
	rec, err := s.store.GetRun(chi.URLParam(r, "id"))
	if errors.Is(err, domain.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ─── Starting Runs ──────────────────────────────────────────────────────────

// startRunRequest is the POST /api/runs body. Omitted fields take the
// server's configured defaults.
type startRunRequest struct {
	Size        *int   `json:"size"`
	Workers     *int   `json:"workers"`
	Mode        string `json:"mode"`
	Cost        string `json:"cost"`
	TaskTimeout string `json:"task_timeout"`
}

func (s *Server) handleStartRun(w http.ResponseWriter, r *http.Request) {
	var body startRunRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
	}

	req := s.runner.DefaultRequest()
	if body.Size != nil {
		req.Size = *body.Size
	}
	if body.Workers != nil {
		req.Workers = *body.Workers
	}
	if body.Mode != "" {
		req.Mode = domain.RunMode(body.Mode)
	}
	if body.Cost != "" {
		req.Cost = body.Cost
	}
	if body.TaskTimeout != "" {
		d, err := time.ParseDuration(body.TaskTimeout)
		if err != nil || d < 0 {
			writeError(w, http.StatusBadRequest, "task_timeout must be a duration like 30s")
			return
		}
		req.TaskTimeout = d
	}
	if body.Size != nil && req.Size < 1 {
		writeError(w, http.StatusBadRequest, domain.ErrInvalidGrid.Error())
		return
	}

	rec, err := s.runner.Execute(r.Context(), req)
	switch {
	case err == nil, errors.Is(err, domain.ErrInsufficientWorkers):
		writeJSON(w, http.StatusCreated, rec)
	case errors.Is(err, domain.ErrInvalidGrid),
		errors.Is(err, domain.ErrUnknownCost),
		errors.Is(err, domain.ErrUnknownMode),
		errors.Is(err, domain.ErrTooManyWorkers):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleListCosts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"costs": cost.Names()})
}
