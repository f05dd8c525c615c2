package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/lead-ingest/internal/business"
	"github.com/sells-group/lead-ingest/internal/dedupe"
)

const maxBodyBytes = 1 << 20

// createRequest is a manual entry. Raw defaults to the request body.
type createRequest struct {
	business.Candidate
	Source   string          `json:"source"`
	SourceID string          `json:"source_id"`
	Raw      json.RawMessage `json:"raw"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var req createRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = business.SourceManual
	}
	raw := req.Raw
	if len(raw) == 0 || string(raw) == "null" {
		raw = body
	}

	res, err := s.ingester.Ingest(r.Context(), req.Candidate, req.Source, req.SourceID, raw)
	if err != nil {
		if errors.Is(err, dedupe.ErrInvalidCandidate) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		zap.L().Error("api: ingest failed",
			zap.String("name", req.Name),
			zap.String("zip", req.Zip),
			zap.String("source", req.Source),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "ingest failed")
		return
	}

	status := http.StatusOK
	if res.Outcome == dedupe.OutcomeInserted {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "id must be a positive integer")
		return
	}

	rec, err := s.records.Get(r.Context(), id)
	if err != nil {
		zap.L().Error("api: get business", zap.Int64("id", id), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "business not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}
