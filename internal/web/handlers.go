package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JonMunkholm/lakeingest/internal/core"
	"github.com/JonMunkholm/lakeingest/internal/pipeline"
	"github.com/go-chi/chi/v5"
)

// maxRequestBody caps step request bodies. Requests carry ids, not data.
const maxRequestBody = 64 << 10

type healthResponse struct {
	Status   string               `json:"status"`
	Database string               `json:"database,omitempty"`
	Gate     core.BatchGateStatus `json:"gate"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	if s.deps.Gate != nil {
		resp.Gate = s.deps.Gate.Status()
	}

	status := http.StatusOK
	if s.deps.Ping != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.deps.Ping(ctx); err != nil {
			resp.Status = "degraded"
			resp.Database = core.MapError(err).Code
			status = http.StatusServiceUnavailable
		} else {
			resp.Database = "ok"
		}
	}
	writeJSON(w, r, status, resp)
}

func (s *Server) handleListSteps(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]any{"steps": pipeline.Kinds()})
}

// handleRunStep runs one step synchronously. The step keeps running if the
// client goes away, since a half-run batch is worse than an unread reply.
func (s *Server) handleRunStep(w http.ResponseWriter, r *http.Request) {
	kind, err := pipeline.ParseStepKind(chi.URLParam(r, "step"))
	if err != nil {
		respondError(w, r, err)
		return
	}

	req, err := decodeStepRequest(w, r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	ctx := WithRequestMetadata(context.WithoutCancel(r.Context()), r)
	res, err := s.deps.Steps.Run(ctx, kind, req)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, res)
}

// decodeStepRequest reads the JSON body, which may be empty. older_than in
// the body is a duration string or nanoseconds; an older_than query
// parameter overrides it.
func decodeStepRequest(w http.ResponseWriter, r *http.Request) (pipeline.Request, error) {
	var req pipeline.Request
	body := http.MaxBytesReader(w, r.Body, maxRequestBody)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		return req, fmt.Errorf("%w: decode body: %v", core.ErrInvalidRequest, err)
	}
	if req.OlderThan < 0 {
		return req, fmt.Errorf("%w: older_than must be a positive duration", core.ErrInvalidRequest)
	}

	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := parseOlderThan(v)
		if err != nil {
			return req, err
		}
		req.OlderThan = pipeline.Duration(d)
	}
	return req, nil
}

func parseOlderThan(v string) (time.Duration, error) {
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("%w: older_than must be a positive duration, got %q", core.ErrInvalidRequest, v)
	}
	return d, nil
}

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, err := s.deps.Lineage.GetBatch(r.Context(), chi.URLParam(r, "batchID"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, batch)
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if _, err := s.deps.Lineage.GetBatch(r.Context(), batchID); err != nil {
		respondError(w, r, err)
		return
	}
	files, err := s.deps.Lineage.ListFiles(r.Context(), batchID)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if files == nil {
		files = []core.FileLineage{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{"batch_id": batchID, "files": files})
}

func (s *Server) handleStaleBatches(w http.ResponseWriter, r *http.Request) {
	olderThan := s.deps.StaleAfter
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := parseOlderThan(v)
		if err != nil {
			respondError(w, r, err)
			return
		}
		olderThan = d
	}

	batches, err := s.deps.Stale.FindStaleBatches(r.Context(), olderThan)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if batches == nil {
		batches = []core.Batch{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"older_than": olderThan.String(),
		"batches":    batches,
	})
}
