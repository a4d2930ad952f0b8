package handler

import (
	"net/http"
	"strconv"

	"github.com/arbitonlabs/arbiton/internal/domain"
)

// PipelineStatusProvider is the narrow view of the opportunity pipeline the
// HTTP surface needs: in-flight count and a bounded history snapshot.
type PipelineStatusProvider interface {
	InFlight() int
	History() []domain.PipelineContext
}

// OpportunityHandler serves the opportunity pipeline's live status and
// recent history.
type OpportunityHandler struct {
	pipeline PipelineStatusProvider
}

// NewOpportunityHandler creates an OpportunityHandler backed by pipeline.
func NewOpportunityHandler(pipeline PipelineStatusProvider) *OpportunityHandler {
	return &OpportunityHandler{pipeline: pipeline}
}

// Status reports the number of opportunities currently in flight.
// GET /api/opportunities/status
func (h *OpportunityHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"in_flight": h.pipeline.InFlight(),
	})
}

// History returns the most recent completed pipeline contexts, newest first.
// GET /api/opportunities/history?limit=50
func (h *OpportunityHandler) History(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if limit > 500 {
		limit = 500
	}

	all := h.pipeline.History()
	if len(all) > limit {
		all = all[len(all)-limit:]
	}

	// Newest first.
	reversed := make([]domain.PipelineContext, len(all))
	for i, pc := range all {
		reversed[len(all)-1-i] = pc
	}

	writeJSON(w, http.StatusOK, map[string]any{"opportunities": reversed})
}
