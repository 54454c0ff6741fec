package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

type CyclesHandler struct {
	store store.Store
}

func NewCyclesHandler(s store.Store) *CyclesHandler {
	return &CyclesHandler{store: s}
}

type cycleResponse struct {
	*store.Cycle
	Recommendations []store.Recommendation `json:"recommendations"`
}

// Latest returns the most recent cycle with its ranked recommendations.
// GET /api/v1/cycles/latest
func (h *CyclesHandler) Latest(w http.ResponseWriter, r *http.Request) {
	c, err := h.store.LatestCycle(r.Context())
	h.respondCycle(w, r, c, err)
}

// GET /api/v1/cycles/{id}
func (h *CyclesHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cycle id"})
		return
	}
	c, err := h.store.GetCycle(r.Context(), id)
	h.respondCycle(w, r, c, err)
}

func (h *CyclesHandler) respondCycle(w http.ResponseWriter, r *http.Request, c *store.Cycle, err error) {
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if c == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "cycle not found"})
		return
	}
	recs, err := h.store.ListRecommendations(r.Context(), c.ID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []store.Recommendation{}
	}
	out := *c
	if r.URL.Query().Get("payload") != "true" {
		out.Payload = nil
	}
	writeJSON(w, http.StatusOK, cycleResponse{Cycle: &out, Recommendations: recs})
}

// Comments lists the comment journal of a cycle.
// GET /api/v1/cycles/{id}/comments
func (h *CyclesHandler) Comments(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid cycle id"})
		return
	}
	events, err := h.store.ListComments(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if events == nil {
		events = []comments.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}
