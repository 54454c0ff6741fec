package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

type RecommendationsHandler struct {
	store store.Store
}

func NewRecommendationsHandler(s store.Store) *RecommendationsHandler {
	return &RecommendationsHandler{store: s}
}

type explainedPair struct {
	EmployeeID string   `json:"employee_id"`
	ClientID   string   `json:"client_id"`
	Short      string   `json:"short"`
	Lines      []string `json:"lines"`
}

type recommendationResponse struct {
	*store.Recommendation
	Explanations []explainedPair `json:"explanations"`
}

// Get returns one recommendation with the explanation of every assigned pair.
// GET /api/v1/recommendations/{id}
func (h *RecommendationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid recommendation id"})
		return
	}

	rec, err := h.store.GetRecommendation(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "recommendation not found"})
		return
	}

	events, err := h.store.ListComments(r.Context(), rec.CycleID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	journal := comments.FromEvents(rec.CycleID.String(), events)

	resp := recommendationResponse{Recommendation: rec, Explanations: make([]explainedPair, 0, len(rec.Assigned))}
	for _, a := range rec.Assigned {
		ex := journal.Explain(a.EmployeeID, a.ClientID, rec.ID.String())
		lines := ex.Lines
		if lines == nil {
			lines = []string{}
		}
		resp.Explanations = append(resp.Explanations, explainedPair{
			EmployeeID: a.EmployeeID,
			ClientID:   a.ClientID,
			Short:      ex.Short,
			Lines:      lines,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
