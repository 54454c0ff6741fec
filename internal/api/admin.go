package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/MikeSquared-Agency/Cover/internal/broker"
)

// CycleRunner triggers a solve cycle outside the ticker.
type CycleRunner interface {
	RunOnce(ctx context.Context, date time.Time, force bool) (*broker.Report, error)
}

type AdminHandler struct {
	runner CycleRunner
	now    func() time.Time
}

func NewAdminHandler(r CycleRunner) *AdminHandler {
	return &AdminHandler{runner: r, now: time.Now}
}

type runRequest struct {
	Date string `json:"date"`
}

// Run forces a cycle for the requested day, today when omitted.
// POST /api/v1/cycles/run
func (h *AdminHandler) Run(w http.ResponseWriter, r *http.Request) {
	if h.runner == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "broker not running"})
		return
	}
	var req runRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
	}

	y, m, d := h.now().Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	if req.Date != "" {
		parsed, err := time.Parse(time.DateOnly, req.Date)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}

	report, err := h.runner.RunOnce(r.Context(), date, true)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
