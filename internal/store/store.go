package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/Cover/internal/assignment"
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/features"
)

type CycleStatus string

const (
	CycleCompleted CycleStatus = "completed"
	CycleEmpty     CycleStatus = "empty"
	CycleFailed    CycleStatus = "failed"
)

// Cycle is one persisted solve cycle. Payload holds the engine outcome.
type Cycle struct {
	ID            uuid.UUID       `json:"cycle_id"`
	Date          time.Time       `json:"date"`
	Fingerprint   string          `json:"fingerprint"`
	Status        CycleStatus     `json:"status"`
	Plans         int             `json:"plans"`
	Unassigned    int             `json:"unassigned"`
	EligiblePairs int             `json:"eligible_pairs"`
	Error         string          `json:"error,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Recommendation is one ranked plan of a cycle.
type Recommendation struct {
	ID            uuid.UUID                 `json:"recommendation_id"`
	CycleID       uuid.UUID                 `json:"cycle_id"`
	Rank          int                       `json:"rank"`
	Objective     int64                     `json:"objective"`
	Assigned      []assignment.AssignedPair `json:"assigned"`
	Unassigned    []string                  `json:"unassigned"`
	AvgTravelTime *float64                  `json:"avg_travel_time,omitempty"`
	AvgPriority   *float64                  `json:"avg_priority,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

// HistoryRow is a realised assignment kept for retraining the anomaly model.
type HistoryRow struct {
	EmployeeID string            `json:"employee_id"`
	ClientID   string            `json:"client_id"`
	Date       time.Time         `json:"date"`
	Features   features.Features `json:"features"`
}

type Store interface {
	// Cycles
	SaveCycle(ctx context.Context, c *Cycle) error
	GetCycle(ctx context.Context, id uuid.UUID) (*Cycle, error)
	LatestCycle(ctx context.Context) (*Cycle, error)

	// Recommendations
	SaveRecommendations(ctx context.Context, recs []Recommendation) error
	GetRecommendation(ctx context.Context, id uuid.UUID) (*Recommendation, error)
	ListRecommendations(ctx context.Context, cycleID uuid.UUID) ([]Recommendation, error)

	// Comments
	SaveComments(ctx context.Context, cycleID uuid.UUID, events []comments.Event) error
	ListComments(ctx context.Context, cycleID uuid.UUID) ([]comments.Event, error)

	// Assignment history
	RecordAssignments(ctx context.Context, rows []HistoryRow) error
	ListAssignmentHistory(ctx context.Context, since time.Time) ([]HistoryRow, error)

	Ping(ctx context.Context) error
	Close() error
}

// RecommendationsFromPlans ranks the plans of a cycle in generation order.
func RecommendationsFromPlans(cycleID uuid.UUID, plans []*assignment.Plan) ([]Recommendation, error) {
	recs := make([]Recommendation, 0, len(plans))
	for i, p := range plans {
		id, err := uuid.Parse(p.RecommendationID)
		if err != nil {
			return nil, fmt.Errorf("recommendation id %q: %w", p.RecommendationID, err)
		}
		recs = append(recs, Recommendation{
			ID:            id,
			CycleID:       cycleID,
			Rank:          i,
			Objective:     p.Objective,
			Assigned:      p.Assigned,
			Unassigned:    p.Unassigned,
			AvgTravelTime: p.AvgTravelTime,
			AvgPriority:   p.AvgPriority,
		})
	}
	return recs, nil
}

// HistoryFromPlan turns the pairs of an accepted plan into history rows.
func HistoryFromPlan(date time.Time, plan *assignment.Plan, cache *features.Cache) []HistoryRow {
	rows := make([]HistoryRow, 0, len(plan.Assigned))
	for _, a := range plan.Assigned {
		rows = append(rows, HistoryRow{
			EmployeeID: a.EmployeeID,
			ClientID:   a.ClientID,
			Date:       date,
			Features:   cache.Get(a.PairIndex),
		})
	}
	return rows
}
