package hermes

import "time"

// CycleRequestEvent asks the broker to run a cycle outside its ticker.
type CycleRequestEvent struct {
	Date   string `json:"date,omitempty"`
	Source string `json:"source,omitempty"`
}

type CycleCompletedEvent struct {
	CycleID       string        `json:"cycle_id"`
	Date          time.Time     `json:"date"`
	Plans         int           `json:"plans"`
	Groups        int           `json:"groups"`
	Unassigned    int           `json:"unassigned"`
	EligiblePairs int           `json:"eligible_pairs"`
	Rejected      int           `json:"rejected"`
	Elapsed       time.Duration `json:"elapsed_ns"`
}

type CycleEmptyEvent struct {
	CycleID string    `json:"cycle_id"`
	Date    time.Time `json:"date"`
	Reason  string    `json:"reason"`
}

type CycleFailedEvent struct {
	CycleID string `json:"cycle_id,omitempty"`
	Error   string `json:"error"`
}

type SuggestionPayload struct {
	EmployeeID string `json:"employee_id"`
	ClientID   string `json:"client_id"`
	Rank       int    `json:"rank"`
	Verdict    string `json:"verdict,omitempty"`
}

type RecommendationCreatedEvent struct {
	RecommendationID string              `json:"recommendation_id"`
	CycleID          string              `json:"cycle_id"`
	Rank             int                 `json:"rank"`
	Objective        int64               `json:"objective"`
	Assigned         []SuggestionPayload `json:"assigned"`
	Unassigned       []string            `json:"unassigned"`
}

type CommentEvent struct {
	CycleID string    `json:"cycle_id"`
	Subject string    `json:"subject"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}
