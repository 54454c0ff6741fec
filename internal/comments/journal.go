// Package comments collects the human-facing remarks produced while a cycle
// runs. A Journal lives for exactly one cycle; nothing in the matching engine
// ever reads it back.
package comments

import (
	"strings"
	"sync"
	"time"
)

type Kind string

const (
	KindEmployee       Kind = "employee"
	KindClient         Kind = "client"
	KindPair           Kind = "pair"
	KindRecommendation Kind = "recommendation"
)

// Subject identifies what a comment is about.
type Subject struct {
	Kind Kind   `json:"kind"`
	ID   string `json:"id"`
}

func (s Subject) String() string { return string(s.Kind) + ":" + s.ID }

func Employee(id string) Subject       { return Subject{Kind: KindEmployee, ID: id} }
func Client(id string) Subject         { return Subject{Kind: KindClient, ID: id} }
func Recommendation(id string) Subject { return Subject{Kind: KindRecommendation, ID: id} }

// Pair is the subject for one employee/client combination.
func Pair(employeeID, clientID string) Subject {
	return Subject{Kind: KindPair, ID: employeeID + "|" + clientID}
}

type Event struct {
	Subject Subject   `json:"subject"`
	Message string    `json:"message"`
	At      time.Time `json:"at"`
}

type Journal struct {
	cycleID string
	now     func() time.Time

	mu     sync.Mutex
	events []Event
}

func NewJournal(cycleID string) *Journal {
	return &Journal{cycleID: cycleID, now: time.Now}
}

// FromEvents rebuilds a journal from persisted events, e.g. to explain a
// past cycle.
func FromEvents(cycleID string, events []Event) *Journal {
	j := NewJournal(cycleID)
	j.events = append(j.events, events...)
	return j
}

func (j *Journal) CycleID() string {
	if j == nil {
		return ""
	}
	return j.cycleID
}

// Add appends a comment. A nil journal discards it.
func (j *Journal) Add(subject Subject, message string) {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.events = append(j.events, Event{Subject: subject, Message: message, At: j.now()})
	j.mu.Unlock()
}

// Events returns a copy of all comments in insertion order.
func (j *Journal) Events() []Event {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]Event, len(j.events))
	copy(out, j.events)
	return out
}

// For returns the messages recorded for subject in insertion order.
func (j *Journal) For(subject Subject) []string {
	if j == nil {
		return nil
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []string
	for _, e := range j.events {
		if e.Subject == subject {
			out = append(out, e.Message)
		}
	}
	return out
}

func (j *Journal) Reset() {
	if j == nil {
		return
	}
	j.mu.Lock()
	j.events = nil
	j.mu.Unlock()
}

// Explanation is the plain-text justification attached to one suggestion.
type Explanation struct {
	Short string   `json:"short"`
	Lines []string `json:"lines"`
}

// Explain assembles the justification for suggesting employeeID for clientID
// under the given recommendation.
func (j *Journal) Explain(employeeID, clientID, recommendationID string) Explanation {
	general := j.For(Recommendation(recommendationID))

	var lines []string
	lines = append(lines, j.For(Pair(employeeID, clientID))...)
	lines = append(lines, j.For(Employee(employeeID))...)
	lines = append(lines, j.For(Client(clientID))...)
	lines = append(lines, general...)

	return Explanation{
		Short: strings.Join(general, ", "),
		Lines: lines,
	}
}
