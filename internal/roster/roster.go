// Package roster holds the per-day entities the matching engine works on:
// substitute employees, open client slots and the snapshot that bundles them.
package roster

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-playground/validator/v10"
)

// DefaultPriority is the priority of a client without an explicit rank.
const DefaultPriority = 100

// DefaultDistanceCutoff is the commute distance (meters) at and above which a
// school is treated as unreachable.
const DefaultDistanceCutoff = 60000.0

// ErrInvalidRow marks an upstream row that cannot be used for matching.
var ErrInvalidRow = errors.New("invalid roster row")

// Interval is a half-open [Start, End) range in fractional hours of the day.
type Interval struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
}

// BaseAvailability is the unrestricted working day.
var BaseAvailability = Interval{Start: 0, End: 23 + 59.0/60.0}

// Set is a set of string tags or identifiers.
type Set map[string]struct{}

// NewSet builds a Set from the given items.
func NewSet(items ...string) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports whether item is in the set.
func (s Set) Has(item string) bool {
	_, ok := s[item]
	return ok
}

// Items returns the set members in sorted order.
func (s Set) Items() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Covers reports whether every member of required is also in s.
func (s Set) Covers(required Set) bool {
	for k := range required {
		if !s.Has(k) {
			return false
		}
	}
	return true
}

type Employee struct {
	ID                        string             `json:"id" validate:"required"`
	Qualifications            Set                `json:"qualifications" validate:"required"`
	HasCar                    bool               `json:"has_car"`
	Availability              Interval           `json:"availability"`
	CommuteTime               map[string]float64 `json:"commute_time" validate:"required"`
	ClientExperience          map[string]int     `json:"client_experience,omitempty"`
	SchoolExperience          map[string]int     `json:"school_experience,omitempty"`
	ShortTermClientExperience map[string]int     `json:"short_term_client_experience,omitempty"`
	AvailableUntil            *time.Time         `json:"available_until,omitempty"`
}

// HasBaseAvailability reports whether the employee is available all day.
func (e *Employee) HasBaseAvailability() bool {
	return e.Availability == BaseAvailability
}

// Reaches returns the commute distance to school and whether it is reachable.
func (e *Employee) Reaches(school string) (float64, bool) {
	d, ok := e.CommuteTime[school]
	return d, ok
}

type Client struct {
	ID                   string     `json:"id" validate:"required"`
	NeededQualifications Set        `json:"needed_qualifications" validate:"required"`
	RequiredSex          *string    `json:"required_sex,omitempty"`
	TimeWindow           *Interval  `json:"time_window,omitempty"`
	Priority             int        `json:"priority"`
	School               string     `json:"school" validate:"required"`
	AvailableUntil       *time.Time `json:"available_until,omitempty"`
	Blacklist            Set        `json:"blacklist,omitempty"`
}

// Incident identifies the backend record a client's recommendation is pushed to.
type Incident struct {
	ID  string `json:"id"`
	Org string `json:"org"`
}

// Snapshot is the immutable input of one solve cycle.
type Snapshot struct {
	Date      time.Time           `json:"date"`
	Employees []Employee          `json:"employees"`
	Clients   []Client            `json:"clients"`
	Incidents map[string]Incident `json:"incidents,omitempty"`
}

// Rejection records an upstream row dropped before matching.
type Rejection struct {
	Kind   string `json:"kind"` // employee or client
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidateEmployee returns an ErrInvalidRow-wrapped error when the row is unusable.
func ValidateEmployee(e *Employee) error {
	if err := validate.Struct(e); err != nil {
		return fmt.Errorf("%w: employee %q: %v", ErrInvalidRow, e.ID, err)
	}
	return nil
}

// ValidateClient returns an ErrInvalidRow-wrapped error when the row is unusable.
func ValidateClient(c *Client) error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: client %q: %v", ErrInvalidRow, c.ID, err)
	}
	return nil
}

// TrimCommute drops commute entries at or beyond cutoff meters.
func TrimCommute(commute map[string]float64, cutoff float64) map[string]float64 {
	out := make(map[string]float64, len(commute))
	for school, d := range commute {
		if d < cutoff {
			out[school] = d
		}
	}
	return out
}

// DaysBetween returns the whole-day difference a - b, or nil when either is missing.
func DaysBetween(a, b *time.Time) *int {
	if a == nil || b == nil {
		return nil
	}
	ad := time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, time.UTC)
	bd := time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, time.UTC)
	days := int(ad.Sub(bd).Hours() / 24)
	return &days
}

// MarshalJSON encodes the set as a sorted list.
func (s Set) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	return json.Marshal(s.Items())
}

// UnmarshalJSON decodes a list into the set. A JSON null leaves the set nil.
func (s *Set) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = nil
		return nil
	}
	var items []string
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = NewSet(items...)
	return nil
}

// UnmarshalJSON decodes a client row. A missing or null priority becomes
// DefaultPriority.
func (c *Client) UnmarshalJSON(data []byte) error {
	type wire Client
	w := wire{Priority: DefaultPriority}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*c = Client(w)
	return nil
}
