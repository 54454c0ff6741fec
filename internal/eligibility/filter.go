// Package eligibility decides which employee/client combinations may be
// assigned at all. Only eligible pairs get a decision variable, a feature
// record or an objective term.
package eligibility

import (
	"log/slog"

	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

// Reason explains why a pair was not eligible.
type Reason string

const (
	ReasonUnreachable          Reason = "unreachable"
	ReasonMissingQualification Reason = "missing_qualification"
	ReasonBlacklisted          Reason = "blacklisted"
)

// Pair indexes one eligible employee/client combination in the snapshot.
type Pair struct {
	Employee int `json:"employee"`
	Client   int `json:"client"`
}

type Result struct {
	Pairs []Pair
	// Rejected lists upstream rows that failed validation and were skipped.
	Rejected []roster.Rejection
	// Ineligible counts excluded pairs by reason.
	Ineligible map[Reason]int
	// ValidEmployees and ValidClients flag rows that passed validation.
	ValidEmployees []bool
	ValidClients   []bool
}

// EmployeeValid reports whether employee row i passed validation. A Result
// without validity flags treats every row as valid.
func (r Result) EmployeeValid(i int) bool {
	return r.ValidEmployees == nil || r.ValidEmployees[i]
}

// ClientValid reports whether client row j passed validation.
func (r Result) ClientValid(j int) bool {
	return r.ValidClients == nil || r.ValidClients[j]
}

// Check returns whether employee e may cover client c and, if not, why.
func Check(e *roster.Employee, c *roster.Client) (bool, Reason) {
	if _, ok := e.Reaches(c.School); !ok {
		return false, ReasonUnreachable
	}
	if !e.Qualifications.Covers(c.NeededQualifications) {
		return false, ReasonMissingQualification
	}
	if c.Blacklist.Has(e.ID) {
		return false, ReasonBlacklisted
	}
	return true, ""
}

// Filter computes the eligible pair set of a snapshot. Malformed rows are
// skipped and logged. Pairs come out employee-major in snapshot order.
func Filter(snap *roster.Snapshot, logger *slog.Logger) Result {
	res := Result{
		Ineligible:     make(map[Reason]int),
		ValidEmployees: make([]bool, len(snap.Employees)),
		ValidClients:   make([]bool, len(snap.Clients)),
	}

	for i := range snap.Employees {
		if err := roster.ValidateEmployee(&snap.Employees[i]); err != nil {
			logger.Warn("skipping malformed employee row", "employee_id", snap.Employees[i].ID, "error", err)
			res.Rejected = append(res.Rejected, roster.Rejection{Kind: "employee", ID: snap.Employees[i].ID, Reason: err.Error()})
			continue
		}
		res.ValidEmployees[i] = true
	}
	for j := range snap.Clients {
		if err := roster.ValidateClient(&snap.Clients[j]); err != nil {
			logger.Warn("skipping malformed client row", "client_id", snap.Clients[j].ID, "error", err)
			res.Rejected = append(res.Rejected, roster.Rejection{Kind: "client", ID: snap.Clients[j].ID, Reason: err.Error()})
			continue
		}
		res.ValidClients[j] = true
	}

	for i := range snap.Employees {
		if !res.ValidEmployees[i] {
			continue
		}
		e := &snap.Employees[i]
		for j := range snap.Clients {
			if !res.ValidClients[j] {
				continue
			}
			ok, reason := Check(e, &snap.Clients[j])
			if !ok {
				res.Ineligible[reason]++
				continue
			}
			res.Pairs = append(res.Pairs, Pair{Employee: i, Client: j})
		}
	}

	logger.Debug("eligibility filtered",
		"employees", len(snap.Employees),
		"clients", len(snap.Clients),
		"eligible_pairs", len(res.Pairs),
		"unreachable", res.Ineligible[ReasonUnreachable],
		"missing_qualification", res.Ineligible[ReasonMissingQualification],
		"blacklisted", res.Ineligible[ReasonBlacklisted],
	)
	return res
}
