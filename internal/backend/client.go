// Package backend talks to the scheduling backend that owns the roster and
// receives recommendations.
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

const (
	// MaxSuggestions is the number of suggestion slots per incident.
	MaxSuggestions = 3
	MaxShortLen    = 200
	MaxLongLen     = 8000

	NoSuggestion = "no suggestion found"
)

// Suggestion is one ranked employee proposed for an incident.
type Suggestion struct {
	EmployeeID string
	Short      string
	Long       string
}

type Client interface {
	FetchSnapshot(ctx context.Context, date time.Time) (*roster.Snapshot, error)
	PushRecommendations(ctx context.Context, incident roster.Incident, suggestions []Suggestion) error
	PushEmpty(ctx context.Context, incident roster.Incident) error
}

type HTTPClient struct {
	baseURL        string
	user           string
	password       string
	distanceCutoff float64
	httpClient     *http.Client
}

func NewHTTPClient(baseURL, user, password string, timeout time.Duration, distanceCutoff float64) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if distanceCutoff <= 0 {
		distanceCutoff = roster.DefaultDistanceCutoff
	}
	return &HTTPClient{
		baseURL:        strings.TrimRight(baseURL, "/"),
		user:           user,
		password:       password,
		distanceCutoff: distanceCutoff,
		httpClient:     &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) doReq(ctx context.Context, method, path, contentType string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if c.user != "" {
		req.SetBasicAuth(c.user, c.password)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("backend %s %s: %d %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// FetchSnapshot loads the roster for one day. Commute entries at or beyond
// the distance cutoff are dropped before the snapshot is returned.
func (c *HTTPClient) FetchSnapshot(ctx context.Context, date time.Time) (*roster.Snapshot, error) {
	path := "/api/v1/snapshot?date=" + url.QueryEscape(date.Format(time.DateOnly))
	data, err := c.doReq(ctx, http.MethodGet, path, "", nil)
	if err != nil {
		return nil, err
	}
	var snap roster.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Date.IsZero() {
		snap.Date = date
	}
	for i := range snap.Employees {
		snap.Employees[i].CommuteTime = roster.TrimCommute(snap.Employees[i].CommuteTime, c.distanceCutoff)
	}
	return &snap, nil
}

// PushRecommendations writes up to MaxSuggestions ranked suggestions onto
// the incident record. Extra suggestions are ignored and texts are clipped
// to the backend's field limits.
func (c *HTTPClient) PushRecommendations(ctx context.Context, incident roster.Incident, suggestions []Suggestion) error {
	if len(suggestions) > MaxSuggestions {
		suggestions = suggestions[:MaxSuggestions]
	}
	form := url.Values{}
	form.Set("id", incident.ID)
	if incident.Org != "" {
		form.Set("org", incident.Org)
	}
	for i, s := range suggestions {
		n := strconv.Itoa(i + 1)
		form.Set("mavertretendvorschlag"+n, s.EmployeeID)
		form.Set("erklaerungvorschlagkurz"+n, clip(s.Short, MaxShortLen))
		form.Set("erklaerungvorschlag"+n, clip(s.Long, MaxLongLen))
	}
	_, err := c.doReq(ctx, http.MethodPut, "/VMBegleitung", "application/x-www-form-urlencoded", strings.NewReader(form.Encode()))
	return err
}

// PushEmpty marks an incident as having no feasible suggestion.
func (c *HTTPClient) PushEmpty(ctx context.Context, incident roster.Incident) error {
	return c.PushRecommendations(ctx, incident, []Suggestion{{Short: NoSuggestion, Long: NoSuggestion}})
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
