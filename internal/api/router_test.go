package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Cover/internal/assignment"
	"github.com/MikeSquared-Agency/Cover/internal/broker"
	"github.com/MikeSquared-Agency/Cover/internal/comments"
	"github.com/MikeSquared-Agency/Cover/internal/store"
)

// Mocks
type mockStore struct {
	cycles   []*store.Cycle
	recs     []store.Recommendation
	comments map[uuid.UUID][]comments.Event
	pingErr  error
}

func newMockStore() *mockStore {
	return &mockStore{comments: make(map[uuid.UUID][]comments.Event)}
}
func (m *mockStore) SaveCycle(_ context.Context, c *store.Cycle) error {
	m.cycles = append(m.cycles, c)
	return nil
}
func (m *mockStore) GetCycle(_ context.Context, id uuid.UUID) (*store.Cycle, error) {
	for _, c := range m.cycles {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, nil
}
func (m *mockStore) LatestCycle(_ context.Context) (*store.Cycle, error) {
	if len(m.cycles) == 0 {
		return nil, nil
	}
	return m.cycles[len(m.cycles)-1], nil
}
func (m *mockStore) SaveRecommendations(_ context.Context, recs []store.Recommendation) error {
	m.recs = append(m.recs, recs...)
	return nil
}
func (m *mockStore) GetRecommendation(_ context.Context, id uuid.UUID) (*store.Recommendation, error) {
	for i := range m.recs {
		if m.recs[i].ID == id {
			return &m.recs[i], nil
		}
	}
	return nil, nil
}
func (m *mockStore) ListRecommendations(_ context.Context, cycleID uuid.UUID) ([]store.Recommendation, error) {
	var out []store.Recommendation
	for _, r := range m.recs {
		if r.CycleID == cycleID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (m *mockStore) SaveComments(_ context.Context, cycleID uuid.UUID, events []comments.Event) error {
	m.comments[cycleID] = append(m.comments[cycleID], events...)
	return nil
}
func (m *mockStore) ListComments(_ context.Context, cycleID uuid.UUID) ([]comments.Event, error) {
	return m.comments[cycleID], nil
}
func (m *mockStore) RecordAssignments(_ context.Context, _ []store.HistoryRow) error { return nil }
func (m *mockStore) ListAssignmentHistory(_ context.Context, _ time.Time) ([]store.HistoryRow, error) {
	return nil, nil
}
func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }
func (m *mockStore) Close() error                 { return nil }

type mockRunner struct {
	mock.Mock
}

func (m *mockRunner) RunOnce(ctx context.Context, date time.Time, force bool) (*broker.Report, error) {
	args := m.Called(ctx, date, force)
	if r := args.Get(0); r != nil {
		return r.(*broker.Report), args.Error(1)
	}
	return nil, args.Error(1)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func seededStore() (*mockStore, *store.Cycle, store.Recommendation) {
	s := newMockStore()
	c := &store.Cycle{ID: uuid.New(), Status: store.CycleCompleted, Plans: 1, Payload: json.RawMessage(`{"big":true}`)}
	rec := store.Recommendation{
		ID:       uuid.New(),
		CycleID:  c.ID,
		Assigned: []assignment.AssignedPair{{EmployeeID: "E1", ClientID: "C1"}},
	}
	s.cycles = append(s.cycles, c)
	s.recs = append(s.recs, rec)
	s.comments[c.ID] = []comments.Event{
		{Subject: comments.Pair("E1", "C1"), Message: "distance: 5.00 km"},
		{Subject: comments.Employee("E1"), Message: "only one client within the catchment area"},
		{Subject: comments.Recommendation(rec.ID.String()), Message: "average distance: 5.00 km"},
		{Subject: comments.Recommendation(rec.ID.String()), Message: "average priority: 1.00"},
	}
	return s, c, rec
}

func TestLatestCycle(t *testing.T) {
	s, c, rec := seededStore()
	router := NewRouter(s, nil, "", discardLogger())

	req := httptest.NewRequest("GET", "/api/v1/cycles/latest", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		CycleID         uuid.UUID              `json:"cycle_id"`
		Payload         json.RawMessage        `json:"payload"`
		Recommendations []store.Recommendation `json:"recommendations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, c.ID, body.CycleID)
	assert.Empty(t, body.Payload)
	require.Len(t, body.Recommendations, 1)
	assert.Equal(t, rec.ID, body.Recommendations[0].ID)

	// The stored cycle keeps its payload.
	assert.NotEmpty(t, c.Payload)
}

func TestLatestCycleNotFound(t *testing.T) {
	router := NewRouter(newMockStore(), nil, "", discardLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cycles/latest", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetCycleInvalidID(t *testing.T) {
	router := NewRouter(newMockStore(), nil, "", discardLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cycles/not-a-uuid", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestCycleComments(t *testing.T) {
	s, c, _ := seededStore()
	router := NewRouter(s, nil, "", discardLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/cycles/"+c.ID.String()+"/comments", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var events []comments.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	assert.Len(t, events, 4)
}

func TestRecommendationExplanation(t *testing.T) {
	s, _, rec := seededStore()
	router := NewRouter(s, nil, "", discardLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/recommendations/"+rec.ID.String(), nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body recommendationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Explanations, 1)
	ex := body.Explanations[0]
	assert.Equal(t, "average distance: 5.00 km, average priority: 1.00", ex.Short)
	assert.Equal(t, []string{
		"distance: 5.00 km",
		"only one client within the catchment area",
		"average distance: 5.00 km",
		"average priority: 1.00",
	}, ex.Lines)
}

func TestRecommendationNotFound(t *testing.T) {
	router := NewRouter(newMockStore(), nil, "", discardLogger())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/api/v1/recommendations/"+uuid.NewString(), nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRunCycleRequiresToken(t *testing.T) {
	runner := &mockRunner{}
	router := NewRouter(newMockStore(), runner, "secret", discardLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/cycles/run", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	runner.AssertNotCalled(t, "RunOnce", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunCycle(t *testing.T) {
	runner := &mockRunner{}
	date := time.Date(2025, 5, 13, 0, 0, 0, 0, time.UTC)
	runner.On("RunOnce", mock.Anything, date, true).Return(&broker.Report{CycleID: "abc", Plans: 2}, nil)
	router := NewRouter(newMockStore(), runner, "secret", discardLogger())

	req := httptest.NewRequest("POST", "/api/v1/cycles/run", strings.NewReader(`{"date":"2025-05-13"}`))
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var report broker.Report
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, "abc", report.CycleID)
	runner.AssertExpectations(t)
}

func TestRunCycleErrors(t *testing.T) {
	runner := &mockRunner{}
	runner.On("RunOnce", mock.Anything, mock.Anything, true).Return(nil, errors.New("backend down"))
	router := NewRouter(newMockStore(), runner, "", discardLogger())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/cycles/run", strings.NewReader(`{"date":"13.05.2025"}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("POST", "/api/v1/cycles/run", nil))
	assert.Equal(t, http.StatusBadGateway, w.Code)
	assert.Contains(t, w.Body.String(), "backend down")
}

func TestMetricsRouter(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "cover_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	s := newMockStore()
	router := NewMetricsRouter(reg, s)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cover_test_total 1")

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	s.pingErr = errors.New("db gone")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
