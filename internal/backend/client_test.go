package backend

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/Cover/internal/roster"
)

func TestFetchSnapshotTrimsCommute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pw, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "svc", user)
		assert.Equal(t, "pw", pw)
		assert.Equal(t, "/api/v1/snapshot", r.URL.Path)
		assert.Equal(t, "2025-05-12", r.URL.Query().Get("date"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"employees": []map[string]any{
				{"id": "E1", "qualifications": []string{}, "commute_time": map[string]float64{"S1": 5000, "S2": 60000, "S3": 75000}},
			},
			"clients": []map[string]any{
				{"id": "C1", "school": "S1", "priority": 2},
				{"id": "C2", "school": "S1"},
			},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "svc", "pw", time.Second, 0)
	date := time.Date(2025, 5, 12, 0, 0, 0, 0, time.UTC)
	snap, err := c.FetchSnapshot(context.Background(), date)
	require.NoError(t, err)

	assert.Equal(t, date, snap.Date)
	require.Len(t, snap.Employees, 1)
	assert.Equal(t, map[string]float64{"S1": 5000}, snap.Employees[0].CommuteTime)
	require.Len(t, snap.Clients, 2)
	assert.Equal(t, 2, snap.Clients[0].Priority)
	assert.Equal(t, roster.DefaultPriority, snap.Clients[1].Priority)
}

func TestFetchSnapshotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "", time.Second, 0)
	_, err := c.FetchSnapshot(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestPushRecommendations(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/VMBegleitung", r.URL.Path)
		assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "svc", "pw", time.Second, 0)
	long := strings.Repeat("x", MaxShortLen+50)
	suggestions := []Suggestion{
		{EmployeeID: "E1", Short: long, Long: "detail 1"},
		{EmployeeID: "E2", Short: "s2", Long: "detail 2"},
		{EmployeeID: "E3", Short: "s3", Long: "detail 3"},
		{EmployeeID: "E4", Short: "s4", Long: "detail 4"},
	}
	err := c.PushRecommendations(context.Background(), roster.Incident{ID: "INC-1", Org: "north"}, suggestions)
	require.NoError(t, err)

	assert.Equal(t, "INC-1", form.Get("id"))
	assert.Equal(t, "north", form.Get("org"))
	assert.Equal(t, "E1", form.Get("mavertretendvorschlag1"))
	assert.Len(t, form.Get("erklaerungvorschlagkurz1"), MaxShortLen)
	assert.Equal(t, "E3", form.Get("mavertretendvorschlag3"))
	assert.Empty(t, form.Get("mavertretendvorschlag4"))
}

func TestPushEmpty(t *testing.T) {
	var form url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ = url.ParseQuery(string(body))
	}))
	defer srv.Close()

	c := NewHTTPClient(srv.URL, "", "", time.Second, 0)
	require.NoError(t, c.PushEmpty(context.Background(), roster.Incident{ID: "INC-2"}))
	assert.Equal(t, "INC-2", form.Get("id"))
	assert.Empty(t, form.Get("mavertretendvorschlag1"))
	assert.Equal(t, NoSuggestion, form.Get("erklaerungvorschlagkurz1"))
}
