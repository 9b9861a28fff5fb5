package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/icsight/icsight/internal/alert"
	"github.com/icsight/icsight/internal/control"
	"github.com/icsight/icsight/internal/engine"
	"github.com/icsight/icsight/internal/health"
	"github.com/icsight/icsight/internal/model"
	"github.com/icsight/icsight/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	api    *HTTPAPI
	engine *engine.Engine
	events *store.Events
	alerts *alert.Emitter
	srv    *httptest.Server
}

func newFixture(t *testing.T, upstream string) *fixture {
	t.Helper()

	events := store.NewEvents(1000)
	status := store.NewStatus()
	est := health.NewEstimator(10, 10*time.Second)
	est.SetState(model.StateConnected)
	emitter := alert.NewEmitter(alert.DefaultPolicy(), 5*time.Second, 20, testLogger(), nil)
	eng := engine.New(engine.Options{}, events, status, est, emitter, nil, nil, testLogger(), nil)

	var facade *control.Facade
	if upstream != "" {
		facade = control.NewFacade(upstream, eng, testLogger(), nil)
	}

	api := NewHTTPAPI(eng, events, status, emitter, facade, nil,
		func() model.ConnectionState { return model.StateConnected }, nil, testLogger())

	srv := httptest.NewServer(api.Router())
	t.Cleanup(srv.Close)
	return &fixture{api: api, engine: eng, events: events, alerts: emitter, srv: srv}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func pushEvents(f *fixture, n int, attackType string) {
	now := time.Now().UTC()
	for i := 0; i < n; i++ {
		f.events.Push(model.ClassifiedEvent{
			ID:                  int64(i),
			Timestamp:           now,
			SourceEndpoint:      "192.168.1.10",
			DestinationEndpoint: "192.168.1.20",
			Protocol:            "tcp",
			SizeBytes:           64,
			AttackType:          attackType,
			Severity:            model.SeverityNormal,
		})
	}
}

func TestHandleEvents_LimitAndOrder(t *testing.T) {
	f := newFixture(t, "")
	pushEvents(f, 5, "")

	var body struct {
		Events []model.ClassifiedEvent `json:"events"`
		Count  int                     `json:"count"`
	}
	code := getJSON(t, f.srv.URL+"/api/events?limit=3", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, body.Count)
	// Newest first.
	assert.Equal(t, int64(4), body.Events[0].ID)
}

func TestHandleSnapshot_ReflectsBuffer(t *testing.T) {
	f := newFixture(t, "")
	pushEvents(f, 3, "dos")
	f.engine.Recompute()

	var snap engine.Snapshot
	code := getJSON(t, f.srv.URL+"/api/snapshot", &snap)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, 3, snap.EventCount)
	assert.Equal(t, int64(3), snap.Distributions.AttackType["dos"])
	require.NotEmpty(t, snap.Graph.Nodes)
}

func TestHandleHealthScore(t *testing.T) {
	f := newFixture(t, "")
	f.engine.Recompute()

	var body struct {
		Score           int    `json:"score"`
		ConnectionState string `json:"connection_state"`
	}
	code := getJSON(t, f.srv.URL+"/api/health-score", &body)

	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "connected", body.ConnectionState)
	// Connected with an empty window reads neutral.
	assert.Equal(t, health.NeutralScore, body.Score)
}

func TestHandleAlerts(t *testing.T) {
	f := newFixture(t, "")
	f.alerts.Consider(model.ClassifiedEvent{
		SourceEndpoint: "10.0.0.9", DestinationEndpoint: "10.0.0.1",
		AttackType: "dos", Severity: model.SeverityHigh,
	})

	var body struct {
		Current *model.AlertNotice  `json:"current"`
		History []model.AlertNotice `json:"history"`
	}
	code := getJSON(t, f.srv.URL+"/api/alerts", &body)

	assert.Equal(t, http.StatusOK, code)
	require.NotNil(t, body.Current)
	assert.Equal(t, "dos", body.Current.AttackType)
	assert.Len(t, body.History, 1)
}

func TestHandleControl_SuccessAndReset(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data":   map[string]any{"is_running": false, "current_row": 0},
		})
	}))
	defer upstream.Close()

	f := newFixture(t, upstream.URL)
	pushEvents(f, 5, "")

	resp, err := http.Post(f.srv.URL+"/api/control", "application/json",
		strings.NewReader(`{"action":"reset"}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	// Reset clears the session buffer.
	assert.Equal(t, 0, f.events.Len())
}

func TestHandleControl_UpstreamRejection(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"status": "error", "message": "simulation is not running"})
	}))
	defer upstream.Close()

	f := newFixture(t, upstream.URL)

	resp, err := http.Post(f.srv.URL+"/api/control", "application/json",
		strings.NewReader(`{"action":"set_speed","speed":2.5}`))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, "simulation is not running", body["message"])
}

func TestHandleControl_NotConfigured(t *testing.T) {
	f := newFixture(t, "")
	resp, err := http.Post(f.srv.URL+"/api/control", "application/json",
		strings.NewReader(`{"action":"start"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandleReady(t *testing.T) {
	f := newFixture(t, "")
	var body map[string]any
	code := getJSON(t, f.srv.URL+"/readyz", &body)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ready", body["status"])
	assert.Equal(t, "connected", body["transport_state"])
}
