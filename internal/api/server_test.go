package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/schedule"
	"github.com/dropsignal/fleetpoller/internal/watch"
	"github.com/dropsignal/fleetpoller/internal/worker"
)

type fakeFleet struct {
	units    []watch.ProxyUnit
	tornDown []string
}

func (f *fakeFleet) Units() []watch.ProxyUnit {
	return append([]watch.ProxyUnit(nil), f.units...)
}

func (f *fakeFleet) Teardown(_ context.Context, unitID string) error {
	for _, u := range f.units {
		if u.ID == unitID {
			f.tornDown = append(f.tornDown, unitID)
			return nil
		}
	}
	return fmt.Errorf("unknown unit %q", unitID)
}

type fakeQueue struct{ status schedule.Status }

func (f *fakeQueue) Status() schedule.Status { return f.status }

type fakePool struct{ states []worker.State }

func (f *fakePool) States() []worker.State { return f.states }
func (f *fakePool) Size() int              { return len(f.states) }

func newTestServer() (*Server, *fakeFleet) {
	fleet := &fakeFleet{units: []watch.ProxyUnit{
		{ID: "u1", Region: "us-east-1", Endpoint: "http://198.51.100.1:8888"},
		{ID: "u2", Region: "us-west-2", Endpoint: "http://198.51.100.2:8888"},
	}}
	queue := &fakeQueue{status: schedule.Status{
		Targets:  4,
		Position: 2,
		Cycle:    1,
		Tiers:    map[watch.Tier]int{watch.Tier1: 1},
	}}
	pool := &fakePool{states: []worker.State{
		{ID: 1, UnitID: "u1", Region: "us-east-1", Busy: true, Target: "https://shop.example/p/a"},
		{ID: 2, UnitID: "u2", Region: "us-west-2"},
	}}
	return NewServer(fleet, queue, pool, zap.NewNop()), fleet
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestGetStatus(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Fleet struct {
			Units   int            `json:"units"`
			Regions map[string]int `json:"regions"`
		} `json:"fleet"`
		Queue *struct {
			Targets  int `json:"targets"`
			Position int `json:"position"`
		} `json:"queue"`
		Workers []struct {
			UnitID string `json:"unit_id"`
			Busy   bool   `json:"busy"`
		} `json:"workers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Fleet.Units)
	require.Equal(t, 1, resp.Fleet.Regions["us-east-1"])
	require.NotNil(t, resp.Queue)
	require.Equal(t, 4, resp.Queue.Targets)
	require.Len(t, resp.Workers, 2)
	require.True(t, resp.Workers[0].Busy)
}

func TestGetStatus_ManagementOnlyMode(t *testing.T) {
	t.Parallel()

	fleet := &fakeFleet{}
	server := NewServer(fleet, nil, nil, zap.NewNop())
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	_, hasQueue := resp["queue"]
	require.False(t, hasQueue)
}

func TestListUnits(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/fleet/", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Units []watch.ProxyUnit `json:"units"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Units, 2)
}

func TestTeardownUnit(t *testing.T) {
	t.Parallel()

	server, fleet := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/fleet/u1", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"u1"}, fleet.tornDown)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/v1/fleet/nope", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	server, _ := newTestServer()
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
}
