package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dropsignal/fleetpoller/internal/clock/system"
	"github.com/dropsignal/fleetpoller/internal/config"
	"github.com/dropsignal/fleetpoller/internal/notify"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

type fakeFleet struct {
	units       []watch.ProxyUnit
	provisioned int
	tornDown    []string
	allTornDown bool
}

func (f *fakeFleet) Units() []watch.ProxyUnit {
	return append([]watch.ProxyUnit(nil), f.units...)
}

func (f *fakeFleet) ProvisionBatch(_ context.Context, count int, _ []string) ([]watch.ProxyUnit, error) {
	created := make([]watch.ProxyUnit, 0, count)
	for i := range count {
		unit := watch.ProxyUnit{
			ID:       fmt.Sprintf("unit-%d", f.provisioned+i+1),
			Region:   "us-east-1",
			Endpoint: "http://198.51.100.1:8888",
		}
		created = append(created, unit)
		f.units = append(f.units, unit)
	}
	f.provisioned += count
	return created, nil
}

func (f *fakeFleet) Teardown(_ context.Context, unitID string) error {
	f.tornDown = append(f.tornDown, unitID)
	return nil
}

func (f *fakeFleet) TeardownAll(context.Context) error {
	f.allTornDown = true
	f.units = nil
	return nil
}

type fakeApp struct {
	cfg    config.Config
	fleet  *fakeFleet
	closed bool
}

func (f *fakeApp) Config() config.Config                { return f.cfg }
func (f *fakeApp) Logger() *zap.Logger                  { return zap.NewNop() }
func (f *fakeApp) Clock() watch.Clock                   { return system.Clock{} }
func (f *fakeApp) Fleet() Fleet                         { return f.fleet }
func (f *fakeApp) Executor() watch.Executor             { return nil }
func (f *fakeApp) Observations() watch.ObservationStore { return nil }
func (f *fakeApp) Captures() watch.CaptureStore         { return nil }
func (f *fakeApp) Hub() *notify.Hub                     { return nil }
func (f *fakeApp) Close(context.Context)                { f.closed = true }

func runCommand(t *testing.T, fleet *fakeFleet, args ...string) (string, error) {
	t.Helper()

	prev := newApp
	var built *fakeApp
	newApp = func(_ context.Context, cfg config.Config) (App, error) {
		built = &fakeApp{cfg: cfg, fleet: fleet}
		return built, nil
	}
	t.Cleanup(func() { newApp = prev })

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()

	if built != nil {
		require.True(t, built.closed, "application services should be closed after the command")
	}
	return out.String(), err
}

func TestListJSON(t *testing.T) {
	fleet := &fakeFleet{units: []watch.ProxyUnit{
		{ID: "unit-1", Region: "us-east-1", Endpoint: "http://198.51.100.1:8888"},
	}}

	out, err := runCommand(t, fleet, "list", "--format", "json")
	require.NoError(t, err)

	var units []watch.ProxyUnit
	require.NoError(t, json.Unmarshal([]byte(out), &units))
	require.Len(t, units, 1)
	require.Equal(t, "unit-1", units[0].ID)
}

func TestCreateProvisionsBatch(t *testing.T) {
	fleet := &fakeFleet{}

	out, err := runCommand(t, fleet, "create", "2")
	require.NoError(t, err)
	require.Equal(t, 2, fleet.provisioned)
	require.Contains(t, out, "provisioned 2 unit(s)")
}

func TestCreateRejectsBadCount(t *testing.T) {
	fleet := &fakeFleet{}

	_, err := runCommand(t, fleet, "create", "zero")
	require.Error(t, err)
	require.Zero(t, fleet.provisioned)
}

func TestTeardownAllRequiresForce(t *testing.T) {
	fleet := &fakeFleet{units: []watch.ProxyUnit{{ID: "unit-1"}}}

	_, err := runCommand(t, fleet, "teardown-all")
	require.Error(t, err)
	require.False(t, fleet.allTornDown)

	_, err = runCommand(t, fleet, "teardown-all", "--force")
	require.NoError(t, err)
	require.True(t, fleet.allTornDown)
}

func TestStatusSummarizesRegions(t *testing.T) {
	fleet := &fakeFleet{units: []watch.ProxyUnit{
		{ID: "unit-1", Region: "us-east-1"},
		{ID: "unit-2", Region: "us-east-1"},
		{ID: "unit-3", Region: "eu-west-1"},
	}}

	out, err := runCommand(t, fleet, "status")
	require.NoError(t, err)
	require.Contains(t, out, "units: 3")
	require.Contains(t, out, "us-east-1")
}
