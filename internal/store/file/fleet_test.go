package file

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestFleetStore_MissingFileMeansEmptyFleet(t *testing.T) {
	t.Parallel()

	store, err := NewFleetStore(filepath.Join(t.TempDir(), "fleet.json"), fixedClock{now: time.Unix(1000, 0).UTC()})
	require.NoError(t, err)

	units, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Empty(t, units)
}

func TestFleetStore_RoundTrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "state", "fleet.json")
	clock := fixedClock{now: time.Unix(5000, 0).UTC()}
	store, err := NewFleetStore(path, clock)
	require.NoError(t, err)

	units := []watch.ProxyUnit{
		{ID: "us-east-1-1-1", Region: "us-east-1", Endpoint: "http://198.51.100.1:8888", ServiceRef: "service/us-east-1/a", PublicAddress: "198.51.100.1", CreatedAt: clock.now},
		{ID: "us-west-2-2-2", Region: "us-west-2", Endpoint: "http://198.51.100.2:8888", ServiceRef: "service/us-west-2/b", PublicAddress: "198.51.100.2", CreatedAt: clock.now},
		{ID: "eu-west-1-3-3", Region: "eu-west-1", Endpoint: "http://198.51.100.3:8888", ServiceRef: "service/eu-west-1/c", PublicAddress: "198.51.100.3", CreatedAt: clock.now},
	}
	require.NoError(t, store.Save(context.Background(), units))

	// Reload through a fresh store to force a disk read.
	reopened, err := NewFleetStore(path, clock)
	require.NoError(t, err)
	loaded, err := reopened.Load(context.Background())
	require.NoError(t, err)
	require.Equal(t, units, loaded)
}
