package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

func TestObservationStore_LastBeforeAnySave(t *testing.T) {
	t.Parallel()

	store, err := NewObservationStore(t.TempDir())
	require.NoError(t, err)

	_, found, err := store.Last(context.Background(), "alpha", "https://shop.example/p/1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestObservationStore_SaveThenReloadFromDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store, err := NewObservationStore(dir)
	require.NoError(t, err)

	obs := watch.Observation{
		Target:    "https://shop.example/p/1",
		Group:     "alpha",
		Slots:     []string{"in_stock", "", "backorder"},
		Available: true,
		CheckedAt: time.Unix(7000, 0).UTC(),
	}
	require.NoError(t, store.Save(context.Background(), obs))

	// A fresh store must lazily load the group file.
	reopened, err := NewObservationStore(dir)
	require.NoError(t, err)
	loaded, found, err := reopened.Last(context.Background(), "alpha", obs.Target)
	require.NoError(t, err)
	require.True(t, found)
	require.True(t, obs.Equal(loaded))
	require.Equal(t, obs.CheckedAt, loaded.CheckedAt)
}

func TestObservationStore_GroupsArePartitioned(t *testing.T) {
	t.Parallel()

	store, err := NewObservationStore(t.TempDir())
	require.NoError(t, err)

	obs := watch.Observation{
		Target:    "https://shop.example/p/2",
		Group:     "alpha",
		Available: false,
		CheckedAt: time.Unix(7500, 0).UTC(),
	}
	require.NoError(t, store.Save(context.Background(), obs))

	_, found, err := store.Last(context.Background(), "beta", obs.Target)
	require.NoError(t, err)
	require.False(t, found)
}
