package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"github.com/dropsignal/fleetpoller/internal/notify"
)

// TestPrometheusSinkRecordsMetrics ensures collectors update from events.
func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	runID := notify.UUIDToBytes(uuid.New())
	now := time.Now().UTC()
	batch := []notify.Event{
		{RunID: runID, TS: now, Kind: notify.KindCheckStarted, Target: "t", Region: "us-east-1"},
		{
			RunID:     runID,
			TS:        now.Add(time.Second),
			Kind:      notify.KindChange,
			Group:     "alpha",
			Target:    "t",
			Slots:     []string{"2026-09-01"},
			Available: true,
		},
		{RunID: runID, TS: now.Add(2 * time.Second), Kind: notify.KindCheckFinished, Target: "t", Dur: 1200 * time.Millisecond},
		{RunID: runID, TS: now.Add(3 * time.Second), Kind: notify.KindCheckFinished, Target: "t", Dur: time.Second, Note: "timeout"},
	}

	require.NoError(t, sink.Consume(context.Background(), batch))

	require.Equal(t, 1.0, testutil.ToFloat64(sink.checksStarted.WithLabelValues("us-east-1")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.checksFinished.WithLabelValues("ok")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.checksFinished.WithLabelValues("error")))
	require.Equal(t, 1.0, testutil.ToFloat64(sink.changeEvents.WithLabelValues("alpha")))
	require.Equal(t, 2, testutil.CollectAndCount(sink.checkDuration, "fleetpoller_check_duration_seconds"))
}

// TestPrometheusSinkRejectsDuplicateRegistration guards against double wiring.
func TestPrometheusSinkRejectsDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}
