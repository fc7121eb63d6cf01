package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHelpers_NoOpBeforeInit(t *testing.T) {
	// Must not panic even if Init never ran in this process order.
	SetFleetSize(3)
	ObserveQueuePull("base")
	IncBusyWorkers()
	DecBusyWorkers()
}

func TestInitAndHandler(t *testing.T) {
	Init()
	Init() // idempotent

	SetFleetSize(2)
	ObserveProvision("us-east-1", "success")
	ObserveQueuePull("priority")
	ObservePromotion("1")
	ObserveTarget("alpha", "ok")
	ObserveObservationChange("alpha")
	ObserveRetry("create-service")

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	Handler().ServeHTTP(rec, req)
	require.Equal(t, 200, rec.Code)
	require.Contains(t, rec.Body.String(), "fleetpoller_fleet_units")
}
