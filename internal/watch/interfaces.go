package watch

import (
	"context"
	"time"
)

// Executor opens page sessions against a proxy unit. Implementations must not
// mutate shared state; only the worker interprets results.
type Executor interface {
	NewSession(ctx context.Context, unit *ProxyUnit) (Session, error)
}

// Session is one persistent page/connection resource pinned to a proxy unit
// and reused across every target the owning worker processes.
//
// Execute returns (nil, snapshot, nil) when the page yielded no data inside
// the timeout; the snapshot, when non-empty, is raw page content usable for
// diagnostics. Implementations must honor the timeout by returning rather
// than hanging.
type Session interface {
	Execute(ctx context.Context, target Target, timeout time.Duration) (*StructuredResult, []byte, error)
	Close(ctx context.Context) error
}

// ObservationStore persists the latest observation per target, partitioned by
// grouping key.
type ObservationStore interface {
	Last(ctx context.Context, group GroupKey, target string) (Observation, bool, error)
	Save(ctx context.Context, obs Observation) error
}

// StateStore persists the fleet unit list. Load returns an empty list when no
// state has been written yet.
type StateStore interface {
	Load(ctx context.Context) ([]ProxyUnit, error)
	Save(ctx context.Context, units []ProxyUnit) error
}

// CaptureStore writes diagnostic page snapshots and returns a URI.
type CaptureStore interface {
	Put(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
