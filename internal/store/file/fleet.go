// Package file implements disk-backed stores: a JSON fleet-state file and
// per-group CSV observation files.
package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// fleetState is the on-disk shape of the persisted fleet.
type fleetState struct {
	UpdatedAt time.Time         `json:"updated_at"`
	Units     []watch.ProxyUnit `json:"units"`
}

// FleetStore persists the proxy unit list as a single JSON file, rewritten
// wholesale on every mutation.
type FleetStore struct {
	path  string
	clock watch.Clock

	mu sync.Mutex
}

// NewFleetStore creates a FleetStore writing to path.
func NewFleetStore(path string, clock watch.Clock) (*FleetStore, error) {
	if path == "" {
		return nil, errors.New("fleet state path is required")
	}
	return &FleetStore{path: path, clock: clock}, nil
}

// Load reads the persisted unit list. A missing file means an empty fleet,
// not an error.
func (s *FleetStore) Load(_ context.Context) ([]watch.ProxyUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read fleet state: %w", err)
	}
	var state fleetState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode fleet state: %w", err)
	}
	return state.Units, nil
}

// Save rewrites the state file with the given unit list.
func (s *FleetStore) Save(_ context.Context, units []watch.ProxyUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := fleetState{
		UpdatedAt: s.clock.Now(),
		Units:     units,
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode fleet state: %w", err)
	}
	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	if err := os.WriteFile(s.path, data, 0o600); err != nil {
		return fmt.Errorf("write fleet state: %w", err)
	}
	return nil
}
