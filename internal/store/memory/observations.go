// Package memory provides in-memory stores for tests and local development.
package memory

import (
	"context"
	"sync"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// ObservationStore keeps observations in a map, partitioned by group.
type ObservationStore struct {
	mu     sync.Mutex
	groups map[watch.GroupKey]map[string]watch.Observation
	saves  int
}

// NewObservationStore constructs an empty store.
func NewObservationStore() *ObservationStore {
	return &ObservationStore{groups: make(map[watch.GroupKey]map[string]watch.Observation)}
}

// Last returns the prior observation for a target within a group.
func (s *ObservationStore) Last(_ context.Context, group watch.GroupKey, target string) (watch.Observation, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.groups[group]
	if !ok {
		return watch.Observation{}, false, nil
	}
	obs, ok := records[target]
	return obs, ok, nil
}

// Save upserts the observation.
func (s *ObservationStore) Save(_ context.Context, obs watch.Observation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	records, ok := s.groups[obs.Group]
	if !ok {
		records = make(map[string]watch.Observation)
		s.groups[obs.Group] = records
	}
	records[obs.Target] = obs
	s.saves++
	return nil
}

// Saves reports how many observations were persisted; used by tests asserting
// change-only persistence.
func (s *ObservationStore) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// FleetStore keeps the unit list in memory.
type FleetStore struct {
	mu    sync.Mutex
	units []watch.ProxyUnit
	saves int
}

// NewFleetStore constructs an empty fleet store.
func NewFleetStore() *FleetStore {
	return &FleetStore{}
}

// Seed replaces the stored unit list without counting as a save.
func (s *FleetStore) Seed(units []watch.ProxyUnit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append([]watch.ProxyUnit(nil), units...)
}

// Load returns the stored unit list.
func (s *FleetStore) Load(_ context.Context) ([]watch.ProxyUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]watch.ProxyUnit(nil), s.units...), nil
}

// Save replaces the stored unit list.
func (s *FleetStore) Save(_ context.Context, units []watch.ProxyUnit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.units = append([]watch.ProxyUnit(nil), units...)
	s.saves++
	return nil
}

// Units returns a snapshot of the stored list.
func (s *FleetStore) Units() []watch.ProxyUnit {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]watch.ProxyUnit(nil), s.units...)
}
