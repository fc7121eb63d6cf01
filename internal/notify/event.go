// Package notify defines the event stream emitted by poll workers: check
// lifecycle milestones and observation changes, fanned out to sinks.
package notify

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Kind denotes the type of milestone represented by an Event.
type Kind string

// Supported event kinds.
const (
	KindCheckStarted  Kind = "CHECK_STARTED"
	KindCheckFinished Kind = "CHECK_FINISHED"
	KindChange        Kind = "OBSERVATION_CHANGED"
)

// Event captures a single poll milestone.
type Event struct {
	// RunID identifies one process run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Kind denotes which milestone occurred.
	Kind Kind
	// Group scopes the event to a target grouping key.
	Group watch.GroupKey
	// Target is the polled target key.
	Target string
	// UnitID names the proxy unit the check ran through.
	UnitID string
	// Region is the unit's provider region.
	Region string
	// Slots carries the structured slot labels for change events.
	Slots []string
	// Available reports the coarse availability signal for change events.
	Available bool
	// Dur captures check latency for finished events.
	Dur time.Duration
	// Note lets emitters attach low-volume debug context (e.g. error text).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Kind {
	case KindCheckStarted, KindCheckFinished:
		if e.Target == "" {
			return errors.New("check events require a target")
		}
	case KindChange:
		if e.Target == "" {
			return errors.New("change events require a target")
		}
		if e.Group == "" {
			return errors.New("change events require a group")
		}
	default:
		return fmt.Errorf("unknown kind %q", e.Kind)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID for downstream consumers.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}
