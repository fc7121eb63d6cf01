// Package watch defines core types shared across subsystems.
package watch

import (
	"time"
)

// GroupKey identifies the product/source a target belongs to. It is used for
// fair interleaving of the base rotation and for routing persisted
// observations.
type GroupKey string

// Target is one unit of work: a page to be checked repeatedly. Targets are
// immutable once generated.
type Target struct {
	URL   string
	Group GroupKey
}

// Key returns the identity used for priority records and observation lookups.
func (t Target) Key() string {
	return t.URL
}

// Tier is the priority level assigned to a target based on observed state.
// Tier1 is the highest urgency; TierNone means no live priority record.
type Tier int

// Priority tiers.
const (
	TierNone Tier = 0
	Tier1    Tier = 1
	Tier2    Tier = 2
	Tier3    Tier = 3
)

// ProxyUnit is one ephemeral network-egress endpoint and its backing cloud
// service record. Owned by the fleet manager until handed to exactly one
// worker pool at startup.
type ProxyUnit struct {
	ID            string    `json:"id"`
	Region        string    `json:"region"`
	Endpoint      string    `json:"endpoint"`
	ServiceRef    string    `json:"service_ref"`
	PublicAddress string    `json:"public_address"`
	CreatedAt     time.Time `json:"created_at"`
}

// StructuredResult is the classified outcome of one executor run against a
// target. A nil StructuredResult means "no data" (timeout or empty page).
type StructuredResult struct {
	// Slots holds the fixed-size ordered state vector extracted from the page
	// (one entry per watched variant/selector).
	Slots []string
	// Purchasable reports whether the page showed a buyable state.
	Purchasable bool
	// Listed reports whether the page showed an active listing.
	Listed bool
}

// Available reports whether the target showed any live state at all.
func (r *StructuredResult) Available() bool {
	if r == nil {
		return false
	}
	return r.Purchasable || r.Listed
}

// Observation is the persisted result of processing one target once.
type Observation struct {
	Target    string    `json:"target"`
	Group     GroupKey  `json:"group"`
	Slots     []string  `json:"slots"`
	Available bool      `json:"available"`
	CheckedAt time.Time `json:"checked_at"`
}

// Equal compares the observed state, ignoring CheckedAt. Workers use it to
// decide whether persisted state actually changed.
func (o Observation) Equal(other Observation) bool {
	if o.Target != other.Target || o.Group != other.Group || o.Available != other.Available {
		return false
	}
	if len(o.Slots) != len(other.Slots) {
		return false
	}
	for i := range o.Slots {
		if o.Slots[i] != other.Slots[i] {
			return false
		}
	}
	return true
}
