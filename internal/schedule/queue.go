// Package schedule implements the target scheduler: a fixed, fairly
// interleaved base rotation plus a priority overlay with bounded line-cutting
// and per-target throttling.
package schedule

import (
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/dropsignal/fleetpoller/internal/metrics"
	"github.com/dropsignal/fleetpoller/internal/watch"
)

// Group is one grouping key's ordered target list, used to build the base
// rotation.
type Group struct {
	Key     watch.GroupKey
	Targets []watch.Target
}

// Interleave builds the base rotation by stepping through every group's list
// one element at a time, round-robin across groups, until all are exhausted.
// No single group can monopolize early rotation slots.
func Interleave(groups []Group) []watch.Target {
	total := 0
	for _, g := range groups {
		total += len(g.Targets)
	}
	rotation := make([]watch.Target, 0, total)
	for round := 0; len(rotation) < total; round++ {
		for _, g := range groups {
			if round < len(g.Targets) {
				rotation = append(rotation, g.Targets[round])
			}
		}
	}
	return rotation
}

// Config controls the priority overlay. Zero values fall back to a 30s
// throttle and a base cut limit of 5.
type Config struct {
	// Throttle is the minimum interval between priority re-checks of one
	// target.
	Throttle time.Duration
	// BaseLimit scales the per-tier cut distances: tier 1 may cut 2×BaseLimit
	// steps ahead of the cursor, tier 2 BaseLimit, tier 3 BaseLimit/2.
	BaseLimit int
}

func (c Config) withDefaults() Config {
	if c.Throttle <= 0 {
		c.Throttle = 30 * time.Second
	}
	if c.BaseLimit <= 0 {
		c.BaseLimit = 5
	}
	return c
}

// record is one live priority entry.
type record struct {
	target      watch.Target
	tier        watch.Tier
	promotedAt  time.Time
	lastChecked time.Time
	reason      string
}

// Status summarizes queue progress for reporting surfaces.
type Status struct {
	Targets  int                `json:"targets"`
	Position int                `json:"position"`
	Cycle    int                `json:"cycle"`
	Tiers    map[watch.Tier]int `json:"tiers"`
}

// Queue schedules targets. All operations are safe for concurrent use by
// multiple workers; one logical pull is atomic, so two workers never receive
// the same base-rotation slot, and a priority record is claimed (its throttle
// stamped) in the same critical section that selects it.
type Queue struct {
	mu       sync.Mutex
	rotation []watch.Target
	position map[string]int
	cursor   int
	records  map[string]*record
	cfg      Config
	clock    watch.Clock
}

// New builds a Queue over a fixed rotation. The rotation must not change
// length afterwards; cursor and cut-distance math assume it is immutable.
func New(rotation []watch.Target, cfg Config, clock watch.Clock) *Queue {
	position := make(map[string]int, len(rotation))
	for i, t := range rotation {
		position[t.Key()] = i
	}
	return &Queue{
		rotation: rotation,
		position: position,
		records:  make(map[string]*record),
		cfg:      cfg.withDefaults(),
		clock:    clock,
	}
}

// SetPriority creates, refreshes, or clears the priority record for a target.
// TierNone clears. An unchanged tier only refreshes the promotion time and
// keeps the throttle state; a changed tier replaces the record outright.
func (q *Queue) SetPriority(target watch.Target, tier watch.Tier, reason string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	key := target.Key()
	if tier == watch.TierNone {
		delete(q.records, key)
		return
	}

	now := q.clock.Now()
	if existing, ok := q.records[key]; ok && existing.tier == tier {
		existing.promotedAt = now
		existing.reason = reason
		return
	}
	q.records[key] = &record{
		target:     target,
		tier:       tier,
		promotedAt: now,
		reason:     reason,
	}
	metrics.ObservePromotion(strconv.Itoa(int(tier)))
}

// Next returns the next target to process: a claimable priority candidate if
// one exists, otherwise the next base-rotation slot. Priority hits are extra
// work; they never advance the base cursor.
func (q *Queue) Next() (watch.Target, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.rotation) == 0 {
		return watch.Target{}, false
	}
	if target, ok := q.nextPriorityLocked(); ok {
		metrics.ObserveQueuePull("priority")
		return target, true
	}
	target := q.rotation[q.cursor%len(q.rotation)]
	q.cursor++
	metrics.ObserveQueuePull("base")
	return target, true
}

// nextPriorityLocked selects the most urgent claimable record: throttle
// elapsed, ordered by tier ascending then promotion time ascending, and close
// enough to the cursor to cut the line for its tier.
func (q *Queue) nextPriorityLocked() (watch.Target, bool) {
	now := q.clock.Now()
	candidates := make([]*record, 0, len(q.records))
	for _, rec := range q.records {
		if rec.lastChecked.IsZero() || now.Sub(rec.lastChecked) >= q.cfg.Throttle {
			candidates = append(candidates, rec)
		}
	}
	if len(candidates) == 0 {
		return watch.Target{}, false
	}

	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].tier != candidates[j].tier {
			return candidates[i].tier < candidates[j].tier
		}
		if !candidates[i].promotedAt.Equal(candidates[j].promotedAt) {
			return candidates[i].promotedAt.Before(candidates[j].promotedAt)
		}
		return candidates[i].target.Key() < candidates[j].target.Key()
	})

	for _, rec := range candidates {
		pos, ok := q.position[rec.target.Key()]
		if !ok {
			continue
		}
		if q.forwardDistance(pos) <= q.cutLimit(rec.tier) {
			rec.lastChecked = now
			return rec.target, true
		}
	}
	return watch.Target{}, false
}

// forwardDistance measures circular forward steps from the cursor to pos.
func (q *Queue) forwardDistance(pos int) int {
	n := len(q.rotation)
	cur := q.cursor % n
	return ((pos-cur)%n + n) % n
}

func (q *Queue) cutLimit(tier watch.Tier) int {
	switch tier {
	case watch.Tier1:
		return 2 * q.cfg.BaseLimit
	case watch.Tier2:
		return q.cfg.BaseLimit
	case watch.Tier3:
		return q.cfg.BaseLimit / 2
	default:
		return 0
	}
}

// Status reports rotation progress and the live priority overlay.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	tiers := make(map[watch.Tier]int)
	for _, rec := range q.records {
		tiers[rec.tier]++
	}
	status := Status{
		Targets: len(q.rotation),
		Tiers:   tiers,
	}
	if len(q.rotation) > 0 {
		status.Position = q.cursor%len(q.rotation) + 1
		status.Cycle = q.cursor/len(q.rotation) + 1
	}
	return status
}

// Len returns the rotation length.
func (q *Queue) Len() int {
	return len(q.rotation)
}
