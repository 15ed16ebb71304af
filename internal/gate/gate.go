// Package gate decides which device observations are forwarded downstream
package gate

import (
	"sort"
	"sync"
	"time"

	"wattchbridge/internal/device"
)

// DefaultInterval is the sync interval used when none is configured
const DefaultInterval = 10 * time.Second

// Record is the per-device sync state
type Record struct {
	LastSyncTime   time.Time `json:"lastSyncTime"`
	LastPowerValue float64   `json:"lastPowerValue"`
}

// Decision is the outcome of evaluating one observation
type Decision struct {
	Forward         bool
	DurationSeconds float64
	Power           float64 // power reading as evaluated (missing/negative -> 0)
	Record          Record  // record after the observation was applied
}

// Decide evaluates an observation against the device's record.
// rec is nil for a device that has never been observed.
//
// The stored power value advances as soon as a forward is decided, before
// the outbound call is attempted.
func Decide(obs device.Observation, now time.Time, rec *Record, interval time.Duration) Decision {
	var r Record
	if rec == nil {
		r = Record{LastSyncTime: now, LastPowerValue: 0}
	} else {
		r = *rec
	}

	elapsed := now.Sub(r.LastSyncTime)
	if elapsed < 0 {
		// Clock went backwards: keep last_sync_time non-decreasing
		elapsed = 0
	} else {
		r.LastSyncTime = now
	}
	duration := elapsed.Seconds()

	current := obs.Power
	if current < 0 {
		current = 0
	}

	forward := !(current == r.LastPowerValue && duration < interval.Seconds())
	if forward {
		r.LastPowerValue = current
	}

	return Decision{
		Forward:         forward,
		DurationSeconds: duration,
		Power:           current,
		Record:          r,
	}
}

type entry struct {
	mu  sync.Mutex
	rec *Record
}

// Gate owns the sync records of all devices seen since start
type Gate struct {
	interval time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

// New creates a Gate. A non-positive interval falls back to DefaultInterval.
func New(interval time.Duration) *Gate {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Gate{
		interval: interval,
		entries:  make(map[string]*entry),
	}
}

// Interval returns the configured sync interval
func (g *Gate) Interval() time.Duration {
	return g.interval
}

// Observe applies an observation to the device's record and returns the decision.
// Evaluation of a single device is serialized; different devices proceed independently.
func (g *Gate) Observe(id string, obs device.Observation, now time.Time) Decision {
	e := g.entry(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	d := Decide(obs, now, e.rec, g.interval)
	rec := d.Record
	e.rec = &rec
	return d
}

func (g *Gate) entry(id string) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()

	e, ok := g.entries[id]
	if !ok {
		e = &entry{}
		g.entries[id] = e
	}
	return e
}

// Lookup returns a copy of the device's record
func (g *Gate) Lookup(id string) (Record, bool) {
	g.mu.Lock()
	e, ok := g.entries[id]
	g.mu.Unlock()
	if !ok {
		return Record{}, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.rec == nil {
		return Record{}, false
	}
	return *e.rec, true
}

// DeviceState is a reporting view of one device
type DeviceState struct {
	ID       string          `json:"id"`
	Category device.Category `json:"category"`
	Record
}

// Snapshot returns all known devices sorted by id
func (g *Gate) Snapshot() []DeviceState {
	g.mu.Lock()
	ids := make([]string, 0, len(g.entries))
	for id := range g.entries {
		ids = append(ids, id)
	}
	g.mu.Unlock()

	sort.Strings(ids)

	states := make([]DeviceState, 0, len(ids))
	for _, id := range ids {
		if rec, ok := g.Lookup(id); ok {
			states = append(states, DeviceState{
				ID:       id,
				Category: device.Classify(id),
				Record:   rec,
			})
		}
	}
	return states
}

// Len returns the number of devices with a record
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.entries)
}
