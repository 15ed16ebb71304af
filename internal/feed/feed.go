// Package feed delivers realtime store snapshots to the bridge
package feed

import (
	"context"
	"fmt"
	"sort"
	"time"

	"wattchbridge/internal/device"
)

// Snapshot is the full set of device observations at one point in time.
// Devices is nil when the subscribed path holds no data.
type Snapshot struct {
	Devices    map[string]device.Observation
	ReceivedAt time.Time
}

// IDs returns the snapshot's device keys in sorted order
func (s Snapshot) IDs() []string {
	ids := make([]string, 0, len(s.Devices))
	for id := range s.Devices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Source produces snapshots until ctx is cancelled
type Source interface {
	Name() string
	Run(ctx context.Context, out chan<- Snapshot) error
}

// ErrorHandler is notified of recoverable feed errors
type ErrorHandler func(err error)

// SubscriptionError is a failure of the change subscription itself
type SubscriptionError struct {
	Source string
	Err    error
}

func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("%s subscription: %v", e.Source, e.Err)
}

func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// emit sends a snapshot unless ctx is done first
func emit(ctx context.Context, out chan<- Snapshot, snap Snapshot) bool {
	select {
	case out <- snap:
		return true
	case <-ctx.Done():
		return false
	}
}

// snapshotFromTree converts a decoded store subtree into a Snapshot
func snapshotFromTree(tree interface{}, at time.Time) Snapshot {
	snap := Snapshot{ReceivedAt: at}
	if tree == nil {
		return snap
	}

	snap.Devices = make(map[string]device.Observation)
	m, ok := tree.(map[string]interface{})
	if !ok {
		return snap
	}
	for key, v := range m {
		snap.Devices[key] = device.ParseObservation(v)
	}
	return snap
}
