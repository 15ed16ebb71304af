// Package stats holds the bridge's aggregate counters
package stats

import (
	"fmt"
	"sync/atomic"
)

// Stats counts outcomes of sync forwards and reset checks as separate streams
type Stats struct {
	syncs       atomic.Int64
	errors      atomic.Int64
	resetChecks atomic.Int64
	resetErrors atomic.Int64
}

// Snapshot is a point-in-time copy of the counters
type Snapshot struct {
	SyncCount   int64 `json:"syncCount"`
	ErrorCount  int64 `json:"errorCount"`
	ResetChecks int64 `json:"resetChecks"`
	ResetErrors int64 `json:"resetErrors"`
}

// New creates zeroed counters
func New() *Stats {
	return &Stats{}
}

// IncSync records a delivered forward
func (s *Stats) IncSync() { s.syncs.Add(1) }

// IncError records a failed forward
func (s *Stats) IncError() { s.errors.Add(1) }

// IncResetCheck records a reset check attempt, failed ones included
func (s *Stats) IncResetCheck() { s.resetChecks.Add(1) }

// IncResetError records a failed reset check
func (s *Stats) IncResetError() { s.resetErrors.Add(1) }

// Snapshot returns the current counter values
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		SyncCount:   s.syncs.Load(),
		ErrorCount:  s.errors.Load(),
		ResetChecks: s.resetChecks.Load(),
		ResetErrors: s.resetErrors.Load(),
	}
}

// SuccessRate returns the forward success percentage, 0 when nothing was delivered
func (s Snapshot) SuccessRate() float64 {
	if s.SyncCount == 0 {
		return 0
	}
	return float64(s.SyncCount) / float64(s.SyncCount+s.ErrorCount) * 100
}

// SuccessRateString formats the success rate the way the status report prints it
func (s Snapshot) SuccessRateString() string {
	if s.SyncCount == 0 {
		return "0"
	}
	return fmt.Sprintf("%.1f", s.SuccessRate())
}
