package stats

import (
	"sync"
	"testing"
)

func TestCountersAreSeparate(t *testing.T) {
	s := New()
	s.IncSync()
	s.IncSync()
	s.IncError()
	s.IncResetError()

	snap := s.Snapshot()
	if snap.SyncCount != 2 || snap.ErrorCount != 1 {
		t.Errorf("Unexpected sync stream: %+v", snap)
	}
	if snap.ResetChecks != 0 || snap.ResetErrors != 1 {
		t.Errorf("Unexpected reset stream: %+v", snap)
	}
}

func TestSuccessRate(t *testing.T) {
	tests := []struct {
		name     string
		snap     Snapshot
		expected string
	}{
		{"nothing yet", Snapshot{}, "0"},
		{"only errors", Snapshot{ErrorCount: 4}, "0"},
		{"all good", Snapshot{SyncCount: 3}, "100.0"},
		{"two thirds", Snapshot{SyncCount: 2, ErrorCount: 1}, "66.7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.snap.SuccessRateString(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestConcurrentIncrements(t *testing.T) {
	s := New()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.IncSync()
				s.IncError()
			}
		}()
	}
	wg.Wait()

	snap := s.Snapshot()
	if snap.SyncCount != 2000 || snap.ErrorCount != 2000 {
		t.Errorf("Expected 2000/2000, got %d/%d", snap.SyncCount, snap.ErrorCount)
	}
}
