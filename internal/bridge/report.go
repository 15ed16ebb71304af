package bridge

import (
	"context"
	"fmt"
	"strings"
	"time"
)

var reportRule = strings.Repeat("=", 50)

// StatusReport renders the periodic status block as of now
func (b *Bridge) StatusReport(now time.Time) []string {
	s := b.stats.Snapshot()

	lines := []string{
		reportRule,
		"Status Report:",
		fmt.Sprintf("  Total syncs: %d", s.SyncCount),
		fmt.Sprintf("  Errors: %d", s.ErrorCount),
		fmt.Sprintf("  Success rate: %s%%", s.SuccessRateString()),
		fmt.Sprintf("  Reset checks: %d (%d failed)", s.ResetChecks, s.ResetErrors),
	}

	for _, d := range b.gate.Snapshot() {
		ago := now.Sub(d.Record.LastSyncTime).Seconds()
		lines = append(lines, fmt.Sprintf("  %s: %vW (last sync %.0fs ago)", d.ID, d.Record.LastPowerValue, ago))
	}

	return append(lines, reportRule)
}

// FinalStats renders the shutdown summary line
func (b *Bridge) FinalStats() string {
	s := b.stats.Snapshot()
	return fmt.Sprintf("Final stats: %d syncs, %d errors", s.SyncCount, s.ErrorCount)
}

// RunReporter prints the status report every status interval until ctx is cancelled
func (b *Bridge) RunReporter(ctx context.Context) error {
	runPeriodic(ctx, b.cfg.StatusInterval, b.debug, "Reporter", func(context.Context) {
		for _, line := range b.StatusReport(b.now()) {
			b.logger.Println(line)
		}
	})
	return nil
}
