package bridge

import (
	"context"
	"log"
	"time"
)

// runPeriodic calls task every interval until ctx is cancelled.
// The first call happens one interval after start.
func runPeriodic(ctx context.Context, interval time.Duration, logger *log.Logger, name string, task func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if logger != nil {
				logger.Printf("[%s] Stopped", name)
			}
			return
		case <-ticker.C:
			task(ctx)
		}
	}
}
