package engine

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"
)

// runThroughputTicker publishes an aggregate download throughput figure and
// the overall downloaded/total image progress once a second. It blocks
// until ctx is cancelled.
func (e *Engine) runThroughputTicker(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n := atomic.SwapInt64(&e.bytesThisTick, 0)
			e.bus.PublishSpeed(formatRate(n))

			downloaded, total := e.registry.nonTerminalImageCounts()
			e.bus.PublishOverallProgress(downloaded, total)
		}
	}
}

// formatRate renders a bytes-per-second count as a human readable rate,
// scaling the unit so small and large transfers both read naturally.
func formatRate(bytesPerSec int64) string {
	const unit = 1024.0
	f := float64(bytesPerSec)
	switch {
	case f >= unit*unit:
		return fmt.Sprintf("%.2f MB/s", f/(unit*unit))
	case f >= unit:
		return fmt.Sprintf("%.2f KB/s", f/unit)
	default:
		return fmt.Sprintf("%.2f B/s", f)
	}
}
