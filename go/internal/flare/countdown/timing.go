package countdown

import (
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
)

const tickGranularityMs = 100

// NextDelay picks the wait until the next tick so that ticks drift onto
// 100ms boundaries relative to nextFire instead of accumulating jitter.
// Residues under 50ms push the tick out to avoid a near-immediate wakeup;
// the residue then doubles each tick until it lands on a boundary.
func NextDelay(nextFire, now time.Time) time.Duration {
	diff := nextFire.Sub(now).Milliseconds()
	if diff < 0 {
		diff = 0
	}
	diff %= tickGranularityMs
	if diff < tickGranularityMs/2 {
		return time.Duration(tickGranularityMs-diff) * time.Millisecond
	}
	return time.Duration(diff) * time.Millisecond
}

// FormatTime renders whole seconds as M:SS.
func FormatTime(seconds int) string {
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}

// stopAndDrainTimer stops a timer and drains its channel so a later Reset
// does not observe a stale fire.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}
