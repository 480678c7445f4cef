package countdown

import (
	"time"

	"github.com/mobflare/mobflare/go/internal/models"
)

// Target is the absolute schedule a participant fires on. It is fixed once
// derived; a fresh start instant means deriving a new Target.
type Target struct {
	FlareName string
	Instant   time.Time
	Repeat    time.Duration
}

// TargetMillis folds countdown and per-participant stagger into the start
// instant: start + countdown*1000 + index*stagger*100.
func TargetMillis(startMillis int64, countdownSeconds, staggerDeciSeconds, participantIndex int) int64 {
	return startMillis +
		int64(countdownSeconds)*1000 +
		int64(participantIndex)*int64(staggerDeciSeconds)*100
}

// NewTarget derives the target for one participant of a started flare.
func NewTarget(f *models.Flare, participantIndex int) Target {
	ms := TargetMillis(f.CountdownStartTime, f.CountdownSeconds, f.StaggerDeciSeconds, participantIndex)
	return Target{
		FlareName: f.Name,
		Instant:   time.UnixMilli(ms),
		Repeat:    time.Duration(f.RepeatDeciSeconds) * 100 * time.Millisecond,
	}
}
