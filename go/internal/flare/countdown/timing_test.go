package countdown

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/mobflare/mobflare/go/internal/models"
)

func TestTargetMillis(t *testing.T) {
	const start = int64(1_700_000_000_000)
	// countdown 10s, stagger 5ds, third participant
	assert.Equal(t, start+10_000+1_500, TargetMillis(start, 10, 5, 3))
	assert.Equal(t, start+10_000, TargetMillis(start, 10, 5, 0))
	assert.Equal(t, start, TargetMillis(start, 0, 0, 9))
}

func TestNewTarget(t *testing.T) {
	f := &models.Flare{
		Name:               "Alpha Bravo Kilo",
		CountdownSeconds:   10,
		RepeatDeciSeconds:  20,
		StaggerDeciSeconds: 5,
		CountdownStartTime: 1_700_000_000_000,
	}
	target := NewTarget(f, 2)
	assert.Equal(t, "Alpha Bravo Kilo", target.FlareName)
	assert.Equal(t, time.UnixMilli(1_700_000_011_000), target.Instant)
	assert.Equal(t, 2*time.Second, target.Repeat)
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "0:00", FormatTime(0))
	assert.Equal(t, "0:59", FormatTime(59))
	assert.Equal(t, "1:00", FormatTime(60))
	assert.Equal(t, "2:05", FormatTime(125))
}

func TestNextDelay(t *testing.T) {
	base := time.UnixMilli(1_700_000_000_000)
	tests := []struct {
		name      string
		remaining time.Duration
		want      time.Duration
	}{
		{"aligned", 2 * time.Second, 100 * time.Millisecond},
		{"small residue pushes out", 1030 * time.Millisecond, 70 * time.Millisecond},
		{"large residue taken as is", 1070 * time.Millisecond, 70 * time.Millisecond},
		{"exactly half", 1050 * time.Millisecond, 50 * time.Millisecond},
		{"past target", -3 * time.Second, 100 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NextDelay(base.Add(tt.remaining), base))
		})
	}
}

func TestNextDelayBounds(t *testing.T) {
	target := time.UnixMilli(1_700_000_010_000)
	for ms := 0; ms < 1000; ms++ {
		now := target.Add(-time.Duration(ms) * time.Millisecond)
		d := NextDelay(target, now)
		assert.Greater(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 100*time.Millisecond)

		diff := ms % 100
		if diff == 0 || diff >= 50 {
			// lands exactly on a boundary relative to the target
			assert.Zero(t, target.Sub(now.Add(d)).Milliseconds()%100, "ms=%d", ms)
		}
	}
}

func TestNextDelayConverges(t *testing.T) {
	target := time.UnixMilli(1_700_000_010_000)
	for residue := 1; residue < 50; residue++ {
		now := target.Add(-time.Duration(5000+residue) * time.Millisecond)
		aligned := false
		for step := 0; step < 10; step++ {
			now = now.Add(NextDelay(target, now))
			if target.Sub(now).Milliseconds()%100 == 0 {
				aligned = true
				break
			}
		}
		assert.True(t, aligned, "residue %d never aligned", residue)
	}
}
