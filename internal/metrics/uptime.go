// internal/metrics/uptime.go - uptime and outage figures derived from probe history
package metrics

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
)

// Display windows used by Report.
const (
	UptimeWindowDay  = 24 * time.Hour
	UptimeWindowWeek = 7 * 24 * time.Hour
)

// Deriver computes read-only figures from the history store. It takes no
// caster locks and is safe to call while sweeps are running.
type Deriver struct {
	history database.History
	now     func() time.Time
}

func NewDeriver(history database.History) *Deriver {
	return &Deriver{history: history, now: time.Now}
}

// WithClock replaces the time source; used by tests.
func (d *Deriver) WithClock(now func() time.Time) *Deriver {
	d.now = now
	return d
}

// UptimeRatio returns the percentage of successful probes within the
// window ending now, rounded to two decimals. No data yields 0.
func (d *Deriver) UptimeRatio(ctx context.Context, caster string, window time.Duration) (float64, error) {
	total, ok, err := d.history.CountProbesSince(ctx, caster, d.now().Add(-window))
	if err != nil {
		return 0, fmt.Errorf("failed to count probes for %s: %w", caster, err)
	}
	if total == 0 {
		return 0, nil
	}
	return round2(float64(ok) / float64(total) * 100), nil
}

// CurrentOutage reports how long the caster has been failing. The second
// return is false when the latest probe succeeded or there is no history.
func (d *Deriver) CurrentOutage(ctx context.Context, caster string) (time.Duration, bool, error) {
	var latest, boundary time.Time
	first := true
	inOutage := false

	err := d.history.WalkProbes(ctx, caster, func(p database.Probe) bool {
		if first {
			first = false
			if p.Success {
				return false
			}
			inOutage = true
			latest = p.Timestamp
			boundary = p.Timestamp
			return true
		}
		boundary = p.Timestamp
		return !p.Success
	})
	if err != nil {
		return 0, false, fmt.Errorf("failed to scan history for %s: %w", caster, err)
	}
	if !inOutage {
		return 0, false, nil
	}
	return latest.Sub(boundary), true, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
