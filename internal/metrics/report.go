// internal/metrics/report.go
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
)

// CasterStatus is the display row for one caster.
type CasterStatus struct {
	Name          string         `json:"name"`
	Host          string         `json:"host"`
	Port          int            `json:"port"`
	State         database.State `json:"state"`
	StateSince    *time.Time     `json:"state_since,omitempty"`
	LastMessage   string         `json:"last_message"`
	LastTimestamp *time.Time     `json:"last_timestamp,omitempty"`
	InOutage      bool           `json:"in_outage"`
	OutageSeconds float64        `json:"outage_seconds"`
	Outage        string         `json:"outage"`
	Uptime24h     float64        `json:"uptime_24h"`
	Uptime7d      float64        `json:"uptime_7d"`
}

// Report assembles the status row for the caster from stored state and
// history.
func (d *Deriver) Report(ctx context.Context, caster database.Caster) (*CasterStatus, error) {
	status := &CasterStatus{
		Name:  caster.Name,
		Host:  caster.Host,
		Port:  caster.Port,
		State: database.StateUnknown,
	}

	state, err := d.history.GetState(ctx, caster.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get state for %s: %w", caster.Name, err)
	}
	if state != nil {
		status.State = state.State
		if !state.ChangedAt.IsZero() {
			since := state.ChangedAt
			status.StateSince = &since
		}
	}

	latest, err := d.history.RecentProbes(ctx, caster.Name, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest probe for %s: %w", caster.Name, err)
	}
	if len(latest) > 0 {
		status.LastMessage = latest[0].Message
		ts := latest[0].Timestamp
		status.LastTimestamp = &ts
	}

	outage, inOutage, err := d.CurrentOutage(ctx, caster.Name)
	if err != nil {
		return nil, err
	}
	status.InOutage = inOutage
	if inOutage {
		status.OutageSeconds = outage.Seconds()
		status.Outage = FormatDuration(outage)
	}

	if status.Uptime24h, err = d.UptimeRatio(ctx, caster.Name, UptimeWindowDay); err != nil {
		return nil, err
	}
	if status.Uptime7d, err = d.UptimeRatio(ctx, caster.Name, UptimeWindowWeek); err != nil {
		return nil, err
	}

	return status, nil
}

// ReportAll builds status rows for every caster, in registry order.
func (d *Deriver) ReportAll(ctx context.Context, casters []database.Caster) ([]*CasterStatus, error) {
	rows := make([]*CasterStatus, 0, len(casters))
	for _, caster := range casters {
		row, err := d.Report(ctx, caster)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FormatDuration renders a duration as "1d 2h 3m", dropping leading zero
// units. Durations under a minute render in seconds.
func FormatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	days := int(d / (24 * time.Hour))
	d -= time.Duration(days) * 24 * time.Hour
	hours := int(d / time.Hour)
	d -= time.Duration(hours) * time.Hour
	minutes := int(d / time.Minute)

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm", minutes)
	}
}
