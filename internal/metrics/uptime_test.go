package metrics

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type clock struct{ now time.Time }

func (c *clock) Now() time.Time { return c.now }

func newTestStore(t *testing.T, c *clock) database.Store {
	t.Helper()
	store, err := database.Open("boltdb", filepath.Join(t.TempDir(), "metrics.db"), database.WithClock(c.Now))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// record appends outcomes one minute apart, starting at the clock's time.
func record(t *testing.T, store database.Store, c *clock, caster string, outcomes ...bool) {
	t.Helper()
	for _, ok := range outcomes {
		if _, err := store.RecordProbe(context.Background(), caster, ok, "", 0); err != nil {
			t.Fatalf("RecordProbe: %v", err)
		}
		c.now = c.now.Add(time.Minute)
	}
}

func TestUptimeRatio(t *testing.T) {
	tests := []struct {
		name     string
		outcomes []bool
		want     float64
	}{
		{"no data", nil, 0},
		{"all up", []bool{true, true, true}, 100},
		{"all down", []bool{false, false}, 0},
		{"two thirds", []bool{true, false, true}, 66.67},
		{"one of eight", []bool{true, false, false, false, false, false, false, false}, 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
			store := newTestStore(t, c)
			record(t, store, c, "X", tt.outcomes...)

			d := NewDeriver(store).WithClock(c.Now)
			got, err := d.UptimeRatio(context.Background(), "X", time.Hour)
			if err != nil {
				t.Fatalf("UptimeRatio: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUptimeRatioExcludesOldProbes(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := newTestStore(t, c)
	record(t, store, c, "X", false, false)
	c.now = c.now.Add(2 * 24 * time.Hour)
	record(t, store, c, "X", true)

	d := NewDeriver(store).WithClock(c.Now)
	got, err := d.UptimeRatio(context.Background(), "X", UptimeWindowDay)
	if err != nil {
		t.Fatalf("UptimeRatio: %v", err)
	}
	if got != 100 {
		t.Errorf("24h uptime: got %v, want 100", got)
	}
	got, _ = d.UptimeRatio(context.Background(), "X", UptimeWindowWeek)
	if got != 33.33 {
		t.Errorf("7d uptime: got %v, want 33.33", got)
	}
}

func TestCurrentOutage(t *testing.T) {
	tests := []struct {
		name       string
		outcomes   []bool
		wantOutage bool
		want       time.Duration
	}{
		{"no history", nil, false, 0},
		{"latest success", []bool{false, true}, false, 0},
		// success at t0, failures at t1..t3: boundary is the success.
		{"after success", []bool{true, false, false, false}, true, 3 * time.Minute},
		// never succeeded: boundary is the oldest probe.
		{"never up", []bool{false, false, false}, true, 2 * time.Minute},
		{"single failure", []bool{false}, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
			store := newTestStore(t, c)
			record(t, store, c, "X", tt.outcomes...)

			d := NewDeriver(store).WithClock(c.Now)
			got, inOutage, err := d.CurrentOutage(context.Background(), "X")
			if err != nil {
				t.Fatalf("CurrentOutage: %v", err)
			}
			if inOutage != tt.wantOutage {
				t.Fatalf("inOutage: got %v, want %v", inOutage, tt.wantOutage)
			}
			if got != tt.want {
				t.Errorf("duration: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReport(t *testing.T) {
	c := &clock{now: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)}
	store := newTestStore(t, c)
	ctx := context.Background()

	caster := database.Caster{Name: "RTK1", Host: "rtk.example.net", Port: 2101}
	record(t, store, c, "RTK1", true, false)
	if _, err := store.RecordProbe(ctx, "RTK1", false, "connection refused", 0); err != nil {
		t.Fatal(err)
	}
	if err := store.SetState(ctx, &database.CasterState{Caster: "RTK1", State: database.StateDown, Firm: database.StateDown, ChangedAt: c.now}); err != nil {
		t.Fatal(err)
	}

	d := NewDeriver(store).WithClock(c.Now)
	row, err := d.Report(ctx, caster)
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if row.State != database.StateDown {
		t.Errorf("State: got %s", row.State)
	}
	if row.LastMessage != "connection refused" {
		t.Errorf("LastMessage: got %q", row.LastMessage)
	}
	if !row.InOutage || row.OutageSeconds != 120 || row.Outage != "2m" {
		t.Errorf("outage: got %v %v %q", row.InOutage, row.OutageSeconds, row.Outage)
	}
	if row.Uptime24h != 33.33 {
		t.Errorf("Uptime24h: got %v", row.Uptime24h)
	}

	unknown, err := d.Report(ctx, database.Caster{Name: "fresh", Host: "h", Port: 1})
	if err != nil {
		t.Fatalf("Report: %v", err)
	}
	if unknown.State != database.StateUnknown || unknown.LastTimestamp != nil || unknown.InOutage {
		t.Errorf("fresh caster: got %+v", unknown)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{42 * time.Second, "42s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 3*time.Minute, "2h 3m"},
		{26*time.Hour + 1*time.Minute, "1d 2h 1m"},
	}
	for _, tt := range tests {
		if got := FormatDuration(tt.in); got != tt.want {
			t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestCollectorCounters(t *testing.T) {
	c := NewCollector(nil)

	before := testutil.ToFloat64(ProbeTotal.WithLabelValues("counter-test", "failure"))
	c.RecordProbe("counter-test", false, time.Second)
	if got := testutil.ToFloat64(ProbeTotal.WithLabelValues("counter-test", "failure")); got != before+1 {
		t.Errorf("probes_total: got %v, want %v", got, before+1)
	}

	c.UpdateCasterState("counter-test", database.StateDown)
	if got := testutil.ToFloat64(CasterState.WithLabelValues("counter-test")); got != 2 {
		t.Errorf("caster_state: got %v, want 2", got)
	}
	c.RemoveCaster("counter-test")
}
