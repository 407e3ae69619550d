package database

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func forEachBackend(t *testing.T, fn func(t *testing.T, store Store, clock *fakeClock)) {
	t.Helper()
	for _, backend := range []string{"boltdb", "sqlite"} {
		backend := backend
		t.Run(backend, func(t *testing.T) {
			clock := newFakeClock()
			store, err := Open(backend, filepath.Join(t.TempDir(), "data", "test.db"), WithClock(clock.Now))
			if err != nil {
				t.Fatalf("Open(%s): %v", backend, err)
			}
			t.Cleanup(func() { store.Close() })
			fn(t, store, clock)
		})
	}
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	if _, err := Open("postgres", filepath.Join(t.TempDir(), "x.db")); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestCasterCRUD(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, _ *fakeClock) {
		ctx := context.Background()

		caster := &Caster{Name: "RTK1", Host: "rtk.example.net", Port: 2101, Username: "u", Password: "p"}
		if err := store.CreateCaster(ctx, caster); err != nil {
			t.Fatalf("CreateCaster: %v", err)
		}
		if caster.ID == "" {
			t.Error("expected ID to be assigned")
		}

		dup := &Caster{Name: "RTK1", Host: "other", Port: 2101}
		if err := store.CreateCaster(ctx, dup); !errors.Is(err, ErrCasterExists) {
			t.Errorf("duplicate create: got %v, want ErrCasterExists", err)
		}

		if err := store.CreateCaster(ctx, &Caster{Name: "bad", Host: "h", Port: 0}); err == nil {
			t.Error("expected validation error for port 0")
		}

		// Empty password keeps the stored one.
		update := &Caster{Name: "RTK1", Host: "rtk2.example.net", Port: 2102, Username: "u2"}
		if err := store.UpdateCaster(ctx, "RTK1", update); err != nil {
			t.Fatalf("UpdateCaster: %v", err)
		}
		got, err := store.GetCaster(ctx, "RTK1")
		if err != nil {
			t.Fatalf("GetCaster: %v", err)
		}
		if got.Host != "rtk2.example.net" || got.Port != 2102 || got.Username != "u2" {
			t.Errorf("unexpected caster after update: %+v", got)
		}
		if got.Password != "p" {
			t.Errorf("Password: got %q, want %q", got.Password, "p")
		}

		if err := store.CreateCaster(ctx, &Caster{Name: "RTK0", Host: "a", Port: 1}); err != nil {
			t.Fatalf("CreateCaster: %v", err)
		}
		casters, err := store.ListCasters(ctx)
		if err != nil {
			t.Fatalf("ListCasters: %v", err)
		}
		if len(casters) != 2 || casters[0].Name != "RTK0" || casters[1].Name != "RTK1" {
			t.Errorf("ListCasters: got %+v", casters)
		}

		if err := store.DeleteCaster(ctx, "RTK1"); err != nil {
			t.Fatalf("DeleteCaster: %v", err)
		}
		if _, err := store.GetCaster(ctx, "RTK1"); !errors.Is(err, ErrCasterNotFound) {
			t.Errorf("GetCaster after delete: got %v, want ErrCasterNotFound", err)
		}
		if err := store.UpdateCaster(ctx, "missing", &Caster{Name: "missing", Host: "h", Port: 1}); !errors.Is(err, ErrCasterNotFound) {
			t.Errorf("UpdateCaster missing: got %v", err)
		}
		if err := store.DeleteCaster(ctx, "missing"); !errors.Is(err, ErrCasterNotFound) {
			t.Errorf("DeleteCaster missing: got %v", err)
		}
	})
}

func TestRecentProbesNewestFirst(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()

		outcomes := []bool{false, true, true, false}
		for i, ok := range outcomes {
			if _, err := store.RecordProbe(ctx, "X", ok, "m", time.Millisecond); err != nil {
				t.Fatalf("RecordProbe %d: %v", i, err)
			}
			clock.Advance(time.Minute)
		}
		if _, err := store.RecordProbe(ctx, "Y", true, "other", 0); err != nil {
			t.Fatalf("RecordProbe Y: %v", err)
		}

		probes, err := store.RecentProbes(ctx, "X", 2)
		if err != nil {
			t.Fatalf("RecentProbes: %v", err)
		}
		if len(probes) != 2 {
			t.Fatalf("got %d probes, want 2", len(probes))
		}
		if probes[0].Success || !probes[1].Success {
			t.Errorf("unexpected order: %+v", probes)
		}
		if !probes[0].Timestamp.After(probes[1].Timestamp) {
			t.Errorf("expected newest first: %v then %v", probes[0].Timestamp, probes[1].Timestamp)
		}

		all, err := store.RecentProbes(ctx, "X", 10)
		if err != nil {
			t.Fatalf("RecentProbes: %v", err)
		}
		if len(all) != len(outcomes) {
			t.Errorf("short history: got %d, want %d", len(all), len(outcomes))
		}

		none, err := store.RecentProbes(ctx, "nobody", 2)
		if err != nil || len(none) != 0 {
			t.Errorf("unknown caster: got %v, %v", none, err)
		}
	})
}

func TestRecordProbeTruncatesMessage(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, _ *fakeClock) {
		ctx := context.Background()
		long := strings.Repeat("x", MaxMessageLength*2)
		probe, err := store.RecordProbe(ctx, "X", false, long, 0)
		if err != nil {
			t.Fatalf("RecordProbe: %v", err)
		}
		if len(probe.Message) != MaxMessageLength {
			t.Errorf("message length: got %d, want %d", len(probe.Message), MaxMessageLength)
		}
		if probe.Timestamp.Nanosecond() != 0 {
			t.Errorf("timestamp not truncated to seconds: %v", probe.Timestamp)
		}
	})
}

func TestCountProbesSince(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()

		// Two old failures, then three recent probes with two successes.
		for _, ok := range []bool{false, false} {
			store.RecordProbe(ctx, "X", ok, "", 0)
		}
		clock.Advance(2 * time.Hour)
		since := clock.Now()
		for _, ok := range []bool{true, false, true} {
			store.RecordProbe(ctx, "X", ok, "", 0)
			clock.Advance(time.Minute)
		}

		total, ok, err := store.CountProbesSince(ctx, "X", since)
		if err != nil {
			t.Fatalf("CountProbesSince: %v", err)
		}
		if total != 3 || ok != 2 {
			t.Errorf("got total=%d ok=%d, want 3/2", total, ok)
		}

		total, ok, err = store.CountProbesSince(ctx, "empty", since)
		if err != nil || total != 0 || ok != 0 {
			t.Errorf("empty caster: got %d/%d, %v", total, ok, err)
		}
	})
}

func TestWalkProbesStopsEarly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, _ *fakeClock) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			store.RecordProbe(ctx, "X", i%2 == 0, "", 0)
		}
		visited := 0
		err := store.WalkProbes(ctx, "X", func(p Probe) bool {
			visited++
			return visited < 3
		})
		if err != nil {
			t.Fatalf("WalkProbes: %v", err)
		}
		if visited != 3 {
			t.Errorf("visited %d probes, want 3", visited)
		}
	})
}

func TestWalkProbesAcrossPages(t *testing.T) {
	defer func(size int) { walkPageSize = size }(walkPageSize)
	walkPageSize = 4

	forEachBackend(t, func(t *testing.T, store Store, _ *fakeClock) {
		ctx := context.Background()
		const n = 13
		for i := 0; i < n; i++ {
			if _, err := store.RecordProbe(ctx, "X", false, "", 0); err != nil {
				t.Fatalf("RecordProbe: %v", err)
			}
		}

		var seqs []uint64
		err := store.WalkProbes(ctx, "X", func(p Probe) bool {
			if len(seqs) == 0 {
				// Writes are not blocked by a walk in progress.
				if _, err := store.RecordProbe(ctx, "X", true, "", 0); err != nil {
					t.Errorf("RecordProbe during walk: %v", err)
				}
			}
			seqs = append(seqs, p.Seq)
			return true
		})
		if err != nil {
			t.Fatalf("WalkProbes: %v", err)
		}
		if len(seqs) != n {
			t.Fatalf("visited %d probes, want %d", len(seqs), n)
		}
		for i := 1; i < len(seqs); i++ {
			if seqs[i] >= seqs[i-1] {
				t.Fatalf("not newest first at %d: %v", i, seqs)
			}
		}
	})
}

func TestStateUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()

		state, err := store.GetState(ctx, "X")
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if state != nil {
			t.Fatalf("expected nil state, got %+v", state)
		}

		first := &CasterState{Caster: "X", State: StateDown, Firm: StateDown, ChangedAt: clock.Now()}
		if err := store.SetState(ctx, first); err != nil {
			t.Fatalf("SetState: %v", err)
		}
		clock.Advance(time.Minute)
		second := &CasterState{Caster: "X", State: StateUnstable, Firm: StateDown, ChangedAt: clock.Now()}
		if err := store.SetState(ctx, second); err != nil {
			t.Fatalf("SetState: %v", err)
		}

		got, err := store.GetState(ctx, "X")
		if err != nil {
			t.Fatalf("GetState: %v", err)
		}
		if got.State != StateUnstable || got.Firm != StateDown {
			t.Errorf("got %+v", got)
		}
		if !got.ChangedAt.Equal(second.ChangedAt) {
			t.Errorf("ChangedAt: got %v, want %v", got.ChangedAt, second.ChangedAt)
		}

		states, err := store.ListStates(ctx)
		if err != nil {
			t.Fatalf("ListStates: %v", err)
		}
		if len(states) != 1 {
			t.Errorf("expected one state per caster, got %d", len(states))
		}

		if err := store.DeleteState(ctx, "X"); err != nil {
			t.Fatalf("DeleteState: %v", err)
		}
		if got, _ := store.GetState(ctx, "X"); got != nil {
			t.Errorf("state still present after delete: %+v", got)
		}
	})
}

func TestDeleteProbesBefore(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()

		store.RecordProbe(ctx, "X", true, "old", 0)
		store.RecordProbe(ctx, "Y", false, "old", 0)
		clock.Advance(48 * time.Hour)
		cutoff := clock.Now().Add(-time.Hour)
		store.RecordProbe(ctx, "X", true, "new", 0)

		deleted, err := store.DeleteProbesBefore(ctx, cutoff)
		if err != nil {
			t.Fatalf("DeleteProbesBefore: %v", err)
		}
		if deleted != 2 {
			t.Errorf("deleted %d, want 2", deleted)
		}

		probes, _ := store.RecentProbes(ctx, "X", 10)
		if len(probes) != 1 || probes[0].Message != "new" {
			t.Errorf("unexpected remaining probes: %+v", probes)
		}

		stats, err := store.GetDatabaseStats(ctx)
		if err != nil {
			t.Fatalf("GetDatabaseStats: %v", err)
		}
		if stats.TotalProbes != 1 {
			t.Errorf("TotalProbes: got %d, want 1", stats.TotalProbes)
		}
	})
}

func TestGetProbesFilters(t *testing.T) {
	forEachBackend(t, func(t *testing.T, store Store, clock *fakeClock) {
		ctx := context.Background()
		for i := 0; i < 4; i++ {
			store.RecordProbe(ctx, "X", true, "", 0)
			clock.Advance(time.Hour)
		}
		since := clock.Now().Add(-2 * time.Hour)

		probes, err := store.GetProbes(ctx, "X", ProbeFilters{Since: since})
		if err != nil {
			t.Fatalf("GetProbes: %v", err)
		}
		if len(probes) != 2 {
			t.Errorf("since filter: got %d, want 2", len(probes))
		}

		probes, _ = store.GetProbes(ctx, "X", ProbeFilters{Limit: 3})
		if len(probes) != 3 {
			t.Errorf("limit filter: got %d, want 3", len(probes))
		}
	})
}
