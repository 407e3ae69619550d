package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/notifications"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []notifications.Alert
}

func (n *recordingNotifier) Notify(_ context.Context, alert notifications.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) kinds(kind notifications.Kind) []notifications.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []notifications.Alert
	for _, a := range n.alerts {
		if a.Kind == kind {
			out = append(out, a)
		}
	}
	return out
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.alerts)
}

// scriptedProber returns queued outcomes per caster; an empty queue means
// success. Casters named in panics make Probe panic.
type scriptedProber struct {
	mu       sync.Mutex
	outcomes map[string][]bool
	panics   map[string]bool
	delay    time.Duration

	active    int32
	maxActive int32
	perCaster sync.Map // caster -> *int32
}

func newScriptedProber() *scriptedProber {
	return &scriptedProber{outcomes: make(map[string][]bool), panics: make(map[string]bool)}
}

func (p *scriptedProber) queue(caster string, outcomes ...bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.outcomes[caster] = append(p.outcomes[caster], outcomes...)
}

func (p *scriptedProber) Probe(_ context.Context, caster database.Caster) ProbeResult {
	n := atomic.AddInt32(&p.active, 1)
	defer atomic.AddInt32(&p.active, -1)
	for {
		max := atomic.LoadInt32(&p.maxActive)
		if n <= max || atomic.CompareAndSwapInt32(&p.maxActive, max, n) {
			break
		}
	}

	counter, _ := p.perCaster.LoadOrStore(caster.Name, new(int32))
	if atomic.AddInt32(counter.(*int32), 1) > 1 {
		panic("overlapping cycles for " + caster.Name)
	}
	defer atomic.AddInt32(counter.(*int32), -1)

	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	if p.panics[caster.Name] {
		p.mu.Unlock()
		panic("prober exploded")
	}
	ok := true
	if q := p.outcomes[caster.Name]; len(q) > 0 {
		ok = q[0]
		p.outcomes[caster.Name] = q[1:]
	}
	p.mu.Unlock()

	if ok {
		return ProbeResult{Success: true, Message: "Sourcetable received", Duration: time.Millisecond}
	}
	return ProbeResult{Success: false, Message: "connection refused", Duration: time.Millisecond}
}

func newTestStore(t *testing.T) database.Store {
	t.Helper()
	store, err := database.Open("boltdb", filepath.Join(t.TempDir(), "monitor.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func addCaster(t *testing.T, store database.Store, name string) database.Caster {
	t.Helper()
	c := &database.Caster{Name: name, Host: "127.0.0.1", Port: 2101}
	if err := store.CreateCaster(context.Background(), c); err != nil {
		t.Fatalf("CreateCaster: %v", err)
	}
	return *c
}

type harness struct {
	store     database.Store
	prober    *scriptedProber
	notifier  *recordingNotifier
	gate      *AlertGate
	scheduler *Scheduler
}

func newHarness(t *testing.T, window, workers int, opts ...func(*SchedulerOptions)) *harness {
	t.Helper()
	h := &harness{
		store:    newTestStore(t),
		prober:   newScriptedProber(),
		notifier: &recordingNotifier{},
	}
	collector := metrics.NewCollector(h.store)
	h.gate = NewAlertGate(h.store, h.notifier, collector)
	so := SchedulerOptions{Interval: time.Hour, Window: window, Workers: workers}
	for _, opt := range opts {
		opt(&so)
	}
	h.scheduler = NewScheduler(h.store, h.store, h.prober, h.gate, h.notifier, collector, so)
	return h
}

func (h *harness) sweep(t *testing.T) *SweepSummary {
	t.Helper()
	summary, err := h.scheduler.SweepOnce(context.Background())
	if err != nil {
		t.Fatalf("SweepOnce: %v", err)
	}
	return summary
}

func (h *harness) state(t *testing.T, caster string) *database.CasterState {
	t.Helper()
	state, err := h.store.GetState(context.Background(), caster)
	if err != nil {
		t.Fatalf("GetState: %v", err)
	}
	return state
}

func TestDownThenRecovered(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")
	h.prober.queue("X", false, false, true, true)

	h.sweep(t) // fail: history too short
	if h.notifier.count() != 0 {
		t.Fatalf("alert before window filled: %+v", h.notifier.alerts)
	}
	if s := h.state(t, "X"); s == nil || s.State != database.StateUnknown {
		t.Fatalf("expected UNKNOWN tracking state, got %+v", s)
	}

	h.sweep(t) // fail, fail -> DOWN
	down := h.notifier.kinds(notifications.KindDown)
	if len(down) != 1 {
		t.Fatalf("down alerts: got %d, want 1", len(down))
	}
	if down[0].Caster != "X" || down[0].Message != "connection refused" || down[0].Previous != database.StateUnknown {
		t.Errorf("unexpected down alert: %+v", down[0])
	}
	if s := h.state(t, "X"); s.State != database.StateDown {
		t.Errorf("state: got %s, want DOWN", s.State)
	}

	h.sweep(t) // success, fail -> UNSTABLE
	h.sweep(t) // success, success -> UP
	recovered := h.notifier.kinds(notifications.KindRecovered)
	if len(recovered) != 1 {
		t.Fatalf("recovered alerts: got %d, want 1", len(recovered))
	}
	if recovered[0].Previous != database.StateUnstable {
		t.Errorf("recovered previous: got %s", recovered[0].Previous)
	}

	h.sweep(t) // still UP
	if h.notifier.count() != 2 {
		t.Errorf("total alerts: got %d, want 2", h.notifier.count())
	}
}

func TestAlternatingOutcomesNeverAlert(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")
	h.prober.queue("X", false, true, false, true)

	for i := 0; i < 4; i++ {
		h.sweep(t)
	}
	if h.notifier.count() != 0 {
		t.Errorf("expected no alerts, got %+v", h.notifier.alerts)
	}
	if s := h.state(t, "X"); s.State != database.StateUnstable {
		t.Errorf("state: got %s, want UNSTABLE", s.State)
	}
}

func TestUnstableBetweenDownsDoesNotRealert(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")
	// DOWN, UNSTABLE, DOWN
	h.prober.queue("X", false, false, true, false, false)

	for i := 0; i < 5; i++ {
		h.sweep(t)
	}
	if got := len(h.notifier.kinds(notifications.KindDown)); got != 1 {
		t.Errorf("down alerts: got %d, want 1", got)
	}
	if got := len(h.notifier.kinds(notifications.KindRecovered)); got != 0 {
		t.Errorf("recovered alerts: got %d, want 0", got)
	}
}

func TestGateFirstObservationDoesNotAlert(t *testing.T) {
	h := newHarness(t, 2, 1)
	caster := addCaster(t, h.store, "X")
	ctx := context.Background()

	tr, err := h.gate.Evaluate(ctx, caster, database.StateDown, database.Probe{Message: "refused"})
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if tr == nil || tr.Alert != "" {
		t.Errorf("first observation: got %+v", tr)
	}
	if h.notifier.count() != 0 {
		t.Errorf("first observation alerted: %+v", h.notifier.alerts)
	}
	if s := h.state(t, "X"); s.State != database.StateDown || s.Firm != database.StateDown {
		t.Errorf("state not persisted: %+v", s)
	}

	// Same state again: no write, no alert.
	before := h.state(t, "X").UpdatedAt
	tr, err = h.gate.Evaluate(ctx, caster, database.StateDown, database.Probe{})
	if err != nil || tr != nil {
		t.Errorf("repeat: got %+v, %v", tr, err)
	}
	if after := h.state(t, "X").UpdatedAt; !after.Equal(before) {
		t.Errorf("repeat classification rewrote state")
	}

	// Recovery from a first-observed DOWN still alerts.
	if _, err := h.gate.Evaluate(ctx, caster, database.StateUp, database.Probe{}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if got := len(h.notifier.kinds(notifications.KindRecovered)); got != 1 {
		t.Errorf("recovered alerts: got %d, want 1", got)
	}
}

func TestGatePublishesTransitions(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")

	var mu sync.Mutex
	var seen []Transition
	h.gate.Subscribe(func(tr Transition) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, tr)
	})

	h.prober.queue("X", false, false)
	h.sweep(t)
	h.sweep(t)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0].State != database.StateDown || seen[0].Alert != notifications.KindDown {
		t.Errorf("transitions: %+v", seen)
	}
}

type failingHistory struct {
	database.Store
}

func (f failingHistory) SetState(context.Context, *database.CasterState) error {
	return errors.New("disk full")
}

func TestGateDoesNotAlertWhenPersistFails(t *testing.T) {
	store := newTestStore(t)
	notifier := &recordingNotifier{}
	ctx := context.Background()
	store.SetState(ctx, &database.CasterState{Caster: "X", State: database.StateUp, Firm: database.StateUp})

	gate := NewAlertGate(failingHistory{store}, notifier, nil)
	if _, err := gate.Evaluate(ctx, database.Caster{Name: "X"}, database.StateDown, database.Probe{}); err == nil {
		t.Fatal("expected persistence error")
	}
	if notifier.count() != 0 {
		t.Errorf("alert sent despite failed commit: %+v", notifier.alerts)
	}
}

func TestPanicInOneCasterDoesNotStopSweep(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "A")
	addCaster(t, h.store, "B")
	h.prober.panics["A"] = true

	summary := h.sweep(t)
	if summary.Casters != 2 || summary.Failed != 1 {
		t.Errorf("summary: %+v", summary)
	}

	probes, err := h.store.RecentProbes(context.Background(), "B", 5)
	if err != nil || len(probes) != 1 {
		t.Errorf("B was not probed: %v, %v", probes, err)
	}

	errs := h.notifier.kinds(notifications.KindError)
	if len(errs) != 1 || errs[0].Caster != "A" {
		t.Errorf("error alerts: %+v", errs)
	}
}

func TestSweepBoundedConcurrency(t *testing.T) {
	h := newHarness(t, 2, 2)
	h.prober.delay = 50 * time.Millisecond
	for _, name := range []string{"A", "B", "C", "D", "E"} {
		addCaster(t, h.store, name)
	}

	h.sweep(t)

	if max := atomic.LoadInt32(&h.prober.maxActive); max > 2 {
		t.Errorf("max concurrent probes: got %d, want <= 2", max)
	}
}

func TestConcurrentCyclesSameCasterSerialized(t *testing.T) {
	h := newHarness(t, 2, 4)
	h.prober.delay = 20 * time.Millisecond
	caster := addCaster(t, h.store, "X")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.scheduler.RunCycle(context.Background(), caster); err != nil {
				t.Errorf("RunCycle: %v", err)
			}
		}()
	}
	wg.Wait()

	probes, _ := h.store.RecentProbes(context.Background(), "X", 10)
	if len(probes) != 4 {
		t.Errorf("recorded %d probes, want 4", len(probes))
	}
	if n := h.scheduler.locks.size(); n != 0 {
		t.Errorf("lock entries leaked: %d", n)
	}
}

type checkLogRecorder struct {
	mu     sync.Mutex
	probes []*database.Probe
}

func (c *checkLogRecorder) Append(p *database.Probe) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.probes = append(c.probes, p)
	return nil
}

func TestCycleMirrorsToCheckLog(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")
	logger := &checkLogRecorder{}
	h.scheduler.SetCheckLog(logger)

	h.sweep(t)

	if len(logger.probes) != 1 || logger.probes[0].Caster != "X" || !logger.probes[0].Success {
		t.Errorf("check log: %+v", logger.probes)
	}
}

func TestSweepSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	h := newHarness(t, 2, 1, func(o *SchedulerOptions) {
		o.Tracer = provider.Tracer("test")
	})
	addCaster(t, h.store, "A")
	addCaster(t, h.store, "B")

	h.sweep(t)

	var sweeps, cycles int
	for _, span := range recorder.Ended() {
		switch span.Name() {
		case "monitoring.sweep":
			sweeps++
		case "monitoring.cycle":
			cycles++
			if !span.Parent().IsValid() {
				t.Errorf("cycle span has no parent")
			}
		}
	}
	if sweeps != 1 || cycles != 2 {
		t.Errorf("spans: sweeps=%d cycles=%d", sweeps, cycles)
	}
}

func TestOnSweepAndRunStops(t *testing.T) {
	h := newHarness(t, 2, 1)
	addCaster(t, h.store, "X")

	done := make(chan SweepSummary, 1)
	h.scheduler.OnSweep(func(s SweepSummary) {
		select {
		case done <- s:
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.scheduler.Run(ctx) }()

	select {
	case s := <-done:
		if s.Casters != 1 {
			t.Errorf("summary: %+v", s)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no sweep ran")
	}

	cancel()
	select {
	case err := <-errc:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
	if h.scheduler.LastSweep() == nil {
		t.Error("LastSweep not recorded")
	}
}
