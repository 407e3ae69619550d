// internal/monitoring/scheduler.go - periodic sweep over all registered casters
package monitoring

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/notifications"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const tracerName = "github.com/John-MustangGT/ntripwatch/internal/monitoring"

// CasterProber is the probe step of a cycle.
type CasterProber interface {
	Probe(ctx context.Context, caster database.Caster) ProbeResult
}

// CheckLogger mirrors persisted probes to an external log.
type CheckLogger interface {
	Append(p *database.Probe) error
}

type SchedulerOptions struct {
	Interval time.Duration
	Window   int
	Workers  int
	Tracer   trace.Tracer
}

// CycleResult is the outcome of one caster's probe cycle.
type CycleResult struct {
	Caster     string          `json:"caster"`
	Probe      *database.Probe `json:"probe"`
	State      database.State  `json:"state"`
	Classified bool            `json:"classified"`
	Transition *Transition     `json:"transition,omitempty"`
}

// SweepSummary describes one completed sweep.
type SweepSummary struct {
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Casters  int           `json:"casters"`
	Failed   int           `json:"failed"`
}

type Scheduler struct {
	registry  database.Registry
	history   database.History
	prober    CasterProber
	gate      *AlertGate
	checklog  CheckLogger
	notifier  Notifier
	collector *metrics.Collector
	tracer    trace.Tracer

	interval time.Duration
	window   int
	workers  int
	locks    *keyedMutex

	mu        sync.RWMutex
	listeners []func(SweepSummary)
	lastSweep *SweepSummary
}

func NewScheduler(registry database.Registry, history database.History, prober CasterProber, gate *AlertGate, notifier Notifier, collector *metrics.Collector, opts SchedulerOptions) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = 60 * time.Second
	}
	if opts.Window < 1 {
		opts.Window = 2
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(tracerName)
	}

	return &Scheduler{
		registry:  registry,
		history:   history,
		prober:    prober,
		gate:      gate,
		notifier:  notifier,
		collector: collector,
		tracer:    opts.Tracer,
		interval:  opts.Interval,
		window:    opts.Window,
		workers:   opts.Workers,
		locks:     newKeyedMutex(),
	}
}

// SetCheckLog enables mirroring every persisted probe to l.
func (s *Scheduler) SetCheckLog(l CheckLogger) {
	s.checklog = l
}

// OnSweep registers fn to be called after every sweep.
func (s *Scheduler) OnSweep(fn func(SweepSummary)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// LastSweep returns the most recent sweep summary, or nil before the first.
func (s *Scheduler) LastSweep() *SweepSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastSweep == nil {
		return nil
	}
	summary := *s.lastSweep
	return &summary
}

// Run sweeps immediately and then every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"interval": s.interval,
		"window":   s.window,
		"workers":  s.workers,
	}).Info("Starting scheduler")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			logrus.WithError(err).Error("Sweep aborted")
		}

		select {
		case <-ctx.Done():
			logrus.Info("Stopping scheduler")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs one cycle for every registered caster. Only a registry
// failure is returned; per-caster failures are contained.
func (s *Scheduler) SweepOnce(ctx context.Context) (*SweepSummary, error) {
	ctx, span := s.tracer.Start(ctx, "monitoring.sweep")
	defer span.End()

	started := time.Now()

	casters, err := s.registry.ListCasters(ctx)
	if s.collector != nil {
		s.collector.RecordDatabaseOperation("list_casters", err)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to list casters: %w", err)
	}
	span.SetAttributes(attribute.Int("casters", len(casters)))

	var (
		failedMu sync.Mutex
		failed   int
	)

	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, caster := range casters {
		caster := caster
		g.Go(func() error {
			if err := s.handleCaster(ctx, caster); err != nil {
				failedMu.Lock()
				failed++
				failedMu.Unlock()
			}
			return nil
		})
	}
	g.Wait()

	summary := SweepSummary{
		Started:  started.UTC(),
		Duration: time.Since(started),
		Casters:  len(casters),
		Failed:   failed,
	}
	if s.collector != nil {
		s.collector.RecordSweep(summary.Duration)
		s.collector.SetActiveCasters(len(casters))
	}

	s.mu.Lock()
	s.lastSweep = &summary
	listeners := append([]func(SweepSummary){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(summary)
	}

	logrus.WithFields(logrus.Fields{
		"casters":  summary.Casters,
		"failed":   summary.Failed,
		"duration": summary.Duration,
	}).Debug("Sweep completed")

	return &summary, nil
}

// handleCaster runs one cycle and turns any failure into a log entry, a
// counter increment and a best-effort error alert.
func (s *Scheduler) handleCaster(ctx context.Context, caster database.Caster) error {
	_, err := s.RunCycle(ctx, caster)
	if err == nil {
		return nil
	}

	logrus.WithError(err).WithField("caster", caster.Name).Error("Probe cycle failed")
	if s.collector != nil {
		s.collector.RecordCycleError(caster.Name)
	}
	if s.notifier != nil && ctx.Err() == nil {
		alert := notifications.NewAlert(notifications.KindError, caster.Name, err.Error())
		alert.Host = caster.Host
		alert.Port = caster.Port
		s.notifier.Notify(ctx, alert)
	}
	return err
}

// RunCycle probes one caster, records the outcome, classifies the window
// and passes the result to the alert gate. Cycles for the same caster never
// overlap.
func (s *Scheduler) RunCycle(ctx context.Context, caster database.Caster) (result *CycleResult, err error) {
	unlock := s.locks.Lock(caster.Name)
	defer unlock()

	ctx, span := s.tracer.Start(ctx, "monitoring.cycle", trace.WithAttributes(
		attribute.String("caster", caster.Name),
	))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("panic in probe cycle: %v", r)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	outcome := s.prober.Probe(ctx, caster)
	if s.collector != nil {
		s.collector.RecordProbe(caster.Name, outcome.Success, outcome.Duration)
	}
	span.SetAttributes(attribute.Bool("probe.success", outcome.Success))

	probe, err := s.history.RecordProbe(ctx, caster.Name, outcome.Success, outcome.Message, outcome.Duration)
	if err != nil {
		return nil, fmt.Errorf("failed to record probe: %w", err)
	}

	if s.checklog != nil {
		if err := s.checklog.Append(probe); err != nil {
			logrus.WithError(err).WithField("caster", caster.Name).Warn("Failed to write check log")
		}
	}

	result = &CycleResult{Caster: caster.Name, Probe: probe, State: database.StateUnknown}

	window, err := s.history.RecentProbes(ctx, caster.Name, s.window)
	if err != nil {
		return nil, fmt.Errorf("failed to read probe window: %w", err)
	}

	state, ok := Classify(window, s.window)
	if !ok {
		// Not enough history yet. Start tracking so the first firm state
		// counts as a change.
		if err := s.gate.Track(ctx, caster.Name); err != nil {
			return nil, err
		}
		logrus.WithFields(logrus.Fields{
			"caster":  caster.Name,
			"history": len(window),
			"window":  s.window,
		}).Debug("Insufficient history, skipping classification")
		return result, nil
	}

	result.State = state
	result.Classified = true
	span.SetAttributes(attribute.String("state", string(state)))

	transition, err := s.gate.Evaluate(ctx, caster, state, *probe)
	if err != nil {
		return nil, err
	}
	result.Transition = transition

	logrus.WithFields(logrus.Fields{
		"caster":   caster.Name,
		"success":  probe.Success,
		"message":  probe.Message,
		"state":    state,
		"duration": outcome.Duration,
	}).Debug("Probe cycle completed")

	return result, nil
}
