// internal/monitoring/engine.go
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/John-MustangGT/ntripwatch/internal/checklog"
	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/John-MustangGT/ntripwatch/internal/metrics"
	"github.com/John-MustangGT/ntripwatch/internal/notifications"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
)

// Engine owns the monitoring pipeline: scheduler, alert gate, housekeeping
// and the notification dispatcher.
type Engine struct {
	config      *config.Config
	store       database.Store
	collector   *metrics.Collector
	deriver     *metrics.Deriver
	gate        *AlertGate
	scheduler   *Scheduler
	housekeeper *Housekeeper
	dispatcher  *notifications.Dispatcher
	checklog    *checklog.Writer

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type engineOptions struct {
	prober   CasterProber
	notifier Notifier
	tracer   trace.Tracer
}

type EngineOption func(*engineOptions)

// WithProber replaces the network prober.
func WithProber(p CasterProber) EngineOption {
	return func(o *engineOptions) { o.prober = p }
}

// WithNotifier replaces the configured dispatcher as the alert sink.
func WithNotifier(n Notifier) EngineOption {
	return func(o *engineOptions) { o.notifier = n }
}

// WithTracer sets the tracer used for sweep and cycle spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(o *engineOptions) { o.tracer = t }
}

func NewEngine(cfg *config.Config, store database.Store, collector *metrics.Collector, opts ...EngineOption) (*Engine, error) {
	var o engineOptions
	for _, opt := range opts {
		opt(&o)
	}

	dispatcher, err := notifications.NewDispatcher(&cfg.Notifications, collector)
	if err != nil {
		return nil, fmt.Errorf("failed to create notification dispatcher: %w", err)
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = dispatcher
	}
	prober := o.prober
	if prober == nil {
		prober = NewProber(cfg.Monitoring.Timeout, cfg.Monitoring.UserAgent)
	}

	engine := &Engine{
		config:     cfg,
		store:      store,
		collector:  collector,
		deriver:    metrics.NewDeriver(store),
		dispatcher: dispatcher,
	}

	engine.gate = NewAlertGate(store, notifier, collector)
	engine.scheduler = NewScheduler(store, store, prober, engine.gate, notifier, collector, SchedulerOptions{
		Interval: cfg.Monitoring.Interval,
		Window:   cfg.Monitoring.Window,
		Workers:  cfg.Server.Workers,
		Tracer:   o.tracer,
	})
	engine.housekeeper = NewHousekeeper(store, cfg.Database, cfg.CheckLog, collector)

	if cfg.CheckLog.Enabled {
		writer, err := checklog.NewWriter(cfg.CheckLog)
		if err != nil {
			return nil, err
		}
		engine.checklog = writer
		engine.scheduler.SetCheckLog(writer)
	}

	return engine, nil
}

// Start syncs seed casters and launches the scheduler and housekeeping loops.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return nil
	}

	logrus.Info("Starting monitoring engine")

	if err := e.SyncCasters(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	e.running = true

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.housekeeper.Run(ctx, e.config.Database.CleanupInterval)
	}()
	go func() {
		defer e.wg.Done()
		e.scheduler.Run(ctx)
	}()

	return nil
}

// Stop cancels the loops, waits for the current sweep to finish and closes
// the check log. It is safe to call on an engine that was never started.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.running {
		logrus.Info("Stopping monitoring engine")
		e.cancel()
		e.running = false
	}
	e.mu.Unlock()

	e.wg.Wait()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.checklog != nil {
		if err := e.checklog.Close(); err != nil {
			logrus.WithError(err).Warn("Failed to close check log")
		}
	}
}

// SyncCasters upserts the casters listed in the configuration. Casters
// created elsewhere are left alone.
func (e *Engine) SyncCasters(ctx context.Context) error {
	for _, cc := range e.config.Casters {
		caster := &database.Caster{
			Name:     cc.Name,
			Host:     cc.Host,
			Port:     cc.Port,
			Username: cc.Username,
			Password: cc.Password,
		}

		_, err := e.store.GetCaster(ctx, cc.Name)
		switch {
		case errors.Is(err, database.ErrCasterNotFound):
			if err := e.store.CreateCaster(ctx, caster); err != nil {
				logrus.WithError(err).WithField("caster", cc.Name).Error("Failed to create caster")
				continue
			}
			logrus.WithField("caster", cc.Name).Info("Created caster")
		case err != nil:
			return fmt.Errorf("failed to look up caster %s: %w", cc.Name, err)
		default:
			if err := e.store.UpdateCaster(ctx, cc.Name, caster); err != nil {
				logrus.WithError(err).WithField("caster", cc.Name).Error("Failed to update caster")
			}
		}
	}
	return e.collector.UpdateSystemMetrics(ctx)
}

// ProbeNow runs one cycle for the named caster outside the schedule.
func (e *Engine) ProbeNow(ctx context.Context, name string) (*CycleResult, error) {
	caster, err := e.store.GetCaster(ctx, name)
	if err != nil {
		return nil, err
	}
	return e.scheduler.RunCycle(ctx, *caster)
}

// DeleteCaster removes the caster and its state record. Probe history is
// left for housekeeping. It waits for a cycle already running for the
// caster, so that cycle cannot write the state back afterwards.
func (e *Engine) DeleteCaster(ctx context.Context, name string) error {
	unlock := e.scheduler.locks.Lock(name)
	defer unlock()

	if err := e.store.DeleteCaster(ctx, name); err != nil {
		return err
	}
	if err := e.store.DeleteState(ctx, name); err != nil {
		logrus.WithError(err).WithField("caster", name).Warn("Failed to delete caster state")
	}
	e.collector.RemoveCaster(name)
	return e.collector.UpdateSystemMetrics(ctx)
}

// Subscribe registers a listener for state transitions.
func (e *Engine) Subscribe(fn func(Transition)) {
	e.gate.Subscribe(fn)
}

// OnSweep registers a listener for completed sweeps.
func (e *Engine) OnSweep(fn func(SweepSummary)) {
	e.scheduler.OnSweep(fn)
}

func (e *Engine) Store() database.Store                 { return e.store }
func (e *Engine) Deriver() *metrics.Deriver             { return e.deriver }
func (e *Engine) Scheduler() *Scheduler                 { return e.scheduler }
func (e *Engine) Housekeeper() *Housekeeper             { return e.housekeeper }
func (e *Engine) Dispatcher() *notifications.Dispatcher { return e.dispatcher }
func (e *Engine) Config() *config.Config                { return e.config }
