// internal/monitoring/alert_gate.go - transition detection and alert emission
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
)

// Notifier delivers alerts. Implementations must not block indefinitely and
// must not panic into the caller.
type Notifier interface {
	Notify(ctx context.Context, alert notifications.Alert)
}

// Transition describes a persisted change of a caster's state. Alert is
// empty when the change raised no alert.
type Transition struct {
	Caster    string             `json:"caster"`
	Previous  database.State     `json:"previous"`
	State     database.State     `json:"state"`
	Alert     notifications.Kind `json:"alert,omitempty"`
	Message   string             `json:"message,omitempty"`
	Timestamp time.Time          `json:"timestamp"`
}

// AlertGate compares each new classification with the stored state and
// alerts on DOWN and on recovery from DOWN. The stored Firm state carries
// the last alerted condition through UNSTABLE periods.
type AlertGate struct {
	store     database.History
	notifier  Notifier
	collector *metrics.Collector
	now       func() time.Time

	mu        sync.RWMutex
	listeners []func(Transition)
}

func NewAlertGate(store database.History, notifier Notifier, collector *metrics.Collector) *AlertGate {
	return &AlertGate{
		store:     store,
		notifier:  notifier,
		collector: collector,
		now:       time.Now,
	}
}

// Subscribe registers fn to be called after every persisted transition.
// Listeners run synchronously on the probe cycle and must be quick.
func (g *AlertGate) Subscribe(fn func(Transition)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.listeners = append(g.listeners, fn)
}

// Track records an UNKNOWN state for a caster that has none, so that its
// first firm classification is treated as a change.
func (g *AlertGate) Track(ctx context.Context, caster string) error {
	state, err := g.store.GetState(ctx, caster)
	if err != nil {
		return fmt.Errorf("failed to get state: %w", err)
	}
	if state != nil {
		return nil
	}
	now := g.now().UTC()
	return g.store.SetState(ctx, &database.CasterState{
		Caster:    caster,
		State:     database.StateUnknown,
		Firm:      database.StateUnknown,
		ChangedAt: now,
		UpdatedAt: now,
	})
}

// Evaluate applies a new classification. The state is committed before any
// alert is sent; a persistence failure returns an error and sends nothing.
func (g *AlertGate) Evaluate(ctx context.Context, caster database.Caster, state database.State, latest database.Probe) (*Transition, error) {
	prev, err := g.store.GetState(ctx, caster.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}

	now := g.now().UTC()

	if prev == nil {
		// First observation ever: record it without alerting.
		firm := database.StateUnknown
		if state.Firm() {
			firm = state
		}
		record := &database.CasterState{Caster: caster.Name, State: state, Firm: firm, ChangedAt: now, UpdatedAt: now}
		if err := g.store.SetState(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to set state: %w", err)
		}
		t := Transition{Caster: caster.Name, Previous: database.StateUnknown, State: state, Timestamp: now}
		g.publish(t)
		return &t, nil
	}

	next := *prev
	next.State = state

	var kind notifications.Kind
	switch {
	case state == database.StateDown && prev.Firm != database.StateDown:
		kind = notifications.KindDown
		next.Firm = database.StateDown
	case state == database.StateUp && prev.Firm == database.StateDown:
		kind = notifications.KindRecovered
		next.Firm = database.StateUp
	case state == database.StateUp:
		next.Firm = database.StateUp
	}

	if next.State == prev.State && next.Firm == prev.Firm {
		return nil, nil
	}
	if next.State != prev.State {
		next.ChangedAt = now
	}
	next.UpdatedAt = now

	if err := g.store.SetState(ctx, &next); err != nil {
		return nil, fmt.Errorf("failed to set state: %w", err)
	}

	t := Transition{
		Caster:    caster.Name,
		Previous:  prev.State,
		State:     state,
		Alert:     kind,
		Timestamp: now,
	}
	if kind == notifications.KindDown {
		t.Message = latest.Message
	}

	logrus.WithFields(logrus.Fields{
		"caster":   caster.Name,
		"previous": prev.State,
		"state":    state,
		"alert":    kind,
	}).Info("Caster state changed")

	g.publish(t)

	if kind != "" {
		g.alert(ctx, caster, t)
	}
	return &t, nil
}

func (g *AlertGate) alert(ctx context.Context, caster database.Caster, t Transition) {
	if g.collector != nil {
		g.collector.RecordAlert(string(t.Alert))
	}
	if g.notifier == nil {
		return
	}
	alert := notifications.NewAlert(t.Alert, caster.Name, t.Message)
	alert.Host = caster.Host
	alert.Port = caster.Port
	alert.Previous = t.Previous
	alert.State = t.State
	alert.Timestamp = t.Timestamp
	g.notifier.Notify(ctx, alert)
}

func (g *AlertGate) publish(t Transition) {
	if g.collector != nil {
		g.collector.UpdateCasterState(t.Caster, t.State)
	}

	g.mu.RLock()
	listeners := append([]func(Transition){}, g.listeners...)
	g.mu.RUnlock()

	for _, fn := range listeners {
		fn(t)
	}
}
