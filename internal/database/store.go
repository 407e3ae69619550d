// internal/database/store.go
package database

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrCasterNotFound = errors.New("caster not found")
	ErrCasterExists   = errors.New("caster already exists")
)

// Registry is the caster configuration store.
type Registry interface {
	ListCasters(ctx context.Context) ([]Caster, error)
	GetCaster(ctx context.Context, name string) (*Caster, error)
	CreateCaster(ctx context.Context, caster *Caster) error
	UpdateCaster(ctx context.Context, name string, caster *Caster) error
	DeleteCaster(ctx context.Context, name string) error
}

// History is the append-only probe log plus the per-caster state record.
type History interface {
	RecordProbe(ctx context.Context, caster string, success bool, message string, duration time.Duration) (*Probe, error)
	// RecentProbes returns up to n probes, newest first.
	RecentProbes(ctx context.Context, caster string, n int) ([]Probe, error)
	// CountProbesSince counts probes with Timestamp >= since.
	CountProbesSince(ctx context.Context, caster string, since time.Time) (total, successful int, err error)
	// WalkProbes visits the caster's probes newest first until fn returns false.
	WalkProbes(ctx context.Context, caster string, fn func(Probe) bool) error
	GetProbes(ctx context.Context, caster string, filters ProbeFilters) ([]Probe, error)

	// GetState returns nil, nil when no state has been recorded yet.
	GetState(ctx context.Context, caster string) (*CasterState, error)
	SetState(ctx context.Context, state *CasterState) error
	ListStates(ctx context.Context) ([]CasterState, error)
}

// Store defines the interface for database operations
type Store interface {
	Registry
	History

	DeleteProbesBefore(ctx context.Context, cutoff time.Time) (int, error)
	DeleteState(ctx context.Context, caster string) error
	GetDatabaseStats(ctx context.Context) (*DatabaseStats, error)

	// Close the database connection
	Close() error
}

// walkPageSize bounds how many probes WalkProbes reads per query or
// transaction.
var walkPageSize = 500

// Option configures a store implementation.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock replaces the wall clock used to timestamp probes.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) timestamp() time.Time {
	return o.now().UTC().Truncate(time.Second)
}

// Open returns the store selected by backend ("boltdb" or "sqlite").
func Open(backend, path string, opts ...Option) (Store, error) {
	switch backend {
	case "", "boltdb":
		return NewBoltStore(path, opts...)
	case "sqlite":
		return NewSQLiteStore(path, opts...)
	default:
		return nil, fmt.Errorf("unsupported database type %q", backend)
	}
}

func validateCaster(caster *Caster) error {
	if caster.Name == "" {
		return fmt.Errorf("caster name is required")
	}
	if caster.Host == "" {
		return fmt.Errorf("caster %s: host is required", caster.Name)
	}
	if caster.Port < 1 || caster.Port > 65535 {
		return fmt.Errorf("caster %s: port %d out of range", caster.Name, caster.Port)
	}
	return nil
}
