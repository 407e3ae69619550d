// internal/monitoring/housekeeper.go - age-based history deletion and stale state purge
package monitoring

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/John-MustangGT/ntripwatch/internal/checklog"
	"github.com/John-MustangGT/ntripwatch/internal/config"
	"github.com/John-MustangGT/ntripwatch/internal/database"
	"github.com/sirupsen/logrus"
)

// HousekeepingStats reports what one purge removed.
type HousekeepingStats struct {
	ProbesDeleted   int `json:"probes_deleted"`
	StatesDeleted   int `json:"states_deleted"`
	CheckLogsPruned int `json:"check_logs_pruned"`
}

// StateRemover is notified when a stale caster state is deleted.
type StateRemover interface {
	RemoveCaster(caster string)
}

// Housekeeper deletes expired probes, states of casters that left the
// registry and expired check log files.
type Housekeeper struct {
	store     database.Store
	retention time.Duration
	checklog  config.CheckLogConfig
	removed   StateRemover
	now       func() time.Time
}

func NewHousekeeper(store database.Store, db config.DatabaseConfig, logs config.CheckLogConfig, removed StateRemover) *Housekeeper {
	return &Housekeeper{
		store:     store,
		retention: db.HistoryRetention,
		checklog:  logs,
		removed:   removed,
		now:       time.Now,
	}
}

// PurgeExpiredProbes removes probes older than the retention period. A zero
// retention keeps all history.
func (h *Housekeeper) PurgeExpiredProbes(ctx context.Context) (int, error) {
	if h.retention <= 0 {
		return 0, nil
	}
	cutoff := h.now().Add(-h.retention)
	deleted, err := h.store.DeleteProbesBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired probes: %w", err)
	}
	if deleted > 0 {
		logrus.WithFields(logrus.Fields{
			"deleted": deleted,
			"cutoff":  cutoff,
		}).Info("Purged expired probe history")
	}
	return deleted, nil
}

// PurgeStaleStates removes states for casters that are no longer registered
func (h *Housekeeper) PurgeStaleStates(ctx context.Context) (int, error) {
	casters, err := h.store.ListCasters(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list casters: %w", err)
	}
	registered := make(map[string]bool, len(casters))
	for _, c := range casters {
		registered[c.Name] = true
	}

	states, err := h.store.ListStates(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list states: %w", err)
	}

	purged := 0
	for _, state := range states {
		if registered[state.Caster] {
			continue
		}
		if err := h.store.DeleteState(ctx, state.Caster); err != nil {
			logrus.WithError(err).WithField("caster", state.Caster).Error("Failed to delete stale state")
			continue
		}
		if h.removed != nil {
			h.removed.RemoveCaster(state.Caster)
		}
		logrus.WithFields(logrus.Fields{
			"caster": state.Caster,
			"state":  state.State,
		}).Info("Purged state of removed caster")
		purged++
	}
	return purged, nil
}

// PurgeCheckLogs deletes check log files past their retention.
func (h *Housekeeper) PurgeCheckLogs() (int, error) {
	if !h.checklog.Enabled {
		return 0, nil
	}
	return checklog.Prune(h.checklog.Directory, h.checklog.Prefix, h.checklog.RetentionDays, h.now())
}

// PurgeAll performs a complete purge of stale data
func (h *Housekeeper) PurgeAll(ctx context.Context) (*HousekeepingStats, error) {
	logrus.Debug("Starting housekeeping")

	stats := &HousekeepingStats{}
	var errors []string

	n, err := h.PurgeExpiredProbes(ctx)
	if err != nil {
		errors = append(errors, fmt.Sprintf("probe purge failed: %v", err))
	}
	stats.ProbesDeleted = n

	if n, err = h.PurgeStaleStates(ctx); err != nil {
		errors = append(errors, fmt.Sprintf("state purge failed: %v", err))
	}
	stats.StatesDeleted = n

	if n, err = h.PurgeCheckLogs(); err != nil {
		errors = append(errors, fmt.Sprintf("check log purge failed: %v", err))
	}
	stats.CheckLogsPruned = n

	if len(errors) > 0 {
		return stats, fmt.Errorf("purge completed with errors: %s", strings.Join(errors, "; "))
	}

	logrus.WithFields(logrus.Fields{
		"probes_deleted":    stats.ProbesDeleted,
		"states_deleted":    stats.StatesDeleted,
		"check_logs_pruned": stats.CheckLogsPruned,
	}).Debug("Housekeeping finished")
	return stats, nil
}

// Run purges immediately and then every interval until ctx is cancelled.
func (h *Housekeeper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 6 * time.Hour
	}
	logrus.WithField("interval", interval).Info("Scheduled periodic housekeeping")

	if _, err := h.PurgeAll(ctx); err != nil {
		logrus.WithError(err).Error("Initial purge failed")
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Debug("Stopping periodic housekeeping")
			return
		case <-ticker.C:
			if _, err := h.PurgeAll(ctx); err != nil {
				logrus.WithError(err).Error("Scheduled purge failed")
			}
		}
	}
}
