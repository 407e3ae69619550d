// internal/database/boltstore_extended.go - BoltDB housekeeping operations
package database

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"go.etcd.io/bbolt"
)

// DeleteProbesBefore removes probes older than cutoff from every caster's history
func (s *BoltStore) DeleteProbesBefore(ctx context.Context, cutoff time.Time) (int, error) {
	deletedCount := 0

	err := s.db.Update(func(tx *bbolt.Tx) error {
		root := tx.Bucket(ProbesBucket)

		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil // not a sub-bucket
			}
			b := root.Bucket(name)

			// Collect keys to delete; probes are in insertion order so stop at
			// the first one inside the retention window.
			var keysToDelete [][]byte
			cursor := b.Cursor()
			for k, v := cursor.First(); k != nil; k, v = cursor.Next() {
				var probe Probe
				if err := json.Unmarshal(v, &probe); err == nil && !probe.Timestamp.Before(cutoff) {
					break
				}
				keysToDelete = append(keysToDelete, copyBytes(k))
			}

			for _, key := range keysToDelete {
				if err := b.Delete(key); err != nil {
					return fmt.Errorf("failed to delete probe for %s: %w", name, err)
				}
				deletedCount++
			}
			return nil
		})
	})

	if err != nil {
		return 0, fmt.Errorf("failed to delete old probes: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"deleted_count": deletedCount,
		"cutoff_time":   cutoff,
	}).Debug("Deleted old probe history entries")

	return deletedCount, nil
}

// DeleteState removes the state record of a caster
func (s *BoltStore) DeleteState(ctx context.Context, caster string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(StatesBucket).Delete([]byte(caster))
	})
}

// GetDatabaseStats returns information about database size and health
func (s *BoltStore) GetDatabaseStats(ctx context.Context) (*DatabaseStats, error) {
	stats := &DatabaseStats{Backend: "boltdb"}

	err := s.db.View(func(tx *bbolt.Tx) error {
		stats.TotalCasters = tx.Bucket(CastersBucket).Stats().KeyN
		stats.TotalStates = tx.Bucket(StatesBucket).Stats().KeyN

		root := tx.Bucket(ProbesBucket)
		return root.ForEach(func(name, v []byte) error {
			if v != nil {
				return nil
			}
			b := root.Bucket(name)
			stats.TotalProbes += b.Stats().KeyN

			cursor := b.Cursor()
			if k, v := cursor.First(); k != nil {
				var probe Probe
				if err := json.Unmarshal(v, &probe); err == nil {
					if stats.OldestProbe.IsZero() || probe.Timestamp.Before(stats.OldestProbe) {
						stats.OldestProbe = probe.Timestamp
					}
				}
			}
			if k, v := cursor.Last(); k != nil {
				var probe Probe
				if err := json.Unmarshal(v, &probe); err == nil {
					if probe.Timestamp.After(stats.NewestProbe) {
						stats.NewestProbe = probe.Timestamp
					}
				}
			}
			return nil
		})
	})

	if err != nil {
		return nil, fmt.Errorf("failed to get database stats: %w", err)
	}

	// Get file size
	if fileInfo, err := os.Stat(s.path); err == nil {
		stats.DatabaseSize = fileInfo.Size()
	}

	return stats, nil
}

// copyBytes creates a copy of a byte slice
func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	copied := make([]byte, len(b))
	copy(copied, b)
	return copied
}
