// internal/monitoring/classifier.go
package monitoring

import "github.com/John-MustangGT/ntripwatch/internal/database"

// Classify derives a state from the newest-first window of probes. Only the
// first size entries are used. ok is false when fewer than size probes are
// available.
func Classify(window []database.Probe, size int) (database.State, bool) {
	if size < 1 || len(window) < size {
		return database.StateUnknown, false
	}

	successes := 0
	for _, p := range window[:size] {
		if p.Success {
			successes++
		}
	}

	switch successes {
	case size:
		return database.StateUp, true
	case 0:
		return database.StateDown, true
	default:
		return database.StateUnstable, true
	}
}
