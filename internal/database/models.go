// internal/database/models.go
package database

import (
	"strings"
	"time"
)

// MaxMessageLength bounds the diagnostic text stored with each probe.
const MaxMessageLength = 255

// State is the classified health of a caster.
type State string

const (
	StateUnknown  State = "UNKNOWN"
	StateUp       State = "UP"
	StateDown     State = "DOWN"
	StateUnstable State = "UNSTABLE"
)

// Firm reports whether the state is one the alert gate acts on.
func (s State) Firm() bool {
	return s == StateUp || s == StateDown
}

// Caster is one NTRIP caster registered for monitoring.
type Caster struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Host      string    `json:"host"`
	Port      int       `json:"port"`
	Username  string    `json:"username"`
	Password  string    `json:"password,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Probe is the immutable outcome of a single reachability check.
type Probe struct {
	Seq        uint64    `json:"seq"`
	Caster     string    `json:"caster"`
	Success    bool      `json:"success"`
	Message    string    `json:"message"`
	DurationMs float64   `json:"duration_ms"`
	Timestamp  time.Time `json:"timestamp"`
}

// CasterState is the last classified state of a caster. Firm holds the
// last UP or DOWN the alert gate acted on and survives UNSTABLE periods.
type CasterState struct {
	Caster    string    `json:"caster"`
	State     State     `json:"state"`
	Firm      State     `json:"firm"`
	ChangedAt time.Time `json:"changed_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ProbeFilters narrows a history query.
type ProbeFilters struct {
	Since time.Time
	Limit int
}

// DatabaseStats provides information about database size and health
type DatabaseStats struct {
	Backend      string    `json:"backend"`
	TotalCasters int       `json:"total_casters"`
	TotalProbes  int       `json:"total_probes"`
	TotalStates  int       `json:"total_states"`
	DatabaseSize int64     `json:"database_size_bytes"`
	OldestProbe  time.Time `json:"oldest_probe"`
	NewestProbe  time.Time `json:"newest_probe"`
}

func truncateMessage(msg string) string {
	if len(msg) <= MaxMessageLength {
		return msg
	}
	return strings.ToValidUTF8(msg[:MaxMessageLength], "")
}
