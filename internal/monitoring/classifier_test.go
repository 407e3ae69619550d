package monitoring

import (
	"testing"

	"github.com/John-MustangGT/ntripwatch/internal/database"
)

func probes(outcomes ...bool) []database.Probe {
	out := make([]database.Probe, len(outcomes))
	for i, ok := range outcomes {
		out[i] = database.Probe{Success: ok}
	}
	return out
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		window []database.Probe
		size   int
		want   database.State
		wantOK bool
	}{
		{"empty", nil, 2, database.StateUnknown, false},
		{"short", probes(false), 2, database.StateUnknown, false},
		{"all up", probes(true, true), 2, database.StateUp, true},
		{"all down", probes(false, false), 2, database.StateDown, true},
		{"newest down", probes(false, true), 2, database.StateUnstable, true},
		{"newest up", probes(true, false), 2, database.StateUnstable, true},
		{"extra entries ignored", probes(false, false, true), 2, database.StateDown, true},
		{"window of three", probes(true, true, true), 3, database.StateUp, true},
		{"window of one", probes(false), 1, database.StateDown, true},
		{"invalid size", probes(true), 0, database.StateUnknown, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.window, tt.size)
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Classify = (%s, %v), want (%s, %v)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}
