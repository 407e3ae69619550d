// internal/config/pushover.go - Pushover configuration structures
package config

import (
	"fmt"
	"path/filepath"
	"time"
)

// PushoverConfig holds global Pushover notification settings
type PushoverConfig struct {
	Enabled    bool               `yaml:"enabled"`
	APIToken   string             `yaml:"api_token"`
	UserKey    string             `yaml:"user_key"`
	Device     string             `yaml:"device,omitempty"`
	Priority   int                `yaml:"priority"`        // -2 (silent) to 1 (high)
	Sound      string             `yaml:"sound,omitempty"` // pushover sound name
	Title      string             `yaml:"title,omitempty"`
	APIURL     string             `yaml:"api_url"`
	QuietHours *QuietHours        `yaml:"quiet_hours,omitempty"`
	Overrides  []PushoverOverride `yaml:"overrides,omitempty"` // per-caster overrides
}

// QuietHours lowers alert priority during a daily window. Alerts are still
// delivered.
type QuietHours struct {
	Enabled   bool   `yaml:"enabled"`
	StartHour int    `yaml:"start_hour"` // 0-23
	EndHour   int    `yaml:"end_hour"`   // 0-23
	Timezone  string `yaml:"timezone"`   // IANA timezone, e.g., "Europe/Berlin"
}

// PushoverOverride customizes delivery for casters whose name matches
// Caster exactly or CasterPattern as a glob.
type PushoverOverride struct {
	Name          string   `yaml:"name"`
	Caster        string   `yaml:"caster,omitempty"`
	CasterPattern string   `yaml:"caster_pattern,omitempty"`
	Kinds         []string `yaml:"kinds,omitempty"` // down, recovered, error
	UserKey       string   `yaml:"user_key,omitempty"`
	Priority      *int     `yaml:"priority,omitempty"`
	Sound         string   `yaml:"sound,omitempty"`
	Device        string   `yaml:"device,omitempty"`
	Title         string   `yaml:"title,omitempty"`
}

// EffectivePushoverConfig represents the final settings for one message
// after overrides and quiet hours are applied.
type EffectivePushoverConfig struct {
	UserKey  string
	Device   string
	Priority int
	Sound    string
	Title    string
}

func (p *PushoverConfig) validate() error {
	if p.Priority < -2 || p.Priority > 1 {
		return fmt.Errorf("priority must be between -2 and 1")
	}

	if p.QuietHours != nil && p.QuietHours.Enabled {
		if p.QuietHours.StartHour < 0 || p.QuietHours.StartHour > 23 {
			return fmt.Errorf("quiet hours start_hour must be between 0 and 23")
		}
		if p.QuietHours.EndHour < 0 || p.QuietHours.EndHour > 23 {
			return fmt.Errorf("quiet hours end_hour must be between 0 and 23")
		}
		if p.QuietHours.Timezone == "" {
			p.QuietHours.Timezone = "UTC"
		}
		if _, err := time.LoadLocation(p.QuietHours.Timezone); err != nil {
			return fmt.Errorf("quiet hours timezone: %w", err)
		}
	}

	for _, o := range p.Overrides {
		if o.Caster == "" && o.CasterPattern == "" {
			return fmt.Errorf("override %q needs caster or caster_pattern", o.Name)
		}
		if o.CasterPattern != "" {
			if _, err := filepath.Match(o.CasterPattern, ""); err != nil {
				return fmt.Errorf("override %q has invalid caster_pattern: %w", o.Name, err)
			}
		}
		if o.Priority != nil && (*o.Priority < -2 || *o.Priority > 1) {
			return fmt.Errorf("override %q priority must be between -2 and 1", o.Name)
		}
	}

	return nil
}

// Effective returns the delivery settings for an alert of the given kind
// about caster at time now.
func (p *PushoverConfig) Effective(caster, kind string, now time.Time) EffectivePushoverConfig {
	effective := EffectivePushoverConfig{
		UserKey:  p.UserKey,
		Device:   p.Device,
		Priority: p.Priority,
		Sound:    p.Sound,
		Title:    p.Title,
	}

	// Apply overrides in order, with later ones taking precedence
	for i := range p.Overrides {
		if p.Overrides[i].Matches(caster, kind) {
			p.Overrides[i].apply(&effective)
		}
	}

	if p.QuietHours.Contains(now) && effective.Priority > -1 {
		effective.Priority = -1
	}

	return effective
}

// Matches determines if an override applies to the given caster and alert kind
func (o *PushoverOverride) Matches(caster, kind string) bool {
	if len(o.Kinds) > 0 {
		found := false
		for _, k := range o.Kinds {
			if k == kind {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if o.Caster != "" && o.Caster != caster {
		return false
	}
	if o.CasterPattern != "" {
		ok, err := filepath.Match(o.CasterPattern, caster)
		if err != nil || !ok {
			return false
		}
	}

	return true
}

func (o *PushoverOverride) apply(e *EffectivePushoverConfig) {
	if o.UserKey != "" {
		e.UserKey = o.UserKey
	}
	if o.Priority != nil {
		e.Priority = *o.Priority
	}
	if o.Sound != "" {
		e.Sound = o.Sound
	}
	if o.Device != "" {
		e.Device = o.Device
	}
	if o.Title != "" {
		e.Title = o.Title
	}
}

// Contains reports whether t falls within quiet hours. A nil receiver is
// never quiet.
func (q *QuietHours) Contains(t time.Time) bool {
	if q == nil || !q.Enabled {
		return false
	}

	loc, err := time.LoadLocation(q.Timezone)
	if err != nil {
		loc = time.UTC
	}

	hour := t.In(loc).Hour()
	start, end := q.StartHour, q.EndHour

	// Handle cases where quiet hours span midnight
	if start <= end {
		return hour >= start && hour < end
	}
	return hour >= start || hour < end
}
