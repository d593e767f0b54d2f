package storagetypes

import (
	"time"
)

// DurationKey names one of the per-user timing settings. The set is closed:
// anything not listed in DurationKeys is rejected by the settings loader and
// by the `set` command.
type DurationKey string

const (
	AwakeCooldown  DurationKey = "awake_cooldown_h"
	SleepMin       DurationKey = "sleep_min_h"
	WorkDelay      DurationKey = "work_delay_h"
	WorkDuration   DurationKey = "work_duration_h"
	RemindInterval DurationKey = "remind_interval_h"
)

// DurationKeys lists every DurationKey in display order.
var DurationKeys = []DurationKey{
	AwakeCooldown,
	SleepMin,
	WorkDelay,
	WorkDuration,
	RemindInterval,
}

// ParseDurationKey returns the DurationKey spelled s.
func ParseDurationKey(s string) (DurationKey, bool) {
	for _, k := range DurationKeys {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// UserRecord is the persisted accountability state of one user.
type UserRecord struct {
	ID         string                  `json:"id"`
	LastActive time.Time               `json:"last_active"`
	Awake      time.Time               `json:"awake"`
	Working    time.Time               `json:"working"`
	Remind     time.Time               `json:"remind"`
	Done       bool                    `json:"done"`
	Slacking   bool                    `json:"slacking"`
	Enabled    bool                    `json:"enabled"`
	Prompt     string                  `json:"prompt,omitempty"` // message id of the outstanding yes/no prompt
	Overrides  map[DurationKey]float64 `json:"overrides,omitempty"`
}

// NewUserRecord returns the default record for a user seen for the first time.
func NewUserRecord(id string) UserRecord {
	return UserRecord{ID: id}
}

// Override returns the user's override for key in hours, if set.
func (r UserRecord) Override(key DurationKey) (float64, bool) {
	v, ok := r.Overrides[key]
	return v, ok
}

func (r *UserRecord) SetOverride(key DurationKey, hours float64) {
	if r.Overrides == nil {
		r.Overrides = make(map[DurationKey]float64)
	}
	r.Overrides[key] = hours
}

func (r *UserRecord) ClearOverride(key DurationKey) {
	delete(r.Overrides, key)
	if len(r.Overrides) == 0 {
		r.Overrides = nil
	}
}

// InCycle reports whether the user has ever started a work cycle.
func (r UserRecord) InCycle() bool {
	return !r.Working.IsZero()
}
