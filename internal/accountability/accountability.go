// Package accountability holds the per-user wake/work/done state machine.
//
// Everything here is pure: functions take a record, the current time and the
// effective durations, and either report a decision or mutate the record in
// place. Callers run them inside storage.Store.Update so that decision and
// mutation happen in one critical section.
package accountability

import (
	"time"

	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

// Action is the scheduled transition chosen for a user on one tick.
type Action int

const (
	None Action = iota
	StartWorking
	StopWorking
	Remind
)

func (a Action) String() string {
	switch a {
	case StartWorking:
		return "start_working"
	case StopWorking:
		return "stop_working"
	case Remind:
		return "remind"
	default:
		return "none"
	}
}

// Evaluate picks at most one action for rec. Disabled users never get one.
func Evaluate(rec st.UserRecord, now time.Time, eff Effective) Action {
	if !rec.Enabled {
		return None
	}
	switch {
	case rec.Awake.After(rec.Working) && now.Sub(rec.Awake) > eff.WorkDelay:
		return StartWorking
	case rec.InCycle() && !rec.Done && now.Sub(rec.Working) > eff.WorkDuration:
		return StopWorking
	case rec.InCycle() && !rec.Done && now.Sub(rec.Remind) > eff.RemindInterval:
		return Remind
	}
	return None
}

// Apply performs the record side of action a. Prompt bookkeeping is left to
// the caller, which only knows the prompt id after the message is sent.
func Apply(rec *st.UserRecord, a Action, now time.Time) {
	switch a {
	case StartWorking:
		rec.Working = now
		rec.Remind = now
		rec.Done = false
	case StopWorking:
		rec.Done = true
		rec.Slacking = false
	case Remind:
		rec.Remind = now
	}
}

// Wake records activity at now and decides whether it wakes the user.
// existed is false for a record created by this call; first contact never
// wakes. The returned bool is true only for enabled users.
func Wake(rec *st.UserRecord, existed bool, now time.Time, eff Effective) bool {
	prev := rec.LastActive
	rec.LastActive = now
	if !existed {
		return false
	}
	if now.Sub(rec.Awake) > eff.AwakeCooldown && now.Sub(prev) > eff.SleepMin {
		rec.Awake = now
		return rec.Enabled
	}
	return false
}

// ForceWake marks the user awake regardless of cooldowns.
func ForceWake(rec *st.UserRecord, now time.Time) {
	rec.Awake = now
}
