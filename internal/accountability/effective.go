package accountability

import (
	"math"
	"time"

	st "github.com/keshon/therapy-bot/internal/storagetypes"
)

// Defaults supplies the global value of a duration key in hours.
type Defaults interface {
	DefaultHours(key st.DurationKey) float64
}

// Effective is the set of durations that apply to one user right now.
type Effective struct {
	AwakeCooldown  time.Duration
	SleepMin       time.Duration
	WorkDelay      time.Duration
	WorkDuration   time.Duration
	RemindInterval time.Duration
}

// Hours returns the effective value of key in hours: the user's override if
// present, the global default otherwise.
func Hours(d Defaults, rec st.UserRecord, key st.DurationKey) float64 {
	if v, ok := rec.Override(key); ok {
		return v
	}
	return d.DefaultHours(key)
}

// Resolve converts every key to a duration. Values past the range of
// time.Duration saturate, so a huge override means "never".
func Resolve(d Defaults, rec st.UserRecord) Effective {
	h := func(key st.DurationKey) time.Duration {
		return hoursToDuration(Hours(d, rec, key))
	}
	return Effective{
		AwakeCooldown:  h(st.AwakeCooldown),
		SleepMin:       h(st.SleepMin),
		WorkDelay:      h(st.WorkDelay),
		WorkDuration:   h(st.WorkDuration),
		RemindInterval: h(st.RemindInterval),
	}
}

func hoursToDuration(h float64) time.Duration {
	d := h * float64(time.Hour)
	if d >= math.MaxInt64 {
		return math.MaxInt64
	}
	return time.Duration(d)
}
