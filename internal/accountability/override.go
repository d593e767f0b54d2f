package accountability

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

// MaxHours is the largest override accepted, about 114 years.
const MaxHours = 1_000_000

var (
	ErrNotANumber = errors.New("not a number")
	ErrNegative   = errors.New("value must not be negative")
	ErrTooLarge   = errors.New("value is too large")
)

// ParseOverride parses the value argument of an override command. "none"
// (any case) means clear the override.
func ParseOverride(raw string) (value float64, unset bool, err error) {
	if strings.EqualFold(raw, "none") {
		return 0, true, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, ErrNotANumber
	}
	if v < 0 {
		return 0, false, ErrNegative
	}
	if v > MaxHours {
		return 0, false, ErrTooLarge
	}
	return v, false, nil
}
