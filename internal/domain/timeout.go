package domain

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// Disabled is the normalized minute count of a timeout that never fires.
const Disabled = -1

// TimeoutPolicy caps the wall-clock run time in whole minutes.
type TimeoutPolicy struct {
	Minutes int
}

// NewTimeoutPolicy normalizes minutes: anything <= 0 disables the cap.
func NewTimeoutPolicy(minutes int) TimeoutPolicy {
	if minutes <= 0 {
		return TimeoutPolicy{Minutes: Disabled}
	}
	return TimeoutPolicy{Minutes: minutes}
}

// ParseTimeout leniently parses a minute count. Values that are not whole
// numbers, or are <= 0, yield a disabled policy rather than an error.
func ParseTimeout(raw string) TimeoutPolicy {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return TimeoutPolicy{Minutes: Disabled}
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return TimeoutPolicy{Minutes: Disabled}
	}
	return NewTimeoutPolicy(n)
}

// TimeoutFromValue accepts the loosely typed value found in profile files.
func TimeoutFromValue(v any) TimeoutPolicy {
	switch t := v.(type) {
	case nil:
		return TimeoutPolicy{Minutes: Disabled}
	case int:
		return NewTimeoutPolicy(t)
	case int64:
		return NewTimeoutPolicy(int(t))
	case float64:
		if t != math.Trunc(t) || t > math.MaxInt32 {
			return TimeoutPolicy{Minutes: Disabled}
		}
		return NewTimeoutPolicy(int(t))
	case string:
		return ParseTimeout(t)
	default:
		return TimeoutPolicy{Minutes: Disabled}
	}
}

func (p TimeoutPolicy) Enabled() bool {
	return p.Minutes > 0
}

// Deadline returns the run-time cap and whether one is enforced.
func (p TimeoutPolicy) Deadline() (time.Duration, bool) {
	if !p.Enabled() {
		return 0, false
	}
	return time.Duration(p.Minutes) * time.Minute, true
}

// Exceeded reports whether elapsed is strictly past the deadline.
func (p TimeoutPolicy) Exceeded(elapsed time.Duration) bool {
	limit, ok := p.Deadline()
	return ok && elapsed > limit
}

func (p TimeoutPolicy) String() string {
	if !p.Enabled() {
		return fmt.Sprintf("%d minutes (disabled)", Disabled)
	}
	return fmt.Sprintf("%d minutes", p.Minutes)
}
