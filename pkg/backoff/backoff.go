package backoff

import (
	"errors"
	"time"
)

// Schedule is a fixed table of reconnect delays. Attempt n (1-indexed) uses
// the n-th entry; attempts beyond the table reuse the last entry, so the
// final entry is the cap.
type Schedule []time.Duration

// DefaultSchedule returns the reconnect schedule used by the desktop client:
// 1s, 2s, 4s, 8s, 16s, capped at 30s.
func DefaultSchedule() Schedule {
	return Schedule{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
	}
}

// Validate checks the schedule for reasonable values
func (s Schedule) Validate() error {
	if len(s) == 0 {
		return errors.New("schedule must have at least one delay")
	}
	for i, d := range s {
		if d <= 0 {
			return errors.New("schedule delays must be positive")
		}
		if i > 0 && d < s[i-1] {
			return errors.New("schedule delays must be non-decreasing")
		}
	}
	return nil
}

// ForAttempt returns the delay before reconnect attempt n (1-indexed).
// Attempts past the end of the table get the capped final delay.
func (s Schedule) ForAttempt(attempt int) time.Duration {
	if len(s) == 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	idx := attempt - 1
	if idx >= len(s) {
		idx = len(s) - 1
	}
	return s[idx]
}

// Cap returns the maximum delay in the schedule.
func (s Schedule) Cap() time.Duration {
	if len(s) == 0 {
		return 0
	}
	return s[len(s)-1]
}
