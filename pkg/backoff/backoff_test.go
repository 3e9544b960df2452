package backoff

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestForAttempt(t *testing.T) {
	s := DefaultSchedule()

	tests := []struct {
		name     string
		attempt  int
		expected time.Duration
	}{
		{"first attempt", 1, 1 * time.Second},
		{"second attempt", 2, 2 * time.Second},
		{"third attempt", 3, 4 * time.Second},
		{"fourth attempt", 4, 8 * time.Second},
		{"fifth attempt", 5, 16 * time.Second},
		{"sixth attempt", 6, 30 * time.Second},
		{"seventh attempt capped", 7, 30 * time.Second},
		{"hundredth attempt capped", 100, 30 * time.Second},
		{"zero clamps to first", 0, 1 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, s.ForAttempt(tt.attempt))
		})
	}
}

func TestValidate(t *testing.T) {
	assert.NoError(t, DefaultSchedule().Validate())
	assert.Error(t, Schedule{}.Validate())
	assert.Error(t, Schedule{-time.Second}.Validate())
	assert.Error(t, Schedule{2 * time.Second, time.Second}.Validate())
}

func TestCap(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultSchedule().Cap())
	assert.Equal(t, time.Duration(0), Schedule{}.Cap())
}
