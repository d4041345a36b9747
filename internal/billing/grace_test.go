package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCalculateGraceUrgency(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	graceDays := 14

	tests := []struct {
		name          string
		pastDueSince  time.Time
		wantInGrace   bool
		wantDays      int
		wantUrgency   string
	}{
		{
			name:         "just failed",
			pastDueSince: now.Add(-1 * time.Hour),
			wantInGrace:  true,
			wantDays:     14,
			wantUrgency:  UrgencyLow,
		},
		{
			name:         "eight days remaining",
			pastDueSince: now.Add(-6 * 24 * time.Hour),
			wantInGrace:  true,
			wantDays:     8,
			wantUrgency:  UrgencyLow,
		},
		{
			name:         "seven days remaining",
			pastDueSince: now.Add(-7 * 24 * time.Hour),
			wantInGrace:  true,
			wantDays:     7,
			wantUrgency:  UrgencyMedium,
		},
		{
			name:         "four days remaining",
			pastDueSince: now.Add(-10 * 24 * time.Hour),
			wantInGrace:  true,
			wantDays:     4,
			wantUrgency:  UrgencyMedium,
		},
		{
			name:         "two days remaining",
			pastDueSince: now.Add(-12 * 24 * time.Hour),
			wantInGrace:  true,
			wantDays:     2,
			wantUrgency:  UrgencyHigh,
		},
		{
			name:         "hours remaining",
			pastDueSince: now.Add(-13*24*time.Hour - 12*time.Hour),
			wantInGrace:  true,
			wantDays:     1,
			wantUrgency:  UrgencyCritical,
		},
		{
			name:         "grace ended",
			pastDueSince: now.Add(-15 * 24 * time.Hour),
			wantInGrace:  false,
			wantDays:     0,
			wantUrgency:  UrgencyCritical,
		},
		{
			name:         "ends exactly now",
			pastDueSince: now.Add(-14 * 24 * time.Hour),
			wantInGrace:  false,
			wantDays:     0,
			wantUrgency:  UrgencyCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CalculateGrace(tt.pastDueSince, graceDays, now)
			assert.Equal(t, tt.wantInGrace, got.IsInGracePeriod)
			assert.Equal(t, tt.wantDays, got.DaysRemaining)
			assert.Equal(t, tt.wantUrgency, got.Urgency)
			assert.NotEmpty(t, got.Message)
			assert.Equal(t, tt.pastDueSince.Add(time.Duration(graceDays)*24*time.Hour), got.GraceEndsAt)
		})
	}
}

func TestCalculateGraceZeroDays(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	got := CalculateGrace(now.Add(-time.Minute), 0, now)
	assert.False(t, got.IsInGracePeriod)
	assert.Equal(t, 0, got.DaysRemaining)
}
