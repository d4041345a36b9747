package billing

import (
	"fmt"
	"math"
	"time"
)

// Urgency buckets for a past-due subscription inside its grace period.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

// GraceStatus describes where a past-due subscription stands in its grace
// period.
type GraceStatus struct {
	IsInGracePeriod bool      `json:"is_in_grace_period"`
	DaysRemaining   int       `json:"days_remaining"`
	Urgency         string    `json:"urgency"`
	Message         string    `json:"message"`
	GraceEndsAt     time.Time `json:"grace_ends_at"`
}

// CalculateGrace maps the moment a subscription went past due and the
// configured grace length to the current status. now is injected so the
// calculation is deterministic in tests.
func CalculateGrace(pastDueSince time.Time, gracePeriodDays int, now time.Time) GraceStatus {
	graceEnd := pastDueSince.Add(time.Duration(gracePeriodDays) * 24 * time.Hour)
	remaining := graceEnd.Sub(now)

	if remaining <= 0 {
		return GraceStatus{
			IsInGracePeriod: false,
			DaysRemaining:   0,
			Urgency:         UrgencyCritical,
			Message:         "Your grace period has ended. Access is suspended until payment succeeds.",
			GraceEndsAt:     graceEnd,
		}
	}

	days := int(math.Ceil(remaining.Hours() / 24))
	var urgency, message string
	switch {
	case remaining < 24*time.Hour:
		urgency = UrgencyCritical
		message = "Your grace period ends in less than a day. Update your payment method now to keep access."
	case remaining < 3*24*time.Hour:
		urgency = UrgencyHigh
		message = fmt.Sprintf("Payment failed. You have %d days left before access is suspended.", days)
	case remaining <= 7*24*time.Hour:
		urgency = UrgencyMedium
		message = fmt.Sprintf("Payment failed. Please update your payment method within %d days.", days)
	default:
		urgency = UrgencyLow
		message = fmt.Sprintf("A recent payment failed. You have %d days to update your payment method.", days)
	}

	return GraceStatus{
		IsInGracePeriod: true,
		DaysRemaining:   days,
		Urgency:         urgency,
		Message:         message,
		GraceEndsAt:     graceEnd,
	}
}
