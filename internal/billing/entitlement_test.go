package billing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nimbushq/backend/internal/models"
)

func TestEntitled(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	graceDays := 14
	recent := now.Add(-2 * 24 * time.Hour)
	ancient := now.Add(-20 * 24 * time.Hour)

	tests := []struct {
		name string
		sub  *models.Subscription
		want bool
	}{
		{"nil subscription", nil, false},
		{"active", &models.Subscription{Status: models.SubscriptionActive}, true},
		{"trialing", &models.Subscription{Status: models.SubscriptionTrialing}, true},
		{"past due inside grace", &models.Subscription{Status: models.SubscriptionPastDue, PastDueSince: &recent}, true},
		{"past due beyond grace", &models.Subscription{Status: models.SubscriptionPastDue, PastDueSince: &ancient}, false},
		{"past due without timestamp", &models.Subscription{Status: models.SubscriptionPastDue}, true},
		{"unpaid", &models.Subscription{Status: models.SubscriptionUnpaid}, false},
		{"canceled", &models.Subscription{Status: models.SubscriptionCanceled}, false},
		{"incomplete", &models.Subscription{Status: models.SubscriptionIncomplete}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Entitled(tt.sub, graceDays, now))
		})
	}
}
