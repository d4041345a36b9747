package billing

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
)

// ContextSubscription is the gin context key for the resolved subscription.
const ContextSubscription = "subscription"

// Entitled reports whether a subscription grants access to paid features.
// past_due keeps access for the length of the grace period.
func Entitled(sub *models.Subscription, graceDays int, now time.Time) bool {
	if sub == nil {
		return false
	}
	switch sub.Status {
	case models.SubscriptionActive, models.SubscriptionTrialing:
		return true
	case models.SubscriptionPastDue:
		if sub.PastDueSince == nil {
			return true
		}
		return CalculateGrace(*sub.PastDueSince, graceDays, now).IsInGracePeriod
	default:
		return false
	}
}

// RequireEntitlement returns a middleware that blocks paid features for
// orgs without a usable subscription. Runs after RequireOrgRole so the org
// is already resolved.
func RequireEntitlement(repo *Repository, graceDays int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
		sub, err := repo.GetByOrg(c.Request.Context(), orgID)
		if err != nil {
			logger.Error("load subscription failed", zap.Error(err))
			response.Internal(c, "failed to check subscription")
			c.Abort()
			return
		}
		if !Entitled(sub, graceDays, time.Now().UTC()) {
			response.PaymentRequired(c, "an active subscription is required")
			c.Abort()
			return
		}
		c.Set(ContextSubscription, sub)
		c.Next()
	}
}
