package models

import (
	"time"

	"github.com/google/uuid"
)

// Notification types.
const (
	NotificationInvitationAccepted   = "invitation_accepted"
	NotificationMemberJoined         = "member_joined"
	NotificationMemberLeft           = "member_left"
	NotificationPaymentFailed        = "payment_failed"
	NotificationSubscriptionCanceled = "subscription_canceled"
	NotificationGraceCritical        = "grace_period_critical"
)

// Notification is an in-app message for a user, optionally scoped to an
// organization.
type Notification struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	OrgID     *uuid.UUID `json:"organization_id,omitempty"`
	Type      string     `json:"type"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	ReadAt    *time.Time `json:"read_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}
