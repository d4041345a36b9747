package models

import (
	"time"

	"github.com/google/uuid"
)

// InvitationStatus is the lifecycle state of an invitation.
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationDeclined InvitationStatus = "declined"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

// Invitation is a time-limited offer for a user to join an organization
// with an assigned role. The invite token is stored hashed.
type Invitation struct {
	ID             uuid.UUID        `json:"id"`
	OrganizationID uuid.UUID        `json:"organization_id"`
	Email          string           `json:"email"`
	Role           string           `json:"role"`
	InviterID      uuid.UUID        `json:"inviter_id"`
	TokenHash      string           `json:"-"`
	Status         InvitationStatus `json:"status"`
	ExpiresAt      time.Time        `json:"expires_at"`
	AcceptedBy     *uuid.UUID       `json:"accepted_by,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// Expired reports whether the invitation expiry has passed.
func (i *Invitation) Expired(now time.Time) bool {
	return now.After(i.ExpiresAt)
}
