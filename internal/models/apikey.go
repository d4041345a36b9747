package models

import (
	"time"

	"github.com/google/uuid"
)

// APIKey is a server-to-server credential scoped to an organization.
// Only the SHA-256 of the key is stored; the plaintext is returned once
// at creation. Prefix is the first characters of the key for display.
type APIKey struct {
	ID             uuid.UUID  `json:"id"`
	OrganizationID uuid.UUID  `json:"organization_id"`
	Name           string     `json:"name"`
	Prefix         string     `json:"prefix"`
	KeyHash        string     `json:"-"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	LastUsedAt     *time.Time `json:"last_used_at,omitempty"`
	RevokedAt      *time.Time `json:"revoked_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
