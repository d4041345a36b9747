package invitations

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nimbushq/backend/internal/models"
)

func pendingInvitation(email string, expiresAt time.Time) *models.Invitation {
	return &models.Invitation{
		Email:     email,
		Role:      models.OrgRoleMember,
		Status:    models.InvitationPending,
		ExpiresAt: expiresAt,
	}
}

func TestAcceptGate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("pending and addressed to caller", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(24*time.Hour))
		assert.Equal(t, gateOK, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("email comparison is case insensitive", func(t *testing.T) {
		inv := pendingInvitation("Dana@Example.com", now.Add(24*time.Hour))
		assert.Equal(t, gateOK, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("already accepted cannot be reused", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(24*time.Hour))
		inv.Status = models.InvitationAccepted
		assert.Equal(t, gateNotPending, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("revoked is rejected", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(24*time.Hour))
		inv.Status = models.InvitationRevoked
		assert.Equal(t, gateNotPending, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("past expiry", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(-time.Minute))
		assert.Equal(t, gateExpired, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("expiry instant itself is still valid", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now)
		assert.Equal(t, gateOK, acceptGate(inv, "dana@example.com", now))
	})

	t.Run("different email", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(24*time.Hour))
		assert.Equal(t, gateWrongEmail, acceptGate(inv, "mallory@example.com", now))
	})

	t.Run("expiry is checked before email", func(t *testing.T) {
		inv := pendingInvitation("dana@example.com", now.Add(-time.Hour))
		assert.Equal(t, gateExpired, acceptGate(inv, "mallory@example.com", now))
	})
}
