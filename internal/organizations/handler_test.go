package organizations

import (
	"context"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
)

func TestValidSlug(t *testing.T) {
	valid := []string{"acme", "acme-inc", "a1", "org-42", "x0-y1-z2"}
	for _, s := range valid {
		assert.True(t, ValidSlug(s), "expected %q to be valid", s)
	}

	invalid := []string{
		"",
		"a",
		"Acme",
		"-acme",
		"acme inc",
		"acme_inc",
		"acme.inc",
		"0123456789012345678901234567890123456789012345678901234567890123456789",
	}
	for _, s := range invalid {
		assert.False(t, ValidSlug(s), "expected %q to be invalid", s)
	}
}

type fakeNotifier struct {
	userID uuid.UUID
	orgID  *uuid.UUID
	ntype  string
}

func (f *fakeNotifier) Notify(_ context.Context, userID uuid.UUID, orgID *uuid.UUID, ntype, _, _ string) error {
	f.userID, f.orgID, f.ntype = userID, orgID, ntype
	return nil
}

type fakeDispatcher struct {
	orgID     uuid.UUID
	eventType string
	data      interface{}
}

func (f *fakeDispatcher) Dispatch(_ context.Context, orgID uuid.UUID, eventType string, data interface{}) {
	f.orgID, f.eventType, f.data = orgID, eventType, data
}

func TestMemberLeftFanout(t *testing.T) {
	n := &fakeNotifier{}
	d := &fakeDispatcher{}
	h := NewHandler(nil, nil, n, d, zap.NewNop())

	orgID, userID := uuid.New(), uuid.New()
	h.memberLeft(context.Background(), orgID, userID, models.OrgRoleMember)

	assert.Equal(t, userID, n.userID)
	require.NotNil(t, n.orgID)
	assert.Equal(t, orgID, *n.orgID)
	assert.Equal(t, models.NotificationMemberLeft, n.ntype)

	assert.Equal(t, orgID, d.orgID)
	assert.Equal(t, models.EventMemberLeft, d.eventType)
	payload, ok := d.data.(gin.H)
	require.True(t, ok)
	assert.Equal(t, userID, payload["user_id"])
	assert.Equal(t, models.OrgRoleMember, payload["role"])
}
