package webhooks

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/nimbushq/backend/internal/models"
)

func TestEndpointSubscribed(t *testing.T) {
	ep := models.WebhookEndpoint{
		OrganizationID: uuid.New(),
		URL:            "https://example.com/hooks",
		Events:         []string{models.EventMemberJoined, models.EventMemberLeft},
		Active:         true,
	}
	assert.True(t, ep.Subscribed(models.EventMemberLeft))
	assert.False(t, ep.Subscribed(models.EventLeadCreated))

	all := models.WebhookEndpoint{OrganizationID: ep.OrganizationID}
	assert.True(t, all.Subscribed(models.EventLeadCreated))
}

func TestValidateEvents(t *testing.T) {
	_, ok := validateEvents([]string{"*"})
	assert.True(t, ok)

	_, ok = validateEvents([]string{models.EventInvitationCreated, models.EventPaymentFailed})
	assert.True(t, ok)

	bad, ok := validateEvents([]string{models.EventMemberJoined, "member.promoted"})
	assert.False(t, ok)
	assert.Equal(t, "member.promoted", bad)
}
