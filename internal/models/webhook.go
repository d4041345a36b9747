package models

import (
	"time"

	"github.com/google/uuid"
)

// Outbound webhook event types.
const (
	EventInvitationCreated    = "invitation.created"
	EventInvitationAccepted   = "invitation.accepted"
	EventMemberJoined         = "member.joined"
	EventMemberLeft           = "member.left"
	EventSubscriptionUpdated  = "subscription.updated"
	EventSubscriptionCanceled = "subscription.canceled"
	EventPaymentFailed        = "billing.payment_failed"
	EventLeadCreated          = "lead.created"
)

// WebhookEndpoint is a tenant-registered URL that receives signed event
// payloads.
type WebhookEndpoint struct {
	ID             uuid.UUID `json:"id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	URL            string    `json:"url"`
	Secret         string    `json:"-"`
	Events         []string  `json:"events"` // empty = all events
	Description    string    `json:"description,omitempty"`
	Active         bool      `json:"active"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Subscribed reports whether the endpoint wants the given event type.
func (e *WebhookEndpoint) Subscribed(eventType string) bool {
	if len(e.Events) == 0 {
		return true
	}
	for _, ev := range e.Events {
		if ev == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus is the state of a webhook delivery attempt chain.
type DeliveryStatus string

const (
	DeliveryStatusPending  DeliveryStatus = "pending"
	DeliveryStatusSuccess  DeliveryStatus = "success"
	DeliveryStatusRetrying DeliveryStatus = "retrying"
	DeliveryStatusDead     DeliveryStatus = "dead"
)

// WebhookDelivery records one event dispatched to one endpoint, across
// all of its attempts.
type WebhookDelivery struct {
	ID           uuid.UUID      `json:"id"`
	EndpointID   uuid.UUID      `json:"endpoint_id"`
	EventID      uuid.UUID      `json:"event_id"`
	EventType    string         `json:"event_type"`
	Payload      []byte         `json:"-"`
	Status       DeliveryStatus `json:"status"`
	StatusCode   int            `json:"status_code,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	Attempts     int            `json:"attempts"`
	NextRetryAt  *time.Time     `json:"next_retry_at,omitempty"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}
