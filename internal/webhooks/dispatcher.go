package webhooks

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/pkg/queue"
)

// Event is the envelope delivered to subscriber endpoints.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

// Dispatcher fans an event out to every subscribed endpoint of an org. It
// creates a delivery row per endpoint and enqueues the actual HTTP POST for
// the worker, so request handlers never block on subscriber latency.
type Dispatcher struct {
	repo   *Repository
	queue  *queue.Queue
	logger *zap.Logger
}

func NewDispatcher(repo *Repository, q *queue.Queue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{repo: repo, queue: q, logger: logger}
}

// Dispatch records and enqueues deliveries for all endpoints subscribed to
// eventType. Failures are logged, not returned: a webhook fan-out must
// never fail the operation that produced the event.
func (d *Dispatcher) Dispatch(ctx context.Context, orgID uuid.UUID, eventType string, data interface{}) {
	endpoints, err := d.repo.ListSubscribed(ctx, orgID, eventType)
	if err != nil {
		d.logger.Error("list subscribed endpoints failed",
			zap.String("event_type", eventType), zap.Error(err))
		return
	}
	if len(endpoints) == 0 {
		return
	}

	raw, err := json.Marshal(data)
	if err != nil {
		d.logger.Error("marshal event data failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}
	event := Event{ID: uuid.New(), Type: eventType, CreatedAt: time.Now().UTC(), Data: raw}
	payload, err := json.Marshal(event)
	if err != nil {
		d.logger.Error("marshal event failed", zap.String("event_type", eventType), zap.Error(err))
		return
	}

	for _, ep := range endpoints {
		delivery := &models.WebhookDelivery{
			EndpointID: ep.ID,
			EventID:    event.ID,
			EventType:  eventType,
			Payload:    payload,
			Status:     models.DeliveryStatusPending,
		}
		if err := d.repo.CreateDelivery(ctx, delivery); err != nil {
			d.logger.Error("create delivery failed",
				zap.String("endpoint_id", ep.ID.String()), zap.Error(err))
			continue
		}
		if err := d.queue.EnqueueWebhookDelivery(ctx, queue.WebhookDeliveryPayload{DeliveryID: delivery.ID}); err != nil {
			d.logger.Error("enqueue delivery failed",
				zap.String("delivery_id", delivery.ID.String()), zap.Error(err))
		}
	}
}
