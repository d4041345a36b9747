package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/pkg/queue"
)

// deliveryTimeout bounds one outbound webhook POST.
const deliveryTimeout = 10 * time.Second

// Processor consumes the worker queues: transactional email and outbound
// webhook delivery.
type Processor struct {
	mailer      *Mailer
	webhookRepo *webhooks.Repository
	queue       *queue.Queue
	httpClient  *http.Client
	logger      *zap.Logger
}

// NewProcessor creates the queue processor.
func NewProcessor(mailer *Mailer, webhookRepo *webhooks.Repository, q *queue.Queue, logger *zap.Logger) *Processor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		mailer:      mailer,
		webhookRepo: webhookRepo,
		queue:       q,
		httpClient:  &http.Client{Timeout: deliveryTimeout},
		logger:      logger,
	}
}

// Process executes one job.
func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	switch job.Type {
	case queue.JobTypeEmail:
		var payload queue.EmailPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.mailer.Send(ctx, payload)
	case queue.JobTypeWebhookDelivery:
		var payload queue.WebhookDeliveryPayload
		if err := json.Unmarshal(job.Payload, &payload); err != nil {
			return fmt.Errorf("unmarshal payload: %w", err)
		}
		return p.deliver(ctx, job, payload)
	default:
		return fmt.Errorf("unknown job type: %s", job.Type)
	}
}

// deliver POSTs the delivery payload to its endpoint with the signature
// headers and records the outcome on the delivery row.
func (p *Processor) deliver(ctx context.Context, job *queue.Job, payload queue.WebhookDeliveryPayload) error {
	delivery, err := p.webhookRepo.GetDelivery(ctx, payload.DeliveryID)
	if err != nil {
		return fmt.Errorf("load delivery: %w", err)
	}
	if delivery == nil {
		p.logger.Warn("delivery row missing", zap.String("delivery_id", payload.DeliveryID.String()))
		return nil
	}
	if delivery.Status == models.DeliveryStatusSuccess || delivery.Status == models.DeliveryStatusDead {
		return nil
	}

	endpoint, err := p.webhookRepo.GetEndpointByID(ctx, delivery.EndpointID)
	if err != nil {
		return fmt.Errorf("load endpoint: %w", err)
	}
	if endpoint == nil || !endpoint.Active {
		// Endpoint deleted or disabled after enqueue: park the delivery.
		return p.webhookRepo.MarkDead(ctx, delivery.ID, 0)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint.URL, bytes.NewReader(delivery.Payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", webhooks.Sign(endpoint.Secret, delivery.Payload))
	req.Header.Set("X-Webhook-Event", delivery.EventType)
	req.Header.Set("X-Webhook-Delivery", delivery.ID.String())

	resp, err := p.httpClient.Do(req)
	statusCode := 0
	if err == nil {
		statusCode = resp.StatusCode
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
	}

	if err == nil && statusCode >= 200 && statusCode < 300 {
		if markErr := p.webhookRepo.MarkSuccess(ctx, delivery.ID, statusCode); markErr != nil {
			return fmt.Errorf("mark success: %w", markErr)
		}
		p.logger.Info("webhook delivered",
			zap.String("delivery_id", delivery.ID.String()),
			zap.String("event", delivery.EventType),
			zap.Int("status", statusCode))
		return nil
	}

	// Last attempt: mark dead here; the queue moves the job to the DLQ.
	if job.Attempt+1 >= queue.MaxRetries {
		if markErr := p.webhookRepo.MarkDead(ctx, delivery.ID, statusCode); markErr != nil {
			p.logger.Error("mark dead failed", zap.Error(markErr))
		}
	} else {
		nextRetry := time.Now().UTC().Add(queue.RetryBackoff * time.Duration(job.Attempt+1))
		if markErr := p.webhookRepo.MarkRetrying(ctx, delivery.ID, statusCode, nextRetry); markErr != nil {
			p.logger.Error("mark retrying failed", zap.Error(markErr))
		}
	}
	if err != nil {
		return fmt.Errorf("post endpoint: %w", err)
	}
	return fmt.Errorf("endpoint returned status %d", statusCode)
}

// Run starts the worker loop: dequeue, process, retry on error.
func (p *Processor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("worker stopping")
			return
		default:
		}

		job, originKey, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("dequeue error", zap.Error(err))
			time.Sleep(queue.RetryBackoff)
			continue
		}
		if job == nil {
			continue
		}

		p.logger.Debug("processing job", zap.String("job_id", job.ID), zap.String("type", string(job.Type)))
		if err := p.Process(ctx, job); err != nil {
			p.logger.Error("job failed", zap.String("job_id", job.ID), zap.Error(err))
			if reErr := p.queue.Retry(ctx, job, originKey); reErr != nil {
				p.logger.Error("retry enqueue failed", zap.Error(reErr))
			}
			time.Sleep(queue.RetryBackoff)
			continue
		}
	}
}
