package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/notifications"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/pkg/queue"
)

// SignatureHeader carries the provider's webhook signature.
const SignatureHeader = "Provider-Signature"

// SignatureTolerance bounds how stale a signed timestamp may be. Protects
// against replay of captured webhook requests.
const SignatureTolerance = 5 * time.Minute

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrStaleTimestamp   = errors.New("webhook timestamp outside tolerance")
)

// VerifyProviderSignature checks a header of the form
// "t=<unix>,v1=<hex>" where the hex value is HMAC-SHA256 over
// "<unix>.<payload>". Multiple v1 entries are accepted to allow secret
// rotation.
func VerifyProviderSignature(secret string, payload []byte, header string, now time.Time) error {
	var ts int64
	var sigs []string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			sigs = append(sigs, v)
		}
	}
	if ts == 0 || len(sigs) == 0 {
		return ErrInvalidSignature
	}

	age := now.Sub(time.Unix(ts, 0))
	if age > SignatureTolerance || age < -SignatureTolerance {
		return ErrStaleTimestamp
	}

	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	for _, sig := range sigs {
		if hmac.Equal([]byte(expected), []byte(sig)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// SignPayload produces a signature header for a payload. Used by tests
// and the local provider stub.
func SignPayload(secret string, payload []byte, now time.Time) string {
	ts := now.Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(payload)
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

// providerEvent is the provider's event envelope.
type providerEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// EventProcessor applies provider webhook events to local state and fans
// out the resulting notifications, emails, and outbound webhook events.
type EventProcessor struct {
	repo       *Repository
	notifier   *notifications.Service
	dispatcher *webhooks.Dispatcher
	queue      *queue.Queue
	graceDays  int
	logger     *zap.Logger
}

func NewEventProcessor(repo *Repository, notifier *notifications.Service, dispatcher *webhooks.Dispatcher, q *queue.Queue, graceDays int, logger *zap.Logger) *EventProcessor {
	return &EventProcessor{repo: repo, notifier: notifier, dispatcher: dispatcher, queue: q, graceDays: graceDays, logger: logger}
}

// Process applies one event. Unknown event types are ignored so the
// provider's endpoint config can be broader than what we handle.
func (p *EventProcessor) Process(ctx context.Context, payload []byte) error {
	var event providerEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return fmt.Errorf("decode event: %w", err)
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return p.syncSubscription(ctx, event.Data.Object, false)
	case "customer.subscription.deleted":
		return p.syncSubscription(ctx, event.Data.Object, true)
	case "invoice.payment_failed":
		return p.handlePaymentFailed(ctx, event.Data.Object)
	case "invoice.payment_succeeded":
		return p.handlePaymentSucceeded(ctx, event.Data.Object)
	default:
		p.logger.Debug("ignoring provider event", zap.String("type", event.Type))
		return nil
	}
}

func unixTime(v int64) *time.Time {
	if v == 0 {
		return nil
	}
	t := time.Unix(v, 0).UTC()
	return &t
}

func (p *EventProcessor) syncSubscription(ctx context.Context, object json.RawMessage, deleted bool) error {
	var ps ProviderSubscription
	if err := json.Unmarshal(object, &ps); err != nil {
		return fmt.Errorf("decode subscription: %w", err)
	}

	sub, err := p.repo.GetByProviderSubscriptionID(ctx, ps.ID)
	if err != nil {
		return err
	}
	if sub == nil {
		// First event for this subscription: match on customer.
		sub, err = p.repo.GetByProviderCustomerID(ctx, ps.Customer)
		if err != nil {
			return err
		}
	}
	if sub == nil {
		p.logger.Warn("provider subscription has no local row",
			zap.String("provider_subscription_id", ps.ID),
			zap.String("provider_customer_id", ps.Customer))
		return nil
	}

	planID := sub.PlanID
	var priceID *uuid.UUID
	if providerPrice := ps.PriceID(); providerPrice != "" {
		price, err := p.repo.GetPriceByProviderID(ctx, providerPrice)
		if err != nil {
			return err
		}
		if price != nil {
			planID = price.PlanID
			priceID = &price.ID
		}
	}

	status := models.SubscriptionStatus(ps.Status)
	if deleted {
		status = models.SubscriptionCanceled
	}

	updated, err := p.repo.SyncFromProvider(ctx, sub.ID, planID, priceID, ps.ID, status,
		unixTime(ps.CurrentPeriodStart), unixTime(ps.CurrentPeriodEnd), unixTime(ps.TrialEnd),
		ps.CancelAtPeriodEnd)
	if err != nil {
		return err
	}

	eventType := models.EventSubscriptionUpdated
	if status == models.SubscriptionCanceled {
		eventType = models.EventSubscriptionCanceled
	}
	p.dispatcher.Dispatch(ctx, updated.OrganizationID, eventType, updated)

	if status == models.SubscriptionCanceled && sub.Status != models.SubscriptionCanceled {
		if err := p.notifier.NotifyOrgManagers(ctx, updated.OrganizationID,
			models.NotificationSubscriptionCanceled,
			"Subscription canceled",
			"Your subscription has been canceled. Paid features are no longer available."); err != nil {
			p.logger.Warn("notify cancel failed", zap.Error(err))
		}
	}
	return nil
}

// providerInvoice is the invoice object, reduced to what the payment
// handlers read.
type providerInvoice struct {
	ID           string `json:"id"`
	Customer     string `json:"customer"`
	Subscription string `json:"subscription"`
	AmountDue    int    `json:"amount_due"`
	AttemptCount int    `json:"attempt_count"`
}

func (p *EventProcessor) resolveInvoice(ctx context.Context, object json.RawMessage) (*providerInvoice, *models.Subscription, error) {
	var inv providerInvoice
	if err := json.Unmarshal(object, &inv); err != nil {
		return nil, nil, fmt.Errorf("decode invoice: %w", err)
	}
	var sub *models.Subscription
	var err error
	if inv.Subscription != "" {
		sub, err = p.repo.GetByProviderSubscriptionID(ctx, inv.Subscription)
	} else {
		sub, err = p.repo.GetByProviderCustomerID(ctx, inv.Customer)
	}
	return &inv, sub, err
}

func (p *EventProcessor) handlePaymentFailed(ctx context.Context, object json.RawMessage) error {
	inv, sub, err := p.resolveInvoice(ctx, object)
	if err != nil {
		return err
	}
	if sub == nil {
		p.logger.Warn("failed invoice has no local subscription", zap.String("invoice_id", inv.ID))
		return nil
	}

	updated, err := p.repo.MarkPastDue(ctx, sub.ID)
	if err != nil {
		return err
	}

	grace := GraceStatus{}
	if updated.PastDueSince != nil {
		grace = CalculateGrace(*updated.PastDueSince, p.graceDays, time.Now().UTC())
	}

	p.dispatcher.Dispatch(ctx, updated.OrganizationID, models.EventPaymentFailed, map[string]interface{}{
		"subscription": updated,
		"grace":        grace,
		"attempt":      inv.AttemptCount,
	})
	if err := p.notifier.NotifyOrgManagers(ctx, updated.OrganizationID,
		models.NotificationPaymentFailed, "Payment failed", grace.Message); err != nil {
		p.logger.Warn("notify payment failure failed", zap.Error(err))
	}

	emails, err := p.repo.ListOrgManagerEmails(ctx, updated.OrganizationID)
	if err != nil {
		p.logger.Warn("list manager emails failed", zap.Error(err))
		return nil
	}
	for _, email := range emails {
		if err := p.queue.EnqueueEmail(ctx, queue.EmailPayload{
			EmailType:      models.EmailTypePaymentFailed,
			OrganizationID: &updated.OrganizationID,
			RecipientEmail: email,
			Subject:        "Payment failed",
			BodyText:       grace.Message,
		}); err != nil {
			p.logger.Warn("enqueue dunning email failed", zap.Error(err))
		}
	}
	return nil
}

func (p *EventProcessor) handlePaymentSucceeded(ctx context.Context, object json.RawMessage) error {
	inv, sub, err := p.resolveInvoice(ctx, object)
	if err != nil {
		return err
	}
	if sub == nil {
		p.logger.Debug("paid invoice has no local subscription", zap.String("invoice_id", inv.ID))
		return nil
	}
	if sub.Status != models.SubscriptionPastDue && sub.Status != models.SubscriptionUnpaid {
		return nil
	}

	// Recovery: the subsequent customer.subscription.updated event carries
	// period dates; here we only clear the dunning state.
	updated, err := p.repo.SyncFromProvider(ctx, sub.ID, sub.PlanID, sub.PriceID,
		sub.ProviderSubscriptionID, models.SubscriptionActive,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.TrialEndsAt, sub.CancelAtPeriodEnd)
	if err != nil {
		return err
	}
	p.dispatcher.Dispatch(ctx, updated.OrganizationID, models.EventSubscriptionUpdated, updated)
	return nil
}
