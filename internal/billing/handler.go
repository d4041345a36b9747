package billing

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/config"
	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
)

// Handler exposes plan listing, the org billing endpoints, and the inbound
// provider webhook.
type Handler struct {
	repo      *Repository
	orgRepo   *organizations.Repository
	provider  *ProviderClient
	processor *EventProcessor
	cfg       config.BillingConfig
	logger    *zap.Logger
}

func NewHandler(repo *Repository, orgRepo *organizations.Repository, provider *ProviderClient, processor *EventProcessor, cfg config.BillingConfig, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, orgRepo: orgRepo, provider: provider, processor: processor, cfg: cfg, logger: logger}
}

// ListPlans returns the sellable plans. Public: pricing pages need it
// before signup.
func (h *Handler) ListPlans(c *gin.Context) {
	plans, err := h.repo.ListPlans(c.Request.Context())
	if err != nil {
		h.logger.Error("list plans failed", zap.Error(err))
		response.Internal(c, "failed to list plans")
		return
	}
	response.OK(c, plans)
}

// GetSubscription returns the org's subscription with its grace status
// when past due.
func (h *Handler) GetSubscription(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	sub, err := h.repo.GetByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c, "failed to load subscription")
		return
	}
	if sub == nil {
		response.NotFound(c, "no subscription for this organization")
		return
	}

	body := gin.H{"subscription": sub, "entitled": Entitled(sub, h.cfg.GracePeriodDays, time.Now().UTC())}
	if sub.Status == models.SubscriptionPastDue && sub.PastDueSince != nil {
		body["grace"] = CalculateGrace(*sub.PastDueSince, h.cfg.GracePeriodDays, time.Now().UTC())
	}
	response.OK(c, body)
}

// ensureCustomer returns the provider customer id for the org's
// subscription, creating the customer on first use.
func (h *Handler) ensureCustomer(c *gin.Context, sub *models.Subscription, orgID uuid.UUID) (string, error) {
	if sub.ProviderCustomerID != "" {
		return sub.ProviderCustomerID, nil
	}
	org, err := h.orgRepo.GetByID(c.Request.Context(), orgID)
	if err != nil {
		return "", err
	}
	email, _ := c.MustGet(middleware.ContextUserEmail).(string)
	customer, err := h.provider.CreateCustomer(c.Request.Context(), email, org.Name, orgID.String())
	if err != nil {
		return "", err
	}
	if err := h.repo.SetProviderCustomer(c.Request.Context(), sub.ID, customer.ID); err != nil {
		return "", err
	}
	return customer.ID, nil
}

type checkoutRequest struct {
	PriceID uuid.UUID `json:"price_id" binding:"required"`
}

// CreateCheckout starts a hosted checkout session for a price and returns
// its URL.
func (h *Handler) CreateCheckout(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)

	var req checkoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "price_id is required")
		return
	}
	price, err := h.repo.GetPrice(c.Request.Context(), req.PriceID)
	if err != nil {
		h.logger.Error("get price failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}
	if price == nil || price.ProviderPriceID == "" {
		response.BadRequest(c, "unknown or non-purchasable price")
		return
	}

	sub, err := h.repo.GetByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}
	if sub == nil {
		response.NotFound(c, "no subscription for this organization")
		return
	}
	if sub.Status == models.SubscriptionActive && sub.ProviderSubscriptionID != "" {
		response.Conflict(c, "organization already has an active subscription; use the billing portal to change plans")
		return
	}

	customerID, err := h.ensureCustomer(c, sub, orgID)
	if err != nil {
		h.logger.Error("ensure customer failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}

	trialDays := 0
	if sub.Status == models.SubscriptionTrialing && sub.TrialEndsAt != nil {
		if remaining := time.Until(*sub.TrialEndsAt); remaining > 24*time.Hour {
			trialDays = int(remaining.Hours() / 24)
		}
	}

	session, err := h.provider.CreateCheckoutSession(c.Request.Context(), customerID, price.ProviderPriceID,
		h.cfg.CheckoutSuccessURL, h.cfg.CheckoutCancelURL, orgID.String(), trialDays)
	if err != nil {
		h.logger.Error("create checkout session failed", zap.Error(err))
		response.Internal(c, "failed to start checkout")
		return
	}
	response.OK(c, gin.H{"checkout_url": session.URL})
}

// CreatePortal opens the provider's self-serve billing portal.
func (h *Handler) CreatePortal(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	sub, err := h.repo.GetByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c, "failed to open billing portal")
		return
	}
	if sub == nil || sub.ProviderCustomerID == "" {
		response.BadRequest(c, "organization has no billing account yet")
		return
	}
	session, err := h.provider.CreatePortalSession(c.Request.Context(), sub.ProviderCustomerID, h.cfg.PortalReturnURL)
	if err != nil {
		h.logger.Error("create portal session failed", zap.Error(err))
		response.Internal(c, "failed to open billing portal")
		return
	}
	response.OK(c, gin.H{"portal_url": session.URL})
}

type cancelRequest struct {
	Immediately bool `json:"immediately"`
}

// Cancel cancels the subscription at period end by default, or
// immediately when requested.
func (h *Handler) Cancel(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)

	var req cancelRequest
	_ = c.ShouldBindJSON(&req)

	sub, err := h.repo.GetByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c, "failed to cancel subscription")
		return
	}
	if sub == nil || sub.ProviderSubscriptionID == "" {
		response.BadRequest(c, "organization has no provider subscription to cancel")
		return
	}
	if sub.Status == models.SubscriptionCanceled {
		response.Conflict(c, "subscription is already canceled")
		return
	}

	if _, err := h.provider.CancelSubscription(c.Request.Context(), sub.ProviderSubscriptionID, !req.Immediately); err != nil {
		h.logger.Error("provider cancel failed", zap.Error(err))
		response.Internal(c, "failed to cancel subscription")
		return
	}
	// The provider webhook syncs the final state; flip the flag now so the
	// API reflects the request immediately.
	if !req.Immediately {
		if err := h.repo.MarkCancelAtPeriodEnd(c.Request.Context(), sub.ID, true); err != nil {
			h.logger.Warn("mark cancel_at_period_end failed", zap.Error(err))
		}
	}
	response.OK(c, gin.H{"canceled": true, "at_period_end": !req.Immediately})
}

// Resume clears a pending cancel-at-period-end.
func (h *Handler) Resume(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	sub, err := h.repo.GetByOrg(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("get subscription failed", zap.Error(err))
		response.Internal(c, "failed to resume subscription")
		return
	}
	if sub == nil || sub.ProviderSubscriptionID == "" || !sub.CancelAtPeriodEnd {
		response.BadRequest(c, "subscription has no pending cancellation")
		return
	}
	if _, err := h.provider.ResumeSubscription(c.Request.Context(), sub.ProviderSubscriptionID); err != nil {
		h.logger.Error("provider resume failed", zap.Error(err))
		response.Internal(c, "failed to resume subscription")
		return
	}
	if err := h.repo.MarkCancelAtPeriodEnd(c.Request.Context(), sub.ID, false); err != nil {
		h.logger.Warn("clear cancel_at_period_end failed", zap.Error(err))
	}
	response.OK(c, gin.H{"resumed": true})
}

// ProviderWebhook receives the billing provider's events. Signature is
// verified over the raw body before anything is parsed.
func (h *Handler) ProviderWebhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	sig := c.GetHeader(SignatureHeader)
	if err := VerifyProviderSignature(h.cfg.WebhookSecret, payload, sig, time.Now()); err != nil {
		h.logger.Warn("provider webhook signature rejected", zap.Error(err))
		response.Unauthorized(c, "invalid signature")
		return
	}
	if err := h.processor.Process(c.Request.Context(), payload); err != nil {
		h.logger.Error("process provider event failed", zap.Error(err))
		response.Internal(c, "failed to process event")
		return
	}
	c.Status(http.StatusOK)
}
