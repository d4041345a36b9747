package webhooks

import (
	"net/url"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/utils"
)

// knownEvents are the event types endpoints may subscribe to. "*" matches all.
var knownEvents = map[string]bool{
	"*":                              true,
	models.EventInvitationCreated:    true,
	models.EventInvitationAccepted:   true,
	models.EventMemberJoined:         true,
	models.EventMemberLeft:           true,
	models.EventSubscriptionUpdated:  true,
	models.EventSubscriptionCanceled: true,
	models.EventPaymentFailed:        true,
	models.EventLeadCreated:          true,
}

// Handler exposes webhook endpoint management under an organization.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type endpointRequest struct {
	URL    string   `json:"url" binding:"required,url"`
	Events []string `json:"events" binding:"required,min=1"`
}

func validateEvents(events []string) (string, bool) {
	for _, e := range events {
		if !knownEvents[e] {
			return e, false
		}
	}
	return "", true
}

// endpointView hides the secret except at creation and rotation time.
type endpointView struct {
	*models.WebhookEndpoint
	Secret string `json:"secret,omitempty"`
}

// Create registers a new endpoint. The signing secret is generated server
// side and returned once in the response.
func (h *Handler) Create(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)

	var req endpointRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "url and at least one event are required")
		return
	}
	if u, err := url.Parse(req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		response.BadRequest(c, "url must be http or https")
		return
	}
	if bad, ok := validateEvents(req.Events); !ok {
		response.BadRequest(c, "unknown event type: "+bad)
		return
	}

	secret, err := utils.NewToken(32)
	if err != nil {
		h.logger.Error("generate endpoint secret failed", zap.Error(err))
		response.Internal(c, "failed to create endpoint")
		return
	}
	ep := &models.WebhookEndpoint{
		OrganizationID: orgID,
		URL:            req.URL,
		Secret:         secret,
		Events:         req.Events,
		Active:         true,
	}
	if err := h.repo.CreateEndpoint(c.Request.Context(), ep); err != nil {
		h.logger.Error("create endpoint failed", zap.Error(err))
		response.Internal(c, "failed to create endpoint")
		return
	}
	response.Created(c, endpointView{WebhookEndpoint: ep, Secret: secret})
}

// List returns the org's endpoints. Secrets are never included.
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	list, err := h.repo.ListEndpoints(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list endpoints failed", zap.Error(err))
		response.Internal(c, "failed to list endpoints")
		return
	}
	response.OK(c, list)
}

func (h *Handler) endpointFromPath(c *gin.Context) (*models.WebhookEndpoint, bool) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("endpointId"))
	if err != nil {
		response.BadRequest(c, "invalid endpoint id")
		return nil, false
	}
	ep, err := h.repo.GetEndpoint(c.Request.Context(), id, orgID)
	if err != nil {
		h.logger.Error("get endpoint failed", zap.Error(err))
		response.Internal(c, "failed to load endpoint")
		return nil, false
	}
	if ep == nil {
		response.NotFound(c, "endpoint not found")
		return nil, false
	}
	return ep, true
}

// Get returns one endpoint.
func (h *Handler) Get(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}
	response.OK(c, ep)
}

type endpointUpdateRequest struct {
	URL    *string  `json:"url"`
	Events []string `json:"events"`
	Active *bool    `json:"active"`
}

// Update applies a partial update to an endpoint.
func (h *Handler) Update(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}

	var req endpointUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if req.URL != nil {
		if u, err := url.Parse(*req.URL); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			response.BadRequest(c, "url must be http or https")
			return
		}
	}
	if req.Events != nil {
		if bad, ok := validateEvents(req.Events); !ok {
			response.BadRequest(c, "unknown event type: "+bad)
			return
		}
	}

	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	updated, err := h.repo.UpdateEndpoint(c.Request.Context(), ep.ID, orgID, req.URL, req.Events, req.Active)
	if err != nil {
		h.logger.Error("update endpoint failed", zap.Error(err))
		response.Internal(c, "failed to update endpoint")
		return
	}
	if updated == nil {
		response.NotFound(c, "endpoint not found")
		return
	}
	response.OK(c, updated)
}

// RotateSecret generates a new signing secret and returns it once.
func (h *Handler) RotateSecret(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}
	secret, err := utils.NewToken(32)
	if err != nil {
		h.logger.Error("generate endpoint secret failed", zap.Error(err))
		response.Internal(c, "failed to rotate secret")
		return
	}
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	found, err := h.repo.RotateSecret(c.Request.Context(), ep.ID, orgID, secret)
	if err != nil {
		h.logger.Error("rotate secret failed", zap.Error(err))
		response.Internal(c, "failed to rotate secret")
		return
	}
	if !found {
		response.NotFound(c, "endpoint not found")
		return
	}
	response.OK(c, gin.H{"secret": secret})
}

// Delete removes an endpoint and its delivery history.
func (h *Handler) Delete(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	found, err := h.repo.DeleteEndpoint(c.Request.Context(), ep.ID, orgID)
	if err != nil {
		h.logger.Error("delete endpoint failed", zap.Error(err))
		response.Internal(c, "failed to delete endpoint")
		return
	}
	if !found {
		response.NotFound(c, "endpoint not found")
		return
	}
	response.NoContent(c)
}

// ListDeliveries returns recent deliveries for an endpoint.
func (h *Handler) ListDeliveries(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	list, err := h.repo.ListDeliveries(c.Request.Context(), ep.ID, limit, offset)
	if err != nil {
		h.logger.Error("list deliveries failed", zap.Error(err))
		response.Internal(c, "failed to list deliveries")
		return
	}
	response.OK(c, list)
}

// Stats returns delivery outcome counts for an endpoint.
func (h *Handler) Stats(c *gin.Context) {
	ep, ok := h.endpointFromPath(c)
	if !ok {
		return
	}
	stats, err := h.repo.DeliveryStats(c.Request.Context(), ep.ID)
	if err != nil {
		h.logger.Error("delivery stats failed", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, stats)
}
