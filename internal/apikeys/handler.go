package apikeys

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/utils"
)

// KeyPrefix prefixes every generated API key.
const KeyPrefix = "sk_"

// Handler exposes API key management under an organization.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

type createRequest struct {
	Name string `json:"name" binding:"required,min=1,max=100"`
}

// Create generates a key and returns the plaintext once. Only the hash is
// stored.
func (h *Handler) Create(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "name is required")
		return
	}

	raw, err := utils.NewToken(24)
	if err != nil {
		h.logger.Error("generate api key failed", zap.Error(err))
		response.Internal(c, "failed to create api key")
		return
	}
	plaintext := KeyPrefix + raw

	key := &models.APIKey{
		OrganizationID: orgID,
		Name:           req.Name,
		Prefix:         plaintext[:len(KeyPrefix)+8],
		KeyHash:        utils.HashToken(plaintext),
		CreatedBy:      userID,
	}
	if err := h.repo.Create(c.Request.Context(), key); err != nil {
		h.logger.Error("create api key failed", zap.Error(err))
		response.Internal(c, "failed to create api key")
		return
	}
	response.Created(c, gin.H{"api_key": key, "key": plaintext})
}

// List returns the org's keys. Plaintext is never recoverable.
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	list, err := h.repo.List(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("list api keys failed", zap.Error(err))
		response.Internal(c, "failed to list api keys")
		return
	}
	response.OK(c, list)
}

// Revoke disables a key immediately.
func (h *Handler) Revoke(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("keyId"))
	if err != nil {
		response.BadRequest(c, "invalid api key id")
		return
	}
	found, err := h.repo.Revoke(c.Request.Context(), id, orgID)
	if err != nil {
		h.logger.Error("revoke api key failed", zap.Error(err))
		response.Internal(c, "failed to revoke api key")
		return
	}
	if !found {
		response.NotFound(c, "api key not found")
		return
	}
	response.NoContent(c)
}
