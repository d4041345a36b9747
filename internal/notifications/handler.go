package notifications

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/pkg/response"
)

// Handler exposes the notification inbox endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// List returns the caller's notifications.
func (h *Handler) List(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	unreadOnly := c.Query("unread") == "true"

	list, err := h.repo.ListForUser(c.Request.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		h.logger.Error("list notifications failed", zap.Error(err))
		response.Internal(c, "failed to list notifications")
		return
	}
	unread, err := h.repo.CountUnread(c.Request.Context(), userID)
	if err != nil {
		h.logger.Error("count unread failed", zap.Error(err))
		response.Internal(c, "failed to list notifications")
		return
	}
	response.OK(c, gin.H{"notifications": list, "unread_count": unread})
}

// MarkRead marks a single notification as read.
func (h *Handler) MarkRead(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid notification id")
		return
	}
	ok, err := h.repo.MarkRead(c.Request.Context(), id, userID)
	if err != nil {
		h.logger.Error("mark read failed", zap.Error(err))
		response.Internal(c, "failed to mark notification read")
		return
	}
	if !ok {
		response.NotFound(c, "notification not found")
		return
	}
	response.NoContent(c)
}

// MarkAllRead marks everything in the caller's inbox as read.
func (h *Handler) MarkAllRead(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	if err := h.repo.MarkAllRead(c.Request.Context(), userID); err != nil {
		h.logger.Error("mark all read failed", zap.Error(err))
		response.Internal(c, "failed to mark notifications read")
		return
	}
	response.NoContent(c)
}
