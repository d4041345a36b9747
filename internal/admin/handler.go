package admin

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
)

// Handler exposes platform analytics (admin only) and the per-org
// analytics endpoint.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

func sinceParam(c *gin.Context) time.Time {
	days, _ := strconv.Atoi(c.DefaultQuery("days", "30"))
	if days < 1 || days > 365 {
		days = 30
	}
	return time.Now().UTC().AddDate(0, 0, -days).Truncate(24 * time.Hour)
}

// Stats returns the platform dashboard: headline counts, signup series,
// and plan distribution.
func (h *Handler) Stats(c *gin.Context) {
	ctx := c.Request.Context()
	stats, err := h.repo.PlatformStats(ctx)
	if err != nil {
		h.logger.Error("platform stats failed", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	signups, err := h.repo.SignupsByDay(ctx, sinceParam(c))
	if err != nil {
		h.logger.Error("signup series failed", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	plans, err := h.repo.PlanDistribution(ctx)
	if err != nil {
		h.logger.Error("plan distribution failed", zap.Error(err))
		response.Internal(c, "failed to load stats")
		return
	}
	response.OK(c, gin.H{
		"stats":             stats,
		"signups_by_day":    signups,
		"plan_distribution": plans,
	})
}

// ListOrganizations returns every org with member count and plan.
func (h *Handler) ListOrganizations(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	if limit < 1 || limit > 200 {
		limit = 50
	}
	list, total, err := h.repo.ListOrganizations(c.Request.Context(), limit, offset)
	if err != nil {
		h.logger.Error("list organizations failed", zap.Error(err))
		response.Internal(c, "failed to list organizations")
		return
	}
	response.OK(c, response.Page{Items: list, Total: total, Limit: limit, Offset: offset})
}

// OrgStats returns analytics for one organization. Mounted under the org
// routes so RequireOrgRole has already resolved access.
func (h *Handler) OrgStats(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	stats, err := h.repo.OrgStats(c.Request.Context(), orgID, sinceParam(c))
	if err != nil {
		h.logger.Error("org stats failed", zap.Error(err))
		response.Internal(c, "failed to load analytics")
		return
	}
	response.OK(c, stats)
}
