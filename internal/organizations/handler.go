package organizations

import (
	"context"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/storage"
)

// Slug must be lowercase alphanumeric and hyphens only, 2-64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// ValidSlug reports whether s is an acceptable organization slug.
func ValidSlug(s string) bool {
	return slugRegex.MatchString(s)
}

// Dispatcher fans an event out to the org's subscribed webhook endpoints.
type Dispatcher interface {
	Dispatch(ctx context.Context, orgID uuid.UUID, eventType string, data interface{})
}

// Notifier creates in-app notifications for users.
type Notifier interface {
	Notify(ctx context.Context, userID uuid.UUID, orgID *uuid.UUID, ntype, title, body string) error
}

// Handler handles organization HTTP endpoints.
type Handler struct {
	repo       *Repository
	s3         *storage.S3
	notifier   Notifier
	dispatcher Dispatcher
	onCreate   func(ctx context.Context, orgID uuid.UUID)
	logger     *zap.Logger
}

// NewHandler creates an organizations handler. s3 may be nil; logo
// endpoints return 503 in that case.
func NewHandler(repo *Repository, s3 *storage.S3, notifier Notifier, dispatcher Dispatcher, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, s3: s3, notifier: notifier, dispatcher: dispatcher, logger: logger}
}

// SetOnCreate registers a callback invoked after an organization is
// created, e.g. to start its trial subscription.
func (h *Handler) SetOnCreate(fn func(ctx context.Context, orgID uuid.UUID)) {
	h.onCreate = fn
}

// CreateRequest is the body for POST /organizations.
type CreateRequest struct {
	Name string `json:"name" binding:"required"`
	Slug string `json:"slug" binding:"required"`
}

// UpdateRequest is the body for PATCH /organizations/:id.
type UpdateRequest struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// Create handles POST /organizations. Creates org and adds current user as owner.
func (h *Handler) Create(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	var body CreateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "name and slug required")
		return
	}
	body.Slug = strings.ToLower(strings.TrimSpace(body.Slug))
	if !ValidSlug(body.Slug) {
		response.BadRequest(c, "slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
		return
	}
	body.Name = strings.TrimSpace(body.Name)
	if len(body.Name) < 1 || len(body.Name) > 255 {
		response.BadRequest(c, "name must be 1-255 characters")
		return
	}
	org := &models.Organization{Name: body.Name, Slug: body.Slug}
	if err := h.repo.Create(c.Request.Context(), org, userID); err != nil {
		if isUniqueViolation(err) {
			response.Conflict(c, "an organization with this slug already exists")
			return
		}
		response.Internal(c, "failed to create organization")
		return
	}
	if h.onCreate != nil {
		h.onCreate(c.Request.Context(), org.ID)
	}
	response.Created(c, org)
}

// ListMine handles GET /organizations. Returns orgs the current user is a member of.
func (h *Handler) ListMine(c *gin.Context) {
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	orgs, err := h.repo.ListForUser(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load organizations")
		return
	}
	response.OK(c, orgs)
}

// Get handles GET /organizations/:id (membership enforced by route middleware).
func (h *Handler) Get(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	org, err := h.repo.GetByID(c.Request.Context(), orgID)
	if err != nil {
		response.NotFound(c, "organization not found")
		return
	}
	count, err := h.repo.CountMembers(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load organization")
		return
	}
	response.OK(c, gin.H{"organization": org, "member_count": count})
}

// Update handles PATCH /organizations/:id (admin+).
func (h *Handler) Update(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	var body UpdateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "invalid request body")
		return
	}
	if body.Slug != "" {
		body.Slug = strings.ToLower(strings.TrimSpace(body.Slug))
		if !ValidSlug(body.Slug) {
			response.BadRequest(c, "slug must be 2-64 chars, lowercase letters, numbers, hyphens only")
			return
		}
	}
	org, err := h.repo.Update(c.Request.Context(), orgID, strings.TrimSpace(body.Name), body.Slug)
	if err != nil {
		if isUniqueViolation(err) {
			response.Conflict(c, "an organization with this slug already exists")
			return
		}
		response.Internal(c, "failed to update organization")
		return
	}
	response.OK(c, org)
}

// Delete handles DELETE /organizations/:id (owner only).
func (h *Handler) Delete(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	if err := h.repo.Delete(c.Request.Context(), orgID); err != nil {
		response.Internal(c, "failed to delete organization")
		return
	}
	response.NoContent(c)
}

// ListMembers handles GET /organizations/:id/members.
func (h *Handler) ListMembers(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	members, err := h.repo.ListMembers(c.Request.Context(), orgID)
	if err != nil {
		response.Internal(c, "failed to load members")
		return
	}
	response.OK(c, members)
}

// UpdateMemberRoleRequest is the body for PATCH /organizations/:id/members/:userId.
type UpdateMemberRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateMemberRole handles PATCH /organizations/:id/members/:userId (admin+).
// The last owner cannot be demoted.
func (h *Handler) UpdateMemberRole(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}
	var body UpdateMemberRoleRequest
	if err := c.ShouldBindJSON(&body); err != nil || !models.ValidOrgRole(body.Role) {
		response.BadRequest(c, "role must be owner, admin, or member")
		return
	}

	ctx := c.Request.Context()
	current, err := h.repo.GetMemberRole(ctx, orgID, targetID)
	if err != nil || current == "" {
		response.NotFound(c, "member not found")
		return
	}
	if current == models.OrgRoleOwner && body.Role != models.OrgRoleOwner {
		owners, err := h.repo.CountOwners(ctx, orgID)
		if err != nil {
			response.Internal(c, "failed to check owners")
			return
		}
		if owners <= 1 {
			response.Conflict(c, "cannot demote the only owner")
			return
		}
	}
	if err := h.repo.UpdateMemberRole(ctx, orgID, targetID, body.Role); err != nil {
		response.Internal(c, "failed to update member role")
		return
	}
	response.OK(c, gin.H{"user_id": targetID, "role": body.Role})
}

// RemoveMember handles DELETE /organizations/:id/members/:userId (admin+).
// The last owner cannot be removed.
func (h *Handler) RemoveMember(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	targetID, err := uuid.Parse(c.Param("userId"))
	if err != nil {
		response.BadRequest(c, "invalid user id")
		return
	}

	ctx := c.Request.Context()
	current, err := h.repo.GetMemberRole(ctx, orgID, targetID)
	if err != nil || current == "" {
		response.NotFound(c, "member not found")
		return
	}
	if current == models.OrgRoleOwner {
		owners, err := h.repo.CountOwners(ctx, orgID)
		if err != nil {
			response.Internal(c, "failed to check owners")
			return
		}
		if owners <= 1 {
			response.Conflict(c, "cannot remove the only owner")
			return
		}
	}
	if err := h.repo.RemoveMember(ctx, orgID, targetID); err != nil {
		response.Internal(c, "failed to remove member")
		return
	}
	h.memberLeft(ctx, orgID, targetID, current)
	response.NoContent(c)
}

// memberLeft records the in-app notification and the webhook event for a
// member who left or was removed.
func (h *Handler) memberLeft(ctx context.Context, orgID, userID uuid.UUID, role string) {
	if err := h.notifier.Notify(ctx, userID, &orgID, models.NotificationMemberLeft,
		"Membership ended", "You are no longer a member of this organization."); err != nil {
		h.logger.Warn("notify former member failed", zap.Error(err))
	}
	h.dispatcher.Dispatch(ctx, orgID, models.EventMemberLeft, gin.H{
		"organization_id": orgID,
		"user_id":         userID,
		"role":            role,
	})
}

// Leave handles POST /organizations/:id/leave. The only owner must
// transfer ownership before leaving.
func (h *Handler) Leave(c *gin.Context) {
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	role := c.MustGet(ContextOrgRole).(string)

	ctx := c.Request.Context()
	if role == models.OrgRoleOwner {
		owners, err := h.repo.CountOwners(ctx, orgID)
		if err != nil {
			response.Internal(c, "failed to check owners")
			return
		}
		if owners <= 1 {
			response.Conflict(c, "transfer ownership before leaving")
			return
		}
	}
	if err := h.repo.RemoveMember(ctx, orgID, userID); err != nil {
		response.Internal(c, "failed to leave organization")
		return
	}
	h.memberLeft(ctx, orgID, userID, role)
	response.NoContent(c)
}

// LogoUploadRequest is the body for POST /organizations/:id/logo/upload-url.
type LogoUploadRequest struct {
	Filename    string `json:"filename" binding:"required"`
	ContentType string `json:"content_type"`
}

// GenerateLogoUploadURL handles POST /organizations/:id/logo-upload-url
// (admin+). Returns a presigned S3 PUT URL and stores the public URL of
// the object key up front; the URL resolves once the client completes
// the upload.
func (h *Handler) GenerateLogoUploadURL(c *gin.Context) {
	if h.s3 == nil {
		response.Internal(c, "object storage not configured")
		return
	}
	orgID := c.MustGet(ContextOrgID).(uuid.UUID)
	var body LogoUploadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		response.BadRequest(c, "filename required")
		return
	}
	if !storage.ValidateLogoFileType(body.ContentType, body.Filename) {
		response.BadRequest(c, "unsupported logo file type")
		return
	}

	key := storage.LogoKey(orgID.String(), body.Filename)
	url, err := h.s3.GeneratePresignedUploadURL(c.Request.Context(), key, body.ContentType, h.s3.PresignExpire())
	if err != nil {
		h.logger.Error("presign logo upload", zap.Error(err))
		response.Internal(c, "failed to generate upload URL")
		return
	}

	publicURL := h.s3.PublicObjectURL(key)
	if err := h.repo.SetLogoURL(c.Request.Context(), orgID, publicURL); err != nil {
		response.Internal(c, "failed to store logo URL")
		return
	}
	response.OK(c, gin.H{"upload_url": url, "logo_url": publicURL})
}

func isUniqueViolation(err error) bool {
	return err != nil && (strings.Contains(err.Error(), "duplicate key") || strings.Contains(err.Error(), "unique"))
}
