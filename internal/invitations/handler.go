package invitations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/config"
	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/internal/notifications"
	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/internal/webhooks"
	"github.com/nimbushq/backend/pkg/queue"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/utils"
)

// SeatChecker reports whether the org's plan has room for another member.
type SeatChecker interface {
	SeatsAvailable(ctx context.Context, orgID uuid.UUID) (bool, error)
}

// Handler exposes invitation management and the public token endpoints.
type Handler struct {
	repo       *Repository
	orgRepo    *organizations.Repository
	seats      SeatChecker
	notifier   *notifications.Service
	dispatcher *webhooks.Dispatcher
	queue      *queue.Queue
	cfg        *config.Config
	logger     *zap.Logger
}

func NewHandler(repo *Repository, orgRepo *organizations.Repository, seats SeatChecker,
	notifier *notifications.Service, dispatcher *webhooks.Dispatcher, q *queue.Queue,
	cfg *config.Config, logger *zap.Logger) *Handler {
	return &Handler{
		repo: repo, orgRepo: orgRepo, seats: seats,
		notifier: notifier, dispatcher: dispatcher, queue: q,
		cfg: cfg, logger: logger,
	}
}

func (h *Handler) inviteLink(token string) string {
	return h.cfg.Server.BaseURL + "/invitations/" + token
}

func (h *Handler) expiry() time.Time {
	return time.Now().UTC().Add(time.Duration(h.cfg.Invitations.ExpireHours) * time.Hour)
}

type createRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  string `json:"role"`
}

// Create issues an invitation and emails the invite link. The plaintext
// token exists only in that email.
func (h *Handler) Create(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	inviterID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "a valid email is required")
		return
	}
	role := req.Role
	if role == "" {
		role = models.OrgRoleMember
	}
	if role != models.OrgRoleMember && role != models.OrgRoleAdmin {
		response.BadRequest(c, "role must be member or admin")
		return
	}
	email := strings.ToLower(strings.TrimSpace(req.Email))

	if existing, err := h.orgRepo.GetMemberRoleByEmail(c.Request.Context(), orgID, email); err == nil && existing != "" {
		response.Conflict(c, "user is already a member of this organization")
		return
	}

	ok, err := h.seats.SeatsAvailable(c.Request.Context(), orgID)
	if err != nil {
		h.logger.Error("seat check failed", zap.Error(err))
		response.Internal(c, "failed to create invitation")
		return
	}
	if !ok {
		response.PaymentRequired(c, "plan member limit reached; upgrade to invite more people")
		return
	}

	token, err := utils.NewToken(32)
	if err != nil {
		h.logger.Error("generate invite token failed", zap.Error(err))
		response.Internal(c, "failed to create invitation")
		return
	}
	inv := &models.Invitation{
		OrganizationID: orgID,
		Email:          email,
		Role:           role,
		InviterID:      inviterID,
		TokenHash:      utils.HashToken(token),
		Status:         models.InvitationPending,
		ExpiresAt:      h.expiry(),
	}
	if err := h.repo.Create(c.Request.Context(), inv); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			response.Conflict(c, "a pending invitation for this email already exists")
			return
		}
		h.logger.Error("create invitation failed", zap.Error(err))
		response.Internal(c, "failed to create invitation")
		return
	}

	h.sendInviteEmail(c.Request.Context(), inv, token, models.EmailTypeInvitation)
	h.dispatcher.Dispatch(c.Request.Context(), orgID, models.EventInvitationCreated, inv)

	response.Created(c, inv)
}

func (h *Handler) sendInviteEmail(ctx context.Context, inv *models.Invitation, token, emailType string) {
	org, err := h.orgRepo.GetByID(ctx, inv.OrganizationID)
	orgName := "an organization"
	if err == nil && org != nil {
		orgName = org.Name
	}
	body := fmt.Sprintf(
		"You have been invited to join %s as %s.\n\nAccept the invitation:\n%s\n\nThis link expires on %s.",
		orgName, inv.Role, h.inviteLink(token), inv.ExpiresAt.Format(time.RFC1123))
	if err := h.queue.EnqueueEmail(ctx, queue.EmailPayload{
		EmailType:      emailType,
		OrganizationID: &inv.OrganizationID,
		RecipientEmail: inv.Email,
		Subject:        fmt.Sprintf("You're invited to join %s", orgName),
		BodyText:       body,
	}); err != nil {
		h.logger.Error("enqueue invite email failed", zap.Error(err))
	}
}

// List returns the org's invitations, newest first. ?status filters.
func (h *Handler) List(c *gin.Context) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	status := c.Query("status")
	if status != "" && !validStatus(status) {
		response.BadRequest(c, "invalid status filter")
		return
	}
	list, err := h.repo.ListForOrg(c.Request.Context(), orgID, status)
	if err != nil {
		h.logger.Error("list invitations failed", zap.Error(err))
		response.Internal(c, "failed to list invitations")
		return
	}
	response.OK(c, list)
}

func validStatus(s string) bool {
	switch models.InvitationStatus(s) {
	case models.InvitationPending, models.InvitationAccepted, models.InvitationDeclined,
		models.InvitationRevoked, models.InvitationExpired:
		return true
	}
	return false
}

func (h *Handler) invitationFromPath(c *gin.Context) (*models.Invitation, bool) {
	orgID := c.MustGet(organizations.ContextOrgID).(uuid.UUID)
	id, err := uuid.Parse(c.Param("invitationId"))
	if err != nil {
		response.BadRequest(c, "invalid invitation id")
		return nil, false
	}
	inv, err := h.repo.GetByID(c.Request.Context(), id, orgID)
	if err != nil {
		h.logger.Error("get invitation failed", zap.Error(err))
		response.Internal(c, "failed to load invitation")
		return nil, false
	}
	if inv == nil {
		response.NotFound(c, "invitation not found")
		return nil, false
	}
	return inv, true
}

// Revoke withdraws a pending invitation.
func (h *Handler) Revoke(c *gin.Context) {
	inv, ok := h.invitationFromPath(c)
	if !ok {
		return
	}
	changed, err := h.repo.UpdateStatus(c.Request.Context(), inv.ID, models.InvitationRevoked)
	if err != nil {
		h.logger.Error("revoke invitation failed", zap.Error(err))
		response.Internal(c, "failed to revoke invitation")
		return
	}
	if !changed {
		response.Conflict(c, "only pending invitations can be revoked")
		return
	}
	response.NoContent(c)
}

// Resend rotates the token, extends the expiry, and emails the invite
// again. The old link stops working.
func (h *Handler) Resend(c *gin.Context) {
	inv, ok := h.invitationFromPath(c)
	if !ok {
		return
	}
	if inv.Status != models.InvitationPending {
		response.Conflict(c, "only pending invitations can be resent")
		return
	}

	token, err := utils.NewToken(32)
	if err != nil {
		h.logger.Error("generate invite token failed", zap.Error(err))
		response.Internal(c, "failed to resend invitation")
		return
	}
	inv.ExpiresAt = h.expiry()
	changed, err := h.repo.Refresh(c.Request.Context(), inv.ID, utils.HashToken(token), inv.ExpiresAt)
	if err != nil {
		h.logger.Error("refresh invitation failed", zap.Error(err))
		response.Internal(c, "failed to resend invitation")
		return
	}
	if !changed {
		response.Conflict(c, "only pending invitations can be resent")
		return
	}

	h.sendInviteEmail(c.Request.Context(), inv, token, models.EmailTypeInviteReminder)
	response.OK(c, inv)
}

// invitationView is the public shape shown to an invitee before they act.
type invitationView struct {
	OrganizationName string    `json:"organization_name"`
	Email            string    `json:"email"`
	Role             string    `json:"role"`
	Status           string    `json:"status"`
	ExpiresAt        time.Time `json:"expires_at"`
}

func (h *Handler) lookupByToken(c *gin.Context) (*models.Invitation, bool) {
	token := c.Param("token")
	if token == "" {
		response.BadRequest(c, "invitation token required")
		return nil, false
	}
	inv, err := h.repo.GetByTokenHash(c.Request.Context(), utils.HashToken(token))
	if err != nil {
		h.logger.Error("lookup invitation failed", zap.Error(err))
		response.Internal(c, "failed to load invitation")
		return nil, false
	}
	if inv == nil {
		response.NotFound(c, "invitation not found")
		return nil, false
	}
	return inv, true
}

// Preview shows an invitation to its recipient before accept or decline.
// Public: the token is the credential.
func (h *Handler) Preview(c *gin.Context) {
	inv, ok := h.lookupByToken(c)
	if !ok {
		return
	}
	org, err := h.orgRepo.GetByID(c.Request.Context(), inv.OrganizationID)
	if err != nil || org == nil {
		response.NotFound(c, "invitation not found")
		return
	}
	status := inv.Status
	if status == models.InvitationPending && inv.Expired(time.Now().UTC()) {
		status = models.InvitationExpired
	}
	response.OK(c, invitationView{
		OrganizationName: org.Name,
		Email:            inv.Email,
		Role:             inv.Role,
		Status:           string(status),
		ExpiresAt:        inv.ExpiresAt,
	})
}

type gateResult int

const (
	gateOK gateResult = iota
	gateNotPending
	gateExpired
	gateWrongEmail
)

// acceptGate decides whether the caller may act on an invitation. It must
// be pending, unexpired, and addressed to the caller's email.
func acceptGate(inv *models.Invitation, userEmail string, now time.Time) gateResult {
	if inv.Status != models.InvitationPending {
		return gateNotPending
	}
	if inv.Expired(now) {
		return gateExpired
	}
	if !strings.EqualFold(inv.Email, userEmail) {
		return gateWrongEmail
	}
	return gateOK
}

// Accept joins the caller to the organization. The invitation must be
// pending, unexpired, and addressed to the caller's email.
func (h *Handler) Accept(c *gin.Context) {
	inv, ok := h.lookupByToken(c)
	if !ok {
		return
	}
	userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	userEmail, _ := c.MustGet(middleware.ContextUserEmail).(string)

	switch gate := acceptGate(inv, userEmail, time.Now().UTC()); gate {
	case gateNotPending:
		response.Conflict(c, "invitation is no longer pending")
		return
	case gateExpired:
		if _, err := h.repo.UpdateStatus(c.Request.Context(), inv.ID, models.InvitationExpired); err != nil {
			h.logger.Warn("mark invitation expired failed", zap.Error(err))
		}
		response.Gone(c, "invitation has expired")
		return
	case gateWrongEmail:
		response.Forbidden(c, "invitation was issued to a different email")
		return
	}

	ok, err := h.seats.SeatsAvailable(c.Request.Context(), inv.OrganizationID)
	if err != nil {
		h.logger.Error("seat check failed", zap.Error(err))
		response.Internal(c, "failed to accept invitation")
		return
	}
	if !ok {
		response.PaymentRequired(c, "the organization's plan has no free seats")
		return
	}

	accepted, err := h.repo.AcceptTx(c.Request.Context(), inv, userID)
	if err != nil {
		h.logger.Error("accept invitation failed", zap.Error(err))
		response.Internal(c, "failed to accept invitation")
		return
	}
	if !accepted {
		response.Conflict(c, "invitation is no longer pending")
		return
	}

	if err := h.notifier.Notify(c.Request.Context(), inv.InviterID, &inv.OrganizationID,
		models.NotificationInvitationAccepted, "Invitation accepted",
		fmt.Sprintf("%s accepted your invitation.", inv.Email)); err != nil {
		h.logger.Warn("notify inviter failed", zap.Error(err))
	}
	if err := h.notifier.NotifyOrgManagers(c.Request.Context(), inv.OrganizationID,
		models.NotificationMemberJoined, "New member joined",
		fmt.Sprintf("%s joined as %s.", inv.Email, inv.Role)); err != nil {
		h.logger.Warn("notify managers failed", zap.Error(err))
	}
	h.dispatcher.Dispatch(c.Request.Context(), inv.OrganizationID, models.EventInvitationAccepted, inv)
	h.dispatcher.Dispatch(c.Request.Context(), inv.OrganizationID, models.EventMemberJoined, gin.H{
		"organization_id": inv.OrganizationID,
		"user_id":         userID,
		"role":            inv.Role,
	})

	response.OK(c, gin.H{"organization_id": inv.OrganizationID, "role": inv.Role})
}

// Decline turns a pending invitation down. Requires auth but not email
// match: declining is harmless and the token is the credential.
func (h *Handler) Decline(c *gin.Context) {
	inv, ok := h.lookupByToken(c)
	if !ok {
		return
	}
	if inv.Status != models.InvitationPending {
		response.Conflict(c, "invitation is no longer pending")
		return
	}
	changed, err := h.repo.UpdateStatus(c.Request.Context(), inv.ID, models.InvitationDeclined)
	if err != nil {
		h.logger.Error("decline invitation failed", zap.Error(err))
		response.Internal(c, "failed to decline invitation")
		return
	}
	if !changed {
		response.Conflict(c, "invitation is no longer pending")
		return
	}
	response.NoContent(c)
}
