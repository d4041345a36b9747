package auth

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/utils"
)

// RegisterRequest is the body for POST /auth/register.
type RegisterRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=8"`
	FullName string `json:"full_name" binding:"required"`
}

// LoginRequest is the body for POST /auth/login.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// RefreshRequest is the body for POST /auth/refresh and /auth/logout.
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

// TokenResponse is the auth response with access and refresh tokens.
type TokenResponse struct {
	Token        string            `json:"token"`
	RefreshToken string            `json:"refresh_token"`
	User         models.UserPublic `json:"user"`
}

// Handler handles auth HTTP endpoints.
type Handler struct {
	repo              *Repository
	jwt               *JWTService
	refreshExpireDays int
	logger            *zap.Logger
}

// NewHandler creates an auth handler.
func NewHandler(repo *Repository, jwt *JWTService, refreshExpireDays int, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, jwt: jwt, refreshExpireDays: refreshExpireDays, logger: logger}
}

// Register handles POST /auth/register.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	_, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err == nil {
		response.Conflict(c, "email already registered")
		return
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		if errors.Is(err, utils.ErrPasswordTooLong) {
			response.BadRequest(c, "password must be at most 72 bytes")
			return
		}
		response.Internal(c, "failed to hash password")
		return
	}

	user, err := h.repo.Create(c.Request.Context(), req.Email, hash, req.FullName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			response.Conflict(c, "email already registered")
			return
		}
		response.Internal(c, "failed to create user")
		return
	}

	tokens, err := h.issueTokens(c, user)
	if err != nil {
		response.Internal(c, "failed to issue tokens")
		return
	}

	response.Created(c, tokens)
}

// Login handles POST /auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}

	user, err := h.repo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	if !utils.CheckPassword(req.Password, user.Password) {
		response.Unauthorized(c, "invalid email or password")
		return
	}

	tokens, err := h.issueTokens(c, user)
	if err != nil {
		response.Internal(c, "failed to issue tokens")
		return
	}

	c.JSON(http.StatusOK, response.Body{Success: true, Data: tokens})
}

// Refresh handles POST /auth/refresh. The presented refresh token is
// rotated: its session is revoked and a new one issued.
func (h *Handler) Refresh(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "refresh_token required")
		return
	}

	ctx := c.Request.Context()
	session, err := h.repo.GetSessionByTokenHash(ctx, utils.HashToken(req.RefreshToken))
	if err != nil || !session.Active(time.Now()) {
		response.Unauthorized(c, "invalid or expired refresh token")
		return
	}

	user, err := h.repo.GetByID(ctx, session.UserID)
	if err != nil {
		response.Unauthorized(c, "user not found")
		return
	}

	if err := h.repo.RevokeSession(ctx, session.ID); err != nil {
		response.Internal(c, "failed to rotate session")
		return
	}

	tokens, err := h.issueTokens(c, user)
	if err != nil {
		response.Internal(c, "failed to issue tokens")
		return
	}

	response.OK(c, tokens)
}

// LogoutRequest is the body for POST /auth/logout. All revokes every
// session for the user, not just the presented one.
type LogoutRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
	All          bool   `json:"all"`
}

// Logout handles POST /auth/logout. Revokes the session for the given
// refresh token; succeeds even when the token is already dead.
func (h *Handler) Logout(c *gin.Context) {
	var req LogoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "refresh_token required")
		return
	}

	ctx := c.Request.Context()
	session, err := h.repo.GetSessionByTokenHash(ctx, utils.HashToken(req.RefreshToken))
	if err == nil {
		if req.All {
			_ = h.repo.RevokeUserSessions(ctx, session.UserID)
		} else {
			_ = h.repo.RevokeSession(ctx, session.ID)
		}
	}
	response.NoContent(c)
}

// Me handles GET /auth/me. Returns the current user with linked accounts.
func (h *Handler) Me(c *gin.Context) {
	userID := c.MustGet("user_id").(uuid.UUID)
	user, err := h.repo.GetByID(c.Request.Context(), userID)
	if err != nil {
		response.NotFound(c, "user not found")
		return
	}
	accounts, err := h.repo.ListAccounts(c.Request.Context(), userID)
	if err != nil {
		response.Internal(c, "failed to load accounts")
		return
	}
	response.OK(c, gin.H{"user": user.ToPublic(), "accounts": accounts})
}

// List handles GET /users (platform admin only).
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context())
	if err != nil {
		response.Internal(c, "failed to list users")
		return
	}
	response.OK(c, list)
}

func (h *Handler) issueTokens(c *gin.Context, user *models.User) (*TokenResponse, error) {
	token, err := h.jwt.Generate(user.ID, user.Email, string(user.Role))
	if err != nil {
		return nil, err
	}

	refresh, err := utils.NewToken(32)
	if err != nil {
		return nil, err
	}
	expiresAt := time.Now().Add(time.Duration(h.refreshExpireDays) * 24 * time.Hour)
	_, err = h.repo.CreateSession(c.Request.Context(), user.ID, utils.HashToken(refresh),
		c.Request.UserAgent(), c.ClientIP(), expiresAt)
	if err != nil {
		return nil, err
	}

	return &TokenResponse{Token: token, RefreshToken: refresh, User: user.ToPublic()}, nil
}
