package organizations

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/nimbushq/backend/internal/middleware"
	"github.com/nimbushq/backend/internal/models"
	"github.com/nimbushq/backend/pkg/response"
)

const (
	// ContextOrgID is the gin context key for the resolved organization ID.
	ContextOrgID = "org_id"
	// ContextOrgRole is the gin context key for the caller's role in the org.
	ContextOrgRole = "org_role"
)

// roleRank orders org roles for minimum-role checks.
var roleRank = map[string]int{
	models.OrgRoleMember: 1,
	models.OrgRoleAdmin:  2,
	models.OrgRoleOwner:  3,
}

// RequireOrgRole returns a middleware that resolves the :id path param to
// an organization, checks the caller's membership, and requires at least
// minRole. Platform admins pass regardless of membership.
func RequireOrgRole(repo *Repository, minRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		orgID, err := uuid.Parse(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid organization id")
			c.Abort()
			return
		}
		userID := c.MustGet(middleware.ContextUserID).(uuid.UUID)

		if role, _ := c.Get(middleware.ContextUserRole); role == string(models.PlatformRoleAdmin) {
			c.Set(ContextOrgID, orgID)
			c.Set(ContextOrgRole, models.OrgRoleOwner)
			c.Next()
			return
		}

		role, err := repo.GetMemberRole(c.Request.Context(), orgID, userID)
		if err != nil || role == "" {
			response.Forbidden(c, "not a member of this organization")
			c.Abort()
			return
		}
		if roleRank[role] < roleRank[minRole] {
			response.Forbidden(c, "insufficient organization role")
			c.Abort()
			return
		}
		c.Set(ContextOrgID, orgID)
		c.Set(ContextOrgRole, role)
		c.Next()
	}
}
