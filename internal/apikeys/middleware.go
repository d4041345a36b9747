package apikeys

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nimbushq/backend/internal/organizations"
	"github.com/nimbushq/backend/pkg/response"
	"github.com/nimbushq/backend/pkg/utils"
)

// HeaderName carries the API key on server-to-server requests.
const HeaderName = "X-API-Key"

// Auth returns a middleware that authenticates a request by API key and
// resolves the owning organization into context. Used on machine routes
// where no user session exists.
func Auth(repo *Repository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(HeaderName)
		if key == "" {
			response.Unauthorized(c, "missing api key")
			c.Abort()
			return
		}
		apiKey, err := repo.GetByHash(c.Request.Context(), utils.HashToken(key))
		if err != nil {
			logger.Error("api key lookup failed", zap.Error(err))
			response.Internal(c, "failed to authenticate")
			c.Abort()
			return
		}
		if apiKey == nil {
			response.Unauthorized(c, "invalid api key")
			c.Abort()
			return
		}
		if err := repo.TouchLastUsed(c.Request.Context(), apiKey.ID); err != nil {
			logger.Warn("touch api key failed", zap.Error(err))
		}
		c.Set(organizations.ContextOrgID, apiKey.OrganizationID)
		c.Set("api_key_id", apiKey.ID)
		c.Next()
	}
}
