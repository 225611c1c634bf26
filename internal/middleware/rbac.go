package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/citygrid-api/internal/models"
	"github.com/noah-isme/citygrid-api/internal/service"
	appErrors "github.com/noah-isme/citygrid-api/pkg/errors"
	"github.com/noah-isme/citygrid-api/pkg/response"
)

// CurrentAccount returns the account published by Authenticate or Guard.
func CurrentAccount(c *gin.Context) *models.Account {
	value, exists := c.Get(ContextAccountKey)
	if !exists {
		return nil
	}
	account, ok := value.(*models.Account)
	if !ok {
		return nil
	}
	return account
}

// CurrentClaims returns the verified access token claims.
func CurrentClaims(c *gin.Context) *models.AccessClaims {
	value, exists := c.Get(ContextClaimsKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.AccessClaims)
	if !ok {
		return nil
	}
	return claims
}

// RequireRoles restricts a route to the listed roles. It must run after Authenticate.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(c *gin.Context) {
		account := CurrentAccount(c)
		if account == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if _, ok := allowed[account.Role]; !ok {
			response.Abort(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}

// RequireReadAccess admits roles that may read at least one module.
func RequireReadAccess(permissions *service.PermissionTable) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := CurrentAccount(c)
		if account == nil {
			response.Abort(c, appErrors.ErrUnauthorized)
			return
		}
		if !permissions.CanReadAny(account.Role) {
			response.Abort(c, appErrors.ErrForbidden)
			return
		}
		c.Next()
	}
}
