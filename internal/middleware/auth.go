// Package middleware carries the gin handlers shared by every route group:
// authentication, the data-access permission guard, access logging, panic
// recovery, and request metrics.
package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/auth"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// Context keys populated by Auth.
const (
	CtxClaimsKey = "authClaims"
	CtxUserIDKey = "userID"
	CtxIsRootKey = "isRoot"
)

// Auth enforces JWT authentication using the supplied JWT service.
func Auth(jwt *auth.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authz := c.GetHeader("Authorization")
		if len(authz) < 8 || !strings.EqualFold(authz[:7], "Bearer ") {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		token := strings.TrimSpace(authz[7:])
		claims, err := jwt.ValidateAccessToken(token)
		if err != nil {
			// Normalise all validation failures to 401
			c.Header("WWW-Authenticate", "Bearer")
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}

		c.Set(CtxClaimsKey, claims)
		c.Set(CtxUserIDKey, claims.UserID)
		c.Set(CtxIsRootKey, claims.IsRoot)

		c.Next()
	}
}

// UserID extracts the authenticated user id from the request context.
func UserID(c *gin.Context) (string, bool) {
	v, ok := c.Get(CtxUserIDKey)
	if !ok {
		return "", false
	}
	userID, ok := v.(string)
	return userID, ok && userID != ""
}

// IsRoot reports whether the authenticated user carries the root flag.
func IsRoot(c *gin.Context) bool {
	v, ok := c.Get(CtxIsRootKey)
	if !ok {
		return false
	}
	isRoot, _ := v.(bool)
	return isRoot
}
