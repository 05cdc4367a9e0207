package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/nateliu28/querydeck/internal/permissions"
	"github.com/nateliu28/querydeck/pkg/errors"
	"github.com/nateliu28/querydeck/pkg/response"
)

// RequireRoot restricts a route to root users.
func RequireRoot() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := UserID(c); !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if !IsRoot(c) {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireConnectionPermission guards data-access routes mounted under
// /connections/:connectionID. It resolves the given permission type at the
// deepest coordinates the route parameters carry (schema, then table) and
// aborts on denial. Root users bypass resolution entirely.
func RequireConnectionPermission(resolver permissions.DecisionResolver, pType permissions.PermissionType) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := UserID(c)
		if !ok {
			response.Error(c, errors.ErrUnauthorized)
			c.Abort()
			return
		}
		if IsRoot(c) {
			c.Next()
			return
		}

		req := permissions.Request{
			UserID:       userID,
			ConnectionID: c.Param("connectionID"),
			Type:         pType,
			SchemaName:   c.Param("schemaName"),
			TableName:    c.Param("tableName"),
		}

		// Check outcomes are counted inside the resolver, so the guard only
		// translates the decision into a response.
		decision, err := resolver.Resolve(c.Request.Context(), req)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"success": false,
				"error":   gin.H{"code": errors.ErrInternalServer.Code, "message": "permission check failed"},
			})
			return
		}
		if !decision.Granted {
			response.Error(c, errors.ErrForbidden)
			c.Abort()
			return
		}

		c.Next()
	}
}
