// README: Bearer token auth middleware; stores caller uid and role in the gin context.
package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"zemi/internal/infra"
	"zemi/internal/types"
)

const (
	ctxUID  = "caller_uid"
	ctxRole = "caller_role"
)

// Auth rejects requests without a verifiable bearer token. A token without a
// role claim authenticates a client.
func Auth(verifier infra.TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		raw, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(raw) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := verifier.VerifyIDToken(c.Request.Context(), strings.TrimSpace(raw))
		if err != nil || token == nil || token.UID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		role, ok := parseRole(token.Role())
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "unknown role"})
			return
		}
		c.Set(ctxUID, token.UID)
		c.Set(ctxRole, role)
		c.Next()
	}
}

func parseRole(claim string) (types.Role, bool) {
	switch strings.ToLower(claim) {
	case "", "client", "passenger":
		return types.RoleClient, true
	case "driver":
		return types.RoleDriver, true
	case "admin":
		return types.RoleAdmin, true
	}
	return "", false
}

func CallerUID(c *gin.Context) string {
	return c.GetString(ctxUID)
}

func CallerRole(c *gin.Context) types.Role {
	if v, ok := c.Get(ctxRole); ok {
		if role, ok := v.(types.Role); ok {
			return role
		}
	}
	return ""
}

// Caller is the authenticated actor passed to the core services.
func Caller(c *gin.Context) types.Actor {
	return types.Actor{ID: types.ID(CallerUID(c)), Role: CallerRole(c)}
}
