package auth

import (
	"context"
	"dm-lab/errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type contextKey string

const (
	UserIDKey contextKey = "user_id"
	RolesKey  contextKey = "roles"
)

// Middleware rejects requests without a valid bearer token and injects the
// caller identity in the request context. Browsers cannot set headers on a
// WebSocket handshake, so the token may also come from the "token" query param.
func Middleware(issuer TokenIssuer) gin.HandlerFunc {
	return func(c *gin.Context) {
		claims, err := issuer.ValidateToken(extractToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(errors.HTTPStatus(err), gin.H{"error": err.Error()})
			return
		}
		ctx := WithUser(c.Request.Context(), claims.UserID, claims.Roles)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func extractToken(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return r.URL.Query().Get("token")
}

func WithUser(ctx context.Context, userID string, roles []string) context.Context {
	ctx = context.WithValue(ctx, UserIDKey, userID)
	return context.WithValue(ctx, RolesKey, roles)
}

// UserID returns the authenticated caller, or "" outside an authenticated request.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(UserIDKey).(string)
	return id
}
