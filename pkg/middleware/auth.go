package middleware

import (
	"context"
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
	"github.com/weiawesome/wes-io-live/session-service/pkg/log"
	"github.com/weiawesome/wes-io-live/session-service/pkg/response"
)

const (
	UserIDKey     = log.FieldUserID
	UsernameKey   = log.FieldUsername
	AuthHeaderKey = "Authorization"
	BearerPrefix  = "Bearer "

	InternalTokenHeader = "X-Internal-Token"
)

// RevocationChecker reports whether a presented token has been revoked.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// AuthMiddleware validates bearer JWTs locally.
type AuthMiddleware struct {
	tokens  *jwt.Manager
	revoked RevocationChecker
}

// NewAuthMiddleware creates a new auth middleware. revoked may be nil.
func NewAuthMiddleware(tokens *jwt.Manager, revoked RevocationChecker) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, revoked: revoked}
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	if !strings.HasPrefix(header, BearerPrefix) {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, BearerPrefix))
}

// RequireAuth returns a Gin middleware that validates JWT tokens.
func (m *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := BearerToken(c.GetHeader(AuthHeaderKey))
		if token == "" {
			response.Fail(c, response.CodeUnauthorized, "missing or malformed authorization header")
			return
		}

		if m.revoked != nil {
			revoked, err := m.revoked.IsRevoked(c.Request.Context(), token)
			if err != nil {
				l := log.Ctx(c.Request.Context())
				l.Error().Err(err).Msg("revocation check failed")
				response.Fail(c, response.CodeInternal, "failed to validate token")
				return
			}
			if revoked {
				response.Fail(c, response.CodeUnauthorized, "token has been revoked")
				return
			}
		}

		claims, err := m.tokens.ValidateToken(token)
		if err != nil {
			response.Fail(c, response.CodeUnauthorized, err.Error())
			return
		}

		c.Set(UserIDKey, claims.UserID)
		c.Set(UsernameKey, claims.Username)

		c.Next()
	}
}

// RequireInternalToken guards service-to-service endpoints with a shared
// token. An empty expected token rejects every request.
func RequireInternalToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(InternalTokenHeader)
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			response.Fail(c, response.CodeUnauthorized, "invalid internal token")
			return
		}
		c.Next()
	}
}

// GetUserID extracts user ID from Gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(UserIDKey)
}

// GetUsername extracts username from Gin context.
func GetUsername(c *gin.Context) string {
	return c.GetString(UsernameKey)
}
