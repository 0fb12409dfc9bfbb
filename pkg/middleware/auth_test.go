package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/weiawesome/wes-io-live/session-service/pkg/jwt"
)

type revocationStub struct {
	revoked map[string]bool
	err     error
}

func (r revocationStub) IsRevoked(_ context.Context, token string) (bool, error) {
	return r.revoked[token], r.err
}

func newRouter(t *testing.T, revoked RevocationChecker) (*gin.Engine, *jwt.Manager) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens, err := jwt.NewManager(jwt.Config{Secret: "test-secret"})
	require.NoError(t, err)

	r := gin.New()
	r.GET("/me", NewAuthMiddleware(tokens, revoked).RequireAuth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": GetUserID(c), "username": GetUsername(c)})
	})
	r.POST("/internal", RequireInternalToken("internal-secret"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r, tokens
}

func TestRequireAuth(t *testing.T) {
	r, tokens := newRouter(t, revocationStub{revoked: map[string]bool{}})
	token, err := tokens.GenerateAccessToken("u1", "", "alice")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
		{"valid token", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set(AuthHeaderKey, tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireAuthRevoked(t *testing.T) {
	tokens, err := jwt.NewManager(jwt.Config{Secret: "test-secret"})
	require.NoError(t, err)
	token, err := tokens.GenerateAccessToken("u1", "", "alice")
	require.NoError(t, err)

	r, _ := newRouter(t, revocationStub{revoked: map[string]bool{token: true}})
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(AuthHeaderKey, "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	r, _ = newRouter(t, revocationStub{err: errors.New("redis down")})
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRequireInternalToken(t *testing.T) {
	r, _ := newRouter(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req.Header.Set(InternalTokenHeader, "internal-secret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", BearerToken("Bearer abc"))
	assert.Equal(t, "", BearerToken("bearer abc"))
	assert.Equal(t, "", BearerToken(""))
}
