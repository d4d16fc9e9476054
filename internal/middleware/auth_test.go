package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/jwt"
)

func authTestRouter(manager *jwt.Manager, captured *domain.Identity) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/ws", AuthMiddleware(manager), func(c *gin.Context) {
		if v, ok := c.Get("identity"); ok {
			*captured = v.(domain.Identity)
		}
		c.Status(http.StatusOK)
	})
	return r
}

func TestAuthMiddlewareAcceptsBearerHeader(t *testing.T) {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	userID := uuid.New()
	token, err := manager.Generate(userID, "Coach Anna", "")
	require.NoError(t, err)

	var identity domain.Identity
	r := authTestRouter(manager, &identity)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, identity.ID)
	assert.Equal(t, "Coach Anna", identity.DisplayName)
}

func TestAuthMiddlewareAcceptsQueryCredential(t *testing.T) {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	userID := uuid.New()
	token, err := manager.Generate(userID, "Member Bob", "")
	require.NoError(t, err)

	var identity domain.Identity
	r := authTestRouter(manager, &identity)

	req := httptest.NewRequest(http.MethodGet, "/ws?access_token="+token, nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, identity.ID)
}

func TestAuthMiddlewareNormalizesDisplayName(t *testing.T) {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	token, err := manager.Generate(uuid.New(), "  Coach\x00\nAnna\t", "")
	require.NoError(t, err)

	var identity domain.Identity
	r := authTestRouter(manager, &identity)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "CoachAnna", identity.DisplayName)
}

func TestAuthMiddlewareRejectsMissingCredential(t *testing.T) {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)

	var identity domain.Identity
	r := authTestRouter(manager, &identity)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthMiddlewareRejectsInvalidToken(t *testing.T) {
	manager := jwt.NewManager("test-secret-key-at-least-32-chars!", time.Hour)
	other := jwt.NewManager("another-secret-key-also-32-chars!!", time.Hour)
	token, err := other.Generate(uuid.New(), "Impostor", "")
	require.NoError(t, err)

	var identity domain.Identity
	r := authTestRouter(manager, &identity)

	req := httptest.NewRequest(http.MethodGet, "/ws", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, uuid.Nil, identity.ID)
}
