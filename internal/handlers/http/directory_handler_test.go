package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"chatfabric/internal/infrastructure/middleware"
	"chatfabric/internal/infrastructure/repositories/memory"
	"chatfabric/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupRouter(t *testing.T) (*gin.Engine, context.Context, *DirectoryHandler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	directory := memory.NewMemoryDirectoryRepository()
	ctx := context.Background()
	_, err := directory.RegisterUser(ctx, "alice", 1)
	require.NoError(t, err)
	_, err = directory.RegisterUser(ctx, "bob", 2)
	require.NoError(t, err)
	require.NoError(t, directory.CreateChannel(ctx, "news", 3))
	require.NoError(t, directory.Subscribe(ctx, "bob", "news"))

	handler := NewDirectoryHandler(directory)
	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger.NewContextLogger(zap.NewNop())))
	handler.SetupRoutes(router)
	return router, ctx, handler
}

func get(t *testing.T, router *gin.Engine, path string) (int, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestDirectoryHandler_ListUsers(t *testing.T) {
	router, _, _ := setupRouter(t)

	code, body := get(t, router, "/api/v1/directory/users")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"alice", "bob"}, body["users"])
}

func TestDirectoryHandler_GetUser(t *testing.T) {
	router, _, _ := setupRouter(t)

	code, body := get(t, router, "/api/v1/directory/users/bob")
	assert.Equal(t, http.StatusOK, code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "bob", user["name"])
	assert.Equal(t, float64(2), user["registered_at_clock"])

	code, body = get(t, router, "/api/v1/directory/users/carol")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "NOT_FOUND", body["error"])
}

func TestDirectoryHandler_Channels(t *testing.T) {
	router, _, _ := setupRouter(t)

	code, body := get(t, router, "/api/v1/directory/channels")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, []any{"news"}, body["channels"])

	code, body = get(t, router, "/api/v1/directory/channels/news")
	assert.Equal(t, http.StatusOK, code)
	channel := body["channel"].(map[string]any)
	assert.Equal(t, []any{"bob"}, channel["subscribers"])

	code, _ = get(t, router, "/api/v1/directory/channels/sports")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestDirectoryHandler_EmptyChannelHasEmptySubscriberList(t *testing.T) {
	router, ctx, handler := setupRouter(t)
	require.NoError(t, handler.directory.CreateChannel(ctx, "quiet", 9))

	_, body := get(t, router, "/api/v1/directory/channels/quiet")
	channel := body["channel"].(map[string]any)
	assert.Equal(t, []any{}, channel["subscribers"])
}
