package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type memoryStore struct {
	mu        sync.Mutex
	responses map[string]*CachedResponse
	getErr    error
}

func newMemoryStore() *memoryStore {
	return &memoryStore{responses: make(map[string]*CachedResponse)}
}

func (s *memoryStore) Get(ctx context.Context, key string) (*CachedResponse, error) {
	if s.getErr != nil {
		return nil, s.getErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responses[key], nil
}

func (s *memoryStore) Set(ctx context.Context, key string, response *CachedResponse, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses[key] = response
	return nil
}

func newIdempotentRouter(store ResponseStore, status int, calls *int) *gin.Engine {
	router := gin.New()
	router.Use(IdempotencyMiddleware(store, zap.NewNop()))
	router.POST("/v1/payments/initialize", func(c *gin.Context) {
		*calls++
		c.JSON(status, gin.H{"call": *calls})
	})
	return router
}

func postWithKey(router *gin.Engine, key, userID string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/payments/initialize", nil)
	req.Header.Set(idempotencyHeader, key)
	req.Header.Set(UserIDHeader, userID)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysStoredResponse(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newMemoryStore(), http.StatusCreated, &calls)

	first := postWithKey(router, "k1", "u1")
	second := postWithKey(router, "k1", "u1")

	assert.Equal(t, 1, calls)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
}

func TestIdempotency_KeysAreScopedPerCaller(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newMemoryStore(), http.StatusCreated, &calls)

	postWithKey(router, "k1", "u1")
	postWithKey(router, "k1", "u2")

	assert.Equal(t, 2, calls)
}

func TestIdempotency_ServerErrorsAreNotStored(t *testing.T) {
	calls := 0
	router := newIdempotentRouter(newMemoryStore(), http.StatusBadGateway, &calls)

	postWithKey(router, "k1", "u1")
	postWithKey(router, "k1", "u1")

	assert.Equal(t, 2, calls)
}

func TestIdempotency_StoreFailureFallsThrough(t *testing.T) {
	store := newMemoryStore()
	store.getErr = errors.New("redis down")
	calls := 0
	router := newIdempotentRouter(store, http.StatusCreated, &calls)

	w := postWithKey(router, "k1", "u1")
	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, 1, calls)
}

func TestRequireUser(t *testing.T) {
	router := gin.New()
	router.GET("/me", RequireUser(), func(c *gin.Context) {
		c.String(http.StatusOK, UserID(c))
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set(UserIDHeader, " u1 ")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	router := gin.New()
	router.Use(CORSMiddleware())
	router.POST("/v1/payments/initialize", func(c *gin.Context) { c.Status(http.StatusCreated) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/v1/payments/initialize", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
