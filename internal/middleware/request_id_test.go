package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"nonlinear-editor-backend/internal/middleware"
)

func TestRequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID())
	router.GET("/test", func(c *gin.Context) {
		c.String(http.StatusOK, middleware.GetRequestID(c))
	})

	req, _ := http.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	generated := w.Header().Get(middleware.RequestIDHeader)
	_, err := ulid.Parse(generated)
	require.NoError(t, err)
	assert.Equal(t, generated, w.Body.String())

	req, _ = http.NewRequest("GET", "/test", nil)
	req.Header.Set(middleware.RequestIDHeader, "from-proxy")
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, "from-proxy", w.Header().Get(middleware.RequestIDHeader))

	req, _ = http.NewRequest("GET", "/test", nil)
	req.Header.Set(middleware.RequestIDHeader, strings.Repeat("x", 500))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Len(t, w.Header().Get(middleware.RequestIDHeader), 26)
}

func TestRequestLogger_OmitsSecrets(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.RequestID(), middleware.RequestLogger(zap.New(core)))
	router.GET("/projects/:project_id", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	req, _ := http.NewRequest("GET", "/projects/abc?token=secret-value", nil)
	req.Header.Set("Authorization", "Bearer secret-token")
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zap.WarnLevel, entry.Level)

	fields := entry.ContextMap()
	assert.Equal(t, "/projects/abc", fields["path"])
	assert.Equal(t, "/projects/:project_id", fields["route"])
	assert.EqualValues(t, http.StatusNotFound, fields["status"])
	assert.NotEmpty(t, fields["request_id"])
	for _, v := range fields {
		if s, ok := v.(string); ok {
			assert.NotContains(t, s, "secret")
		}
	}
}

func TestRecovery(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Recovery(zap.New(core)))
	router.GET("/panic", func(c *gin.Context) {
		panic("boom")
	})

	req, _ := http.NewRequest("GET", "/panic", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, w.Body.String())
	assert.Equal(t, 1, logs.Len())
}

func TestMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(middleware.Metrics())
	router.GET("/test", okHandler)

	assert.Equal(t, http.StatusOK, doGet(router, "").Code)
	req, _ := http.NewRequest("GET", "/missing", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
