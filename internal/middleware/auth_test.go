package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

type stubValidator struct {
	userID int
	err    error
}

func (s stubValidator) ValidateToken(context.Context, string) (int, error) {
	return s.userID, s.err
}

func newRouter(validator stubValidator) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(func() string { return "generated" }))
	r.Use(AuthMiddleware(validator))
	r.GET("/me", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": c.GetInt("userID"), "request_id": c.GetString("requestID")})
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	tests := []struct {
		name       string
		header     string
		validator  stubValidator
		wantStatus int
		wantBody   string
	}{
		{name: "missing header", wantStatus: http.StatusUnauthorized, wantBody: "missing authorization"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantBody: "invalid authorization header"},
		{name: "invalid token", header: "Bearer bad", validator: stubValidator{err: errors.New("bad")}, wantStatus: http.StatusUnauthorized, wantBody: "invalid token"},
		{name: "ok", header: "Bearer good", validator: stubValidator{userID: 5}, wantStatus: http.StatusOK, wantBody: `"user_id":5`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			newRouter(tt.validator).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.wantBody)
		})
	}
}

func TestRequestIDKeepsIncoming(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer good")
	req.Header.Set("X-Request-ID", "abc")
	rec := httptest.NewRecorder()
	newRouter(stubValidator{userID: 1}).ServeHTTP(rec, req)

	assert.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"request_id":"abc"`)
}
