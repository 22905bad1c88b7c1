package auth

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"messaging-service/internal/errs"
)

func TestIssueAndValidate(t *testing.T) {
	v := NewJWTValidator("secret", "messaging")
	token, err := v.IssueToken(42, time.Hour)
	require.NoError(t, err)

	userID, err := v.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 42, userID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	token, err := NewJWTValidator("other", "").IssueToken(1, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.KindUnauthenticated))
}

func TestValidateRejectsExpired(t *testing.T) {
	v := NewJWTValidator("secret", "")
	token, err := v.IssueToken(1, -time.Minute)
	require.NoError(t, err)

	_, err = v.ValidateToken(context.Background(), token)
	assert.True(t, errs.Is(err, errs.KindUnauthenticated))
}

func TestValidateRejectsIssuerMismatch(t *testing.T) {
	token, err := NewJWTValidator("secret", "someone-else").IssueToken(1, time.Hour)
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "messaging").ValidateToken(context.Background(), token)
	assert.Error(t, err)
}

func TestValidateFallsBackToSub(t *testing.T) {
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "7",
		"exp": time.Now().Add(time.Hour).Unix(),
	})
	token, err := raw.SignedString([]byte("secret"))
	require.NoError(t, err)

	userID, err := NewJWTValidator("secret", "").ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 7, userID)
}

func TestValidateRejectsMissingIdentity(t *testing.T) {
	raw := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": time.Now().Add(time.Hour).Unix()})
	token, err := raw.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = NewJWTValidator("secret", "").ValidateToken(context.Background(), token)
	assert.Error(t, err)

	_, err = NewJWTValidator("secret", "").ValidateToken(context.Background(), "")
	assert.Error(t, err)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest("GET", "/ws?token=query-token", nil)
	assert.Equal(t, "query-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))

	req.Header.Set("Authorization", "Basic abc")
	assert.Equal(t, "", TokenFromRequest(req))
}
