package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"messaging-service/internal/errs"
)

// TokenValidator resolves a bearer token to an account id.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) (int, error)
}

// JWTValidator validates HS256 tokens carrying a user_id (or numeric sub) claim.
type JWTValidator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewJWTValidator(secret, issuer string) *JWTValidator {
	return &JWTValidator{secret: []byte(secret), issuer: issuer, now: time.Now}
}

var _ TokenValidator = (*JWTValidator)(nil)

// ValidateToken verifies signature, expiry and issuer, then extracts the account id.
func (v *JWTValidator) ValidateToken(_ context.Context, tokenString string) (int, error) {
	if tokenString == "" {
		return 0, errs.New(errs.KindUnauthenticated, "missing token")
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil || !token.Valid {
		return 0, errs.Wrap(err, errs.KindUnauthenticated, "invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, errs.New(errs.KindUnauthenticated, "invalid token")
	}

	userID := claimInt(claims["user_id"])
	if userID == 0 {
		userID = claimInt(claims["sub"])
	}
	if userID <= 0 {
		return 0, errs.New(errs.KindUnauthenticated, "invalid token")
	}
	return userID, nil
}

// IssueToken signs a token for userID. Used by tooling and tests.
func (v *JWTValidator) IssueToken(userID int, ttl time.Duration) (string, error) {
	now := v.now()
	claims := jwt.MapClaims{
		"user_id": userID,
		"sub":     fmt.Sprint(userID),
		"iat":     now.Unix(),
		"exp":     now.Add(ttl).Unix(),
	}
	if v.issuer != "" {
		claims["iss"] = v.issuer
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

func claimInt(raw any) int {
	switch val := raw.(type) {
	case float64:
		return int(val)
	case string:
		var id int
		if _, err := fmt.Sscanf(val, "%d", &id); err == nil {
			return id
		}
	}
	return 0
}

// TokenFromRequest reads a bearer token from the Authorization header, falling
// back to the token query parameter used by browser websocket clients.
func TokenFromRequest(r *http.Request) string {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
