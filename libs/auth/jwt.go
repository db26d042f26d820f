package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Claims identifies a salon operator. BusinessID scopes every schedule write.
type Claims struct {
	BusinessID string `json:"business_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

func NewClaims(subject, businessID, role string, ttl time.Duration) Claims {
	now := time.Now()
	return Claims{
		BusinessID: businessID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
}

func SignHS256(claims Claims, secret string) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func ParseAndVerifyHS256(token, secret string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.BusinessID) == "" {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

type ctxKey int

const ctxKeyClaims ctxKey = iota

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(ctxKeyClaims).(*Claims)
	return c, ok
}

// RequireRole verifies the bearer token and only admits the listed roles. The verified
// business id replaces any client supplied X-Business-Id header.
func RequireRole(secret string, roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := strings.TrimSpace(r.Header.Get("Authorization"))
			token, ok := strings.CutPrefix(raw, "Bearer ")
			if !ok || strings.TrimSpace(token) == "" {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			claims, err := ParseAndVerifyHS256(strings.TrimSpace(token), secret)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if len(allowed) > 0 {
				if _, ok := allowed[claims.Role]; !ok {
					http.Error(w, "forbidden", http.StatusForbidden)
					return
				}
			}
			r = r.Clone(context.WithValue(r.Context(), ctxKeyClaims, claims))
			r.Header.Set("X-Business-Id", claims.BusinessID)
			r.Header.Set("X-User-Id", claims.Subject)
			next.ServeHTTP(w, r)
		})
	}
}
