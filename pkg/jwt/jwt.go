package jwt

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims represents the JWT payload. PriorityLevel is the requester's
// priority at token issue time; reservation admission snapshots it.
// TokenType separates access tokens from refresh tokens: only access tokens
// pass the HTTP middleware.
type Claims struct {
	UserID        string `json:"user_id"`
	EmployeeID    string `json:"employee_id"`
	Role          string `json:"role"` // admin | dispatcher | viewer | driver
	PriorityLevel int    `json:"priority_level"`
	TokenType     string `json:"token_type"` // access | refresh
	gojwt.RegisteredClaims
}

type ctxKey string

const claimsCtxKey ctxKey = "jwt_claims"

var (
	secret        []byte
	accessExpiry  = 15 * time.Minute
	refreshExpiry = 168 * time.Hour
)

// Init must be called once at startup with the JWT_SECRET value.
func Init(s string, access, refresh time.Duration) error {
	if s == "" {
		return errors.New("JWT_SECRET is required")
	}
	secret = []byte(s)
	if access > 0 {
		accessExpiry = access
	}
	if refresh > 0 {
		refreshExpiry = refresh
	}
	return nil
}

// Generate creates a signed access token for the given user.
func Generate(userID, employeeID, role string, priorityLevel int) (string, error) {
	return sign(userID, employeeID, role, priorityLevel, "access", accessExpiry)
}

// GenerateRefresh creates a long-lived refresh token. It is only accepted by
// the refresh endpoint, never by the auth middleware.
func GenerateRefresh(userID, employeeID, role string, priorityLevel int) (string, error) {
	return sign(userID, employeeID, role, priorityLevel, "refresh", refreshExpiry)
}

func sign(userID, employeeID, role string, priorityLevel int, tokenType string, expiry time.Duration) (string, error) {
	claims := Claims{
		UserID:        userID,
		EmployeeID:    employeeID,
		Role:          role,
		PriorityLevel: priorityLevel,
		TokenType:     tokenType,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  gojwt.NewNumericDate(time.Now()),
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(expiry)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(secret)
}

// Validate parses and validates a raw JWT string.
func Validate(raw string) (*Claims, error) {
	token, err := gojwt.ParseWithClaims(raw, &Claims{}, func(t *gojwt.Token) (any, error) {
		if _, ok := t.Method.(*gojwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

// ---- HTTP Middleware ----

// OptionalAuth extracts JWT claims into context if a Bearer token is present.
// Requests without a token pass through (claims will be nil). Refresh tokens
// are ignored here; they are only good for the refresh endpoint.
func OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			if claims, err := Validate(auth[7:]); err == nil && claims.TokenType == "access" {
				r = r.WithContext(context.WithValue(r.Context(), claimsCtxKey, claims))
			}
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAuth rejects requests that have no valid JWT in context.
func RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if GetClaims(r.Context()) == nil {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// GetClaims retrieves the parsed claims from context (nil if absent).
func GetClaims(ctx context.Context) *Claims {
	c, _ := ctx.Value(claimsCtxKey).(*Claims)
	return c
}

// WithClaims returns a context carrying the given claims. Tests and non-HTTP
// entry points (the MQTT bridge) use this instead of the middleware.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey, c)
}
