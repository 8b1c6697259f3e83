package jwt

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateAndValidate(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))

	token, err := Generate("u-1", "EMP-042", "dispatcher", 3)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, "EMP-042", claims.EmployeeID)
	assert.Equal(t, "dispatcher", claims.Role)
	assert.Equal(t, 3, claims.PriorityLevel)
}

func TestValidateRejectsTamperedToken(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))

	token, err := Generate("u-1", "EMP-042", "driver", 1)
	require.NoError(t, err)

	_, err = Validate(token + "x")
	assert.Error(t, err)

	_, err = Validate("not.a.token")
	assert.Error(t, err)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))

	expired := Claims{
		UserID: "u-1",
		Role:   "viewer",
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   "u-1",
			IssuedAt:  gojwt.NewNumericDate(time.Now().Add(-time.Hour)),
			ExpiresAt: gojwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}
	token, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, expired).SignedString(secret)
	require.NoError(t, err)

	_, err = Validate(token)
	assert.Error(t, err)
}

func TestInitRequiresSecret(t *testing.T) {
	assert.Error(t, Init("", time.Minute, time.Hour))
}

func TestOptionalAuthMiddleware(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))
	token, err := Generate("u-9", "EMP-009", "admin", 5)
	require.NoError(t, err)

	var got *Claims
	h := OptionalAuth(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))

	// Without a token the request passes through with nil claims.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, got)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, got)
	assert.Equal(t, "u-9", got.UserID)
}

func TestRequireAuthMiddleware(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))

	h := RequireAuth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithClaims(req.Context(), &Claims{UserID: "u-1", Role: "viewer"}))
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRefreshTokenRejectedByMiddleware(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))
	refresh, err := GenerateRefresh("u-1", "EMP-001", "admin", 5)
	require.NoError(t, err)

	// The refresh token itself parses fine and carries its type.
	claims, err := Validate(refresh)
	require.NoError(t, err)
	assert.Equal(t, "refresh", claims.TokenType)

	// But the middleware never attaches it as an identity.
	var got *Claims
	h := OptionalAuth(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = GetClaims(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+refresh)
	h.ServeHTTP(httptest.NewRecorder(), req)
	assert.Nil(t, got)
}

func TestValidateExpiryNote(t *testing.T) {
	require.NoError(t, Init("unit-test-secret", 15*time.Minute, 168*time.Hour))
	token, err := Generate("u-1", "EMP-001", "driver", 1)
	require.NoError(t, err)

	claims, err := Validate(token)
	require.NoError(t, err)
	require.NotNil(t, claims.ExpiresAt)
	assert.WithinDuration(t, time.Now().Add(15*time.Minute), claims.ExpiresAt.Time, time.Minute)
}
