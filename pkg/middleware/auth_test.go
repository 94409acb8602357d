package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, claims jwt.MapClaims, method jwt.SigningMethod, secret string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(method, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return tok
}

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(UserIDFromContext(r.Context())))
	})
}

func TestHMACValidator(t *testing.T) {
	validate := NewHMACValidator(testSecret, "cartsync")
	exp := time.Now().Add(time.Hour).Unix()

	t.Run("user_id claim", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"user_id": "u1", "iss": "cartsync", "exp": exp}, jwt.SigningMethodHS256, testSecret)
		claims, err := validate(tok)
		require.NoError(t, err)
		assert.Equal(t, "u1", claims.UserID)
	})

	t.Run("falls back to sub", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u2", "iss": "cartsync", "exp": exp}, jwt.SigningMethodHS256, testSecret)
		claims, err := validate(tok)
		require.NoError(t, err)
		assert.Equal(t, "u2", claims.UserID)
	})

	t.Run("wrong secret", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u2", "iss": "cartsync", "exp": exp}, jwt.SigningMethodHS256, "other")
		_, err := validate(tok)
		assert.Error(t, err)
	})

	t.Run("wrong issuer", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u2", "iss": "someone-else", "exp": exp}, jwt.SigningMethodHS256, testSecret)
		_, err := validate(tok)
		assert.Error(t, err)
	})

	t.Run("expired", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u2", "iss": "cartsync", "exp": time.Now().Add(-time.Hour).Unix()}, jwt.SigningMethodHS256, testSecret)
		_, err := validate(tok)
		assert.Error(t, err)
	})

	t.Run("no subject", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"iss": "cartsync", "exp": exp}, jwt.SigningMethodHS256, testSecret)
		_, err := validate(tok)
		assert.Error(t, err)
	})
}

func TestOptionalAuth(t *testing.T) {
	validate := NewHMACValidator(testSecret, "")
	h := OptionalAuth(validate)(echoUser())

	t.Run("anonymous passes through", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Body.String())
	})

	t.Run("valid token sets user", func(t *testing.T) {
		tok := signToken(t, jwt.MapClaims{"sub": "u9"}, jwt.SigningMethodHS256, testSecret)
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer "+tok)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, "u9", rec.Body.String())
	})

	t.Run("invalid token rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Bearer garbage")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("malformed header rejected", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", "Basic abc")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestAuth_RequiresHeader(t *testing.T) {
	h := Auth(NewHMACValidator(testSecret, ""))(echoUser())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
}
