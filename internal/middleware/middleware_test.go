package middleware

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/andybalholm/brotli"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stemsi/techassess/internal/service"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

// ─── Rate limiting ──────────────────────────────────────────────────

func TestRateLimiterPerRoute(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	r := gin.New()
	r.Use(rl.Middleware())
	r.POST("/register-candidate", func(c *gin.Context) { c.Status(http.StatusCreated) })
	r.POST("/admin/login", func(c *gin.Context) { c.Status(http.StatusOK) })

	hit := func(path string) int {
		return serve(r, httptest.NewRequest(http.MethodPost, path, nil)).Code
	}

	require.Equal(t, http.StatusCreated, hit("/register-candidate"))
	require.Equal(t, http.StatusCreated, hit("/register-candidate"))
	w := serve(r, httptest.NewRequest(http.MethodPost, "/register-candidate", nil))
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	require.Equal(t, "60", w.Header().Get("Retry-After"))

	// separate bucket per route
	require.Equal(t, http.StatusOK, hit("/admin/login"))

	now = now.Add(time.Minute)
	require.Equal(t, http.StatusCreated, hit("/register-candidate"))
}

func TestRateLimiterCleanup(t *testing.T) {
	rl := NewRateLimiter(1, time.Minute)
	defer rl.Stop()
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	require.True(t, rl.allow("a"))
	now = now.Add(4 * time.Minute)
	rl.cleanup()
	rl.mu.Lock()
	require.Empty(t, rl.visitors)
	rl.mu.Unlock()
}

// ─── Compression ────────────────────────────────────────────────────

func TestBrotliCompressesLargeBodies(t *testing.T) {
	big := strings.Repeat("candidate answers ", 200)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })
	r.GET("/small", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	req := httptest.NewRequest(http.MethodGet, "/big", nil)
	req.Header.Set("Accept-Encoding", "gzip, br")
	w := serve(r, req)
	require.Equal(t, "br", w.Header().Get("Content-Encoding"))
	plain, err := io.ReadAll(brotli.NewReader(bytes.NewReader(w.Body.Bytes())))
	require.NoError(t, err)
	require.Equal(t, big, string(plain))

	req = httptest.NewRequest(http.MethodGet, "/small", nil)
	req.Header.Set("Accept-Encoding", "br")
	w = serve(r, req)
	require.Empty(t, w.Header().Get("Content-Encoding"))
	require.Equal(t, "ok", w.Body.String())
}

func TestBrotliSkipsWithoutAcceptEncoding(t *testing.T) {
	big := strings.Repeat("x", 4096)
	r := gin.New()
	r.Use(Brotli())
	r.GET("/big", func(c *gin.Context) { c.String(http.StatusOK, big) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/big", nil))
	require.Empty(t, w.Header().Get("Content-Encoding"))
	require.Equal(t, big, w.Body.String())
}

func TestAcceptsBrotli(t *testing.T) {
	cases := map[string]bool{
		"br":            true,
		"gzip, br":      true,
		"BR;q=0.5":      true,
		"br;q=0":        false,
		"gzip, deflate": false,
		"":              false,
	}
	for header, want := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Accept-Encoding", header)
		require.Equal(t, want, acceptsBrotli(req), header)
	}
}

// ─── Cache headers ──────────────────────────────────────────────────

func TestCacheHeaders(t *testing.T) {
	r := gin.New()
	r.GET("/paper", CacheControl(300), func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/session", NoStore(), func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/paper", nil))
	require.Equal(t, "public, max-age=300", w.Header().Get("Cache-Control"))
	w = serve(r, httptest.NewRequest(http.MethodGet, "/session", nil))
	require.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

// ─── Auth ───────────────────────────────────────────────────────────

type tokenTable map[string]*service.Claims

func (tt tokenTable) ValidateToken(tok string) (*service.Claims, error) {
	if tok == "expired" {
		return nil, fmt.Errorf("parse token: %w", jwt.ErrTokenExpired)
	}
	if c, ok := tt[tok]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestRequireAdminJWT(t *testing.T) {
	tokens := tokenTable{
		"admin": {TokenType: service.TokenTypeAdmin, Email: "reviewer@example.com"},
		"other": {TokenType: "candidate"},
	}
	r := gin.New()
	r.GET("/admin", RequireAdminJWT(tokens), func(c *gin.Context) {
		c.String(http.StatusOK, GetClaims(c).Email)
	})
	r.GET("/ws", RequireAdminWSAuth(tokens), func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(path, auth string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		return serve(r, req)
	}

	w := get("/admin", "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "TOKEN_REQUIRED")

	w = get("/admin", "Bearer expired")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.Contains(t, w.Body.String(), "TOKEN_EXPIRED")

	w = get("/admin", "Bearer nope")
	require.Contains(t, w.Body.String(), "TOKEN_INVALID")

	w = get("/admin", "Bearer other")
	require.Equal(t, http.StatusForbidden, w.Code)

	w = get("/admin", "bearer admin")
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "reviewer@example.com", w.Body.String())

	w = get("/admin?token=admin", "")
	require.Equal(t, http.StatusOK, w.Code)

	// the websocket route reads only the query parameter
	w = get("/ws", "Bearer admin")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	w = get("/ws?token=admin", "")
	require.Equal(t, http.StatusOK, w.Code)
}
