package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/auth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(mw gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(IPMiddleware())
	r.GET("/", mw, func(c *gin.Context) {
		c.String(http.StatusOK, c.GetString("username")+"@"+GetClientIP(c))
	})
	return r
}

func TestAuthMiddleware(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	token, _, err := issuer.GenerateToken("admin")
	require.NoError(t, err)
	r := newEngine(AuthMiddleware(issuer))

	tests := []struct {
		name   string
		header string
		value  string
		code   int
	}{
		{"missing", "", "", http.StatusUnauthorized},
		{"custom header", TokenHeader, token, http.StatusOK},
		{"bearer", "Authorization", "Bearer " + token, http.StatusOK},
		{"bad token", TokenHeader, token + "x", http.StatusUnauthorized},
		{"basic auth", "Authorization", "Basic Zm9vOmJhcg==", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set(tt.header, tt.value)
			}
			req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.code, w.Code)
			if tt.code == http.StatusOK {
				assert.Equal(t, "admin@203.0.113.7", w.Body.String())
			}
		})
	}
}

func TestWsAuthMiddleware(t *testing.T) {
	issuer := auth.NewIssuer("secret", time.Hour)
	token, _, err := issuer.GenerateToken("viewer")
	require.NoError(t, err)
	r := newEngine(WsAuthMiddleware(issuer))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Sec-WebSocket-Protocol", "Authorization, "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/?token="+token, nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
