package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mycoool/portsync/internal/auth"
)

// TokenHeader carries the API token.
const TokenHeader = "X-PortSync-Key"

// TokenValidator checks API tokens.
type TokenValidator interface {
	ValidateToken(token string) (*auth.Claims, error)
}

// AuthMiddleware JWT auth middleware. The token is read from X-PortSync-Key or
// an Authorization bearer header.
func AuthMiddleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		authenticate(c, v, headerToken(c))
	}
}

// WsAuthMiddleware WebSocket auth middleware, also accepts the token as the
// second Sec-WebSocket-Protocol value ("Authorization, <token>") or the token
// query parameter since browsers cannot set headers on upgrades.
func WsAuthMiddleware(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := headerToken(c)
		if token == "" {
			token = protocolToken(c.GetHeader("Sec-WebSocket-Protocol"))
		}
		if token == "" {
			token = c.Query("token")
		}
		authenticate(c, v, token)
	}
}

func authenticate(c *gin.Context, v TokenValidator, token string) {
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Missing token"})
		return
	}
	claims, err := v.ValidateToken(token)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
		return
	}
	c.Set("username", claims.Username)
	c.Next()
}

func headerToken(c *gin.Context) string {
	if token := c.GetHeader(TokenHeader); token != "" {
		return token
	}
	const prefix = "Bearer "
	if h := c.GetHeader("Authorization"); len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}

func protocolToken(protocols string) string {
	parts := strings.Split(protocols, ",")
	if len(parts) >= 2 && strings.TrimSpace(parts[0]) == "Authorization" {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// DisableLogMiddleware marks the request so the access log skips it.
func DisableLogMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("disable_log", true)
		c.Next()
	}
}
