package middleware

import (
	"net"
	"strings"

	"github.com/gin-gonic/gin"
)

// GetRealIP returns the client address, honouring proxy headers.
// priority: X-Forwarded-For > X-Real-IP > RemoteAddr
func GetRealIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		for _, ip := range strings.Split(xff, ",") {
			ip = strings.TrimSpace(ip)
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if ip := strings.TrimSpace(c.GetHeader("X-Real-IP")); net.ParseIP(ip) != nil {
		return ip
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	// unix socket and named pipe peers have no IP
	return "local"
}

// IPMiddleware stores the real client IP in the context.
func IPMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("real_ip", GetRealIP(c))
		c.Next()
	}
}

// GetClientIP returns the IP stored by IPMiddleware, or resolves it.
func GetClientIP(c *gin.Context) string {
	if realIP, exists := c.Get("real_ip"); exists {
		if ip, ok := realIP.(string); ok {
			return ip
		}
	}
	return GetRealIP(c)
}
