package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginPolicy decides which browser origins may call the API or open sockets.
// A "*" entry allows every origin.
type OriginPolicy struct {
	allowAll bool
	origins  map[string]bool
}

// NewOriginPolicy builds a policy from the configured origins
func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]bool, len(allowed))}
	for _, origin := range allowed {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			p.allowAll = true
		}
		if origin != "" {
			p.origins[origin] = true
		}
	}
	return p
}

// Allowed reports whether origin may be served. Requests without an Origin
// header come from non-browser clients and are allowed.
func (p *OriginPolicy) Allowed(origin string) bool {
	return origin == "" || p.allowAll || p.origins[origin]
}

// CheckOrigin matches websocket.Upgrader.CheckOrigin
func (p *OriginPolicy) CheckOrigin(r *http.Request) bool {
	return p.Allowed(r.Header.Get("Origin"))
}

// CORSMiddleware sets CORS headers for allowed origins and rejects the rest
func CORSMiddleware(policy *OriginPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !policy.Allowed(origin) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		}

		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
