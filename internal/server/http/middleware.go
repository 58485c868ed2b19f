package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/dmitrijs2005/artistdir/internal/server/auth"
	"github.com/gin-gonic/gin"
)

const sessionKey = "session"

func (s *HTTPServer) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}

func (s *HTTPServer) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests"})
			return
		}
		c.Next()
	}
}

// sessionToken reads the session cookie, falling back to a bearer header.
func (s *HTTPServer) sessionToken(c *gin.Context) string {
	if v, err := c.Cookie(s.opts.CookieName); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// requireSession parses the session token, refreshes stale claims and stores
// them in the context. When the refresh advanced the claims the cookie is
// reissued.
func (s *HTTPServer) requireSession(force bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := s.sessionToken(c)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		claims, err := auth.ParseSession(token, []byte(s.opts.SecretKey))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		refreshed := s.claims.RefreshIfStale(c.Request.Context(), *claims, force)
		if refreshed.LastRefresh != claims.LastRefresh {
			if err := s.writeSession(c, refreshed); err != nil {
				s.logger.Error(c.Request.Context(), "session reissue failed", "user_id", refreshed.Subject, "error", err.Error())
			}
		}

		c.Set(sessionKey, refreshed)
		c.Next()
	}
}

func sessionFrom(c *gin.Context) (auth.SessionClaims, bool) {
	v, ok := c.Get(sessionKey)
	if !ok {
		return auth.SessionClaims{}, false
	}
	claims, ok := v.(auth.SessionClaims)
	return claims, ok
}

// writeSession signs claims and sets the session cookie. It returns the
// signed token through the context for handlers that echo it.
func (s *HTTPServer) writeSession(c *gin.Context, claims auth.SessionClaims) error {
	token, err := auth.SignSession(claims, []byte(s.opts.SecretKey), s.opts.MaxAge)
	if err != nil {
		return err
	}
	s.setCookie(c, token, int(s.opts.MaxAge.Seconds()))
	c.Set("session_token", token)
	return nil
}

func (s *HTTPServer) setCookie(c *gin.Context, value string, maxAge int) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.opts.CookieName, value, maxAge, "/", "", s.opts.SecureCookie, true)
}

func (s *HTTPServer) clearCookie(c *gin.Context) {
	s.setCookie(c, "", -1)
}
