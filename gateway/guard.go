package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wastechat/auth"
)

const (
	identityKey   = "wastechat.identity"
	verifyTimeout = 5 * time.Second
)

// identity is the caller resolved from a verified access token.
type identity struct {
	Token  string
	UserID int64
}

// IsProtected reports whether path is one of routes or below one of them.
func IsProtected(path string, routes []string) bool {
	for _, route := range routes {
		route = strings.TrimRight(route, "/")
		if route == "" {
			continue
		}
		if path == route || strings.HasPrefix(path, route+"/") {
			return true
		}
	}
	return false
}

// guard redirects unauthenticated requests for protected routes to /login.
func (s *Server) guard() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if !IsProtected(path, s.options.ProtectedRoutes) {
			c.Next()
			return
		}

		who, ok := s.authenticate(c)
		if !ok {
			c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
			c.Abort()
			return
		}
		c.Set(identityKey, who)
		c.Next()
	}
}

// requireIdentity answers 401 instead of redirecting, for non-page routes.
func (s *Server) requireIdentity() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := c.Get(identityKey); ok {
			c.Next()
			return
		}
		who, ok := s.authenticate(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Authentication required"})
			return
		}
		c.Set(identityKey, who)
		c.Next()
	}
}

// authenticate accepts a token only if it parses, has not expired and the
// backend confirms it.
func (s *Server) authenticate(c *gin.Context) (identity, bool) {
	token := s.tokenFrom(c.Request)
	if token == "" {
		return identity{}, false
	}

	info, err := auth.CheckToken(token, s.now())
	if err != nil {
		s.logger.Debug("rejecting access token", zap.Error(err))
		return identity{}, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), verifyTimeout)
	defer cancel()
	valid, err := s.options.Client.WithToken(token).VerifyToken(ctx)
	if err != nil {
		s.logger.Warn("verify token failed", zap.Error(err))
		return identity{}, false
	}
	if !valid {
		return identity{}, false
	}

	return identity{Token: token, UserID: info.UserID}, true
}

func (s *Server) tokenFrom(r *http.Request) string {
	if cookie, err := r.Cookie(s.options.CookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	header := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(header, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

func identityFrom(c *gin.Context) identity {
	value, _ := c.Get(identityKey)
	who, _ := value.(identity)
	return who
}
