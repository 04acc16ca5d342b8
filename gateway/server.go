// Package gateway serves the chat pages, guards protected routes, bridges
// live chat sessions over websockets and proxies /api to the backend.
package gateway

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wastechat/api"
	"wastechat/chat"
)

const (
	DefaultCookieName  = "access_token"
	DefaultPresenceTTL = 5 * time.Second

	shutdownTimeout = 5 * time.Second
)

//go:embed templates/*.html
var templateFS embed.FS

// Options configures a gateway Server.
type Options struct {
	// Client is the shared backend client; requests run under each caller's token.
	Client          *api.Client
	CookieName      string
	ProtectedRoutes []string
	// SecureCookie marks the session cookie Secure.
	SecureCookie bool

	Presence    PresenceCache
	PresenceTTL time.Duration

	// Session carries poll intervals for bridged sessions. Backend and
	// SelfID are filled in per connection.
	Session chat.Options

	Logger *zap.Logger
}

// Server is the gateway HTTP handler.
type Server struct {
	options Options
	logger  *zap.Logger
	engine  *gin.Engine
	proxy   *httputil.ReverseProxy
	now     func() time.Time
}

// New builds the gateway routes.
func New(options Options) (*Server, error) {
	if options.Client == nil {
		return nil, errors.New("backend client is required")
	}
	if options.CookieName == "" {
		options.CookieName = DefaultCookieName
	}
	if options.PresenceTTL <= 0 {
		options.PresenceTTL = DefaultPresenceTTL
	}
	if options.Presence == nil {
		options.Presence = NewMemoryPresence()
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	target, err := url.Parse(options.Client.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("parse backend URL: %w", err)
	}

	templates, err := template.New("").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	s := &Server{
		options: options,
		logger:  options.Logger.Named("gateway"),
		now:     time.Now,
	}
	s.proxy = newBackendProxy(target, options.CookieName, s.logger)

	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger(), s.guard())
	engine.SetHTMLTemplate(templates)

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/login", s.loginPage)
	engine.POST("/session/login", s.login)
	engine.POST("/session/logout", s.logout)
	engine.GET("/chat", s.chatPage)
	engine.GET("/chat/:id", s.chatPage)
	engine.GET("/ws/chat", s.requireIdentity(), s.chatSocket)
	engine.Any("/api/*path", gin.WrapH(s.proxy))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"message": "Not found"})
	})

	s.engine = engine
	return s, nil
}

// Handler returns the gateway as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errs := make(chan error, 1)
	go func() {
		s.logger.Info("gateway listening", zap.String("addr", addr))
		errs <- server.ListenAndServe()
	}()

	select {
	case err := <-errs:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("serve gateway: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown gateway: %w", err)
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()
		s.logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("elapsed", time.Since(started)),
		)
	}
}

var templateFuncs = template.FuncMap{
	"clock": func(t time.Time) string {
		return t.Local().Format("15:04")
	},
	"activity": func(t *time.Time) string {
		if t == nil {
			return ""
		}
		return t.Local().Format("Jan 2 15:04")
	},
	"upper": strings.ToUpper,
}
