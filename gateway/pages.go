package gateway

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"wastechat/api"
	"wastechat/auth"
	"wastechat/models"
)

const pageTimeout = 10 * time.Second

type loginView struct {
	Next  string
	Email string
	Error string
}

type chatView struct {
	SelfID        int64
	Conversations []models.Conversation
	Selected      *models.Conversation
	Messages      []models.Message
	Notice        string
}

func (s *Server) loginPage(c *gin.Context) {
	c.HTML(http.StatusOK, "login.html", loginView{Next: safeNext(c.Query("next"))})
}

func (s *Server) login(c *gin.Context) {
	email := strings.TrimSpace(c.PostForm("email"))
	password := c.PostForm("password")
	next := safeNext(c.PostForm("next"))

	ctx, cancel := context.WithTimeout(c.Request.Context(), pageTimeout)
	defer cancel()

	tokens, err := s.options.Client.Login(ctx, email, password)
	if err != nil {
		s.logger.Info("login failed", zap.String("email", email), zap.Error(err))
		c.HTML(http.StatusUnauthorized, "login.html", loginView{
			Next:  next,
			Email: email,
			Error: api.UserMessage(err, "Login failed"),
		})
		return
	}

	info, err := auth.ParseToken(tokens.Access)
	if err != nil {
		s.logger.Warn("backend issued unreadable token", zap.Error(err))
		c.HTML(http.StatusBadGateway, "login.html", loginView{Next: next, Email: email, Error: "Login failed"})
		return
	}

	maxAge := 0
	if !info.ExpiresAt.IsZero() {
		maxAge = int(info.ExpiresAt.Sub(s.now()).Seconds())
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.options.CookieName, tokens.Access, maxAge, "/", "", s.options.SecureCookie, true)
	c.Redirect(http.StatusSeeOther, next)
}

func (s *Server) logout(c *gin.Context) {
	if token := s.tokenFrom(c.Request); token != "" {
		ctx, cancel := context.WithTimeout(c.Request.Context(), pageTimeout)
		if err := s.options.Client.WithToken(token).Logout(ctx); err != nil {
			s.logger.Debug("backend logout failed", zap.Error(err))
		}
		cancel()
	}

	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(s.options.CookieName, "", -1, "/", "", s.options.SecureCookie, true)
	c.Redirect(http.StatusSeeOther, "/login")
}

func (s *Server) chatPage(c *gin.Context) {
	who, ok := s.pageIdentity(c)
	if !ok {
		return
	}

	var selectedID int64
	if raw := c.Param("id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
			return
		}
		selectedID = id
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), pageTimeout)
	defer cancel()
	client := s.options.Client.WithToken(who.Token)

	view := chatView{SelfID: who.UserID}
	conversations, err := client.ListConversations(ctx)
	if err != nil {
		s.logger.Warn("list conversations failed", zap.Int64("user_id", who.UserID), zap.Error(err))
		view.Notice = api.UserMessage(err, "Failed to load conversations")
	}
	models.SortByActivity(conversations)
	view.Conversations = conversations

	if selectedID != 0 {
		for i := range conversations {
			if conversations[i].ID == selectedID {
				view.Selected = &conversations[i]
				break
			}
		}
		if view.Selected == nil && err == nil {
			c.JSON(http.StatusNotFound, gin.H{"message": "Conversation not found"})
			return
		}

		page, err := client.ListMessages(ctx, selectedID, 1)
		if err != nil {
			s.logger.Warn("list messages failed", zap.Int64("conversation_id", selectedID), zap.Error(err))
			view.Notice = api.UserMessage(err, "Failed to load chat messages")
		} else {
			view.Messages = page.Chronological()
		}
	}

	c.HTML(http.StatusOK, "chat.html", view)
}

// pageIdentity returns the guard's identity or authenticates directly when
// the route is not in the protected list.
func (s *Server) pageIdentity(c *gin.Context) (identity, bool) {
	if _, ok := c.Get(identityKey); ok {
		return identityFrom(c), true
	}
	who, ok := s.authenticate(c)
	if !ok {
		c.Redirect(http.StatusFound, "/login?next="+url.QueryEscape(c.Request.URL.RequestURI()))
		c.Abort()
		return identity{}, false
	}
	return who, true
}

// safeNext keeps post-login redirects on this host.
func safeNext(next string) string {
	if next == "" || !strings.HasPrefix(next, "/") || strings.HasPrefix(next, "//") || strings.HasPrefix(next, "/\\") {
		return "/chat"
	}
	return next
}
