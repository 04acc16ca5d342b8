package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"wastechat/api"
	"wastechat/chat"
)

var protectedRoutes = []string{"/products", "/chat", "/sales-order"}

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeMarket struct {
	mu        sync.Mutex
	valid     bool
	verifies  int
	presence  int
	sent      []map[string]any
	lastAuth  string
	messageID int64
}

func (m *fakeMarket) snapshot() (verifies, presence int, lastAuth string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.verifies, m.presence, m.lastAuth
}

func (m *fakeMarket) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	reply := func(w http.ResponseWriter, status int, body any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}

	mux.HandleFunc("POST /api/verify_token", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.verifies++
		valid := m.valid
		m.mu.Unlock()
		if !valid {
			reply(w, http.StatusUnauthorized, map[string]any{"valid": false})
			return
		}
		reply(w, http.StatusOK, map[string]any{"valid": true})
	})
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			reply(w, http.StatusUnauthorized, map[string]any{"message": "Invalid credentials"})
			return
		}
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{
			"access":  signToken(t, 7, time.Now().Add(time.Hour)),
			"refresh": "refresh",
		}})
	})
	mux.HandleFunc("POST /api/auth/logout", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"message": "Logged out"})
	})
	mux.HandleFunc("GET /api/conversations", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.lastAuth = r.Header.Get("Authorization")
		m.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": []map[string]any{
			{
				"id": 42, "user1_id": 7, "user2_id": 9,
				"conversation_user":     map[string]any{"id": 9, "name": "Ravi Metals"},
				"latest_message_content": "Is the bale available?",
				"latest_conversation":    "2026-03-01T10:00:00Z",
				"unread_messages_count":  1,
			},
		}})
	})
	mux.HandleFunc("GET /api/conversations/messages", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{
			"pagination": map[string]any{"page": 1, "total_records": 1},
			"messages": []map[string]any{
				{"id": 1, "content": "Is the bale available?", "sender": map[string]any{"id": 9}, "recipient": map[string]any{"id": 7}, "created_at": "2026-03-01T10:00:00Z"},
			},
		}})
	})
	mux.HandleFunc("POST /api/conversations/messages", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		m.mu.Lock()
		m.sent = append(m.sent, body)
		m.messageID++
		id := 100 + m.messageID
		m.mu.Unlock()
		reply(w, http.StatusCreated, map[string]any{"message": "Message sent", "data": map[string]any{
			"id": id, "content": body["content"],
			"conversation": map[string]any{"id": body["conversation_id"]},
			"sender":       map[string]any{"id": body["sender_id"]},
			"recipient":    map[string]any{"id": body["recipient_id"]},
			"created_at":   "2026-03-01T11:00:00Z",
		}})
	})
	mux.HandleFunc("POST /api/conversations/latest_messages", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": []any{}})
	})
	mux.HandleFunc("POST /api/users/check-user-active", func(w http.ResponseWriter, r *http.Request) {
		m.mu.Lock()
		m.presence++
		m.mu.Unlock()
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{"is_active": true}})
	})
	mux.HandleFunc("POST /api/users/update-active", func(w http.ResponseWriter, r *http.Request) {
		reply(w, http.StatusOK, map[string]any{"message": "ok", "data": map[string]any{"id": 7, "is_active_user": true}})
	})
	return mux
}

func signToken(t *testing.T, userID int64, expires time.Time) string {
	t.Helper()
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": userID,
		"exp":     expires.Unix(),
	}).SignedString([]byte("backend-secret"))
	require.NoError(t, err)
	return raw
}

func newTestGateway(t *testing.T, market *fakeMarket) (*Server, *httptest.Server) {
	t.Helper()

	backend := httptest.NewServer(market.handler(t))
	t.Cleanup(backend.Close)

	client, err := api.New(api.Options{BaseURL: backend.URL})
	require.NoError(t, err)

	server, err := New(Options{
		Client:          client,
		ProtectedRoutes: protectedRoutes,
		Session: chat.Options{
			ConversationInterval: time.Hour,
			LatestInterval:       20 * time.Millisecond,
			PresenceInterval:     20 * time.Millisecond,
			HeartbeatInterval:    -1,
		},
	})
	require.NoError(t, err)
	return server, backend
}

func doRequest(server *Server, method, target string, body string, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: DefaultCookieName, Value: cookie})
	}
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)
	return rec
}

func TestIsProtected(t *testing.T) {
	require.True(t, IsProtected("/chat", protectedRoutes))
	require.True(t, IsProtected("/chat/42", protectedRoutes))
	require.True(t, IsProtected("/products/", protectedRoutes))
	require.False(t, IsProtected("/chatter", protectedRoutes))
	require.False(t, IsProtected("/login", protectedRoutes))
	require.False(t, IsProtected("/", protectedRoutes))
}

func TestGuardRedirectsWithoutToken(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{valid: true})

	for _, target := range []string{"/chat", "/chat/42", "/products/5", "/sales-order"} {
		rec := doRequest(server, http.MethodGet, target, "", "")
		require.Equal(t, http.StatusFound, rec.Code, target)
		require.Equal(t, "/login?next="+url.QueryEscape(target), rec.Header().Get("Location"), target)
	}
}

func TestGuardRejectsExpiredTokenWithoutAskingBackend(t *testing.T) {
	market := &fakeMarket{valid: true}
	server, _ := newTestGateway(t, market)

	rec := doRequest(server, http.MethodGet, "/chat", "", signToken(t, 7, time.Now().Add(-time.Minute)))
	require.Equal(t, http.StatusFound, rec.Code)
	verifies, _, _ := market.snapshot()
	require.Zero(t, verifies)
}

func TestGuardRedirectsWhenBackendRejectsToken(t *testing.T) {
	market := &fakeMarket{valid: false}
	server, _ := newTestGateway(t, market)

	rec := doRequest(server, http.MethodGet, "/chat", "", signToken(t, 7, time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusFound, rec.Code)
	verifies, _, _ := market.snapshot()
	require.Equal(t, 1, verifies)
}

func TestChatPageRendersConversationsAndHistory(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{valid: true})
	token := signToken(t, 7, time.Now().Add(time.Hour))

	rec := doRequest(server, http.MethodGet, "/chat", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Ravi Metals")
	require.Contains(t, rec.Body.String(), `href="/chat/42"`)

	rec = doRequest(server, http.MethodGet, "/chat/42", "", token)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `data-conversation="42"`)
	require.Contains(t, rec.Body.String(), `class="peer"`)
	require.Contains(t, rec.Body.String(), `data-created="1772359200000"`)
	require.Contains(t, rec.Body.String(), `id="toast"`)

	rec = doRequest(server, http.MethodGet, "/chat/77", "", token)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUnprotectedRoutes(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{})

	rec := doRequest(server, http.MethodGet, "/healthz", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(server, http.MethodGet, "/login?next=/chat/42", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `value="/chat/42"`)
}

func TestLoginSetsCookieAndRedirects(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{valid: true})

	form := url.Values{"email": {"a@example.com"}, "password": {"secret"}, "next": {"/chat/42"}}
	rec := doRequest(server, http.MethodPost, "/session/login", form.Encode(), "")
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/chat/42", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Equal(t, DefaultCookieName, cookies[0].Name)
	require.True(t, cookies[0].HttpOnly)
	require.NotEmpty(t, cookies[0].Value)

	form.Set("password", "wrong")
	form.Set("next", "//evil.example.com")
	rec = doRequest(server, http.MethodPost, "/session/login", form.Encode(), "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	require.Contains(t, rec.Body.String(), "Invalid credentials")
	require.Contains(t, rec.Body.String(), `value="/chat"`)
}

func TestLogoutClearsCookie(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{valid: true})

	rec := doRequest(server, http.MethodPost, "/session/logout", "", signToken(t, 7, time.Now().Add(time.Hour)))
	require.Equal(t, http.StatusSeeOther, rec.Code)
	require.Equal(t, "/login", rec.Header().Get("Location"))

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	require.Empty(t, cookies[0].Value)
	require.Negative(t, cookies[0].MaxAge)
}

func TestAPIProxyForwardsCookieAsBearer(t *testing.T) {
	market := &fakeMarket{valid: true}
	server, _ := newTestGateway(t, market)

	rec := doRequest(server, http.MethodGet, "/api/conversations", "", "cookie-token")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "Ravi Metals")
	_, _, lastAuth := market.snapshot()
	require.Equal(t, "Bearer cookie-token", lastAuth)
}

func TestMemoryPresenceExpires(t *testing.T) {
	cache := NewMemoryPresence()
	now := time.Date(2026, time.March, 1, 10, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.Get(ctx, 9)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, 9, true, 5*time.Second))
	active, err := cache.Get(ctx, 9)
	require.NoError(t, err)
	require.True(t, active)

	now = now.Add(5 * time.Second)
	_, err = cache.Get(ctx, 9)
	require.ErrorIs(t, err, ErrCacheMiss)
}

func TestNewRedisPresenceFailsWithoutServer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := NewRedisPresence(ctx, "127.0.0.1:1", "", 0)
	require.Error(t, err)
}

func TestChatSocketBridgesSession(t *testing.T) {
	market := &fakeMarket{valid: true}
	server, _ := newTestGateway(t, market)

	front := httptest.NewServer(server.Handler())
	t.Cleanup(front.Close)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+signToken(t, 7, time.Now().Add(time.Hour)))
	ws, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(front.URL, "http")+"/ws/chat", header)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer ws.Close()

	readUntil := func(match func(map[string]any) bool) map[string]any {
		t.Helper()
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		for {
			var frame map[string]any
			require.NoError(t, ws.ReadJSON(&frame))
			if match(frame) {
				return frame
			}
		}
	}

	readUntil(func(f map[string]any) bool { return f["type"] == string(chat.EventConversations) })

	require.NoError(t, ws.WriteJSON(bridgeCommand{Type: commandSelect, ConversationID: 42}))
	replaced := readUntil(func(f map[string]any) bool { return f["type"] == string(chat.EventMessagesReplaced) })
	require.Len(t, replaced["messages"], 1)

	readUntil(func(f map[string]any) bool { return f["type"] == string(chat.EventPresence) })

	require.NoError(t, ws.WriteJSON(bridgeCommand{Type: commandSend, Content: " Hello "}))
	appended := readUntil(func(f map[string]any) bool { return f["type"] == string(chat.EventMessagesAppended) })
	require.Equal(t, true, appended["follow"])

	market.mu.Lock()
	sent := market.sent
	market.mu.Unlock()
	require.Len(t, sent, 1)
	require.Equal(t, map[string]any{
		"conversation_id": float64(42),
		"sender_id":       float64(7),
		"recipient_id":    float64(9),
		"content":         "Hello",
	}, sent[0])

	require.NoError(t, ws.WriteJSON(bridgeCommand{Type: commandSend, Content: "   "}))
	failed := readUntil(func(f map[string]any) bool { return f["type"] == "error" })
	require.Equal(t, "Message is empty", failed["error"])

	// Presence polls share one backend check per TTL window.
	time.Sleep(100 * time.Millisecond)
	_, checks, _ := market.snapshot()
	require.Equal(t, 1, checks)
}

func TestChatSocketRequiresIdentity(t *testing.T) {
	server, _ := newTestGateway(t, &fakeMarket{valid: true})

	rec := doRequest(server, http.MethodGet, "/ws/chat", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}
