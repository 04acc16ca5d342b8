package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"wastechat/api"
	"wastechat/chat"
)

const (
	writeTimeout   = 10 * time.Second
	commandTimeout = 15 * time.Second
	maxCommandSize = 64 << 10
)

var errUnknownCommand = errors.New("unknown command")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// Commands accepted on /ws/chat.
const (
	commandSelect  = "select"
	commandClose   = "close"
	commandSend    = "send"
	commandRefresh = "refresh"
	commandReload  = "reload"
)

type bridgeCommand struct {
	Type           string `json:"type"`
	ConversationID int64  `json:"conversation_id,omitempty"`
	Content        string `json:"content,omitempty"`
}

type bridgeReply struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Error   string `json:"error,omitempty"`
}

// chatSocket runs one chat session for the lifetime of a websocket.
func (s *Server) chatSocket(c *gin.Context) {
	who := identityFrom(c)
	logger := s.logger.With(zap.Int64("user_id", who.UserID))

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Info("upgrade websocket failed", zap.Error(err))
		return
	}
	defer ws.Close()
	ws.SetReadLimit(maxCommandSize)

	options := s.options.Session
	options.Backend = &presenceBackend{
		Backend: s.options.Client.WithToken(who.Token),
		cache:   s.options.Presence,
		ttl:     s.options.PresenceTTL,
		logger:  logger,
	}
	options.SelfID = who.UserID
	options.Cache = nil
	options.Logger = logger

	session, err := chat.NewSession(options)
	if err != nil {
		logger.Warn("create chat session failed", zap.Error(err))
		_ = ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "session unavailable"))
		return
	}
	if err := session.Start(); err != nil {
		logger.Warn("start chat session failed", zap.Error(err))
		return
	}

	replies := make(chan bridgeReply, 16)
	writerDone := make(chan struct{})
	go s.writeLoop(ws, session.Events(), replies, writerDone, logger)

	logger.Debug("chat bridge opened")
	s.readLoop(ws, session, replies, writerDone, logger)

	session.Stop()
	<-writerDone
	logger.Debug("chat bridge closed")
}

func (s *Server) readLoop(ws *websocket.Conn, session *chat.Session, replies chan<- bridgeReply, writerDone <-chan struct{}, logger *zap.Logger) {
	for {
		var cmd bridgeCommand
		if err := ws.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				logger.Debug("websocket read failed", zap.Error(err))
			}
			return
		}

		reply := bridgeReply{Type: "ack", Command: cmd.Type}
		if err := s.handleCommand(session, cmd); err != nil {
			reply.Type = "error"
			reply.Error = commandError(err)
		}

		select {
		case replies <- reply:
		case <-writerDone:
			return
		}
	}
}

func (s *Server) handleCommand(session *chat.Session, cmd bridgeCommand) error {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	switch cmd.Type {
	case commandSelect:
		err := session.Select(cmd.ConversationID)
		if errors.Is(err, chat.ErrUnknownConversation) {
			// The list may predate a conversation started elsewhere.
			if refreshErr := session.RefreshConversations(ctx); refreshErr != nil {
				return refreshErr
			}
			err = session.Select(cmd.ConversationID)
		}
		return err
	case commandClose:
		session.Deselect()
		return nil
	case commandSend:
		_, err := session.Send(ctx, cmd.Content)
		if errors.Is(err, chat.ErrSuperseded) {
			return nil
		}
		return err
	case commandRefresh:
		return session.RefreshConversations(ctx)
	case commandReload:
		return session.Reload()
	default:
		return errUnknownCommand
	}
}

func (s *Server) writeLoop(ws *websocket.Conn, events <-chan chat.Event, replies <-chan bridgeReply, done chan<- struct{}, logger *zap.Logger) {
	defer close(done)

	write := func(v any) bool {
		_ = ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := ws.WriteJSON(v); err != nil {
			logger.Debug("websocket write failed", zap.Error(err))
			// Unblocks the reader so the session can stop.
			_ = ws.Close()
			return false
		}
		return true
	}

	for {
		select {
		case event, ok := <-events:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			if !write(event) {
				return
			}
		case reply := <-replies:
			if !write(reply) {
				return
			}
		}
	}
}

func commandError(err error) string {
	switch {
	case errors.Is(err, chat.ErrEmptyMessage):
		return "Message is empty"
	case errors.Is(err, chat.ErrNoConversation):
		return "No conversation selected"
	case errors.Is(err, chat.ErrUnknownConversation):
		return "Conversation not found"
	case errors.Is(err, errUnknownCommand):
		return "Unknown command"
	default:
		return api.UserMessage(err, "Request failed")
	}
}

var _ chat.Backend = (*api.Client)(nil)
