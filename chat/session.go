// Package chat keeps a signed-in user's conversations and the open
// conversation in sync with the backend by polling.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"wastechat/api"
	"wastechat/models"
)

const (
	DefaultConversationInterval = 10 * time.Second
	DefaultLatestInterval       = 5 * time.Second
	DefaultPresenceInterval     = 10 * time.Second
	DefaultHeartbeatInterval    = 20 * time.Second
	DefaultRequestTimeout       = 15 * time.Second
	DefaultEventBuffer          = 128
)

var (
	// ErrEmptyMessage rejects a send whose trimmed text is empty.
	ErrEmptyMessage = errors.New("message is empty")
	// ErrNoConversation rejects operations that need an open conversation.
	ErrNoConversation = errors.New("no conversation is open")
	// ErrSuperseded reports a result that arrived after its conversation was
	// closed or replaced. For Send the message was still delivered.
	ErrSuperseded = errors.New("conversation selection changed")
	// ErrUnknownConversation rejects selecting an ID absent from the list.
	ErrUnknownConversation = errors.New("unknown conversation")

	errNotStarted = errors.New("session is not started")
	errStopped    = errors.New("session is stopped")
)

// Backend is the subset of the REST API the session polls.
type Backend interface {
	ListConversations(ctx context.Context) ([]models.Conversation, error)
	ListMessages(ctx context.Context, conversationID int64, page int) (models.MessagePage, error)
	LatestMessages(ctx context.Context, conversationID int64) ([]models.Message, error)
	SendMessage(ctx context.Context, message models.OutgoingMessage) (models.Message, error)
	CheckUserActive(ctx context.Context, userID int64) (bool, error)
	TouchActive(ctx context.Context) (models.ActiveStatus, error)
}

// Cache receives conversation snapshots and confirmed messages.
type Cache interface {
	SaveConversations(conversations []models.Conversation) error
	LoadConversations() ([]models.Conversation, error)
	SaveMessages(conversationID int64, messages []models.Message) (int, error)
}

// Options configures a Session.
type Options struct {
	Backend Backend
	// SelfID is the signed-in user's ID, used as sender.
	SelfID int64

	ConversationInterval time.Duration
	LatestInterval       time.Duration
	PresenceInterval     time.Duration
	// HeartbeatInterval < 0 disables the activity heartbeat.
	HeartbeatInterval time.Duration
	RequestTimeout    time.Duration

	Cache       Cache
	Logger      *zap.Logger
	EventBuffer int
}

// Session owns the conversation list, the open pane and every poller.
type Session struct {
	options Options
	logger  *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	stopOnce  sync.Once

	refreshes singleflight.Group

	mu            sync.RWMutex
	conversations []models.Conversation
	selection     *selection
	generation    uint64
	// stopped refuses new selections once Stop has detached the last one.
	stopped bool

	eventsMu sync.RWMutex
	closed   bool
	events   chan Event
}

// selection is everything scoped to one Select call.
type selection struct {
	generation     uint64
	conversationID int64
	// conversation is refreshed by the list poller; guarded by Session.mu.
	conversation models.Conversation
	state        PaneState
	log          *MessageLog
	presence     *models.Presence

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSession validates options and applies defaults.
func NewSession(options Options) (*Session, error) {
	if options.Backend == nil {
		return nil, errors.New("backend is required")
	}
	if options.SelfID <= 0 {
		return nil, errors.New("self id must be > 0")
	}
	if options.ConversationInterval <= 0 {
		options.ConversationInterval = DefaultConversationInterval
	}
	if options.LatestInterval <= 0 {
		options.LatestInterval = DefaultLatestInterval
	}
	if options.PresenceInterval <= 0 {
		options.PresenceInterval = DefaultPresenceInterval
	}
	if options.HeartbeatInterval == 0 {
		options.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if options.RequestTimeout <= 0 {
		options.RequestTimeout = DefaultRequestTimeout
	}
	if options.EventBuffer <= 0 {
		options.EventBuffer = DefaultEventBuffer
	}
	if options.Logger == nil {
		options.Logger = zap.NewNop()
	}

	return &Session{
		options: options,
		logger:  options.Logger.With(zap.Int64("user_id", options.SelfID)),
		events:  make(chan Event, options.EventBuffer),
	}, nil
}

// Start primes the conversation list from the cache and begins the
// conversation poller and heartbeat.
func (s *Session) Start() error {
	s.startOnce.Do(func() {
		s.ctx, s.cancel = context.WithCancel(context.Background())
		s.primeFromCache()

		s.wg.Add(1)
		go s.conversationLoop()

		if s.options.HeartbeatInterval > 0 {
			s.wg.Add(1)
			go s.heartbeatLoop()
		}
	})
	return nil
}

// Stop closes the open conversation, stops every poller and closes Events.
func (s *Session) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.mu.Lock()
			s.stopped = true
			s.mu.Unlock()

			s.teardown(s.detach())
			s.cancel()
			s.wg.Wait()
		}

		s.eventsMu.Lock()
		s.closed = true
		close(s.events)
		s.eventsMu.Unlock()
	})
}

// Events provides asynchronous session updates. Updates are dropped when the
// buffer is full; Conversations and Pane are always current.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Conversations returns the current list, most recent activity first.
func (s *Session) Conversations() []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Conversation(nil), s.conversations...)
}

// Filter returns conversations whose counterparty name or latest message
// contains term, case-insensitively.
func (s *Session) Filter(term string) []models.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Conversation, 0, len(s.conversations))
	for _, conversation := range s.conversations {
		if conversation.Matches(term) {
			out = append(out, conversation)
		}
	}
	return out
}

// Pane returns a snapshot of the open conversation.
func (s *Session) Pane() Pane {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sel := s.selection
	if sel == nil {
		return Pane{State: PaneClosed, Generation: s.generation}
	}

	conversation := sel.conversation
	pane := Pane{
		State:        sel.state,
		Generation:   sel.generation,
		Conversation: &conversation,
		Messages:     sel.log.Snapshot(),
	}
	if sel.presence != nil {
		presence := *sel.presence
		pane.Presence = &presence
	}
	return pane
}

// RefreshConversations fetches the conversation list now. Concurrent calls
// share one request.
func (s *Session) RefreshConversations(ctx context.Context) error {
	if s.ctx == nil {
		return errNotStarted
	}
	if s.ctx.Err() != nil {
		return errStopped
	}

	ch := s.refreshes.DoChan("conversations", func() (any, error) {
		return nil, s.fetchConversations()
	})

	select {
	case result := <-ch:
		return result.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Select opens conversationID: the pane goes to loading, history is fetched
// once, then presence and latest-message pollers run until the next Select,
// Deselect or Stop.
func (s *Session) Select(conversationID int64) error {
	if s.ctx == nil {
		return errNotStarted
	}
	if s.ctx.Err() != nil {
		return errStopped
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return errStopped
	}
	conversation, ok := s.findConversationLocked(conversationID)
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("select conversation %d: %w", conversationID, ErrUnknownConversation)
	}
	previous := s.selection
	s.generation++
	ctx, cancel := context.WithCancel(s.ctx)
	sel := &selection{
		generation:     s.generation,
		conversationID: conversationID,
		conversation:   conversation,
		state:          PaneLoading,
		log:            NewMessageLog(),
		ctx:            ctx,
		cancel:         cancel,
	}
	// Count pollers before publishing sel: teardown may run as soon as s.mu
	// is released.
	peer := conversation.CounterpartyID(s.options.SelfID)
	sel.wg.Add(1)
	if peer > 0 {
		sel.wg.Add(1)
	}
	s.selection = sel
	s.emit(Event{Type: EventPaneState, ConversationID: conversationID, State: PaneLoading})
	s.mu.Unlock()

	s.teardown(previous)

	s.logger.Debug("conversation selected",
		zap.Int64("conversation_id", conversationID),
		zap.Uint64("generation", sel.generation),
	)

	if peer > 0 {
		go s.presenceLoop(sel, peer)
	}
	go s.messageLoop(sel)

	return nil
}

// Reload re-opens the current conversation, fetching its history again.
func (s *Session) Reload() error {
	s.mu.RLock()
	sel := s.selection
	s.mu.RUnlock()
	if sel == nil {
		return ErrNoConversation
	}
	return s.Select(sel.conversationID)
}

// Deselect closes the open conversation and waits for its pollers to exit.
func (s *Session) Deselect() {
	previous := s.detach()
	if previous == nil {
		return
	}
	s.teardown(previous)
}

// Send submits text to the open conversation. On success the confirmed
// message is appended to the transcript and returned.
func (s *Session) Send(ctx context.Context, text string) (models.Message, error) {
	content := strings.TrimSpace(text)
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}

	s.mu.RLock()
	sel := s.selection
	var conversation models.Conversation
	if sel != nil {
		conversation = sel.conversation
	}
	s.mu.RUnlock()
	if sel == nil {
		return models.Message{}, ErrNoConversation
	}

	conversationID := sel.conversationID
	outgoing := models.OutgoingMessage{
		ConversationID: conversationID,
		SenderID:       s.options.SelfID,
		RecipientID:    conversation.CounterpartyID(s.options.SelfID),
		Content:        content,
	}

	reqCtx, cancel := context.WithTimeout(ctx, s.options.RequestTimeout)
	defer cancel()

	created, err := s.options.Backend.SendMessage(reqCtx, outgoing)
	if err != nil {
		s.notice(conversationID, api.UserMessage(err, "Failed to send message"))
		s.logger.Warn("send message failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return models.Message{}, fmt.Errorf("send message: %w", err)
	}
	if created.Conversation == nil {
		created.Conversation = &models.ConversationRef{ID: conversationID}
	}

	s.mu.Lock()
	s.touchConversationLocked(conversationID, created)
	current := s.currentLocked(sel.generation)
	if current != nil {
		if added := current.log.Append(created); len(added) > 0 {
			s.emit(Event{Type: EventMessagesAppended, ConversationID: conversationID, Messages: added, Follow: true})
		}
	}
	s.mu.Unlock()

	s.cacheMessages(conversationID, []models.Message{created})

	if current == nil {
		return created, ErrSuperseded
	}
	return created, nil
}

func (s *Session) conversationLoop() {
	defer s.wg.Done()

	s.refresh()

	ticker := time.NewTicker(s.options.ConversationInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.refresh()
		case <-s.ctx.Done():
			return
		}
	}
}

// refresh runs one list fetch inline, joining any in-flight request.
func (s *Session) refresh() {
	_, _, _ = s.refreshes.Do("conversations", func() (any, error) {
		return nil, s.fetchConversations()
	})
}

func (s *Session) heartbeatLoop() {
	defer s.wg.Done()

	s.touchActive()

	ticker := time.NewTicker(s.options.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.touchActive()
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *Session) touchActive() {
	ctx, cancel := context.WithTimeout(s.ctx, s.options.RequestTimeout)
	defer cancel()

	if _, err := s.options.Backend.TouchActive(ctx); err != nil && s.ctx.Err() == nil {
		s.logger.Debug("activity heartbeat failed", zap.Error(err))
	}
}

func (s *Session) fetchConversations() error {
	ctx, cancel := context.WithTimeout(s.ctx, s.options.RequestTimeout)
	defer cancel()

	conversations, err := s.options.Backend.ListConversations(ctx)
	if err != nil {
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		s.notice(0, api.UserMessage(err, "Failed to load conversations"))
		s.logger.Warn("list conversations failed", zap.Error(err))
		return fmt.Errorf("list conversations: %w", err)
	}

	next := append([]models.Conversation(nil), conversations...)
	models.SortByActivity(next)

	s.mu.Lock()
	s.conversations = next
	if sel := s.selection; sel != nil {
		if updated, ok := s.findConversationLocked(sel.conversationID); ok {
			sel.conversation = updated
		}
	}
	s.emit(Event{Type: EventConversations, Conversations: append([]models.Conversation(nil), next...)})
	s.mu.Unlock()

	if s.options.Cache != nil {
		if err := s.options.Cache.SaveConversations(next); err != nil {
			s.logger.Warn("cache conversations failed", zap.Error(err))
		}
	}
	return nil
}

// messageLoop fetches history once, then polls for new messages.
func (s *Session) messageLoop(sel *selection) {
	defer sel.wg.Done()

	s.fetchMessages(sel)

	ticker := time.NewTicker(s.options.LatestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.pollLatest(sel)
		case <-sel.ctx.Done():
			return
		}
	}
}

func (s *Session) fetchMessages(sel *selection) {
	conversationID := sel.conversationID
	ctx, cancel := context.WithTimeout(sel.ctx, s.options.RequestTimeout)
	defer cancel()

	page, err := s.options.Backend.ListMessages(ctx, conversationID, 1)

	s.mu.Lock()
	if s.currentLocked(sel.generation) == nil {
		s.mu.Unlock()
		s.logger.Debug("discarding stale history",
			zap.Int64("conversation_id", conversationID),
			zap.Uint64("generation", sel.generation),
		)
		return
	}

	if err != nil {
		sel.state = PaneLoadFailed
		s.emit(Event{Type: EventNotice, ConversationID: conversationID, Notice: api.UserMessage(err, "Failed to load chat messages")})
		s.emit(Event{Type: EventPaneState, ConversationID: conversationID, State: PaneLoadFailed})
		s.mu.Unlock()
		s.logger.Warn("list messages failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}

	// Messages sent while loading belong to this selection and survive.
	pending := sel.log.Snapshot()
	sel.log.Replace(page.Chronological())
	sel.log.Append(pending...)
	sel.state = PaneLoaded

	messages := sel.log.Snapshot()
	s.emit(Event{Type: EventPaneState, ConversationID: conversationID, State: PaneLoaded})
	s.emit(Event{Type: EventMessagesReplaced, ConversationID: conversationID, Messages: messages, Follow: true})
	s.mu.Unlock()

	s.cacheMessages(conversationID, messages)
}

func (s *Session) pollLatest(sel *selection) {
	conversationID := sel.conversationID
	ctx, cancel := context.WithTimeout(sel.ctx, s.options.RequestTimeout)
	defer cancel()

	messages, err := s.options.Backend.LatestMessages(ctx, conversationID)
	if err != nil {
		if sel.ctx.Err() != nil {
			return
		}
		s.mu.RLock()
		current := s.currentLocked(sel.generation) != nil
		s.mu.RUnlock()
		if current {
			s.notice(conversationID, api.UserMessage(err, "Failed to load new messages"))
		}
		s.logger.Debug("latest messages failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
		return
	}
	if len(messages) == 0 {
		return
	}

	s.mu.Lock()
	if s.currentLocked(sel.generation) == nil {
		s.mu.Unlock()
		return
	}
	added := sel.log.Append(messages...)
	if len(added) > 0 {
		s.emit(Event{Type: EventMessagesAppended, ConversationID: conversationID, Messages: added})
	}
	s.mu.Unlock()

	if len(added) > 0 {
		s.cacheMessages(conversationID, added)
	}
}

func (s *Session) presenceLoop(sel *selection, userID int64) {
	defer sel.wg.Done()

	s.checkPresence(sel, userID)

	ticker := time.NewTicker(s.options.PresenceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.checkPresence(sel, userID)
		case <-sel.ctx.Done():
			return
		}
	}
}

func (s *Session) checkPresence(sel *selection, userID int64) {
	ctx, cancel := context.WithTimeout(sel.ctx, s.options.RequestTimeout)
	defer cancel()

	active, err := s.options.Backend.CheckUserActive(ctx, userID)

	s.mu.Lock()
	defer s.mu.Unlock()

	if sel.ctx.Err() != nil || s.currentLocked(sel.generation) == nil {
		return
	}
	if err != nil {
		s.emit(Event{Type: EventNotice, ConversationID: sel.conversationID, Notice: api.UserMessage(err, "Failed to check user status")})
		s.logger.Debug("check user active failed",
			zap.Int64("peer_id", userID),
			zap.Error(err),
		)
		return
	}

	presence := models.Presence{UserID: userID, Active: active, CheckedAt: time.Now()}
	sel.presence = &presence
	s.emit(Event{Type: EventPresence, ConversationID: sel.conversationID, Presence: &presence})
}

// detach clears the selection and bumps the generation so that in-flight
// results are discarded. The caller must teardown the returned selection.
func (s *Session) detach() *selection {
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.selection
	if previous == nil {
		return nil
	}
	s.selection = nil
	s.generation++
	s.emit(Event{Type: EventPaneState, ConversationID: previous.conversationID, State: PaneClosed})
	return previous
}

// teardown cancels a selection's pollers and waits for them. It must not be
// called with s.mu held.
func (s *Session) teardown(sel *selection) {
	if sel == nil {
		return
	}
	sel.cancel()
	sel.wg.Wait()
}

func (s *Session) currentLocked(generation uint64) *selection {
	if s.selection == nil || s.selection.generation != generation || s.generation != generation {
		return nil
	}
	return s.selection
}

func (s *Session) findConversationLocked(conversationID int64) (models.Conversation, bool) {
	for _, conversation := range s.conversations {
		if conversation.ID == conversationID {
			return conversation, true
		}
	}
	return models.Conversation{}, false
}

// touchConversationLocked moves a conversation's preview and activity to a
// freshly sent message.
func (s *Session) touchConversationLocked(conversationID int64, message models.Message) {
	changed := false
	for i := range s.conversations {
		if s.conversations[i].ID != conversationID {
			continue
		}
		content := message.Content
		createdAt := message.CreatedAt
		s.conversations[i].LatestMessageContent = &content
		s.conversations[i].LatestConversation = &createdAt
		changed = true
		break
	}
	if !changed {
		return
	}
	models.SortByActivity(s.conversations)
	s.emit(Event{Type: EventConversations, Conversations: append([]models.Conversation(nil), s.conversations...)})
}

func (s *Session) primeFromCache() {
	if s.options.Cache == nil {
		return
	}
	conversations, err := s.options.Cache.LoadConversations()
	if err != nil {
		s.logger.Warn("load cached conversations failed", zap.Error(err))
		return
	}
	if len(conversations) == 0 {
		return
	}
	models.SortByActivity(conversations)

	s.mu.Lock()
	s.conversations = conversations
	s.emit(Event{Type: EventConversations, Conversations: append([]models.Conversation(nil), conversations...)})
	s.mu.Unlock()
}

func (s *Session) cacheMessages(conversationID int64, messages []models.Message) {
	if s.options.Cache == nil || len(messages) == 0 {
		return
	}
	if _, err := s.options.Cache.SaveMessages(conversationID, messages); err != nil {
		s.logger.Warn("cache messages failed",
			zap.Int64("conversation_id", conversationID),
			zap.Error(err),
		)
	}
}

func (s *Session) notice(conversationID int64, text string) {
	s.emit(Event{Type: EventNotice, ConversationID: conversationID, Notice: text})
}

func (s *Session) emit(event Event) {
	s.eventsMu.RLock()
	defer s.eventsMu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- event:
	default:
	}
}
