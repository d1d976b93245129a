package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/chat-client/internal/metrics"
	"github.com/omochice/chat-client/pkg/protocol"
)

var (
	ErrNoConversation       = errors.New("chat: no active conversation")
	ErrEmptyMessage         = errors.New("chat: message is empty")
	ErrReadOnlyConversation = errors.New("chat: conversation is read-only")
	ErrMessageNotFound      = errors.New("chat: message not found")
)

// Backend persists and fetches messages. *api.Client implements it.
type Backend interface {
	Messages(ctx context.Context, conversationID string, limit int, before time.Time) ([]protocol.Message, error)
	SendMessage(ctx context.Context, conversationID, content string) (*protocol.Message, error)
}

// Realtime forwards frames to the server. *ws.Client implements it.
type Realtime interface {
	Send(payload []byte) error
}

// Options configures a Store. Backend and Realtime are required.
type Options struct {
	Backend  Backend
	Realtime Realtime

	// UserID returns the id of the signed-in user.
	UserID func() string

	PageSize int
	Now      func() time.Time
	NewID    func() string

	// OnChange is called after the message list or a preview of
	// conversationID changed. It runs without the store lock held.
	OnChange func(conversationID string)

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Store owns the message list of the active conversation and the last
// message preview of every conversation.
type Store struct {
	backend  Backend
	realtime Realtime
	userID   func() string
	pageSize int
	now      func() time.Time
	newID    func() string
	onChange func(string)
	log      zerolog.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	seq      Sequence
	gen      uint64
	previews map[string]protocol.Message
}

// NewStore creates a Store with no active conversation.
func NewStore(opts Options) *Store {
	if opts.UserID == nil {
		opts.UserID = func() string { return "" }
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = func() string { return uuid.NewString() }
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Store{
		backend:  opts.Backend,
		realtime: opts.Realtime,
		userID:   opts.UserID,
		pageSize: opts.PageSize,
		now:      opts.Now,
		newID:    opts.NewID,
		onChange: opts.OnChange,
		log:      logger.With().Str("component", "chat").Logger(),
		metrics:  opts.Metrics,
		previews: make(map[string]protocol.Message),
	}
}

// Active returns the id of the active conversation.
func (s *Store) Active() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.ConversationID
}

// Messages returns a copy of the active conversation's messages.
func (s *Store) Messages() []protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq.Clone().Messages
}

// Preview returns the last known message of a conversation.
func (s *Store) Preview(conversationID string) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.previews[conversationID]
	return m.Clone(), ok
}

// SetPreviews seeds the previews from a conversation list.
func (s *Store) SetPreviews(convs []protocol.Conversation) {
	s.mu.Lock()
	for _, c := range convs {
		if c.LastMessage != nil {
			s.previews[c.ID] = c.LastMessage.Clone()
		}
	}
	s.mu.Unlock()
}

// LoadInitial makes conversationID active and replaces the message list
// with the latest page from the backend. When another LoadInitial starts
// before the fetch returns, the result is discarded without error.
func (s *Store) LoadInitial(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.seq = Sequence{ConversationID: conversationID}
	if IsAdmin(conversationID) {
		s.seq.Messages = AdminMessages()
		s.mu.Unlock()
		s.changed(conversationID)
		return nil
	}
	s.mu.Unlock()
	s.changed(conversationID)

	fetched, err := s.backend.Messages(ctx, conversationID, s.pageSize, s.now())
	if err != nil {
		if s.stale(gen, conversationID) {
			s.metrics.StaleLoads.Inc()
			return nil
		}
		return fmt.Errorf("failed to load conversation %s: %w", conversationID, err)
	}

	s.mu.Lock()
	if s.gen != gen || s.seq.ConversationID != conversationID {
		s.mu.Unlock()
		s.metrics.StaleLoads.Inc()
		s.log.Debug().Str("conversation_id", conversationID).Msg("discarded stale conversation load")
		return nil
	}
	next := Sequence{ConversationID: conversationID}
	for _, m := range fetched {
		next = appendUnique(next, m)
	}
	// Keep what arrived over the socket while the fetch was in flight.
	for _, m := range s.seq.Messages {
		next = appendUnique(next, m)
	}
	s.seq = next
	if n := len(next.Messages); n > 0 {
		s.previews[conversationID] = next.Messages[n-1].Clone()
	}
	s.mu.Unlock()

	s.log.Debug().Str("conversation_id", conversationID).Int("messages", len(fetched)).Msg("conversation loaded")
	s.changed(conversationID)
	return nil
}

func (s *Store) stale(gen uint64, conversationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen != gen || s.seq.ConversationID != conversationID
}

// SendMessage appends an optimistic message to the active conversation,
// forwards it over the socket and persists it. The returned message is the
// optimistic one. A failed persist marks it failed and is returned as error.
func (s *Store) SendMessage(ctx context.Context, text string, att *protocol.Attachment) (protocol.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" && att == nil {
		return protocol.Message{}, ErrEmptyMessage
	}

	now := protocol.Timestamp(s.now())
	msg := protocol.Message{
		ID:        "msg_" + s.newID(),
		SenderID:  s.userID(),
		Content:   text,
		Type:      protocol.MessageTypeText,
		Status:    protocol.StatusSending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if att != nil {
		a := *att
		if a.ID == "" {
			a.ID = "att_" + s.newID()
		}
		msg.Type = protocol.MessageTypeFile
		msg.Attachments = []protocol.Attachment{a}
	}

	s.mu.Lock()
	conv := s.seq.ConversationID
	switch {
	case conv == "":
		s.mu.Unlock()
		return protocol.Message{}, ErrNoConversation
	case IsAdmin(conv):
		s.mu.Unlock()
		return protocol.Message{}, ErrReadOnlyConversation
	}
	msg.ConversationID = conv
	s.seq = appendUnique(s.seq, msg)
	s.previews[conv] = msg.Clone()
	s.mu.Unlock()
	s.changed(conv)

	if frame, err := protocol.EncodeNewMessage(msg); err != nil {
		s.log.Error().Err(err).Msg("failed to encode message")
	} else if err := s.realtime.Send(frame); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID).Msg("realtime forward skipped")
	}

	persisted, err := s.backend.SendMessage(ctx, conv, text)
	if err != nil {
		s.apply(conv, protocol.MessageStatusUpdate{TempID: msg.ID, NewID: msg.ID, Status: protocol.StatusFailed})
		s.log.Error().Err(err).Str("message_id", msg.ID).Msg("failed to persist message")
		return msg, fmt.Errorf("failed to send message: %w", err)
	}
	if persisted != nil && persisted.ID != "" {
		s.apply(conv, protocol.MessageStatusUpdate{
			TempID:    msg.ID,
			NewID:     persisted.ID,
			Status:    protocol.StatusSent,
			Timestamp: persisted.CreatedAt,
		})
	}
	return msg, nil
}

// apply reconciles ev into the sequence when conv is still active.
func (s *Store) apply(conv string, ev protocol.Event) {
	s.mu.Lock()
	if s.seq.ConversationID != conv {
		s.mu.Unlock()
		return
	}
	s.seq = Reconcile(s.seq, ev)
	s.mu.Unlock()
	s.changed(conv)
}

// AddReaction toggles the current user's emoji reaction on a message of the
// active conversation and forwards it to the server.
func (s *Store) AddReaction(messageID string, emoji protocol.ReactionEmoji) error {
	user := s.userID()

	s.mu.Lock()
	i := s.seq.Index(messageID)
	if i < 0 {
		s.mu.Unlock()
		return ErrMessageNotFound
	}
	conv := s.seq.ConversationID
	next := s.seq.Clone()
	next.Messages[i].Reactions = ToggleReaction(next.Messages[i].Reactions, emoji, user)
	s.seq = next
	s.mu.Unlock()
	s.changed(conv)

	frame, err := protocol.EncodeAddReaction(protocol.AddReaction{MessageID: messageID, Emoji: emoji, UserID: user})
	if err != nil {
		return err
	}
	if err := s.realtime.Send(frame); err != nil {
		s.log.Warn().Err(err).Str("message_id", messageID).Msg("reaction not forwarded")
	}
	return nil
}

// Handle applies a decoded server event. A receive_message updates the
// preview of its conversation even when that conversation is not open.
func (s *Store) Handle(ev protocol.Event) {
	s.mu.Lock()
	before := s.seq
	var previewed string
	if rm, ok := ev.(protocol.ReceiveMessage); ok && rm.ConversationID != "" {
		s.previews[rm.ConversationID] = rm.Message.Clone()
		previewed = rm.ConversationID
	}
	s.seq = Reconcile(s.seq, ev)
	changed := !sameBacking(before, s.seq)
	conv := s.seq.ConversationID
	s.mu.Unlock()

	if previewed != "" && previewed != conv {
		s.changed(previewed)
	}
	if changed || (conv != "" && previewed == conv) {
		s.changed(conv)
	}
}

// HandleFrame decodes a raw frame and applies it. Malformed frames are
// logged and skipped. It is meant to be registered as a realtime listener.
func (s *Store) HandleFrame(frame []byte) {
	ev, err := protocol.DecodeEvent(frame)
	if err != nil {
		s.log.Warn().Err(err).Msg("skipping malformed frame")
		return
	}
	s.metrics.Events.WithLabelValues(ev.Type().String()).Inc()
	if u, ok := ev.(protocol.Unknown); ok {
		s.log.Debug().Str("type", u.Tag).Msg("ignoring unknown event type")
		return
	}
	s.Handle(ev)
}

func (s *Store) changed(conversationID string) {
	if s.onChange != nil {
		s.onChange(conversationID)
	}
}

// sameBacking reports whether Reconcile returned its input unchanged.
func sameBacking(a, b Sequence) bool {
	if len(a.Messages) == 0 || len(b.Messages) == 0 {
		return len(a.Messages) == len(b.Messages)
	}
	return &a.Messages[0] == &b.Messages[0]
}
