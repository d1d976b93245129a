package fakebackend

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omochice/chat-client/internal/chat"
	"github.com/omochice/chat-client/pkg/protocol"
)

var (
	errEmailTaken    = errors.New("email already registered")
	errBadLogin      = errors.New("invalid email or password")
	errUnknownUser   = errors.New("user not found")
	errUnknownConv   = errors.New("conversation not found")
	errNotMember     = errors.New("not a participant of this conversation")
	errNoInvite      = errors.New("no pending invite")
	errAlreadyFriend = errors.New("friendship already exists")
)

type account struct {
	user     protocol.User
	password string
}

type conversation struct {
	id           string
	participants []string
	messages     []protocol.Message
	updatedAt    time.Time
}

type friendship struct {
	id        string
	requester string
	addressee string
	accepted  bool
}

// store is the in-memory state of the backend.
type store struct {
	mu sync.Mutex

	accounts map[string]*account // by user id
	byEmail  map[string]string
	convs    map[string]*conversation
	friends  map[string]*friendship // by pairKey

	// Optimistic ids announced over the socket and persisted messages created
	// over HTTP, waiting for their counterpart. Keyed by ackKey.
	pendingTemp      map[string][]string
	pendingPersisted map[string][]protocol.Message
}

func newStore() *store {
	return &store{
		accounts:         make(map[string]*account),
		byEmail:          make(map[string]string),
		convs:            make(map[string]*conversation),
		friends:          make(map[string]*friendship),
		pendingTemp:      make(map[string][]string),
		pendingPersisted: make(map[string][]protocol.Message),
	}
}

func pairKey(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + "|" + b
}

func ackKey(sender, conv, content string) string {
	return sender + "\x00" + conv + "\x00" + content
}

func (s *store) register(username, email, password string) (protocol.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byEmail[email]; ok {
		return protocol.User{}, errEmailTaken
	}
	u := protocol.User{ID: uuid.NewString(), Username: username, Email: email}
	s.accounts[u.ID] = &account{user: u, password: password}
	s.byEmail[email] = u.ID
	return u, nil
}

func (s *store) login(email, password string) (protocol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok || s.accounts[id].password != password {
		return protocol.User{}, errBadLogin
	}
	return s.accounts[id].user, nil
}

func (s *store) user(id string) (protocol.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.accounts[id]
	if !ok {
		return protocol.User{}, false
	}
	return a.user, true
}

func (s *store) userByEmail(email string) (protocol.User, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	if !ok {
		return protocol.User{}, false
	}
	return s.accounts[id].user, true
}

// directConversation returns the conversation between a and b, creating it
// on first use.
func (s *store) directConversation(a, b string, now time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[b]; !ok {
		return "", errUnknownUser
	}
	for _, c := range s.convs {
		if len(c.participants) == 2 && slices.Contains(c.participants, a) && slices.Contains(c.participants, b) {
			return c.id, nil
		}
	}
	c := &conversation{id: uuid.NewString(), participants: []string{a, b}, updatedAt: now}
	s.convs[c.id] = c
	return c.id, nil
}

func (s *store) conversationsOf(userID string) []protocol.Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.Conversation
	for _, c := range s.convs {
		if !slices.Contains(c.participants, userID) {
			continue
		}
		conv := protocol.Conversation{
			ID:        c.id,
			Type:      "direct",
			UpdatedAt: protocol.Timestamp(c.updatedAt),
		}
		for _, p := range c.participants {
			if a, ok := s.accounts[p]; ok {
				conv.Participants = append(conv.Participants, a.user)
				if p != userID {
					conv.Name = a.user.Username
				}
			}
		}
		if n := len(c.messages); n > 0 {
			last := c.messages[n-1].Clone()
			conv.LastMessage = &last
		}
		out = append(out, conv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt > out[j].UpdatedAt })
	return out
}

func (s *store) participants(convID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.convs[convID]; ok {
		return slices.Clone(c.participants)
	}
	return nil
}

// messages returns up to limit messages created before the given time,
// oldest first.
func (s *store) messages(userID, convID string, limit int, before time.Time) ([]protocol.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return nil, errUnknownConv
	}
	if !slices.Contains(c.participants, userID) {
		return nil, errNotMember
	}
	var out []protocol.Message
	for _, m := range c.messages {
		created, err := time.Parse(time.RFC3339Nano, m.CreatedAt)
		if err == nil && !created.Before(before) {
			continue
		}
		out = append(out, m.Clone())
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// appendMessage persists a message. The returned temp id is the optimistic
// id announced over the socket for the same message, if it already arrived.
func (s *store) appendMessage(senderID, convID, content string, now time.Time) (protocol.Message, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[convID]
	if !ok {
		return protocol.Message{}, "", errUnknownConv
	}
	if !slices.Contains(c.participants, senderID) {
		return protocol.Message{}, "", errNotMember
	}
	ts := protocol.Timestamp(now)
	m := protocol.Message{
		ID:             uuid.NewString(),
		ConversationID: convID,
		SenderID:       senderID,
		Content:        content,
		Type:           protocol.MessageTypeText,
		Status:         protocol.StatusSent,
		CreatedAt:      ts,
		UpdatedAt:      ts,
	}
	c.messages = append(c.messages, m)
	c.updatedAt = now

	key := ackKey(senderID, convID, content)
	if temp, ok := pop(s.pendingTemp, key); ok {
		return m.Clone(), temp, nil
	}
	s.pendingPersisted[key] = append(s.pendingPersisted[key], m.Clone())
	return m.Clone(), "", nil
}

// announce records an optimistic id sent over the socket. It returns the
// persisted message when the HTTP call for the same message came first.
func (s *store) announce(senderID, convID, content, tempID string) (protocol.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := ackKey(senderID, convID, content)
	if m, ok := pop(s.pendingPersisted, key); ok {
		return m, true
	}
	s.pendingTemp[key] = append(s.pendingTemp[key], tempID)
	return protocol.Message{}, false
}

func pop[T any](m map[string][]T, key string) (T, bool) {
	q := m[key]
	if len(q) == 0 {
		var zero T
		return zero, false
	}
	v := q[0]
	if len(q) == 1 {
		delete(m, key)
	} else {
		m[key] = q[1:]
	}
	return v, true
}

// toggleReaction applies a reaction toggle and returns the new aggregate
// and the conversation participants.
func (s *store) toggleReaction(messageID string, emoji protocol.ReactionEmoji, userID string) ([]protocol.Reaction, []string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.convs {
		for i := range c.messages {
			if c.messages[i].ID != messageID {
				continue
			}
			if !slices.Contains(c.participants, userID) {
				return nil, nil, false
			}
			c.messages[i].Reactions = chat.ToggleReaction(c.messages[i].Reactions, emoji, userID)
			return protocol.CloneReactions(c.messages[i].Reactions), slices.Clone(c.participants), true
		}
	}
	return nil, nil, false
}

func (s *store) invite(from, to string) (protocol.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[to]; !ok || from == to {
		return protocol.User{}, errUnknownUser
	}
	key := pairKey(from, to)
	if _, ok := s.friends[key]; ok {
		return protocol.User{}, errAlreadyFriend
	}
	s.friends[key] = &friendship{id: uuid.NewString(), requester: from, addressee: to}
	return s.accounts[from].user, nil
}

// resolve applies accept, reject or cancel to the friendship between
// userID and friendID.
func (s *store) resolve(action, userID, friendID string) (*friendship, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := pairKey(userID, friendID)
	f, ok := s.friends[key]
	if !ok || f.accepted {
		return nil, errNoInvite
	}
	switch action {
	case "accept-invite":
		if f.addressee != userID {
			return nil, errNoInvite
		}
		f.accepted = true
	case "reject-invite":
		if f.addressee != userID {
			return nil, errNoInvite
		}
		delete(s.friends, key)
	case "cancel-invite":
		if f.requester != userID {
			return nil, errNoInvite
		}
		delete(s.friends, key)
	}
	out := *f
	return &out, nil
}

func (s *store) friendsOf(userID string) []protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.User
	for _, f := range s.friends {
		if !f.accepted {
			continue
		}
		switch userID {
		case f.requester:
			out = append(out, s.accounts[f.addressee].user)
		case f.addressee:
			out = append(out, s.accounts[f.requester].user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}

func (s *store) invitesOf(userID string) []protocol.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []protocol.User
	for _, f := range s.friends {
		if !f.accepted && f.addressee == userID {
			out = append(out, s.accounts[f.requester].user)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out
}
