package fakebackend

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/omochice/chat-client/pkg/protocol"
)

func (s *Server) handleSearchUser(w http.ResponseWriter, r *http.Request) {
	u, ok := s.store.userByEmail(r.URL.Query().Get("email"))
	if !ok {
		writeError(w, http.StatusNotFound, errUnknownUser)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	convs := s.store.conversationsOf(userIDFrom(r.Context()))
	if convs == nil {
		convs = []protocol.Conversation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": convs})
}

func (s *Server) handleFindConversation(w http.ResponseWriter, r *http.Request) {
	var in struct {
		UserID string `json:"user_id"`
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	id, err := s.store.directConversation(userIDFrom(r.Context()), in.UserID, s.now())
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": id})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	before := s.now()
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("invalid before timestamp"))
			return
		}
		before = t
	}

	msgs, err := s.store.messages(userIDFrom(r.Context()), q.Get("conversation_id"), limit, before)
	switch {
	case errors.Is(err, errUnknownConv):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusForbidden, err)
		return
	}
	if msgs == nil {
		msgs = []protocol.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Content        string `json:"content"`
		ConversationID string `json:"conversation_id"`
	}
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sender := userIDFrom(r.Context())
	m, tempID, err := s.store.appendMessage(sender, in.ConversationID, in.Content, s.now())
	switch {
	case errors.Is(err, errUnknownConv):
		writeError(w, http.StatusNotFound, err)
		return
	case err != nil:
		writeError(w, http.StatusForbidden, err)
		return
	}

	if tempID != "" {
		s.ack(sender, tempID, m)
	}
	for _, p := range s.store.participants(m.ConversationID) {
		if p == sender {
			continue
		}
		s.push(p, protocol.ReceiveMessage{Message: m, ConversationID: m.ConversationID, SenderID: sender})
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": m})
}

type friendRequest struct {
	UserID   string `json:"user_id"`
	FriendID string `json:"friend_id"`
}

func (s *Server) handleSendInvite(w http.ResponseWriter, r *http.Request) {
	var in friendRequest
	if err := readJSON(w, r, &in); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	me := userIDFrom(r.Context())
	from, err := s.store.invite(me, in.FriendID)
	switch {
	case errors.Is(err, errAlreadyFriend):
		writeError(w, http.StatusConflict, err)
		return
	case err != nil:
		writeError(w, http.StatusNotFound, err)
		return
	}
	s.push(in.FriendID, protocol.FriendInvite{User: from})
	writeJSON(w, http.StatusOK, map[string]string{"message": "invite sent", "status": "pending"})
}

func (s *Server) handleResolveInvite(action string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in friendRequest
		if err := readJSON(w, r, &in); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		me := userIDFrom(r.Context())
		f, err := s.store.resolve(action, me, in.FriendID)
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		s.push(me, protocol.UpdateFriend{})
		s.push(in.FriendID, protocol.UpdateFriend{})

		status := "removed"
		if f.accepted {
			status = "accepted"
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"message":       action + " done",
			"friendship_id": f.id,
			"status":        status,
		})
	}
}

func (s *Server) handleListFriends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.friendsOf(userIDFrom(r.Context())))
}

func (s *Server) handleListInvites(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.invitesOf(userIDFrom(r.Context())))
}
