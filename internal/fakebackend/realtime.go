package fakebackend

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/omochice/chat-client/pkg/protocol"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket authenticates the token query parameter and serves one
// socket until it closes.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	userID, err := s.verifyAccess(r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to upgrade connection")
		return
	}

	p := &peer{
		conn:        conn,
		userID:      userID,
		outgoing:    make(chan []byte, 32),
		connectedAt: s.now(),
	}
	s.hub.register(p)
	s.log.Debug().Str("user_id", userID).Msg("socket connected")

	s.wg.Add(1)
	go s.servePeer(p)
}

func (s *Server) servePeer(p *peer) {
	defer s.wg.Done()

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range p.outgoing {
			_ = p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.log.Debug().Err(err).Str("user_id", p.userID).Msg("failed to write frame")
				return
			}
		}
	}()

	defer func() {
		s.hub.unregister(p)
		close(p.outgoing)
		<-writerDone
		p.conn.Close()
		s.log.Debug().Str("user_id", p.userID).Msg("socket disconnected")
	}()

	for {
		messageType, data, err := p.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn().Err(err).Str("user_id", p.userID).Msg("websocket error")
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		cmd, err := protocol.DecodeCommand(data)
		if err != nil {
			s.log.Warn().Err(err).Str("user_id", p.userID).Msg("failed to decode command")
			continue
		}
		s.dispatch(p, cmd)
	}
}

func (s *Server) dispatch(p *peer, cmd protocol.Command) {
	switch cmd.Type {
	case protocol.CommandNewMessage:
		m := cmd.Message
		if persisted, ok := s.store.announce(p.userID, m.ConversationID, m.Content, m.ID); ok {
			s.ack(p.userID, m.ID, persisted)
		}

	case protocol.CommandAddReaction:
		r := cmd.AddReaction
		reactions, participants, ok := s.store.toggleReaction(r.MessageID, r.Emoji, p.userID)
		if !ok {
			s.log.Debug().Str("message_id", r.MessageID).Msg("reaction for unknown message")
			return
		}
		for _, id := range participants {
			s.push(id, protocol.ReactionUpdate{MessageID: r.MessageID, Reactions: reactions})
		}

	case protocol.CommandIsOnline:
		q := cmd.IsOnline
		resp := protocol.PresenceResponse{UserID: q.To}
		if since, ok := s.hub.onlineSince(q.To); ok {
			resp.IsOnline = true
			resp.TimeOnline = s.now().Sub(since)
		}
		data, err := protocol.EncodeEvent(resp)
		if err != nil {
			return
		}
		select {
		case p.outgoing <- data:
		default:
		}

	default:
		s.log.Debug().Str("type", cmd.Type).Msg("ignoring command")
	}
}

// ack tells the sender which persisted id replaces its optimistic one.
func (s *Server) ack(userID, tempID string, persisted protocol.Message) {
	s.push(userID, protocol.MessageStatusUpdate{
		TempID:    tempID,
		NewID:     persisted.ID,
		Status:    protocol.StatusSent,
		Timestamp: persisted.CreatedAt,
	})
}

// push encodes ev and queues it on every socket of userID.
func (s *Server) push(userID string, ev protocol.Event) {
	data, err := protocol.EncodeEvent(ev)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to encode event")
		return
	}
	s.hub.sendTo(userID, data)
}
