// Package chat keeps the ordered message list of the open conversation in
// sync with optimistic local sends and realtime server events.
package chat

import (
	"github.com/omochice/chat-client/pkg/protocol"
)

// Sequence is the ordered, de-duplicated message list of one conversation.
type Sequence struct {
	ConversationID string
	Messages       []protocol.Message
}

// Index returns the position of the message with id, or -1.
func (s Sequence) Index(id string) int {
	for i := range s.Messages {
		if s.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy of s.
func (s Sequence) Clone() Sequence {
	out := Sequence{ConversationID: s.ConversationID}
	if s.Messages != nil {
		out.Messages = make([]protocol.Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = m.Clone()
		}
	}
	return out
}

// Reconcile applies one realtime event to s and returns the resulting
// sequence. s is never modified. Events that do not concern the message
// list return s unchanged.
func Reconcile(s Sequence, ev protocol.Event) Sequence {
	switch e := ev.(type) {
	case protocol.NewMessage:
		return appendUnique(s, e.Message)

	case protocol.ReceiveMessage:
		if e.ConversationID != s.ConversationID {
			return s
		}
		return appendUnique(s, e.Message)

	case protocol.MessageStatusUpdate:
		return applyStatus(s, e)

	case protocol.ReactionUpdate:
		i := s.Index(e.MessageID)
		if i < 0 {
			return s
		}
		out := s.Clone()
		out.Messages[i].Reactions = protocol.CloneReactions(e.Reactions)
		return out
	}
	return s
}

func appendUnique(s Sequence, m protocol.Message) Sequence {
	if m.ID == "" || s.Index(m.ID) >= 0 {
		return s
	}
	out := s.Clone()
	out.Messages = append(out.Messages, m.Clone())
	return out
}

// applyStatus swaps an optimistic id for the canonical one in place. When
// the canonical message is already present (its push won the race against
// the ack) the optimistic entry is dropped instead, keeping ids unique.
func applyStatus(s Sequence, e protocol.MessageStatusUpdate) Sequence {
	temp := s.Index(e.TempID)
	canonical := s.Index(e.NewID)

	switch {
	case temp < 0 && canonical < 0:
		return s

	case temp < 0 || temp == canonical:
		out := s.Clone()
		m := &out.Messages[canonical]
		m.Status = m.Status.Advance(e.Status)
		return out

	case canonical >= 0:
		out := s.Clone()
		m := &out.Messages[canonical]
		m.Status = m.Status.Advance(s.Messages[temp].Status).Advance(e.Status)
		out.Messages = append(out.Messages[:temp], out.Messages[temp+1:]...)
		return out
	}

	out := s.Clone()
	m := &out.Messages[temp]
	m.ID = e.NewID
	m.Status = m.Status.Advance(e.Status)
	if e.Timestamp != "" {
		m.CreatedAt = e.Timestamp
	}
	return out
}
