package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformedFrame is returned when a frame is not JSON or lacks the
// fields its type requires.
var ErrMalformedFrame = errors.New("protocol: malformed frame")

// EventType identifies an inbound realtime event.
type EventType int

const (
	EventUnknown EventType = iota
	EventNewMessage
	EventMessageStatus
	EventReactionUpdate
	EventReceiveMessage
	EventPresenceResponse
	EventFriendInvite
	EventUpdateFriend
)

var eventNames = map[EventType]string{
	EventNewMessage:       "new_message",
	EventMessageStatus:    "message_status",
	EventReactionUpdate:   "reaction_update",
	EventReceiveMessage:   "receive_message",
	EventPresenceResponse: "is_online_response",
	EventFriendInvite:     "friend_invite",
	EventUpdateFriend:     "update_friend",
}

// String returns the wire tag of the event type.
func (et EventType) String() string {
	if name, ok := eventNames[et]; ok {
		return name
	}
	return "unknown"
}

func eventTypeOf(tag string) EventType {
	for et, name := range eventNames {
		if name == tag {
			return et
		}
	}
	return EventUnknown
}

// Event is one decoded inbound frame. The concrete type is one of
// NewMessage, MessageStatusUpdate, ReactionUpdate, ReceiveMessage,
// PresenceResponse, FriendInvite, UpdateFriend or Unknown.
type Event interface {
	Type() EventType
}

// NewMessage carries a message pushed on the realtime channel.
// Legacy is set for untyped frames that only carry id and message.
type NewMessage struct {
	Message Message
	Legacy  bool
}

// MessageStatusUpdate acknowledges an optimistic message with its
// canonical id.
type MessageStatusUpdate struct {
	TempID    string
	NewID     string
	Status    MessageStatus
	Timestamp string
}

// ReactionUpdate replaces the reactions of a message.
type ReactionUpdate struct {
	MessageID string
	Reactions []Reaction
}

// ReceiveMessage is a message persisted by another participant.
type ReceiveMessage struct {
	Message        Message
	ConversationID string
	SenderID       string
}

// PresenceResponse answers an is_online query.
type PresenceResponse struct {
	UserID     string
	IsOnline   bool
	TimeOnline time.Duration
}

// FriendInvite notifies that someone sent the user an invite.
type FriendInvite struct {
	User User
}

// UpdateFriend notifies that the friend list changed.
type UpdateFriend struct{}

// Unknown is any frame whose type is not recognised.
type Unknown struct {
	Tag string
	Raw []byte
}

func (NewMessage) Type() EventType          { return EventNewMessage }
func (MessageStatusUpdate) Type() EventType { return EventMessageStatus }
func (ReactionUpdate) Type() EventType      { return EventReactionUpdate }
func (ReceiveMessage) Type() EventType      { return EventReceiveMessage }
func (PresenceResponse) Type() EventType    { return EventPresenceResponse }
func (FriendInvite) Type() EventType        { return EventFriendInvite }
func (UpdateFriend) Type() EventType        { return EventUpdateFriend }
func (Unknown) Type() EventType             { return EventUnknown }

// frame is the union of every top-level field seen on inbound frames.
type frame struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Message      json.RawMessage `json:"message,omitempty"`
	Conversation string          `json:"conversation,omitempty"`
	SenderID     string          `json:"sender_id,omitempty"`
	UserID       string          `json:"user_id,omitempty"`
	IsOnline     bool            `json:"is_online,omitempty"`
	TimeOnline   float64         `json:"time_online,omitempty"`
	User         *User           `json:"user,omitempty"`
	ID           string          `json:"id,omitempty"`
}

type statusPayload struct {
	TempID    string        `json:"tempId"`
	NewID     string        `json:"newId"`
	Status    MessageStatus `json:"status"`
	Timestamp string        `json:"timestamp,omitempty"`
}

type reactionPayload struct {
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

func malformed(tag, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrMalformedFrame, tag, reason)
}

// DecodeEvent decodes one inbound text frame.
func DecodeEvent(data []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	switch eventTypeOf(f.Type) {
	case EventNewMessage:
		var m Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			return nil, malformed(f.Type, err.Error())
		}
		if m.ID == "" {
			return nil, malformed(f.Type, "missing message id")
		}
		return NewMessage{Message: m}, nil

	case EventMessageStatus:
		var p statusPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, malformed(f.Type, err.Error())
		}
		if p.TempID == "" || p.NewID == "" {
			return nil, malformed(f.Type, "missing tempId or newId")
		}
		return MessageStatusUpdate(p), nil

	case EventReactionUpdate:
		var p reactionPayload
		if err := json.Unmarshal(f.Payload, &p); err != nil {
			return nil, malformed(f.Type, err.Error())
		}
		if p.MessageID == "" {
			return nil, malformed(f.Type, "missing messageId")
		}
		return ReactionUpdate(p), nil

	case EventReceiveMessage:
		var m Message
		if len(f.Message) == 0 {
			return nil, malformed(f.Type, "missing message")
		}
		if err := json.Unmarshal(f.Message, &m); err != nil {
			return nil, malformed(f.Type, err.Error())
		}
		conv := f.Conversation
		if conv == "" {
			conv = m.ConversationID
		}
		if m.ConversationID == "" {
			m.ConversationID = conv
		}
		return ReceiveMessage{Message: m, ConversationID: conv, SenderID: f.SenderID}, nil

	case EventPresenceResponse:
		if f.UserID == "" {
			return nil, malformed(f.Type, "missing user_id")
		}
		return PresenceResponse{
			UserID:     f.UserID,
			IsOnline:   f.IsOnline,
			TimeOnline: time.Duration(f.TimeOnline * float64(time.Second)),
		}, nil

	case EventFriendInvite:
		ev := FriendInvite{}
		if f.User != nil {
			ev.User = *f.User
		}
		return ev, nil

	case EventUpdateFriend:
		return UpdateFriend{}, nil
	}

	if f.ID != "" && len(f.Message) > 0 {
		return decodeLegacy(data, f)
	}
	return Unknown{Tag: f.Type, Raw: append([]byte(nil), data...)}, nil
}

// decodeLegacy reads an untyped frame that is itself the message, with the
// text under "message".
func decodeLegacy(data []byte, f frame) (Event, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, malformed("legacy", err.Error())
	}
	if m.Content == "" {
		var text string
		if err := json.Unmarshal(f.Message, &text); err == nil {
			m.Content = text
		}
	}
	if m.Type == "" {
		m.Type = MessageTypeText
	}
	return NewMessage{Message: m, Legacy: true}, nil
}

// EncodeEvent renders an event in the shape the backend pushes it.
func EncodeEvent(ev Event) ([]byte, error) {
	var v any
	switch e := ev.(type) {
	case NewMessage:
		v = Envelope{Type: EventNewMessage.String(), Payload: e.Message}
	case MessageStatusUpdate:
		v = Envelope{Type: EventMessageStatus.String(), Payload: statusPayload(e)}
	case ReactionUpdate:
		v = Envelope{Type: EventReactionUpdate.String(), Payload: reactionPayload(e)}
	case ReceiveMessage:
		v = struct {
			Type         string  `json:"type"`
			Message      Message `json:"message"`
			Conversation string  `json:"conversation"`
			SenderID     string  `json:"sender_id"`
		}{EventReceiveMessage.String(), e.Message, e.ConversationID, e.SenderID}
	case PresenceResponse:
		v = struct {
			Type       string  `json:"type"`
			UserID     string  `json:"user_id"`
			IsOnline   bool    `json:"is_online"`
			TimeOnline float64 `json:"time_online"`
		}{EventPresenceResponse.String(), e.UserID, e.IsOnline, e.TimeOnline.Seconds()}
	case FriendInvite:
		v = struct {
			Type string `json:"type"`
			User User   `json:"user"`
		}{EventFriendInvite.String(), e.User}
	case UpdateFriend:
		v = Envelope{Type: EventUpdateFriend.String()}
	case Unknown:
		return append([]byte(nil), e.Raw...), nil
	default:
		return nil, fmt.Errorf("protocol: cannot encode event %T", ev)
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}
