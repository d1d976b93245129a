// Package protocol defines the chat wire model shared by the REST API and
// the realtime channel.
package protocol

import "time"

// MessageType represents the kind of content a message carries.
type MessageType string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeImage  MessageType = "image"
	MessageTypeFile   MessageType = "file"
	MessageTypeAudio  MessageType = "audio"
	MessageTypeVideo  MessageType = "video"
	MessageTypeSystem MessageType = "system"
)

// String returns the string representation of MessageType
func (mt MessageType) String() string {
	switch mt {
	case MessageTypeText, MessageTypeImage, MessageTypeFile,
		MessageTypeAudio, MessageTypeVideo, MessageTypeSystem:
		return string(mt)
	default:
		return "unknown"
	}
}

// MessageStatus is the delivery state of a message.
type MessageStatus string

const (
	StatusSending   MessageStatus = "sending"
	StatusSent      MessageStatus = "sent"
	StatusDelivered MessageStatus = "delivered"
	StatusRead      MessageStatus = "read"
	StatusFailed    MessageStatus = "failed"
)

// Rank orders statuses along sending -> sent -> delivered -> read.
// Failed shares the rank of sent: both are terminal outcomes of a send.
// Unknown statuses rank below sending.
func (s MessageStatus) Rank() int {
	switch s {
	case StatusSending:
		return 1
	case StatusSent, StatusFailed:
		return 2
	case StatusDelivered:
		return 3
	case StatusRead:
		return 4
	default:
		return 0
	}
}

// Advance returns the status a message should hold after an update to next.
// Downgrades are ignored. Only a sending message can fail, and a failed
// message can still be confirmed by the server.
func (s MessageStatus) Advance(next MessageStatus) MessageStatus {
	switch {
	case next.Rank() == 0:
		return s
	case next == StatusFailed:
		if s == StatusSending {
			return next
		}
		return s
	case s == StatusFailed:
		if next.Rank() >= StatusSent.Rank() {
			return next
		}
		return s
	case next.Rank() < s.Rank():
		return s
	}
	return next
}

// Attachment is a file attached to a message.
type Attachment struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	URL      string `json:"url"`
	Type     string `json:"type"`
	Size     int64  `json:"size"`
}

// Reaction aggregates one reaction type on a message.
// Count always equals len(UserIDs).
type Reaction struct {
	Emoji       string   `json:"emoji"`
	Type        string   `json:"type"`
	Count       int      `json:"count"`
	UserIDs     []string `json:"user_ids"`
	ID          string   `json:"id,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Message is a single chat message.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	SenderID       string        `json:"sender_id"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type"`
	Status         MessageStatus `json:"status,omitempty"`
	CreatedAt      string        `json:"created_at"`
	UpdatedAt      string        `json:"updated_at,omitempty"`
	IsEdited       bool          `json:"is_edited"`
	Deleted        bool          `json:"deleted"`
	Attachments    []Attachment  `json:"attachments,omitempty"`
	Reactions      []Reaction    `json:"reactions,omitempty"`
}

// Clone returns a deep copy of m.
func (m Message) Clone() Message {
	if m.Attachments != nil {
		m.Attachments = append([]Attachment(nil), m.Attachments...)
	}
	m.Reactions = CloneReactions(m.Reactions)
	return m
}

// CloneReactions deep-copies a reaction list.
func CloneReactions(in []Reaction) []Reaction {
	if in == nil {
		return nil
	}
	out := make([]Reaction, len(in))
	for i, r := range in {
		r.UserIDs = append([]string(nil), r.UserIDs...)
		out[i] = r
	}
	return out
}

// Timestamp formats t the way the backend stamps messages.
func Timestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// User is a user profile as returned by the REST API.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	IsOnline bool   `json:"is_online,omitempty"`
	Status   string `json:"status,omitempty"`
}

// Conversation is an entry of the conversation list.
type Conversation struct {
	ID           string   `json:"id"`
	Name         string   `json:"name,omitempty"`
	Type         string   `json:"type,omitempty"`
	Participants []User   `json:"participants,omitempty"`
	LastMessage  *Message `json:"last_message,omitempty"`
	UpdatedAt    string   `json:"updated_at,omitempty"`
}
