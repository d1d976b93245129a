package chat

import (
	"github.com/omochice/chat-client/pkg/protocol"
)

// AdminConversationID identifies the built-in system conversation. Its
// messages ship with the client and sending to it is disabled.
const AdminConversationID = "admin"

const adminSenderID = "system"

var adminMessages = []protocol.Message{
	{
		ID:             "admin_welcome",
		ConversationID: AdminConversationID,
		SenderID:       adminSenderID,
		Content:        "Welcome! Add a friend by email to start a conversation.",
		Type:           protocol.MessageTypeSystem,
		Status:         protocol.StatusRead,
		CreatedAt:      "2024-01-01T00:00:00Z",
	},
	{
		ID:             "admin_reactions",
		ConversationID: AdminConversationID,
		SenderID:       adminSenderID,
		Content:        "Messages can be reacted to. Reacting twice with the same emoji removes it.",
		Type:           protocol.MessageTypeSystem,
		Status:         protocol.StatusRead,
		CreatedAt:      "2024-01-01T00:00:01Z",
	},
	{
		ID:             "admin_readonly",
		ConversationID: AdminConversationID,
		SenderID:       adminSenderID,
		Content:        "This conversation is read-only.",
		Type:           protocol.MessageTypeSystem,
		Status:         protocol.StatusRead,
		CreatedAt:      "2024-01-01T00:00:02Z",
	},
}

// AdminMessages returns a copy of the messages of the admin conversation.
func AdminMessages() []protocol.Message {
	out := make([]protocol.Message, len(adminMessages))
	for i, m := range adminMessages {
		out[i] = m.Clone()
	}
	return out
}

// IsAdmin reports whether id is the admin conversation.
func IsAdmin(id string) bool {
	return id == AdminConversationID
}
