package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/omochice/chat-client/pkg/protocol"
)

// Conversations lists the conversations of the signed-in user. The server
// answers either with a bare array or with {"conversations": [...]}.
func (c *Client) Conversations(ctx context.Context) ([]protocol.Conversation, error) {
	var raw json.RawMessage
	if err := c.session.Get(ctx, "/conversations/", nil, &raw); err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []protocol.Conversation
	if raw[0] == '[' {
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, fmt.Errorf("failed to decode conversations: %w", err)
		}
		return list, nil
	}

	var wrapped struct {
		Conversations []protocol.Conversation `json:"conversations"`
	}
	if err := json.Unmarshal(raw, &wrapped); err != nil {
		return nil, fmt.Errorf("failed to decode conversations: %w", err)
	}
	return wrapped.Conversations, nil
}

// FindConversation returns the id of the direct conversation with userID.
func (c *Client) FindConversation(ctx context.Context, userID string) (string, error) {
	var out struct {
		ConversationID string `json:"conversation_id"`
	}
	in := map[string]string{"user_id": userID}
	if err := c.session.Post(ctx, "/conversations/find-conversation", in, &out); err != nil {
		return "", fmt.Errorf("failed to find conversation: %w", err)
	}
	return out.ConversationID, nil
}
