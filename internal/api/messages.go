package api

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/omochice/chat-client/pkg/protocol"
)

// DefaultPageSize is the number of messages fetched when a conversation opens.
const DefaultPageSize = 50

// Messages fetches up to limit messages of a conversation created before
// the given time.
func (c *Client) Messages(ctx context.Context, conversationID string, limit int, before time.Time) ([]protocol.Message, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	q := url.Values{
		"conversation_id": {conversationID},
		"limit":           {strconv.Itoa(limit)},
		"before":          {before.UTC().Format(time.RFC3339Nano)},
	}

	var out struct {
		Messages []protocol.Message `json:"messages"`
	}
	if err := c.session.Get(ctx, "/messages/", q, &out); err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}
	return out.Messages, nil
}

// SendMessage persists a text message.
func (c *Client) SendMessage(ctx context.Context, conversationID, content string) (*protocol.Message, error) {
	in := map[string]string{
		"content":         content,
		"conversation_id": conversationID,
	}
	var out struct {
		Message *protocol.Message `json:"message"`
	}
	if err := c.session.Post(ctx, "/messages/send", in, &out); err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}
	return out.Message, nil
}
