package api

import (
	"context"
	"fmt"
	"net/url"

	"github.com/omochice/chat-client/pkg/protocol"
)

// Me returns the profile of the signed-in user.
func (c *Client) Me(ctx context.Context) (*protocol.User, error) {
	var u protocol.User
	if err := c.session.Get(ctx, "/auth-me", nil, &u); err != nil {
		return nil, fmt.Errorf("failed to fetch profile: %w", err)
	}
	return &u, nil
}

// FindUserByEmail looks a user up by exact email.
func (c *Client) FindUserByEmail(ctx context.Context, email string) (*protocol.User, error) {
	var u protocol.User
	if err := c.session.Get(ctx, "/users/search", url.Values{"email": {email}}, &u); err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return &u, nil
}
