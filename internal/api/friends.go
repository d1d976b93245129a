package api

import (
	"context"
	"fmt"

	"github.com/omochice/chat-client/pkg/protocol"
)

// Friend statuses attached to listed users.
const (
	FriendStatusFriend  = "friend"
	FriendStatusPending = "pending"
)

// InviteAction is one of the friendship state changes.
type InviteAction string

const (
	SendInvite   InviteAction = "send-invite"
	AcceptInvite InviteAction = "accept-invite"
	RejectInvite InviteAction = "reject-invite"
	CancelInvite InviteAction = "cancel-invite"
)

// InviteResult is the response to an invite action.
type InviteResult struct {
	Message      string `json:"message"`
	FriendshipID string `json:"friendship_id,omitempty"`
	Status       string `json:"status,omitempty"`
}

// Invite applies action to the friendship with friendID.
func (c *Client) Invite(ctx context.Context, action InviteAction, friendID string) (*InviteResult, error) {
	in := map[string]string{
		"user_id":   c.session.UserID(),
		"friend_id": friendID,
	}
	var out InviteResult
	if err := c.session.Post(ctx, "/friendships/"+string(action), in, &out); err != nil {
		return nil, fmt.Errorf("failed to %s: %w", action, err)
	}
	return &out, nil
}

// Friends lists accepted friends.
func (c *Client) Friends(ctx context.Context) ([]protocol.User, error) {
	return c.listUsers(ctx, "/friendships/list-friends", FriendStatusFriend)
}

// Invites lists users with a pending invite.
func (c *Client) Invites(ctx context.Context) ([]protocol.User, error) {
	return c.listUsers(ctx, "/friendships/list-invite-friends", FriendStatusPending)
}

func (c *Client) listUsers(ctx context.Context, path, status string) ([]protocol.User, error) {
	var users []protocol.User
	if err := c.session.Get(ctx, path, nil, &users); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", status, err)
	}
	for i := range users {
		users[i].Status = status
	}
	return users, nil
}
