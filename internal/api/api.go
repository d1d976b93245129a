// Package api wraps the chat REST endpoints.
package api

import (
	"context"
	"net/url"
)

// Session is the authenticated transport the endpoints are called through.
type Session interface {
	Get(ctx context.Context, path string, query url.Values, out any) error
	Post(ctx context.Context, path string, in, out any) error
	UserID() string
}

// Client exposes the chat REST API.
type Client struct {
	session Session
}

// New creates a Client on top of s.
func New(s Session) *Client {
	return &Client{session: s}
}
