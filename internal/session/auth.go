package session

import (
	"context"
	"net/http"
)

// AuthResponse is the body returned by /login and /register.
type AuthResponse struct {
	AccessToken  string `json:"access_token,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Message      string `json:"message,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Login signs in and stores the returned tokens.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "/login", map[string]string{
		"email":    email,
		"password": password,
	})
}

// Register creates an account. When the server signs the user in right
// away, the returned tokens are stored.
func (c *Client) Register(ctx context.Context, username, email, password string) (*AuthResponse, error) {
	return c.authenticate(ctx, "/register", map[string]string{
		"username": username,
		"email":    email,
		"password": password,
	})
}

// Logout drops the stored credentials.
func (c *Client) Logout() {
	c.store.Clear()
	c.log.Info().Msg("logged out")
}

// authenticate posts credentials without a bearer token and without the
// refresh-on-401 path: a 401 here means wrong credentials.
func (c *Client) authenticate(ctx context.Context, path string, in any) (*AuthResponse, error) {
	body, err := encodeBody(in)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: path}, body, "")
	if err != nil {
		return nil, err
	}
	if _, err := checkStatus(resp); err != nil {
		return nil, err
	}

	var out AuthResponse
	if err := resp.Decode(&out); err != nil {
		return nil, err
	}
	if out.Error != "" {
		return nil, &ResponseError{StatusCode: resp.StatusCode, Message: out.Error, Body: resp.Body}
	}
	if out.AccessToken != "" {
		creds := Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
		c.store.Save(creds)
		ev := c.log.Info().Str("user_id", creds.UserID())
		if exp, ok := creds.ExpiresAt(); ok {
			ev = ev.Time("expires_at", exp)
		}
		ev.Msg("signed in")
	}
	return &out, nil
}
