// Package session is the authenticated HTTP client of the chat API. It
// attaches the bearer token to every request and transparently refreshes an
// expired token, replaying the requests that failed with 401.
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/chat-client/internal/metrics"
)

const (
	refreshPath    = "/auth/refresh"
	refreshTimeout = 15 * time.Second
	maxBodySize    = 8 << 20
)

// Options configures a Client. Only BaseURL is required.
type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Store      Store

	// OnAuthFailure is called once per failed refresh, after the
	// credentials were cleared. Front ends route the user to the login
	// screen from here.
	OnAuthFailure func(err error)

	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

// Client sends API requests on behalf of the signed-in user.
type Client struct {
	baseURL       string
	http          *http.Client
	store         Store
	gate          refreshGate
	onAuthFailure func(error)
	log           zerolog.Logger
	metrics       *metrics.Metrics
}

// New creates a Client.
func New(opts Options) *Client {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	if opts.Store == nil {
		opts.Store = NewMemoryStore(Credentials{})
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New(nil)
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		baseURL:       strings.TrimRight(opts.BaseURL, "/"),
		http:          opts.HTTPClient,
		store:         opts.Store,
		onAuthFailure: opts.OnAuthFailure,
		log:           logger.With().Str("component", "session").Logger(),
		metrics:       opts.Metrics,
	}
}

// Credentials returns the current credentials.
func (c *Client) Credentials() Credentials {
	return c.store.Load()
}

// AccessToken returns the current access token, or "" when signed out.
func (c *Client) AccessToken() string {
	return c.store.Load().AccessToken
}

// UserID returns the id of the signed-in user, read from the access token.
func (c *Client) UserID() string {
	return c.store.Load().UserID()
}

// Request describes one API call. Body, when not nil, is sent as JSON.
type Request struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode unmarshals the JSON body into v.
func (r *Response) Decode(v any) error {
	if v == nil || len(r.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Do sends req with the current access token. A 401 triggers a single
// token refresh shared by all concurrent callers, after which req is sent
// once more. A second 401 and every other non-2xx status are returned as a
// *ResponseError.
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	body, err := encodeBody(req.Body)
	if err != nil {
		return nil, err
	}

	token := c.store.Load().AccessToken
	resp, err := c.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return checkStatus(resp)
	}

	token, err = c.freshToken(ctx, token)
	if err != nil {
		return nil, err
	}
	resp, err = c.send(ctx, req, body, token)
	if err != nil {
		return nil, err
	}
	return checkStatus(resp)
}

// Get issues a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, path string, query url.Values, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// Post issues a POST with in as JSON body and decodes the response into out.
func (c *Client) Post(ctx context.Context, path string, in, out any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodPost, Path: path, Body: in})
	if err != nil {
		return err
	}
	return resp.Decode(out)
}

// freshToken returns a token to replay a request that failed with stale.
func (c *Client) freshToken(ctx context.Context, stale string) (string, error) {
	owner, wait := c.gate.acquireRefreshOrEnqueue()
	if !owner {
		c.metrics.QueuedRequests.Inc()
		select {
		case res := <-wait:
			return res.token, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	// Signed out, either before this request or by a refresh that failed
	// while it was in flight. Only the refresh that failed signals it.
	current := c.store.Load().AccessToken
	if current == "" {
		c.gate.settleRefresh("", ErrSessionExpired)
		return "", ErrSessionExpired
	}
	// Another refresh already succeeded.
	if current != stale {
		c.gate.settleRefresh(current, nil)
		return current, nil
	}

	refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
	defer cancel()

	token, err := c.refresh(refreshCtx)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSessionExpired, err)
		// Clear before releasing the gate so that no later owner sees the
		// rejected token and refreshes again.
		c.store.Clear()
		released := c.gate.settleRefresh("", err)
		c.metrics.Refreshes.WithLabelValues("failure").Inc()
		c.log.Error().Err(err).Int("queued", released).Msg("token refresh failed, session cleared")
		if c.onAuthFailure != nil {
			c.onAuthFailure(err)
		}
		return "", err
	}

	released := c.gate.settleRefresh(token, nil)
	c.metrics.Refreshes.WithLabelValues("success").Inc()
	ev := c.log.Debug().Int("queued", released)
	if exp, ok := (Credentials{AccessToken: token}).ExpiresAt(); ok {
		ev = ev.Time("expires_at", exp)
	}
	ev.Msg("access token refreshed")
	return token, nil
}

func (c *Client) refresh(ctx context.Context) (string, error) {
	creds := c.store.Load()
	if creds.RefreshToken == "" {
		return "", ErrNoRefreshToken
	}

	body, err := encodeBody(map[string]string{"refresh_token": creds.RefreshToken})
	if err != nil {
		return "", err
	}
	resp, err := c.send(ctx, Request{Method: http.MethodPost, Path: refreshPath}, body, "")
	if err != nil {
		return "", err
	}
	if _, err := checkStatus(resp); err != nil {
		return "", err
	}

	var out struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	if out.AccessToken == "" {
		return "", fmt.Errorf("refresh response has no access token")
	}
	if out.RefreshToken == "" {
		out.RefreshToken = creds.RefreshToken
	}
	c.store.Save(Credentials{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken})
	return out.AccessToken, nil
}

func (c *Client) send(ctx context.Context, req Request, body []byte, token string) (*Response, error) {
	target := c.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, rd)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: data}, nil
}

func encodeBody(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	return data, nil
}

func checkStatus(resp *Response) (*Response, error) {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, newResponseError(resp.StatusCode, resp.Body)
	}
	return resp, nil
}
