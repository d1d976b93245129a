// Package client assembles the session, realtime, chat, presence and
// friends components into the single object a front end talks to.
package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/chat-client/internal/api"
	"github.com/omochice/chat-client/internal/chat"
	"github.com/omochice/chat-client/internal/client/ws"
	"github.com/omochice/chat-client/internal/config"
	"github.com/omochice/chat-client/internal/friends"
	"github.com/omochice/chat-client/internal/metrics"
	"github.com/omochice/chat-client/internal/presence"
	"github.com/omochice/chat-client/internal/session"
	"github.com/omochice/chat-client/pkg/protocol"
)

// ErrSignedOut is returned by operations that need a signed-in user.
var ErrSignedOut = errors.New("client: not signed in")

// Options carries the collaborators a front end may replace.
type Options struct {
	Store      session.Store
	HTTPClient *http.Client
	Dialer     ws.Dialer
	Registerer prometheus.Registerer

	// OnLogout is called once when the session ends because the token
	// refresh failed.
	OnLogout func(err error)
	// OnMessages is called when the message list or a preview changed.
	OnMessages func(conversationID string)
	// OnPresence is called when a watched user goes online or offline.
	OnPresence func(userID string, online bool)
	// OnFriends is called when the friend or invite list changed.
	OnFriends func()
	// OnConnection is called when the realtime connection opens or closes.
	OnConnection func(state ws.State)

	Logger *zerolog.Logger
}

// Client is a signed-in chat session with its realtime connection.
type Client struct {
	Session  *session.Client
	API      *api.Client
	Realtime *ws.Client
	Chat     *chat.Store
	Presence *presence.Poller
	Friends  *friends.Manager
	Metrics  *metrics.Metrics

	log          zerolog.Logger
	onLogout     func(error)
	onFriends    func()
	onConnection func(ws.State)

	mu         sync.Mutex
	started    bool
	closed     bool
	logoutOnce sync.Once

	// Presence targets: users met in conversations, and current friends.
	peers   map[string]bool
	friends map[string]bool
}

// New wires a Client from cfg. Nothing is dialed until Start.
func New(cfg *config.Config, opts Options) *Client {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: cfg.API.Timeout}
	}

	c := &Client{
		Metrics:      metrics.New(opts.Registerer),
		log:          logger.With().Str("component", "client").Logger(),
		onLogout:     opts.OnLogout,
		onFriends:    opts.OnFriends,
		onConnection: opts.OnConnection,
		peers:        make(map[string]bool),
		friends:      make(map[string]bool),
	}

	c.Session = session.New(session.Options{
		BaseURL:       cfg.API.BaseURL,
		HTTPClient:    opts.HTTPClient,
		Store:         opts.Store,
		OnAuthFailure: c.forceLogout,
		Logger:        &logger,
		Metrics:       c.Metrics,
	})
	c.API = api.New(c.Session)

	c.Realtime = ws.New(ws.Config{
		URL:         cfg.Realtime.URL,
		RetryBudget: cfg.Realtime.ReconnectAttempts,
		RetryDelay:  cfg.Realtime.ReconnectDelay,
		Token:       c.Session.AccessToken,
		LocalEcho:   cfg.Realtime.LocalEcho,
		OnOpen:      c.realtimeOpened,
		OnClose:     c.realtimeClosed,
		Dialer:      opts.Dialer,
		Logger:      &logger,
		Metrics:     c.Metrics,
	})

	c.Chat = chat.NewStore(chat.Options{
		Backend:  c.API,
		Realtime: c.Realtime,
		UserID:   c.Session.UserID,
		PageSize: api.DefaultPageSize,
		OnChange: opts.OnMessages,
		Logger:   &logger,
		Metrics:  c.Metrics,
	})

	var onPresence func(string, presence.Status)
	if opts.OnPresence != nil {
		onPresence = func(id string, s presence.Status) { opts.OnPresence(id, s.Online) }
	}
	c.Presence = presence.New(presence.Options{
		Realtime: c.Realtime,
		UserID:   c.Session.UserID,
		Interval: cfg.Presence.Interval,
		OnChange: onPresence,
		Logger:   &logger,
	})

	c.Friends = friends.New(friends.Options{
		Backend:  c.API,
		OnChange: c.friendsChanged,
		Logger:   &logger,
	})

	c.Realtime.Subscribe(c.Chat.HandleFrame)
	c.Realtime.Subscribe(c.Presence.HandleFrame)
	c.Realtime.Subscribe(c.Friends.HandleFrame)
	return c
}

// Login signs in and starts the realtime session.
func (c *Client) Login(ctx context.Context, email, password string) error {
	if _, err := c.Session.Login(ctx, email, password); err != nil {
		return err
	}
	return c.Start(ctx)
}

// Start connects the realtime channel, loads the conversation list and the
// friend lists, and starts presence polling for every friend.
func (c *Client) Start(ctx context.Context) error {
	if c.Session.Credentials().Empty() {
		return ErrSignedOut
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ws.ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if err := c.Realtime.Connect(); err != nil {
		return fmt.Errorf("failed to connect realtime: %w", err)
	}

	var convs []protocol.Conversation
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		convs, err = c.API.Conversations(gctx)
		return err
	})
	g.Go(func() error {
		return c.Friends.Refresh(gctx)
	})
	if err := g.Wait(); err != nil {
		return err
	}

	c.Chat.SetPreviews(convs)
	me := c.Session.UserID()
	for _, conv := range convs {
		for _, p := range conv.Participants {
			if p.ID != me {
				c.watchPeer(p.ID)
			}
		}
	}
	c.Presence.Start(context.Background())

	c.log.Info().
		Str("user_id", me).
		Int("conversations", len(convs)).
		Int("friends", len(c.Friends.Friends())).
		Msg("session started")
	return nil
}

// Open makes conversationID the active conversation and loads its messages.
func (c *Client) Open(ctx context.Context, conversationID string) error {
	return c.Chat.LoadInitial(ctx, conversationID)
}

// OpenWith opens the direct conversation with userID.
func (c *Client) OpenWith(ctx context.Context, userID string) (string, error) {
	id, err := c.API.FindConversation(ctx, userID)
	if err != nil {
		return "", err
	}
	c.watchPeer(userID)
	return id, c.Open(ctx, id)
}

// Send sends a text message to the active conversation.
func (c *Client) Send(ctx context.Context, text string) (protocol.Message, error) {
	return c.Chat.SendMessage(ctx, text, nil)
}

// React toggles a reaction of the signed-in user on a message of the
// active conversation.
func (c *Client) React(messageID string, emoji protocol.ReactionEmoji) error {
	return c.Chat.AddReaction(messageID, emoji)
}

// Logout ends the session and closes the realtime connection.
func (c *Client) Logout() {
	c.Session.Logout()
	c.Close()
}

// Close stops polling and closes the realtime connection. A closed Client
// cannot be started again.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.Presence.Stop()
	if err := c.Realtime.Close(); err != nil {
		c.log.Debug().Err(err).Msg("realtime close")
	}
	c.Friends.Wait()
}

func (c *Client) watchPeer(userID string) {
	c.mu.Lock()
	c.peers[userID] = true
	c.mu.Unlock()
	c.Presence.Watch(userID)
}

// friendsChanged keeps presence polling in step with the friend list:
// new friends are watched, and former friends are dropped unless they
// share a conversation with the user.
func (c *Client) friendsChanged() {
	list := c.Friends.Friends()

	c.mu.Lock()
	added, removed, current := diffFriends(c.friends, list, c.peers)
	c.friends = current
	c.mu.Unlock()

	c.Presence.Watch(added...)
	for _, id := range removed {
		c.Presence.Unwatch(id)
	}
	if c.onFriends != nil {
		c.onFriends()
	}
}

// diffFriends compares the watched friend set with a fresh friend list.
// Removed ids that are in keep are not reported.
func diffFriends(watched map[string]bool, list []protocol.User, keep map[string]bool) (added, removed []string, current map[string]bool) {
	current = make(map[string]bool, len(list))
	for _, f := range list {
		current[f.ID] = true
		if !watched[f.ID] {
			added = append(added, f.ID)
		}
	}
	for id := range watched {
		if !current[id] && !keep[id] {
			removed = append(removed, id)
		}
	}
	slices.Sort(added)
	slices.Sort(removed)
	return added, removed, current
}

// forceLogout runs when a token refresh failed and the credentials were
// cleared. OnLogout is called at most once per Client.
func (c *Client) forceLogout(err error) {
	c.logoutOnce.Do(func() {
		c.log.Warn().Err(err).Msg("session expired, logging out")
		go c.Close()
		if c.onLogout != nil {
			c.onLogout(err)
		}
	})
}

func (c *Client) realtimeOpened() {
	c.Presence.Poll()
	if c.onConnection != nil {
		c.onConnection(ws.StateOpen)
	}
}

func (c *Client) realtimeClosed(err error) {
	c.log.Debug().Err(err).Int("attempts", c.Realtime.Attempts()).Msg("realtime closed")
	if c.onConnection != nil {
		c.onConnection(ws.StateClosed)
	}
}
