// Package ws provides the reconnecting WebSocket client of the realtime
// channel.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/omochice/chat-client/internal/metrics"
)

var (
	ErrNotConnected         = errors.New("websocket: not connected")
	ErrClosed               = errors.New("websocket: client closed")
	ErrRetryBudgetExhausted = errors.New("websocket: retry budget exhausted")
)

const (
	DefaultRetryBudget = 5
	DefaultRetryDelay  = 5 * time.Second

	dialTimeout  = 10 * time.Second
	writeTimeout = 10 * time.Second
)

// Config configures a Client. Only URL is required.
type Config struct {
	URL string

	// RetryBudget is the number of consecutive failed attempts after which
	// the client gives up.
	RetryBudget int
	// RetryDelay is the fixed wait before each reconnect.
	RetryDelay time.Duration

	// Token, when set, is called on every dial and its result is passed as
	// the token query parameter.
	Token func() string

	// LocalEcho delivers every sent frame to local listeners as well.
	LocalEcho bool

	// OnOpen and OnClose run on the connection goroutine.
	OnOpen  func()
	OnClose func(err error)

	Dialer  Dialer
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
}

func (c *Config) defaults() {
	if c.RetryBudget <= 0 {
		c.RetryBudget = DefaultRetryBudget
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.Dialer == nil {
		c.Dialer = NetDialer{}
	}
	if c.Metrics == nil {
		c.Metrics = metrics.New(nil)
	}
}

// Client owns at most one live connection to the realtime endpoint and fans
// inbound frames out to its listeners.
type Client struct {
	cfg       Config
	log       zerolog.Logger
	listeners Registry

	mu        sync.Mutex
	state     State
	attempts  int
	conn      Conn
	running   bool
	closed    bool
	exhausted bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Client in the Closed state. Call Connect to dial.
func New(cfg Config) *Client {
	cfg.defaults()
	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		cfg:    cfg,
		log:    logger.With().Str("component", "realtime").Logger(),
		state:  StateClosed,
		ctx:    ctx,
		cancel: cancel,
	}
	c.cfg.Metrics.ConnectionState.Set(float64(StateClosed))
	return c
}

// Connect starts dialing in the background. It is a no-op while a
// connection is open or being established. Failures are retried after
// RetryDelay until RetryBudget consecutive attempts have failed; after that
// the client stays Closed and Connect returns ErrRetryBudgetExhausted.
func (c *Client) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.closed:
		return ErrClosed
	case c.exhausted:
		return ErrRetryBudgetExhausted
	case c.running:
		return nil
	}

	c.running = true
	c.wg.Add(1)
	go c.run()
	return nil
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Attempts returns the number of consecutive attempts since the last
// successful open.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Subscribe registers a listener for inbound frames.
func (c *Client) Subscribe(fn Listener) Subscription {
	return c.listeners.Add(fn)
}

// Unsubscribe removes a listener. Calling it more than once is safe.
func (c *Client) Unsubscribe(sub Subscription) {
	c.listeners.Remove(sub)
}

// Send writes payload verbatim when the connection is open. Otherwise the
// payload is dropped, logged and counted, and ErrNotConnected is returned.
// Delivery is never guaranteed.
func (c *Client) Send(payload []byte) error {
	if c.cfg.LocalEcho {
		defer c.listeners.Notify(payload)
	}

	c.mu.Lock()
	conn, state := c.conn, c.state
	c.mu.Unlock()

	if conn == nil || state != StateOpen {
		c.cfg.Metrics.SendsDropped.Inc()
		c.log.Warn().Stringer("state", state).Msg("websocket is not open, message dropped")
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := conn.Write(ctx, payload); err != nil {
		c.cfg.Metrics.SendsDropped.Inc()
		c.log.Warn().Err(err).Msg("failed to send message")
		return fmt.Errorf("failed to send message: %w", err)
	}
	c.cfg.Metrics.FramesSent.Inc()
	return nil
}

// Close tears down the connection, stops reconnecting and clears the
// listeners. It must not be called from a listener or hook.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cancel()
	conn := c.conn
	c.conn = nil
	if conn != nil {
		c.setState(StateClosing)
	}
	c.mu.Unlock()

	var err error
	if conn != nil {
		err = conn.Close()
	}
	c.wg.Wait()

	c.mu.Lock()
	c.setState(StateClosed)
	c.mu.Unlock()
	c.log.Debug().Int("listeners", c.listeners.Len()).Msg("websocket closed")
	c.listeners.Clear()
	return err
}

// setState must be called with c.mu held.
func (c *Client) setState(s State) {
	c.state = s
	c.cfg.Metrics.ConnectionState.Set(float64(s))
}

func (c *Client) run() {
	defer c.wg.Done()

	for {
		c.mu.Lock()
		if c.closed {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.attempts++
		attempt := c.attempts
		c.setState(StateConnecting)
		c.mu.Unlock()

		c.cfg.Metrics.DialAttempts.Inc()
		err := c.session(attempt)

		c.mu.Lock()
		if c.closed {
			c.running = false
			c.mu.Unlock()
			return
		}
		c.setState(StateClosed)
		retry := c.attempts < c.cfg.RetryBudget
		if !retry {
			c.exhausted = true
			c.running = false
		}
		attempts := c.attempts
		c.mu.Unlock()

		if c.cfg.OnClose != nil {
			c.cfg.OnClose(err)
		}
		if !retry {
			c.log.Error().Err(err).Int("attempts", attempts).Msg("max reconnect attempts reached")
			return
		}

		c.log.Info().Err(err).Int("attempt", attempts).Dur("delay", c.cfg.RetryDelay).
			Msg("connection lost, reconnecting")
		timer := time.NewTimer(c.cfg.RetryDelay)
		select {
		case <-timer.C:
		case <-c.ctx.Done():
			timer.Stop()
			c.mu.Lock()
			c.running = false
			c.mu.Unlock()
			return
		}
	}
}

// session dials once and, on success, reads until the connection ends.
func (c *Client) session(attempt int) error {
	endpoint, err := c.endpoint()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.ctx, dialTimeout)
	conn, err := c.cfg.Dialer.Dial(ctx, endpoint)
	cancel()
	if err != nil {
		c.log.Warn().Err(err).Int("attempt", attempt).Msg("dial failed")
		return err
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return ErrClosed
	}
	c.conn = conn
	c.attempts = 0
	c.setState(StateOpen)
	c.mu.Unlock()

	c.log.Info().Str("url", c.cfg.URL).Msg("websocket connected")
	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}

	err = c.readLoop(conn)

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()
	_ = conn.Close()
	return err
}

func (c *Client) readLoop(conn Conn) error {
	for {
		data, err := conn.Read(c.ctx)
		if err != nil {
			return err
		}
		c.cfg.Metrics.FramesReceived.Inc()
		c.listeners.Notify(data)
	}
}

func (c *Client) endpoint() (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url: %w", err)
	}
	if c.cfg.Token != nil {
		if token := c.cfg.Token(); token != "" {
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), nil
}
