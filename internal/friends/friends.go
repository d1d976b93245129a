// Package friends keeps the friend and pending invite lists of the signed-in
// user current, refetching them when the server announces a change.
package friends

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/chat-client/internal/api"
	"github.com/omochice/chat-client/pkg/protocol"
)

const refetchTimeout = 15 * time.Second

// Backend lists and changes friendships. *api.Client implements it.
type Backend interface {
	Friends(ctx context.Context) ([]protocol.User, error)
	Invites(ctx context.Context) ([]protocol.User, error)
	Invite(ctx context.Context, action api.InviteAction, friendID string) (*api.InviteResult, error)
}

// Options configures a Manager.
type Options struct {
	Backend Backend

	// OnChange is called after either list was replaced.
	OnChange func()

	Logger *zerolog.Logger
}

// Manager holds the friend and invite lists.
type Manager struct {
	backend  Backend
	onChange func()
	log      zerolog.Logger

	mu      sync.RWMutex
	friends snapshot
	invites snapshot

	// Refetches triggered by server events.
	wg sync.WaitGroup
}

// snapshot is one list and the ordering of the loads that fill it. Loads
// may finish out of order; a result older than the committed one is
// dropped.
type snapshot struct {
	users     []protocol.User
	started   uint64
	committed uint64
}

func (s *snapshot) begin() uint64 {
	s.started++
	return s.started
}

func (s *snapshot) commit(ticket uint64, users []protocol.User) bool {
	if ticket <= s.committed {
		return false
	}
	s.users, s.committed = users, ticket
	return true
}

// New creates a Manager with empty lists.
func New(opts Options) *Manager {
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Manager{
		backend:  opts.Backend,
		onChange: opts.OnChange,
		log:      logger.With().Str("component", "friends").Logger(),
	}
}

// Friends returns a copy of the friend list.
func (m *Manager) Friends() []protocol.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.User(nil), m.friends.users...)
}

// Invites returns a copy of the pending invite list.
func (m *Manager) Invites() []protocol.User {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]protocol.User(nil), m.invites.users...)
}

// Refresh loads both lists concurrently. Neither list is replaced unless
// both loads succeed.
func (m *Manager) Refresh(ctx context.Context) error {
	m.mu.Lock()
	ft, it := m.friends.begin(), m.invites.begin()
	m.mu.Unlock()

	var friends, invites []protocol.User
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		friends, err = m.backend.Friends(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		invites, err = m.backend.Invites(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to refresh friends: %w", err)
	}

	m.mu.Lock()
	fc := m.friends.commit(ft, friends)
	ic := m.invites.commit(it, invites)
	m.mu.Unlock()
	if fc || ic {
		m.changed()
	}
	return nil
}

// RefreshFriends reloads the friend list only.
func (m *Manager) RefreshFriends(ctx context.Context) error {
	return m.reload(ctx, &m.friends, m.backend.Friends)
}

// RefreshInvites reloads the invite list only.
func (m *Manager) RefreshInvites(ctx context.Context) error {
	return m.reload(ctx, &m.invites, m.backend.Invites)
}

func (m *Manager) reload(ctx context.Context, list *snapshot, load func(context.Context) ([]protocol.User, error)) error {
	m.mu.Lock()
	ticket := list.begin()
	m.mu.Unlock()

	users, err := load(ctx)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ok := list.commit(ticket, users)
	m.mu.Unlock()
	if !ok {
		m.log.Debug().Uint64("ticket", ticket).Msg("dropped superseded list")
		return nil
	}
	m.changed()
	return nil
}

// SendInvite asks friendID to become a friend.
func (m *Manager) SendInvite(ctx context.Context, friendID string) (*api.InviteResult, error) {
	return m.act(ctx, api.SendInvite, friendID, m.RefreshInvites)
}

// Accept accepts the invite from friendID.
func (m *Manager) Accept(ctx context.Context, friendID string) (*api.InviteResult, error) {
	return m.act(ctx, api.AcceptInvite, friendID, m.Refresh)
}

// Reject rejects the invite from friendID.
func (m *Manager) Reject(ctx context.Context, friendID string) (*api.InviteResult, error) {
	return m.act(ctx, api.RejectInvite, friendID, m.RefreshInvites)
}

// Cancel withdraws an invite sent to friendID.
func (m *Manager) Cancel(ctx context.Context, friendID string) (*api.InviteResult, error) {
	return m.act(ctx, api.CancelInvite, friendID, m.RefreshInvites)
}

func (m *Manager) act(ctx context.Context, action api.InviteAction, friendID string, refetch func(context.Context) error) (*api.InviteResult, error) {
	res, err := m.backend.Invite(ctx, action, friendID)
	if err != nil {
		return nil, err
	}
	if err := refetch(ctx); err != nil {
		m.log.Warn().Err(err).Str("action", string(action)).Msg("refetch after invite action failed")
	}
	return res, nil
}

// Handle refetches the list an event announces a change to. The refetch
// runs in the background so the realtime read loop is not blocked.
func (m *Manager) Handle(ev protocol.Event) {
	var refetch func(context.Context) error
	switch ev.(type) {
	case protocol.FriendInvite:
		refetch = m.RefreshInvites
	case protocol.UpdateFriend:
		refetch = m.Refresh
	default:
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), refetchTimeout)
		defer cancel()
		if err := refetch(ctx); err != nil {
			m.log.Warn().Err(err).Str("event", ev.Type().String()).Msg("refetch failed")
		}
	}()
}

// HandleFrame decodes and handles a raw frame. It is meant to be registered
// as a realtime listener.
func (m *Manager) HandleFrame(frame []byte) {
	ev, err := protocol.DecodeEvent(frame)
	if err != nil {
		return
	}
	m.Handle(ev)
}

// Wait blocks until background refetches have finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

func (m *Manager) changed() {
	if m.onChange != nil {
		m.onChange()
	}
}
