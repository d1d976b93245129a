package friends_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/chat-client/internal/api"
	"github.com/omochice/chat-client/internal/friends"
	"github.com/omochice/chat-client/pkg/protocol"
)

type fakeBackend struct {
	mu          sync.Mutex
	friends     []protocol.User
	invites     []protocol.User
	friendCalls int
	inviteCalls int
	actions     []api.InviteAction
	friendsErr  error

	// Each Friends call takes the next gate, if any, and blocks on it
	// after reading the list.
	gates []chan struct{}
}

func (b *fakeBackend) Friends(ctx context.Context) ([]protocol.User, error) {
	b.mu.Lock()
	b.friendCalls++
	list, err := append([]protocol.User(nil), b.friends...), b.friendsErr
	var gate chan struct{}
	if len(b.gates) > 0 {
		gate, b.gates = b.gates[0], b.gates[1:]
	}
	b.mu.Unlock()

	if gate != nil {
		<-gate
	}
	return list, err
}

func (b *fakeBackend) setFriends(users ...protocol.User) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.friends = users
}

func (b *fakeBackend) Invites(ctx context.Context) ([]protocol.User, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inviteCalls++
	return append([]protocol.User(nil), b.invites...), nil
}

func (b *fakeBackend) Invite(ctx context.Context, action api.InviteAction, friendID string) (*api.InviteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.actions = append(b.actions, action)
	if action == api.AcceptInvite {
		b.invites = nil
		b.friends = append(b.friends, protocol.User{ID: friendID, Status: api.FriendStatusFriend})
	}
	return &api.InviteResult{Message: "ok", Status: string(action)}, nil
}

func (b *fakeBackend) calls() (int, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.friendCalls, b.inviteCalls
}

func TestManager_Refresh(t *testing.T) {
	b := &fakeBackend{
		friends: []protocol.User{{ID: "u2"}},
		invites: []protocol.User{{ID: "u3"}},
	}
	changes := 0
	m := friends.New(friends.Options{Backend: b, OnChange: func() { changes++ }})

	require.NoError(t, m.Refresh(context.Background()))

	assert.Equal(t, "u2", m.Friends()[0].ID)
	assert.Equal(t, "u3", m.Invites()[0].ID)
	assert.Equal(t, 1, changes)
}

func TestManager_RefreshFailureKeepsLists(t *testing.T) {
	b := &fakeBackend{friends: []protocol.User{{ID: "u2"}}}
	m := friends.New(friends.Options{Backend: b})
	require.NoError(t, m.Refresh(context.Background()))

	b.friendsErr = errors.New("boom")
	b.invites = []protocol.User{{ID: "u9"}}
	require.Error(t, m.Refresh(context.Background()))

	assert.Len(t, m.Friends(), 1)
	assert.Empty(t, m.Invites())
}

func TestManager_LateFriendsLoadIsDropped(t *testing.T) {
	older := make(chan struct{})
	b := &fakeBackend{
		friends: []protocol.User{{ID: "u-old"}},
		gates:   []chan struct{}{older},
	}
	var changes atomic.Int32
	m := friends.New(friends.Options{Backend: b, OnChange: func() { changes.Add(1) }})

	done := make(chan error, 1)
	go func() { done <- m.RefreshFriends(context.Background()) }()
	require.Eventually(t, func() bool {
		n, _ := b.calls()
		return n == 1
	}, time.Second, time.Millisecond)

	b.setFriends(protocol.User{ID: "u-new"})
	require.NoError(t, m.RefreshFriends(context.Background()))
	require.Len(t, m.Friends(), 1)
	assert.Equal(t, "u-new", m.Friends()[0].ID)

	close(older)
	require.NoError(t, <-done)

	require.Len(t, m.Friends(), 1)
	assert.Equal(t, "u-new", m.Friends()[0].ID, "older load finished last")
	assert.Equal(t, int32(1), changes.Load())
}

func TestManager_LateRefreshDoesNotOverwriteInvites(t *testing.T) {
	older := make(chan struct{})
	b := &fakeBackend{
		invites: []protocol.User{{ID: "u-old"}},
		gates:   []chan struct{}{older},
	}
	m := friends.New(friends.Options{Backend: b})

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	require.Eventually(t, func() bool {
		n, i := b.calls()
		return n == 1 && i == 1
	}, time.Second, time.Millisecond)

	b.mu.Lock()
	b.invites = []protocol.User{{ID: "u-new"}}
	b.mu.Unlock()
	require.NoError(t, m.RefreshInvites(context.Background()))

	close(older)
	require.NoError(t, <-done)

	require.Len(t, m.Invites(), 1)
	assert.Equal(t, "u-new", m.Invites()[0].ID)
}

func TestManager_AcceptRefetchesBothLists(t *testing.T) {
	b := &fakeBackend{invites: []protocol.User{{ID: "u3"}}}
	m := friends.New(friends.Options{Backend: b})
	require.NoError(t, m.Refresh(context.Background()))

	res, err := m.Accept(context.Background(), "u3")
	require.NoError(t, err)
	assert.Equal(t, "accept-invite", res.Status)

	assert.Empty(t, m.Invites())
	require.Len(t, m.Friends(), 1)
	assert.Equal(t, "u3", m.Friends()[0].ID)
	assert.Equal(t, []api.InviteAction{api.AcceptInvite}, b.actions)
}

func TestManager_HandleFrameRefetches(t *testing.T) {
	tests := []struct {
		name        string
		frame       string
		wantFriends int
		wantInvites int
	}{
		{name: "friend_invite", frame: `{"type":"friend_invite","user":{"id":"u4"}}`, wantFriends: 0, wantInvites: 1},
		{name: "update_friend", frame: `{"type":"update_friend"}`, wantFriends: 1, wantInvites: 1},
		{name: "unrelated", frame: `{"type":"new_message","payload":{"id":"m1"}}`, wantFriends: 0, wantInvites: 0},
		{name: "malformed", frame: `{`, wantFriends: 0, wantInvites: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &fakeBackend{}
			m := friends.New(friends.Options{Backend: b})

			m.HandleFrame([]byte(tt.frame))
			m.Wait()

			f, i := b.calls()
			assert.Equal(t, tt.wantFriends, f, "friend list fetches")
			assert.Equal(t, tt.wantInvites, i, "invite list fetches")
		})
	}
}
