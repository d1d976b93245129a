package chat

import (
	"testing"

	"github.com/omochice/chat-client/pkg/protocol"
)

func seq(conv string, ids ...string) Sequence {
	s := Sequence{ConversationID: conv}
	for _, id := range ids {
		s.Messages = append(s.Messages, protocol.Message{ID: id, ConversationID: conv, Status: protocol.StatusSent})
	}
	return s
}

func ids(s Sequence) []string {
	out := make([]string, len(s.Messages))
	for i, m := range s.Messages {
		out[i] = m.ID
	}
	return out
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestReconcile_NewMessageIsIdempotent(t *testing.T) {
	s := seq("c1", "m1")
	ev := protocol.NewMessage{Message: protocol.Message{ID: "m2", Content: "hi"}}

	once := Reconcile(s, ev)
	twice := Reconcile(once, ev)

	if got, want := ids(twice), []string{"m1", "m2"}; !equalIDs(got, want) {
		t.Errorf("ids = %v, want %v", got, want)
	}
	if len(s.Messages) != 1 {
		t.Errorf("input sequence modified: %v", ids(s))
	}
}

func TestReconcile_MessageStatusSwapsInPlace(t *testing.T) {
	s := seq("c1", "m1", "m2")
	s.Messages = append(s.Messages, protocol.Message{ID: "msg_tmp", Status: protocol.StatusSending, Content: "hello"})
	s.Messages = append(s.Messages, protocol.Message{ID: "m3"})

	got := Reconcile(s, protocol.MessageStatusUpdate{
		TempID:    "msg_tmp",
		NewID:     "srv_9",
		Status:    protocol.StatusSent,
		Timestamp: "2024-05-01T10:00:00Z",
	})

	if want := []string{"m1", "m2", "srv_9", "m3"}; !equalIDs(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	m := got.Messages[2]
	if m.Status != protocol.StatusSent {
		t.Errorf("status = %q, want sent", m.Status)
	}
	if m.CreatedAt != "2024-05-01T10:00:00Z" {
		t.Errorf("created_at = %q", m.CreatedAt)
	}
	if m.Content != "hello" {
		t.Errorf("content = %q, want hello", m.Content)
	}
}

func TestReconcile_MessageStatusWhenCanonicalAlreadyPresent(t *testing.T) {
	s := seq("c1", "m1")
	s.Messages = append(s.Messages, protocol.Message{ID: "msg_tmp", Status: protocol.StatusSending})
	s.Messages = append(s.Messages, protocol.Message{ID: "srv_9", Status: protocol.StatusDelivered})

	got := Reconcile(s, protocol.MessageStatusUpdate{TempID: "msg_tmp", NewID: "srv_9", Status: protocol.StatusSent})

	if want := []string{"m1", "srv_9"}; !equalIDs(ids(got), want) {
		t.Fatalf("ids = %v, want %v", ids(got), want)
	}
	if got.Messages[1].Status != protocol.StatusDelivered {
		t.Errorf("status = %q, want delivered", got.Messages[1].Status)
	}
}

func TestReconcile_MessageStatusNeverDowngrades(t *testing.T) {
	tests := []struct {
		name    string
		current protocol.MessageStatus
		event   protocol.MessageStatus
		want    protocol.MessageStatus
	}{
		{name: "upgrade", current: protocol.StatusSent, event: protocol.StatusRead, want: protocol.StatusRead},
		{name: "downgrade ignored", current: protocol.StatusRead, event: protocol.StatusSent, want: protocol.StatusRead},
		{name: "failed after sent ignored", current: protocol.StatusSent, event: protocol.StatusFailed, want: protocol.StatusSent},
		{name: "failed from sending", current: protocol.StatusSending, event: protocol.StatusFailed, want: protocol.StatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Sequence{ConversationID: "c1", Messages: []protocol.Message{{ID: "m1", Status: tt.current}}}
			got := Reconcile(s, protocol.MessageStatusUpdate{TempID: "m1", NewID: "m1", Status: tt.event})
			if got.Messages[0].Status != tt.want {
				t.Errorf("status = %q, want %q", got.Messages[0].Status, tt.want)
			}
		})
	}
}

func TestReconcile_MessageStatusUnknownIDs(t *testing.T) {
	s := seq("c1", "m1")
	got := Reconcile(s, protocol.MessageStatusUpdate{TempID: "nope", NewID: "nada", Status: protocol.StatusSent})
	if !equalIDs(ids(got), []string{"m1"}) {
		t.Errorf("ids = %v", ids(got))
	}
}

func TestReconcile_ReactionUpdateReplacesWholesale(t *testing.T) {
	s := seq("c1", "m1")
	s.Messages[0].Reactions = []protocol.Reaction{
		{Emoji: "👍", Type: "like", Count: 2, UserIDs: []string{"u1", "u2"}},
		{Emoji: "❤️", Type: "heart", Count: 1, UserIDs: []string{"u1"}},
	}
	incoming := []protocol.Reaction{{Emoji: "😂", Type: "laugh", Count: 1, UserIDs: []string{"u3"}}}

	got := Reconcile(s, protocol.ReactionUpdate{MessageID: "m1", Reactions: incoming})

	r := got.Messages[0].Reactions
	if len(r) != 1 || r[0].Type != "laugh" {
		t.Fatalf("reactions = %+v, want only laugh", r)
	}
	incoming[0].UserIDs[0] = "mutated"
	if got.Messages[0].Reactions[0].UserIDs[0] != "u3" {
		t.Error("reactions alias the event payload")
	}
	if len(s.Messages[0].Reactions) != 2 {
		t.Error("input sequence modified")
	}
}

func TestReconcile_ReceiveMessageFiltersByConversation(t *testing.T) {
	s := seq("c1", "m1")

	other := Reconcile(s, protocol.ReceiveMessage{ConversationID: "c2", Message: protocol.Message{ID: "x"}})
	if !equalIDs(ids(other), []string{"m1"}) {
		t.Errorf("message of another conversation appended: %v", ids(other))
	}

	active := Reconcile(s, protocol.ReceiveMessage{ConversationID: "c1", Message: protocol.Message{ID: "y"}})
	if !equalIDs(ids(active), []string{"m1", "y"}) {
		t.Errorf("ids = %v, want [m1 y]", ids(active))
	}
}

func TestReconcile_IgnoresOtherEvents(t *testing.T) {
	s := seq("c1", "m1")
	for _, ev := range []protocol.Event{
		protocol.PresenceResponse{UserID: "u2", IsOnline: true},
		protocol.UpdateFriend{},
		protocol.Unknown{Tag: "typing"},
	} {
		got := Reconcile(s, ev)
		if !sameBacking(s, got) {
			t.Errorf("%T changed the sequence", ev)
		}
	}
}
