package chat

import (
	"slices"
	"testing"

	"github.com/omochice/chat-client/pkg/protocol"
)

func TestToggleReaction(t *testing.T) {
	heart := protocol.ReactionEmoji{Emoji: "❤️", Type: "heart"}

	// U reacts, U reacts again, U2 reacts.
	r := ToggleReaction(nil, heart, "u1")
	if len(r) != 1 || r[0].Count != 1 || !slices.Equal(r[0].UserIDs, []string{"u1"}) {
		t.Fatalf("after first toggle: %+v", r)
	}

	r = ToggleReaction(r, heart, "u1")
	if len(r) != 0 {
		t.Fatalf("after second toggle: %+v, want no reactions", r)
	}

	r = ToggleReaction(r, heart, "u2")
	if len(r) != 1 || r[0].Count != 1 || !slices.Equal(r[0].UserIDs, []string{"u2"}) {
		t.Fatalf("after third toggle: %+v", r)
	}
}

func TestToggleReaction_KeepsOtherUsers(t *testing.T) {
	like := protocol.ReactionEmoji{Emoji: "👍", Type: "like"}
	in := []protocol.Reaction{
		{Emoji: "👍", Type: "like", Count: 2, UserIDs: []string{"u1", "u2"}},
		{Emoji: "😂", Type: "laugh", Count: 1, UserIDs: []string{"u3"}},
	}

	out := ToggleReaction(in, like, "u1")

	if len(out) != 2 {
		t.Fatalf("reactions = %+v", out)
	}
	if out[0].Count != 1 || !slices.Equal(out[0].UserIDs, []string{"u2"}) {
		t.Errorf("like = %+v, want only u2", out[0])
	}
	if in[0].Count != 2 || len(in[0].UserIDs) != 2 {
		t.Errorf("input modified: %+v", in[0])
	}
}

func TestToggleReaction_KeyedByType(t *testing.T) {
	tests := []struct {
		name  string
		in    []protocol.Reaction
		emoji protocol.ReactionEmoji
		user  string
		want  []protocol.Reaction
	}{
		{
			name:  "same type with another glyph removes the user",
			in:    []protocol.Reaction{{Emoji: "❤️", Type: "heart", Count: 1, UserIDs: []string{"u1"}}},
			emoji: protocol.ReactionEmoji{Emoji: "♥", Type: "heart"},
			user:  "u1",
			want:  []protocol.Reaction{},
		},
		{
			name:  "aggregate without glyph is joined",
			in:    []protocol.Reaction{{Type: "heart", Count: 1, UserIDs: []string{"u1"}}},
			emoji: protocol.ReactionEmoji{Emoji: "❤️", Type: "heart"},
			user:  "u2",
			want:  []protocol.Reaction{{Emoji: "❤️", Type: "heart", Count: 2, UserIDs: []string{"u1", "u2"}}},
		},
		{
			name:  "different type adds an entry",
			in:    []protocol.Reaction{{Emoji: "❤️", Type: "heart", Count: 1, UserIDs: []string{"u1"}}},
			emoji: protocol.ReactionEmoji{Emoji: "❤️", Type: "love"},
			user:  "u1",
			want: []protocol.Reaction{
				{Emoji: "❤️", Type: "heart", Count: 1, UserIDs: []string{"u1"}},
				{Emoji: "❤️", Type: "love", Count: 1, UserIDs: []string{"u1"}},
			},
		},
		{
			name:  "count follows user ids",
			in:    []protocol.Reaction{{Emoji: "👍", Type: "like", Count: 7, UserIDs: []string{"u1", "u2"}}},
			emoji: protocol.ReactionEmoji{Emoji: "👍", Type: "like"},
			user:  "u3",
			want:  []protocol.Reaction{{Emoji: "👍", Type: "like", Count: 3, UserIDs: []string{"u1", "u2", "u3"}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ToggleReaction(tt.in, tt.emoji, tt.user)
			if len(got) != len(tt.want) {
				t.Fatalf("reactions = %+v, want %+v", got, tt.want)
			}
			for i := range got {
				g, w := got[i], tt.want[i]
				if g.Emoji != w.Emoji || g.Type != w.Type || g.Count != w.Count || !slices.Equal(g.UserIDs, w.UserIDs) {
					t.Errorf("reaction %d = %+v, want %+v", i, g, w)
				}
			}
		})
	}
}
