package chat

import (
	"slices"

	"github.com/omochice/chat-client/pkg/protocol"
)

// ToggleReaction adds userID to the reaction of emoji's type, or removes it
// when the user already reacted. Reactions are keyed by type; the glyph of
// an existing entry is kept, or filled in when it was empty. A reaction
// whose count drops to zero is removed. in is never modified.
func ToggleReaction(in []protocol.Reaction, emoji protocol.ReactionEmoji, userID string) []protocol.Reaction {
	out := protocol.CloneReactions(in)

	i := slices.IndexFunc(out, func(r protocol.Reaction) bool {
		return r.Type == emoji.Type
	})
	if i < 0 {
		return append(out, protocol.Reaction{
			Emoji:   emoji.Emoji,
			Type:    emoji.Type,
			Count:   1,
			UserIDs: []string{userID},
		})
	}

	r := &out[i]
	if j := slices.Index(r.UserIDs, userID); j >= 0 {
		r.UserIDs = slices.Delete(r.UserIDs, j, j+1)
	} else {
		r.UserIDs = append(r.UserIDs, userID)
	}
	r.Count = len(r.UserIDs)
	if r.Emoji == "" {
		r.Emoji = emoji.Emoji
	}
	if r.Count == 0 {
		out = slices.Delete(out, i, i+1)
	}
	return out
}
