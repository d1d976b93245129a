package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound frame types.
const (
	CommandNewMessage  = "new_message"
	CommandAddReaction = "add_reaction"
	CommandIsOnline    = "is_online"
)

// Envelope is the {type, payload} frame used by most realtime commands.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// ReactionEmoji identifies the reaction a user picked.
type ReactionEmoji struct {
	Emoji string `json:"emoji"`
	Type  string `json:"type"`
}

// AddReaction is the payload of an add_reaction command.
type AddReaction struct {
	MessageID string        `json:"messageId"`
	Emoji     ReactionEmoji `json:"emoji"`
	UserID    string        `json:"userId"`
}

// IsOnline is a presence query from one user about another.
type IsOnline struct {
	Type string `json:"type"`
	From string `json:"from"`
	To   string `json:"to"`
}

// EncodeNewMessage builds a new_message command for m.
func EncodeNewMessage(m Message) ([]byte, error) {
	return encode(Envelope{Type: CommandNewMessage, Payload: m})
}

// EncodeAddReaction builds an add_reaction command.
func EncodeAddReaction(r AddReaction) ([]byte, error) {
	return encode(Envelope{Type: CommandAddReaction, Payload: r})
}

// EncodeIsOnline builds an is_online presence query.
func EncodeIsOnline(from, to string) ([]byte, error) {
	return encode(IsOnline{Type: CommandIsOnline, From: from, To: to})
}

func encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode command: %w", err)
	}
	return data, nil
}

// Command is a decoded outbound frame, as seen by the backend.
type Command struct {
	Type        string
	Message     *Message
	AddReaction *AddReaction
	IsOnline    *IsOnline
}

// DecodeCommand decodes a frame sent by a client.
func DecodeCommand(data []byte) (Command, error) {
	var f struct {
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
		From    string          `json:"from"`
		To      string          `json:"to"`
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return Command{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}

	cmd := Command{Type: f.Type}
	switch f.Type {
	case CommandNewMessage:
		var m Message
		if err := json.Unmarshal(f.Payload, &m); err != nil {
			return Command{}, malformed(f.Type, err.Error())
		}
		cmd.Message = &m
	case CommandAddReaction:
		var r AddReaction
		if err := json.Unmarshal(f.Payload, &r); err != nil {
			return Command{}, malformed(f.Type, err.Error())
		}
		cmd.AddReaction = &r
	case CommandIsOnline:
		if f.To == "" {
			return Command{}, malformed(f.Type, "missing to")
		}
		cmd.IsOnline = &IsOnline{Type: f.Type, From: f.From, To: f.To}
	}
	return cmd, nil
}
