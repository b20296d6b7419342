// Package message defines the logical chat content unit shown in a room.
// Messages are not sent on the wire directly; their compact encoded form
// rides inside a Message packet.
package message

import (
	"encoding/json"
	"fmt"
)

// Message is a single line of chat content. Username, when set, is the
// display name shown before the content. Block marks special lines
// (command output, join/leave notices) that a front-end may render
// distinctly; it is ignored when Username is set.
type Message struct {
	Content  string
	Username string
	Block    bool
}

// New returns a plain chat line attributed to a user.
func New(username, content string) Message {
	return Message{Content: content, Username: username}
}

// System returns an unattributed block line.
func System(content string) Message {
	return Message{Content: content, Block: true}
}

// wireMessage uses single-letter keys to keep packets small.
type wireMessage struct {
	Content  string `json:"c"`
	Username string `json:"u,omitempty"`
	Block    bool   `json:"b,omitempty"`
}

// Encode returns the string form carried inside a Message packet.
func (m Message) Encode() string {
	data, err := json.Marshal(wireMessage{
		Content:  m.Content,
		Username: m.Username,
		Block:    m.Block,
	})
	if err != nil {
		panic(err)
	}
	return string(data)
}

// Parse decodes the string form produced by Encode.
func Parse(s string) (Message, error) {
	var raw wireMessage
	if err := json.Unmarshal([]byte(s), &raw); err != nil {
		return Message{}, fmt.Errorf("malformed message payload: %w", err)
	}
	return Message{
		Content:  raw.Content,
		Username: raw.Username,
		Block:    raw.Block,
	}, nil
}

// Display renders the message as a single terminal line.
func (m Message) Display() string {
	if m.Username != "" {
		return fmt.Sprintf("%s: %s", m.Username, m.Content)
	}
	if m.Block {
		return fmt.Sprintf("* %s", m.Content)
	}
	return m.Content
}
