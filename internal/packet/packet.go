// Package packet implements the wire envelope exchanged between a room
// host and its clients. Every payload sent over a peer channel is an
// encoded Packet.
package packet

import "encoding/json"

// Type identifies what a packet carries.
type Type int

const (
	// None is the default type, produced whenever a payload cannot be
	// decoded as any other type.
	None Type = 0
	// Ping is the liveness probe sent by both host and clients.
	Ping Type = 1
	// Username is sent by a client when it first joins a room. The host
	// replies with the same type carrying the assigned usernames.
	Username Type = 2
	// Message carries chat content.
	Message Type = 3
)

func validType(t Type) bool {
	switch t {
	case None, Ping, Username, Message:
		return true
	}
	return false
}

// Packet is the envelope for all host/client traffic. Content is only
// present for Username and Message packets.
type Packet struct {
	Type    Type
	Content *string
}

// New builds a packet of the given type with no content. An unknown type
// degrades to None.
func New(t Type) Packet {
	if !validType(t) {
		return Packet{Type: None}
	}
	return Packet{Type: t}
}

// WithContent builds a packet of the given type carrying content.
func WithContent(t Type, content string) Packet {
	p := New(t)
	if p.Type != None {
		p.Content = &content
	}
	return p
}

// PingPacket returns a liveness probe packet.
func PingPacket() Packet { return New(Ping) }

// UsernamePacket returns a join-handshake packet.
func UsernamePacket(content string) Packet { return WithContent(Username, content) }

// MessagePacket returns a chat content packet.
func MessagePacket(content string) Packet { return WithContent(Message, content) }

// wirePacket is the JSON shape on the wire: {"type":N,"content":"..."}.
// Content is omitted entirely when absent, not sent as an empty string.
type wirePacket struct {
	Type    *json.Number     `json:"type"`
	Content *json.RawMessage `json:"content,omitempty"`
}

// Encode serializes a packet for transit. Packets with an invalid type
// are encoded as None with no content.
func Encode(p Packet) []byte {
	t := p.Type
	if !validType(t) {
		t = None
		p.Content = nil
	}
	out := struct {
		Type    Type    `json:"type"`
		Content *string `json:"content,omitempty"`
	}{Type: t, Content: p.Content}
	data, err := json.Marshal(out)
	if err != nil {
		// Marshal of a struct of int and *string cannot fail.
		panic(err)
	}
	return data
}

// Decode parses a payload received from a peer. It is total: any payload
// that is not a JSON object, lacks a known numeric type, or carries a
// non-string content decodes to a None packet instead of failing. Peers
// can send anything; they must never be able to crash the session.
func Decode(data []byte) Packet {
	var raw wirePacket
	if err := json.Unmarshal(data, &raw); err != nil || raw.Type == nil {
		return Packet{Type: None}
	}

	n, err := raw.Type.Int64()
	if err != nil || !validType(Type(n)) {
		return Packet{Type: None}
	}

	p := Packet{Type: Type(n)}
	if raw.Content != nil {
		var s string
		if err := json.Unmarshal(*raw.Content, &s); err == nil {
			p.Content = &s
		}
		// Non-string content is dropped, keeping the valid type.
	}
	return p
}

// ContentString returns the packet content, or "" when absent.
func (p Packet) ContentString() string {
	if p.Content == nil {
		return ""
	}
	return *p.Content
}
