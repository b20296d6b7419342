// Package session implements the room session protocol on top of the
// transport capability: the host side (room allocation, admission,
// username arbitration, broadcast) and the client side (join handshake,
// steady-state messaging), with heartbeat liveness on both.
package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/auranym/dicechat/internal/transport"
)

// Heartbeat holds the liveness probe timings. The period and staleness
// threshold trade detection latency against false positives on
// congested networks, so they are configuration, not constants.
type Heartbeat struct {
	// Interval is the outbound ping period.
	Interval time.Duration
	// Timeout is the inbound staleness threshold. A peer quiet for
	// longer than this is treated as gone.
	Timeout time.Duration
}

// DefaultHeartbeat returns the standard timings: a 2s ping period and a
// 5s staleness threshold, tolerating two missed pings.
func DefaultHeartbeat() Heartbeat {
	return Heartbeat{Interval: 2 * time.Second, Timeout: 5 * time.Second}
}

func (h Heartbeat) orDefault() Heartbeat {
	d := DefaultHeartbeat()
	if h.Interval <= 0 {
		h.Interval = d.Interval
	}
	if h.Timeout <= 0 {
		h.Timeout = d.Timeout
	}
	return h
}

// ErrAllocationExhausted means no free room code was found within the
// allocation retry bound.
var ErrAllocationExhausted = errors.New("session: could not allocate a room code")

// ErrInvalidRoomCode means the supplied room code failed validation.
var ErrInvalidRoomCode = errors.New("session: missing or invalid room code")

// ErrInvalidUsername means the supplied username is empty.
var ErrInvalidUsername = errors.New("session: username must not be empty")

// Failure reasons surfaced through event callbacks.
const (
	reasonRoomClosed = "Room was closed."
	reasonRoomLost   = "Room connection was lost unexpectedly."
	reasonHostLost   = "Connection to host was lost."
	reasonConnError  = "Unexpected error with connection to room."
)

// FatalReason maps a session setup error onto the human-readable text
// shown to the user.
func FatalReason(err error) string {
	switch {
	case errors.Is(err, transport.ErrUnsupported):
		return "This device cannot make peer connections."
	case errors.Is(err, transport.ErrInsecure):
		return "Cannot securely connect to server."
	case errors.Is(err, transport.ErrNotFound):
		return "Could not find a room with that code."
	case errors.Is(err, ErrAllocationExhausted):
		return "Unable to create a room. The server could not be reached or a room code could not be generated."
	case errors.Is(err, ErrInvalidRoomCode):
		return "Missing/invalid room code."
	case errors.Is(err, ErrInvalidUsername):
		return "Username is invalid."
	default:
		return "Could not connect, possibly due to a network error."
	}
}

// joinReply is the structured content of the host's USERNAME reply:
// the username assigned to the client plus the host's own.
type joinReply struct {
	Client string `json:"c"`
	Host   string `json:"h"`
}

func (r joinReply) encode() string {
	data, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	return string(data)
}

func parseJoinReply(s string) (joinReply, bool) {
	var r joinReply
	if err := json.Unmarshal([]byte(s), &r); err != nil || r.Client == "" {
		return joinReply{}, false
	}
	return r, true
}
