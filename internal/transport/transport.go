// Package transport defines the point-to-point capability sessions are
// built on: listen for an identifier, dial a remote identifier, and
// exchange opaque payloads on an established channel. Implementations
// handle connection negotiation; sessions only consume this surface.
package transport

import (
	"context"
	"errors"
)

// Sentinel errors classifying transport failures. Adapters map their
// underlying failures onto these so sessions can react uniformly;
// anything unclassifiable wraps ErrNetwork.
var (
	// ErrIDTaken means the listening identifier is already claimed.
	// During host allocation this is transient and retried.
	ErrIDTaken = errors.New("transport: identifier already taken")
	// ErrNotFound means the dialed identifier does not resolve.
	ErrNotFound = errors.New("transport: identifier not found")
	// ErrUnsupported means the environment cannot establish connections.
	ErrUnsupported = errors.New("transport: environment cannot establish connections")
	// ErrInsecure means a secure channel could not be set up.
	ErrInsecure = errors.New("transport: secure channel unavailable")
	// ErrNetwork covers generic network/server/socket failures.
	ErrNetwork = errors.New("transport: network error")
)

// Transport establishes channels between identifiers.
type Transport interface {
	// Listen claims id and accepts inbound channels addressed to it.
	Listen(ctx context.Context, id string) (Listener, error)
	// Dial opens a channel to the peer listening on id.
	Dial(ctx context.Context, id string) (Channel, error)
}

// Listener accepts inbound channels for a claimed identifier.
type Listener interface {
	// Accept yields inbound channels. The channel is closed when the
	// listener shuts down.
	Accept() <-chan Channel
	// Addr returns the claimed identifier.
	Addr() string
	// Close releases the identifier. Safe to call more than once.
	Close() error
}

// Channel is an established bidirectional byte channel.
type Channel interface {
	// ID is an opaque identifier for this channel, stable for its
	// lifetime and unique within the process.
	ID() string
	// Send transmits a payload. Delivery is best-effort; a send on a
	// closed channel returns an error.
	Send(payload []byte) error
	// Recv yields inbound payloads. Closed when the channel closes.
	Recv() <-chan []byte
	// Done is closed when the channel has closed, for any reason.
	Done() <-chan struct{}
	// Err reports why the channel closed: nil for a clean close. Only
	// meaningful after Done is closed.
	Err() error
	// IsOpen reports whether the channel is still usable.
	IsOpen() bool
	// Close tears the channel down. Safe to call more than once.
	Close() error
}
