package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// recvBuffer bounds the per-channel inbound queue. A full buffer drops
// the payload rather than blocking the sender; delivery is best-effort.
const recvBuffer = 256

// Memory is an in-process Transport. Listeners and channels live in a
// shared registry, so a host and its clients can run in one process.
// Used by tests and same-process demos.
type Memory struct {
	mu        sync.Mutex
	listeners map[string]*memListener
}

// NewMemory returns an empty in-process transport.
func NewMemory() *Memory {
	return &Memory{listeners: make(map[string]*memListener)}
}

// Listen claims id within this transport.
func (m *Memory) Listen(_ context.Context, id string) (Listener, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, taken := m.listeners[id]; taken {
		return nil, fmt.Errorf("listen %q: %w", id, ErrIDTaken)
	}
	l := &memListener{
		id:     id,
		accept: make(chan Channel, 8),
		owner:  m,
	}
	m.listeners[id] = l
	return l, nil
}

// Dial connects to the listener claimed at id.
func (m *Memory) Dial(_ context.Context, id string) (Channel, error) {
	m.mu.Lock()
	l, ok := m.listeners[id]
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("dial %q: %w", id, ErrNotFound)
	}

	local, remote := newMemPair()
	select {
	case l.accept <- remote:
		return local, nil
	default:
		local.Close()
		return nil, fmt.Errorf("dial %q: accept queue full: %w", id, ErrNetwork)
	}
}

type memListener struct {
	id     string
	accept chan Channel
	owner  *Memory
	once   sync.Once
}

func (l *memListener) Accept() <-chan Channel { return l.accept }

func (l *memListener) Addr() string { return l.id }

func (l *memListener) Close() error {
	l.once.Do(func() {
		l.owner.mu.Lock()
		delete(l.owner.listeners, l.id)
		l.owner.mu.Unlock()
		close(l.accept)
	})
	return nil
}

// memChannel is one end of an in-process channel pair.
type memChannel struct {
	id   string
	peer *memChannel

	mu     sync.Mutex // guards recv writes against close
	recv   chan []byte
	done   chan struct{}
	closed bool
	errVal error
}

func newMemPair() (*memChannel, *memChannel) {
	a := &memChannel{
		id:   uuid.NewString(),
		recv: make(chan []byte, recvBuffer),
		done: make(chan struct{}),
	}
	b := &memChannel{
		id:   uuid.NewString(),
		recv: make(chan []byte, recvBuffer),
		done: make(chan struct{}),
	}
	a.peer, b.peer = b, a
	return a, b
}

func (c *memChannel) ID() string { return c.id }

func (c *memChannel) Send(payload []byte) error {
	if !c.IsOpen() {
		return fmt.Errorf("send on closed channel: %w", ErrNetwork)
	}
	return c.peer.deliver(payload)
}

func (c *memChannel) deliver(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("peer channel closed: %w", ErrNetwork)
	}
	select {
	case c.recv <- payload:
		return nil
	default:
		return fmt.Errorf("receive buffer full: %w", ErrNetwork)
	}
}

func (c *memChannel) Recv() <-chan []byte { return c.recv }

func (c *memChannel) Done() <-chan struct{} { return c.done }

func (c *memChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *memChannel) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// Close tears down both ends. Closing either end more than once is a
// no-op.
func (c *memChannel) Close() error {
	c.terminate(nil)
	c.peer.terminate(nil)
	return nil
}

func (c *memChannel) terminate(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	c.errVal = err
	close(c.done)
	close(c.recv)
}
