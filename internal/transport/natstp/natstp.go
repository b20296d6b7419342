// Package natstp implements the transport capability over NATS
// subjects: a listener subscribes to a dial subject derived from its
// identifier, and each established channel is a pair of inbox
// subjects, one per direction.
package natstp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/pkg/logger"
)

const (
	recvBuffer   = 256
	dialTimeout  = 2 * time.Second
	probeTimeout = 250 * time.Millisecond
)

// dialSubject is where a listener receives dial requests for its
// identifier.
func dialSubject(id string) string { return "dicechat.dial." + id }

// inboxSubject returns a fresh per-channel inbox.
func inboxSubject() string { return "dicechat.chan." + uuid.NewString() }

// dialRequest is the payload of a dial. Probe requests test for a
// live listener without opening a channel; the host allocation loop
// uses them to detect identifier collisions.
type dialRequest struct {
	Probe bool `json:"probe,omitempty"`
	// Inbox is the subject the dialing side receives on.
	Inbox string `json:"inbox,omitempty"`
}

// dialResponse answers a dial with the listener's receive subject.
type dialResponse struct {
	Probe bool   `json:"probe,omitempty"`
	Inbox string `json:"inbox,omitempty"`
}

// NATS is a NATS-backed Transport.
type NATS struct {
	conn *nats.Conn
	log  logger.Logger
}

// New connects to the NATS server at url.
func New(url string, log logger.Logger) (*NATS, error) {
	if log == nil {
		log = logger.Nop()
	}
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %v: %w", err, transport.ErrNetwork)
	}
	return &NATS{conn: nc, log: log.WithModule("natstp")}, nil
}

// Close closes the NATS connection. Listeners and channels on it stop
// working.
func (t *NATS) Close() {
	t.conn.Close()
}

// Listen claims id. NATS subjects are not naturally exclusive, so the
// claim is checked by probing for an existing listener first; a reply
// means the identifier is taken.
func (t *NATS) Listen(_ context.Context, id string) (transport.Listener, error) {
	probe, err := json.Marshal(dialRequest{Probe: true})
	if err != nil {
		panic(err)
	}
	_, err = t.conn.Request(dialSubject(id), probe, probeTimeout)
	switch {
	case err == nil:
		return nil, fmt.Errorf("listen %q: %w", id, transport.ErrIDTaken)
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout):
		// No listener; the identifier is free.
	default:
		return nil, fmt.Errorf("listen %q: %v: %w", id, err, transport.ErrNetwork)
	}

	l := &natsListener{
		id:     id,
		t:      t,
		accept: make(chan transport.Channel, 8),
	}
	sub, err := t.conn.Subscribe(dialSubject(id), l.handleDial)
	if err != nil {
		return nil, fmt.Errorf("listen %q: %v: %w", id, err, transport.ErrNetwork)
	}
	l.sub = sub
	return l, nil
}

// Dial opens a channel to the listener at id.
func (t *NATS) Dial(_ context.Context, id string) (transport.Channel, error) {
	myInbox := inboxSubject()
	req, err := json.Marshal(dialRequest{Inbox: myInbox})
	if err != nil {
		panic(err)
	}

	msg, err := t.conn.Request(dialSubject(id), req, dialTimeout)
	switch {
	case errors.Is(err, nats.ErrNoResponders), errors.Is(err, nats.ErrTimeout):
		return nil, fmt.Errorf("dial %q: %w", id, transport.ErrNotFound)
	case err != nil:
		return nil, fmt.Errorf("dial %q: %v: %w", id, err, transport.ErrNetwork)
	}

	var resp dialResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil || resp.Inbox == "" {
		return nil, fmt.Errorf("dial %q: malformed response: %w", id, transport.ErrNetwork)
	}

	ch := newChannel(t, myInbox, resp.Inbox)
	if err := ch.subscribe(); err != nil {
		return nil, fmt.Errorf("dial %q: %v: %w", id, err, transport.ErrNetwork)
	}
	return ch, nil
}

type natsListener struct {
	id     string
	t      *NATS
	sub    *nats.Subscription
	accept chan transport.Channel
	once   sync.Once
}

// handleDial answers probe and dial requests arriving on the dial
// subject.
func (l *natsListener) handleDial(msg *nats.Msg) {
	var req dialRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		return // Skip invalid requests.
	}

	if req.Probe {
		resp, _ := json.Marshal(dialResponse{Probe: true})
		_ = msg.Respond(resp)
		return
	}
	if req.Inbox == "" {
		return
	}

	myInbox := inboxSubject()
	ch := newChannel(l.t, myInbox, req.Inbox)
	if err := ch.subscribe(); err != nil {
		l.t.log.Errorf("accept subscribe failed: %v", err)
		return
	}

	resp, _ := json.Marshal(dialResponse{Inbox: myInbox})
	if err := msg.Respond(resp); err != nil {
		l.t.log.Errorf("accept respond failed: %v", err)
		ch.Close()
		return
	}

	select {
	case l.accept <- ch:
	default:
		l.t.log.Errorf("accept backlog full, rejecting dial")
		ch.Close()
	}
}

func (l *natsListener) Accept() <-chan transport.Channel { return l.accept }

func (l *natsListener) Addr() string { return l.id }

func (l *natsListener) Close() error {
	l.once.Do(func() {
		_ = l.sub.Unsubscribe()
		close(l.accept)
	})
	return nil
}

// natsChannel receives on its own inbox subject and publishes to the
// peer's. An empty payload is the close marker; protocol packets are
// JSON and never empty.
type natsChannel struct {
	id       string
	t        *NATS
	recvSubj string
	sendSubj string
	sub      *nats.Subscription
	recv     chan []byte
	done     chan struct{}
	mu       sync.Mutex
	closed   bool
	errVal   error
}

func newChannel(t *NATS, recvSubj, sendSubj string) *natsChannel {
	return &natsChannel{
		id:       uuid.NewString(),
		t:        t,
		recvSubj: recvSubj,
		sendSubj: sendSubj,
		recv:     make(chan []byte, recvBuffer),
		done:     make(chan struct{}),
	}
}

func (c *natsChannel) subscribe() error {
	sub, err := c.t.conn.Subscribe(c.recvSubj, func(msg *nats.Msg) {
		if len(msg.Data) == 0 {
			c.terminate(nil)
			return
		}
		c.deliver(msg.Data)
	})
	if err != nil {
		return err
	}
	c.sub = sub
	return nil
}

func (c *natsChannel) ID() string { return c.id }

func (c *natsChannel) Send(payload []byte) error {
	if !c.IsOpen() {
		return fmt.Errorf("send on closed channel: %w", transport.ErrNetwork)
	}
	if err := c.t.conn.Publish(c.sendSubj, payload); err != nil {
		return fmt.Errorf("publish failed: %v: %w", err, transport.ErrNetwork)
	}
	return nil
}

func (c *natsChannel) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	data := make([]byte, len(payload))
	copy(data, payload)
	select {
	case c.recv <- data:
	default:
		// Best-effort: a full buffer drops the payload.
	}
}

func (c *natsChannel) Recv() <-chan []byte { return c.recv }

func (c *natsChannel) Done() <-chan struct{} { return c.done }

func (c *natsChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *natsChannel) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *natsChannel) Close() error {
	if c.IsOpen() {
		// Close marker for the peer.
		_ = c.t.conn.Publish(c.sendSubj, nil)
	}
	c.terminate(nil)
	return nil
}

func (c *natsChannel) terminate(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.errVal = err
	close(c.done)
	close(c.recv)
	sub := c.sub
	c.mu.Unlock()

	if sub != nil {
		_ = sub.Unsubscribe()
	}
}
