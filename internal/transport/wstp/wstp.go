// Package wstp implements the transport capability over a relay
// server: every peer holds one websocket to the relay, binds an
// identifier, and logical channels are multiplexed as frames routed
// between identifiers.
package wstp

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/auranym/dicechat/internal/relay"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/pkg/logger"
)

const (
	recvBuffer    = 256
	sendBuffer    = 256
	bindDeadline  = 5 * time.Second
	dialDeadline  = 10 * time.Second
	acceptBacklog = 8
)

// WS is a relay-backed Transport.
type WS struct {
	relayURL string
	log      logger.Logger
}

// New returns a transport that rendezvouses through the relay at
// relayURL (a ws:// or wss:// endpoint).
func New(relayURL string, log logger.Logger) *WS {
	if log == nil {
		log = logger.Nop()
	}
	return &WS{relayURL: relayURL, log: log.WithModule("wstp")}
}

// Listen binds id at the relay and accepts inbound channels.
func (t *WS) Listen(ctx context.Context, id string) (transport.Listener, error) {
	rc, err := dialRelay(ctx, t.relayURL, id, t.log)
	if err != nil {
		return nil, err
	}

	l := &wsListener{
		rc:     rc,
		accept: make(chan transport.Channel, acceptBacklog),
	}
	rc.onDial = func(f relay.Frame) {
		ch := newChannel(rc, f.Channel, f.From, false)
		rc.register(ch)
		rc.enqueue(relay.Frame{Op: relay.OpOpen, Target: f.From, Channel: f.Channel})
		select {
		case l.accept <- ch:
		default:
			t.log.Errorf("accept backlog full, rejecting dial from %s", f.From)
			ch.Close()
		}
	}
	rc.onDown = func() { l.closeAccept() }
	rc.start()
	return l, nil
}

// Dial binds a throwaway identity at the relay and opens a channel to
// the peer listening on id. The relay identity is released together
// with the channel; once the channel is up nothing else depends on it.
func (t *WS) Dial(ctx context.Context, id string) (transport.Channel, error) {
	identity := "peer-" + uuid.NewString()
	rc, err := dialRelay(ctx, t.relayURL, identity, t.log)
	if err != nil {
		return nil, err
	}

	chID := uuid.NewString()
	reply := make(chan relay.Frame, 1)
	rc.addPending(chID, reply)
	rc.start()
	rc.enqueue(relay.Frame{Op: relay.OpDial, Target: id, Channel: chID})

	deadline := time.NewTimer(dialDeadline)
	defer deadline.Stop()

	select {
	case f := <-reply:
		if f.Op == relay.OpError {
			rc.close(nil)
			if f.Reason == relay.ReasonNotFound {
				return nil, fmt.Errorf("dial %q: %w", id, transport.ErrNotFound)
			}
			return nil, fmt.Errorf("dial %q: %s: %w", id, f.Reason, transport.ErrNetwork)
		}
		ch := newChannel(rc, chID, f.From, true)
		rc.register(ch)
		return ch, nil
	case <-rc.done:
		return nil, fmt.Errorf("dial %q: relay connection lost: %w", id, transport.ErrNetwork)
	case <-deadline.C:
		rc.close(nil)
		return nil, fmt.Errorf("dial %q: timed out: %w", id, transport.ErrNetwork)
	case <-ctx.Done():
		rc.close(nil)
		return nil, fmt.Errorf("dial %q: %w", id, ctx.Err())
	}
}

// classifyDialError maps a websocket dial failure onto the transport
// error taxonomy.
func classifyDialError(err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "malformed ws or wss URL"), strings.Contains(msg, "bad scheme"):
		return transport.ErrUnsupported
	case strings.Contains(msg, "tls"), strings.Contains(msg, "x509"):
		return transport.ErrInsecure
	default:
		return transport.ErrNetwork
	}
}

// relayConn is one websocket to the relay with a bound identity.
// Logical channels are multiplexed over it.
type relayConn struct {
	id   string
	ws   *websocket.Conn
	send chan relay.Frame
	done chan struct{}
	log  logger.Logger

	mu       sync.Mutex
	channels map[string]*wsChannel
	pending  map[string]chan relay.Frame
	closed   bool

	// onDial handles inbound dial frames (listener side only).
	onDial func(relay.Frame)
	// onDown fires when the relay connection is lost or closed.
	onDown func()
}

// dialRelay connects and completes the bind handshake synchronously,
// so identifier conflicts surface as ErrIDTaken before any channel
// exists.
func dialRelay(ctx context.Context, relayURL, bindID string, log logger.Logger) (*relayConn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, relayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("relay dial: %v: %w", err, classifyDialError(err))
	}

	if err := conn.WriteJSON(relay.Frame{Op: relay.OpBind, ID: bindID}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay bind: %w", transport.ErrNetwork)
	}

	conn.SetReadDeadline(time.Now().Add(bindDeadline))
	var f relay.Frame
	if err := conn.ReadJSON(&f); err != nil {
		conn.Close()
		return nil, fmt.Errorf("relay bind: %w", transport.ErrNetwork)
	}
	conn.SetReadDeadline(time.Time{})

	switch {
	case f.Op == relay.OpBound:
	case f.Op == relay.OpError && f.Reason == relay.ReasonIDTaken:
		conn.Close()
		return nil, fmt.Errorf("bind %q: %w", bindID, transport.ErrIDTaken)
	default:
		conn.Close()
		return nil, fmt.Errorf("relay bind: unexpected %q: %w", f.Op, transport.ErrNetwork)
	}

	return &relayConn{
		id:       bindID,
		ws:       conn,
		send:     make(chan relay.Frame, sendBuffer),
		done:     make(chan struct{}),
		log:      log,
		channels: make(map[string]*wsChannel),
		pending:  make(map[string]chan relay.Frame),
	}, nil
}

// start launches the pumps. Callers set onDial/onDown first.
func (rc *relayConn) start() {
	go rc.readPump()
	go rc.writePump()
}

func (rc *relayConn) enqueue(f relay.Frame) bool {
	select {
	case rc.send <- f:
		return true
	case <-rc.done:
		return false
	}
}

func (rc *relayConn) register(ch *wsChannel) {
	rc.mu.Lock()
	rc.channels[ch.id] = ch
	rc.mu.Unlock()
}

func (rc *relayConn) unregister(id string) {
	rc.mu.Lock()
	delete(rc.channels, id)
	rc.mu.Unlock()
}

func (rc *relayConn) addPending(id string, reply chan relay.Frame) {
	rc.mu.Lock()
	rc.pending[id] = reply
	rc.mu.Unlock()
}

func (rc *relayConn) takePending(id string) chan relay.Frame {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	reply := rc.pending[id]
	delete(rc.pending, id)
	return reply
}

func (rc *relayConn) readPump() {
	for {
		var f relay.Frame
		if err := rc.ws.ReadJSON(&f); err != nil {
			rc.close(fmt.Errorf("relay connection lost: %w", transport.ErrNetwork))
			return
		}
		rc.dispatch(f)
	}
}

func (rc *relayConn) writePump() {
	for {
		select {
		case f := <-rc.send:
			if err := rc.ws.WriteJSON(f); err != nil {
				rc.close(fmt.Errorf("relay write failed: %w", transport.ErrNetwork))
				return
			}
		case <-rc.done:
			return
		}
	}
}

func (rc *relayConn) dispatch(f relay.Frame) {
	switch f.Op {
	case relay.OpDial:
		if rc.onDial != nil {
			rc.onDial(f)
		}
	case relay.OpOpen:
		if reply := rc.takePending(f.Channel); reply != nil {
			reply <- f
		}
	case relay.OpData:
		if ch := rc.channel(f.Channel); ch != nil {
			ch.deliver([]byte(f.Data))
		}
	case relay.OpClose:
		if ch := rc.channel(f.Channel); ch != nil {
			ch.terminate(nil)
			rc.unregister(f.Channel)
		}
	case relay.OpError:
		if reply := rc.takePending(f.Channel); reply != nil {
			reply <- f
			return
		}
		if ch := rc.channel(f.Channel); ch != nil {
			ch.terminate(fmt.Errorf("relay error %q: %w", f.Reason, transport.ErrNetwork))
			rc.unregister(f.Channel)
		}
	default:
		rc.log.Debugf("unexpected frame op %q", f.Op)
	}
}

func (rc *relayConn) channel(id string) *wsChannel {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.channels[id]
}

// close tears down the relay connection and every channel on it. A nil
// err marks a deliberate close.
func (rc *relayConn) close(err error) {
	rc.mu.Lock()
	if rc.closed {
		rc.mu.Unlock()
		return
	}
	rc.closed = true
	channels := make([]*wsChannel, 0, len(rc.channels))
	for _, ch := range rc.channels {
		channels = append(channels, ch)
	}
	rc.channels = make(map[string]*wsChannel)
	close(rc.done)
	rc.mu.Unlock()

	rc.ws.Close()
	for _, ch := range channels {
		ch.terminate(err)
	}
	if rc.onDown != nil {
		rc.onDown()
	}
}

// wsListener accepts inbound channels bound at the relay.
type wsListener struct {
	rc         *relayConn
	accept     chan transport.Channel
	acceptOnce sync.Once
}

func (l *wsListener) Accept() <-chan transport.Channel { return l.accept }

func (l *wsListener) Addr() string { return l.rc.id }

func (l *wsListener) Close() error {
	l.rc.close(nil)
	return nil
}

func (l *wsListener) closeAccept() {
	l.acceptOnce.Do(func() { close(l.accept) })
}

// wsChannel is one logical channel multiplexed over a relay
// connection.
type wsChannel struct {
	id     string
	peerID string
	rc     *relayConn
	// ownConn marks the dial side, where the relay connection exists
	// only to carry this channel and dies with it.
	ownConn bool

	mu     sync.Mutex
	recv   chan []byte
	done   chan struct{}
	closed bool
	errVal error
}

func newChannel(rc *relayConn, id, peerID string, ownConn bool) *wsChannel {
	return &wsChannel{
		id:      id,
		peerID:  peerID,
		rc:      rc,
		ownConn: ownConn,
		recv:    make(chan []byte, recvBuffer),
		done:    make(chan struct{}),
	}
}

func (c *wsChannel) ID() string { return c.id }

func (c *wsChannel) Send(payload []byte) error {
	if !c.IsOpen() {
		return fmt.Errorf("send on closed channel: %w", transport.ErrNetwork)
	}
	if !c.rc.enqueue(relay.Frame{
		Op:      relay.OpData,
		Target:  c.peerID,
		Channel: c.id,
		Data:    string(payload),
	}) {
		return fmt.Errorf("relay connection down: %w", transport.ErrNetwork)
	}
	return nil
}

func (c *wsChannel) deliver(payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.recv <- payload:
	default:
		// Best-effort: a full buffer drops the payload.
	}
}

func (c *wsChannel) Recv() <-chan []byte { return c.recv }

func (c *wsChannel) Done() <-chan struct{} { return c.done }

func (c *wsChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errVal
}

func (c *wsChannel) IsOpen() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

func (c *wsChannel) Close() error {
	if c.IsOpen() {
		c.rc.enqueue(relay.Frame{Op: relay.OpClose, Target: c.peerID, Channel: c.id})
	}
	c.terminate(nil)
	c.rc.unregister(c.id)
	if c.ownConn {
		c.rc.close(nil)
	}
	return nil
}

func (c *wsChannel) terminate(err error) {
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
