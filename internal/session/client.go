package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auranym/dicechat/internal/message"
	"github.com/auranym/dicechat/internal/packet"
	"github.com/auranym/dicechat/internal/roomcode"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/pkg/logger"
)

// ClientEvents are the notification callbacks for a joined room. Fixed
// at construction, invoked from the session's event loop.
type ClientEvents struct {
	// Chat delivers an inbound chat line.
	Chat func(msg message.Message)
	// Failed fires when the session ends for any reason other than an
	// explicit Leave: host closed the room, heartbeat timeout, or a
	// connection error.
	Failed func(reason string)
}

// ClientConfig configures JoinRoom.
type ClientConfig struct {
	// Username requested by the user. Required, non-empty. The host
	// may assign a different one on collision.
	Username string
	// RoomCode of the room to join. Required, must validate.
	RoomCode string
	// Transport used to reach the host. Required.
	Transport transport.Transport
	// Heartbeat timings. Zero fields take defaults.
	Heartbeat Heartbeat
	// Logger. Defaults to a no-op logger.
	Logger logger.Logger
	// Events callbacks. Individual callbacks may be nil.
	Events ClientEvents
}

// Client is an active client session.
type Client struct {
	cfg          ClientConfig
	hb           Heartbeat
	ch           transport.Channel
	log          logger.Logger
	username     string
	hostUsername string

	quit chan chan struct{}
	done chan struct{}

	leaveOnce sync.Once
}

// JoinRoom connects to the host of the given room, performs the join
// handshake and returns once the session is active. The returned error
// can be turned into user-facing text with FatalReason. The handshake
// is bounded by ctx and by the heartbeat timeout, whichever is sooner.
func JoinRoom(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if cfg.Username == "" {
		return nil, ErrInvalidUsername
	}
	if !roomcode.Validate(cfg.RoomCode) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRoomCode, cfg.RoomCode)
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	log := cfg.Logger.WithModule("client")
	hb := cfg.Heartbeat.orDefault()

	ch, err := cfg.Transport.Dial(ctx, roomcode.TransportID(cfg.RoomCode))
	if err != nil {
		return nil, fmt.Errorf("join room %s: %w", cfg.RoomCode, err)
	}

	if err := ch.Send(packet.Encode(packet.UsernamePacket(cfg.Username))); err != nil {
		ch.Close()
		return nil, fmt.Errorf("join room %s: %w", cfg.RoomCode, err)
	}

	reply, err := awaitJoinReply(ctx, ch, hb.Timeout)
	if err != nil {
		ch.Close()
		return nil, fmt.Errorf("join room %s: %w", cfg.RoomCode, err)
	}

	c := &Client{
		cfg:          cfg,
		hb:           hb,
		ch:           ch,
		log:          log,
		username:     reply.Client,
		hostUsername: reply.Host,
		quit:         make(chan chan struct{}),
		done:         make(chan struct{}),
	}
	log.Infof("joined room %s as %s (host %s)", cfg.RoomCode, c.username, c.hostUsername)
	go c.run()
	return c, nil
}

// awaitJoinReply waits for the host's USERNAME reply. Other packets
// arriving first (pings, early broadcasts) are absorbed; the protocol
// guarantees the reply is sent exactly once.
func awaitJoinReply(ctx context.Context, ch transport.Channel, timeout time.Duration) (joinReply, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case payload, ok := <-ch.Recv():
			if !ok {
				return joinReply{}, fmt.Errorf("channel closed during handshake: %w", transport.ErrNetwork)
			}
			pkt := packet.Decode(payload)
			if pkt.Type != packet.Username {
				continue
			}
			reply, ok := parseJoinReply(pkt.ContentString())
			if !ok {
				continue
			}
			return reply, nil
		case <-ch.Done():
			return joinReply{}, fmt.Errorf("channel closed during handshake: %w", transport.ErrNetwork)
		case <-deadline.C:
			return joinReply{}, fmt.Errorf("no username reply from host: %w", transport.ErrNetwork)
		case <-ctx.Done():
			return joinReply{}, fmt.Errorf("join cancelled: %w", ctx.Err())
		}
	}
}

// Username returns the username assigned by the host.
func (c *Client) Username() string { return c.username }

// HostUsername returns the host's username.
func (c *Client) HostUsername() string { return c.hostUsername }

// RoomCode returns the joined room's code.
func (c *Client) RoomCode() string { return c.cfg.RoomCode }

// Send transmits chat text to the host. The host interprets commands
// and routes the result; the text is sent verbatim.
func (c *Client) Send(text string) error {
	if !c.ch.IsOpen() {
		return fmt.Errorf("session closed: %w", transport.ErrNetwork)
	}
	return c.ch.Send(packet.Encode(packet.MessagePacket(text)))
}

// Leave exits the room. It is the expected user-initiated exit and
// produces no Failed notification. Synchronous: when Leave returns no
// further notifications fire. Safe to call more than once.
func (c *Client) Leave() {
	c.leaveOnce.Do(func() {
		ack := make(chan struct{})
		select {
		case c.quit <- ack:
			<-ack
		case <-c.done:
		}
	})
}

// Done is closed once the session has fully shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) run() {
	ping := time.NewTicker(c.hb.Interval)
	check := time.NewTicker(c.hb.Interval)
	defer ping.Stop()
	defer check.Stop()

	// The handshake reply proves the host was alive just now.
	lastSeen := time.Now()

	for {
		select {
		case payload, ok := <-c.ch.Recv():
			if !ok {
				c.fail()
				return
			}
			// Any inbound packet proves the host is alive, same rule
			// the host applies; pings are just the guaranteed minimum
			// traffic on a quiet room.
			lastSeen = time.Now()
			c.handlePacket(payload)
		case <-c.ch.Done():
			c.fail()
			return
		case <-ping.C:
			if err := c.ch.Send(packet.Encode(packet.PingPacket())); err != nil {
				c.log.Debugf("ping failed: %v", err)
			}
		case <-check.C:
			if time.Since(lastSeen) > c.hb.Timeout {
				c.log.Infof("host quiet for %s, leaving", time.Since(lastSeen))
				c.ch.Close()
				c.finish(reasonHostLost)
				return
			}
		case ack := <-c.quit:
			c.ch.Close()
			c.finish("")
			close(ack)
			return
		}
	}
}

func (c *Client) handlePacket(payload []byte) {
	pkt := packet.Decode(payload)
	switch pkt.Type {
	case packet.Ping:
	case packet.Message:
		msg, err := message.Parse(pkt.ContentString())
		if err != nil {
			c.log.Debugf("dropping malformed message: %v", err)
			return
		}
		if c.cfg.Events.Chat != nil {
			c.cfg.Events.Chat(msg)
		}
	case packet.Username:
		// The handshake already completed; a late reply has no effect.
		c.log.Debugf("unexpected username packet after handshake")
	case packet.None:
		c.log.Debugf("undecodable payload from host")
	}
}

// fail handles a remotely closed channel: clean close and transport
// error produce different reasons.
func (c *Client) fail() {
	if c.ch.Err() != nil {
		c.finish(reasonConnError)
	} else {
		c.finish(reasonHostLost)
	}
}

// finish tears the session down. An empty reason (explicit leave)
// produces no notification.
func (c *Client) finish(reason string) {
	c.ch.Close()
	if reason != "" {
		c.log.Infof("session ended: %s", reason)
		if c.cfg.Events.Failed != nil {
			c.cfg.Events.Failed(reason)
		}
	}
	close(c.done)
}
