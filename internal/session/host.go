package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/auranym/dicechat/internal/command"
	"github.com/auranym/dicechat/internal/message"
	"github.com/auranym/dicechat/internal/packet"
	"github.com/auranym/dicechat/internal/roomcode"
	"github.com/auranym/dicechat/internal/transport"
	"github.com/auranym/dicechat/pkg/logger"
)

// maxAllocationAttempts bounds the room code allocation retry loop.
const maxAllocationAttempts = 10

// HostEvents are the notification callbacks for a hosted room. They are
// fixed at construction and invoked from the session's event loop, so
// they must not block and must not call back into the session.
type HostEvents struct {
	// Joined fires once per client, after its username is assigned.
	Joined func(username string)
	// Left fires when a joined client disconnects, with the username
	// it held. Clients that never finished the handshake do not fire.
	Left func(username string)
	// Chat delivers a line for the host's own local view.
	Chat func(msg message.Message)
	// Closed fires exactly once, when the room shuts down.
	Closed func(reason string)
}

// HostConfig configures OpenRoom.
type HostConfig struct {
	// Username of the host. Required, non-empty.
	Username string
	// Transport used to listen for clients. Required.
	Transport transport.Transport
	// Commands handled by the room. Defaults to the built-in set.
	Commands *command.Registry
	// Heartbeat timings. Zero fields take defaults.
	Heartbeat Heartbeat
	// Logger. Defaults to a no-op logger.
	Logger logger.Logger
	// Events callbacks. Individual callbacks may be nil.
	Events HostEvents
}

// participant is the host-side record for one connected client. It is
// created as soon as the transport connection arrives, before the join
// handshake; username stays empty until the handshake completes.
type participant struct {
	handle   int
	ch       transport.Channel
	username string
	lastSeen time.Time
}

// Host is an open room session. All state is confined to the run loop
// goroutine; public methods communicate with it over channels.
type Host struct {
	cfg  HostConfig
	hb   Heartbeat
	code string
	ln   transport.Listener
	log  logger.Logger
	reg  *command.Registry

	participants map[int]*participant
	nextHandle   int

	events chan hostEvent
	tasks  chan func()
	quit   chan chan struct{}
	done   chan struct{}

	closeOnce sync.Once
}

type hostEvent struct {
	handle  int
	payload []byte
	closed  bool
}

// OpenRoom allocates a room code, claims its transport identifier and
// starts the session. Allocation retries on identifier collisions up to
// a fixed bound; any other transport failure is fatal and returned
// as-is for classification with FatalReason.
func OpenRoom(ctx context.Context, cfg HostConfig) (*Host, error) {
	if cfg.Username == "" {
		return nil, ErrInvalidUsername
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.Nop()
	}
	if cfg.Commands == nil {
		cfg.Commands = command.Default(rand.New(rand.NewSource(time.Now().UnixNano())))
	}

	log := cfg.Logger.WithModule("host")

	var (
		code string
		ln   transport.Listener
	)
	for attempt := 1; attempt <= maxAllocationAttempts; attempt++ {
		candidate := roomcode.Generate()
		l, err := cfg.Transport.Listen(ctx, roomcode.TransportID(candidate))
		if err == nil {
			code, ln = candidate, l
			break
		}
		if errors.Is(err, transport.ErrIDTaken) {
			log.Debugf("room code %s taken, retrying (attempt %d)", candidate, attempt)
			continue
		}
		return nil, fmt.Errorf("open room: %w", err)
	}
	if ln == nil {
		return nil, ErrAllocationExhausted
	}

	h := &Host{
		cfg:          cfg,
		hb:           cfg.Heartbeat.orDefault(),
		code:         code,
		ln:           ln,
		log:          log,
		reg:          cfg.Commands,
		participants: make(map[int]*participant),
		events:       make(chan hostEvent, 64),
		tasks:        make(chan func(), 16),
		quit:         make(chan chan struct{}),
		done:         make(chan struct{}),
	}
	log.Infof("room %s open", code)
	go h.run()
	return h, nil
}

// RoomCode returns the allocated room code.
func (h *Host) RoomCode() string { return h.code }

// Username returns the host's username.
func (h *Host) Username() string { return h.cfg.Username }

// Usernames returns the usernames of currently joined clients. The
// request round-trips through the event loop; after shutdown it
// returns nil.
func (h *Host) Usernames() []string {
	reply := make(chan []string, 1)
	select {
	case h.tasks <- func() { reply <- h.joinedUsernames() }:
		// The loop may exit before draining the queue; a task that was
		// accepted but never run must not strand the caller.
		select {
		case names := <-reply:
			return names
		case <-h.done:
			return nil
		}
	case <-h.done:
		return nil
	}
}

// roomView is the command.Context handed to command dispatch. It is a
// snapshot taken inside the event loop, so appliers can query the room
// without touching live session state.
type roomView struct {
	host  string
	names []string
}

func (v roomView) HostUsername() string { return v.host }

func (v roomView) Usernames() []string { return v.names }

// Say processes text typed by the host user: commands are dispatched,
// plain text is broadcast attributed to the host.
func (h *Host) Say(text string) {
	h.submit(func() { h.handleChat(h.cfg.Username, text) })
}

// Announce broadcasts an unattributed system line to everyone and
// echoes it to the host's local view.
func (h *Host) Announce(text string) {
	h.submit(func() { h.deliver(message.System(text), nil) })
}

// Close shuts the room down: every client channel is closed, the
// listening identifier is released and the Closed notification fires
// with reason "Room was closed.". Synchronous: when Close returns no
// further notifications fire. Safe to call more than once.
func (h *Host) Close() {
	h.closeOnce.Do(func() {
		ack := make(chan struct{})
		select {
		case h.quit <- ack:
			<-ack
		case <-h.done:
		}
	})
}

// Done is closed once the session has fully shut down.
func (h *Host) Done() <-chan struct{} { return h.done }

func (h *Host) submit(task func()) {
	select {
	case h.tasks <- task:
	case <-h.done:
	}
}

func (h *Host) joinedUsernames() []string {
	names := make([]string, 0, len(h.participants))
	for _, p := range h.participants {
		if p.username != "" {
			names = append(names, p.username)
		}
	}
	slices.Sort(names)
	return names
}

func (h *Host) run() {
	ping := time.NewTicker(h.hb.Interval)
	check := time.NewTicker(h.hb.Interval)
	defer ping.Stop()
	defer check.Stop()

	accept := h.ln.Accept()
	for {
		select {
		case ch, ok := <-accept:
			if !ok {
				// Listener died underneath us: fatal.
				h.shutdown(reasonRoomLost)
				return
			}
			h.addParticipant(ch)
		case ev := <-h.events:
			if ev.closed {
				h.removeParticipant(ev.handle)
			} else {
				h.handlePacket(ev.handle, ev.payload)
			}
		case task := <-h.tasks:
			task()
		case <-ping.C:
			h.broadcastPing()
		case <-check.C:
			h.checkLiveness()
		case ack := <-h.quit:
			h.shutdown(reasonRoomClosed)
			close(ack)
			return
		}
	}
}

func (h *Host) addParticipant(ch transport.Channel) {
	h.nextHandle++
	p := &participant{
		handle: h.nextHandle,
		ch:     ch,
		// Initialized at channel open so a slow handshake is not
		// immediately flagged as dead.
		lastSeen: time.Now(),
	}
	h.participants[p.handle] = p
	h.log.Debugf("channel %s connected (handle %d)", ch.ID(), p.handle)

	go h.pump(p.handle, ch)
}

// pump forwards one channel's inbound payloads into the event loop.
func (h *Host) pump(handle int, ch transport.Channel) {
	for payload := range ch.Recv() {
		select {
		case h.events <- hostEvent{handle: handle, payload: payload}:
		case <-h.done:
			return
		}
	}
	select {
	case h.events <- hostEvent{handle: handle, closed: true}:
	case <-h.done:
	}
}

func (h *Host) removeParticipant(handle int) {
	p, ok := h.participants[handle]
	if !ok {
		// Duplicate close event; already removed.
		return
	}
	delete(h.participants, handle)
	p.ch.Close()

	if p.username != "" {
		h.log.Infof("%s left", p.username)
		if h.cfg.Events.Left != nil {
			h.cfg.Events.Left(p.username)
		}
	} else {
		h.log.Debugf("channel %s closed before handshake", p.ch.ID())
	}
}

func (h *Host) handlePacket(handle int, payload []byte) {
	p, ok := h.participants[handle]
	if !ok {
		// Event raced with removal; drop it.
		return
	}
	// Any inbound packet proves the peer is alive.
	p.lastSeen = time.Now()

	pkt := packet.Decode(payload)
	switch pkt.Type {
	case packet.Ping:
	case packet.Username:
		h.handleJoin(p, pkt.ContentString())
	case packet.Message:
		if p.username != "" {
			h.handleChat(p.username, pkt.ContentString())
		}
		// Pre-handshake messages have no resolved sender; ignore.
	case packet.None:
		h.log.Debugf("undecodable payload from channel %s", p.ch.ID())
	}
}

// handleJoin completes the join handshake: arbitrate the requested
// username, reply with the assignment, and fire Joined. A repeated
// USERNAME packet from the same participant is ignored, so Joined fires
// at most once per participant.
func (h *Host) handleJoin(p *participant, requested string) {
	if p.username != "" {
		return
	}
	resolved := h.resolveUsername(requested)
	p.username = resolved

	reply := joinReply{Client: resolved, Host: h.cfg.Username}.encode()
	if err := p.ch.Send(packet.Encode(packet.UsernamePacket(reply))); err != nil {
		h.log.Errorf("username reply to %s failed: %v", resolved, err)
	}

	h.log.Infof("%s joined", resolved)
	if h.cfg.Events.Joined != nil {
		h.cfg.Events.Joined(resolved)
	}
}

// resolveUsername returns requested if free, otherwise the first free
// name with an increasing integer suffix: name, name2, name3, ...
func (h *Host) resolveUsername(requested string) string {
	if requested == "" {
		requested = "user"
	}
	taken := func(name string) bool {
		if name == h.cfg.Username {
			return true
		}
		for _, p := range h.participants {
			if p.username == name {
				return true
			}
		}
		return false
	}

	if !taken(requested) {
		return requested
	}
	for i := 2; ; i++ {
		candidate := requested + strconv.Itoa(i)
		if !taken(candidate) {
			return candidate
		}
	}
}

// handleChat routes one logical chat message from sender (host or
// client) through the command engine.
func (h *Host) handleChat(sender, text string) {
	view := roomView{host: h.cfg.Username, names: h.joinedUsernames()}
	out := command.Dispatch(h.reg, view, sender, text)
	switch {
	case !out.IsCommand:
		h.deliver(message.New(sender, text), nil)
	case out.Reject:
		// Misuse notices go to the sender only.
		h.deliver(out.Msg, []string{sender})
	default:
		h.deliver(out.Msg, out.Targets)
	}
}

// deliver sends msg to the targeted participants and echoes it into the
// host's local view when the host is targeted. targets == nil means
// every open channel, handshake completed or not; a targeted send can
// only match participants that hold a username. The host never holds a
// wire channel to itself, so a self-targeted send produces the local
// echo exactly once and nothing on the wire.
func (h *Host) deliver(msg message.Message, targets []string) {
	enc := packet.Encode(packet.MessagePacket(msg.Encode()))
	for _, p := range h.participants {
		if targets != nil && (p.username == "" || !slices.Contains(targets, p.username)) {
			continue
		}
		if !p.ch.IsOpen() {
			// Never queue for a channel that is not open.
			continue
		}
		if err := p.ch.Send(enc); err != nil {
			h.log.Errorf("send to channel %s failed: %v", p.ch.ID(), err)
		}
	}

	if targets == nil || slices.Contains(targets, h.cfg.Username) {
		if h.cfg.Events.Chat != nil {
			h.cfg.Events.Chat(msg)
		}
	}
}

func (h *Host) broadcastPing() {
	enc := packet.Encode(packet.PingPacket())
	for _, p := range h.participants {
		if !p.ch.IsOpen() {
			continue
		}
		if err := p.ch.Send(enc); err != nil {
			h.log.Debugf("ping to channel %s failed: %v", p.ch.ID(), err)
		}
	}
}

// checkLiveness closes every channel whose peer has been quiet for
// longer than the staleness threshold. The close surfaces back through
// the pump as a close event, which removes the record and fires Left.
func (h *Host) checkLiveness() {
	cutoff := time.Now().Add(-h.hb.Timeout)
	for _, p := range h.participants {
		if p.lastSeen.Before(cutoff) {
			h.log.Infof("channel %s timed out", p.ch.ID())
			p.ch.Close()
		}
	}
}

func (h *Host) shutdown(reason string) {
	for _, p := range h.participants {
		p.ch.Close()
	}
	h.participants = make(map[int]*participant)
	h.ln.Close()

	h.log.Infof("room %s closed: %s", h.code, reason)
	if h.cfg.Events.Closed != nil {
		h.cfg.Events.Closed(reason)
	}
	close(h.done)
}
