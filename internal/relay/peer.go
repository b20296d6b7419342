package relay

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/auranym/dicechat/pkg/logger"
)

// sendBuffer bounds a peer's outbound frame queue. A peer that cannot
// drain its queue is dropped rather than blocking the hub.
const sendBuffer = 256

// refreshEvery keeps a bound peer's registry claim alive.
const refreshEvery = claimTTL / 3

// Peer represents a single websocket connection to the relay.
type Peer struct {
	ws   *websocket.Conn
	send chan Frame
	hub  *Hub
	log  logger.Logger

	// done signals shutdown. The send channel itself is never closed:
	// the hub may still hold a reference to this peer and enqueue
	// concurrently with teardown.
	done     chan struct{}
	stopOnce sync.Once

	// id is the bound identifier; empty until a bind frame arrives.
	// Written by ReadPump, read by the refresh goroutine and the hub.
	idMu sync.RWMutex
	id   string
}

func (p *Peer) boundID() string {
	p.idMu.RLock()
	defer p.idMu.RUnlock()
	return p.id
}

func (p *Peer) setBoundID(id string) {
	p.idMu.Lock()
	p.id = id
	p.idMu.Unlock()
}

// NewPeer wraps an upgraded websocket connection. The caller starts
// the pumps.
func NewPeer(ws *websocket.Conn, hub *Hub, log logger.Logger) *Peer {
	return &Peer{
		ws:   ws,
		send: make(chan Frame, sendBuffer),
		hub:  hub,
		log:  log,
		done: make(chan struct{}),
	}
}

// enqueue queues a frame for delivery. Reports whether there was room.
// Safe to call concurrently with stop.
func (p *Peer) enqueue(f Frame) bool {
	select {
	case <-p.done:
		return false
	default:
	}
	select {
	case p.send <- f:
		return true
	default:
		return false
	}
}

// ReadPump consumes frames from the websocket until it closes, then
// unbinds the peer.
func (p *Peer) ReadPump() {
	done := make(chan struct{})
	defer func() {
		close(done)
		p.hub.unbind(p)
		p.ws.Close()
	}()

	refresh := time.NewTicker(refreshEvery)
	go func() {
		defer refresh.Stop()
		for {
			select {
			case <-refresh.C:
				p.hub.refresh(p)
			case <-done:
				return
			}
		}
	}()

	for {
		var f Frame
		if err := p.ws.ReadJSON(&f); err != nil {
			p.log.Debugf("peer %q read: %v", p.boundID(), err)
			return
		}
		p.handle(f)
	}
}

// WritePump drains the send queue into the websocket until the peer
// stops.
func (p *Peer) WritePump() {
	defer p.ws.Close()

	for {
		select {
		case f := <-p.send:
			if err := p.ws.WriteJSON(f); err != nil {
				p.log.Debugf("peer %q write: %v", p.boundID(), err)
				return
			}
		case <-p.done:
			return
		}
	}
}

func (p *Peer) handle(f Frame) {
	switch f.Op {
	case OpBind:
		p.handleBind(f)
	case OpDial, OpOpen, OpData, OpClose:
		if p.boundID() == "" {
			p.enqueue(Frame{Op: OpError, Channel: f.Channel, Reason: ReasonNotBound})
			return
		}
		p.hub.route(p, f)
	default:
		p.log.Debugf("peer %q sent unknown op %q", p.boundID(), f.Op)
	}
}

func (p *Peer) handleBind(f Frame) {
	if p.boundID() != "" || f.ID == "" {
		p.enqueue(Frame{Op: OpError, Reason: ReasonNotBound})
		return
	}
	if err := p.hub.bind(p, f.ID); err != nil {
		p.log.Infof("bind %q rejected: %v", f.ID, err)
		p.enqueue(Frame{Op: OpError, Reason: ReasonIDTaken})
		return
	}
	p.setBoundID(f.ID)
	p.enqueue(Frame{Op: OpBound, ID: f.ID})
}

// stop releases WritePump and marks the peer dead for enqueue.
// Idempotent.
func (p *Peer) stop() {
	p.stopOnce.Do(func() { close(p.done) })
}
