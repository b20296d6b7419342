package relay

import (
	"context"
	"sync"

	"github.com/auranym/dicechat/pkg/logger"
)

// Hub routes frames between bound peers. Bind exclusivity is enforced
// through the Registry so multiple relay instances can share one
// identifier space.
type Hub struct {
	mu       sync.RWMutex
	peers    map[string]*Peer
	registry Registry
	log      logger.Logger
}

// NewHub returns a hub backed by the given registry.
func NewHub(registry Registry, log logger.Logger) *Hub {
	return &Hub{
		peers:    make(map[string]*Peer),
		registry: registry,
		log:      log,
	}
}

// bind claims id for the peer.
func (h *Hub) bind(p *Peer, id string) error {
	if err := h.registry.Claim(context.Background(), id); err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.peers[id] = p
	h.log.Debugf("bound %q", id)
	return nil
}

// unbind releases the peer's identifier and drops it from routing.
// A peer that never bound is a no-op.
func (h *Hub) unbind(p *Peer) {
	id := p.boundID()
	if id == "" {
		p.stop()
		return
	}

	h.mu.Lock()
	if h.peers[id] == p {
		delete(h.peers, id)
	}
	h.mu.Unlock()

	h.registry.Release(context.Background(), id)
	p.stop()
	h.log.Debugf("unbound %q", id)
}

// refresh keeps the peer's registry claim alive.
func (h *Hub) refresh(p *Peer) {
	id := p.boundID()
	if id == "" {
		return
	}
	if err := h.registry.Refresh(context.Background(), id); err != nil {
		h.log.Errorf("refresh claim %q: %v", id, err)
	}
}

// route forwards a frame from p to the peer bound at f.Target. The
// relay stamps From so the receiver can address replies; payloads pass
// through untouched.
func (h *Hub) route(p *Peer, f Frame) {
	h.mu.RLock()
	target, ok := h.peers[f.Target]
	h.mu.RUnlock()

	if !ok {
		p.enqueue(Frame{Op: OpError, Channel: f.Channel, Reason: ReasonNotFound})
		return
	}

	f.From = p.boundID()
	f.Target = ""
	if !target.enqueue(f) {
		// Slow consumer; frames are best-effort.
		h.log.Debugf("dropping frame for %q: send queue full", target.boundID())
	}
}

// Close drops all peers. Websocket shutdown is handled by the pumps.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, p := range h.peers {
		delete(h.peers, id)
		h.registry.Release(context.Background(), id)
		p.stop()
		_ = p.ws.Close()
	}
}
