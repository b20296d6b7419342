// Package relay implements the rendezvous server that routes peer
// channels between identifiers. Peers connect over websocket, bind an
// identifier, and exchange dial/open/data/close frames addressed to
// other bound identifiers. The relay never inspects payloads.
package relay

// Op is the kind of a relay frame.
type Op string

const (
	// OpBind claims an identifier. First frame a peer must send.
	OpBind Op = "bind"
	// OpBound acknowledges a successful bind.
	OpBound Op = "bound"
	// OpDial asks to open a logical channel to Target.
	OpDial Op = "dial"
	// OpOpen accepts a dial.
	OpOpen Op = "open"
	// OpData carries a payload on an established channel.
	OpData Op = "data"
	// OpClose closes a logical channel.
	OpClose Op = "close"
	// OpError reports a failure ("id-taken", "not-found", "not-bound").
	OpError Op = "error"
)

// Error reasons carried on OpError frames.
const (
	ReasonIDTaken  = "id-taken"
	ReasonNotFound = "not-found"
	ReasonNotBound = "not-bound"
)

// Frame is the relay wire unit, JSON-encoded over the websocket.
type Frame struct {
	Op Op `json:"op"`
	// ID is the identifier to claim (bind frames only).
	ID string `json:"id,omitempty"`
	// Target is the destination identifier of a routed frame.
	Target string `json:"target,omitempty"`
	// From is the origin identifier, stamped by the relay.
	From string `json:"from,omitempty"`
	// Channel is the logical channel id the frame belongs to.
	Channel string `json:"chan,omitempty"`
	// Data is the payload of a data frame.
	Data string `json:"data,omitempty"`
	// Reason qualifies error frames.
	Reason string `json:"reason,omitempty"`
}
