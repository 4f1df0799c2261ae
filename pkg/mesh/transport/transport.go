// Package transport defines the driver contract every concrete transport
// (pkg/mesh/transport/local, /internet, /rendezvous, /lanmdns, /native)
// implements, per spec.md §4.8.
//
// Grounded on the teacher's pkg/mcast/core.Transport interface shape (a
// narrow Broadcast/Listen/Close contract the rest of the system depends
// on through an interface, never a concrete type) generalized to the
// spec's richer per-peer send, peer-presence, and availability callbacks,
// since the teacher's single reliable-broadcast transport has no concept
// of multiple heterogeneous drivers running side by side.
package transport

import (
	"context"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// PeerDescriptor is what a driver reports when it observes a peer, before
// that observation is merged into the registry's richer types.Device view.
type PeerDescriptor struct {
	PeerID         string
	Name           string
	SignalStrength int
	Kind           types.DeviceKind
}

// Callbacks is the set of hooks a Driver invokes as it observes the
// network. Core wires these once at construction time; per spec.md's
// "dynamic event handlers become a small typed observer record" redesign
// note, this is a plain struct of function fields, not a registry keyed
// by string event name.
type Callbacks struct {
	// OnPeerObserved fires whenever the driver sees a peer, new or already
	// known (e.g. on every received packet from that peer).
	OnPeerObserved func(PeerDescriptor)

	// OnBytes fires for every inbound payload, already stripped of any
	// driver-specific framing. The driver does not interpret the bytes.
	OnBytes func(peerID string, payload []byte)

	// OnPeerLost fires when the driver itself determines a peer dropped
	// (e.g. a connection close), independent of the registry's own
	// timeout sweep.
	OnPeerLost func(peerID string)

	// OnAvailableChanged fires whenever the driver's overall availability
	// flips, feeding the selector's transport-metrics table.
	OnAvailableChanged func(available bool)
}

// Driver is the contract every transport implementation satisfies. Drivers
// MUST NOT interpret packet contents; every payload is an opaque byte
// sequence to them.
type Driver interface {
	// Kind identifies which types.Transport this driver backs.
	Kind() types.Transport

	// Start begins operating the driver: dialing, listening, advertising,
	// whatever the concrete transport requires. Start must be idempotent
	// against a context that is already done.
	Start(ctx context.Context, callbacks Callbacks) error

	// Stop releases every resource Start acquired. It must not block
	// indefinitely; callers are expected to bound it with ctx.
	Stop(ctx context.Context) error

	// Broadcast is a best-effort fan-out to every currently reachable peer
	// on this transport.
	Broadcast(ctx context.Context, payload []byte) error

	// Send attempts delivery to a single peer.
	Send(ctx context.Context, peerID string, payload []byte) error
}

// ExclusiveBroadcaster is an optional capability a Driver can implement
// when it can enumerate its currently reachable peers individually. The
// routing engine's relay step (spec.md §4.4) wants to fan a relayed packet
// out to every connected peer except the one it just arrived from, to
// avoid an immediate bounce-back; a driver that cannot address peers
// individually (a raw broadcast medium) simply has no use for this and
// falls back to plain Broadcast, which is still correct since the
// hop-list and origin checks in shouldRelay reject the bounced copy.
type ExclusiveBroadcaster interface {
	BroadcastExcept(ctx context.Context, payload []byte, exceptPeer string) error
}
