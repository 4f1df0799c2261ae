// Package routing implements the routing engine described in spec.md
// §4.4: packet ingress verification, duplicate suppression, dispatch by
// packet type, and the relay decision.
//
// Grounded on the teacher's pkg/mcast/core.Peer.process/processInitialMessage
// for overall shape (a single struct owning the mutable pieces, a narrow
// receive entry point dispatching on message kind) generalized from the
// teacher's GM-Cast group-membership protocol to spec.md §4.4's
// flood-relay semantics, which the teacher's quorum-replication domain has
// no equivalent of.
package routing

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/codec"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/registry"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/seen"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Store is the narrow slice of store.Store the routing engine needs:
// message persistence and the exactly-once delivery gate.
type Store interface {
	MessageExists(ctx context.Context, id string) (bool, error)
	SaveMessage(ctx context.Context, m types.Message) error
}

// Relayer broadcasts a relay (or freshly built ACK) packet out every
// available transport except the one the triggering packet arrived on,
// per spec.md §4.4's "except the transport-peer pair it arrived on" rule.
// Core implements this by iterating its live transport drivers.
type Relayer interface {
	RelayBroadcast(ctx context.Context, payload []byte, exceptTransport types.Transport, exceptPeer string)
}

// AckWaiter is consulted when an ACK packet arrives; it reports whether a
// pending-retry entry exists for the acknowledged packet id and, if so,
// cancels it. Implemented by the delivery pipeline, which is the sole
// owner of the pending-retry table per spec.md §5.
type AckWaiter interface {
	HandleAck(packetID string) (found bool)
}

// Handlers are the observer callbacks the routing engine raises, mirroring
// spec.md §6's event list. Core registers these once at construction.
type Handlers struct {
	OnMessageReceived     func(types.Message)
	OnMessageStatusChanged func(types.Message)
	OnMalformedPacket     func(err error)
	OnDuplicateDropped    func(packetID string)
	// OnRelayed fires once per packet this node forwards onward (an
	// observability hook only; the relay decision itself lives in
	// shouldRelay/maybeRelay regardless of whether this is set).
	OnRelayed func()

	// OnAnnounceFromUnknownPeer fires when an ANNOUNCE arrives from a peer
	// the registry has never observed before, per spec.md §4.7's responsive
	// one-shot ANNOUNCE-back. Core wires this directly to the presence
	// loop; it must never fire for DISCOVER or for peers already known,
	// since the reply itself must not be treated as a new discovery by the
	// replying node (that would recurse).
	OnAnnounceFromUnknownPeer func(ctx context.Context, peerID string)
}

// Engine is the routing engine. It holds no transport references of its
// own; Relayer is the only way it reaches outbound transports, keeping it
// independent of which drivers are registered.
type Engine struct {
	localID  string
	maxTTL   int
	seenSet  *seen.Set
	registry *registry.Registry
	store    Store
	relayer  Relayer
	acks     AckWaiter
	handlers Handlers
}

// New builds a routing Engine.
func New(localID string, maxTTL int, seenSet *seen.Set, reg *registry.Registry, store Store, relayer Relayer, acks AckWaiter, handlers Handlers) *Engine {
	return &Engine{
		localID:  localID,
		maxTTL:   maxTTL,
		seenSet:  seenSet,
		registry: reg,
		store:    store,
		relayer:  relayer,
		acks:     acks,
		handlers: handlers,
	}
}

// Receive is the routing engine's entry point, invoked for every packet
// arriving from any transport driver, per spec.md §4.4.
func (e *Engine) Receive(ctx context.Context, p types.Packet, fromTransport types.Transport, fromPeer string) {
	if !codec.Verify(p) {
		if e.handlers.OnMalformedPacket != nil {
			e.handlers.OnMalformedPacket(fmt.Errorf("%w: digest mismatch for packet %s", types.ErrMalformedPacket, p.ID))
		}
		return
	}

	// Steps 2-3 (seen-set test and insert) are atomic under seen.Set's own
	// mutex, satisfying spec.md §5's single-writer requirement.
	if e.seenSet.TestAndInsert(p.ID) {
		if e.handlers.OnDuplicateDropped != nil {
			e.handlers.OnDuplicateDropped(p.ID)
		}
		return
	}

	e.dispatch(ctx, p, fromTransport)
	e.maybeRelay(ctx, p, fromTransport, fromPeer)
}

func (e *Engine) dispatch(ctx context.Context, p types.Packet, fromTransport types.Transport) {
	switch p.Type {
	case types.Message:
		e.handleMessage(ctx, p)
	case types.Ack:
		e.handleAck(p)
	case types.Discover, types.Announce:
		e.handlePresence(ctx, p, fromTransport)
	case types.Ping:
		e.handlePing(p, fromTransport)
	}
}

func (e *Engine) handleMessage(ctx context.Context, p types.Packet) {
	if !p.TargetsLocal(e.localID) {
		return
	}
	exists, _ := e.store.MessageExists(ctx, p.ID)
	if exists {
		return
	}
	msg := types.Message{
		ID:         p.ID,
		Content:    p.Payload,
		SenderID:   p.OriginalSenderID,
		ReceiverID: p.TargetID,
		Timestamp:  p.Timestamp,
		Hops:       append([]string(nil), p.Hops...),
		Status:     types.StatusDelivered,
		Synced:     false,
	}
	if err := e.store.SaveMessage(ctx, msg); err != nil {
		return
	}
	if e.handlers.OnMessageReceived != nil {
		e.handlers.OnMessageReceived(msg)
	}

	ack, err := codec.NewAck(e.localID, p, e.maxTTL)
	if err != nil {
		return
	}
	payload, err := codec.Encode(ack)
	if err != nil {
		return
	}
	e.relayer.RelayBroadcast(ctx, payload, "", "")
}

func (e *Engine) handleAck(p types.Packet) {
	if !e.acks.HandleAck(p.Payload) {
		return
	}
	if e.handlers.OnMessageStatusChanged != nil {
		e.handlers.OnMessageStatusChanged(types.Message{
			ID:     p.Payload,
			Status: types.StatusDelivered,
		})
	}
}

func (e *Engine) handlePresence(ctx context.Context, p types.Packet, fromTransport types.Transport) {
	_, wasKnown := e.registry.Get(p.OriginalSenderID)

	d := types.Device{
		ID:          p.OriginalSenderID,
		IsConnected: true,
		IsOnline:    true,
	}
	applyPresencePayload(&d, p.Payload)
	e.registry.Observe(d, fromTransport)

	if p.Type == types.Announce && !wasKnown && e.handlers.OnAnnounceFromUnknownPeer != nil {
		e.handlers.OnAnnounceFromUnknownPeer(ctx, p.OriginalSenderID)
	}
}

// handlePing decodes a PING packet's payload-carried typing state (the
// only thing PING currently carries, per SendTypingIndicator) and merges
// it into the originating device's registry entry, so OnDeviceUpdated
// actually reaches the application layer for it.
func (e *Engine) handlePing(p types.Packet, fromTransport types.Transport) {
	e.registry.Observe(types.Device{
		ID:          p.OriginalSenderID,
		IsConnected: true,
		IsOnline:    true,
		IsTyping:    p.Payload == "1",
	}, fromTransport)
}

// presencePayload is the JSON shape carried in a DISCOVER/ANNOUNCE
// packet's payload, per spec.md §4.7.
type presencePayload struct {
	Name      string `json:"name"`
	Type      string `json:"type"`
	BrandHint string `json:"brand_hint"`
	OSHint    string `json:"os_hint"`
}

// applyPresencePayload decodes a presence packet's payload onto d. A
// malformed payload leaves d's name/type untouched rather than failing
// the whole observation: presence information is best-effort.
func applyPresencePayload(d *types.Device, payload string) {
	var pp presencePayload
	if err := json.Unmarshal([]byte(payload), &pp); err != nil {
		return
	}
	d.Name = pp.Name
	if pp.Type != "" {
		d.Type = types.DeviceKind(pp.Type)
	}
}

// shouldRelay implements spec.md §4.4's should_relay predicate.
func (e *Engine) shouldRelay(p types.Packet) bool {
	if p.TTL <= 0 {
		return false
	}
	if p.OriginalSenderID == e.localID {
		return false
	}
	if p.HasHop(e.localID) {
		return false
	}
	if p.TargetID == e.localID {
		return false
	}
	return true
}

func (e *Engine) maybeRelay(ctx context.Context, p types.Packet, fromTransport types.Transport, fromPeer string) {
	if !e.shouldRelay(p) {
		return
	}
	relayed, err := codec.Relay(p, e.localID)
	if err != nil {
		return
	}
	payload, err := codec.Encode(relayed)
	if err != nil {
		return
	}
	e.relayer.RelayBroadcast(ctx, payload, fromTransport, fromPeer)
	if e.handlers.OnRelayed != nil {
		e.handlers.OnRelayed()
	}
}
