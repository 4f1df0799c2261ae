package meshtest

import (
	"context"
	"sync"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// envelope is one in-flight payload addressed from one node to another.
type envelope struct {
	from    string
	to      string
	payload []byte
}

// peerState tracks one node's registration on a Bus.
type peerState struct {
	cb     transport.Callbacks
	online bool
}

// Bus is an in-memory, topology-aware stand-in for one concrete transport
// kind, shared by every Node that registers onto it. Unlike a raw
// broadcast medium, Bus queues payloads in a FIFO mailbox and only
// delivers them when the test calls Pump/PumpAll, giving scenario tests
// full control over hop-by-hop ordering; a payload addressed to a
// currently offline node is held rather than dropped, mirroring a
// store-and-forward relay (the rendezvous transport's defining property).
type Bus struct {
	kind types.Transport

	mu     sync.Mutex
	peers  map[string]*peerState
	edges  map[string]map[string]bool
	queue  []envelope
}

// NewBus builds a Bus representing one transport kind.
func NewBus(kind types.Transport) *Bus {
	return &Bus{
		kind:  kind,
		peers: make(map[string]*peerState),
		edges: make(map[string]map[string]bool),
	}
}

// Connect makes a and b directly reachable over this bus, in both
// directions, firing OnPeerObserved immediately on both sides if already
// started (mirroring a transport learning about a newly reachable peer).
func (b *Bus) Connect(a, b2 string) {
	b.mu.Lock()
	b.edge(a, b2, true)
	b.edge(b2, a, true)
	pa, aok := b.peers[a]
	pb, bok := b.peers[b2]
	b.mu.Unlock()

	if aok && pa.online {
		pa.cb.OnPeerObserved(transport.PeerDescriptor{PeerID: b2})
	}
	if bok && pb.online {
		pb.cb.OnPeerObserved(transport.PeerDescriptor{PeerID: a})
	}
}

func (b *Bus) edge(from, to string, up bool) {
	if b.edges[from] == nil {
		b.edges[from] = make(map[string]bool)
	}
	b.edges[from][to] = up
}

func (b *Bus) connected(from, to string) bool {
	return b.edges[from] != nil && b.edges[from][to]
}

// register installs (or updates) a node's callbacks and flushes any
// backlog addressed to it that accumulated while it was offline or not
// yet registered.
func (b *Bus) register(id string, cb transport.Callbacks) {
	b.mu.Lock()
	b.peers[id] = &peerState{cb: cb, online: true}
	var backlog []envelope
	var remaining []envelope
	for _, e := range b.queue {
		if e.to == id {
			backlog = append(backlog, e)
		} else {
			remaining = append(remaining, e)
		}
	}
	b.queue = remaining
	b.mu.Unlock()

	for _, e := range backlog {
		cb.OnBytes(e.from, e.payload)
	}
}

func (b *Bus) unregister(id string) {
	b.mu.Lock()
	if p, ok := b.peers[id]; ok {
		p.online = false
	}
	b.mu.Unlock()
}

func (b *Bus) broadcast(from string, payload []byte) {
	b.broadcastExcept(from, payload, "")
}

func (b *Bus) broadcastExcept(from string, payload []byte, exceptPeer string) {
	b.mu.Lock()
	var targets []string
	for to, up := range b.edges[from] {
		if up && to != exceptPeer {
			targets = append(targets, to)
		}
	}
	for _, to := range targets {
		b.queue = append(b.queue, envelope{from: from, to: to, payload: payload})
	}
	b.mu.Unlock()
}

// Inject enqueues payload as if it arrived directly from `from` to `to`
// over this bus, bypassing any connectivity check. It simulates a packet
// observed out of band on a distinct transport medium — e.g. a duplicate
// copy reaching a node via a second transport while a relay is in flight.
func (b *Bus) Inject(from, to string, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queue = append(b.queue, envelope{from: from, to: to, payload: payload})
}

func (b *Bus) send(from, to string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.connected(from, to) {
		return types.ErrTransportUnavailable
	}
	b.queue = append(b.queue, envelope{from: from, to: to, payload: payload})
	return nil
}

// Pump delivers up to n queued envelopes. Within each single delivery it
// scans the queue for the first envelope addressed to a currently online
// node — rather than strict head-of-queue order — so that one envelope
// stuck against an offline recipient never blocks delivery of later
// envelopes addressed to reachable nodes. It returns how many were
// actually delivered.
func (b *Bus) Pump(n int) int {
	delivered := 0
	for delivered < n {
		b.mu.Lock()
		idx := -1
		for i, e := range b.queue {
			if p, ok := b.peers[e.to]; ok && p.online {
				idx = i
				break
			}
		}
		if idx == -1 {
			b.mu.Unlock()
			break
		}
		e := b.queue[idx]
		b.queue = append(b.queue[:idx], b.queue[idx+1:]...)
		cb := b.peers[e.to].cb
		b.mu.Unlock()
		cb.OnBytes(e.from, e.payload)
		delivered++
	}
	return delivered
}

// PumpAll drains the queue until empty or maxRounds envelope-delivery
// attempts have been made, whichever comes first (a safety bound against
// an infinite relay loop in a misconfigured topology).
func (b *Bus) PumpAll(maxRounds int) int {
	total := 0
	for i := 0; i < maxRounds; i++ {
		n := b.Pump(1)
		if n == 0 {
			break
		}
		total += n
	}
	return total
}

// QueueLen reports how many envelopes are currently waiting.
func (b *Bus) QueueLen() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queue)
}

// Tamper mutates the payload of the envelope at the head of the queue,
// used to simulate bit-flip corruption in transit. That is the next
// envelope Pump delivers only if its recipient is online. It is a no-op if
// the queue is empty.
func (b *Bus) Tamper(fn func([]byte) []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.queue) == 0 {
		return
	}
	b.queue[0].payload = fn(b.queue[0].payload)
}

// driver is the transport.Driver adapting one node's registration onto a
// Bus.
type driver struct {
	bus *Bus
	id  string
}

// Driver returns a transport.Driver for id over this bus. Start/Stop
// register and unregister it; Broadcast/Send enqueue onto the bus's
// mailbox per the usual semantics of that call.
func (b *Bus) Driver(id string) transport.Driver {
	return &driver{bus: b, id: id}
}

func (d *driver) Kind() types.Transport { return d.bus.kind }

func (d *driver) Start(ctx context.Context, cb transport.Callbacks) error {
	d.bus.register(d.id, cb)
	if cb.OnAvailableChanged != nil {
		cb.OnAvailableChanged(true)
	}
	return nil
}

func (d *driver) Stop(ctx context.Context) error {
	d.bus.unregister(d.id)
	return nil
}

func (d *driver) Broadcast(ctx context.Context, payload []byte) error {
	d.bus.broadcast(d.id, payload)
	return nil
}

func (d *driver) Send(ctx context.Context, peerID string, payload []byte) error {
	return d.bus.send(d.id, peerID, payload)
}

// BroadcastExcept implements transport.ExclusiveBroadcaster: the Bus can
// enumerate a node's neighbors directly, so exclusion is just a filter over
// broadcast's target list rather than a per-receiver self-check.
func (d *driver) BroadcastExcept(ctx context.Context, payload []byte, exceptPeer string) error {
	d.bus.broadcastExcept(d.id, payload, exceptPeer)
	return nil
}

var (
	_ transport.Driver              = (*driver)(nil)
	_ transport.ExclusiveBroadcaster = (*driver)(nil)
)
