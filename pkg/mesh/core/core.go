// Package core assembles every mesh component into a single Core
// aggregate, constructed once per node, per spec.md §9's redesign note
// turning the original's global singletons (identity, peer registry,
// selector, relay adapter, unified façade) into explicit owned structs.
//
// Grounded on the teacher's pkg/mcast.Unity as the aggregate-façade shape
// (one struct owning configuration, transport, and the processing
// pipeline, exposing a small set of public commands) generalized from the
// teacher's quorum-replication façade to spec.md §6's richer
// device/message/scanning command surface.
package core

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/codec"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/delivery"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/idutil"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/metrics"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/presence"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/registry"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/rendezvous"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/routing"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/seen"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/selector"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/store"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Handlers is the typed observer record spec.md §9 calls for in place of
// dynamic, string-keyed event handlers. Callers register closures once,
// at construction.
type Handlers struct {
	OnDeviceDiscovered        func(types.Device)
	OnDeviceUpdated           func(types.Device)
	OnDeviceLost              func(deviceID string)
	OnMessageReceived         func(types.Message)
	OnMessageStatusChanged    func(messageID string, status types.MessageStatus)
	OnScanStateChanged        func(scanning bool)
	OnConnectionStatusChanged func(isOnline bool, available []types.Transport)
}

// Core owns every piece of mutable mesh state for a single node:
// identity, peer registry, selector, seen-set, routing engine, delivery
// pipeline, presence loop, and the registered transport drivers.
type Core struct {
	log     types.Logger
	store   store.Store
	cfg     types.Config
	metrics *metrics.Metrics

	nodeID string
	name   string

	seenSet  *seen.Set
	registry *registry.Registry
	selector *selector.Selector
	routing  *routing.Engine
	delivery *delivery.Pipeline
	presence *presence.Loop
	syncer   *rendezvous.Syncer

	mu       sync.Mutex
	drivers  map[types.Transport]transport.Driver
	handlers Handlers

	scanning bool
	ctx      context.Context
	cancel   context.CancelFunc
}

// New constructs a Core around an already-opened durable store, a logger,
// and the config to run with. m is the Prometheus instrumentation to
// update as the mesh engine runs; it may be nil, in which case Core skips
// every metrics update. It does not start anything; call Initialize to
// bring the node up.
func New(st store.Store, log types.Logger, cfg types.Config, handlers Handlers, m *metrics.Metrics) *Core {
	return &Core{
		log:      log,
		store:    st,
		cfg:      cfg,
		metrics:  m,
		drivers:  make(map[types.Transport]transport.Driver),
		handlers: handlers,
	}
}

// Initialize implements spec.md §6's initialize(): it loads or creates
// this node's stable identity, restores the pending-retry table from
// durable storage (the registry and selector start empty), and wires the routing engine and delivery
// pipeline together. Identity failures are fatal and bubble to the
// caller, per spec.md §7.
func (c *Core) Initialize(ctx context.Context, defaultName string) (deviceID, deviceName string, err error) {
	nodeID, name, found, err := c.store.LoadIdentity(ctx)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", types.ErrIdentityUnavailable, err)
	}
	if !found {
		nodeID = idutil.NewNodeID()
		name = defaultName
		if err := c.store.SaveIdentity(ctx, nodeID, name); err != nil {
			return "", "", fmt.Errorf("%w: %v", types.ErrIdentityUnavailable, err)
		}
	}
	c.nodeID = nodeID
	c.name = name

	c.seenSet = seen.New(c.cfg.SeenSetHigh, c.cfg.SeenSetLow)
	c.selector = selector.New()
	c.registry = registry.New(c.nodeID, c.cfg.SoftPeerTimeoutLocal, c.cfg.SoftPeerTimeoutRemote, c.cfg.HardPeerTimeout)
	c.registry.OnUpdated(func(d types.Device) {
		if c.handlers.OnDeviceUpdated != nil {
			c.handlers.OnDeviceUpdated(d)
		}
	})
	c.registry.OnLost(func(d types.Device) {
		if c.handlers.OnDeviceLost != nil {
			c.handlers.OnDeviceLost(d.ID)
		}
	})

	routingHandlers := routing.Handlers{
		OnMessageReceived: func(m types.Message) {
			if c.metrics != nil {
				c.metrics.MessagesDelivered.Inc()
			}
			if c.handlers.OnMessageReceived != nil {
				c.handlers.OnMessageReceived(m)
			}
		},
		OnMessageStatusChanged: func(m types.Message) {
			if c.handlers.OnMessageStatusChanged != nil {
				c.handlers.OnMessageStatusChanged(m.ID, m.Status)
			}
		},
		OnMalformedPacket: func(err error) {
			if c.metrics != nil {
				c.metrics.MalformedPackets.Inc()
			}
			c.log.Warnf("routing: %v", err)
		},
		OnDuplicateDropped: func(packetID string) {
			if c.metrics != nil {
				c.metrics.DuplicatesDropped.Inc()
			}
			c.log.Debugf("routing: dropped duplicate packet %s", packetID)
		},
		OnAnnounceFromUnknownPeer: func(ctx context.Context, peerID string) {
			c.presence.OnAnnounceFromUnknownPeer(ctx, peerID)
		},
		OnRelayed: func() {
			if c.metrics != nil {
				c.metrics.RelayCount.Inc()
			}
		},
	}

	deliveryHandlers := delivery.Handlers{
		OnMessageStatusChanged: func(m types.Message) {
			if c.metrics != nil && m.Status == types.StatusFailed {
				c.metrics.MessagesFailed.Inc()
			}
			if c.handlers.OnMessageStatusChanged != nil {
				c.handlers.OnMessageStatusChanged(m.ID, m.Status)
			}
		},
		OnRetryAttempted: func() {
			if c.metrics != nil {
				c.metrics.RetryCount.Inc()
			}
		},
	}
	c.delivery = delivery.New(c.nodeID, c.cfg, c.store, c.selector, c, deliveryHandlers)
	c.routing = routing.New(c.nodeID, c.cfg.MaxTTL, c.seenSet, c.registry, c.store, c, c.delivery, routingHandlers)

	c.presence = presence.New(c.nodeID, c.cfg, c, func() presence.SelfDescription {
		return presence.SelfDescription{Name: c.name}
	})

	if err := c.delivery.LoadPending(ctx); err != nil {
		c.log.Warnf("delivery: failed loading pending retries: %v", err)
	}

	c.registry.Start()
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.presence.Start(c.ctx)

	return c.nodeID, c.name, nil
}

// RegisterDriver wires a transport driver into Core, starting it
// immediately and routing its callbacks into the registry/routing engine.
func (c *Core) RegisterDriver(ctx context.Context, d transport.Driver) error {
	c.mu.Lock()
	c.drivers[d.Kind()] = d
	c.mu.Unlock()

	kind := d.Kind()
	callbacks := transport.Callbacks{
		OnPeerObserved: func(pd transport.PeerDescriptor) {
			c.selector.ObservePeerTransport(pd.PeerID, kind)
			dev := types.Device{ID: pd.PeerID, Name: pd.Name, IsConnected: true, IsOnline: true}
			if pd.Kind != "" {
				dev.Type = pd.Kind
			}
			merged := c.registry.Observe(dev, kind)
			if c.handlers.OnDeviceDiscovered != nil {
				c.handlers.OnDeviceDiscovered(merged)
			}
			c.presence.OnPeerObserved(c.ctx, pd.PeerID)
		},
		OnBytes: func(peerID string, payload []byte) {
			c.handleInboundBytes(kind, peerID, payload)
		},
		OnPeerLost: func(peerID string) {
			if c.handlers.OnDeviceLost != nil {
				c.handlers.OnDeviceLost(peerID)
			}
		},
		OnAvailableChanged: func(available bool) {
			c.selector.MarkAvailable(kind, available)
			if available {
				c.delivery.DrainOnReconnect(c.ctx)
			}
			if c.handlers.OnConnectionStatusChanged != nil {
				c.handlers.OnConnectionStatusChanged(available, c.AvailableTransports())
			}
		},
	}
	return d.Start(ctx, callbacks)
}

func (c *Core) handleInboundBytes(kind types.Transport, peerID string, payload []byte) {
	p, err := codec.Decode(payload)
	if err != nil {
		c.log.Warnf("transport %s: malformed packet from %s: %v", kind, peerID, err)
		return
	}
	c.routing.Receive(c.ctx, p, kind, peerID)
}

// AvailableTransports returns every transport currently marked available,
// for onConnectionStatusChanged.
func (c *Core) AvailableTransports() []types.Transport {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []types.Transport
	for kind := range c.drivers {
		m := c.selector.Metrics(kind)
		if m.Available {
			out = append(out, kind)
		}
	}
	return out
}

// SetDeviceName implements spec.md §6's set_device_name(name).
func (c *Core) SetDeviceName(ctx context.Context, name string) error {
	c.name = name
	return c.store.SaveIdentity(ctx, c.nodeID, name)
}

// StartScanning implements spec.md §6's start_scanning().
func (c *Core) StartScanning(ctx context.Context) {
	c.scanning = true
	c.presence.StartScanning(ctx)
	if c.handlers.OnScanStateChanged != nil {
		c.handlers.OnScanStateChanged(true)
	}
}

// StopScanning implements spec.md §6's stop_scanning().
func (c *Core) StopScanning() {
	c.scanning = false
	c.presence.StopScanning()
	if c.handlers.OnScanStateChanged != nil {
		c.handlers.OnScanStateChanged(false)
	}
}

// SendMessage implements spec.md §6's send_message(content, receiver_id).
func (c *Core) SendMessage(ctx context.Context, content, receiverID string) (string, error) {
	return c.delivery.Send(ctx, content, receiverID)
}

// SendTypingIndicator implements spec.md §6's
// send_typing_indicator(receiver_id, bool). Typing indicators are
// presentation-layer state in the original source; here they are
// broadcast as a PING packet addressed to receiverID whose payload is "1"
// (typing) or "0" (not typing), so peers can render it without persisting
// it as a Message.
func (c *Core) SendTypingIndicator(ctx context.Context, receiverID string, typing bool) error {
	payload := "0"
	if typing {
		payload = "1"
	}
	pkt, err := codec.NewOriginPacket(types.Ping, c.nodeID, receiverID, payload, c.cfg.MaxTTL)
	if err != nil {
		return err
	}
	encoded, err := codec.Encode(pkt)
	if err != nil {
		return err
	}
	c.RelayBroadcast(ctx, encoded, "", "")
	return nil
}

// RetryMessage implements spec.md §6's retry_message(message_id) → bool:
// it forces an immediate reconnect-style drain attempt for a single
// message, bypassing the backoff floor.
func (c *Core) RetryMessage(ctx context.Context, messageID string) bool {
	return c.delivery.ForceRetry(ctx, messageID)
}

// Cleanup implements spec.md §6's cleanup(): it cancels all retry timers,
// stops every driver and flushes a best-effort offline presence update.
// It does not close the durable store; the store's owner closes it. Per
// spec.md §8's round-trip
// property, it must NOT delete the node's identity or prior messages.
func (c *Core) Cleanup(ctx context.Context) {
	if c.cancel != nil {
		c.cancel()
	}
	if c.presence != nil {
		c.presence.Stop()
	}
	if c.delivery != nil {
		c.delivery.Stop()
	}
	if c.registry != nil {
		c.registry.Stop()
	}

	c.mu.Lock()
	drivers := make([]transport.Driver, 0, len(c.drivers))
	for _, d := range c.drivers {
		drivers = append(drivers, d)
	}
	c.mu.Unlock()

	offline, err := codec.NewOriginPacket(types.Announce, c.nodeID, types.WildcardTarget, `{"name":"","type":"","brand_hint":"","os_hint":""}`, 1)
	if err == nil {
		if encoded, err := codec.Encode(offline); err == nil {
			stopCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			c.BroadcastAll(stopCtx, encoded)
			cancel()
		}
	}

	for _, d := range drivers {
		stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := d.Stop(stopCtx); err != nil {
			c.log.Warnf("transport %s: stop failed: %v", d.Kind(), err)
		}
		cancel()
	}
}

// Broadcast implements delivery.Sender over Core's registered drivers: the
// delivery pipeline emits originated packets the same way the routing
// engine emits relays, since the receiver is not generally a direct
// neighbor in a multi-hop mesh.
func (c *Core) Broadcast(ctx context.Context, t types.Transport, payload []byte) error {
	c.mu.Lock()
	d, ok := c.drivers[t]
	c.mu.Unlock()
	if !ok {
		return types.ErrTransportUnavailable
	}
	return d.Broadcast(ctx, payload)
}

// RelayBroadcast implements routing.Relayer: it fans payload out on every
// registered driver. On the driver matching exceptTransport — the one the
// triggering packet arrived on — it excludes exceptPeer specifically
// rather than skipping that transport entirely, since a node commonly has
// only one driver for a given transport and still needs it to relay
// onward to its other neighbors.
func (c *Core) RelayBroadcast(ctx context.Context, payload []byte, exceptTransport types.Transport, exceptPeer string) {
	c.mu.Lock()
	drivers := make([]transport.Driver, 0, len(c.drivers))
	for _, d := range c.drivers {
		drivers = append(drivers, d)
	}
	c.mu.Unlock()
	for _, d := range drivers {
		var err error
		if d.Kind() == exceptTransport && exceptPeer != "" {
			if eb, ok := d.(transport.ExclusiveBroadcaster); ok {
				err = eb.BroadcastExcept(ctx, payload, exceptPeer)
			} else {
				err = d.Broadcast(ctx, payload)
			}
		} else {
			err = d.Broadcast(ctx, payload)
		}
		if err != nil {
			c.selector.RecordFailure(d.Kind())
		}
	}
}

// BroadcastAll implements presence.Broadcaster: it fans payload out on
// every registered driver, with no exclusions.
func (c *Core) BroadcastAll(ctx context.Context, payload []byte) {
	c.RelayBroadcast(ctx, payload, "", "")
}

// AdmitRecord implements rendezvous.Admitter: a record fetched from the
// rendezvous relay's durable store is admitted through the routing engine
// exactly as if it had arrived over a transport, per spec.md §4.9, with
// from_transport = network.
func (c *Core) AdmitRecord(ctx context.Context, r rendezvous.Record) {
	pkt, err := codec.NewOriginPacket(types.Message, r.SenderID, r.ReceiverID, r.Content, c.cfg.MaxTTL)
	if err != nil {
		return
	}
	pkt.ID = r.MessageID
	pkt.Timestamp = r.Timestamp
	pkt, err = codec.Sign(pkt)
	if err != nil {
		return
	}
	c.routing.Receive(ctx, pkt, types.TransportRendezvous, r.SenderID)
}

// Syncer returns the rendezvous store-and-forward syncer, wiring it to
// Core's identity and storage, for the caller to invoke Sync on startup
// and after reconnect.
func (c *Core) Syncer(relay rendezvous.RecordStore) *rendezvous.Syncer {
	if c.syncer == nil {
		c.syncer = rendezvous.New(c.nodeID, c.store, relay, c)
	}
	return c.syncer
}

// NodeID returns this node's stable identifier.
func (c *Core) NodeID() string { return c.nodeID }

// SampleMetrics refreshes the gauge-shaped metrics (seen-set occupancy and
// per-transport reliability) against current state. Unlike the counters
// wired at construction, these are snapshots rather than events, so the
// caller is expected to invoke this on its own ticker; a no-op if no
// metrics were supplied at construction.
func (c *Core) SampleMetrics() {
	if c.metrics == nil {
		return
	}
	c.metrics.SeenSetOccupancy.Set(float64(c.seenSet.Len()))
	c.mu.Lock()
	kinds := make([]types.Transport, 0, len(c.drivers))
	for k := range c.drivers {
		kinds = append(kinds, k)
	}
	c.mu.Unlock()
	for _, k := range kinds {
		c.metrics.SetTransportReliability(k, c.selector.Metrics(k).Reliability)
	}
}

// ConnectSignaling wires the rendezvous driver's signaling channel to the
// internet driver's WebRTC negotiation state machine, per spec.md §4.8(b):
// offer/answer/candidate blobs travel the rendezvous connection but must
// reach the internet driver, never the routing engine. A no-op unless
// both drivers are registered.
func (c *Core) ConnectSignaling(ctx context.Context) {
	c.mu.Lock()
	rd, hasRendezvous := c.drivers[types.TransportRendezvous]
	id, hasInternet := c.drivers[types.TransportInternet]
	c.mu.Unlock()
	if !hasRendezvous || !hasInternet {
		return
	}
	receiver, ok := rd.(signalReceiver)
	if !ok {
		return
	}
	consumer, ok := id.(signalConsumer)
	if !ok {
		return
	}
	receiver.SetSignalHandler(func(fromPeer string, blob []byte) {
		if err := consumer.HandleSignal(ctx, blob); err != nil {
			c.log.Warnf("internet transport: signal from %s: %v", fromPeer, err)
		}
	})
}

// signalReceiver and signalConsumer are the narrow shapes Core needs to
// wire rendezvous signaling to the internet driver, without importing
// either concrete driver package.
type signalReceiver interface {
	SetSignalHandler(fn func(fromPeer string, blob []byte))
}

type signalConsumer interface {
	HandleSignal(ctx context.Context, blob []byte) error
}
