package meshtest

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/core"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/logging"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/metrics"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Events records every observer callback Core raised, for assertions. A
// single Node owns one Events; it is safe for concurrent use.
type Events struct {
	mu sync.Mutex

	DevicesDiscovered []types.Device
	MessagesReceived  []types.Message
	StatusChanges     []statusChange
	MalformedDropped  int
}

type statusChange struct {
	MessageID string
	Status    types.MessageStatus
}

func (e *Events) onMessageReceived(m types.Message) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.MessagesReceived = append(e.MessagesReceived, m)
}

func (e *Events) onStatusChanged(id string, status types.MessageStatus) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.StatusChanges = append(e.StatusChanges, statusChange{MessageID: id, Status: status})
}

func (e *Events) onDeviceDiscovered(d types.Device) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.DevicesDiscovered = append(e.DevicesDiscovered, d)
}

// ReceivedContents returns the content of every message this node's
// application layer has observed, in arrival order.
func (e *Events) ReceivedContents() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]string, len(e.MessagesReceived))
	for i, m := range e.MessagesReceived {
		out[i] = m.Content
	}
	return out
}

// LastStatus returns the most recently observed status for messageID and
// whether any status change was ever observed for it.
func (e *Events) LastStatus(messageID string) (types.MessageStatus, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	var last types.MessageStatus
	found := false
	for _, c := range e.StatusChanges {
		if c.MessageID == messageID {
			last = c.Status
			found = true
		}
	}
	return last, found
}

// EverReached reports whether messageID was ever observed at status.
func (e *Events) EverReached(messageID string, status types.MessageStatus) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, c := range e.StatusChanges {
		if c.MessageID == messageID && c.Status == status {
			return true
		}
	}
	return false
}

// Node bundles a Core with its in-memory store and observed events, for
// scenario tests. It deliberately does not start any transport driver;
// call ConnectVia to attach one or more Bus links.
type Node struct {
	ID     string
	Store  *MemStore
	Events *Events
	Core   *core.Core

	cfg types.Config
}

// NewNode constructs and initializes a Core around a fresh in-memory
// store, with cfg's tunables (zero fields fall back to
// types.DefaultConfig's values inside the components that consume them).
// id becomes the node's stable identifier by seeding it into the store
// before Initialize runs, so scenario tests can address nodes by a fixed,
// readable name instead of a random one.
func NewNode(ctx context.Context, id string, cfg types.Config) *Node {
	st := NewMemStore()
	_ = st.SaveIdentity(ctx, id, id)

	log := logging.New()
	events := &Events{}
	handlers := core.Handlers{
		OnDeviceDiscovered: events.onDeviceDiscovered,
		OnMessageReceived:  events.onMessageReceived,
		OnMessageStatusChanged: func(messageID string, status types.MessageStatus) {
			events.onStatusChanged(messageID, status)
		},
	}

	_, m := NewMetricsRegistry()
	c := core.New(st, log, cfg, handlers, m)
	_, _, err := c.Initialize(ctx, id)
	if err != nil {
		panic("meshtest: initialize failed: " + err.Error())
	}

	return &Node{ID: id, Store: st, Events: events, Core: c, cfg: cfg}
}

// Restart simulates a process restart: it tears down the current Core
// (without touching the durable store) and builds a fresh one on the same
// MemStore, exactly as a real node would after a crash-and-relaunch. The
// caller must re-attach any transport drivers on the returned Node.
func (n *Node) Restart(ctx context.Context) *Node {
	n.Core.Cleanup(ctx)

	events := &Events{}
	handlers := core.Handlers{
		OnDeviceDiscovered: events.onDeviceDiscovered,
		OnMessageReceived:  events.onMessageReceived,
		OnMessageStatusChanged: func(messageID string, status types.MessageStatus) {
			events.onStatusChanged(messageID, status)
		},
	}
	_, m := NewMetricsRegistry()
	c := core.New(n.Store, logging.New(), n.cfg, handlers, m)
	if _, _, err := c.Initialize(ctx, n.ID); err != nil {
		panic("meshtest: re-initialize failed: " + err.Error())
	}
	n.Events = events
	n.Core = c
	return n
}

// ConnectVia registers a Bus-backed driver for this node and starts it.
func (n *Node) ConnectVia(ctx context.Context, bus *Bus) {
	if err := n.Core.RegisterDriver(ctx, bus.Driver(n.ID)); err != nil {
		panic("meshtest: register driver failed: " + err.Error())
	}
}

// NewMetricsRegistry returns a private Prometheus registry, for tests that
// want to exercise metrics.New without colliding with other nodes in the
// same process.
func NewMetricsRegistry() (*prometheus.Registry, *metrics.Metrics) {
	reg := prometheus.NewRegistry()
	return reg, metrics.New(reg)
}
