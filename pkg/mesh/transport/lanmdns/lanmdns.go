// Package lanmdns implements the LAN discovery assist described in
// spec.md §4.8: it does not itself carry application payloads, only
// advertises and browses this node's presence via mDNS/DNS-SD so peers on
// the same LAN segment can find each other before the local transport's
// own relt exchange converges.
//
// Grounded on canonical-snapd's cluster/assemblestate/dnssd module, the
// only pack example wiring brutella/dnssd; adapted from a generic
// service-responder pattern into a pure peer-observation feed since this
// driver never exchanges payload bytes.
package lanmdns

import (
	"context"
	"fmt"
	"sync"

	"github.com/brutella/dnssd"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// serviceType is the DNS-SD service type this node advertises and browses
// under, scoped to this application so it doesn't collide with unrelated
// mDNS traffic on the LAN.
const serviceType = "_meshreach._udp"

// Driver advertises this node over mDNS and feeds OnPeerObserved as
// other instances are browsed. It never calls OnBytes: Broadcast/Send
// always fail with ErrTransportUnavailable, since this transport carries
// no payload, only presence.
type Driver struct {
	nodeID string
	name   string
	port   int
	log    types.Logger

	mu        sync.Mutex
	responder dnssd.Responder
	cancel    context.CancelFunc
	callbacks transport.Callbacks
	available bool
}

// New builds a Driver advertising nodeID under the given display name and
// service port (the local driver's listen port, purely informational here
// since this transport never opens connections itself).
func New(nodeID, name string, port int, log types.Logger) *Driver {
	return &Driver{nodeID: nodeID, name: name, port: port, log: log}
}

// Kind implements transport.Driver. lanmdns reuses the "local" transport
// identity for selector purposes since it is a LAN-scoped assist, not an
// independently scored transport in its own right; Core wires its
// callbacks only to feed the registry, never the selector's metrics.
func (d *Driver) Kind() types.Transport { return types.TransportLocal }

// Start implements transport.Driver.
func (d *Driver) Start(ctx context.Context, callbacks transport.Callbacks) error {
	responder, err := dnssd.NewResponder()
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}

	cfg := dnssd.Config{
		Name: d.nodeID,
		Type: serviceType,
		Port: d.port,
		Text: map[string]string{"name": d.name},
	}
	service, err := dnssd.NewService(cfg)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	if _, err := responder.Add(service); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.responder = responder
	d.cancel = cancel
	d.callbacks = callbacks
	d.mu.Unlock()

	go func() {
		if err := responder.Respond(runCtx); err != nil && runCtx.Err() == nil {
			d.log.Warnf("lanmdns: responder stopped: %v", err)
		}
	}()
	go d.browse(runCtx)

	d.setAvailable(true)
	return nil
}

func (d *Driver) browse(ctx context.Context) {
	addFn := func(e dnssd.BrowseEntry) {
		if e.Name == d.nodeID {
			return
		}
		d.mu.Lock()
		cb := d.callbacks
		d.mu.Unlock()
		if cb.OnPeerObserved != nil {
			name := d.name
			if v, ok := e.Text["name"]; ok && v != "" {
				name = v
			}
			cb.OnPeerObserved(transport.PeerDescriptor{PeerID: e.Name, Name: name})
		}
	}
	rmvFn := func(e dnssd.BrowseEntry) {
		if e.Name == d.nodeID {
			return
		}
		d.mu.Lock()
		cb := d.callbacks
		d.mu.Unlock()
		if cb.OnPeerLost != nil {
			cb.OnPeerLost(e.Name)
		}
	}
	if err := dnssd.LookupType(ctx, serviceType, addFn, rmvFn); err != nil && ctx.Err() == nil {
		d.log.Warnf("lanmdns: browse stopped: %v", err)
	}
}

// Stop implements transport.Driver.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.setAvailable(false)
	return nil
}

func (d *Driver) setAvailable(available bool) {
	d.mu.Lock()
	changed := d.available != available
	d.available = available
	cb := d.callbacks
	d.mu.Unlock()
	if changed && cb.OnAvailableChanged != nil {
		cb.OnAvailableChanged(available)
	}
}

// Broadcast implements transport.Driver but is always unavailable: this
// driver carries presence only, never application payload.
func (d *Driver) Broadcast(ctx context.Context, payload []byte) error {
	return types.ErrTransportUnavailable
}

// Send implements transport.Driver but is always unavailable, for the
// same reason as Broadcast.
func (d *Driver) Send(ctx context.Context, peerID string, payload []byte) error {
	return types.ErrTransportUnavailable
}
