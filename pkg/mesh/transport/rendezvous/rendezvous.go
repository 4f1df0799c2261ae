// Package rendezvous implements the always-on control-channel transport
// driver described in spec.md §4.8(c): a websocket connection to an
// external relay that carries mesh packets (presence included) and
// signaling blobs for the internet driver. Store-and-forward sync goes
// through the rendezvous package's RecordStore client, not this connection.
//
// Grounded on the teacher's pkg/mcast/core.ReliableTransport for the
// overall shape (a single owned connection, a receive goroutine feeding
// callbacks, Close cancelling a context) adapted to a client/server
// websocket model learned from the pack's other gossip/mesh examples
// (e.g. other_examples' REPRAM gossip protocol's PING/PONG framing)
// since the teacher never talks to an external relay.
package rendezvous

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// envelope is the wire frame exchanged with the relay server. kind
// distinguishes a routed mesh packet (the default, empty/"packet") from an
// opaque WebRTC signaling blob (spec.md §4.8(b)): both travel the same
// always-on connection, but a signal must never reach the routing engine
// and a packet must never reach the internet driver's signal handler.
type envelope struct {
	From    string `json:"from"`
	To      string `json:"to,omitempty"`
	Except  string `json:"except,omitempty"`
	Kind    string `json:"kind,omitempty"`
	Payload []byte `json:"payload"`
}

const (
	envelopePacket = ""
	envelopeSignal = "signal"
)

const (
	dialTimeout   = 10 * time.Second
	writeTimeout  = 5 * time.Second
	pingInterval  = 20 * time.Second
	reconnectWait = 3 * time.Second
)

// Driver is the rendezvous-relay transport.
type Driver struct {
	nodeID string
	url    string
	log    types.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	cancel    context.CancelFunc
	callbacks transport.Callbacks
	onSignal  func(fromPeer string, blob []byte)
	available bool
}

// SetSignalHandler registers the callback invoked when a signaling-kind
// envelope arrives, addressed to this node or broadcast. Core wires this to
// the internet driver's HandleSignal once both drivers are registered.
func (d *Driver) SetSignalHandler(fn func(fromPeer string, blob []byte)) {
	d.mu.Lock()
	d.onSignal = fn
	d.mu.Unlock()
}

// SendSignal implements internet.Signaler: it carries an opaque signaling
// blob to peerID over the same always-on connection mesh packets use,
// tagged so the receiving node's rendezvous driver routes it to its
// internet driver instead of the routing engine.
func (d *Driver) SendSignal(ctx context.Context, peerID string, blob []byte) error {
	return d.send(ctx, envelope{From: d.nodeID, To: peerID, Kind: envelopeSignal, Payload: blob})
}

// New builds a rendezvous Driver dialing the relay at url.
func New(nodeID, url string, log types.Logger) *Driver {
	return &Driver{nodeID: nodeID, url: url, log: log}
}

// Kind implements transport.Driver.
func (d *Driver) Kind() types.Transport { return types.TransportRendezvous }

// Start implements transport.Driver. It launches a reconnecting client
// loop; individual dial failures do not fail Start itself, since the
// rendezvous relay is expected to be intermittently reachable.
func (d *Driver) Start(ctx context.Context, callbacks transport.Callbacks) error {
	runCtx, cancel := context.WithCancel(context.Background())
	d.mu.Lock()
	d.cancel = cancel
	d.callbacks = callbacks
	d.mu.Unlock()

	go d.run(runCtx)
	return nil
}

// Stop implements transport.Driver.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	cancel := d.cancel
	conn := d.conn
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeTimeout))
		_ = conn.Close()
	}
	d.setAvailable(false)
	return nil
}

// run owns the reconnect loop: dial, read until failure, mark unavailable,
// wait, retry, until ctx is cancelled.
func (d *Driver) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := d.dial(ctx)
		if err != nil {
			d.log.Warnf("rendezvous transport: dial failed: %v", err)
			d.setAvailable(false)
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectWait):
				continue
			}
		}

		d.mu.Lock()
		d.conn = conn
		d.mu.Unlock()
		d.setAvailable(true)

		d.readLoop(ctx, conn)

		_ = conn.Close()
		d.setAvailable(false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(reconnectWait):
		}
	}
}

func (d *Driver) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: dialTimeout}
	header := map[string][]string{"X-Node-Id": {d.nodeID}}
	conn, _, err := dialer.DialContext(ctx, d.url, header)
	return conn, err
}

func (d *Driver) readLoop(ctx context.Context, conn *websocket.Conn) {
	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			d.consume(data)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		}
	}
}

func (d *Driver) consume(data []byte) {
	var e envelope
	if err := json.Unmarshal(data, &e); err != nil {
		d.log.Warnf("rendezvous transport: malformed envelope: %v", err)
		return
	}
	if e.From == d.nodeID {
		return
	}
	if e.To != "" && e.To != d.nodeID {
		return
	}
	if e.Except != "" && e.Except == d.nodeID {
		return
	}

	if e.Kind == envelopeSignal {
		d.mu.Lock()
		onSignal := d.onSignal
		d.mu.Unlock()
		if onSignal != nil {
			onSignal(e.From, e.Payload)
		}
		return
	}

	d.mu.Lock()
	cb := d.callbacks
	d.mu.Unlock()

	if cb.OnPeerObserved != nil {
		cb.OnPeerObserved(transport.PeerDescriptor{PeerID: e.From})
	}
	if cb.OnBytes != nil {
		cb.OnBytes(e.From, e.Payload)
	}
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

// Broadcast implements transport.Driver: the relay fans the envelope out
// to every other connected node.
func (d *Driver) Broadcast(ctx context.Context, payload []byte) error {
	return d.send(ctx, envelope{From: d.nodeID, Payload: payload})
}

// Send implements transport.Driver.
func (d *Driver) Send(ctx context.Context, peerID string, payload []byte) error {
	return d.send(ctx, envelope{From: d.nodeID, To: peerID, Payload: payload})
}

// BroadcastExcept implements transport.ExclusiveBroadcaster: the relay
// server, not this client, fans the envelope out, so exclusion travels in
// the envelope and every other client's consume enforces it.
func (d *Driver) BroadcastExcept(ctx context.Context, payload []byte, exceptPeer string) error {
	return d.send(ctx, envelope{From: d.nodeID, Except: exceptPeer, Payload: payload})
}

func (d *Driver) send(ctx context.Context, e envelope) error {
	d.mu.Lock()
	conn := d.conn
	d.mu.Unlock()
	if conn == nil {
		return types.ErrTransportUnavailable
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	deadline := time.Now().Add(writeTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	return nil
}
