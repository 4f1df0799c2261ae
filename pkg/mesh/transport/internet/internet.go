// Package internet implements the P2P-over-internet transport driver
// described in spec.md §4.8(b): ICE/DTLS data channels negotiated via
// signaling blobs relayed by an external channel (the rendezvous driver).
//
// Grounded on the teacher's pkg/mcast/core.ReliableTransport for its
// per-peer connection bookkeeping shape (a map of live sessions guarded by
// a mutex, a receive goroutine per session feeding the shared callbacks)
// generalized from the teacher's single always-connected relt session to
// pion/webrtc's per-peer PeerConnection lifecycle, since the teacher has
// no notion of negotiated point-to-point sessions.
package internet

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/transport"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// Signaler sends an opaque signaling blob to a specific peer through
// whatever side channel is reachable (normally the rendezvous driver).
// The internet driver never dials it directly; Core wires a signaler at
// construction time.
type Signaler interface {
	SendSignal(ctx context.Context, peerID string, blob []byte) error
}

// signalEnvelope is the JSON shape carried inside a Signaler blob.
type signalEnvelope struct {
	From string                    `json:"from"`
	Kind string                    `json:"kind"` // "offer", "answer", "candidate"
	SDP  *webrtc.SessionDescription `json:"sdp,omitempty"`
	ICE  *webrtc.ICECandidateInit   `json:"ice,omitempty"`
}

type session struct {
	pc      *webrtc.PeerConnection
	channel *webrtc.DataChannel
}

// Driver is the WebRTC-backed internet transport.
type Driver struct {
	nodeID   string
	signaler Signaler
	log      types.Logger
	api      *webrtc.API

	mu        sync.Mutex
	sessions  map[string]*session
	callbacks transport.Callbacks
	available bool
}

// New builds an internet Driver. signaler is used to exchange SDP
// offers/answers and ICE candidates with peers out of band.
func New(nodeID string, signaler Signaler, log types.Logger) *Driver {
	return &Driver{
		nodeID:   nodeID,
		signaler: signaler,
		log:      log,
		api:      webrtc.NewAPI(),
		sessions: make(map[string]*session),
	}
}

// Kind implements transport.Driver.
func (d *Driver) Kind() types.Transport { return types.TransportInternet }

// Start implements transport.Driver. The driver has nothing to dial
// up-front; it becomes available as soon as at least one signaler-backed
// peer connection completes its ICE negotiation, so availability starts
// false.
func (d *Driver) Start(ctx context.Context, callbacks transport.Callbacks) error {
	d.mu.Lock()
	d.callbacks = callbacks
	d.mu.Unlock()
	return nil
}

// Stop implements transport.Driver.
func (d *Driver) Stop(ctx context.Context) error {
	d.mu.Lock()
	sessions := d.sessions
	d.sessions = make(map[string]*session)
	d.mu.Unlock()
	for _, s := range sessions {
		_ = s.pc.Close()
	}
	d.setAvailable(false)
	return nil
}

func (d *Driver) iceServers() []webrtc.ICEServer {
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

// HandleSignal is invoked by Core when a signaling blob addressed to this
// driver arrives over the rendezvous transport.
func (d *Driver) HandleSignal(ctx context.Context, blob []byte) error {
	var env signalEnvelope
	if err := json.Unmarshal(blob, &env); err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	switch env.Kind {
	case "offer":
		return d.handleOffer(ctx, env)
	case "answer":
		return d.handleAnswer(env)
	case "candidate":
		return d.handleCandidate(env)
	default:
		return fmt.Errorf("%w: unknown signal kind %q", types.ErrMalformedPacket, env.Kind)
	}
}

func (d *Driver) newPeerConnection(peerID string) (*session, error) {
	pc, err := d.api.NewPeerConnection(webrtc.Configuration{ICEServers: d.iceServers()})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	s := &session{pc: pc}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		blob, _ := json.Marshal(signalEnvelope{From: d.nodeID, Kind: "candidate", ICE: &init})
		_ = d.signaler.SendSignal(context.Background(), peerID, blob)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnected:
			d.setAvailable(true)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			d.dropSession(peerID)
		}
	})
	pc.OnDataChannel(func(ch *webrtc.DataChannel) {
		d.wireChannel(peerID, ch)
		d.mu.Lock()
		s.channel = ch
		d.mu.Unlock()
	})

	d.mu.Lock()
	d.sessions[peerID] = s
	d.mu.Unlock()
	return s, nil
}

func (d *Driver) wireChannel(peerID string, ch *webrtc.DataChannel) {
	ch.OnMessage(func(msg webrtc.DataChannelMessage) {
		d.mu.Lock()
		cb := d.callbacks
		d.mu.Unlock()
		if cb.OnBytes != nil {
			cb.OnBytes(peerID, msg.Data)
		}
	})
	ch.OnOpen(func() {
		d.mu.Lock()
		cb := d.callbacks
		d.mu.Unlock()
		if cb.OnPeerObserved != nil {
			cb.OnPeerObserved(transport.PeerDescriptor{PeerID: peerID})
		}
	})
}

// Offer initiates a new connection to peerID, sending the SDP offer
// through the signaler.
func (d *Driver) Offer(ctx context.Context, peerID string) error {
	s, err := d.newPeerConnection(peerID)
	if err != nil {
		return err
	}
	ch, err := s.pc.CreateDataChannel("mesh", nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	d.mu.Lock()
	s.channel = ch
	d.mu.Unlock()
	d.wireChannel(peerID, ch)

	offer, err := s.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	if err := s.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	blob, err := json.Marshal(signalEnvelope{From: d.nodeID, Kind: "offer", SDP: &offer})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	return d.signaler.SendSignal(ctx, peerID, blob)
}

func (d *Driver) handleOffer(ctx context.Context, env signalEnvelope) error {
	s, err := d.newPeerConnection(env.From)
	if err != nil {
		return err
	}
	if env.SDP == nil {
		return fmt.Errorf("%w: offer missing sdp", types.ErrMalformedPacket)
	}
	if err := s.pc.SetRemoteDescription(*env.SDP); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	answer, err := s.pc.CreateAnswer(nil)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	if err := s.pc.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	blob, err := json.Marshal(signalEnvelope{From: d.nodeID, Kind: "answer", SDP: &answer})
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	return d.signaler.SendSignal(ctx, env.From, blob)
}

func (d *Driver) handleAnswer(env signalEnvelope) error {
	d.mu.Lock()
	s, ok := d.sessions[env.From]
	d.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: answer for unknown session", types.ErrTransportUnavailable)
	}
	if env.SDP == nil {
		return fmt.Errorf("%w: answer missing sdp", types.ErrMalformedPacket)
	}
	if err := s.pc.SetRemoteDescription(*env.SDP); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	return nil
}

func (d *Driver) handleCandidate(env signalEnvelope) error {
	d.mu.Lock()
	s, ok := d.sessions[env.From]
	d.mu.Unlock()
	if !ok || env.ICE == nil {
		return nil
	}
	return s.pc.AddICECandidate(*env.ICE)
}

func (d *Driver) dropSession(peerID string) {
	d.mu.Lock()
	s, ok := d.sessions[peerID]
	delete(d.sessions, peerID)
	remaining := len(d.sessions)
	cb := d.callbacks
	d.mu.Unlock()
	if ok {
		_ = s.pc.Close()
	}
	if cb.OnPeerLost != nil {
		cb.OnPeerLost(peerID)
	}
	if remaining == 0 {
		d.setAvailable(false)
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

// Broadcast implements transport.Driver: fan out to every open session.
func (d *Driver) Broadcast(ctx context.Context, payload []byte) error {
	d.mu.Lock()
	sessions := make([]*session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()
	if len(sessions) == 0 {
		return types.ErrTransportUnavailable
	}
	var firstErr error
	for _, s := range sessions {
		if s.channel == nil {
			continue
		}
		if err := s.channel.Send(payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
		}
	}
	return firstErr
}

// Send implements transport.Driver.
func (d *Driver) Send(ctx context.Context, peerID string, payload []byte) error {
	d.mu.Lock()
	s, ok := d.sessions[peerID]
	d.mu.Unlock()
	if !ok || s.channel == nil {
		return types.ErrTransportUnavailable
	}
	if err := s.channel.Send(payload); err != nil {
		return fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
	}
	return nil
}

// BroadcastExcept implements transport.ExclusiveBroadcaster: peer sessions
// are already keyed by peer id here, so exclusion is a plain skip over the
// session map rather than anything WebRTC-specific.
func (d *Driver) BroadcastExcept(ctx context.Context, payload []byte, exceptPeer string) error {
	d.mu.Lock()
	sessions := make(map[string]*session, len(d.sessions))
	for id, s := range d.sessions {
		if id == exceptPeer {
			continue
		}
		sessions[id] = s
	}
	d.mu.Unlock()
	if len(sessions) == 0 {
		return types.ErrTransportUnavailable
	}
	var firstErr error
	for _, s := range sessions {
		if s.channel == nil {
			continue
		}
		if err := s.channel.Send(payload); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("%w: %v", types.ErrTransportUnavailable, err)
		}
	}
	return firstErr
}
