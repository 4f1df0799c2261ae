package routing

import (
	"context"
	"testing"
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/codec"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/registry"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/seen"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

type fakeStore struct {
	saved  []types.Message
	exists map[string]bool
}

func newFakeStore() *fakeStore { return &fakeStore{exists: make(map[string]bool)} }

func (f *fakeStore) MessageExists(ctx context.Context, id string) (bool, error) {
	return f.exists[id], nil
}

func (f *fakeStore) SaveMessage(ctx context.Context, m types.Message) error {
	f.exists[m.ID] = true
	f.saved = append(f.saved, m)
	return nil
}

type fakeRelayer struct {
	broadcasts []relayCall
}

type relayCall struct {
	payload         []byte
	exceptTransport types.Transport
	exceptPeer      string
}

func (f *fakeRelayer) RelayBroadcast(ctx context.Context, payload []byte, exceptTransport types.Transport, exceptPeer string) {
	f.broadcasts = append(f.broadcasts, relayCall{payload: payload, exceptTransport: exceptTransport, exceptPeer: exceptPeer})
}

type fakeAckWaiter struct {
	known map[string]bool
}

func (f *fakeAckWaiter) HandleAck(packetID string) bool {
	if f.known == nil {
		return false
	}
	return f.known[packetID]
}

func newEngine(t *testing.T, localID string) (*Engine, *fakeStore, *fakeRelayer, *fakeAckWaiter, *Handlers) {
	t.Helper()
	store := newFakeStore()
	relayer := &fakeRelayer{}
	acks := &fakeAckWaiter{known: make(map[string]bool)}
	handlers := &Handlers{}
	reg := registry.New(localID, 15*time.Second, 60*time.Second, 0)
	e := New(localID, types.MaxTTL, seen.New(0, 0), reg, store, relayer, acks, *handlers)
	return e, store, relayer, acks, handlers
}

func TestReceiveDeliversLocalMessageAndEmitsAck(t *testing.T) {
	var received []types.Message
	e, store, relayer, _, handlers := newEngine(t, "LOCALAAA")
	handlers.OnMessageReceived = func(m types.Message) { received = append(received, m) }
	e.handlers = *handlers

	p, err := codec.NewOriginPacket(types.Message, "REMOTEBB", "LOCALAAA", "hi there", types.MaxTTL)
	if err != nil {
		t.Fatalf("NewOriginPacket: %v", err)
	}
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	if len(received) != 1 || received[0].Content != "hi there" {
		t.Fatalf("expected message delivered locally, got %+v", received)
	}
	if !store.exists[p.ID] {
		t.Fatalf("expected message persisted")
	}
	if len(relayer.broadcasts) != 1 {
		t.Fatalf("expected one ACK broadcast, got %d", len(relayer.broadcasts))
	}
}

func TestReceiveDropsDuplicatePacket(t *testing.T) {
	var count int
	e, _, _, _, handlers := newEngine(t, "LOCALAAA")
	handlers.OnMessageReceived = func(m types.Message) { count++ }
	e.handlers = *handlers

	p, _ := codec.NewOriginPacket(types.Message, "REMOTEBB", "LOCALAAA", "hi", types.MaxTTL)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	if count != 1 {
		t.Fatalf("expected exactly one delivery across duplicate receives, got %d", count)
	}
}

func TestReceiveDropsBadSignature(t *testing.T) {
	var malformed int
	e, store, _, _, handlers := newEngine(t, "LOCALAAA")
	handlers.OnMalformedPacket = func(err error) { malformed++ }
	e.handlers = *handlers

	p, _ := codec.NewOriginPacket(types.Message, "REMOTEBB", "LOCALAAA", "hi", types.MaxTTL)
	p.Signature = "deadbeef"
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	if malformed != 1 {
		t.Fatalf("expected malformed-packet callback, got count %d", malformed)
	}
	if len(store.saved) != 0 {
		t.Fatalf("expected no message saved for a bad-signature packet")
	}
}

func TestReceiveRelaysWhenNotForUs(t *testing.T) {
	e, _, relayer, _, _ := newEngine(t, "LOCALAAA")

	p, _ := codec.NewOriginPacket(types.Message, "REMOTEBB", "OTHERCCC", "hi", types.MaxTTL)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	if len(relayer.broadcasts) != 1 {
		t.Fatalf("expected a relay broadcast, got %d", len(relayer.broadcasts))
	}
	if relayer.broadcasts[0].exceptTransport != types.TransportLocal || relayer.broadcasts[0].exceptPeer != "REMOTEBB" {
		t.Fatalf("expected relay to exclude arrival transport/peer, got %+v", relayer.broadcasts[0])
	}
}

func TestShouldRelayRejectsExpiredTTL(t *testing.T) {
	e, _, relayer, _, _ := newEngine(t, "LOCALAAA")
	p, _ := codec.NewOriginPacket(types.Message, "REMOTEBB", "OTHERCCC", "hi", 0)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")
	// Only the message-persist path has no relay to exclude self-origin;
	// confirm nothing was relayed given ttl already at 0.
	if len(relayer.broadcasts) != 0 {
		t.Fatalf("expected no relay for a ttl-expired packet, got %d", len(relayer.broadcasts))
	}
}

func TestShouldRelayRejectsOwnOrigin(t *testing.T) {
	e, _, relayer, _, _ := newEngine(t, "LOCALAAA")
	p, _ := codec.NewOriginPacket(types.Message, "LOCALAAA", "OTHERCCC", "hi", types.MaxTTL)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")
	if len(relayer.broadcasts) != 0 {
		t.Fatalf("expected no relay for a packet this node originated, got %d", len(relayer.broadcasts))
	}
}

func TestHandleAckInvokesWaiterAndStatusCallback(t *testing.T) {
	e, _, _, acks, handlers := newEngine(t, "LOCALAAA")
	var statusChanges []types.Message
	handlers.OnMessageStatusChanged = func(m types.Message) { statusChanges = append(statusChanges, m) }
	e.handlers = *handlers
	acks.known["PKT123"] = true

	ack, _ := codec.NewAck("REMOTEBB", types.Packet{ID: "PKT123", OriginalSenderID: "LOCALAAA"}, types.MaxTTL)
	e.Receive(context.Background(), ack, types.TransportLocal, "REMOTEBB")

	if len(statusChanges) != 1 || statusChanges[0].ID != "PKT123" {
		t.Fatalf("expected status change for acked packet, got %+v", statusChanges)
	}
}

func TestPingPacketMarksOriginatorTypingAndFiresUpdate(t *testing.T) {
	e, _, _, _, _ := newEngine(t, "LOCALAAA")
	var updated []types.Device
	e.registry.OnUpdated(func(d types.Device) { updated = append(updated, d) })

	p, _ := codec.NewOriginPacket(types.Ping, "REMOTEBB", "LOCALAAA", "1", types.MaxTTL)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	d, ok := e.registry.Get("REMOTEBB")
	if !ok {
		t.Fatalf("expected originating peer to be observed in registry")
	}
	if !d.IsTyping {
		t.Fatalf("expected IsTyping=true from a \"1\" ping payload, got %+v", d)
	}
	if len(updated) != 1 {
		t.Fatalf("expected onUpdated to fire once for the typing ping, got %d", len(updated))
	}

	stop, _ := codec.NewOriginPacket(types.Ping, "REMOTEBB", "LOCALAAA", "0", types.MaxTTL)
	e.Receive(context.Background(), stop, types.TransportLocal, "REMOTEBB")

	d, _ = e.registry.Get("REMOTEBB")
	if d.IsTyping {
		t.Fatalf("expected IsTyping=false once a \"0\" ping payload arrives, got %+v", d)
	}
}

func TestPresencePacketObservesPeer(t *testing.T) {
	e, _, _, _, _ := newEngine(t, "LOCALAAA")
	p, _ := codec.NewOriginPacket(types.Announce, "REMOTEBB", types.WildcardTarget, `{"name":"Alice","type":"phone"}`, types.MaxTTL)
	e.Receive(context.Background(), p, types.TransportLocal, "REMOTEBB")

	d, ok := e.registry.Get("REMOTEBB")
	if !ok {
		t.Fatalf("expected peer to be observed in registry")
	}
	if d.Name != "Alice" || d.Type != types.DevicePhone {
		t.Fatalf("expected presence payload applied, got %+v", d)
	}
}
