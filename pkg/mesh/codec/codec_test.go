package codec

import (
	"reflect"
	"testing"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

func TestDigestIsStableAndVerifiable(t *testing.T) {
	p, err := NewOriginPacket(types.Message, "AAAAAAAA", "BBBBBBBB", "hello", types.MaxTTL)
	if err != nil {
		t.Fatalf("NewOriginPacket: %v", err)
	}
	if !Verify(p) {
		t.Fatalf("expected freshly signed packet to verify")
	}

	again, err := Digest(p)
	if err != nil {
		t.Fatalf("Digest: %v", err)
	}
	if again != p.Signature {
		t.Fatalf("digest is not stable across recomputation: %s != %s", again, p.Signature)
	}
}

func TestDigestKnownVector(t *testing.T) {
	// A fixed packet with every field pinned, asserting the hash algorithm
	// itself (not just round-trip stability) stays bit-exact.
	p := types.Packet{
		ID:               "1700000000000-abc123",
		Type:             types.Message,
		SenderID:         "AAAAAAAA",
		OriginalSenderID: "AAAAAAAA",
		TargetID:         "BBBBBBBB",
		Payload:          "hello",
		Timestamp:        1700000000000,
		TTL:              10,
		Hops:             []string{"AAAAAAAA"},
	}
	s, err := CanonicalString(p)
	if err != nil {
		t.Fatalf("CanonicalString: %v", err)
	}
	got := digestString(s)
	const want = "01d87481"
	if got != want {
		t.Fatalf("digest mismatch: %s != %s", got, want)
	}
	if len(got) != 8 {
		t.Fatalf("expected 8 hex chars, got %d (%s)", len(got), got)
	}
}

func TestVerifyRejectsBitFlip(t *testing.T) {
	p, err := NewOriginPacket(types.Message, "AAAAAAAA", "BBBBBBBB", "hello", types.MaxTTL)
	if err != nil {
		t.Fatalf("NewOriginPacket: %v", err)
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	// Flip one bit within the payload content, away from any JSON
	// structural character, and confirm the mutated packet no longer
	// verifies.
	mutated := append([]byte(nil), b...)
	for i, c := range mutated {
		if c == 'h' { // first byte of "hello"
			mutated[i] ^= 0x01
			break
		}
	}

	decoded, err := Decode(mutated)
	if err != nil {
		t.Fatalf("Decode of mutated bytes: %v", err)
	}
	if Verify(decoded) {
		t.Fatalf("expected mutated packet to fail verification")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p, err := NewOriginPacket(types.Announce, "AAAAAAAA", types.WildcardTarget, `{"name":"phone"}`, types.MaxTTL)
	if err != nil {
		t.Fatalf("NewOriginPacket: %v", err)
	}
	b, err := Encode(p)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, p) {
		t.Fatalf("round trip changed the packet: %#v != %#v", decoded, p)
	}
	if !Verify(decoded) {
		t.Fatalf("expected decoded packet to still verify")
	}
}

func TestDecodeRejectsMalformedJSON(t *testing.T) {
	_, err := Decode([]byte(`{"id": not json`))
	if err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestDecodeRejectsOversizePacket(t *testing.T) {
	huge := make([]byte, types.MaxPacketSize+1)
	for i := range huge {
		huge[i] = 'a'
	}
	_, err := Decode(huge)
	if err == nil {
		t.Fatalf("expected oversize rejection")
	}
}

func TestRelayDecrementsTTLAndAppendsHop(t *testing.T) {
	p, err := NewOriginPacket(types.Message, "AAAAAAAA", "CCCCCCCC", "hi", types.MaxTTL)
	if err != nil {
		t.Fatalf("NewOriginPacket: %v", err)
	}
	r, err := Relay(p, "BBBBBBBB")
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if r.TTL != p.TTL-1 {
		t.Fatalf("expected ttl %d, got %d", p.TTL-1, r.TTL)
	}
	if len(r.Hops) != len(p.Hops)+1 || r.Hops[len(r.Hops)-1] != "BBBBBBBB" {
		t.Fatalf("expected hops to gain relayer at the end, got %v", r.Hops)
	}
	if p.HasHop("BBBBBBBB") {
		t.Fatalf("original packet must not be mutated by Relay")
	}
	if !Verify(r) {
		t.Fatalf("relayed packet must verify")
	}
}
