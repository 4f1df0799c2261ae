// Package codec implements the wire packet codec and the 32-bit integrity
// digest described in spec.md §4.1. The digest algorithm must stay
// bit-identical to the reference implementation or peers running a
// different implementation will reject every packet this node sends.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// canonicalPacket is the wire shape used to build the canonical string form:
// identical to types.Packet but with the signature field entirely absent
// (not merely empty), matching spec.md §4.1's "signature field absent"
// requirement. Field order mirrors types.Packet's declaration order, and
// Go's encoding/json marshals struct fields in declaration order, so this
// produces a stable canonical form across runs and across independent
// implementations that serialize struct fields in their declared order.
type canonicalPacket struct {
	ID               string          `json:"id"`
	Type             types.PacketType `json:"type"`
	SenderID         string          `json:"senderId"`
	OriginalSenderID string          `json:"originalSenderId"`
	TargetID         string          `json:"targetId"`
	Payload          string          `json:"payload"`
	Timestamp        int64           `json:"timestamp"`
	TTL              int             `json:"ttl"`
	Hops             []string        `json:"hops"`
}

func toCanonical(p types.Packet) canonicalPacket {
	return canonicalPacket{
		ID:               p.ID,
		Type:             p.Type,
		SenderID:         p.SenderID,
		OriginalSenderID: p.OriginalSenderID,
		TargetID:         p.TargetID,
		Payload:          p.Payload,
		Timestamp:        p.Timestamp,
		TTL:              p.TTL,
		Hops:             p.Hops,
	}
}

// CanonicalString returns the canonical JSON string form of p used as the
// digest input: p serialized with the signature field entirely absent.
func CanonicalString(p types.Packet) (string, error) {
	b, err := json.Marshal(toCanonical(p))
	if err != nil {
		return "", fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	return string(b), nil
}

// Digest computes spec.md §4.1's 32-bit rolling hash over the canonical
// string form of p, returned as lowercase hex, zero-padded to 8 characters.
//
// Algorithm (required bit-exact for cross-implementation compatibility):
// h starts at 0; for each code point c of the canonical string,
// h = ((h << 5) - h) + c, then mask to signed 32-bit; the final tag is the
// absolute value of h.
func Digest(p types.Packet) (string, error) {
	s, err := CanonicalString(p)
	if err != nil {
		return "", err
	}
	return digestString(s), nil
}

func digestString(s string) string {
	var h int32
	for _, c := range s {
		h = (h << 5) - h + c
	}
	var abs uint32
	if h < 0 {
		abs = uint32(-int64(h))
	} else {
		abs = uint32(h)
	}
	return fmt.Sprintf("%08x", abs)
}

// Sign computes and sets p.Signature, returning the signed packet.
func Sign(p types.Packet) (types.Packet, error) {
	tag, err := Digest(p)
	if err != nil {
		return p, err
	}
	p.Signature = tag
	return p, nil
}

// Verify recomputes the digest over p (ignoring its current Signature
// field) and reports whether it matches p.Signature.
func Verify(p types.Packet) bool {
	tag, err := Digest(p)
	if err != nil {
		return false
	}
	return tag == p.Signature
}

// Encode serializes p to its wire form (full JSON object, signature
// included) and enforces spec.md §6's maximum packet size.
func Encode(p types.Packet) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	if len(b) > types.MaxPacketSize {
		return nil, types.ErrPacketTooLarge
	}
	return b, nil
}

// Decode parses the wire form produced by Encode. It does not verify the
// signature; callers verify separately so that verification failures and
// structural failures remain distinguishable per spec.md §7.
func Decode(b []byte) (types.Packet, error) {
	if len(b) > types.MaxPacketSize {
		return types.Packet{}, types.ErrPacketTooLarge
	}
	var p types.Packet
	if err := json.Unmarshal(b, &p); err != nil {
		return types.Packet{}, fmt.Errorf("%w: %v", types.ErrMalformedPacket, err)
	}
	if err := structuralCheck(p); err != nil {
		return types.Packet{}, err
	}
	return p, nil
}

// structuralCheck enforces spec.md §3's packet invariants that are cheap to
// check before integrity verification: hops is non-empty and its first
// element is the original sender, and ttl is non-negative.
func structuralCheck(p types.Packet) error {
	if p.TTL < 0 {
		return fmt.Errorf("%w: negative ttl", types.ErrMalformedPacket)
	}
	if len(p.Hops) == 0 {
		return fmt.Errorf("%w: empty hops", types.ErrMalformedPacket)
	}
	if p.Hops[0] != p.OriginalSenderID {
		return fmt.Errorf("%w: hops[0] != originalSenderId", types.ErrMalformedPacket)
	}
	return nil
}
