package codec

import (
	"time"

	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/idutil"
	"github.com/tandm3035-ship-it/mesh-reach/pkg/mesh/types"
)

// NewOriginPacket builds and signs a freshly originated packet: hops starts
// as [originID], ttl is maxTTL, sender and original sender are both
// originID.
func NewOriginPacket(kind types.PacketType, originID, targetID, payload string, maxTTL int) (types.Packet, error) {
	p := types.Packet{
		ID:               idutil.NewPacketID(),
		Type:             kind,
		SenderID:         originID,
		OriginalSenderID: originID,
		TargetID:         targetID,
		Payload:          payload,
		Timestamp:        time.Now().UnixMilli(),
		TTL:              maxTTL,
		Hops:             []string{originID},
	}
	return Sign(p)
}

// Relay builds the packet a node emits when forwarding p onward: the
// sender becomes localID, ttl is decremented, localID is appended to hops,
// and the digest is recomputed. The caller (routing engine) is responsible
// for checking should-relay preconditions first.
func Relay(p types.Packet, localID string) (types.Packet, error) {
	r := p.Clone()
	r.SenderID = localID
	r.TTL--
	r.Hops = append(r.Hops, localID)
	return Sign(r)
}

// NewAck builds the ACK packet sent back toward a MESSAGE packet's
// original sender: payload is the acknowledged packet's id, target is the
// origin, ttl is reset to the maximum.
func NewAck(localID string, acked types.Packet, maxTTL int) (types.Packet, error) {
	return NewOriginPacket(types.Ack, localID, acked.OriginalSenderID, acked.ID, maxTTL)
}
