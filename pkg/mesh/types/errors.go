package types

import "errors"

// Sentinel error kinds, per spec.md §7.
var (
	// ErrMalformedPacket is returned by the codec on any structural decode
	// failure, and by the routing engine when a packet fails integrity
	// verification.
	ErrMalformedPacket = errors.New("mesh: malformed packet")

	// ErrPacketTooLarge is returned when a serialized packet exceeds
	// MaxPacketSize.
	ErrPacketTooLarge = errors.New("mesh: packet exceeds maximum size")

	// ErrTransportUnavailable is returned when the selector has no
	// transport to offer, or every attempted transport failed.
	ErrTransportUnavailable = errors.New("mesh: no transport available")

	// ErrDurableStore wraps any durable-store read/write failure.
	ErrDurableStore = errors.New("mesh: durable store error")

	// ErrIdentityUnavailable is returned by initialize() when a stable
	// node identifier could not be produced or loaded; fatal to init.
	ErrIdentityUnavailable = errors.New("mesh: identity unavailable")

	// ErrCommandUnknown is returned when a component is asked to handle a
	// command/operation kind it does not recognize.
	ErrCommandUnknown = errors.New("mesh: unknown command")
)
